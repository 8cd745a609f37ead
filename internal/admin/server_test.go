package admin_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/dantte-lp/gofpm/internal/admin"
	"github.com/dantte-lp/gofpm/internal/dataplane"
	"github.com/dantte-lp/gofpm/internal/fpm"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// newServer wires a real (disabled) session behind the admin handler.
func newServer(t *testing.T) (*httptest.Server, *fpm.Session) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	eng := dataplane.New(logger)
	eng.Start()
	sess := fpm.NewSession(logger, eng, fpm.WithReconnectDelay(time.Hour))
	if _, err := eng.RegisterProvider(fpm.ProviderName, sess); err != nil {
		t.Fatalf("register provider: %v", err)
	}
	t.Cleanup(eng.Stop)

	_, handler := admin.New(logger, sess)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	t.Cleanup(http.DefaultClient.CloseIdleConnections)
	return srv, sess
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t)
	resp := doJSON(t, http.MethodGet, srv.URL+"/v1/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d", resp.StatusCode)
	}

	var st admin.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.State != "Disabled" {
		t.Errorf("state = %q, want Disabled", st.State)
	}
	if !st.Disabled {
		t.Error("fresh session must report disabled")
	}
	if st.Port != 2620 {
		t.Errorf("port = %d, want the default 2620", st.Port)
	}
	if !st.UseNextHopGroups {
		t.Error("nexthop groups default on")
	}
}

func TestCountersEndpointKeys(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t)
	resp := doJSON(t, http.MethodGet, srv.URL+"/v1/counters", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d", resp.StatusCode)
	}

	var m map[string]uint32
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{
		"bytes-read", "bytes-sent", "obuf-bytes", "obuf-bytes-peak",
		"connection-closes", "connection-errors", "data-plane-contexts",
		"data-plane-contexts-queue", "data-plane-contexts-queue-peak",
		"buffer-full-hits", "user-configures", "user-disables",
	} {
		if _, ok := m[key]; !ok {
			t.Errorf("counters JSON missing key %q", key)
		}
	}
}

func TestCountersReset(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t)
	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/counters/reset", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status code = %d, want 204", resp.StatusCode)
	}
}

func TestSetAddress(t *testing.T) {
	t.Parallel()

	srv, sess := newServer(t)
	resp := doJSON(t, http.MethodPut, srv.URL+"/v1/address",
		admin.AddressRequest{Address: "192.0.2.10", Port: 2621})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status code = %d, want 204", resp.StatusCode)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		ap := sess.Address()
		if ap.Addr().String() == "192.0.2.10" && ap.Port() == 2621 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("address not applied: %s", sess.Address())
}

func TestSetAddressValidation(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t)
	resp := doJSON(t, http.MethodPut, srv.URL+"/v1/address",
		admin.AddressRequest{Address: "not-an-ip"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status code = %d, want 400", resp.StatusCode)
	}

	var apiErr map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if apiErr["error"] == "" {
		t.Error("error body must carry a message")
	}
}

func TestUnsetAddressDisables(t *testing.T) {
	t.Parallel()

	srv, sess := newServer(t)
	resp := doJSON(t, http.MethodDelete, srv.URL+"/v1/address", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status code = %d, want 204", resp.StatusCode)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if sess.CountersSnapshot().UserDisables >= 1 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("disable never reached the session")
}

func TestNexthopGroupsToggle(t *testing.T) {
	t.Parallel()

	srv, sess := newServer(t)
	resp := doJSON(t, http.MethodPut, srv.URL+"/v1/nexthop-groups",
		admin.NexthopGroupsRequest{Enabled: false})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status code = %d, want 204", resp.StatusCode)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !sess.UseNextHopGroups() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("nexthop-group toggle never applied")
}
