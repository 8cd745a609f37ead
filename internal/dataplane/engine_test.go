package dataplane_test

import (
	"io"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/dantte-lp/gofpm/internal/dataplane"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// flush waits until every previously scheduled engine task ran.
func flush(t *testing.T, eng *dataplane.Engine) {
	t.Helper()
	done := make(chan struct{})
	eng.Schedule(func() { close(done) })
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("engine loop stalled")
	}
}

// recordingProvider completes every context successfully and remembers
// the operations it saw.
type recordingProvider struct {
	mu  sync.Mutex
	ops []dataplane.Op
}

func (r *recordingProvider) Start(*dataplane.Provider) error { return nil }

func (r *recordingProvider) Process(p *dataplane.Provider) {
	for i := 0; i < p.WorkLimit(); i++ {
		ctx := p.DequeueIn()
		if ctx == nil {
			return
		}
		r.mu.Lock()
		r.ops = append(r.ops, ctx.Op)
		r.mu.Unlock()
		ctx.Status = dataplane.StatusSuccess
		p.EnqueueOut(ctx)
	}
	if p.InLen() > 0 {
		p.WorkReady()
	}
}

func (r *recordingProvider) Finish(*dataplane.Provider, bool) {}

func (r *recordingProvider) seen() []dataplane.Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]dataplane.Op(nil), r.ops...)
}

func newEngine(t *testing.T, opts ...dataplane.Option) (*dataplane.Engine, *recordingProvider) {
	t.Helper()
	eng := dataplane.New(testLogger(), opts...)
	eng.Start()
	t.Cleanup(eng.Stop)

	rec := &recordingProvider{}
	if _, err := eng.RegisterProvider("recorder", rec); err != nil {
		t.Fatalf("register provider: %v", err)
	}
	return eng, rec
}

func TestRouteLifecycleOps(t *testing.T) {
	t.Parallel()

	eng, rec := newEngine(t)
	prefix := netip.MustParsePrefix("10.0.0.0/24")
	entry := &dataplane.RouteEntry{Proto: dataplane.ProtoBGP}

	eng.AddRoute(254, 0, prefix, entry)
	eng.AddRoute(254, 0, prefix, &dataplane.RouteEntry{Proto: dataplane.ProtoBGP})
	eng.DeleteRoute(254, prefix)

	waitFor(t, func() bool { return len(rec.seen()) == 3 }, "three contexts")
	ops := rec.seen()
	want := []dataplane.Op{
		dataplane.OpRouteInstall,
		dataplane.OpRouteUpdate,
		dataplane.OpRouteDelete,
	}
	for i, op := range want {
		if ops[i] != op {
			t.Errorf("op[%d] = %v, want %v", i, ops[i], op)
		}
	}
}

func TestSuccessfulInstallMarksStreamed(t *testing.T) {
	t.Parallel()

	eng, rec := newEngine(t)
	prefix := netip.MustParsePrefix("10.0.0.0/24")
	eng.AddRoute(254, 0, prefix, &dataplane.RouteEntry{Proto: dataplane.ProtoBGP})

	waitFor(t, func() bool { return len(rec.seen()) == 1 }, "install processed")

	// The completed install marks the destination, so a replay walk
	// skips it until the next flag reset.
	marked := make(chan bool, 1)
	eng.Schedule(func() {
		found := false
		eng.WalkRIB(func(d *dataplane.Dest) bool {
			if d.Prefix == prefix {
				found = d.Sent()
			}
			return true
		})
		marked <- found
	})
	if !<-marked {
		t.Error("completed install did not mark the destination as streamed")
	}

	// And the reset clears it again.
	cleared := make(chan bool, 1)
	eng.Schedule(func() {
		eng.ResetRIBSent()
		state := true
		eng.WalkRIB(func(d *dataplane.Dest) bool {
			state = d.Sent()
			return true
		})
		cleared <- !state
	})
	if !<-cleared {
		t.Error("flag reset left the destination marked")
	}
}

func TestWalksAreSorted(t *testing.T) {
	t.Parallel()

	eng, _ := newEngine(t)

	eng.AddLSP(&dataplane.LSP{InLabel: 300, Proto: dataplane.ProtoLDP,
		Nexthops: []dataplane.LSPNexthop{{IfIndex: 1}}})
	eng.AddLSP(&dataplane.LSP{InLabel: 100, Proto: dataplane.ProtoLDP,
		Nexthops: []dataplane.LSPNexthop{{IfIndex: 1}}})
	eng.AddLSP(&dataplane.LSP{InLabel: 200, Proto: dataplane.ProtoLDP,
		Nexthops: []dataplane.LSPNexthop{{IfIndex: 1}}})
	flush(t, eng)

	labels := make(chan []uint32, 1)
	eng.Schedule(func() {
		var got []uint32
		eng.WalkLSPs(func(l *dataplane.LSP) bool {
			got = append(got, l.InLabel)
			return true
		})
		labels <- got
	})
	got := <-labels
	if len(got) != 3 || got[0] != 100 || got[1] != 200 || got[2] != 300 {
		t.Errorf("LSP walk order = %v, want ascending labels", got)
	}
}

func TestEncapSourceAddr(t *testing.T) {
	t.Parallel()

	eng, _ := newEngine(t)
	eng.AddInterface("lo", 1, dataplane.DefaultVRFID)
	eng.AddInterfaceAddr("lo", 1, dataplane.DefaultVRFID, netip.MustParsePrefix("::1/128"))
	eng.AddInterfaceAddr("lo", 1, dataplane.DefaultVRFID, netip.MustParsePrefix("fe80::1/64"))
	flush(t, eng)

	// Loopback and link-local addresses never qualify.
	if got := eng.EncapSourceAddr(); got.IsValid() {
		t.Errorf("encap source = %s, want none", got)
	}

	eng.AddInterfaceAddr("lo", 1, dataplane.DefaultVRFID, netip.MustParsePrefix("2001:db8::7/128"))
	flush(t, eng)
	if got := eng.EncapSourceAddr(); got != netip.MustParseAddr("2001:db8::7") {
		t.Errorf("encap source = %s, want 2001:db8::7", got)
	}
}

func TestVRFNameByTableID(t *testing.T) {
	t.Parallel()

	eng, _ := newEngine(t)
	eng.AddVRF(7, "red", 100)
	flush(t, eng)

	name, ok := eng.VRFNameByTableID(100)
	if !ok || name != "red" {
		t.Errorf("lookup(100) = %q/%t, want red/true", name, ok)
	}
	if _, ok := eng.VRFNameByTableID(999); ok {
		t.Error("lookup(999) must miss")
	}
}

func TestVRFNetNSBackendNeverMatches(t *testing.T) {
	t.Parallel()

	eng, _ := newEngine(t, dataplane.WithVRFBackend(dataplane.VRFBackendNetNS))
	eng.AddVRF(7, "red", 100)
	flush(t, eng)

	if _, ok := eng.VRFNameByTableID(100); ok {
		t.Error("netns backend must not resolve VRFs by table id")
	}
}

func TestRouterMACLifecycle(t *testing.T) {
	t.Parallel()

	eng, rec := newEngine(t)
	mac, _ := net.ParseMAC("02:aa:bb:cc:dd:01")

	eng.AddL3VNI(&dataplane.L3VNI{VNI: 10100, VxlanIfIndex: 9, BridgeIfIndex: 8})
	eng.AddRouterMAC(10100, &dataplane.RMAC{
		Addr: mac,
		VTEP: netip.MustParseAddr("203.0.113.9"),
	})
	eng.DeleteRouterMAC(10100, mac)

	waitFor(t, func() bool { return len(rec.seen()) == 2 }, "two MAC contexts")
	ops := rec.seen()
	if ops[0] != dataplane.OpMACInstall || ops[1] != dataplane.OpMACDelete {
		t.Errorf("ops = %v, want [MACInstall MACDelete]", ops)
	}
}

func TestSRv6RouteSentReset(t *testing.T) {
	t.Parallel()

	eng, rec := newEngine(t)
	plain := netip.MustParsePrefix("10.0.0.0/24")
	vpn := netip.MustParsePrefix("2001:db8::/48")

	eng.AddRoute(254, 0, plain, &dataplane.RouteEntry{Proto: dataplane.ProtoBGP})
	eng.AddRoute(254, 0, vpn, &dataplane.RouteEntry{
		Proto: dataplane.ProtoBGP,
		NHG: dataplane.NexthopGroup{Nexthops: []dataplane.Nexthop{{
			SRv6: &dataplane.SRv6Nexthop{Segs: netip.MustParseAddr("fc00::1")},
		}}},
	})
	waitFor(t, func() bool { return len(rec.seen()) == 2 }, "both installs processed")

	state := make(chan map[netip.Prefix]bool, 1)
	eng.Schedule(func() {
		eng.ResetSRv6RouteSent()
		m := make(map[netip.Prefix]bool)
		eng.WalkRIB(func(d *dataplane.Dest) bool {
			m[d.Prefix] = d.Sent()
			return true
		})
		state <- m
	})
	m := <-state
	if !m[plain] {
		t.Error("plain route lost its streamed flag on an SRv6-only reset")
	}
	if m[vpn] {
		t.Error("SRv6 route kept its streamed flag across the reset")
	}
}
