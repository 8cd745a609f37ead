package fpmmetrics_test

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/dantte-lp/gofpm/internal/dataplane"
	"github.com/dantte-lp/gofpm/internal/fpm"
	fpmmetrics "github.com/dantte-lp/gofpm/internal/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCollectorScrape(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := dataplane.New(logger)
	eng.Start()
	sess := fpm.NewSession(logger, eng, fpm.WithReconnectDelay(time.Hour))
	if _, err := eng.RegisterProvider(fpm.ProviderName, sess); err != nil {
		t.Fatalf("register provider: %v", err)
	}
	t.Cleanup(eng.Stop)

	reg := prometheus.NewRegistry()
	c := fpmmetrics.NewCollector(sess, reg)

	if got := testutil.CollectAndCount(c); got != 13 {
		t.Errorf("collector exposes %d metrics, want 13", got)
	}

	// A fresh, disabled session scrapes clean zeros.
	expected := `
# HELP gofpm_fpm_bytes_sent_total Bytes written to the FPM peer.
# TYPE gofpm_fpm_bytes_sent_total counter
gofpm_fpm_bytes_sent_total 0
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"gofpm_fpm_bytes_sent_total"); err != nil {
		t.Errorf("scrape mismatch: %v", err)
	}
}

func TestCollectorRegistersOnce(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := dataplane.New(logger)
	eng.Start()
	sess := fpm.NewSession(logger, eng, fpm.WithReconnectDelay(time.Hour))
	if _, err := eng.RegisterProvider(fpm.ProviderName, sess); err != nil {
		t.Fatalf("register provider: %v", err)
	}
	t.Cleanup(eng.Stop)

	reg := prometheus.NewRegistry()
	fpmmetrics.NewCollector(sess, reg)

	// Gathering through the registry proves registration worked.
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Error("registry gathered no metric families")
	}
}
