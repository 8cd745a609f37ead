// Package fpmmetrics exposes the FPM core counters to Prometheus.
package fpmmetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dantte-lp/gofpm/internal/fpm"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "gofpm"
	subsystem = "fpm"
)

// -------------------------------------------------------------------------
// Collector — Prometheus FPM Metrics
// -------------------------------------------------------------------------

// Collector bridges the session's atomic counters into Prometheus. It
// snapshots the counters on every scrape, so it never adds work to the
// streaming paths.
type Collector struct {
	session *fpm.Session

	bytesRead        *prometheus.Desc
	bytesSent        *prometheus.Desc
	obufBytes        *prometheus.Desc
	obufPeak         *prometheus.Desc
	connectionCloses *prometheus.Desc
	connectionErrors *prometheus.Desc
	dplaneContexts   *prometheus.Desc
	ctxqueueLen      *prometheus.Desc
	ctxqueuePeak     *prometheus.Desc
	bufferFull       *prometheus.Desc
	userConfigures   *prometheus.Desc
	userDisables     *prometheus.Desc
	connectionState  *prometheus.Desc
}

// verify interface compliance at compile time.
var _ prometheus.Collector = (*Collector)(nil)

// desc builds a metric descriptor under the gofpm_fpm_ prefix.
func desc(name, help string) *prometheus.Desc {
	return prometheus.NewDesc(
		prometheus.BuildFQName(namespace, subsystem, name), help, nil, nil)
}

// NewCollector creates a Collector over the session and registers it with
// reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(session *fpm.Session, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		session:          session,
		bytesRead:        desc("bytes_read_total", "Bytes read from the FPM peer."),
		bytesSent:        desc("bytes_sent_total", "Bytes written to the FPM peer."),
		obufBytes:        desc("output_buffer_bytes", "Output buffer current usage."),
		obufPeak:         desc("output_buffer_peak_bytes", "Output buffer peak usage."),
		connectionCloses: desc("connection_closes_total", "Connections closed by the peer."),
		connectionErrors: desc("connection_errors_total", "Connect, read and write failures."),
		dplaneContexts:   desc("dataplane_contexts_total", "Dataplane contexts processed."),
		ctxqueueLen:      desc("context_queue_length", "Dataplane contexts currently queued."),
		ctxqueuePeak:     desc("context_queue_peak", "Peak queued dataplane contexts."),
		bufferFull:       desc("buffer_full_total", "Output buffer admission failures."),
		userConfigures:   desc("user_configures_total", "Operator reconnect/configure requests."),
		userDisables:     desc("user_disables_total", "Operator disable requests."),
		connectionState:  desc("connection_state", "Connection state machine state (enumeration value)."),
	}

	reg.MustRegister(c)
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.bytesRead
	ch <- c.bytesSent
	ch <- c.obufBytes
	ch <- c.obufPeak
	ch <- c.connectionCloses
	ch <- c.connectionErrors
	ch <- c.dplaneContexts
	ch <- c.ctxqueueLen
	ch <- c.ctxqueuePeak
	ch <- c.bufferFull
	ch <- c.userConfigures
	ch <- c.userDisables
	ch <- c.connectionState
}

// Collect implements prometheus.Collector by snapshotting the counters.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.session.CountersSnapshot()

	counter := func(d *prometheus.Desc, v uint32) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	gauge := func(d *prometheus.Desc, v uint32) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, float64(v))
	}

	counter(c.bytesRead, snap.BytesRead)
	counter(c.bytesSent, snap.BytesSent)
	gauge(c.obufBytes, snap.ObufBytes)
	gauge(c.obufPeak, snap.ObufPeak)
	counter(c.connectionCloses, snap.ConnectionCloses)
	counter(c.connectionErrors, snap.ConnectionErrors)
	counter(c.dplaneContexts, snap.DplaneContexts)
	gauge(c.ctxqueueLen, snap.CtxqueueLen)
	gauge(c.ctxqueuePeak, snap.CtxqueueLenPeak)
	counter(c.bufferFull, snap.BufferFull)
	counter(c.userConfigures, snap.UserConfigures)
	counter(c.userDisables, snap.UserDisables)

	ch <- prometheus.MustNewConstMetric(c.connectionState, prometheus.GaugeValue,
		float64(c.session.State()))
}
