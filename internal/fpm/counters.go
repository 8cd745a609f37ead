package fpm

import "sync/atomic"

// Counters is the advisory statistics block. All fields are relaxed
// atomics: they are observational only and never synchronize anything.
type Counters struct {
	// BytesRead counts bytes read from the peer into the input buffer.
	BytesRead atomic.Uint32
	// BytesSent counts bytes written from the output buffer to the peer.
	BytesSent atomic.Uint32
	// ObufBytes tracks the output buffer's current usage.
	ObufBytes atomic.Uint32
	// ObufPeak tracks the output buffer's peak usage.
	ObufPeak atomic.Uint32

	// ConnectionCloses counts peer-initiated connection closes.
	ConnectionCloses atomic.Uint32
	// ConnectionErrors counts connect, read and write failures.
	ConnectionErrors atomic.Uint32

	// UserConfigures counts operator reconnect/configure requests.
	UserConfigures atomic.Uint32
	// UserDisables counts operator disable requests.
	UserDisables atomic.Uint32

	// DplaneContexts counts dataplane contexts processed off the queue.
	DplaneContexts atomic.Uint32
	// CtxqueueLen tracks the context queue length. It is incremented
	// before the matching enqueue, so it never under-reports.
	CtxqueueLen atomic.Uint32
	// CtxqueueLenPeak tracks the context queue peak length.
	CtxqueueLenPeak atomic.Uint32

	// BufferFull counts output-buffer admission failures.
	BufferFull atomic.Uint32
}

// Reset zeroes every counter.
func (c *Counters) Reset() {
	c.BytesRead.Store(0)
	c.BytesSent.Store(0)
	c.ObufBytes.Store(0)
	c.ObufPeak.Store(0)
	c.ConnectionCloses.Store(0)
	c.ConnectionErrors.Store(0)
	c.UserConfigures.Store(0)
	c.UserDisables.Store(0)
	c.DplaneContexts.Store(0)
	c.CtxqueueLen.Store(0)
	c.CtxqueueLenPeak.Store(0)
	c.BufferFull.Store(0)
}

// CountersSnapshot is a point-in-time copy of the counters. The JSON keys
// are part of the operator interface and must not change.
type CountersSnapshot struct {
	BytesRead        uint32 `json:"bytes-read"`
	BytesSent        uint32 `json:"bytes-sent"`
	ObufBytes        uint32 `json:"obuf-bytes"`
	ObufPeak         uint32 `json:"obuf-bytes-peak"`
	ConnectionCloses uint32 `json:"connection-closes"`
	ConnectionErrors uint32 `json:"connection-errors"`
	DplaneContexts   uint32 `json:"data-plane-contexts"`
	CtxqueueLen      uint32 `json:"data-plane-contexts-queue"`
	CtxqueueLenPeak  uint32 `json:"data-plane-contexts-queue-peak"`
	BufferFull       uint32 `json:"buffer-full-hits"`
	UserConfigures   uint32 `json:"user-configures"`
	UserDisables     uint32 `json:"user-disables"`
}

// Snapshot reads every counter once.
func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		BytesRead:        c.BytesRead.Load(),
		BytesSent:        c.BytesSent.Load(),
		ObufBytes:        c.ObufBytes.Load(),
		ObufPeak:         c.ObufPeak.Load(),
		ConnectionCloses: c.ConnectionCloses.Load(),
		ConnectionErrors: c.ConnectionErrors.Load(),
		DplaneContexts:   c.DplaneContexts.Load(),
		CtxqueueLen:      c.CtxqueueLen.Load(),
		CtxqueueLenPeak:  c.CtxqueueLenPeak.Load(),
		BufferFull:       c.BufferFull.Load(),
		UserConfigures:   c.UserConfigures.Load(),
		UserDisables:     c.UserDisables.Load(),
	}
}
