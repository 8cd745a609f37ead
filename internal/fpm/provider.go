package fpm

import (
	"github.com/dantte-lp/gofpm/internal/dataplane"
)

// The session is itself the dataplane provider implementation: Process
// runs on the engine loop on every work tick, everything else on the
// plugin loop or the I/O goroutines.
var _ dataplane.ProviderImpl = (*Session)(nil)

// Start stores the provider handle and launches the plugin loop.
func (s *Session) Start(p *dataplane.Provider) error {
	s.dp = p
	s.loop.Start()
	return nil
}

// Process drains up to the work limit of contexts from the provider input
// queue. While the connection is up, contexts move to the internal queue
// for the plugin loop to stream; otherwise they are completed immediately,
// because the post-connect replay reconstructs the peer state anyway.
// Engine loop only.
func (s *Session) Process(p *dataplane.Provider) {
	limit := p.WorkLimit()
	var peak uint32

	count := 0
	for ; count < limit; count++ {
		ctx := p.DequeueIn()
		if ctx == nil {
			break
		}

		if s.State().online() {
			// Bump the queue counter before the enqueue so it never
			// under-reports the queue length.
			s.counters.CtxqueueLen.Add(1)
			s.ctxq.Enqueue(ctx)

			if cur := s.counters.CtxqueueLen.Load(); peak < cur {
				peak = cur
			}
			continue
		}

		ctx.Status = dataplane.StatusSuccess
		p.EnqueueOut(ctx)
	}

	// Store the peak only when this tick actually observed a new one.
	if stored := s.counters.CtxqueueLenPeak.Load(); stored < peak {
		s.counters.CtxqueueLenPeak.Store(peak)
	}

	if s.counters.CtxqueueLen.Load() > 0 {
		s.armDequeue()
	}

	// Ask for another tick if the work limit cut the drain short.
	if count >= limit {
		p.WorkReady()
	}
}

// Finish tears the session down. The early phase disables the session,
// kills the socket I/O immediately, and queues the full teardown; the late
// phase stops the plugin loop, which drains that teardown first.
func (s *Session) Finish(p *dataplane.Provider, early bool) {
	if early {
		s.disabled.Store(true)
		s.connGen.Add(1)
		s.closeIO()
		s.loop.Schedule(func() { s.reconnect() })
		return
	}
	s.loop.Stop()
}
