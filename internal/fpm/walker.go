package fpm

import (
	"errors"
	"time"

	"github.com/dantte-lp/gofpm/internal/dataplane"
	"github.com/dantte-lp/gofpm/internal/runloop"
)

// Replay resume delays after a buffer-full suspension. The small tables
// retry immediately; the RIB and router-MAC walks back off long enough for
// the writer to drain a meaningful amount.
const (
	lspResumeDelay  = 0
	nhgResumeDelay  = 0
	ribResumeDelay  = time.Second
	rmacResumeDelay = time.Second
)

// The reconciliation walker replays the engine tables to a freshly
// connected peer in fixed order: LSPs, nexthop groups, RIB, router MACs.
// Each phase clears the per-object streamed flags, then iterates the
// table, enqueueing every unstreamed object and marking it. A full output
// buffer aborts the iteration; already-marked objects keep their flag, so
// the rescheduled walk resumes where it stopped.
//
// Every callback runs on the engine loop and carries the connection epoch
// it was scheduled for; a reconnect makes older callbacks inert.

// startReplay kicks off the replay chain. Engine loop only.
func (s *Session) startReplay(gen uint64) {
	if s.connGen.Load() != gen {
		return
	}
	s.eng.Loop().Arm(&s.tLSPReset, 0, func() { s.lspReset(gen) })
}

// cancelWalker disarms every replay task. Engine loop only.
func (s *Session) cancelWalker() {
	runloop.Disarm(&s.tLSPReset)
	runloop.Disarm(&s.tLSPWalk)
	runloop.Disarm(&s.tNHGReset)
	runloop.Disarm(&s.tNHGWalk)
	runloop.Disarm(&s.tRIBReset)
	runloop.Disarm(&s.tRIBWalk)
	runloop.Disarm(&s.tRMACReset)
	runloop.Disarm(&s.tRMACWalk)
}

// -------------------------------------------------------------------------
// LSP phase
// -------------------------------------------------------------------------

func (s *Session) lspReset(gen uint64) {
	if s.connGen.Load() != gen {
		return
	}
	s.state.Store(int32(StateReplayLSP))
	s.eng.ResetLSPSent()
	s.eng.Loop().Arm(&s.tLSPWalk, 0, func() { s.lspSend(gen) })
}

func (s *Session) lspSend(gen uint64) {
	if s.connGen.Load() != gen {
		return
	}
	ctx := dataplane.NewContext()
	defer dataplane.FreeContext(ctx)

	complete := true
	s.eng.WalkLSPs(func(l *dataplane.LSP) bool {
		// Skip entries which have already been streamed.
		if l.Sent() {
			return true
		}
		ctx.Reset()
		s.eng.FillLSPContext(ctx, l, dataplane.OpLSPInstall)
		if err := s.enqueue(ctx); err != nil {
			if errors.Is(err, ErrBufferFull) {
				complete = false
				return false
			}
			// Encode failure: drop the LSP this round, leave it
			// unmarked.
			return true
		}
		l.MarkSent(true)
		return true
	})

	if complete {
		s.ScheduleEvent(EventLSPFinished)
		s.eng.Loop().Arm(&s.tNHGReset, 0, func() { s.nhgReset(gen) })
	} else {
		s.eng.Loop().Arm(&s.tLSPWalk, lspResumeDelay, func() { s.lspSend(gen) })
	}
}

// -------------------------------------------------------------------------
// Nexthop-group phase
// -------------------------------------------------------------------------

func (s *Session) nhgReset(gen uint64) {
	if s.connGen.Load() != gen {
		return
	}
	s.state.Store(int32(StateReplayNHG))
	s.eng.ResetNexthopGroupSent()
	s.eng.Loop().Arm(&s.tNHGWalk, 0, func() { s.nhgSend(gen) })
}

func (s *Session) nhgSend(gen uint64) {
	if s.connGen.Load() != gen {
		return
	}
	ctx := dataplane.NewContext()
	defer dataplane.FreeContext(ctx)

	complete := true
	if s.useNHG.Load() {
		s.eng.WalkNexthopGroups(func(nhe *dataplane.NHGEntry) bool {
			if nhe.Sent() {
				return true
			}
			ctx.Reset()
			s.eng.FillNexthopContext(ctx, nhe, dataplane.OpNexthopInstall)
			if err := s.enqueue(ctx); err != nil {
				if errors.Is(err, ErrBufferFull) {
					complete = false
					return false
				}
				return true
			}
			nhe.MarkSent(true)
			return true
		})
	}

	if complete {
		s.ScheduleEvent(EventNHGFinished)
		s.eng.Loop().Arm(&s.tRIBReset, 0, func() { s.ribReset(gen) })
	} else {
		s.eng.Loop().Arm(&s.tNHGWalk, nhgResumeDelay, func() { s.nhgSend(gen) })
	}
}

// -------------------------------------------------------------------------
// RIB phase
// -------------------------------------------------------------------------

func (s *Session) ribReset(gen uint64) {
	if s.connGen.Load() != gen {
		return
	}
	s.state.Store(int32(StateReplayRIB))
	s.eng.ResetRIBSent()
	s.eng.Loop().Arm(&s.tRIBWalk, 0, func() { s.ribSend(gen) })
}

func (s *Session) ribSend(gen uint64) {
	if s.connGen.Load() != gen {
		return
	}
	ctx := dataplane.NewContext()
	defer dataplane.FreeContext(ctx)

	complete := true
	s.eng.WalkRIB(func(d *dataplane.Dest) bool {
		// Skip bad route entries and already-streamed destinations.
		if d.Selected == nil || d.Sent() {
			return true
		}
		ctx.Reset()
		s.eng.FillRouteContext(ctx, d)
		if err := s.enqueue(ctx); err != nil {
			if errors.Is(err, ErrBufferFull) {
				complete = false
				return false
			}
			return true
		}
		d.MarkSent(true)
		return true
	})

	if complete {
		s.ScheduleEvent(EventRIBFinished)
		s.eng.Loop().Arm(&s.tRMACReset, 0, func() { s.rmacReset(gen) })
	} else {
		s.eng.Loop().Arm(&s.tRIBWalk, ribResumeDelay, func() { s.ribSend(gen) })
	}
}

// scheduleSRv6RouteReset arms the SRv6-restricted RIB flag reset. Safe
// from any goroutine; the slot is touched on the engine loop.
func (s *Session) scheduleSRv6RouteReset() {
	gen := s.connGen.Load()
	s.eng.Schedule(func() {
		s.eng.Loop().Arm(&s.tRIBReset, 0, func() { s.srv6RouteReset(gen) })
	})
}

// srv6RouteReset clears the streamed flag on destinations steered into an
// SRv6 segment list and replays the RIB, so those routes are re-encoded
// with the current encapsulation source address. Engine loop only.
func (s *Session) srv6RouteReset(gen uint64) {
	if s.connGen.Load() != gen {
		return
	}
	s.eng.ResetSRv6RouteSent()
	s.eng.Loop().Arm(&s.tRIBWalk, 0, func() { s.ribSend(gen) })
}

// -------------------------------------------------------------------------
// Router-MAC phase
// -------------------------------------------------------------------------

func (s *Session) rmacReset(gen uint64) {
	if s.connGen.Load() != gen {
		return
	}
	s.state.Store(int32(StateReplayRMAC))
	s.eng.ResetRouterMACSent()
	s.eng.Loop().Arm(&s.tRMACWalk, 0, func() { s.rmacSend(gen) })
}

func (s *Session) rmacSend(gen uint64) {
	if s.connGen.Load() != gen {
		return
	}
	ctx := dataplane.NewContext()
	defer dataplane.FreeContext(ctx)

	complete := true
	s.eng.WalkRouterMACs(func(v *dataplane.L3VNI, m *dataplane.RMAC) bool {
		if m.Sent() {
			return true
		}
		ctx.Reset()
		s.eng.FillRMACContext(ctx, v, m, dataplane.OpMACInstall)
		if err := s.enqueue(ctx); err != nil {
			if errors.Is(err, ErrBufferFull) {
				complete = false
				return false
			}
			return true
		}
		m.MarkSent(true)
		return true
	})

	if complete {
		s.ScheduleEvent(EventRMACFinished)
		s.state.Store(int32(StateConnected))
	} else {
		s.eng.Loop().Arm(&s.tRMACWalk, rmacResumeDelay, func() { s.rmacSend(gen) })
	}
}
