package fpm

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/dantte-lp/gofpm/internal/dataplane"
	"github.com/dantte-lp/gofpm/internal/fpmnl"
	"github.com/dantte-lp/gofpm/internal/runloop"
)

// ProviderName is the registration name of the FPM dataplane provider.
const ProviderName = "fpm-netlink"

// DefaultPort is the FPM peer's conventional TCP port.
const DefaultPort = 2620

// defaultReconnectDelay is the fixed backoff between connection attempts.
const defaultReconnectDelay = 3 * time.Second

// writeChunkSize is the largest slice handed to one socket write.
const writeChunkSize = 64 * 1024

// dialTimeout bounds a single connect attempt.
const dialTimeout = 10 * time.Second

// Session is the FPM provider core. It owns the peer connection, the
// output buffer and context queue, the statistics block, and the plugin
// run loop every socket event and control event is dispatched on.
//
// Two loops touch a session: the plugin loop (connection state machine,
// frame parsing, queue draining) and the engine loop (replay walks and
// per-object flag handling). Dedicated goroutines perform the blocking
// socket reads and writes and hand results back to the plugin loop.
type Session struct {
	logger *slog.Logger
	eng    *dataplane.Engine
	loop   *runloop.Loop

	counters Counters
	obuf     *OutputBuffer
	ctxq     CtxQueue

	// addr is read from any goroutine; written only via the plugin loop.
	addr     atomic.Pointer[netip.AddrPort]
	disabled atomic.Bool
	useNHG   atomic.Bool
	state    atomic.Int32

	// connGen is the connection epoch. Every I/O goroutine and walker
	// closure captures the epoch it was born in and goes inert once the
	// session moves on.
	connGen atomic.Uint64

	// connMu guards conn and writerDone: both are managed from the
	// plugin loop, but shutdown must be able to kill the I/O from
	// another goroutine.
	connMu     sync.Mutex
	conn       net.Conn
	writerDone chan struct{}

	// Plugin-loop-owned connection state.
	ibuf []byte

	wake chan struct{}

	dp *dataplane.Provider

	// Plugin-loop task slots.
	tConnect *runloop.Task
	tDequeue *runloop.Task

	// Engine-loop task slots (the replay walker).
	tLSPReset  *runloop.Task
	tLSPWalk   *runloop.Task
	tNHGReset  *runloop.Task
	tNHGWalk   *runloop.Task
	tRIBReset  *runloop.Task
	tRIBWalk   *runloop.Task
	tRMACReset *runloop.Task
	tRMACWalk  *runloop.Task

	reconnectDelay time.Duration
	dial           func(addr string) (net.Conn, error)

	scratch sync.Pool
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithReconnectDelay overrides the reconnect backoff.
func WithReconnectDelay(d time.Duration) SessionOption {
	return func(s *Session) { s.reconnectDelay = d }
}

// WithOutputBufferSize overrides the output buffer capacity.
func WithOutputBufferSize(n int) SessionOption {
	return func(s *Session) { s.obuf = NewOutputBuffer(n) }
}

// WithDialer overrides how the peer connection is established.
func WithDialer(dial func(addr string) (net.Conn, error)) SessionOption {
	return func(s *Session) { s.dial = dial }
}

// NewSession creates a session bound to the engine. The session starts
// disabled with the default peer address; configure an address (or enable)
// through SetAddress.
func NewSession(logger *slog.Logger, eng *dataplane.Engine, opts ...SessionOption) *Session {
	s := &Session{
		logger:         logger.With(slog.String("component", "fpm")),
		eng:            eng,
		obuf:           NewOutputBuffer(OutputBufSize),
		wake:           make(chan struct{}, 1),
		reconnectDelay: defaultReconnectDelay,
	}
	s.loop = runloop.New("fpm", logger)
	s.dial = func(addr string) (net.Conn, error) {
		d := net.Dialer{Timeout: dialTimeout}
		return d.Dial("tcp", addr)
	}
	s.scratch.New = func() any {
		buf := make([]byte, 2*fpmnl.PacketBufSize)
		return &buf
	}
	s.useNHG.Store(true)
	s.disabled.Store(true)
	s.state.Store(int32(StateDisabled))

	def := netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), DefaultPort)
	s.addr.Store(&def)

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// -------------------------------------------------------------------------
// Control Surface
// -------------------------------------------------------------------------

// State returns the connection state machine state.
func (s *Session) State() State { return State(s.state.Load()) }

// Disabled reports whether the operator turned the session off.
func (s *Session) Disabled() bool { return s.disabled.Load() }

// UseNextHopGroups reports whether nexthop-group messages are emitted.
func (s *Session) UseNextHopGroups() bool { return s.useNHG.Load() }

// Address returns the configured peer address.
func (s *Session) Address() netip.AddrPort { return *s.addr.Load() }

// CountersSnapshot returns a point-in-time copy of the statistics block.
func (s *Session) CountersSnapshot() CountersSnapshot { return s.counters.Snapshot() }

// SetAddress configures the peer address and triggers a reconnect. A zero
// port selects the default.
func (s *Session) SetAddress(ap netip.AddrPort) error {
	if !ap.Addr().IsValid() {
		return fmt.Errorf("set address: %w", errInvalidAddress)
	}
	if ap.Port() == 0 {
		ap = netip.AddrPortFrom(ap.Addr(), DefaultPort)
	}
	s.loop.Schedule(func() {
		s.addr.Store(&ap)
		s.handleEvent(EventReconnect)
	})
	return nil
}

// errInvalidAddress indicates a peer address that is not a valid IP.
var errInvalidAddress = errors.New("peer address must be a valid IP")

// Enable clears the disabled flag and reconnects.
func (s *Session) Enable() { s.ScheduleEvent(EventReconnect) }

// Disable tears the connection down and stays down.
func (s *Session) Disable() { s.ScheduleEvent(EventDisable) }

// SetUseNextHopGroups flips nexthop-group mode when it differs from the
// current setting; the reconnect makes the replay reflect the new policy.
func (s *Session) SetUseNextHopGroups(enable bool) {
	s.loop.Schedule(func() {
		if s.useNHG.Load() == enable {
			return
		}
		s.handleEvent(EventToggleNHG)
	})
}

// ResetCounters zeroes the statistics block.
func (s *Session) ResetCounters() { s.ScheduleEvent(EventResetCounters) }

// ScheduleEvent dispatches an event onto the plugin loop. Safe from any
// goroutine.
func (s *Session) ScheduleEvent(ev Event) {
	s.loop.Schedule(func() { s.handleEvent(ev) })
}

// scheduleEventIfCurrent dispatches ev only if the connection epoch has
// not moved on, so a dying I/O goroutine cannot tear down its successor.
func (s *Session) scheduleEventIfCurrent(gen uint64, ev Event) {
	s.loop.Schedule(func() {
		if s.connGen.Load() == gen {
			s.handleEvent(ev)
		}
	})
}

// -------------------------------------------------------------------------
// Event Dispatcher — plugin loop only
// -------------------------------------------------------------------------

func (s *Session) handleEvent(ev Event) {
	switch ev {
	case EventDisable:
		s.logger.Info("manual disable event")
		s.disabled.Store(true)
		s.counters.UserDisables.Add(1)
		s.reconnect()

	case EventReconnect:
		s.logger.Info("manual reconnect event")
		s.disabled.Store(false)
		s.counters.UserConfigures.Add(1)
		s.reconnect()

	case EventResetCounters:
		s.logger.Info("manual counters reset event")
		s.counters.Reset()

	case EventToggleNHG:
		s.logger.Info("toggle next hop groups support")
		s.useNHG.Store(!s.useNHG.Load())
		s.reconnect()

	case EventInternalReconnect:
		s.reconnect()

	case EventLSPFinished:
		s.logger.Debug("LSP walk finished")
	case EventNHGFinished:
		s.logger.Debug("next hop groups walk finished")
	case EventRIBFinished:
		s.logger.Debug("RIB walk finished")
	case EventRMACFinished:
		s.logger.Debug("RMAC walk finished")
	}
}

// -------------------------------------------------------------------------
// Connection State Machine — plugin loop only
// -------------------------------------------------------------------------

// reconnect tears down the connection and, unless disabled, arms the next
// connect attempt. Pending output is discarded; the post-connect replay
// rebuilds the peer's state.
func (s *Session) reconnect() {
	s.connGen.Add(1)

	// The walker slots belong to the engine loop; cancel them there.
	s.eng.Schedule(func() { s.cancelWalker() })

	s.closeIO()
	s.ibuf = s.ibuf[:0]
	s.obuf.Reset()
	s.counters.ObufBytes.Store(0)
	runloop.Disarm(&s.tConnect)

	if s.disabled.Load() {
		s.state.Store(int32(StateDisabled))
		return
	}

	s.state.Store(int32(StateIdle))
	s.loop.Arm(&s.tConnect, s.reconnectDelay, s.connect)
}

// closeIO closes the socket and stops the writer. Safe from any goroutine.
func (s *Session) closeIO() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	if s.writerDone != nil {
		close(s.writerDone)
		s.writerDone = nil
	}
}

// connect starts a connection attempt toward the configured address.
func (s *Session) connect() {
	ap := s.addr.Load()
	if ap == nil || !ap.Addr().IsValid() {
		return
	}
	gen := s.connGen.Load()
	s.state.Store(int32(StateConnecting))

	s.logger.Debug("attempting to connect", slog.String("peer", ap.String()))

	go func(addr string) {
		conn, err := s.dial(addr)
		s.loop.Schedule(func() { s.onDialDone(gen, conn, err) })
	}(ap.String())
}

// onDialDone finishes a connection attempt on the plugin loop.
func (s *Session) onDialDone(gen uint64, conn net.Conn, err error) {
	if s.connGen.Load() != gen {
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		s.counters.ConnectionErrors.Add(1)
		s.logger.Warn("connection failed", slog.String("error", err.Error()))
		s.state.Store(int32(StateIdle))
		s.loop.Arm(&s.tConnect, s.reconnectDelay, s.connect)
		return
	}

	done := make(chan struct{})
	s.connMu.Lock()
	s.conn = conn
	s.writerDone = done
	s.connMu.Unlock()
	s.state.Store(int32(StateConnected))
	s.logger.Info("connected", slog.String("peer", conn.RemoteAddr().String()))

	go s.readLoop(gen, conn)
	go s.writeLoop(gen, conn, done)

	// Walk all streamed objects, marking them unsent and replaying them,
	// starting with the LSPs.
	s.eng.Schedule(func() { s.startReplay(gen) })
}

// -------------------------------------------------------------------------
// Socket I/O goroutines
// -------------------------------------------------------------------------

// readLoop reads from the peer and hands the bytes to the plugin loop.
func (s *Session) readLoop(gen uint64, conn net.Conn) {
	buf := make([]byte, fpmnl.PacketBufSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if s.connGen.Load() != gen {
				return
			}
			s.counters.BytesRead.Add(uint32(n))
			data := make([]byte, n)
			copy(data, buf[:n])
			s.loop.Schedule(func() { s.handleRead(gen, data) })
		}
		if err != nil {
			if s.connGen.Load() != gen {
				return
			}
			if errors.Is(err, io.EOF) {
				s.counters.ConnectionCloses.Add(1)
				s.logger.Debug("connection closed by peer")
			} else {
				s.counters.ConnectionErrors.Add(1)
				s.logger.Warn("connection failure", slog.String("error", err.Error()))
			}
			s.scheduleEventIfCurrent(gen, EventInternalReconnect)
			return
		}
	}
}

// writeLoop drains the output buffer to the peer, sleeping until enqueue
// wakes it.
func (s *Session) writeLoop(gen uint64, conn net.Conn, done chan struct{}) {
	chunk := make([]byte, writeChunkSize)
	for {
		if s.connGen.Load() != gen {
			return
		}
		n := s.obuf.Peek(chunk)
		if n == 0 {
			select {
			case <-s.wake:
				continue
			case <-done:
				return
			}
		}

		wn, err := conn.Write(chunk[:n])
		if wn > 0 && s.connGen.Load() == gen {
			s.counters.BytesSent.Add(uint32(wn))
			s.counters.ObufBytes.Add(^uint32(wn - 1))
			s.obuf.Advance(wn)
		}
		if err != nil {
			if s.connGen.Load() != gen {
				return
			}
			s.counters.ConnectionErrors.Add(1)
			s.logger.Warn("write failure", slog.String("error", err.Error()))
			s.scheduleEventIfCurrent(gen, EventInternalReconnect)
			return
		}
	}
}

// wakeWriter nudges the writer goroutine. Safe from any goroutine.
func (s *Session) wakeWriter() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// -------------------------------------------------------------------------
// Inbound Frame Handling — plugin loop only
// -------------------------------------------------------------------------

// handleRead appends freshly read bytes and consumes every complete frame.
func (s *Session) handleRead(gen uint64, data []byte) {
	if s.connGen.Load() != gen {
		return
	}
	s.ibuf = append(s.ibuf, data...)

	for len(s.ibuf) > 0 {
		hdr, err := ParseFrameHeader(s.ibuf)
		if errors.Is(err, ErrFrameTooShort) {
			return
		}
		if err != nil {
			s.logger.Warn("poisoned frame header", slog.String("error", err.Error()))
			s.ibuf = s.ibuf[:0]
			s.handleEvent(EventInternalReconnect)
			return
		}
		// Wait until the whole frame arrived.
		if int(hdr.Length) > len(s.ibuf) {
			return
		}

		payload := s.ibuf[FrameHeaderSize:hdr.Length]
		reconnectNeeded := s.handleFrame(payload)

		rest := len(s.ibuf) - int(hdr.Length)
		copy(s.ibuf, s.ibuf[hdr.Length:])
		s.ibuf = s.ibuf[:rest]

		if reconnectNeeded {
			s.ibuf = s.ibuf[:0]
			s.handleEvent(EventInternalReconnect)
			return
		}
	}
}

// handleFrame processes one frame payload and reports whether the stream
// is poisoned and the connection must be reset.
func (s *Session) handleFrame(payload []byte) bool {
	mh, err := fpmnl.ParseMsgHdr(payload)
	if err != nil {
		s.logger.Warn("frame too small for a netlink header",
			slog.Int("len", len(payload)))
		return false
	}
	if mh.Len < fpmnl.NlmsgHdrLen {
		s.logger.Warn("invalid netlink message length",
			slog.Uint64("seq", uint64(mh.Seq)),
			slog.Uint64("nlmsg_len", uint64(mh.Len)),
		)
		return false
	}
	// An inner length larger than the frame poisons the framing; reset
	// the connection rather than guessing where the next frame starts.
	if int(mh.Len) > len(payload) {
		s.logger.Warn("netlink message length exceeds frame",
			slog.Uint64("nlmsg_len", uint64(mh.Len)),
			slog.Int("frame_payload", len(payload)),
		)
		return true
	}
	if mh.Flags&unix.NLM_F_REQUEST == 0 {
		s.logger.Debug("not a request, skipping", slog.Uint64("seq", uint64(mh.Seq)))
		return false
	}

	switch mh.Type {
	case unix.RTM_NEWROUTE:
		ctx, err := fpmnl.DecodeRouteNotify(payload)
		if err != nil {
			// Ignore this message and keep reading the stream.
			s.logger.Warn("route notify decode failed", slog.String("error", err.Error()))
			return false
		}
		s.eng.RouteNotify(ctx)
	default:
		s.logger.Debug("unhandled message type", slog.Uint64("type", uint64(mh.Type)))
	}
	return false
}

// -------------------------------------------------------------------------
// Encode and Enqueue
// -------------------------------------------------------------------------

// enqueue encodes ctx and appends the framed result to the output buffer.
//
// Returns nil when the context was streamed or deliberately skipped,
// ErrBufferFull when the output buffer cannot take the frames (nothing is
// written), or an encode error (nothing is written, the object must not
// be marked as streamed).
func (s *Session) enqueue(ctx *dataplane.Context) error {
	op := ctx.Op

	// With nexthop groups off, quit as soon as possible.
	if !s.useNHG.Load() && op.IsNexthop() {
		return nil
	}

	// Routes in the default table would blackhole the management path on
	// the peer when they churn; never stream them.
	if ctx.TableID == unix.RT_TABLE_DEFAULT {
		s.logger.Debug("discard default table route", slog.String("dest", ctx.Dest.String()))
		return nil
	}

	bufp := s.scratch.Get().(*[]byte)
	defer s.scratch.Put(bufp)
	scratch := *bufp

	var msgs [][]byte
	appendMsg := func(n int) {
		msgs = append(msgs, scratch[:n])
		scratch = scratch[n:]
	}

	switch op {
	case dataplane.OpRouteUpdate, dataplane.OpRouteDelete:
		n, err := s.encodeRoute(unix.RTM_DELROUTE, ctx, scratch)
		if err != nil {
			s.logger.Error("route delete encode failed",
				slog.String("dest", ctx.Dest.String()), slog.String("error", err.Error()))
			return err
		}
		appendMsg(n)
		if op == dataplane.OpRouteUpdate {
			n, err = s.encodeRoute(unix.RTM_NEWROUTE, ctx, scratch)
			if err != nil {
				s.logger.Error("route install encode failed",
					slog.String("dest", ctx.Dest.String()), slog.String("error", err.Error()))
				return err
			}
			appendMsg(n)
		}

	case dataplane.OpRouteInstall:
		n, err := s.encodeRoute(unix.RTM_NEWROUTE, ctx, scratch)
		if err != nil {
			s.logger.Error("route install encode failed",
				slog.String("dest", ctx.Dest.String()), slog.String("error", err.Error()))
			return err
		}
		appendMsg(n)

	case dataplane.OpMACInstall, dataplane.OpMACDelete:
		n, err := fpmnl.EncodeMAC(ctx, scratch)
		if err != nil {
			s.logger.Error("mac fdb encode failed", slog.String("error", err.Error()))
			return err
		}
		appendMsg(n)

	case dataplane.OpNexthopDelete:
		n, err := fpmnl.EncodeNexthop(unix.RTM_DELNEXTHOP, ctx, scratch)
		if err != nil {
			s.logger.Error("nexthop encode failed", slog.String("error", err.Error()))
			return err
		}
		appendMsg(n)

	case dataplane.OpNexthopInstall, dataplane.OpNexthopUpdate:
		n, err := fpmnl.EncodeNexthop(unix.RTM_NEWNEXTHOP, ctx, scratch)
		if err != nil {
			s.logger.Error("nexthop encode failed", slog.String("error", err.Error()))
			return err
		}
		appendMsg(n)

	case dataplane.OpLSPInstall, dataplane.OpLSPUpdate, dataplane.OpLSPDelete:
		n, err := fpmnl.EncodeLSP(ctx, scratch)
		if err != nil {
			s.logger.Error("lsp encode failed", slog.String("error", err.Error()))
			return err
		}
		appendMsg(n)

	case dataplane.OpAddrInstall, dataplane.OpAddrUninstall:
		// A loopback address change may move the SRv6 encapsulation
		// source; re-send every SRv6 route.
		if ctx.IfName == "lo" {
			s.scheduleSRv6RouteReset()
		}
		return nil

	default:
		return nil
	}

	if len(msgs) == 0 {
		return nil
	}

	total, err := s.obuf.AppendFrames(msgs...)
	if errors.Is(err, ErrBufferFull) {
		s.counters.BufferFull.Add(1)
		s.logger.Debug("output buffer full",
			slog.Int("writable", s.obuf.Writable()))
		return ErrBufferFull
	}
	if err != nil {
		s.logger.Error("frame append failed", slog.String("error", err.Error()))
		return err
	}

	obytes := s.counters.ObufBytes.Add(uint32(total))
	if s.counters.ObufPeak.Load() < obytes {
		s.counters.ObufPeak.Store(obytes)
	}

	s.wakeWriter()
	return nil
}

// encodeRoute picks the SRv6 or plain route encoder based on the primary
// nexthop's SRv6 state.
func (s *Session) encodeRoute(cmd uint16, ctx *dataplane.Context, buf []byte) (int, error) {
	if nh := ctx.NHG.Primary(); nh != nil && nh.SRv6 != nil {
		return fpmnl.EncodeSRv6(cmd, ctx, buf, s.eng, s.eng.V6ReplaceSemantics())
	}
	return fpmnl.EncodeRouteMultipath(cmd, ctx, buf, s.useNHG.Load(), s.eng.V6ReplaceSemantics())
}

// -------------------------------------------------------------------------
// Queue Draining — plugin loop only
// -------------------------------------------------------------------------

// processQueue pulls contexts off the queue one at a time, streams them,
// and hands them back to the engine. It stops early when the output
// buffer's free space cannot take a full packet, and reschedules itself.
func (s *Session) processQueue() {
	noBufs := false
	var processed uint32

	for {
		// No space available yet.
		if s.obuf.Writable() < fpmnl.PacketBufSize {
			noBufs = true
			break
		}

		ctx := s.ctxq.Dequeue()
		if ctx == nil {
			break
		}

		// The writable check above guarantees room; the result only
		// matters for accounting, which enqueue already did.
		if s.State().online() {
			_ = s.enqueue(ctx)
		}

		processed++
		s.counters.CtxqueueLen.Add(^uint32(0))

		ctx.Status = dataplane.StatusSuccess
		s.dp.EnqueueOut(ctx)
	}

	s.counters.DplaneContexts.Add(processed)

	if noBufs {
		s.loop.Arm(&s.tDequeue, 0, s.processQueue)
	}

	if s.dp.OutLen() > 0 {
		s.dp.WorkReady()
	}
}

// armDequeue schedules processQueue on the plugin loop. Safe from any
// goroutine: slot access happens on the loop.
func (s *Session) armDequeue() {
	s.loop.Schedule(func() {
		s.loop.Arm(&s.tDequeue, 0, s.processQueue)
	})
}
