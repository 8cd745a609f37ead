package dataplane

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/dantte-lp/gofpm/internal/runloop"
)

// -------------------------------------------------------------------------
// Engine
// -------------------------------------------------------------------------

// Engine is the routing-engine model: it owns the LSP, nexthop-group, RIB
// and L3VNI tables, the VRF and interface registries, and the SRv6 locator
// list, and it drives registered providers from its own run loop.
//
// Every table and flag is owned by the engine loop. Exported mutators may
// be called from any goroutine; they schedule onto the loop. Methods
// documented as loop-only must run on the engine loop (typically from a
// closure passed to Schedule or from a provider callback).
type Engine struct {
	logger *slog.Logger
	loop   *runloop.Loop

	workLimit int

	// V6ReplaceSemantics mirrors the kernel's ability to atomically
	// replace IPv6 routes; when set, IPv6 installs are encoded with
	// replace semantics.
	v6Replace bool

	// topoMu guards the slow-moving topology state (VRFs, interfaces,
	// locators) so the encoder-view lookups are safe from the provider
	// loop while tables stay engine-loop-only.
	topoMu   sync.RWMutex
	vrfs     *vrfRegistry
	ifaces   *ifaceStore
	locators []*SRv6Locator

	lsps   *lspTable
	nhgs   *nhgTable
	rib    *rib
	l3vnis *l3vniTable

	providers []*Provider
	workTask  *runloop.Task

	// notifyHook, when set, receives route-notify contexts decoded from
	// the peer. The context is freed after the hook returns.
	notifyHook func(*Context)
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkLimit overrides the per-tick provider context budget.
func WithWorkLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workLimit = n
		}
	}
}

// WithV6ReplaceSemantics enables atomic-replace encoding for IPv6 installs.
func WithV6ReplaceSemantics(v bool) Option {
	return func(e *Engine) { e.v6Replace = v }
}

// WithVRFBackend selects the VRF realization backend.
func WithVRFBackend(b VRFBackend) Option {
	return func(e *Engine) { e.vrfs.backend = b }
}

// WithNotifyHook installs a hook invoked for every route-notify context.
func WithNotifyHook(fn func(*Context)) Option {
	return func(e *Engine) { e.notifyHook = fn }
}

// New creates a stopped engine. Call Start before registering providers.
func New(logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		logger:    logger.With(slog.String("component", "dataplane")),
		workLimit: DefaultWorkLimit,
		vrfs:      newVRFRegistry(VRFBackendLite),
		ifaces:    newIfaceStore(),
		lsps:      newLSPTable(),
		nhgs:      newNHGTable(),
		rib:       newRIB(),
		l3vnis:    newL3VNITable(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.loop = runloop.New("engine", logger)

	// The default VRF always exists.
	e.vrfs.upsert(&VRF{ID: DefaultVRFID, Name: "default", TableID: 254})
	return e
}

// Start launches the engine loop.
func (e *Engine) Start() { e.loop.Start() }

// Stop shuts down: providers get Finish(early), the loop stops, then
// providers get Finish(late).
func (e *Engine) Stop() {
	for _, p := range e.providers {
		p.impl.Finish(p, true)
	}
	e.loop.Stop()
	for _, p := range e.providers {
		p.impl.Finish(p, false)
	}
}

// Loop returns the engine run loop.
func (e *Engine) Loop() *runloop.Loop { return e.loop }

// Schedule runs fn on the engine loop.
func (e *Engine) Schedule(fn func()) *runloop.Task { return e.loop.Schedule(fn) }

// ScheduleTimer runs fn on the engine loop after d.
func (e *Engine) ScheduleTimer(d time.Duration, fn func()) *runloop.Task {
	return e.loop.ScheduleTimer(d, fn)
}

// V6ReplaceSemantics reports whether IPv6 installs use replace semantics.
func (e *Engine) V6ReplaceSemantics() bool { return e.v6Replace }

// RegisterProvider registers impl under name and runs its Start hook.
func (e *Engine) RegisterProvider(name string, impl ProviderImpl) (*Provider, error) {
	p := &Provider{name: name, eng: e, impl: impl}
	if err := impl.Start(p); err != nil {
		return nil, fmt.Errorf("start provider %s: %w", name, err)
	}
	e.providers = append(e.providers, p)
	e.logger.Info("provider registered", slog.String("provider", name))
	return p, nil
}

// kickWork arms the provider work tick.
func (e *Engine) kickWork() {
	e.loop.Schedule(func() {
		e.loop.Arm(&e.workTask, 0, e.workTick)
	})
}

// workTick runs one Process round over all providers and collects their
// finalized contexts. Loop-only.
func (e *Engine) workTick() {
	for _, p := range e.providers {
		p.impl.Process(p)
		for {
			ctx := p.dequeueOut()
			if ctx == nil {
				break
			}
			e.finalize(ctx)
		}
	}
}

// finalize applies the completion of a context: successful installs mark
// the corresponding table object as streamed for this epoch. Loop-only.
func (e *Engine) finalize(ctx *Context) {
	if ctx.Status == StatusSuccess {
		switch ctx.Op {
		case OpRouteInstall, OpRouteUpdate:
			if t := e.rib.tables[ctx.TableID]; t != nil {
				if d := t.byDest[ctx.Dest]; d != nil {
					d.MarkSent(true)
				}
			}
		case OpNexthopInstall, OpNexthopUpdate:
			if nhe := e.nhgs.get(ctx.NexthopID); nhe != nil {
				nhe.MarkSent(true)
			}
		case OpLSPInstall, OpLSPUpdate:
			if l := e.lsps.get(ctx.LSP.InLabel); l != nil {
				l.MarkSent(true)
			}
		case OpMACInstall:
			if v := e.l3vnis.get(ctx.MAC.VNI); v != nil {
				if m := v.rmacs[ctx.MAC.Addr.String()]; m != nil {
					m.MarkSent(true)
				}
			}
		}
	}
	FreeContext(ctx)
}

// dispatch hands a context to every provider and arms the work tick.
// Loop-only.
func (e *Engine) dispatch(ctx *Context) {
	if len(e.providers) == 0 {
		FreeContext(ctx)
		return
	}
	// A single context cannot be shared between providers; only the
	// first registered provider receives it. The model carries one
	// provider in practice.
	e.providers[0].enqueueIn(ctx)
	e.loop.Arm(&e.workTask, 0, e.workTick)
}

// -------------------------------------------------------------------------
// Topology Mutators
// -------------------------------------------------------------------------

// AddVRF registers a VRF.
func (e *Engine) AddVRF(id uint32, name string, tableID uint32) {
	e.loop.Schedule(func() {
		e.topoMu.Lock()
		e.vrfs.upsert(&VRF{ID: id, Name: name, TableID: tableID})
		e.topoMu.Unlock()
	})
}

// AddLocator registers an SRv6 locator.
func (e *Engine) AddLocator(loc *SRv6Locator) {
	e.loop.Schedule(func() {
		e.topoMu.Lock()
		e.locators = append(e.locators, loc)
		e.topoMu.Unlock()
	})
}

// AddL3VNI registers an L3VNI.
func (e *Engine) AddL3VNI(v *L3VNI) {
	e.loop.Schedule(func() {
		e.l3vnis.upsert(v)
	})
}

// AddInterface registers a link.
func (e *Engine) AddInterface(name string, index int32, vrfID uint32) {
	e.loop.Schedule(func() {
		e.topoMu.Lock()
		e.ifaces.upsert(&Interface{Name: name, Index: index, VRFID: vrfID})
		e.topoMu.Unlock()
	})
}

// -------------------------------------------------------------------------
// Dataplane Mutators — generate contexts
// -------------------------------------------------------------------------

// AddRoute selects entry for prefix in tableID and emits a route install
// (or update when the destination already had a selected route).
func (e *Engine) AddRoute(tableID, vrfID uint32, prefix netip.Prefix, entry *RouteEntry) {
	e.loop.Schedule(func() {
		t := e.rib.table(tableID, vrfID)
		d := t.byDest[prefix]
		op := OpRouteInstall
		var oldProto RouteProtocol
		if d == nil {
			d = &Dest{Prefix: prefix, TableID: tableID, VRFID: vrfID}
			t.byDest[prefix] = d
		} else if d.Selected != nil {
			op = OpRouteUpdate
			oldProto = d.Selected.Proto
		}
		d.Selected = entry
		d.MarkSent(false)

		ctx := NewContext()
		ctx.Op = op
		ctx.TableID = tableID
		ctx.VRFID = vrfID
		ctx.Dest = prefix
		ctx.Proto = entry.Proto
		ctx.OldProto = oldProto
		ctx.Metric = entry.Metric
		ctx.NHGID = entry.NHGID
		ctx.NHG.Nexthops = append(ctx.NHG.Nexthops, entry.NHG.Nexthops...)
		e.dispatch(ctx)
	})
}

// DeleteRoute removes prefix from tableID and emits a route delete.
func (e *Engine) DeleteRoute(tableID uint32, prefix netip.Prefix) {
	e.loop.Schedule(func() {
		t := e.rib.tables[tableID]
		if t == nil {
			return
		}
		d := t.byDest[prefix]
		if d == nil || d.Selected == nil {
			return
		}
		old := d.Selected
		delete(t.byDest, prefix)

		ctx := NewContext()
		ctx.Op = OpRouteDelete
		ctx.TableID = tableID
		ctx.VRFID = t.vrfID
		ctx.Dest = prefix
		ctx.OldProto = old.Proto
		ctx.Metric = old.Metric
		ctx.NHGID = old.NHGID
		ctx.NHG.Nexthops = append(ctx.NHG.Nexthops, old.NHG.Nexthops...)
		e.dispatch(ctx)
	})
}

// AddNexthopGroup installs or replaces a nexthop-group object.
func (e *Engine) AddNexthopGroup(nhe *NHGEntry) {
	e.loop.Schedule(func() {
		op := OpNexthopInstall
		if e.nhgs.get(nhe.ID) != nil {
			op = OpNexthopUpdate
		}
		e.nhgs.upsert(nhe)
		nhe.MarkSent(false)

		ctx := NewContext()
		e.fillNexthopContext(ctx, nhe, op)
		e.dispatch(ctx)
	})
}

// DeleteNexthopGroup removes a nexthop-group object.
func (e *Engine) DeleteNexthopGroup(id uint32) {
	e.loop.Schedule(func() {
		nhe := e.nhgs.remove(id)
		if nhe == nil {
			return
		}
		ctx := NewContext()
		e.fillNexthopContext(ctx, nhe, OpNexthopDelete)
		e.dispatch(ctx)
	})
}

// AddLSP installs or replaces a label-switched path.
func (e *Engine) AddLSP(l *LSP) {
	e.loop.Schedule(func() {
		op := OpLSPInstall
		if e.lsps.get(l.InLabel) != nil {
			op = OpLSPUpdate
		}
		e.lsps.upsert(l)
		l.MarkSent(false)

		ctx := NewContext()
		e.fillLSPContext(ctx, l, op)
		e.dispatch(ctx)
	})
}

// DeleteLSP removes a label-switched path.
func (e *Engine) DeleteLSP(inLabel uint32) {
	e.loop.Schedule(func() {
		l := e.lsps.remove(inLabel)
		if l == nil {
			return
		}
		ctx := NewContext()
		e.fillLSPContext(ctx, l, OpLSPDelete)
		e.dispatch(ctx)
	})
}

// AddRouterMAC learns a router MAC under an L3VNI.
func (e *Engine) AddRouterMAC(vni uint32, m *RMAC) {
	e.loop.Schedule(func() {
		v := e.l3vnis.get(vni)
		if v == nil {
			return
		}
		v.upsertRMAC(m)
		m.MarkSent(false)

		ctx := NewContext()
		e.fillRMACContext(ctx, v, m, OpMACInstall)
		e.dispatch(ctx)
	})
}

// DeleteRouterMAC forgets a router MAC under an L3VNI.
func (e *Engine) DeleteRouterMAC(vni uint32, mac net.HardwareAddr) {
	e.loop.Schedule(func() {
		v := e.l3vnis.get(vni)
		if v == nil {
			return
		}
		m := v.removeRMAC(mac)
		if m == nil {
			return
		}
		ctx := NewContext()
		e.fillRMACContext(ctx, v, m, OpMACDelete)
		e.dispatch(ctx)
	})
}

// AddInterfaceAddr configures an address and emits an address install.
func (e *Engine) AddInterfaceAddr(name string, index int32, vrfID uint32, addr netip.Prefix) {
	e.loop.Schedule(func() {
		e.topoMu.Lock()
		ifp := e.ifaces.addAddr(name, index, vrfID, addr)
		e.topoMu.Unlock()

		ctx := NewContext()
		ctx.Op = OpAddrInstall
		ctx.IfName = ifp.Name
		ctx.IfIndex = ifp.Index
		ctx.VRFID = vrfID
		ctx.Dest = addr
		e.dispatch(ctx)
	})
}

// RemoveInterfaceAddr removes an address and emits an address uninstall.
func (e *Engine) RemoveInterfaceAddr(name string, addr netip.Prefix) {
	e.loop.Schedule(func() {
		e.topoMu.Lock()
		ifp := e.ifaces.removeAddr(name, addr)
		e.topoMu.Unlock()
		if ifp == nil {
			return
		}
		ctx := NewContext()
		ctx.Op = OpAddrUninstall
		ctx.IfName = ifp.Name
		ctx.IfIndex = ifp.Index
		ctx.VRFID = ifp.VRFID
		ctx.Dest = addr
		e.dispatch(ctx)
	})
}

// RouteNotify injects a route change decoded from the peer. The context
// ownership passes to the engine.
func (e *Engine) RouteNotify(ctx *Context) {
	e.loop.Schedule(func() {
		e.logger.Debug("route notify from peer",
			slog.String("dest", ctx.Dest.String()),
			slog.Uint64("table", uint64(ctx.TableID)),
		)
		if e.notifyHook != nil {
			e.notifyHook(ctx)
		}
		FreeContext(ctx)
	})
}

// -------------------------------------------------------------------------
// Encoder View — lock-guarded lookups used while encoding
// -------------------------------------------------------------------------

// VRFNameByTableID resolves a kernel table id to the owning VRF's name.
// Safe from any goroutine.
func (e *Engine) VRFNameByTableID(tableID uint32) (string, bool) {
	e.topoMu.RLock()
	defer e.topoMu.RUnlock()
	v := e.vrfs.byTableID(tableID)
	if v == nil {
		return "", false
	}
	return v.Name, true
}

// LocatorMatch returns the first locator containing the SID prefix, or nil.
// Safe from any goroutine.
func (e *Engine) LocatorMatch(sid netip.Prefix) *SRv6Locator {
	e.topoMu.RLock()
	defer e.topoMu.RUnlock()
	for _, l := range e.locators {
		if l.Matches(sid) {
			return l
		}
	}
	return nil
}

// EncapSourceAddr returns the first non-loopback, non-link-local IPv6
// address of interface "lo" in the default VRF, or the zero Addr.
// Safe from any goroutine.
func (e *Engine) EncapSourceAddr() netip.Addr {
	e.topoMu.RLock()
	defer e.topoMu.RUnlock()
	ifp := e.ifaces.lookup("lo", DefaultVRFID)
	if ifp == nil {
		return netip.Addr{}
	}
	for _, p := range ifp.Addrs {
		a := p.Addr()
		if a.Is6() && !a.Is4In6() && !a.IsLoopback() && !a.IsLinkLocalUnicast() {
			return a
		}
	}
	return netip.Addr{}
}

// -------------------------------------------------------------------------
// Replay Support — loop-only walks and flag resets
// -------------------------------------------------------------------------

// WalkLSPs visits LSPs in label order until fn returns false. Loop-only.
func (e *Engine) WalkLSPs(fn func(*LSP) bool) { e.lsps.walk(fn) }

// ResetLSPSent clears the streamed flag on every LSP. Loop-only.
func (e *Engine) ResetLSPSent() {
	e.lsps.walk(func(l *LSP) bool { l.MarkSent(false); return true })
}

// WalkNexthopGroups visits NHG entries in id order until fn returns false.
// Loop-only.
func (e *Engine) WalkNexthopGroups(fn func(*NHGEntry) bool) { e.nhgs.walk(fn) }

// ResetNexthopGroupSent clears the streamed flag on every NHG entry.
// Loop-only.
func (e *Engine) ResetNexthopGroupSent() {
	e.nhgs.walk(func(n *NHGEntry) bool { n.MarkSent(false); return true })
}

// WalkRIB visits destinations across all tables until fn returns false.
// Loop-only.
func (e *Engine) WalkRIB(fn func(*Dest) bool) { e.rib.walk(fn) }

// ResetRIBSent clears the streamed flag on every destination. Loop-only.
func (e *Engine) ResetRIBSent() {
	e.rib.walk(func(d *Dest) bool { d.MarkSent(false); return true })
}

// ResetSRv6RouteSent clears the streamed flag only on destinations whose
// selected route steers into an SRv6 segment list, so those routes are
// re-encoded with the current encapsulation source address. Loop-only.
func (e *Engine) ResetSRv6RouteSent() {
	e.rib.walk(func(d *Dest) bool {
		if d.Selected == nil {
			return true
		}
		if nh := d.Selected.NHG.Primary(); nh != nil && nh.SRv6.HasSegs() {
			d.MarkSent(false)
		}
		return true
	})
}

// WalkRouterMACs visits router MACs across all L3VNIs until fn returns
// false. Loop-only.
func (e *Engine) WalkRouterMACs(fn func(*L3VNI, *RMAC) bool) { e.l3vnis.walk(fn) }

// ResetRouterMACSent clears the streamed flag on every router MAC.
// Loop-only.
func (e *Engine) ResetRouterMACSent() {
	e.l3vnis.walk(func(_ *L3VNI, m *RMAC) bool { m.MarkSent(false); return true })
}

// -------------------------------------------------------------------------
// Context Builders — loop-only, used by replay walks
// -------------------------------------------------------------------------

// FillRouteContext populates ctx as an install of the destination's
// selected route. Loop-only.
func (e *Engine) FillRouteContext(ctx *Context, d *Dest) {
	ctx.Op = OpRouteInstall
	ctx.TableID = d.TableID
	ctx.VRFID = d.VRFID
	ctx.Dest = d.Prefix
	if d.Selected != nil {
		ctx.Proto = d.Selected.Proto
		ctx.Metric = d.Selected.Metric
		ctx.NHGID = d.Selected.NHGID
		ctx.NHG.Nexthops = append(ctx.NHG.Nexthops[:0], d.Selected.NHG.Nexthops...)
	}
}

// FillNexthopContext populates ctx as op over the NHG entry. Loop-only.
func (e *Engine) FillNexthopContext(ctx *Context, nhe *NHGEntry, op Op) {
	e.fillNexthopContext(ctx, nhe, op)
}

func (e *Engine) fillNexthopContext(ctx *Context, nhe *NHGEntry, op Op) {
	ctx.Op = op
	ctx.NexthopID = nhe.ID
	ctx.NexthopProto = nhe.Proto
	ctx.Nexthops = append(ctx.Nexthops[:0], nhe.Nexthops...)
	ctx.NexthopGroups = append(ctx.NexthopGroups[:0], nhe.Groups...)
}

// FillLSPContext populates ctx as op over the LSP. Loop-only.
func (e *Engine) FillLSPContext(ctx *Context, l *LSP, op Op) {
	e.fillLSPContext(ctx, l, op)
}

func (e *Engine) fillLSPContext(ctx *Context, l *LSP, op Op) {
	ctx.Op = op
	ctx.Proto = l.Proto
	ctx.OldProto = l.Proto
	ctx.LSP.InLabel = l.InLabel
	ctx.LSP.Nexthops = append(ctx.LSP.Nexthops[:0], l.Nexthops...)
}

// FillRMACContext populates ctx as op over the router MAC. Loop-only.
func (e *Engine) FillRMACContext(ctx *Context, v *L3VNI, m *RMAC, op Op) {
	e.fillRMACContext(ctx, v, m, op)
}

func (e *Engine) fillRMACContext(ctx *Context, v *L3VNI, m *RMAC, op Op) {
	ctx.Op = op
	ctx.MAC.Addr = append(net.HardwareAddr(nil), m.Addr...)
	ctx.MAC.VTEP = m.VTEP
	ctx.MAC.Sticky = m.Sticky
	ctx.MAC.VNI = v.VNI
	ctx.MAC.IfIndex = v.VxlanIfIndex
	ctx.MAC.BridgeIfIndex = v.BridgeIfIndex
	if v.VLANAware {
		ctx.MAC.VLAN = v.AccessVLAN
	}
}
