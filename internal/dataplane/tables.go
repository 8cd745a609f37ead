package dataplane

import (
	"net"
	"net/netip"
	"sort"
)

// -------------------------------------------------------------------------
// Streamed Flag
// -------------------------------------------------------------------------

// streamedFlag is the per-object "already sent to the FPM peer in the
// current connection epoch" marker. It is embedded in every table entry.
// The flag is only ever read and written on the engine loop: replay walks
// and steady-state update handling both run there, so no locking is needed.
type streamedFlag struct {
	sent bool
}

// Sent reports whether the object was already streamed this epoch.
func (f *streamedFlag) Sent() bool { return f.sent }

// MarkSent records whether the object was streamed this epoch.
func (f *streamedFlag) MarkSent(v bool) { f.sent = v }

// -------------------------------------------------------------------------
// MPLS LSP Table
// -------------------------------------------------------------------------

// LSP is one label-switched path: an incoming label and its outgoing legs.
type LSP struct {
	streamedFlag

	// InLabel is the incoming MPLS label, the table key.
	InLabel uint32

	// Proto is the protocol that installed the LSP.
	Proto RouteProtocol

	// Nexthops are the outgoing legs.
	Nexthops []LSPNexthop
}

// lspTable maps in-label to LSP. Iteration is in ascending label order so
// replay and resume are deterministic.
type lspTable struct {
	byLabel map[uint32]*LSP
}

func newLSPTable() *lspTable {
	return &lspTable{byLabel: make(map[uint32]*LSP)}
}

func (t *lspTable) upsert(l *LSP) {
	t.byLabel[l.InLabel] = l
}

func (t *lspTable) remove(inLabel uint32) *LSP {
	l := t.byLabel[inLabel]
	delete(t.byLabel, inLabel)
	return l
}

func (t *lspTable) get(inLabel uint32) *LSP { return t.byLabel[inLabel] }

// walk visits LSPs in ascending in-label order until fn returns false.
func (t *lspTable) walk(fn func(*LSP) bool) {
	keys := make([]uint32, 0, len(t.byLabel))
	for k := range t.byLabel {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		if !fn(t.byLabel[k]) {
			return
		}
	}
}

// -------------------------------------------------------------------------
// Nexthop Group Table
// -------------------------------------------------------------------------

// NHGEntry is one nexthop-group object, keyed by its id.
type NHGEntry struct {
	streamedFlag

	// ID is the nexthop-group id, the table key.
	ID uint32

	// Proto is the protocol that created the group.
	Proto RouteProtocol

	// Nexthops are the member legs for singleton groups.
	Nexthops []Nexthop

	// Groups references member groups for grouped objects. When set,
	// Nexthops is ignored.
	Groups []NexthopGroupMember
}

type nhgTable struct {
	byID map[uint32]*NHGEntry
}

func newNHGTable() *nhgTable {
	return &nhgTable{byID: make(map[uint32]*NHGEntry)}
}

func (t *nhgTable) upsert(e *NHGEntry)        { t.byID[e.ID] = e }
func (t *nhgTable) get(id uint32) *NHGEntry   { return t.byID[id] }
func (t *nhgTable) remove(id uint32) *NHGEntry {
	e := t.byID[id]
	delete(t.byID, id)
	return e
}

// walk visits entries in ascending id order until fn returns false.
func (t *nhgTable) walk(fn func(*NHGEntry) bool) {
	keys := make([]uint32, 0, len(t.byID))
	for k := range t.byID {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		if !fn(t.byID[k]) {
			return
		}
	}
}

// -------------------------------------------------------------------------
// RIB
// -------------------------------------------------------------------------

// RouteEntry is one selected-for-install route under a destination.
type RouteEntry struct {
	// Proto is the originating protocol.
	Proto RouteProtocol

	// Metric is the route metric.
	Metric uint32

	// NHGID is the installed nexthop-group id, 0 when none.
	NHGID uint32

	// NHG is the resolved nexthop set.
	NHG NexthopGroup
}

// Dest is one RIB destination: a prefix inside a table with its selected
// route, carrying the streamed flag used during replay.
type Dest struct {
	streamedFlag

	// Prefix is the destination prefix, the table key.
	Prefix netip.Prefix

	// TableID is the kernel table the destination lives in.
	TableID uint32

	// VRFID is the owning VRF.
	VRFID uint32

	// Selected is the route selected for installation, nil when the
	// destination has no installable route.
	Selected *RouteEntry
}

// routeTable is one kernel table's worth of destinations.
type routeTable struct {
	tableID uint32
	vrfID   uint32
	byDest  map[netip.Prefix]*Dest
}

func newRouteTable(tableID, vrfID uint32) *routeTable {
	return &routeTable{tableID: tableID, vrfID: vrfID, byDest: make(map[netip.Prefix]*Dest)}
}

// walk visits destinations in prefix order until fn returns false, and
// reports whether the walk ran to completion.
func (t *routeTable) walk(fn func(*Dest) bool) bool {
	keys := make([]netip.Prefix, 0, len(t.byDest))
	for k := range t.byDest {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Addr() != b.Addr() {
			return a.Addr().Less(b.Addr())
		}
		return a.Bits() < b.Bits()
	})
	for _, k := range keys {
		if !fn(t.byDest[k]) {
			return false
		}
	}
	return true
}

// rib is the set of route tables keyed by table id.
type rib struct {
	tables map[uint32]*routeTable
}

func newRIB() *rib {
	return &rib{tables: make(map[uint32]*routeTable)}
}

func (r *rib) table(tableID, vrfID uint32) *routeTable {
	t := r.tables[tableID]
	if t == nil {
		t = newRouteTable(tableID, vrfID)
		r.tables[tableID] = t
	}
	return t
}

// walk visits all tables in ascending table-id order, destinations in
// prefix order, until fn returns false.
func (r *rib) walk(fn func(*Dest) bool) {
	ids := make([]uint32, 0, len(r.tables))
	for id := range r.tables {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if !r.tables[id].walk(fn) {
			return
		}
	}
}

// -------------------------------------------------------------------------
// L3VNI / Router MAC Tables
// -------------------------------------------------------------------------

// RMAC is a remote router MAC learned under an L3VNI.
type RMAC struct {
	streamedFlag

	// Addr is the router MAC address, the table key.
	Addr net.HardwareAddr

	// VTEP is the remote VTEP the MAC sits behind.
	VTEP netip.Addr

	// Sticky marks remote default-gateway MACs.
	Sticky bool
}

// L3VNI is one Layer-3 VNI with its router MAC table and the interface
// wiring needed to encode FDB updates.
type L3VNI struct {
	// VNI is the VXLAN network identifier, the table key.
	VNI uint32

	// VxlanIfIndex is the VXLAN interface index.
	VxlanIfIndex int32

	// BridgeIfIndex is the bridge master interface index.
	BridgeIfIndex int32

	// AccessVLAN is the access VLAN when the bridge is VLAN-aware, else 0.
	AccessVLAN uint16

	// VLANAware mirrors the bridge VLAN filtering mode.
	VLANAware bool

	rmacs map[string]*RMAC
}

func (v *L3VNI) upsertRMAC(m *RMAC)           { v.rmacs[m.Addr.String()] = m }
func (v *L3VNI) removeRMAC(mac net.HardwareAddr) *RMAC {
	m := v.rmacs[mac.String()]
	delete(v.rmacs, mac.String())
	return m
}

// walkRMACs visits router MACs in MAC-string order until fn returns false,
// and reports whether the walk ran to completion.
func (v *L3VNI) walkRMACs(fn func(*RMAC) bool) bool {
	keys := make([]string, 0, len(v.rmacs))
	for k := range v.rmacs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !fn(v.rmacs[k]) {
			return false
		}
	}
	return true
}

type l3vniTable struct {
	byVNI map[uint32]*L3VNI
}

func newL3VNITable() *l3vniTable {
	return &l3vniTable{byVNI: make(map[uint32]*L3VNI)}
}

func (t *l3vniTable) upsert(v *L3VNI) {
	if v.rmacs == nil {
		v.rmacs = make(map[string]*RMAC)
	}
	t.byVNI[v.VNI] = v
}

func (t *l3vniTable) get(vni uint32) *L3VNI { return t.byVNI[vni] }

// walk visits VNIs in ascending order, MACs in MAC order, until fn returns
// false.
func (t *l3vniTable) walk(fn func(*L3VNI, *RMAC) bool) {
	ids := make([]uint32, 0, len(t.byVNI))
	for id := range t.byVNI {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		v := t.byVNI[id]
		if !v.walkRMACs(func(m *RMAC) bool { return fn(v, m) }) {
			return
		}
	}
}
