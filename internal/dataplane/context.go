package dataplane

import (
	"net"
	"net/netip"
	"sync"
)

// -------------------------------------------------------------------------
// Operation Context
// -------------------------------------------------------------------------

// Context is one dataplane operation in flight between the engine and a
// provider. The engine owns a context before it is dequeued by a provider
// and again after the provider enqueues it back to its output queue.
//
// A context is a union over all operation kinds: route ops use Dest, Table,
// VRF, Proto and NHG; nexthop ops use the Nexthop* fields; LSP ops the LSP
// field; MAC ops the MAC field; address ops IfName/IfIndex and Dest.
type Context struct {
	// Op is the operation kind. It decides which payload fields are valid.
	Op Op

	// Status is set by the provider before handing the context back.
	Status Status

	// VRFID is the VRF the operation applies to.
	VRFID uint32

	// TableID is the kernel routing table the operation applies to.
	TableID uint32

	// Proto is the originating protocol for installs and updates.
	Proto RouteProtocol

	// OldProto is the previously installed protocol, used by deletes and
	// the delete half of updates.
	OldProto RouteProtocol

	// Dest is the route destination prefix (route, localsid and address ops).
	Dest netip.Prefix

	// Metric is the route metric advertised in the encoded message.
	Metric uint32

	// NHG is the nexthop set of a route operation.
	NHG NexthopGroup

	// NHGID is the nexthop-group id the route references when the engine
	// runs with nexthop groups enabled; 0 when unset.
	NHGID uint32

	// IfName is the interface name for address operations.
	IfName string

	// IfIndex is the interface index for address operations.
	IfIndex int32

	// Nexthop payload (OpNexthop*).
	NexthopID     uint32
	NexthopProto  RouteProtocol
	NexthopGroups []NexthopGroupMember
	Nexthops      []Nexthop

	// LSP payload (OpLSP*).
	LSP LSPPayload

	// MAC payload (OpMAC*).
	MAC MACPayload
}

// NexthopGroupMember references a member nexthop inside a grouped nexthop
// object, with its ECMP weight.
type NexthopGroupMember struct {
	ID     uint32
	Weight uint8
}

// LSPPayload carries an MPLS label-switched path operation.
type LSPPayload struct {
	// InLabel is the incoming MPLS label.
	InLabel uint32

	// Nexthops are the outgoing legs with their label stacks.
	Nexthops []LSPNexthop
}

// LSPNexthop is one outgoing leg of an LSP.
type LSPNexthop struct {
	// OutLabels is the outgoing label stack, outermost first. Empty
	// means implicit-null (pop).
	OutLabels []uint32

	// Gateway is the nexthop address.
	Gateway netip.Addr

	// IfIndex is the outgoing interface index.
	IfIndex int32
}

// MACPayload carries an EVPN MAC FDB operation.
type MACPayload struct {
	// Addr is the MAC address.
	Addr net.HardwareAddr

	// VTEP is the remote VTEP IP the MAC is reachable through.
	VTEP netip.Addr

	// VLAN is the access VLAN on the bridge, 0 when VLAN-unaware.
	VLAN uint16

	// VNI is the L3VNI the MAC belongs to.
	VNI uint32

	// IfIndex is the VXLAN interface index.
	IfIndex int32

	// BridgeIfIndex is the bridge master interface index.
	BridgeIfIndex int32

	// Sticky marks the entry as sticky (remote default gateway).
	Sticky bool
}

// Reset returns the context to its zero operation so its allocation can be
// reused, the way walk loops reuse one scratch context per table.
func (c *Context) Reset() {
	ng := c.NHG.Nexthops[:0]
	nhs := c.Nexthops[:0]
	groups := c.NexthopGroups[:0]
	lspNHs := c.LSP.Nexthops[:0]

	*c = Context{}
	c.NHG.Nexthops = ng
	c.Nexthops = nhs
	c.NexthopGroups = groups
	c.LSP.Nexthops = lspNHs
}

// ctxPool recycles Context allocations across queue round-trips.
var ctxPool = sync.Pool{
	New: func() any { return new(Context) },
}

// NewContext returns a reset context from the pool.
func NewContext() *Context {
	c := ctxPool.Get().(*Context)
	c.Reset()
	return c
}

// FreeContext returns a context to the pool. The caller must not use it
// afterwards.
func FreeContext(c *Context) {
	if c == nil {
		return
	}
	ctxPool.Put(c)
}
