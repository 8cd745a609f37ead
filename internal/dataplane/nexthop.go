package dataplane

import (
	"fmt"
	"net/netip"
)

// -------------------------------------------------------------------------
// SRv6 Endpoint Behaviors
// -------------------------------------------------------------------------

// Seg6Action is the seg6local endpoint behavior attached to a nexthop.
type Seg6Action uint32

const (
	// Seg6ActionUnspec means the nexthop carries no seg6local behavior.
	Seg6ActionUnspec Seg6Action = iota
	// Seg6ActionEnd is the plain SRv6 endpoint behavior.
	Seg6ActionEnd
	// Seg6ActionEndX is endpoint with Layer-3 cross-connect.
	Seg6ActionEndX
	// Seg6ActionEndT is endpoint with specific IPv6 table lookup.
	Seg6ActionEndT
	// Seg6ActionEndDX2 is decapsulation with Layer-2 cross-connect.
	Seg6ActionEndDX2
	// Seg6ActionEndDX6 is decapsulation with IPv6 cross-connect.
	Seg6ActionEndDX6
	// Seg6ActionEndDX4 is decapsulation with IPv4 cross-connect.
	Seg6ActionEndDX4
	// Seg6ActionEndDT6 is decapsulation with IPv6 table lookup.
	Seg6ActionEndDT6
	// Seg6ActionEndDT4 is decapsulation with IPv4 table lookup.
	Seg6ActionEndDT4
	// Seg6ActionEndDT46 is decapsulation with IP table lookup.
	Seg6ActionEndDT46
	// Seg6ActionB6Encaps is endpoint bound to an SRv6 encapsulation policy.
	Seg6ActionB6Encaps
	// Seg6ActionB6EncapsRed is B6.Encaps with reduced SRH.
	Seg6ActionB6EncapsRed
	// Seg6ActionB6Insert is endpoint bound to an SRv6 insertion policy.
	Seg6ActionB6Insert
	// Seg6ActionB6InsertRed is B6.Insert with reduced SRH.
	Seg6ActionB6InsertRed
)

// seg6ActionNames maps behaviors to their conventional names.
var seg6ActionNames = [...]string{
	"unspec",
	"End",
	"End.X",
	"End.T",
	"End.DX2",
	"End.DX6",
	"End.DX4",
	"End.DT6",
	"End.DT4",
	"End.DT46",
	"B6.Encaps",
	"B6.Encaps.Red",
	"B6.Insert",
	"B6.Insert.Red",
}

// String returns the conventional name of the behavior.
func (a Seg6Action) String() string {
	if int(a) < len(seg6ActionNames) {
		return seg6ActionNames[a]
	}
	return fmt.Sprintf(unknownFmt, uint32(a))
}

// Seg6localCtx carries the behavior-specific arguments of a seg6local
// nexthop: the cross-connect nexthop addresses and the lookup table.
type Seg6localCtx struct {
	// NH4 is the IPv4 cross-connect nexthop (End.DX4).
	NH4 netip.Addr
	// NH6 is the IPv6 cross-connect nexthop (End.X, End.DX6).
	NH6 netip.Addr
	// Table is the lookup table id (End.T, End.DT4, End.DT6, End.DT46).
	Table uint32
}

// SRv6Nexthop is the optional SRv6 state of a nexthop. A nexthop carries
// either a seg6local behavior (a localsid being instantiated) or a segment
// list (a VPN route being steered), never both.
type SRv6Nexthop struct {
	// LocalAction is the seg6local endpoint behavior, Seg6ActionUnspec
	// when the nexthop is not a localsid.
	LocalAction Seg6Action

	// LocalCtx holds the behavior-specific arguments for LocalAction.
	LocalCtx Seg6localCtx

	// Segs is the first SRv6 segment of the encapsulation (the VPN SID).
	// The zero Addr means no segment list is attached.
	Segs netip.Addr
}

// HasSegs reports whether a non-zero segment list is attached.
func (s *SRv6Nexthop) HasSegs() bool {
	return s != nil && s.Segs.IsValid() && s.Segs != netip.IPv6Unspecified()
}

// IsLocalSID reports whether the nexthop instantiates a localsid.
func (s *SRv6Nexthop) IsLocalSID() bool {
	return s != nil && s.LocalAction != Seg6ActionUnspec
}

// -------------------------------------------------------------------------
// Nexthops
// -------------------------------------------------------------------------

// Nexthop is a single forwarding leg of a route or nexthop group.
type Nexthop struct {
	// Gateway is the nexthop address; the zero Addr for interface routes.
	Gateway netip.Addr

	// IfIndex is the outgoing interface index, 0 when unknown.
	IfIndex int32

	// Weight is the ECMP weight (1-based, 0 treated as 1).
	Weight uint8

	// Blackhole marks a drop nexthop.
	Blackhole bool

	// Labels is the MPLS label stack pushed on this leg, outermost first.
	Labels []uint32

	// SRv6 is the optional SRv6 state, nil for plain nexthops.
	SRv6 *SRv6Nexthop
}

// NexthopGroup is an ordered set of nexthops attached to a route context.
type NexthopGroup struct {
	// Nexthops holds the legs; the first one decides SRv6 handling.
	Nexthops []Nexthop
}

// Primary returns the first nexthop, or nil when the group is empty.
func (g *NexthopGroup) Primary() *Nexthop {
	if g == nil || len(g.Nexthops) == 0 {
		return nil
	}
	return &g.Nexthops[0]
}

// -------------------------------------------------------------------------
// SRv6 Locators
// -------------------------------------------------------------------------

// SRv6Locator describes a locator the engine carved SIDs out of. The bit
// lengths describe the SID structure; USID marks locators whose behaviors
// are advertised as their uSID variants.
type SRv6Locator struct {
	// Name is the operator-assigned locator name.
	Name string

	// Prefix is the locator prefix; SIDs under it match this locator.
	Prefix netip.Prefix

	// BlockBits is the SID structure block length in bits.
	BlockBits uint8
	// NodeBits is the SID structure node length in bits.
	NodeBits uint8
	// FunctionBits is the SID structure function length in bits.
	FunctionBits uint8
	// ArgumentBits is the SID structure argument length in bits.
	ArgumentBits uint8

	// USID marks the locator as a uSID (micro-segment) block.
	USID bool
}

// Matches reports whether the SID prefix falls inside the locator prefix.
func (l *SRv6Locator) Matches(sid netip.Prefix) bool {
	if l == nil || !l.Prefix.IsValid() || !sid.IsValid() {
		return false
	}
	return l.Prefix.Bits() <= sid.Bits() && l.Prefix.Contains(sid.Addr())
}
