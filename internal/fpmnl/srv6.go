package fpmnl

import (
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/dantte-lp/gofpm/internal/dataplane"
)

// EngineView is the slice of engine state the SRv6 encoders need: VRF
// resolution for the table-lookup behaviors, locator matching for the SID
// format TLV and uSID substitution, and the encapsulation source address.
// Methods are called from whichever loop encodes: the plugin loop or the
// engine loop during replay.
type EngineView interface {
	VRFNameByTableID(tableID uint32) (string, bool)
	LocatorMatch(sid netip.Prefix) *dataplane.SRv6Locator
	EncapSourceAddr() netip.Addr
}

// EncodeSRv6 encodes a route operation whose nexthop carries SRv6 state:
// a localsid instantiation when a seg6local behavior is attached, or a VPN
// route with SRv6 encapsulation when a segment list is attached.
//
// cmd is RTM_NEWROUTE or RTM_DELROUTE; localsids are remapped to the
// custom localsid message types.
func EncodeSRv6(cmd uint16, ctx *dataplane.Context, buf []byte, view EngineView, v6Replace bool) (int, error) {
	nh := ctx.NHG.Primary()
	if nh == nil || nh.SRv6 == nil {
		return 0, fmt.Errorf("srv6 route %s: no srv6 nexthop: %w", ctx.Dest, ErrInvalidContext)
	}

	switch {
	case nh.SRv6.IsLocalSID():
		switch cmd {
		case unix.RTM_NEWROUTE:
			cmd = RTMNewSRv6LocalSID
		case unix.RTM_DELROUTE:
			cmd = RTMDelSRv6LocalSID
		}
		return encodeLocalSID(cmd, ctx, nh, buf, view, v6Replace)

	case nh.SRv6.HasSegs():
		return encodeVPNRoute(cmd, ctx, nh, buf, view, v6Replace)

	default:
		return 0, fmt.Errorf("srv6 route %s: nexthop carries neither behavior nor segments: %w",
			ctx.Dest, ErrInvalidContext)
	}
}

// localSIDAction maps the behavior to its ACTION TLV value, substituting
// the uSID variant when the matched locator is a uSID block. End.T has no
// uSID rendering and is always emitted as-is.
func localSIDAction(a dataplane.Seg6Action, usid bool) (uint32, bool) {
	type actionPair struct{ plain, micro uint32 }
	pairs := map[dataplane.Seg6Action]actionPair{
		dataplane.Seg6ActionEnd:     {ActionEnd, ActionUN},
		dataplane.Seg6ActionEndX:    {ActionEndX, ActionUA},
		dataplane.Seg6ActionEndT:    {ActionEndT, ActionEndT},
		dataplane.Seg6ActionEndDX6:  {ActionEndDX6, ActionUDX6},
		dataplane.Seg6ActionEndDX4:  {ActionEndDX4, ActionUDX4},
		dataplane.Seg6ActionEndDT6:  {ActionEndDT6, ActionUDT6},
		dataplane.Seg6ActionEndDT4:  {ActionEndDT4, ActionUDT4},
		dataplane.Seg6ActionEndDT46: {ActionEndDT46, ActionUDT46},
	}
	p, ok := pairs[a]
	if !ok {
		return 0, false
	}
	if usid {
		return p.micro, true
	}
	return p.plain, true
}

// encodeLocalSID builds the custom localsid message: SID value, optional
// SID format nest, and for installs the behavior TLVs.
func encodeLocalSID(cmd uint16, ctx *dataplane.Context, nh *dataplane.Nexthop, buf []byte, view EngineView, v6Replace bool) (int, error) {
	if !ctx.Dest.Addr().Is6() || ctx.Dest.Addr().Is4In6() {
		return 0, fmt.Errorf("localsid %s: SID must be IPv6: %w", ctx.Dest, ErrInvalidContext)
	}

	b := newBuilder(buf)

	flags := uint16(unix.NLM_F_REQUEST)
	if cmd == RTMNewSRv6LocalSID {
		flags |= unix.NLM_F_CREATE
		if v6Replace {
			flags |= unix.NLM_F_REPLACE
		}
	}
	if !b.startMsg(cmd, flags) {
		return 0, ErrNoSpace
	}

	rtm := rtMsg{
		Family:   unix.AF_INET6,
		DstLen:   uint8(ctx.Dest.Bits()),
		Protocol: routeCmdProto(cmd, ctx),
		Scope:    unix.RT_SCOPE_UNIVERSE,
	}
	if !rtm.appendTo(b) {
		return 0, ErrNoSpace
	}

	sid := ctx.Dest.Addr().As16()
	if !b.addAttr(LocalSIDValue, sid[:]) {
		return 0, ErrNoSpace
	}
	if !putVRFTable(b, ctx.VRFID) {
		return 0, ErrNoSpace
	}

	locator := view.LocatorMatch(ctx.Dest)
	if locator != nil {
		nest := b.nestStart(LocalSIDFormat)
		if nest < 0 {
			return 0, ErrNoSpace
		}
		ok := true
		if locator.BlockBits != 0 {
			ok = ok && b.addAttr8(LocalSIDFormatBlockLen, locator.BlockBits)
		}
		if locator.NodeBits != 0 {
			ok = ok && b.addAttr8(LocalSIDFormatNodeLen, locator.NodeBits)
		}
		if locator.FunctionBits != 0 {
			ok = ok && b.addAttr8(LocalSIDFormatFuncLen, locator.FunctionBits)
		}
		if locator.ArgumentBits != 0 {
			ok = ok && b.addAttr8(LocalSIDFormatArgLen, locator.ArgumentBits)
		}
		if !ok {
			return 0, ErrNoSpace
		}
		b.nestEnd(nest)
	}

	// Deletes identify the localsid by its SID value alone.
	if cmd == RTMDelSRv6LocalSID {
		return b.finish(), nil
	}

	srv6 := nh.SRv6
	usid := locator != nil && locator.USID
	action, ok := localSIDAction(srv6.LocalAction, usid)
	if !ok {
		return 0, fmt.Errorf("localsid %s: unsupported behavior %s: %w",
			ctx.Dest, srv6.LocalAction, ErrInvalidContext)
	}
	if !b.addAttr32(LocalSIDAction, action) {
		return 0, ErrNoSpace
	}

	switch srv6.LocalAction {
	case dataplane.Seg6ActionEnd:
		// The SID value and action say it all.

	case dataplane.Seg6ActionEndX, dataplane.Seg6ActionEndDX6:
		nh6 := srv6.LocalCtx.NH6.As16()
		if !b.addAttr(LocalSIDNH6, nh6[:]) {
			return 0, ErrNoSpace
		}

	case dataplane.Seg6ActionEndDX4:
		nh4 := srv6.LocalCtx.NH4.As4()
		if !b.addAttr(LocalSIDNH4, nh4[:]) {
			return 0, ErrNoSpace
		}

	case dataplane.Seg6ActionEndT, dataplane.Seg6ActionEndDT6,
		dataplane.Seg6ActionEndDT4, dataplane.Seg6ActionEndDT46:
		vrfName, found := view.VRFNameByTableID(srv6.LocalCtx.Table)
		if !found {
			return 0, fmt.Errorf("localsid %s: no VRF for table %d: %w",
				ctx.Dest, srv6.LocalCtx.Table, ErrInvalidContext)
		}
		if !b.addAttrString(LocalSIDVRFName, vrfName) {
			return 0, ErrNoSpace
		}
	}

	return b.finish(), nil
}

// encodeVPNRoute builds a route message carrying the SRv6 VPN
// encapsulation nest: the encap source address and the VPN SID.
func encodeVPNRoute(cmd uint16, ctx *dataplane.Context, nh *dataplane.Nexthop, buf []byte, view EngineView, v6Replace bool) (int, error) {
	if !ctx.Dest.IsValid() {
		return 0, fmt.Errorf("srv6 vpn route: no destination: %w", ErrInvalidContext)
	}

	b := newBuilder(buf)

	flags := uint16(unix.NLM_F_REQUEST)
	v4 := ctx.Dest.Addr().Is4() || ctx.Dest.Addr().Is4In6()
	if cmd == unix.RTM_NEWROUTE {
		flags |= unix.NLM_F_CREATE
		if v4 || v6Replace {
			flags |= unix.NLM_F_REPLACE
		}
	}
	if !b.startMsg(cmd, flags) {
		return 0, ErrNoSpace
	}

	family := uint8(unix.AF_INET6)
	if v4 {
		family = unix.AF_INET
	}
	rtm := rtMsg{
		Family:   family,
		DstLen:   uint8(ctx.Dest.Bits()),
		Protocol: routeCmdProto(cmd, ctx),
		Scope:    unix.RT_SCOPE_UNIVERSE,
		Type:     unix.RTN_UNICAST,
	}
	if !rtm.appendTo(b) {
		return 0, ErrNoSpace
	}

	if !b.addAttr(unix.RTA_DST, addrBytes(ctx.Dest.Addr())) {
		return 0, ErrNoSpace
	}
	if !putVRFTable(b, ctx.VRFID) {
		return 0, ErrNoSpace
	}

	if !b.addAttr16(rtaEncapType, RouteEncapSRv6) {
		return 0, ErrNoSpace
	}
	nest := b.nestStart(rtaEncap)
	if nest < 0 {
		return 0, ErrNoSpace
	}

	// The loopback's global address is the default encapsulation source;
	// all-zeros when the node has none.
	var src [ipv6AddrLen]byte
	if a := view.EncapSourceAddr(); a.IsValid() {
		src = a.As16()
	}
	if !b.addAttr(EncapSRv6EncapSrcAddr, src[:]) {
		return 0, ErrNoSpace
	}
	vpnSID := nh.SRv6.Segs.As16()
	if !b.addAttr(EncapSRv6VPNSID, vpnSID[:]) {
		return 0, ErrNoSpace
	}
	b.nestEnd(nest)

	return b.finish(), nil
}
