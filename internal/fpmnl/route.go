package fpmnl

import (
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/dantte-lp/gofpm/internal/dataplane"
)

// protoWire maps a route origin protocol to its rtm_protocol wire value.
func protoWire(p dataplane.RouteProtocol) uint8 {
	switch p {
	case dataplane.ProtoKernel, dataplane.ProtoConnected:
		return rtprotKernel
	case dataplane.ProtoStatic:
		return rtprotStatic
	case dataplane.ProtoRIP:
		return rtprotRIP
	case dataplane.ProtoOSPF:
		return rtprotOSPF
	case dataplane.ProtoISIS:
		return rtprotISIS
	case dataplane.ProtoBGP:
		return rtprotBGP
	case dataplane.ProtoEIGRP:
		return rtprotEIGRP
	case dataplane.ProtoLDP:
		return rtprotLDP
	case dataplane.ProtoSRTE:
		return rtprotSRTE
	default:
		return rtprotRoutingDaemon
	}
}

// addrBytes returns the raw 4- or 16-byte representation of addr.
func addrBytes(addr netip.Addr) []byte {
	if addr.Is4() || addr.Is4In6() {
		b := addr.Unmap().As4()
		return b[:]
	}
	b := addr.As16()
	return b[:]
}

// routeCmdProto picks the rtm_protocol source: deletes (and the delete half
// of updates) describe the previously installed route.
func routeCmdProto(cmd uint16, ctx *dataplane.Context) uint8 {
	if cmd == unix.RTM_DELROUTE || cmd == RTMDelSRv6LocalSID {
		return protoWire(ctx.OldProto)
	}
	return protoWire(ctx.Proto)
}

// putVRFTable substitutes the VRF id for the table field: small ids go
// directly into rtm_table, larger ones into an RTA_TABLE attribute. The
// FPM peer keys its tables by VRF, not by kernel table id.
func putVRFTable(b *builder, vrfID uint32) bool {
	if vrfID < vrfTableInlineLimit {
		b.buf[rtmTableFieldOff] = uint8(vrfID)
		return true
	}
	b.buf[rtmTableFieldOff] = rtTableUnspec
	return b.addAttr32(unix.RTA_TABLE, vrfID)
}

// rtmTableFieldOff is the offset of rtm_table inside the message: netlink
// header plus the rtmsg table byte.
const rtmTableFieldOff = NlmsgHdrLen + 4

// EncodeRouteMultipath encodes a plain (non-SRv6) route operation as an
// RTM_NEWROUTE or RTM_DELROUTE message.
//
// Returns the number of bytes written. ErrNoSpace means the message did
// not fit in buf; other errors mean the context cannot be encoded.
func EncodeRouteMultipath(cmd uint16, ctx *dataplane.Context, buf []byte, useNHG, v6Replace bool) (int, error) {
	if !ctx.Dest.IsValid() {
		return 0, fmt.Errorf("route %v: no destination: %w", ctx.Op, ErrInvalidContext)
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
	if nh := ctx.NHG.Primary(); nh != nil && nh.Blackhole {
		rtm.Type = unix.RTN_BLACKHOLE
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

	// Deletes identify the route by destination and table alone.
	if cmd == unix.RTM_DELROUTE {
		return b.finish(), nil
	}

	if ctx.Metric != 0 && !b.addAttr32(unix.RTA_PRIORITY, ctx.Metric) {
		return 0, ErrNoSpace
	}

	// With nexthop groups enabled the route only references the group.
	if useNHG && ctx.NHGID != 0 {
		if !b.addAttr32(rtaNHID, ctx.NHGID) {
			return 0, ErrNoSpace
		}
		return b.finish(), nil
	}

	switch len(ctx.NHG.Nexthops) {
	case 0:
		return 0, fmt.Errorf("route %s: no nexthops: %w", ctx.Dest, ErrInvalidContext)

	case 1:
		nh := &ctx.NHG.Nexthops[0]
		if nh.Blackhole {
			break
		}
		if nh.Gateway.IsValid() {
			if !b.addAttr(unix.RTA_GATEWAY, addrBytes(nh.Gateway)) {
				return 0, ErrNoSpace
			}
		}
		if nh.IfIndex != 0 && !b.addAttr32(unix.RTA_OIF, uint32(nh.IfIndex)) {
			return 0, ErrNoSpace
		}

	default:
		nest := b.nestStart(unix.RTA_MULTIPATH)
		if nest < 0 {
			return 0, ErrNoSpace
		}
		for i := range ctx.NHG.Nexthops {
			nh := &ctx.NHG.Nexthops[i]
			hops := nh.Weight
			if hops > 0 {
				hops--
			}
			rtnh := b.rtnhStart(0, hops, nh.IfIndex)
			if rtnh < 0 {
				return 0, ErrNoSpace
			}
			if nh.Gateway.IsValid() {
				if !b.addAttr(unix.RTA_GATEWAY, addrBytes(nh.Gateway)) {
					return 0, ErrNoSpace
				}
			}
			b.rtnhEnd(rtnh)
		}
		b.nestEnd(nest)
	}

	return b.finish(), nil
}
