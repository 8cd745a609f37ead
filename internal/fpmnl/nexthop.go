package fpmnl

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/dantte-lp/gofpm/internal/dataplane"
)

// nexthopGrpLen is the serialized size of struct nexthop_grp
// (linux/nexthop.h): id u32, weight u8, two reserved bytes padded to 8.
const nexthopGrpLen = 8

// EncodeNexthop encodes a nexthop-group operation as an RTM_NEWNEXTHOP or
// RTM_DELNEXTHOP message. Deletes carry only the group id; installs carry
// either the member-group array or the singleton gateway/interface legs.
func EncodeNexthop(cmd uint16, ctx *dataplane.Context, buf []byte) (int, error) {
	if ctx.NexthopID == 0 {
		return 0, fmt.Errorf("nexthop %v: zero id: %w", ctx.Op, ErrInvalidContext)
	}

	b := newBuilder(buf)

	flags := uint16(unix.NLM_F_REQUEST)
	if cmd == unix.RTM_NEWNEXTHOP {
		flags |= unix.NLM_F_CREATE | unix.NLM_F_REPLACE
	}
	if !b.startMsg(cmd, flags) {
		return 0, ErrNoSpace
	}

	nhm := nhMsg{
		Family:   unix.AF_UNSPEC,
		Scope:    unix.RT_SCOPE_UNIVERSE,
		Protocol: protoWire(ctx.NexthopProto),
	}

	// Singleton groups advertise the gateway family in the header.
	var gw *dataplane.Nexthop
	if len(ctx.NexthopGroups) == 0 && len(ctx.Nexthops) > 0 {
		gw = &ctx.Nexthops[0]
		if gw.Gateway.IsValid() {
			if gw.Gateway.Is4() || gw.Gateway.Is4In6() {
				nhm.Family = unix.AF_INET
			} else {
				nhm.Family = unix.AF_INET6
			}
		}
	}
	if !nhm.appendTo(b) {
		return 0, ErrNoSpace
	}

	if !b.addAttr32(nhaID, ctx.NexthopID) {
		return 0, ErrNoSpace
	}

	if cmd == unix.RTM_DELNEXTHOP {
		return b.finish(), nil
	}

	switch {
	case len(ctx.NexthopGroups) > 0:
		grp := make([]byte, nexthopGrpLen*len(ctx.NexthopGroups))
		for i, m := range ctx.NexthopGroups {
			off := i * nexthopGrpLen
			native.PutUint32(grp[off:], m.ID)
			weight := m.Weight
			if weight > 0 {
				weight--
			}
			grp[off+4] = weight
		}
		if !b.addAttr(nhaGroup, grp) {
			return 0, ErrNoSpace
		}

	case gw != nil:
		if gw.Blackhole {
			if !b.addAttrFlag(nhaBlackhole) {
				return 0, ErrNoSpace
			}
			break
		}
		if gw.IfIndex != 0 && !b.addAttr32(nhaOIF, uint32(gw.IfIndex)) {
			return 0, ErrNoSpace
		}
		if gw.Gateway.IsValid() {
			if !b.addAttr(nhaGateway, addrBytes(gw.Gateway)) {
				return 0, ErrNoSpace
			}
		}

	default:
		return 0, fmt.Errorf("nexthop %d: no members: %w", ctx.NexthopID, ErrInvalidContext)
	}

	return b.finish(), nil
}
