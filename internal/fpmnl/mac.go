package fpmnl

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/dantte-lp/gofpm/internal/dataplane"
)

// macAddrLen is the Ethernet MAC address size.
const macAddrLen = 6

// EncodeMAC encodes an EVPN MAC FDB operation as an AF_BRIDGE neighbor
// message against the VXLAN interface, carrying the MAC, the remote VTEP
// and the VNI.
func EncodeMAC(ctx *dataplane.Context, buf []byte) (int, error) {
	if len(ctx.MAC.Addr) != macAddrLen {
		return 0, fmt.Errorf("mac fdb %v: bad address length %d: %w",
			ctx.Op, len(ctx.MAC.Addr), ErrInvalidContext)
	}

	var cmd, flags uint16
	switch ctx.Op {
	case dataplane.OpMACInstall:
		cmd = unix.RTM_NEWNEIGH
		flags = unix.NLM_F_REQUEST | unix.NLM_F_CREATE | unix.NLM_F_REPLACE
	case dataplane.OpMACDelete:
		cmd = unix.RTM_DELNEIGH
		flags = unix.NLM_F_REQUEST
	default:
		return 0, fmt.Errorf("mac fdb: op %v: %w", ctx.Op, ErrInvalidContext)
	}

	b := newBuilder(buf)
	if !b.startMsg(cmd, flags) {
		return 0, ErrNoSpace
	}

	ndFlags := uint8(ntfSelf | ntfMaster)
	if ctx.MAC.Sticky {
		ndFlags |= ntfSticky
	}
	ndm := ndMsg{
		Family:  unix.AF_BRIDGE,
		IfIndex: ctx.MAC.IfIndex,
		State:   nudNoARP | nudReachable,
		Flags:   ndFlags,
	}
	if !ndm.appendTo(b) {
		return 0, ErrNoSpace
	}

	if !b.addAttr(ndaLLAddr, ctx.MAC.Addr) {
		return 0, ErrNoSpace
	}
	if ctx.MAC.VTEP.IsValid() {
		if !b.addAttr(ndaDst, addrBytes(ctx.MAC.VTEP)) {
			return 0, ErrNoSpace
		}
	}
	if ctx.MAC.VNI != 0 && !b.addAttr32(ndaVNI, ctx.MAC.VNI) {
		return 0, ErrNoSpace
	}
	if ctx.MAC.BridgeIfIndex != 0 && !b.addAttr32(ndaMaster, uint32(ctx.MAC.BridgeIfIndex)) {
		return 0, ErrNoSpace
	}
	if ctx.MAC.VLAN != 0 && !b.addAttr16(ndaVLAN, ctx.MAC.VLAN) {
		return 0, ErrNoSpace
	}

	return b.finish(), nil
}
