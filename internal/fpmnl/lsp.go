package fpmnl

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/dantte-lp/gofpm/internal/dataplane"
)

// rtaViaPayload serializes struct rtvia: a u16 address family followed by
// the raw address bytes.
func rtaViaPayload(nh *dataplane.LSPNexthop) []byte {
	addr := addrBytes(nh.Gateway)
	p := make([]byte, 2+len(addr))
	family := uint16(unix.AF_INET6)
	if len(addr) == ipv4AddrLen {
		family = unix.AF_INET
	}
	native.PutUint16(p[0:2], family)
	copy(p[2:], addr)
	return p
}

// EncodeLSP encodes an MPLS label-switched-path operation as an AF_MPLS
// route message: RTA_DST carries the incoming label, each leg carries the
// via address, outgoing interface and outgoing label stack.
func EncodeLSP(ctx *dataplane.Context, buf []byte) (int, error) {
	if len(ctx.LSP.Nexthops) == 0 && ctx.Op != dataplane.OpLSPDelete {
		return 0, fmt.Errorf("lsp %d: no nexthops: %w", ctx.LSP.InLabel, ErrInvalidContext)
	}

	var cmd, flags uint16
	switch ctx.Op {
	case dataplane.OpLSPInstall:
		cmd = unix.RTM_NEWROUTE
		flags = unix.NLM_F_REQUEST | unix.NLM_F_CREATE
	case dataplane.OpLSPUpdate:
		cmd = unix.RTM_NEWROUTE
		flags = unix.NLM_F_REQUEST | unix.NLM_F_CREATE | unix.NLM_F_REPLACE
	case dataplane.OpLSPDelete:
		cmd = unix.RTM_DELROUTE
		flags = unix.NLM_F_REQUEST
	default:
		return 0, fmt.Errorf("lsp: op %v: %w", ctx.Op, ErrInvalidContext)
	}

	b := newBuilder(buf)
	if !b.startMsg(cmd, flags) {
		return 0, ErrNoSpace
	}

	rtm := rtMsg{
		Family:   unix.AF_MPLS,
		DstLen:   mplsLabelBits,
		Table:    unix.RT_TABLE_MAIN,
		Protocol: protoWire(ctx.Proto),
		Scope:    unix.RT_SCOPE_UNIVERSE,
		Type:     unix.RTN_UNICAST,
	}
	if !rtm.appendTo(b) {
		return 0, ErrNoSpace
	}

	// The incoming label is the MPLS route destination.
	if !b.addAttr(unix.RTA_DST, mplsLabelStack([]uint32{ctx.LSP.InLabel})) {
		return 0, ErrNoSpace
	}

	if cmd == unix.RTM_DELROUTE {
		return b.finish(), nil
	}

	if len(ctx.LSP.Nexthops) == 1 {
		nh := &ctx.LSP.Nexthops[0]
		if !encodeLSPLeg(b, nh, false) {
			return 0, ErrNoSpace
		}
		return b.finish(), nil
	}

	nest := b.nestStart(unix.RTA_MULTIPATH)
	if nest < 0 {
		return 0, ErrNoSpace
	}
	for i := range ctx.LSP.Nexthops {
		nh := &ctx.LSP.Nexthops[i]
		rtnh := b.rtnhStart(0, 0, nh.IfIndex)
		if rtnh < 0 {
			return 0, ErrNoSpace
		}
		if !encodeLSPLeg(b, nh, true) {
			return 0, ErrNoSpace
		}
		b.rtnhEnd(rtnh)
	}
	b.nestEnd(nest)

	return b.finish(), nil
}

// encodeLSPLeg appends the via/oif/out-label attributes of one leg. Inside
// a multipath nest the interface index lives in the rtnexthop header, so
// RTA_OIF is only emitted for singleton legs.
func encodeLSPLeg(b *builder, nh *dataplane.LSPNexthop, nested bool) bool {
	if nh.Gateway.IsValid() {
		if !b.addAttr(rtaVia, rtaViaPayload(nh)) {
			return false
		}
	}
	if !nested && nh.IfIndex != 0 {
		if !b.addAttr32(unix.RTA_OIF, uint32(nh.IfIndex)) {
			return false
		}
	}
	// Implicit-null out-labels mean pop: no RTA_NEWDST at all.
	if len(nh.OutLabels) > 0 {
		if !b.addAttr(rtaNewDst, mplsLabelStack(nh.OutLabels)) {
			return false
		}
	}
	return true
}
