package fpmnl

import (
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/dantte-lp/gofpm/internal/dataplane"
)

// MsgHdr is a decoded netlink message header.
type MsgHdr struct {
	Len   uint32
	Type  uint16
	Flags uint16
	Seq   uint32
	PID   uint32
}

// ParseMsgHdr decodes the leading netlink header from b.
func ParseMsgHdr(b []byte) (MsgHdr, error) {
	if len(b) < NlmsgHdrLen {
		return MsgHdr{}, fmt.Errorf("netlink header: have %d bytes, need %d: %w",
			len(b), NlmsgHdrLen, ErrMsgTruncated)
	}
	return MsgHdr{
		Len:   native.Uint32(b[0:4]),
		Type:  native.Uint16(b[4:6]),
		Flags: native.Uint16(b[6:8]),
		Seq:   native.Uint32(b[8:12]),
		PID:   native.Uint32(b[12:16]),
	}, nil
}

// protoFromWire maps an rtm_protocol wire value back to the route origin.
func protoFromWire(p uint8) dataplane.RouteProtocol {
	switch p {
	case rtprotKernel:
		return dataplane.ProtoKernel
	case rtprotStatic:
		return dataplane.ProtoStatic
	case rtprotRIP:
		return dataplane.ProtoRIP
	case rtprotOSPF:
		return dataplane.ProtoOSPF
	case rtprotISIS:
		return dataplane.ProtoISIS
	case rtprotBGP:
		return dataplane.ProtoBGP
	case rtprotEIGRP:
		return dataplane.ProtoEIGRP
	case rtprotLDP:
		return dataplane.ProtoLDP
	case rtprotSRTE:
		return dataplane.ProtoSRTE
	default:
		return dataplane.ProtoUnknown
	}
}

// DecodeRouteNotify decodes an inbound RTM_NEWROUTE notification into a
// route-notify context: destination, table and origin protocol. The caller
// owns the returned context.
func DecodeRouteNotify(b []byte) (*dataplane.Context, error) {
	hdr, err := ParseMsgHdr(b)
	if err != nil {
		return nil, err
	}
	if int(hdr.Len) > len(b) || hdr.Len < NlmsgHdrLen+rtMsgLen {
		return nil, fmt.Errorf("route notify: length %d out of range: %w", hdr.Len, ErrMsgTruncated)
	}

	family := b[NlmsgHdrLen]
	dstLen := b[NlmsgHdrLen+1]
	table := uint32(b[NlmsgHdrLen+4])
	proto := b[NlmsgHdrLen+5]

	var dst netip.Addr
	switch family {
	case unix.AF_INET:
		dst = netip.IPv4Unspecified()
	case unix.AF_INET6:
		dst = netip.IPv6Unspecified()
	default:
		return nil, fmt.Errorf("route notify: family %d: %w", family, ErrInvalidContext)
	}

	// Walk the attributes for the destination and a table override.
	off := int(NlmsgHdrLen + rtMsgLen)
	for off+nlmsgAlignTo <= int(hdr.Len) {
		attrLen := int(native.Uint16(b[off : off+2]))
		attrType := native.Uint16(b[off+2 : off+4])
		if attrLen < nlmsgAlignTo || off+attrLen > int(hdr.Len) {
			return nil, fmt.Errorf("route notify: attribute %d length %d: %w",
				attrType, attrLen, ErrMsgTruncated)
		}
		payload := b[off+4 : off+attrLen]

		switch attrType {
		case unix.RTA_DST:
			switch {
			case family == unix.AF_INET && len(payload) == ipv4AddrLen:
				dst = netip.AddrFrom4([4]byte(payload))
			case family == unix.AF_INET6 && len(payload) == ipv6AddrLen:
				dst = netip.AddrFrom16([16]byte(payload))
			default:
				return nil, fmt.Errorf("route notify: destination length %d: %w",
					len(payload), ErrInvalidContext)
			}
		case unix.RTA_TABLE:
			if len(payload) >= 4 {
				table = native.Uint32(payload)
			}
		}

		off += nlmsgAlign(attrLen)
	}

	ctx := dataplane.NewContext()
	ctx.Op = dataplane.OpRouteNotify
	ctx.Dest = netip.PrefixFrom(dst, int(dstLen))
	ctx.TableID = table
	ctx.Proto = protoFromWire(proto)
	return ctx, nil
}
