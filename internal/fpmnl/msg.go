package fpmnl

import (
	"encoding/binary"
	"errors"
)

// native is the byte order of netlink payloads: host order on the wire,
// exactly as the kernel would emit them.
var native = binary.NativeEndian

// NlmsgHdrLen is the fixed netlink message header size.
const NlmsgHdrLen = 16

// nlmsgAlignTo is the netlink message and attribute alignment.
const nlmsgAlignTo = 4

// Sentinel errors shared by all encoders.
var (
	// ErrNoSpace indicates the message does not fit in the scratch buffer.
	ErrNoSpace = errors.New("netlink message does not fit in buffer")

	// ErrInvalidContext indicates the context cannot be encoded as the
	// requested message (missing nexthop, wrong family, and so on).
	ErrInvalidContext = errors.New("context not encodable")

	// ErrMsgTruncated indicates an inbound message is shorter than its
	// headers claim.
	ErrMsgTruncated = errors.New("netlink message truncated")
)

// nlmsgAlign rounds n up to the netlink alignment.
func nlmsgAlign(n int) int {
	return (n + nlmsgAlignTo - 1) &^ (nlmsgAlignTo - 1)
}

// -------------------------------------------------------------------------
// Message Builder
// -------------------------------------------------------------------------

// builder assembles one netlink message in a caller-provided scratch
// buffer. Every append is bounds-checked against the buffer: a false
// return means the message does not fit, mirroring the all-or-nothing
// admission the output buffer requires.
type builder struct {
	buf []byte
	n   int
}

// newBuilder wraps buf. The builder never grows it.
func newBuilder(buf []byte) *builder {
	return &builder{buf: buf}
}

// startMsg writes the netlink header with the given type and flags. The
// length field is fixed up by finish.
func (b *builder) startMsg(msgType, flags uint16) bool {
	if len(b.buf) < NlmsgHdrLen {
		return false
	}
	for i := 0; i < NlmsgHdrLen; i++ {
		b.buf[i] = 0
	}
	native.PutUint16(b.buf[4:6], msgType)
	native.PutUint16(b.buf[6:8], flags)
	b.n = NlmsgHdrLen
	return true
}

// append copies raw bytes (a fixed ancillary header) into the message.
func (b *builder) append(data []byte) bool {
	if b.n+len(data) > len(b.buf) {
		return false
	}
	copy(b.buf[b.n:], data)
	b.n += len(data)
	return true
}

// addAttr appends one attribute with the given payload.
func (b *builder) addAttr(typ uint16, payload []byte) bool {
	attrLen := nlmsgAlignTo + len(payload)
	need := nlmsgAlign(attrLen)
	if b.n+need > len(b.buf) {
		return false
	}
	native.PutUint16(b.buf[b.n:], uint16(attrLen))
	native.PutUint16(b.buf[b.n+2:], typ)
	copy(b.buf[b.n+4:], payload)
	for i := b.n + attrLen; i < b.n+need; i++ {
		b.buf[i] = 0
	}
	b.n += need
	return true
}

// addAttr8 appends a u8 attribute.
func (b *builder) addAttr8(typ uint16, v uint8) bool {
	return b.addAttr(typ, []byte{v})
}

// addAttr16 appends a u16 attribute in native order.
func (b *builder) addAttr16(typ uint16, v uint16) bool {
	var p [2]byte
	native.PutUint16(p[:], v)
	return b.addAttr(typ, p[:])
}

// addAttr32 appends a u32 attribute in native order.
func (b *builder) addAttr32(typ uint16, v uint32) bool {
	var p [4]byte
	native.PutUint32(p[:], v)
	return b.addAttr(typ, p[:])
}

// addAttrFlag appends a zero-length flag attribute.
func (b *builder) addAttrFlag(typ uint16) bool {
	return b.addAttr(typ, nil)
}

// addAttrString appends a NUL-terminated string attribute.
func (b *builder) addAttrString(typ uint16, s string) bool {
	p := make([]byte, len(s)+1)
	copy(p, s)
	return b.addAttr(typ, p)
}

// nestStart opens a nested attribute and returns its offset for nestEnd.
// Returns -1 when the nest header does not fit.
func (b *builder) nestStart(typ uint16) int {
	off := b.n
	if !b.addAttr(typ, nil) {
		return -1
	}
	return off
}

// nestEnd fixes up the nested attribute length opened at off.
func (b *builder) nestEnd(off int) {
	native.PutUint16(b.buf[off:], uint16(b.n-off))
}

// finish fixes up nlmsg_len and returns the aligned total length.
func (b *builder) finish() int {
	total := nlmsgAlign(b.n)
	for i := b.n; i < total; i++ {
		b.buf[i] = 0
	}
	native.PutUint32(b.buf[0:4], uint32(total))
	return total
}

// -------------------------------------------------------------------------
// Fixed ancillary headers
// -------------------------------------------------------------------------

// rtMsg is struct rtmsg (linux/rtnetlink.h).
type rtMsg struct {
	Family   uint8
	DstLen   uint8
	SrcLen   uint8
	TOS      uint8
	Table    uint8
	Protocol uint8
	Scope    uint8
	Type     uint8
	Flags    uint32
}

// rtMsgLen is the serialized size of struct rtmsg.
const rtMsgLen = 12

func (m *rtMsg) appendTo(b *builder) bool {
	var p [rtMsgLen]byte
	p[0] = m.Family
	p[1] = m.DstLen
	p[2] = m.SrcLen
	p[3] = m.TOS
	p[4] = m.Table
	p[5] = m.Protocol
	p[6] = m.Scope
	p[7] = m.Type
	native.PutUint32(p[8:], m.Flags)
	return b.append(p[:])
}

// nhMsg is struct nhmsg (linux/nexthop.h).
type nhMsg struct {
	Family   uint8
	Scope    uint8
	Protocol uint8
	Flags    uint32
}

// nhMsgLen is the serialized size of struct nhmsg.
const nhMsgLen = 8

func (m *nhMsg) appendTo(b *builder) bool {
	var p [nhMsgLen]byte
	p[0] = m.Family
	p[1] = m.Scope
	p[2] = m.Protocol
	native.PutUint32(p[4:], m.Flags)
	return b.append(p[:])
}

// ndMsg is struct ndmsg (linux/neighbour.h).
type ndMsg struct {
	Family  uint8
	IfIndex int32
	State   uint16
	Flags   uint8
	Type    uint8
}

// ndMsgLen is the serialized size of struct ndmsg.
const ndMsgLen = 12

func (m *ndMsg) appendTo(b *builder) bool {
	var p [ndMsgLen]byte
	p[0] = m.Family
	native.PutUint32(p[4:], uint32(m.IfIndex))
	native.PutUint16(p[8:], m.State)
	p[10] = m.Flags
	p[11] = m.Type
	return b.append(p[:])
}

// rtNexthopLen is the serialized size of struct rtnexthop.
const rtNexthopLen = 8

// rtnhStart opens one struct rtnexthop inside an RTA_MULTIPATH payload and
// returns its offset for rtnhEnd. Returns -1 when it does not fit.
func (b *builder) rtnhStart(flags, hops uint8, ifIndex int32) int {
	off := b.n
	var p [rtNexthopLen]byte
	p[2] = flags
	p[3] = hops
	native.PutUint32(p[4:], uint32(ifIndex))
	if !b.append(p[:]) {
		return -1
	}
	return off
}

// rtnhEnd fixes up the rtnexthop length opened at off.
func (b *builder) rtnhEnd(off int) {
	native.PutUint16(b.buf[off:], uint16(b.n-off))
}

// mplsLabelStack encodes labels as an MPLS label stack, outermost first,
// bottom-of-stack set on the last entry. Each entry is big-endian per
// RFC 3032.
func mplsLabelStack(labels []uint32) []byte {
	p := make([]byte, 4*len(labels))
	for i, label := range labels {
		entry := label << mplsLabelShift
		if i == len(labels)-1 {
			entry |= mplsBoSBit
		}
		binary.BigEndian.PutUint32(p[i*4:], entry)
	}
	return p
}
