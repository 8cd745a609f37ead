package fpmnl_test

import (
	"encoding/binary"
	"testing"
)

// Shared decoding helpers for the encoder tests. They deliberately
// re-implement the rtnetlink layout independently of the builder so the
// tests verify wire bytes, not the encoder against itself.

var native = binary.NativeEndian

// nlHeader is the decoded 16-byte netlink message header.
type nlHeader struct {
	length  uint32
	msgType uint16
	flags   uint16
}

func parseNlHeader(t *testing.T, b []byte) nlHeader {
	t.Helper()
	if len(b) < 16 {
		t.Fatalf("message too short for netlink header: %d bytes", len(b))
	}
	return nlHeader{
		length:  native.Uint32(b[0:4]),
		msgType: native.Uint16(b[4:6]),
		flags:   native.Uint16(b[6:8]),
	}
}

// attr is one decoded netlink attribute.
type attr struct {
	typ     uint16
	payload []byte
}

// parseAttrs decodes the attribute run starting at off, in order.
func parseAttrs(t *testing.T, b []byte, off int) []attr {
	t.Helper()
	var out []attr
	for off+4 <= len(b) {
		alen := int(native.Uint16(b[off : off+2]))
		atyp := native.Uint16(b[off+2 : off+4])
		if alen < 4 || off+alen > len(b) {
			t.Fatalf("bad attribute at offset %d: len=%d", off, alen)
		}
		out = append(out, attr{typ: atyp, payload: b[off+4 : off+alen]})
		off += (alen + 3) &^ 3
	}
	return out
}

// findAttr returns the first attribute of the given type.
func findAttr(t *testing.T, attrs []attr, typ uint16) attr {
	t.Helper()
	for _, a := range attrs {
		if a.typ == typ {
			return a
		}
	}
	t.Fatalf("attribute %d not found", typ)
	return attr{}
}

// hasAttr reports whether the attribute run carries the given type.
func hasAttr(attrs []attr, typ uint16) bool {
	for _, a := range attrs {
		if a.typ == typ {
			return true
		}
	}
	return false
}
