// Package fpm implements the FPM dataplane provider core: the framed TCP
// stream to the Forwarding Plane Manager peer, the bounded output buffer
// and context queue between the engine and the plugin loop, the connection
// state machine with reconnect and replay, and the reconciliation walker
// that replays the engine tables after every connect.
package fpm

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// -------------------------------------------------------------------------
// FPM Frame Header
// -------------------------------------------------------------------------

// FrameHeaderSize is the fixed FPM frame header size in bytes.
const FrameHeaderSize = 4

// FrameVersion is the only FPM protocol version in existence.
const FrameVersion = 1

// FrameTypeNetlink marks a netlink payload. (Type 2 is protobuf, which
// this implementation never emits or accepts.)
const FrameTypeNetlink = 1

// MaxFrameSize is the largest encodable frame: the length field is an
// unsigned 16-bit total including the header itself.
const MaxFrameSize = 0xFFFF

// FrameHeader is a decoded FPM frame header.
//
// Wire format:
//
//	Byte 0:    version (must be 1)
//	Byte 1:    type (must be 1, netlink)
//	Bytes 2-3: total length including this header, big-endian
type FrameHeader struct {
	Version uint8
	Type    uint8
	Length  uint16
}

// Frame codec errors.
var (
	// ErrFrameHeader indicates the version or type byte is wrong. The
	// stream is unrecoverable and the connection must be reset.
	ErrFrameHeader = errors.New("bad FPM frame version/type")

	// ErrFrameLength indicates the length field cannot even cover the
	// header. The stream is unrecoverable.
	ErrFrameLength = errors.New("FPM frame length below header size")

	// ErrFrameTooShort indicates fewer than FrameHeaderSize bytes are
	// buffered; the caller waits for more input.
	ErrFrameTooShort = errors.New("incomplete FPM frame header")
)

// ParseFrameHeader decodes the frame header at the start of b.
//
// Both the version and the type byte must be exactly 1; a frame with
// either field wrong poisons the stream.
func ParseFrameHeader(b []byte) (FrameHeader, error) {
	if len(b) < FrameHeaderSize {
		return FrameHeader{}, ErrFrameTooShort
	}
	h := FrameHeader{
		Version: b[0],
		Type:    b[1],
		Length:  binary.BigEndian.Uint16(b[2:4]),
	}
	if h.Version != FrameVersion || h.Type != FrameTypeNetlink {
		return h, fmt.Errorf("version/type %d/%d, expected %d/%d: %w",
			h.Version, h.Type, FrameVersion, FrameTypeNetlink, ErrFrameHeader)
	}
	if h.Length < FrameHeaderSize {
		return h, fmt.Errorf("length %d: %w", h.Length, ErrFrameLength)
	}
	return h, nil
}

// PutFrameHeader writes the header for a payload of payloadLen bytes into
// b, which must be at least FrameHeaderSize long. The payload must have
// been verified to fit a frame beforehand.
func PutFrameHeader(b []byte, payloadLen int) {
	b[0] = FrameVersion
	b[1] = FrameTypeNetlink
	binary.BigEndian.PutUint16(b[2:4], uint16(FrameHeaderSize+payloadLen))
}
