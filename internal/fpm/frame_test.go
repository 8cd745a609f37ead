package fpm_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/dantte-lp/gofpm/internal/fpm"
)

func TestFrameHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	buf := make([]byte, fpm.FrameHeaderSize)
	fpm.PutFrameHeader(buf, 52)

	if buf[0] != 1 || buf[1] != 1 {
		t.Errorf("header bytes = %x %x, want 01 01", buf[0], buf[1])
	}
	if got := binary.BigEndian.Uint16(buf[2:4]); got != 56 {
		t.Errorf("length field = %d, want 56 (payload + header)", got)
	}

	hdr, err := fpm.ParseFrameHeader(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if hdr.Length != 56 {
		t.Errorf("parsed length = %d, want 56", hdr.Length)
	}
}

func TestParseFrameHeaderValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"too short", []byte{1, 1, 0}, fpm.ErrFrameTooShort},
		{"bad version", []byte{2, 1, 0, 8}, fpm.ErrFrameHeader},
		{"bad type", []byte{1, 2, 0, 8}, fpm.ErrFrameHeader},
		// The version being right does not excuse a wrong type, and
		// vice versa: both fields must be exactly 1.
		{"both bad", []byte{0, 0, 0, 8}, fpm.ErrFrameHeader},
		{"length below header", []byte{1, 1, 0, 3}, fpm.ErrFrameLength},
		{"length zero", []byte{1, 1, 0, 0}, fpm.ErrFrameLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := fpm.ParseFrameHeader(tt.data); !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseFrameHeaderMinimal(t *testing.T) {
	t.Parallel()

	hdr, err := fpm.ParseFrameHeader([]byte{1, 1, 0, 4})
	if err != nil {
		t.Fatalf("a bare header frame is legal: %v", err)
	}
	if hdr.Length != fpm.FrameHeaderSize {
		t.Errorf("length = %d, want %d", hdr.Length, fpm.FrameHeaderSize)
	}
}
