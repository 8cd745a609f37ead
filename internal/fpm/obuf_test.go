package fpm_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/dantte-lp/gofpm/internal/fpm"
)

func TestOutputBufferAppendAndDrain(t *testing.T) {
	t.Parallel()

	b := fpm.NewOutputBuffer(1024)

	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	n, err := b.AppendFrames(payload)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if n != fpm.FrameHeaderSize+len(payload) {
		t.Errorf("appended %d bytes, want %d", n, fpm.FrameHeaderSize+len(payload))
	}
	if b.Pending() != n {
		t.Errorf("pending = %d, want %d", b.Pending(), n)
	}

	out := make([]byte, 64)
	got := b.Peek(out)
	if got != n {
		t.Fatalf("peek = %d bytes, want %d", got, n)
	}
	want := append([]byte{1, 1, 0, 8}, payload...)
	if !bytes.Equal(out[:got], want) {
		t.Errorf("frame bytes = %x, want %x", out[:got], want)
	}

	b.Advance(got)
	if b.Pending() != 0 {
		t.Errorf("pending after drain = %d, want 0", b.Pending())
	}
	if b.Writable() != 1024 {
		t.Errorf("writable after drain = %d, want full capacity", b.Writable())
	}
}

func TestOutputBufferAdmissionIsAtomic(t *testing.T) {
	t.Parallel()

	b := fpm.NewOutputBuffer(32)

	// Two frames totalling 36 bytes exceed the 32-byte capacity: neither
	// may be written.
	m1 := make([]byte, 20)
	m2 := make([]byte, 8)
	if _, err := b.AppendFrames(m1, m2); !errors.Is(err, fpm.ErrBufferFull) {
		t.Fatalf("err = %v, want ErrBufferFull", err)
	}
	if b.Pending() != 0 {
		t.Errorf("pending = %d after failed admission, want 0", b.Pending())
	}

	// Each alone fits.
	if _, err := b.AppendFrames(m2); err != nil {
		t.Fatalf("single frame append: %v", err)
	}
}

func TestOutputBufferPartialAdvanceKeepsTail(t *testing.T) {
	t.Parallel()

	b := fpm.NewOutputBuffer(1024)
	if _, err := b.AppendFrames([]byte{1, 2, 3, 4}, []byte{5, 6, 7, 8}); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Consume only the first frame's worth.
	b.Advance(8)
	out := make([]byte, 64)
	n := b.Peek(out)
	want := append([]byte{1, 1, 0, 8}, 5, 6, 7, 8)
	if !bytes.Equal(out[:n], want) {
		t.Errorf("remaining bytes = %x, want %x", out[:n], want)
	}
}

func TestOutputBufferReset(t *testing.T) {
	t.Parallel()

	b := fpm.NewOutputBuffer(64)
	if _, err := b.AppendFrames([]byte{1, 2, 3}); err != nil {
		t.Fatalf("append: %v", err)
	}
	b.Reset()
	if b.Pending() != 0 {
		t.Errorf("pending after reset = %d, want 0", b.Pending())
	}
	if b.Writable() != 64 {
		t.Errorf("writable after reset = %d, want 64", b.Writable())
	}
}

func TestOutputBufferOversizedFrame(t *testing.T) {
	t.Parallel()

	b := fpm.NewOutputBuffer(fpm.OutputBufSize)
	huge := make([]byte, fpm.MaxFrameSize)
	if _, err := b.AppendFrames(huge); !errors.Is(err, fpm.ErrFrameLength) {
		t.Errorf("err = %v, want ErrFrameLength for a frame beyond the u16 length", err)
	}
}
