package fpmnl_test

import (
	"errors"
	"net/netip"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/dantte-lp/gofpm/internal/dataplane"
	"github.com/dantte-lp/gofpm/internal/fpmnl"
)

func TestDecodeRouteNotifyRoundTrip(t *testing.T) {
	t.Parallel()

	// Encode a plain route and feed it back through the notify decoder.
	ctx := v4RouteCtx()
	buf := make([]byte, fpmnl.PacketBufSize)
	n, err := fpmnl.EncodeRouteMultipath(unix.RTM_NEWROUTE, ctx, buf, false, false)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := fpmnl.DecodeRouteNotify(buf[:n])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	defer dataplane.FreeContext(got)

	if got.Op != dataplane.OpRouteNotify {
		t.Errorf("op = %v, want RouteNotify", got.Op)
	}
	if got.Dest != netip.MustParsePrefix("10.0.0.0/24") {
		t.Errorf("dest = %s, want 10.0.0.0/24", got.Dest)
	}
	// The route was encoded with the VRF id substituted into the table
	// field, so the decoder reports the VRF number.
	if got.TableID != 5 {
		t.Errorf("table = %d, want 5", got.TableID)
	}
	if got.Proto != dataplane.ProtoBGP {
		t.Errorf("proto = %v, want BGP", got.Proto)
	}
}

func TestDecodeRouteNotifyTableAttr(t *testing.T) {
	t.Parallel()

	ctx := v4RouteCtx()
	ctx.VRFID = 4000
	buf := make([]byte, fpmnl.PacketBufSize)
	n, err := fpmnl.EncodeRouteMultipath(unix.RTM_NEWROUTE, ctx, buf, false, false)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := fpmnl.DecodeRouteNotify(buf[:n])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	defer dataplane.FreeContext(got)

	if got.TableID != 4000 {
		t.Errorf("table = %d, want 4000 from RTA_TABLE", got.TableID)
	}
}

func TestDecodeRouteNotifyTruncated(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"header only claims more", func() []byte {
			b := make([]byte, 16)
			native.PutUint32(b[0:4], 64)
			return b
		}()},
		{"length below headers", func() []byte {
			b := make([]byte, 20)
			native.PutUint32(b[0:4], 20)
			return b
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := fpmnl.DecodeRouteNotify(tt.data); !errors.Is(err, fpmnl.ErrMsgTruncated) {
				t.Errorf("err = %v, want ErrMsgTruncated", err)
			}
		})
	}
}

func TestParseMsgHdr(t *testing.T) {
	t.Parallel()

	b := make([]byte, 16)
	native.PutUint32(b[0:4], 32)
	native.PutUint16(b[4:6], unix.RTM_NEWROUTE)
	native.PutUint16(b[6:8], unix.NLM_F_REQUEST)
	native.PutUint32(b[8:12], 99)

	hdr, err := fpmnl.ParseMsgHdr(b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if hdr.Len != 32 || hdr.Type != unix.RTM_NEWROUTE || hdr.Flags != unix.NLM_F_REQUEST || hdr.Seq != 99 {
		t.Errorf("decoded header = %+v", hdr)
	}

	if _, err := fpmnl.ParseMsgHdr(b[:10]); !errors.Is(err, fpmnl.ErrMsgTruncated) {
		t.Errorf("short parse err = %v, want ErrMsgTruncated", err)
	}
}
