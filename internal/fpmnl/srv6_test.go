package fpmnl_test

import (
	"bytes"
	"errors"
	"net/netip"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/dantte-lp/gofpm/internal/dataplane"
	"github.com/dantte-lp/gofpm/internal/fpmnl"
)

// fakeView is a canned EngineView for the SRv6 encoders.
type fakeView struct {
	vrfs     map[uint32]string
	locator  *dataplane.SRv6Locator
	encapSrc netip.Addr
}

func (v *fakeView) VRFNameByTableID(tableID uint32) (string, bool) {
	name, ok := v.vrfs[tableID]
	return name, ok
}

func (v *fakeView) LocatorMatch(sid netip.Prefix) *dataplane.SRv6Locator {
	if v.locator != nil && v.locator.Matches(sid) {
		return v.locator
	}
	return nil
}

func (v *fakeView) EncapSourceAddr() netip.Addr { return v.encapSrc }

// localSIDCtx builds an End.DT4 localsid install context.
func localSIDCtx() *dataplane.Context {
	ctx := dataplane.NewContext()
	ctx.Op = dataplane.OpRouteInstall
	ctx.Dest = netip.MustParsePrefix("fc00:0:1::/48")
	ctx.TableID = 100
	ctx.VRFID = 0
	ctx.Proto = dataplane.ProtoBGP
	ctx.NHG.Nexthops = append(ctx.NHG.Nexthops, dataplane.Nexthop{
		SRv6: &dataplane.SRv6Nexthop{
			LocalAction: dataplane.Seg6ActionEndDT4,
			LocalCtx:    dataplane.Seg6localCtx{Table: 100},
		},
	})
	return ctx
}

func TestEncodeLocalSIDEndDT4MicroSID(t *testing.T) {
	t.Parallel()

	view := &fakeView{
		vrfs: map[uint32]string{100: "red"},
		locator: &dataplane.SRv6Locator{
			Name:         "main",
			Prefix:       netip.MustParsePrefix("fc00:0:1::/48"),
			BlockBits:    32,
			NodeBits:     16,
			FunctionBits: 16,
			USID:         true,
		},
	}

	buf := make([]byte, fpmnl.PacketBufSize)
	n, err := fpmnl.EncodeSRv6(unix.RTM_NEWROUTE, localSIDCtx(), buf, view, false)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg := buf[:n]

	hdr := parseNlHeader(t, msg)
	if hdr.msgType != fpmnl.RTMNewSRv6LocalSID {
		t.Errorf("nlmsg_type = %d, want %d", hdr.msgType, fpmnl.RTMNewSRv6LocalSID)
	}

	attrs := parseAttrs(t, msg, attrStart)

	sid := findAttr(t, attrs, fpmnl.LocalSIDValue)
	want := netip.MustParseAddr("fc00:0:1::").As16()
	if !bytes.Equal(sid.payload, want[:]) {
		t.Errorf("SID_VALUE = %x, want %x", sid.payload, want)
	}

	action := findAttr(t, attrs, fpmnl.LocalSIDAction)
	if got := native.Uint32(action.payload); got != fpmnl.ActionUDT4 {
		t.Errorf("ACTION = %d, want UDT4 (%d)", got, fpmnl.ActionUDT4)
	}

	vrf := findAttr(t, attrs, fpmnl.LocalSIDVRFName)
	if !bytes.Equal(vrf.payload, []byte("red\x00")) {
		t.Errorf("VRFNAME = %q, want \"red\\x00\"", vrf.payload)
	}

	// The matched locator contributes the nested SID structure.
	format := findAttr(t, attrs, fpmnl.LocalSIDFormat)
	nested := parseAttrs(t, format.payload, 0)
	if got := findAttr(t, nested, fpmnl.LocalSIDFormatBlockLen); got.payload[0] != 32 {
		t.Errorf("BLOCK_LEN = %d, want 32", got.payload[0])
	}
	if got := findAttr(t, nested, fpmnl.LocalSIDFormatNodeLen); got.payload[0] != 16 {
		t.Errorf("NODE_LEN = %d, want 16", got.payload[0])
	}
	if hasAttr(nested, fpmnl.LocalSIDFormatArgLen) {
		t.Error("zero-length ARG_LEN must be omitted")
	}
}

func TestEncodeLocalSIDPlainActions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		action     dataplane.Seg6Action
		usid       bool
		wantAction uint32
	}{
		{"End", dataplane.Seg6ActionEnd, false, fpmnl.ActionEnd},
		{"End uSID", dataplane.Seg6ActionEnd, true, fpmnl.ActionUN},
		{"End.X", dataplane.Seg6ActionEndX, false, fpmnl.ActionEndX},
		{"End.X uSID", dataplane.Seg6ActionEndX, true, fpmnl.ActionUA},
		{"End.T keeps plain form", dataplane.Seg6ActionEndT, true, fpmnl.ActionEndT},
		{"End.DT6 uSID", dataplane.Seg6ActionEndDT6, true, fpmnl.ActionUDT6},
		{"End.DT46", dataplane.Seg6ActionEndDT46, false, fpmnl.ActionEndDT46},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := localSIDCtx()
			srv6 := ctx.NHG.Nexthops[0].SRv6
			srv6.LocalAction = tt.action
			srv6.LocalCtx.NH6 = netip.MustParseAddr("2001:db8::99")

			view := &fakeView{vrfs: map[uint32]string{100: "red"}}
			if tt.usid {
				view.locator = &dataplane.SRv6Locator{
					Prefix: netip.MustParsePrefix("fc00:0:1::/48"),
					USID:   true,
				}
			}

			buf := make([]byte, fpmnl.PacketBufSize)
			n, err := fpmnl.EncodeSRv6(unix.RTM_NEWROUTE, ctx, buf, view, false)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			attrs := parseAttrs(t, buf[:n], attrStart)
			action := findAttr(t, attrs, fpmnl.LocalSIDAction)
			if got := native.Uint32(action.payload); got != tt.wantAction {
				t.Errorf("ACTION = %d, want %d", got, tt.wantAction)
			}
		})
	}
}

func TestEncodeLocalSIDDelete(t *testing.T) {
	t.Parallel()

	ctx := localSIDCtx()
	ctx.Op = dataplane.OpRouteDelete
	ctx.OldProto = dataplane.ProtoBGP

	buf := make([]byte, fpmnl.PacketBufSize)
	n, err := fpmnl.EncodeSRv6(unix.RTM_DELROUTE, ctx, buf, &fakeView{}, false)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg := buf[:n]

	hdr := parseNlHeader(t, msg)
	if hdr.msgType != fpmnl.RTMDelSRv6LocalSID {
		t.Errorf("nlmsg_type = %d, want %d", hdr.msgType, fpmnl.RTMDelSRv6LocalSID)
	}
	attrs := parseAttrs(t, msg, attrStart)
	findAttr(t, attrs, fpmnl.LocalSIDValue)
	if hasAttr(attrs, fpmnl.LocalSIDAction) {
		t.Error("deletes must not carry the ACTION TLV")
	}
}

func TestEncodeLocalSIDErrors(t *testing.T) {
	t.Parallel()

	t.Run("non-IPv6 SID", func(t *testing.T) {
		t.Parallel()
		ctx := localSIDCtx()
		ctx.Dest = netip.MustParsePrefix("10.0.0.0/24")
		buf := make([]byte, fpmnl.PacketBufSize)
		if _, err := fpmnl.EncodeSRv6(unix.RTM_NEWROUTE, ctx, buf, &fakeView{}, false); !errors.Is(err, fpmnl.ErrInvalidContext) {
			t.Errorf("err = %v, want ErrInvalidContext", err)
		}
	})

	t.Run("missing VRF for table lookup", func(t *testing.T) {
		t.Parallel()
		ctx := localSIDCtx()
		buf := make([]byte, fpmnl.PacketBufSize)
		view := &fakeView{vrfs: map[uint32]string{}}
		if _, err := fpmnl.EncodeSRv6(unix.RTM_NEWROUTE, ctx, buf, view, false); !errors.Is(err, fpmnl.ErrInvalidContext) {
			t.Errorf("err = %v, want ErrInvalidContext", err)
		}
	})

	t.Run("unsupported behavior", func(t *testing.T) {
		t.Parallel()
		ctx := localSIDCtx()
		ctx.NHG.Nexthops[0].SRv6.LocalAction = dataplane.Seg6ActionB6Encaps
		buf := make([]byte, fpmnl.PacketBufSize)
		if _, err := fpmnl.EncodeSRv6(unix.RTM_NEWROUTE, ctx, buf, &fakeView{}, false); !errors.Is(err, fpmnl.ErrInvalidContext) {
			t.Errorf("err = %v, want ErrInvalidContext", err)
		}
	})
}

// vpnRouteCtx builds an SRv6 VPN route install context.
func vpnRouteCtx() *dataplane.Context {
	ctx := dataplane.NewContext()
	ctx.Op = dataplane.OpRouteInstall
	ctx.Dest = netip.MustParsePrefix("2001:db8::/64")
	ctx.TableID = 10
	ctx.VRFID = 10
	ctx.Proto = dataplane.ProtoBGP
	ctx.NHG.Nexthops = append(ctx.NHG.Nexthops, dataplane.Nexthop{
		SRv6: &dataplane.SRv6Nexthop{
			Segs: netip.MustParseAddr("fc00::1"),
		},
	})
	return ctx
}

func TestEncodeVPNRoute(t *testing.T) {
	t.Parallel()

	view := &fakeView{encapSrc: netip.MustParseAddr("2001:db8:1::1")}

	buf := make([]byte, fpmnl.PacketBufSize)
	n, err := fpmnl.EncodeSRv6(unix.RTM_NEWROUTE, vpnRouteCtx(), buf, view, false)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg := buf[:n]

	hdr := parseNlHeader(t, msg)
	if hdr.msgType != unix.RTM_NEWROUTE {
		t.Errorf("nlmsg_type = %d, want RTM_NEWROUTE", hdr.msgType)
	}

	attrs := parseAttrs(t, msg, attrStart)

	const rtaEncapType, rtaEncap = 21, 22
	encapType := findAttr(t, attrs, rtaEncapType)
	if got := native.Uint16(encapType.payload); got != fpmnl.RouteEncapSRv6 {
		t.Errorf("RTA_ENCAP_TYPE = %d, want %d", got, fpmnl.RouteEncapSRv6)
	}

	nest := findAttr(t, attrs, rtaEncap)
	nested := parseAttrs(t, nest.payload, 0)

	src := findAttr(t, nested, fpmnl.EncapSRv6EncapSrcAddr)
	wantSrc := netip.MustParseAddr("2001:db8:1::1").As16()
	if !bytes.Equal(src.payload, wantSrc[:]) {
		t.Errorf("ENCAP_SRC_ADDR = %x, want %x", src.payload, wantSrc)
	}

	sid := findAttr(t, nested, fpmnl.EncapSRv6VPNSID)
	wantSID := netip.MustParseAddr("fc00::1").As16()
	if !bytes.Equal(sid.payload, wantSID[:]) {
		t.Errorf("VPN_SID = %x, want %x", sid.payload, wantSID)
	}

	// The source address TLV precedes the SID TLV.
	if nested[0].typ != fpmnl.EncapSRv6EncapSrcAddr {
		t.Errorf("first nested TLV = %d, want ENCAP_SRC_ADDR", nested[0].typ)
	}
}

func TestEncodeVPNRouteNoLoopbackAddr(t *testing.T) {
	t.Parallel()

	buf := make([]byte, fpmnl.PacketBufSize)
	n, err := fpmnl.EncodeSRv6(unix.RTM_NEWROUTE, vpnRouteCtx(), buf, &fakeView{}, false)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	attrs := parseAttrs(t, buf[:n], attrStart)
	nest := findAttr(t, attrs, 22)
	nested := parseAttrs(t, nest.payload, 0)
	src := findAttr(t, nested, fpmnl.EncapSRv6EncapSrcAddr)
	if !bytes.Equal(src.payload, make([]byte, 16)) {
		t.Errorf("ENCAP_SRC_ADDR = %x, want all-zeros", src.payload)
	}
}
