//go:build linux

// Package kernel mirrors the host's links, addresses and routes into the
// dataplane engine over rtnetlink, so the daemon streams real forwarding
// state without a routing protocol stack attached.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/dantte-lp/gofpm/internal/dataplane"
)

// localTableID is the kernel's local routing table, never mirrored.
const localTableID = 255

// Mirror feeds the engine from the kernel's rtnetlink state.
type Mirror struct {
	logger *slog.Logger
	eng    *dataplane.Engine

	linkNames map[int]string
}

// New creates a mirror bound to the engine.
func New(logger *slog.Logger, eng *dataplane.Engine) *Mirror {
	return &Mirror{
		logger:    logger.With(slog.String("component", "kernel")),
		eng:       eng,
		linkNames: make(map[int]string),
	}
}

// Run loads the current links, addresses and routes, then follows address
// and route updates until ctx is cancelled.
func (m *Mirror) Run(ctx context.Context) error {
	if err := m.loadLinks(); err != nil {
		return fmt.Errorf("kernel mirror: %w", err)
	}
	if err := m.loadRoutes(); err != nil {
		return fmt.Errorf("kernel mirror: %w", err)
	}

	done := make(chan struct{})
	defer close(done)

	addrCh := make(chan netlink.AddrUpdate, 64)
	if err := netlink.AddrSubscribe(addrCh, done); err != nil {
		return fmt.Errorf("kernel mirror: subscribe addresses: %w", err)
	}
	routeCh := make(chan netlink.RouteUpdate, 256)
	if err := netlink.RouteSubscribe(routeCh, done); err != nil {
		return fmt.Errorf("kernel mirror: subscribe routes: %w", err)
	}

	m.logger.Info("kernel mirror running")

	for {
		select {
		case <-ctx.Done():
			return nil

		case up, ok := <-addrCh:
			if !ok {
				return fmt.Errorf("kernel mirror: %w", errSubscriptionClosed)
			}
			m.handleAddrUpdate(up)

		case up, ok := <-routeCh:
			if !ok {
				return fmt.Errorf("kernel mirror: %w", errSubscriptionClosed)
			}
			m.handleRouteUpdate(up)
		}
	}
}

// errSubscriptionClosed indicates the kernel closed an rtnetlink
// subscription socket underneath us.
var errSubscriptionClosed = errors.New("rtnetlink subscription closed")

// loadLinks registers every link and its addresses with the engine.
func (m *Mirror) loadLinks() error {
	links, err := netlink.LinkList()
	if err != nil {
		return fmt.Errorf("list links: %w", err)
	}
	for _, link := range links {
		attrs := link.Attrs()
		m.linkNames[attrs.Index] = attrs.Name
		m.eng.AddInterface(attrs.Name, int32(attrs.Index), dataplane.DefaultVRFID)

		addrs, err := netlink.AddrList(link, netlink.FAMILY_ALL)
		if err != nil {
			return fmt.Errorf("list addresses of %s: %w", attrs.Name, err)
		}
		for _, a := range addrs {
			if p, ok := prefixFromIPNet(a.IPNet); ok {
				m.eng.AddInterfaceAddr(attrs.Name, int32(attrs.Index),
					dataplane.DefaultVRFID, p)
			}
		}
	}
	return nil
}

// loadRoutes seeds the RIB from the kernel FIB.
func (m *Mirror) loadRoutes() error {
	routes, err := netlink.RouteList(nil, netlink.FAMILY_ALL)
	if err != nil {
		return fmt.Errorf("list routes: %w", err)
	}
	for i := range routes {
		m.applyRoute(&routes[i], true)
	}
	return nil
}

// handleAddrUpdate forwards one address change to the engine.
func (m *Mirror) handleAddrUpdate(up netlink.AddrUpdate) {
	name := m.linkNames[up.LinkIndex]
	if name == "" {
		if link, err := netlink.LinkByIndex(up.LinkIndex); err == nil {
			name = link.Attrs().Name
			m.linkNames[up.LinkIndex] = name
			m.eng.AddInterface(name, int32(up.LinkIndex), dataplane.DefaultVRFID)
		} else {
			m.logger.Debug("address update for unknown link",
				slog.Int("ifindex", up.LinkIndex))
			return
		}
	}

	p, ok := prefixFromIPNet(&up.LinkAddress)
	if !ok {
		return
	}
	if up.NewAddr {
		m.eng.AddInterfaceAddr(name, int32(up.LinkIndex), dataplane.DefaultVRFID, p)
	} else {
		m.eng.RemoveInterfaceAddr(name, p)
	}
}

// handleRouteUpdate forwards one route change to the engine.
func (m *Mirror) handleRouteUpdate(up netlink.RouteUpdate) {
	m.applyRoute(&up.Route, up.Type == unix.RTM_NEWROUTE)
}

// applyRoute converts a kernel route into an engine mutation.
func (m *Mirror) applyRoute(rt *netlink.Route, install bool) {
	if rt.Table == localTableID {
		return
	}
	prefix, ok := routePrefix(rt)
	if !ok {
		return
	}

	if !install {
		m.eng.DeleteRoute(uint32(rt.Table), prefix)
		return
	}

	entry := &dataplane.RouteEntry{
		Proto:  protoFromKernel(int(rt.Protocol)),
		Metric: uint32(rt.Priority),
	}
	nh := dataplane.Nexthop{IfIndex: int32(rt.LinkIndex), Weight: 1}
	if gw, ok := netip.AddrFromSlice(rt.Gw); ok {
		nh.Gateway = gw.Unmap()
	}
	entry.NHG.Nexthops = append(entry.NHG.Nexthops, nh)
	for _, mp := range rt.MultiPath {
		leg := dataplane.Nexthop{IfIndex: int32(mp.LinkIndex), Weight: uint8(mp.Hops + 1)}
		if gw, ok := netip.AddrFromSlice(mp.Gw); ok {
			leg.Gateway = gw.Unmap()
		}
		entry.NHG.Nexthops = append(entry.NHG.Nexthops, leg)
	}

	m.eng.AddRoute(uint32(rt.Table), dataplane.DefaultVRFID, prefix, entry)
}

// routePrefix derives the destination prefix, synthesizing the default
// route when Dst is nil.
func routePrefix(rt *netlink.Route) (netip.Prefix, bool) {
	if rt.Dst != nil {
		return prefixFromIPNet(rt.Dst)
	}
	switch rt.Family {
	case netlink.FAMILY_V4:
		return netip.PrefixFrom(netip.IPv4Unspecified(), 0), true
	case netlink.FAMILY_V6:
		return netip.PrefixFrom(netip.IPv6Unspecified(), 0), true
	}
	return netip.Prefix{}, false
}

// prefixFromIPNet converts a *net.IPNet into a netip.Prefix.
func prefixFromIPNet(n *net.IPNet) (netip.Prefix, bool) {
	if n == nil {
		return netip.Prefix{}, false
	}
	addr, ok := netip.AddrFromSlice(n.IP)
	if !ok {
		return netip.Prefix{}, false
	}
	ones, _ := n.Mask.Size()
	return netip.PrefixFrom(addr.Unmap(), ones), true
}

// protoFromKernel maps rtm_protocol values to route origins.
func protoFromKernel(p int) dataplane.RouteProtocol {
	switch p {
	case unix.RTPROT_KERNEL, unix.RTPROT_BOOT:
		return dataplane.ProtoKernel
	case unix.RTPROT_STATIC:
		return dataplane.ProtoStatic
	case unix.RTPROT_BGP:
		return dataplane.ProtoBGP
	case unix.RTPROT_OSPF:
		return dataplane.ProtoOSPF
	case unix.RTPROT_ISIS:
		return dataplane.ProtoISIS
	case unix.RTPROT_RIP:
		return dataplane.ProtoRIP
	case unix.RTPROT_EIGRP:
		return dataplane.ProtoEIGRP
	default:
		return dataplane.ProtoKernel
	}
}
