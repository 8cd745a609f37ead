// Package fpmnl encodes dataplane operation contexts into the netlink
// messages streamed to an FPM peer, and decodes the few inbound messages
// the peer is allowed to send back.
//
// The messages follow Linux rtnetlink layout (native byte order, 4-byte
// attribute alignment) extended with the FPM custom message types and TLVs
// for SRv6 localsids and SRv6 VPN encapsulation.
package fpmnl

import "golang.org/x/sys/unix"

// PacketBufSize is the scratch buffer size for one encoded netlink message.
const PacketBufSize = 8192

// -------------------------------------------------------------------------
// Custom FPM Netlink Message Types
// -------------------------------------------------------------------------

// Custom netlink message types carried over the FPM channel.
const (
	// RTMNewSRv6LocalSID installs an SRv6 localsid.
	RTMNewSRv6LocalSID = 1000
	// RTMDelSRv6LocalSID removes an SRv6 localsid.
	RTMDelSRv6LocalSID = 1001
)

// RouteEncapSRv6 is the custom RTA_ENCAP_TYPE value marking an SRv6 VPN
// encapsulation nest.
const RouteEncapSRv6 = 101

// SRv6 VPN encapsulation nested TLV types (inside RTA_ENCAP).
const (
	EncapSRv6VPNSID       = 1
	EncapSRv6EncapSrcAddr = 2
)

// SRv6 localsid top-level TLV types.
const (
	LocalSIDValue        = 1
	LocalSIDFormat       = 2
	LocalSIDAction       = 3
	LocalSIDVRFName      = 4
	LocalSIDNH6          = 5
	LocalSIDNH4          = 6
	LocalSIDIIF          = 7
	LocalSIDOIF          = 8
	LocalSIDBPF          = 9
	LocalSIDSIDList      = 10
	LocalSIDEncapSrcAddr = 11
)

// SRv6 localsid FORMAT nested TLV types, each a u8 bit length.
const (
	LocalSIDFormatBlockLen = 1
	LocalSIDFormatNodeLen  = 2
	LocalSIDFormatFuncLen  = 3
	LocalSIDFormatArgLen   = 4
)

// SRv6 localsid ACTION TLV values. The UN/UA/UDX*/UDT* variants are the
// uSID renderings of the matching plain behaviors.
const (
	ActionEnd         = 1
	ActionEndX        = 2
	ActionEndT        = 3
	ActionEndDX2      = 4
	ActionEndDX6      = 5
	ActionEndDX4      = 6
	ActionEndDT6      = 7
	ActionEndDT4      = 8
	ActionEndDT46     = 9
	ActionB6Encaps    = 10
	ActionB6EncapsRed = 11
	ActionB6Insert    = 12
	ActionB6InsertRed = 13
	ActionUN          = 14
	ActionUA          = 15
	ActionUDX2        = 16
	ActionUDX6        = 17
	ActionUDX4        = 18
	ActionUDT6        = 19
	ActionUDT4        = 20
	ActionUDT46       = 21
)

// -------------------------------------------------------------------------
// rtnetlink values not exposed by x/sys/unix
// -------------------------------------------------------------------------

// Route attribute types (linux/rtnetlink.h) beyond the classic set.
const (
	rtaVia       = 18 // RTA_VIA: address family + nexthop address
	rtaNewDst    = 19 // RTA_NEWDST: outgoing MPLS label stack
	rtaEncapType = 21 // RTA_ENCAP_TYPE
	rtaEncap     = 22 // RTA_ENCAP
	rtaNHID      = 30 // RTA_NH_ID: nexthop object reference
)

// Nexthop object attribute types (linux/nexthop.h).
const (
	nhaID        = 1 // NHA_ID: u32 nexthop id
	nhaGroup     = 2 // NHA_GROUP: array of nexthop_grp
	nhaBlackhole = 4 // NHA_BLACKHOLE: flag
	nhaOIF       = 5 // NHA_OIF: u32 ifindex
	nhaGateway   = 6 // NHA_GATEWAY: address
)

// Neighbor (FDB) attribute types (linux/neighbour.h).
const (
	ndaDst    = 1 // NDA_DST: remote VTEP address
	ndaLLAddr = 2 // NDA_LLADDR: MAC address
	ndaVLAN   = 5 // NDA_VLAN: u16 VLAN id
	ndaVNI    = 7 // NDA_VNI: u32 VNI
	ndaMaster = 9 // NDA_MASTER: u32 bridge ifindex
)

// Neighbor cache entry states and flags (linux/neighbour.h).
const (
	nudReachable = 0x02
	nudNoARP     = 0x40

	ntfSelf   = 0x02
	ntfMaster = 0x04
	ntfSticky = 0x40
)

// MPLS label stack entry layout (RFC 3032): label(20) | TC(3) | BoS(1) | TTL(8).
const (
	mplsLabelShift = 12
	mplsBoSBit     = 1 << 8
)

// mplsLabelBits is the rtm_dst_len for AF_MPLS routes (bits of one label).
const mplsLabelBits = 20

// -------------------------------------------------------------------------
// Wire protocol numbers for route origins
// -------------------------------------------------------------------------

// Route origin protocol numbers used in rtm_protocol. The low values come
// from linux/rtnetlink.h; the 190+ range follows the registry routing
// daemons conventionally use for their own protocols.
const (
	rtprotKernel        = 2   // RTPROT_KERNEL
	rtprotRoutingDaemon = 11  // RTPROT_ZEBRA: generic routing daemon
	rtprotBGP           = 186 // RTPROT_BGP
	rtprotISIS          = 187 // RTPROT_ISIS
	rtprotOSPF          = 188 // RTPROT_OSPF
	rtprotRIP           = 189 // RTPROT_RIP
	rtprotEIGRP         = 192 // RTPROT_EIGRP
	rtprotLDP           = 193
	rtprotStatic        = 196
	rtprotSRTE          = 198
)

// Number of bytes in IPv4 and IPv6 addresses.
const (
	ipv4AddrLen = 4
	ipv6AddrLen = 16
)

// rtTableUnspec aliases the kernel constant for readability at call sites.
const rtTableUnspec = unix.RT_TABLE_UNSPEC

// vrfTableInlineLimit bounds the table field values that fit directly in
// the one-byte rtm_table: ids below it go inline, ids at or above it go
// into an RTA_TABLE attribute.
const vrfTableInlineLimit = 256
