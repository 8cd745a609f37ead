// Package dataplane models the host routing engine's dataplane layer: the
// operation contexts handed to providers, the RIB / nexthop-group / LSP /
// L3VNI tables those contexts originate from, and the provider registration
// and work-queue machinery that moves contexts between the engine and its
// providers.
package dataplane

import "fmt"

// unknownFmt is the format string for unrecognized enum values with numeric code.
const unknownFmt = "Unknown(%d)"

// -------------------------------------------------------------------------
// Dataplane Operations
// -------------------------------------------------------------------------

// Op identifies the kind of dataplane operation a Context carries.
type Op uint8

const (
	// OpNone is the zero value; a reset Context carries it.
	OpNone Op = iota

	// OpRouteInstall installs a new route.
	OpRouteInstall
	// OpRouteUpdate replaces an existing route (delete + install semantics).
	OpRouteUpdate
	// OpRouteDelete removes a route.
	OpRouteDelete
	// OpRouteNotify reports an asynchronous route change back to the engine.
	OpRouteNotify

	// OpNexthopInstall installs a nexthop group.
	OpNexthopInstall
	// OpNexthopUpdate replaces a nexthop group.
	OpNexthopUpdate
	// OpNexthopDelete removes a nexthop group.
	OpNexthopDelete

	// OpLSPInstall installs an MPLS label-switched path.
	OpLSPInstall
	// OpLSPUpdate replaces an MPLS label-switched path.
	OpLSPUpdate
	// OpLSPDelete removes an MPLS label-switched path.
	OpLSPDelete

	// OpMACInstall installs an EVPN MAC FDB entry.
	OpMACInstall
	// OpMACDelete removes an EVPN MAC FDB entry.
	OpMACDelete

	// OpAddrInstall reports an interface address addition.
	OpAddrInstall
	// OpAddrUninstall reports an interface address removal.
	OpAddrUninstall
)

// opNames maps operation values to human-readable strings.
var opNames = [...]string{
	"None",
	"RouteInstall",
	"RouteUpdate",
	"RouteDelete",
	"RouteNotify",
	"NexthopInstall",
	"NexthopUpdate",
	"NexthopDelete",
	"LSPInstall",
	"LSPUpdate",
	"LSPDelete",
	"MACInstall",
	"MACDelete",
	"AddrInstall",
	"AddrUninstall",
}

// String returns the human-readable name for the operation.
func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf(unknownFmt, uint8(op))
}

// IsRoute reports whether the operation is a route install/update/delete.
func (op Op) IsRoute() bool {
	return op == OpRouteInstall || op == OpRouteUpdate || op == OpRouteDelete
}

// IsNexthop reports whether the operation targets a nexthop group.
func (op Op) IsNexthop() bool {
	return op == OpNexthopInstall || op == OpNexthopUpdate || op == OpNexthopDelete
}

// IsLSP reports whether the operation targets an MPLS LSP.
func (op Op) IsLSP() bool {
	return op == OpLSPInstall || op == OpLSPUpdate || op == OpLSPDelete
}

// -------------------------------------------------------------------------
// Request Status
// -------------------------------------------------------------------------

// Status is the completion status a provider assigns to a Context before
// handing it back to the engine.
type Status uint8

const (
	// StatusNone indicates the request has not been finalized yet.
	StatusNone Status = iota
	// StatusSuccess indicates the provider accepted the request.
	StatusSuccess
	// StatusFailure indicates the provider rejected the request.
	StatusFailure
)

// statusNames maps status values to human-readable strings.
var statusNames = [...]string{"None", "Success", "Failure"}

// String returns the human-readable name for the status.
func (st Status) String() string {
	if int(st) < len(statusNames) {
		return statusNames[st]
	}
	return fmt.Sprintf(unknownFmt, uint8(st))
}

// -------------------------------------------------------------------------
// Route Origin Protocols
// -------------------------------------------------------------------------

// RouteProtocol identifies the routing protocol a route originates from.
// The numbering is internal; the netlink encoders translate it to the
// rtm_protocol wire values.
type RouteProtocol uint8

const (
	// ProtoUnknown is used when the origin cannot be determined.
	ProtoUnknown RouteProtocol = iota
	// ProtoKernel marks routes learned from the kernel FIB.
	ProtoKernel
	// ProtoConnected marks directly connected routes.
	ProtoConnected
	// ProtoStatic marks operator-configured static routes.
	ProtoStatic
	// ProtoRIP marks RIP routes.
	ProtoRIP
	// ProtoOSPF marks OSPF routes.
	ProtoOSPF
	// ProtoISIS marks IS-IS routes.
	ProtoISIS
	// ProtoBGP marks BGP routes.
	ProtoBGP
	// ProtoEIGRP marks EIGRP routes.
	ProtoEIGRP
	// ProtoLDP marks LDP-derived entries.
	ProtoLDP
	// ProtoSRTE marks SR-TE policy routes.
	ProtoSRTE
)

// protoNames maps protocol values to human-readable strings.
var protoNames = [...]string{
	"Unknown",
	"Kernel",
	"Connected",
	"Static",
	"RIP",
	"OSPF",
	"IS-IS",
	"BGP",
	"EIGRP",
	"LDP",
	"SR-TE",
}

// String returns the human-readable name for the protocol.
func (p RouteProtocol) String() string {
	if int(p) < len(protoNames) {
		return protoNames[p]
	}
	return fmt.Sprintf(unknownFmt, uint8(p))
}
