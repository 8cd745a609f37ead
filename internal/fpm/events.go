package fpm

import "fmt"

// Event is a control event dispatched on the plugin loop.
type Event uint8

const (
	// EventReconnect is an operator request to (re)connect. It clears
	// the disabled flag.
	EventReconnect Event = iota
	// EventDisable is an operator request to tear down and stay down.
	EventDisable
	// EventResetCounters zeroes the statistics block.
	EventResetCounters
	// EventToggleNHG flips nexthop-group mode and reconnects so the
	// replay reflects the new policy.
	EventToggleNHG
	// EventInternalReconnect is the racefree self-reconnect used by the
	// I/O paths.
	EventInternalReconnect

	// EventLSPFinished marks the end of the LSP replay phase.
	EventLSPFinished
	// EventNHGFinished marks the end of the nexthop-group replay phase.
	EventNHGFinished
	// EventRIBFinished marks the end of the RIB replay phase.
	EventRIBFinished
	// EventRMACFinished marks the end of the router-MAC replay phase.
	EventRMACFinished
)

// eventNames maps events to human-readable strings.
var eventNames = [...]string{
	"Reconnect",
	"Disable",
	"ResetCounters",
	"ToggleNHG",
	"InternalReconnect",
	"LSPFinished",
	"NHGFinished",
	"RIBFinished",
	"RMACFinished",
}

// String returns the human-readable name for the event.
func (e Event) String() string {
	if int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("Unknown(%d)", uint8(e))
}

// -------------------------------------------------------------------------
// Connection States
// -------------------------------------------------------------------------

// State is the connection state machine state.
type State int32

const (
	// StateDisabled means the operator turned the plugin off.
	StateDisabled State = iota
	// StateIdle means not connected, with a reconnect pending or no
	// address configured.
	StateIdle
	// StateConnecting means a connect is in flight.
	StateConnecting
	// StateConnected means the socket is up and steady-state streaming
	// is active.
	StateConnected
	// StateReplayLSP through StateReplayRMAC mean the post-connect
	// reconciliation walk is replaying the corresponding table.
	StateReplayLSP
	StateReplayNHG
	StateReplayRIB
	StateReplayRMAC
)

// stateNames maps states to human-readable strings.
var stateNames = [...]string{
	"Disabled",
	"Idle",
	"Connecting",
	"Connected",
	"ReplayLSP",
	"ReplayNHG",
	"ReplayRIB",
	"ReplayRMAC",
}

// String returns the human-readable name for the state.
func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("Unknown(%d)", int32(s))
}

// online reports whether the socket is usable for streaming: connected or
// anywhere in the replay chain.
func (s State) online() bool {
	return s >= StateConnected
}
