// Package breaker implements the per-downstream circuit breaker bank
// guarding calls made by the router and by event consumers that call out
// synchronously. One state machine exists per downstream service name and
// is shared by all callers in the process; transitions are serialized per
// service so concurrent callers can neither lose failure counts nor launch
// more than the allowed number of half-open probes.
package breaker

import (
	"encoding/json"
	"fmt"
)

// State is the circuit breaker state.
type State int32

const (
	// StateClosed passes calls through and counts failures.
	StateClosed State = iota

	// StateOpen fails every call fast without touching the downstream.
	StateOpen

	// StateHalfOpen admits a bounded number of probe calls.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("state(%d)", s)
	}
}

// MarshalJSON implements json.Marshaler.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *State) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ParseState(str)
	return nil
}

// ParseState converts a string to State.
func ParseState(s string) State {
	switch s {
	case "closed":
		return StateClosed
	case "open":
		return StateOpen
	case "half-open", "halfopen":
		return StateHalfOpen
	default:
		return StateClosed
	}
}
