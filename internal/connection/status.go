package connection

import "fmt"

// State enumerates the connection lifecycle states.
type State int

const (
	// StateIdle means Connect has never been called.
	StateIdle State = iota
	// StateConnecting means a transport handshake is in progress.
	StateConnecting
	// StateConnected means the subscription is live.
	StateConnected
	// StateReconnecting means the transport dropped unexpectedly and is
	// retrying.
	StateReconnecting
	// StateDisconnected means a clean, user-initiated disconnect completed.
	StateDisconnected
	// StateTimedOut means no Connected arrived within the connect window.
	// Advisory only: the transport may still connect later.
	StateTimedOut
	// StateError means the connection was rejected, typically for auth
	// reasons. Non-fatal; the transport keeps retrying.
	StateError
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	case StateTimedOut:
		return "timed-out"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is one connection status value as delivered to subscribers.
type Status struct {
	// State is the lifecycle state.
	State State
	// Attempt is the reconnection attempt counter, set while reconnecting.
	Attempt int
	// Reason carries detail for error statuses.
	Reason string
}

// String renders the status for logs.
func (s Status) String() string {
	switch s.State {
	case StateReconnecting:
		return fmt.Sprintf("%s(%d)", s.State, s.Attempt)
	case StateError:
		return fmt.Sprintf("%s(%s)", s.State, s.Reason)
	default:
		return s.State.String()
	}
}
