package live

import (
	"errors"
	"fmt"
)

var (
	// ErrTransportLost is reported when the channel closes without a GoAway.
	ErrTransportLost = errors.New("live: transport lost")
	// ErrHandshakeTimeout is wrapped in a ConnectionError when SetupComplete
	// does not arrive in time.
	ErrHandshakeTimeout = errors.New("live: handshake timed out")
	// ErrClosed is returned when Disconnect races an in-flight Connect.
	ErrClosed = errors.New("live: session closed")
)

// ConnectionError is fatal to one connect attempt.
type ConnectionError struct {
	Op  string // dial, setup, handshake, send
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("live: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError marks an inbound frame that was malformed or arrived in the
// wrong state. The frame is dropped and the session continues.
type ProtocolError struct {
	Frame string
	State State
	Err   error
}

func (e *ProtocolError) Error() string {
	if e.Frame == "" {
		return fmt.Sprintf("live: protocol error in %s: %v", e.State, e.Err)
	}
	return fmt.Sprintf("live: unexpected %s frame in %s: %v", e.Frame, e.State, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Tool correlation failure reasons.
const (
	ToolUnknownID   = "unknown id"
	ToolCancelledID = "cancelled"
	ToolMissingID   = "missing id"
	ToolDuplicateID = "duplicate id"
)

// ToolCorrelationError reports a tool response that matched no pending call.
type ToolCorrelationError struct {
	ID     string
	Reason string
}

func (e *ToolCorrelationError) Error() string {
	return fmt.Sprintf("live: tool call %q: %s", e.ID, e.Reason)
}

// StateError is returned by operations invoked in a state that forbids them.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("live: cannot %s while %s", e.Op, e.State)
}

// DisconnectReason says why a session ended.
type DisconnectReason string

const (
	ReasonGoAway             DisconnectReason = "go_away"
	ReasonReconnectExhausted DisconnectReason = "reconnect_exhausted"
	ReasonTransportLost      DisconnectReason = "transport_lost"
	ReasonClientClosed       DisconnectReason = "client_closed"
)

// FatalError is the terminal cause carried by a Disconnected event.
type FatalError struct {
	Reason  DisconnectReason
	Code    string
	Message string
	Err     error
}

func (e *FatalError) Error() string {
	msg := "live: session ended (" + string(e.Reason) + ")"
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err ends the session rather than one attempt.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
