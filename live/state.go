package live

import "github.com/room4-2/livewire/frames"

// State is the lifecycle position of a session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingSetupComplete
	StateActive
	StateClosing
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingSetupComplete:
		return "awaiting_setup_complete"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

var transitions = map[State][]State{
	StateDisconnected:          {StateConnecting},
	StateConnecting:            {StateAwaitingSetupComplete, StateReconnecting, StateClosing, StateDisconnected},
	StateAwaitingSetupComplete: {StateActive, StateReconnecting, StateClosing, StateDisconnected},
	StateActive:                {StateReconnecting, StateClosing, StateDisconnected},
	StateReconnecting:          {StateConnecting, StateClosing, StateDisconnected},
	StateClosing:               {StateDisconnected},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// machine holds the current state. Callers serialize access.
type machine struct {
	state State
	// observe is called after every accepted transition.
	observe func(from, to State)
}

func (m *machine) current() State { return m.state }

func (m *machine) to(next State) bool {
	if !CanTransition(m.state, next) {
		return false
	}
	prev := m.state
	m.state = next
	if m.observe != nil {
		m.observe(prev, next)
	}
	return true
}

// accepts reports whether an inbound frame of the given kind may be
// processed in the current state.
func (m *machine) accepts(kind string) bool {
	switch kind {
	case frames.KindGoAway, frames.KindSessionResumptionUpdate:
		return m.state != StateDisconnected
	case frames.KindSetupComplete:
		return m.state == StateAwaitingSetupComplete
	default:
		return m.state == StateActive
	}
}
