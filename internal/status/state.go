package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/chatsync/internal/bus"
)

// State represents the push connection state of a conversation.
type State string

const (
	Connecting State = "CONNECTING"
	Open       State = "OPEN"
	Closed     State = "CLOSED"
	Failed     State = "FAILED"
)

// validTransitions defines allowed state transitions. FAILED is terminal.
var validTransitions = map[State][]State{
	Closed:     {Connecting, Failed},
	Connecting: {Open, Closed},
	Open:       {Closed},
	Failed:     {},
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu             sync.RWMutex
	current        State
	conversationID string
	bus            *bus.Bus
}

// NewMachine creates a new state machine starting in Closed state.
func NewMachine(conversationID string, b *bus.Bus) *Machine {
	return &Machine{
		current:        Closed,
		conversationID: conversationID,
		bus:            b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Terminal reports whether the machine reached FAILED.
func (m *Machine) Terminal() bool {
	return m.Current() == Failed
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	from := m.current
	m.current = to
	m.mu.Unlock()

	m.bus.Emit(bus.ConnStateChanged, StatusChange{
		ConversationID: m.conversationID,
		From:           from,
		To:             to,
	})
	return nil
}

// StatusChange is the payload for connection state change events.
type StatusChange struct {
	ConversationID string
	From           State
	To             State
}
