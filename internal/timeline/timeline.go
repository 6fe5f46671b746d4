// Package timeline holds the local, ordered view of a conversation: the
// dedup ledger, the cursor and the append-only message sequence.
package timeline

import (
	"sync"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
)

// Appended is the payload of bus.TimelineAppended.
type Appended struct {
	Message  model.Message
	Position int
}

// StatusChanged is the payload of bus.TimelineStatusChanged.
type StatusChanged struct {
	ConversationID string
	ID             string
	From           model.DeliveryState
	To             model.DeliveryState
}

// Restored is the payload of bus.TimelineRestored.
type Restored struct {
	ConversationID string
	Count          int
}

// Option configures a Timeline.
type Option func(*Timeline)

// WithStrictStatusProgression makes ApplyStatusUpdate ignore updates that
// would move a message backwards (e.g. READ -> DELIVERED).
func WithStrictStatusProgression() Option {
	return func(t *Timeline) { t.strict = true }
}

// Timeline is the append-only message sequence of one conversation.
// Messages appear in the order Apply was called; they are never re-sorted.
type Timeline struct {
	mu             sync.RWMutex
	conversationID string
	ledger         Ledger
	cursor         *Cursor
	msgs           []model.Message
	index          map[string]int
	bus            *bus.Bus
	strict         bool
}

// New creates a timeline for conversationID. b may be nil.
func New(conversationID string, ledger Ledger, cursor *Cursor, b *bus.Bus, opts ...Option) *Timeline {
	t := &Timeline{
		conversationID: conversationID,
		ledger:         ledger,
		cursor:         cursor,
		index:          make(map[string]int),
		bus:            b,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// ConversationID returns the conversation this timeline belongs to.
func (t *Timeline) ConversationID() string { return t.conversationID }

// Cursor returns the watermark shared with the transports.
func (t *Timeline) Cursor() *Cursor { return t.cursor }

// Apply appends msg unless its id was already materialized. Reports whether
// the message was appended.
func (t *Timeline) Apply(msg model.Message) bool {
	t.mu.Lock()
	if t.ledger.Has(msg.ID) {
		t.mu.Unlock()
		return false
	}
	t.ledger.Record(msg.ID)
	pos := t.appendLocked(msg)
	t.mu.Unlock()

	t.cursor.Advance(msg.CreatedAt)
	t.bus.Emit(bus.TimelineAppended, Appended{Message: msg, Position: pos})
	return true
}

// ApplyStatusUpdate changes the delivery state of an existing outbound
// message in place. Unknown ids, inbound messages and unchanged states are
// ignored; the next status event or fetch will catch up.
func (t *Timeline) ApplyStatusUpdate(id string, state model.DeliveryState) bool {
	t.mu.Lock()
	pos, ok := t.index[id]
	if !ok {
		t.mu.Unlock()
		return false
	}
	m := &t.msgs[pos]
	if m.Direction != model.Outbound || m.DeliveryState == state {
		t.mu.Unlock()
		return false
	}
	if t.strict && !model.CanProgress(m.DeliveryState, state) {
		t.mu.Unlock()
		return false
	}
	from := m.DeliveryState
	m.DeliveryState = state
	t.mu.Unlock()

	t.bus.Emit(bus.TimelineStatusChanged, StatusChanged{
		ConversationID: t.conversationID,
		ID:             id,
		From:           from,
		To:             state,
	})
	return true
}

// Restore hydrates the timeline from persisted messages, in order, without
// emitting per-message events. Ids already present are skipped.
func (t *Timeline) Restore(msgs []model.Message) int {
	n := 0
	t.mu.Lock()
	for _, m := range msgs {
		if t.ledger.Has(m.ID) {
			continue
		}
		t.ledger.Record(m.ID)
		t.appendLocked(m)
		t.cursor.Advance(m.CreatedAt)
		n++
	}
	t.mu.Unlock()

	t.bus.Emit(bus.TimelineRestored, Restored{ConversationID: t.conversationID, Count: n})
	return n
}

func (t *Timeline) appendLocked(msg model.Message) int {
	t.msgs = append(t.msgs, msg)
	pos := len(t.msgs) - 1
	t.index[msg.ID] = pos
	return pos
}

// Messages returns a copy of the sequence.
func (t *Timeline) Messages() []model.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// Since returns a copy of the messages from position n on.
func (t *Timeline) Since(n int) []model.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if n < 0 {
		n = 0
	}
	if n >= len(t.msgs) {
		return nil
	}
	out := make([]model.Message, len(t.msgs)-n)
	copy(out, t.msgs[n:])
	return out
}

// Len returns the number of materialized messages.
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.msgs)
}

// Get returns the message with id, if materialized.
func (t *Timeline) Get(id string) (model.Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pos, ok := t.index[id]
	if !ok {
		return model.Message{}, false
	}
	return t.msgs[pos], true
}
