package store

import (
	"time"

	"github.com/matheus3301/chatsync/internal/model"
)

// Message is a persisted timeline entry. Seq preserves apply order.
type Message struct {
	Seq            int64
	ConversationID string
	MsgID          string
	Direction      string
	Kind           string
	Body           string
	MediaRef       string
	TemplateName   string
	DeliveryState  string
	CreatedAt      int64 // unix nanoseconds
}

// FromModel converts a timeline message into its row form.
func FromModel(m model.Message) *Message {
	return &Message{
		ConversationID: m.ConversationID,
		MsgID:          m.ID,
		Direction:      string(m.Direction),
		Kind:           string(m.Kind),
		Body:           m.Body,
		MediaRef:       m.MediaRef,
		TemplateName:   m.TemplateName,
		DeliveryState:  string(m.DeliveryState),
		CreatedAt:      m.CreatedAt.UnixNano(),
	}
}

// ToModel converts the row back into a timeline message.
func (m *Message) ToModel() model.Message {
	return model.Message{
		ID:             m.MsgID,
		ConversationID: m.ConversationID,
		Direction:      model.Direction(m.Direction),
		Kind:           model.Kind(m.Kind),
		Body:           m.Body,
		MediaRef:       m.MediaRef,
		TemplateName:   m.TemplateName,
		CreatedAt:      time.Unix(0, m.CreatedAt).UTC(),
		DeliveryState:  model.DeliveryState(m.DeliveryState),
	}
}

// Outbox statuses.
const (
	OutboxQueued = "queued"
	OutboxSent   = "sent"
	OutboxFailed = "failed"
)

// OutboxEntry records one send attempt.
type OutboxEntry struct {
	ID             int64
	ClientMsgID    string
	ConversationID string
	Body           string
	Status         string
	ErrorMessage   string
	ServerMsgID    string
	CreatedAt      int64
}
