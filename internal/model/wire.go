package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// WireMessage is the JSON shape the chat backend uses for a message, both in
// poll responses and in push frames.
type WireMessage struct {
	MessageID    string  `json:"message_id"`
	TextContent  *string `json:"text_content"`
	Timestamp    string  `json:"timestamp"`
	Direction    string  `json:"direction"`
	Status       string  `json:"status"`
	MediaURL     *string `json:"media_url"`
	MessageType  string  `json:"message_type"`
	TemplateName *string `json:"template_name"`
}

// WireStatus is the JSON shape of a delivery status change.
type WireStatus struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// ErrMissingID is returned when a payload has no message_id.
var ErrMissingID = errors.New("message_id missing")

// ParseTimestamp accepts the ISO-8601 forms the backend produces.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999Z07:00"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// FormatTimestamp renders a cursor the way the backend parses it back.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ToMessage validates the wire form and converts it for conversationID.
func (w WireMessage) ToMessage(conversationID string) (Message, error) {
	if strings.TrimSpace(w.MessageID) == "" {
		return Message{}, ErrMissingID
	}
	created, err := ParseTimestamp(w.Timestamp)
	if err != nil {
		return Message{}, fmt.Errorf("message %s: %w", w.MessageID, err)
	}
	dir := Inbound
	if strings.EqualFold(w.Direction, string(Outbound)) {
		dir = Outbound
	}
	m := Message{
		ID:             w.MessageID,
		ConversationID: conversationID,
		Direction:      dir,
		Kind:           ParseKind(w.MessageType),
		Body:           deref(w.TextContent),
		MediaRef:       deref(w.MediaURL),
		TemplateName:   deref(w.TemplateName),
		CreatedAt:      created,
	}
	if dir == Outbound {
		m.DeliveryState = ParseDeliveryState(w.Status)
	}
	return m, nil
}

// ToStatusUpdate validates the wire form of a status change.
func (w WireStatus) ToStatusUpdate() (StatusUpdate, error) {
	if strings.TrimSpace(w.MessageID) == "" {
		return StatusUpdate{}, ErrMissingID
	}
	st := ParseDeliveryState(w.Status)
	if st == "" {
		return StatusUpdate{}, fmt.Errorf("message %s: unknown status %q", w.MessageID, w.Status)
	}
	return StatusUpdate{ID: w.MessageID, State: st}, nil
}

// DecodeMessage parses a single JSON message object.
func DecodeMessage(raw []byte, conversationID string) (Message, error) {
	var w WireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	return w.ToMessage(conversationID)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
