// Package model defines the message vocabulary shared by the transports,
// the timeline and the store.
package model

import (
	"strings"
	"time"
)

// Direction tells whether a message came from the contact or from us.
type Direction string

const (
	Inbound  Direction = "IN"
	Outbound Direction = "OUT"
)

// Kind is the content type of a message.
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindDocument Kind = "document"
	KindTemplate Kind = "template"
	KindOther    Kind = "other"
)

// DeliveryState tracks an outbound message through the provider.
// Inbound messages carry the zero value.
type DeliveryState string

const (
	StatePending   DeliveryState = "PENDING"
	StateSent      DeliveryState = "SENT"
	StateDelivered DeliveryState = "DELIVERED"
	StateRead      DeliveryState = "READ"
	StateFailed    DeliveryState = "FAILED"
)

// Message is a single entry of a conversation. It is immutable once created
// except for DeliveryState.
type Message struct {
	ID             string
	ConversationID string
	Direction      Direction
	Kind           Kind
	Body           string
	MediaRef       string
	TemplateName   string
	CreatedAt      time.Time
	DeliveryState  DeliveryState
}

// StatusUpdate changes the delivery state of an already known message.
type StatusUpdate struct {
	ID    string
	State DeliveryState
}

// ParseKind maps a backend message_type onto a Kind. Anything we do not
// render specially (stickers, locations, reactions...) becomes KindOther.
func ParseKind(s string) Kind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return KindText
	case "image":
		return KindImage
	case "video":
		return KindVideo
	case "audio", "voice":
		return KindAudio
	case "document":
		return KindDocument
	case "template":
		return KindTemplate
	default:
		return KindOther
	}
}

// ParseDeliveryState normalizes a backend status string. RECEIVED and
// unknown values map to the zero state.
func ParseDeliveryState(s string) DeliveryState {
	switch st := DeliveryState(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatePending, StateSent, StateDelivered, StateRead, StateFailed:
		return st
	default:
		return ""
	}
}

var progression = map[DeliveryState]int{
	StatePending:   0,
	StateSent:      1,
	StateDelivered: 2,
	StateRead:      3,
}

// CanProgress reports whether a message in state from may move to state to
// under the provider's ordering PENDING < SENT < DELIVERED < READ. FAILED is
// reachable from any state, and any state may follow FAILED.
func CanProgress(from, to DeliveryState) bool {
	if to == StateFailed {
		return true
	}
	fi, okFrom := progression[from]
	ti, okTo := progression[to]
	if !okFrom || !okTo {
		return okTo
	}
	return ti >= fi
}
