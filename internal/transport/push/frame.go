package push

import (
	"encoding/json"
	"fmt"

	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/transport"
)

// EventKind identifies a decoded push frame.
type EventKind string

const (
	MessageArrival EventKind = "chat_message"
	StatusChange   EventKind = "status_update"
	SendAck        EventKind = "message_sending"
	ServerError    EventKind = "error"
)

// Event is one decoded server frame. Exactly one payload field is set,
// matching Kind.
type Event struct {
	Kind    EventKind
	Message model.Message
	Status  model.StatusUpdate
	Ack     string
	Error   string
}

type frame struct {
	Type      string          `json:"type"`
	Message   json.RawMessage `json:"message"`
	MessageID string          `json:"message_id"`
	Status    string          `json:"status"`
	Text      string          `json:"text"`
}

// DecodeFrame parses a text frame received on conversationID's channel.
func DecodeFrame(raw []byte, conversationID string) (Event, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Event{}, transport.NewParseError(err, raw)
	}

	switch EventKind(f.Type) {
	case MessageArrival:
		if len(f.Message) == 0 {
			return Event{}, transport.NewParseError(fmt.Errorf("chat_message without message"), raw)
		}
		m, err := model.DecodeMessage(f.Message, conversationID)
		if err != nil {
			return Event{}, transport.NewParseError(err, raw)
		}
		return Event{Kind: MessageArrival, Message: m}, nil
	case StatusChange:
		u, err := model.WireStatus{MessageID: f.MessageID, Status: f.Status}.ToStatusUpdate()
		if err != nil {
			return Event{}, transport.NewParseError(err, raw)
		}
		return Event{Kind: StatusChange, Status: u}, nil
	case SendAck:
		return Event{Kind: SendAck, Ack: f.Text}, nil
	case ServerError:
		var msg string
		if len(f.Message) > 0 && json.Unmarshal(f.Message, &msg) != nil {
			msg = string(f.Message)
		}
		return Event{Kind: ServerError, Error: msg}, nil
	default:
		return Event{}, transport.NewParseError(fmt.Errorf("unknown frame type %q", f.Type), raw)
	}
}

type outbound struct {
	Message string `json:"message"`
}

// EncodeSend builds the client frame that asks the server to send body.
func EncodeSend(body string) ([]byte, error) {
	return json.Marshal(outbound{Message: body})
}
