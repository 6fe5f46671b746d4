package model

import (
	"errors"
	"testing"
	"time"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
	}{
		{"text", KindText},
		{"", KindText},
		{"IMAGE", KindImage},
		{"video", KindVideo},
		{"audio", KindAudio},
		{"voice", KindAudio},
		{"document", KindDocument},
		{"template", KindTemplate},
		{"sticker", KindOther},
		{"location", KindOther},
		{"reaction", KindOther},
	}
	for _, tt := range tests {
		if got := ParseKind(tt.in); got != tt.want {
			t.Errorf("ParseKind(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestParseDeliveryState(t *testing.T) {
	tests := []struct {
		in   string
		want DeliveryState
	}{
		{"PENDING", StatePending},
		{"sent", StateSent},
		{" Delivered ", StateDelivered},
		{"read", StateRead},
		{"FAILED", StateFailed},
		{"RECEIVED", ""},
		{"bogus", ""},
	}
	for _, tt := range tests {
		if got := ParseDeliveryState(tt.in); got != tt.want {
			t.Errorf("ParseDeliveryState(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCanProgress(t *testing.T) {
	tests := []struct {
		from, to DeliveryState
		want     bool
	}{
		{StatePending, StateSent, true},
		{StateSent, StateDelivered, true},
		{StateDelivered, StateRead, true},
		{StateRead, StateDelivered, false},
		{StateDelivered, StateSent, false},
		{StateRead, StateFailed, true},
		{StateFailed, StateRead, true},
		{"", StateSent, true},
	}
	for _, tt := range tests {
		if got := CanProgress(tt.from, tt.to); got != tt.want {
			t.Errorf("CanProgress(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestDecodeMessage(t *testing.T) {
	raw := []byte(`{
		"message_id": "wamid.1",
		"text_content": "hello",
		"timestamp": "2025-03-01T10:00:00.123456+00:00",
		"direction": "OUT",
		"status": "SENT",
		"media_url": null,
		"message_type": "text",
		"template_name": null
	}`)
	m, err := DecodeMessage(raw, "5511999")
	if err != nil {
		t.Fatalf("DecodeMessage() error = %v", err)
	}
	if m.ID != "wamid.1" || m.Body != "hello" || m.ConversationID != "5511999" {
		t.Errorf("got %+v", m)
	}
	if m.Direction != Outbound || m.DeliveryState != StateSent || m.Kind != KindText {
		t.Errorf("got direction=%s state=%s kind=%s", m.Direction, m.DeliveryState, m.Kind)
	}
	want := time.Date(2025, 3, 1, 10, 0, 0, 123456000, time.UTC)
	if !m.CreatedAt.Equal(want) {
		t.Errorf("CreatedAt = %v, want %v", m.CreatedAt, want)
	}
}

func TestDecodeInboundIgnoresStatus(t *testing.T) {
	m, err := DecodeMessage([]byte(`{"message_id":"a","timestamp":"2025-03-01T10:00:00Z","direction":"IN","status":"RECEIVED","message_type":"image","media_url":"https://cdn/x.jpg"}`), "c")
	if err != nil {
		t.Fatal(err)
	}
	if m.Direction != Inbound || m.DeliveryState != "" {
		t.Errorf("direction=%s state=%q, want IN and empty state", m.Direction, m.DeliveryState)
	}
	if m.Kind != KindImage || m.MediaRef != "https://cdn/x.jpg" {
		t.Errorf("kind=%s media=%q", m.Kind, m.MediaRef)
	}
}

func TestDecodeMessageErrors(t *testing.T) {
	if _, err := DecodeMessage([]byte(`{"timestamp":"2025-03-01T10:00:00Z"}`), "c"); !errors.Is(err, ErrMissingID) {
		t.Errorf("missing id: err = %v, want ErrMissingID", err)
	}
	if _, err := DecodeMessage([]byte(`{"message_id":"a","timestamp":"yesterday"}`), "c"); err == nil {
		t.Error("bad timestamp: expected error")
	}
	if _, err := DecodeMessage([]byte(`{not json`), "c"); err == nil {
		t.Error("bad json: expected error")
	}
}

func TestWireStatus(t *testing.T) {
	u, err := WireStatus{MessageID: "a", Status: "read"}.ToStatusUpdate()
	if err != nil {
		t.Fatal(err)
	}
	if u.ID != "a" || u.State != StateRead {
		t.Errorf("got %+v", u)
	}
	if _, err := (WireStatus{MessageID: "a", Status: "RECEIVED"}).ToStatusUpdate(); err == nil {
		t.Error("RECEIVED status update should be rejected")
	}
}

func TestFormatTimestampRoundTrip(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 0, 0, 500, time.FixedZone("BRT", -3*3600))
	got, err := ParseTimestamp(FormatTimestamp(ts))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(ts) {
		t.Errorf("round trip = %v, want %v", got, ts)
	}
}
