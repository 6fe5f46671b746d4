package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("timeline.", 10)
	defer unsub()

	b.Publish(Event{Kind: TimelineAppended, Timestamp: time.Now(), Payload: "m1"})

	select {
	case evt := <-ch:
		if evt.Kind != TimelineAppended {
			t.Errorf("got kind %q, want %s", evt.Kind, TimelineAppended)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("conn.", 10)
	defer unsub()

	b.Emit(TimelineAppended, nil)
	b.Emit(ConnStateChanged, nil)

	select {
	case evt := <-ch:
		if evt.Kind != ConnStateChanged {
			t.Errorf("got kind %q, want %s", evt.Kind, ConnStateChanged)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmitStampsTime(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("send.", 1)
	defer unsub()

	before := time.Now()
	b.Emit(SendFailed, "boom")

	evt := <-ch
	if evt.Timestamp.Before(before) {
		t.Errorf("timestamp %v is before emit %v", evt.Timestamp, before)
	}
	if evt.Payload != "boom" {
		t.Errorf("payload = %v, want boom", evt.Payload)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("timeline.", 10)
	unsub()
	unsub()

	b.Emit(TimelineAppended, nil)

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test.", 1)
	defer unsub()

	b.Publish(Event{Kind: "test.one"})
	b.Publish(Event{Kind: "test.two"})

	evt := <-ch
	if evt.Kind != "test.one" {
		t.Errorf("got %q, want test.one", evt.Kind)
	}
	if got := b.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
}

func TestNilBusPublishIsNoop(t *testing.T) {
	var b *Bus
	b.Emit(TimelineAppended, nil)
	if b.Dropped() != 0 {
		t.Error("nil bus reports drops")
	}
}
