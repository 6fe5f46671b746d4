package timeline

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newTimeline(b *bus.Bus, opts ...Option) *Timeline {
	return New("5511999", NewMemoryLedger(), NewCursor(t0), b, opts...)
}

func msg(id string, offset time.Duration, dir model.Direction) model.Message {
	m := model.Message{
		ID:        id,
		Direction: dir,
		Kind:      model.KindText,
		Body:      "body " + id,
		CreatedAt: t0.Add(offset),
	}
	if dir == model.Outbound {
		m.DeliveryState = model.StateSent
	}
	return m
}

func TestApplyIsIdempotent(t *testing.T) {
	for n := 1; n <= 100; n++ {
		tl := newTimeline(nil)
		m := msg("wamid.x", time.Second, model.Inbound)
		appended := 0
		for i := 0; i < n; i++ {
			if tl.Apply(m) {
				appended++
			}
		}
		if tl.Len() != 1 || appended != 1 {
			t.Fatalf("n=%d: len=%d appended=%d, want 1/1", n, tl.Len(), appended)
		}
	}
}

func TestApplyPreservesCallOrder(t *testing.T) {
	tl := newTimeline(nil)
	// Deliberately out of createdAt order.
	tl.Apply(msg("A", 30*time.Second, model.Inbound))
	tl.Apply(msg("B", 10*time.Second, model.Outbound))
	tl.Apply(msg("C", 20*time.Second, model.Inbound))

	var got []string
	for _, m := range tl.Messages() {
		got = append(got, m.ID)
	}
	if fmt.Sprint(got) != "[A B C]" {
		t.Errorf("order = %v, want [A B C]", got)
	}
	if !tl.Cursor().Value().Equal(t0.Add(30 * time.Second)) {
		t.Errorf("cursor = %v, want newest createdAt", tl.Cursor().Value())
	}

	tail := tl.Since(1)
	if len(tail) != 2 || tail[0].ID != "B" || tail[1].ID != "C" {
		t.Errorf("Since(1) = %v", tail)
	}
	if tl.Since(3) != nil || len(tl.Since(-1)) != 3 {
		t.Error("Since bounds")
	}
}

func TestApplyEmitsAppended(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("timeline.", 10)
	defer unsub()

	tl := newTimeline(b)
	tl.Apply(msg("A", time.Second, model.Inbound))
	tl.Apply(msg("A", time.Second, model.Inbound))

	select {
	case evt := <-ch:
		a, ok := evt.Payload.(Appended)
		if !ok {
			t.Fatalf("payload type = %T, want Appended", evt.Payload)
		}
		if a.Message.ID != "A" || a.Position != 0 {
			t.Errorf("appended = %+v", a)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for timeline.appended")
	}

	select {
	case evt := <-ch:
		t.Errorf("duplicate apply emitted %v", evt.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCursorMonotonic(t *testing.T) {
	c := NewCursor(t0)
	r := rand.New(rand.NewSource(7))
	prev := c.Value()
	for i := 0; i < 1000; i++ {
		c.Advance(t0.Add(time.Duration(r.Intn(2000)-1000) * time.Second))
		if c.Value().Before(prev) {
			t.Fatalf("cursor went backwards: %v -> %v", prev, c.Value())
		}
		prev = c.Value()
	}
}

func TestCursorAdvanceStrict(t *testing.T) {
	c := NewCursor(t0)
	if c.Advance(t0) {
		t.Error("Advance(equal) should not move the cursor")
	}
	if c.Advance(t0.Add(-time.Second)) {
		t.Error("Advance(older) should not move the cursor")
	}
	if !c.Advance(t0.Add(time.Second)) {
		t.Error("Advance(newer) should move the cursor")
	}
}

func TestStatusUpdateUnknownIDIsNoop(t *testing.T) {
	tl := newTimeline(nil)
	tl.Apply(msg("A", time.Second, model.Outbound))
	before := tl.Messages()

	if tl.ApplyStatusUpdate("missing", model.StateRead) {
		t.Error("ApplyStatusUpdate(unknown) reported a change")
	}
	after := tl.Messages()
	if len(after) != len(before) || after[0] != before[0] {
		t.Errorf("timeline changed: %v -> %v", before, after)
	}
}

func TestStatusUpdateInPlace(t *testing.T) {
	b := bus.New()
	tl := newTimeline(b)
	tl.Apply(msg("A", time.Second, model.Outbound))
	tl.Apply(msg("B", 2*time.Second, model.Inbound))

	ch, unsub := b.Subscribe(bus.TimelineStatusChanged, 10)
	defer unsub()

	if !tl.ApplyStatusUpdate("A", model.StateDelivered) {
		t.Fatal("ApplyStatusUpdate(A) reported no change")
	}
	if tl.ApplyStatusUpdate("A", model.StateDelivered) {
		t.Error("same state should be a no-op")
	}
	if tl.ApplyStatusUpdate("B", model.StateRead) {
		t.Error("inbound messages have no delivery state")
	}

	if tl.Len() != 2 {
		t.Fatalf("len = %d, want 2", tl.Len())
	}
	got, _ := tl.Get("A")
	if got.DeliveryState != model.StateDelivered {
		t.Errorf("state = %s, want DELIVERED", got.DeliveryState)
	}
	if tl.Messages()[0].ID != "A" {
		t.Error("status update reordered the timeline")
	}

	select {
	case evt := <-ch:
		sc := evt.Payload.(StatusChanged)
		if sc.From != model.StateSent || sc.To != model.StateDelivered {
			t.Errorf("change = %s -> %s", sc.From, sc.To)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for status change event")
	}
}

func TestStrictStatusProgression(t *testing.T) {
	tl := newTimeline(nil, WithStrictStatusProgression())
	tl.Apply(msg("A", time.Second, model.Outbound))

	if !tl.ApplyStatusUpdate("A", model.StateRead) {
		t.Fatal("SENT -> READ should apply")
	}
	if tl.ApplyStatusUpdate("A", model.StateDelivered) {
		t.Error("READ -> DELIVERED should be ignored in strict mode")
	}
	if !tl.ApplyStatusUpdate("A", model.StateFailed) {
		t.Error("READ -> FAILED should apply")
	}

	loose := newTimeline(nil)
	loose.Apply(msg("A", time.Second, model.Outbound))
	loose.ApplyStatusUpdate("A", model.StateRead)
	if !loose.ApplyStatusUpdate("A", model.StateDelivered) {
		t.Error("default mode applies any differing state")
	}
}

func TestRestore(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("timeline.", 10)
	defer unsub()

	tl := newTimeline(b)
	n := tl.Restore([]model.Message{
		msg("A", time.Second, model.Inbound),
		msg("B", 5*time.Second, model.Outbound),
		msg("A", time.Second, model.Inbound),
	})
	if n != 2 || tl.Len() != 2 {
		t.Fatalf("restored %d, len %d, want 2/2", n, tl.Len())
	}
	if !tl.Cursor().Value().Equal(t0.Add(5 * time.Second)) {
		t.Errorf("cursor = %v", tl.Cursor().Value())
	}
	if tl.Apply(msg("B", 5*time.Second, model.Outbound)) {
		t.Error("restored id should be deduplicated")
	}

	evt := <-ch
	if evt.Kind != bus.TimelineRestored {
		t.Errorf("first event = %s, want %s", evt.Kind, bus.TimelineRestored)
	}
}

func TestMemoryLedger(t *testing.T) {
	l := NewMemoryLedger()
	if l.Has("a") {
		t.Error("empty ledger has a")
	}
	l.Record("a")
	l.Record("a")
	if !l.Has("a") || l.Len() != 1 {
		t.Errorf("has=%v len=%d, want true/1", l.Has("a"), l.Len())
	}
}
