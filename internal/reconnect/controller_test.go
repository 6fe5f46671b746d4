package reconnect

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
)

type fakeSession struct {
	serve func(ctx context.Context) error
}

func (s fakeSession) Serve(ctx context.Context) error { return s.serve(ctx) }

type recorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recorder) wait(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func newController(t *testing.T, b *bus.Bus) (*Controller, *status.Machine, *recorder) {
	t.Helper()
	m := status.NewMachine("c1", b)
	c := New("c1", Policy{MaxAttempts: 5, Unit: time.Millisecond}, m, b, zap.NewNop())
	rec := &recorder{}
	c.wait = rec.wait
	return c, m, rec
}

func TestPolicyBackOffSchedule(t *testing.T) {
	b := DefaultPolicy().NewBackOff()
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second}
	for i, w := range want {
		if got := b.NextBackOff(); got != w {
			t.Errorf("delay %d = %v, want %v", i+1, got, w)
		}
	}
	if got := b.NextBackOff(); got != backoff.Stop {
		t.Errorf("after max attempts got %v, want Stop", got)
	}
	b.Reset()
	if got := b.NextBackOff(); got != 2*time.Second {
		t.Errorf("after reset got %v", got)
	}
}

func TestRunExhaustsAttempts(t *testing.T) {
	b := bus.New()
	failed, unsub := b.Subscribe("conn.failed", 1)
	defer unsub()

	c, m, rec := newController(t, b)
	calls := 0
	connErr := &transport.TransportError{Op: "dial", Err: errors.New("refused")}
	err := c.Run(context.Background(), func(ctx context.Context) (Session, error) {
		calls++
		return nil, connErr
	})

	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("err = %v, want ErrAttemptsExhausted", err)
	}
	if !errors.As(err, new(*transport.TransportError)) {
		t.Errorf("err should wrap the last connect error: %v", err)
	}
	if calls != 6 {
		t.Errorf("connect calls = %d, want 6 (initial + 5 retries)", calls)
	}
	want := []time.Duration{2, 4, 8, 16, 32}
	if len(rec.delays) != len(want) {
		t.Fatalf("delays = %v", rec.delays)
	}
	for i, w := range want {
		if rec.delays[i] != w*time.Millisecond {
			t.Errorf("delay %d = %v, want %v", i+1, rec.delays[i], w*time.Millisecond)
		}
	}
	if m.Current() != status.Failed {
		t.Errorf("state = %s, want FAILED", m.Current())
	}

	select {
	case evt := <-failed:
		if f := evt.Payload.(Failure); !errors.Is(f.Err, ErrAttemptsExhausted) {
			t.Errorf("failure payload = %+v", f)
		}
	case <-time.After(time.Second):
		t.Fatal("no conn.failed event")
	}

	if err := c.Run(context.Background(), nil); err == nil {
		t.Error("Run after FAILED should error")
	}
}

func TestRunResetsAttemptsOnOpen(t *testing.T) {
	b := bus.New()
	c, m, rec := newController(t, b)

	// fail, fail, open+drop, fail x5 => delays 2,4 then reset then 2,4,8,16,32
	calls := 0
	err := c.Run(context.Background(), func(ctx context.Context) (Session, error) {
		calls++
		if calls == 3 {
			return fakeSession{serve: func(context.Context) error { return errors.New("dropped") }}, nil
		}
		return nil, errors.New("refused")
	})
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("err = %v", err)
	}
	want := []time.Duration{2, 4, 2, 4, 8, 16, 32}
	if len(rec.delays) != len(want) {
		t.Fatalf("delays = %v, want %v ms", rec.delays, want)
	}
	for i, w := range want {
		if rec.delays[i] != w*time.Millisecond {
			t.Errorf("delay %d = %v, want %v", i, rec.delays[i], w*time.Millisecond)
		}
	}
	if m.Current() != status.Failed {
		t.Errorf("state = %s", m.Current())
	}
}

func TestRunTerminalErrorFailsImmediately(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"unauthorized", &transport.AuthorizationError{StatusCode: 403}},
		{"gone", transport.ErrConversationGone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, m, rec := newController(t, bus.New())
			err := c.Run(context.Background(), func(ctx context.Context) (Session, error) {
				return nil, tt.err
			})
			if !errors.Is(err, tt.err) {
				t.Errorf("err = %v", err)
			}
			if len(rec.delays) != 0 {
				t.Errorf("terminal error scheduled retries: %v", rec.delays)
			}
			if m.Current() != status.Failed {
				t.Errorf("state = %s", m.Current())
			}
		})
	}
}

func TestRunCancelledEndsClosed(t *testing.T) {
	b := bus.New()
	events, unsub := b.Subscribe("conn.", 32)
	defer unsub()

	c, m, _ := newController(t, b)
	ctx, cancel := context.WithCancel(context.Background())
	opened := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, func(ctx context.Context) (Session, error) {
			return fakeSession{serve: func(ctx context.Context) error {
				close(opened)
				<-ctx.Done()
				return ctx.Err()
			}}, nil
		})
	}()

	<-opened
	if m.Current() != status.Open {
		t.Errorf("state while serving = %s", m.Current())
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run after cancel = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if m.Current() != status.Closed {
		t.Errorf("state = %s, want CLOSED", m.Current())
	}

	var kinds []string
	for len(events) > 0 {
		evt := <-events
		kinds = append(kinds, evt.Kind)
		if evt.Kind == bus.ConnFailed || evt.Kind == bus.ConnReconnectScheduled {
			t.Errorf("unexpected %s after cancellation", evt.Kind)
		}
	}
	if len(kinds) != 3 {
		t.Errorf("events = %v, want connecting/open/closed", kinds)
	}
}

func TestRunCancelledDuringWait(t *testing.T) {
	c, m, _ := newController(t, bus.New())
	ctx, cancel := context.WithCancel(context.Background())
	c.wait = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	err := c.Run(ctx, func(ctx context.Context) (Session, error) {
		return nil, errors.New("refused")
	})
	if err != nil {
		t.Errorf("err = %v", err)
	}
	if m.Current() != status.Closed {
		t.Errorf("state = %s", m.Current())
	}
}
