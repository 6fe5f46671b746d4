// Package reconnect keeps a push connection alive with bounded exponential
// backoff.
package reconnect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
)

// ErrAttemptsExhausted is returned once MaxAttempts reconnects failed.
var ErrAttemptsExhausted = errors.New("reconnect attempts exhausted")

// Policy bounds the reconnection schedule. Attempt n waits 2^n units.
type Policy struct {
	MaxAttempts int
	Unit        time.Duration
}

// DefaultPolicy is 5 attempts at 2, 4, 8, 16 and 32 seconds.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, Unit: time.Second}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 0 {
		p.MaxAttempts = 0
	}
	if p.Unit <= 0 {
		p.Unit = time.Second
	}
	return p
}

// NewBackOff returns the delay schedule for p. NextBackOff yields 2u, 4u, ...
// and backoff.Stop after MaxAttempts delays.
func (p Policy) NewBackOff() backoff.BackOff {
	p = p.normalized()
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 2 * p.Unit
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxInterval = p.Unit << (p.MaxAttempts + 1)
	eb.MaxElapsedTime = 0
	eb.Reset()
	return backoff.WithMaxRetries(eb, uint64(p.MaxAttempts))
}

// Session is an open connection. Serve blocks until it terminates.
type Session interface {
	Serve(ctx context.Context) error
}

// ConnectFunc opens a new Session. A returned error means the handshake
// failed.
type ConnectFunc func(ctx context.Context) (Session, error)

// Scheduled is the payload of conn.reconnect_scheduled.
type Scheduled struct {
	ConversationID string
	Attempt        int
	Delay          time.Duration
	Err            error
}

// Failure is the payload of conn.failed.
type Failure struct {
	ConversationID string
	Err            error
}

// Controller drives a status.Machine through connect, serve and retry.
type Controller struct {
	conversationID string
	policy         Policy
	machine        *status.Machine
	bus            *bus.Bus
	logger         *zap.Logger

	wait func(ctx context.Context, d time.Duration) error
}

// New creates a controller for conversationID.
func New(conversationID string, policy Policy, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		conversationID: conversationID,
		policy:         policy.normalized(),
		machine:        machine,
		bus:            b,
		logger:         logger,
		wait:           sleep,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run connects and keeps reconnecting until ctx is cancelled, a terminal
// error occurs or the attempts are exhausted. Cancellation returns nil and
// leaves the machine CLOSED.
func (c *Controller) Run(ctx context.Context, connect ConnectFunc) error {
	if c.machine.Terminal() {
		return fmt.Errorf("conversation %s: connection already failed", c.conversationID)
	}
	b := c.policy.NewBackOff()
	attempt := 0

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := c.machine.Transition(status.Connecting); err != nil {
			return err
		}

		err := c.session(ctx, connect, b, &attempt)
		if err := c.machine.Transition(status.Closed); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if transport.IsTerminal(err) {
			return c.fail(err)
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			if err == nil {
				return c.fail(fmt.Errorf("%w after %d attempts", ErrAttemptsExhausted, attempt))
			}
			return c.fail(fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, attempt, err))
		}
		attempt++
		c.logger.Info("reconnect scheduled",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		c.bus.Emit(bus.ConnReconnectScheduled, Scheduled{
			ConversationID: c.conversationID,
			Attempt:        attempt,
			Delay:          delay,
			Err:            err,
		})
		if c.wait(ctx, delay) != nil {
			return nil
		}
	}
}

// session performs one connect and, on success, serves until the
// connection ends. Reaching OPEN resets the attempt counter.
func (c *Controller) session(ctx context.Context, connect ConnectFunc, b backoff.BackOff, attempt *int) error {
	sess, err := connect(ctx)
	if err != nil {
		c.logger.Warn("connect failed", zap.Error(err))
		return err
	}
	if err := c.machine.Transition(status.Open); err != nil {
		return err
	}
	b.Reset()
	*attempt = 0
	c.logger.Info("connection open")

	err = sess.Serve(ctx)
	if err != nil && ctx.Err() == nil {
		c.logger.Warn("connection closed", zap.Error(err))
	}
	return err
}

func (c *Controller) fail(err error) error {
	if terr := c.machine.Transition(status.Failed); terr != nil {
		return terr
	}
	c.logger.Error("connection failed", zap.Error(err))
	c.bus.Emit(bus.ConnFailed, Failure{ConversationID: c.conversationID, Err: err})
	return err
}
