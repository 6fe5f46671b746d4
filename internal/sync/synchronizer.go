// Package sync ties a conversation's transports to its timeline: polling or
// push intake, the send path, and persistence of what was materialized.
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/reconnect"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/timeline"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
)

// Mode selects the intake transport.
type Mode string

const (
	ModePoll Mode = "poll"
	ModePush Mode = "push"
)

// DefaultPollInterval is the fixed fetch-since period.
const DefaultPollInterval = 5 * time.Second

// ErrTerminated is returned once the conversation failed terminally.
var ErrTerminated = errors.New("synchronization terminated")

// Options configures a Synchronizer. Poll mode needs Fetcher and Sender,
// push mode needs Dial. Store is optional.
type Options struct {
	ConversationID string
	Mode           Mode
	PollInterval   time.Duration
	Policy         reconnect.Policy
	SendStrategy   outbox.Strategy
	StrictStatus   bool

	Fetcher transport.Fetcher
	Sender  transport.MessageSender
	Dial    DialFunc

	Store  *store.DB
	Bus    *bus.Bus
	Logger *zap.Logger
}

// Polled is the payload of sync.polled.
type Polled struct {
	ConversationID string
	Fetched        int
	Applied        int
	StatusUpdates  int
	Cursor         time.Time
}

// Duplicate is the payload of sync.duplicate, emitted for a pushed message
// the ledger already held. Poll duplicates are reported through Polled.
type Duplicate struct {
	ConversationID string
	ID             string
}

// Fatal is the payload of sync.fatal.
type Fatal struct {
	ConversationID string
	Err            error
}

// Synchronizer owns the state of one conversation. Nothing is shared
// between instances.
type Synchronizer struct {
	opts     Options
	logger   *zap.Logger
	bus      *bus.Bus
	cursor   *timeline.Cursor
	timeline *timeline.Timeline
	sender   *outbox.Sender

	machine    *status.Machine
	controller *reconnect.Controller
	journal    *Journal

	polling    atomic.Bool
	terminated atomic.Bool
	fatalOnce  gosync.Once

	mu     gosync.Mutex
	cancel context.CancelFunc
	wg     gosync.WaitGroup

	connMu gosync.RWMutex
	conn   PushConn
}

// New builds a synchronizer with its own ledger, cursor and timeline.
func New(opts Options) (*Synchronizer, error) {
	if opts.ConversationID == "" {
		return nil, errors.New("conversation id is required")
	}
	switch opts.Mode {
	case ModePoll:
		if opts.Fetcher == nil || opts.Sender == nil {
			return nil, errors.New("poll mode needs a fetcher and a sender")
		}
	case ModePush:
		if opts.Dial == nil {
			return nil, errors.New("push mode needs a dialer")
		}
	default:
		return nil, fmt.Errorf("unknown transport mode %q", opts.Mode)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Policy == (reconnect.Policy{}) {
		opts.Policy = reconnect.DefaultPolicy()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("conversation", opts.ConversationID), zap.String("mode", string(opts.Mode)))

	s := &Synchronizer{
		opts:   opts,
		logger: logger,
		bus:    opts.Bus,
		cursor: timeline.NewCursor(time.Time{}),
	}

	var tlOpts []timeline.Option
	if opts.StrictStatus {
		tlOpts = append(tlOpts, timeline.WithStrictStatusProgression())
	}
	s.timeline = timeline.New(opts.ConversationID, timeline.NewMemoryLedger(), s.cursor, opts.Bus, tlOpts...)

	var textSender outbox.TextSender
	if opts.Mode == ModePoll {
		textSender = pollTextSender{conversationID: opts.ConversationID, sender: opts.Sender}
	} else {
		s.machine = status.NewMachine(opts.ConversationID, opts.Bus)
		s.controller = reconnect.New(opts.ConversationID, opts.Policy, s.machine, opts.Bus, logger)
		textSender = pushTextSender{s: s}
	}

	var sendLog outbox.Log
	if opts.Store != nil {
		sendLog = opts.Store
		s.journal = NewJournal(opts.Store, s.timeline, logger)
	}
	s.sender = outbox.NewSender(opts.ConversationID, textSender, s.timeline, sendLog, opts.Bus, logger, opts.SendStrategy)
	return s, nil
}

// Timeline returns the conversation timeline.
func (s *Synchronizer) Timeline() *timeline.Timeline { return s.timeline }

// Sender returns the send path.
func (s *Synchronizer) Sender() *outbox.Sender { return s.sender }

// Mode returns the intake transport.
func (s *Synchronizer) Mode() Mode { return s.opts.Mode }

// ConnState returns the push connection state. Poll mode always reports
// CLOSED, or FAILED after a terminal error.
func (s *Synchronizer) ConnState() status.State {
	if s.machine != nil {
		return s.machine.Current()
	}
	if s.Terminated() {
		return status.Failed
	}
	return status.Closed
}

// Terminated reports whether synchronization stopped for good.
func (s *Synchronizer) Terminated() bool { return s.terminated.Load() }

// Start hydrates from the store, if any, then resumes intake.
func (s *Synchronizer) Start(ctx context.Context) error {
	if err := s.hydrate(); err != nil {
		return err
	}
	return s.Resume(ctx)
}

func (s *Synchronizer) hydrate() error {
	if s.opts.Store == nil {
		return nil
	}
	rows, err := s.opts.Store.ListMessages(s.opts.ConversationID, 0)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	msgs := make([]model.Message, 0, len(rows))
	for i := range rows {
		msgs = append(msgs, rows[i].ToModel())
	}
	n := s.timeline.Restore(msgs)

	s.journal.MarkStored()

	at, ok, err := s.journal.reconciler.LoadCursor(s.opts.ConversationID)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	if ok {
		s.cursor.Advance(at)
	}
	s.logger.Info("timeline hydrated", zap.Int("messages", n), zap.Time("cursor", s.cursor.Value()))
	return nil
}

// Resume starts intake: an immediate fetch followed by the poll ticker, or
// the push connection. It is a no-op while running or after a terminal
// failure.
func (s *Synchronizer) Resume(ctx context.Context) error {
	if s.Terminated() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if s.opts.Mode == ModePoll {
			s.pollLoop(runCtx)
		} else {
			s.pushLoop(runCtx)
		}
	}()
	s.logger.Info("synchronization resumed")
	return nil
}

// Pause stops the poll ticker or closes the push connection and waits for
// intake to wind down. Resume picks up from the current cursor.
func (s *Synchronizer) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	s.wg.Wait()
	s.logger.Info("synchronization paused")
}

// Stop ends intake and retries any write a failed commit left pending. The
// synchronizer may be resumed again.
func (s *Synchronizer) Stop() {
	s.Pause()
	s.persist()
}

// Send submits body through the active transport. A terminal transport
// error ends synchronization like it does for intake.
func (s *Synchronizer) Send(ctx context.Context, body string) error {
	err := s.sender.Send(ctx, body)
	if err != nil {
		if transport.IsTerminal(err) {
			s.fail(err)
		}
		return err
	}
	s.persist()
	return nil
}

// persist commits what the timeline materialized. A failure is logged and
// the rows stay pending, together with the checkpoint, for the next commit.
func (s *Synchronizer) persist() {
	if s.journal == nil {
		return
	}
	if err := s.journal.Commit(); err != nil {
		s.logger.Error("failed to persist timeline", zap.Error(err), zap.Int("pending", s.journal.Pending()))
	}
}

func (s *Synchronizer) pollLoop(ctx context.Context) {
	if _, err := s.Poll(ctx); err != nil && s.Terminated() {
		return
	}
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Poll(ctx); err != nil && s.Terminated() {
				return
			}
		}
	}
}

// Poll runs one fetch-since cycle. ran is false when another fetch was
// still in flight and this one was skipped.
func (s *Synchronizer) Poll(ctx context.Context) (ran bool, err error) {
	if s.opts.Mode != ModePoll {
		return false, errors.New("poll is only available in poll mode")
	}
	if s.Terminated() {
		return false, ErrTerminated
	}
	if !s.polling.CompareAndSwap(false, true) {
		return false, nil
	}
	defer s.polling.Store(false)

	res, err := s.opts.Fetcher.FetchSince(ctx, s.opts.ConversationID, s.cursor.Value())
	if err != nil {
		if transport.IsTerminal(err) {
			s.fail(err)
			return true, err
		}
		if ctx.Err() == nil {
			s.logger.Warn("poll failed", zap.Error(err))
		}
		return true, err
	}

	applied := 0
	for _, m := range res.Messages {
		if s.timeline.Apply(m) {
			applied++
		}
	}
	for _, u := range res.StatusUpdates {
		if s.timeline.ApplyStatusUpdate(u.ID, u.State) && s.journal != nil {
			s.journal.StatusChanged(u.ID)
		}
	}
	s.cursor.Advance(res.NextCursor)
	s.persist()

	if applied > 0 {
		s.logger.Debug("poll applied messages", zap.Int("fetched", len(res.Messages)), zap.Int("applied", applied))
	}
	s.bus.Emit(bus.SyncPolled, Polled{
		ConversationID: s.opts.ConversationID,
		Fetched:        len(res.Messages),
		Applied:        applied,
		StatusUpdates:  len(res.StatusUpdates),
		Cursor:         s.cursor.Value(),
	})
	return true, nil
}

// fail stops synchronization permanently and disables sending.
func (s *Synchronizer) fail(err error) {
	s.fatalOnce.Do(func() {
		s.terminated.Store(true)
		s.sender.Disable(err.Error())
		s.logger.Error("synchronization terminated", zap.Error(err))
		s.bus.Emit(bus.SyncFatal, Fatal{ConversationID: s.opts.ConversationID, Err: err})
	})
}
