// Package outbox submits user-composed messages for a conversation, one at
// a time, and keeps a log of every attempt.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/timeline"
	"go.uber.org/zap"
)

var (
	// ErrEmptyBody is returned for blank input. Nothing is submitted.
	ErrEmptyBody = errors.New("message body is empty")
	// ErrSendInFlight is returned while another send has not settled.
	ErrSendInFlight = errors.New("a send is already in flight")
	// ErrSendDisabled is returned after the conversation failed terminally.
	ErrSendDisabled = errors.New("sending is disabled")
)

// Strategy selects what a poll-mode sender does with the backend's copy of
// an accepted message.
type Strategy string

const (
	// StrategyDefer leaves the message for the next poll to deliver.
	StrategyDefer Strategy = "defer"
	// StrategyApplyAccepted applies the returned message, with its server
	// id, immediately. The later poll copy is absorbed by the ledger.
	StrategyApplyAccepted Strategy = "apply_accepted"
)

// ParseStrategy validates a configured strategy name. Empty means defer.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.TrimSpace(s)) {
	case "", StrategyDefer:
		return StrategyDefer, nil
	case StrategyApplyAccepted:
		return StrategyApplyAccepted, nil
	default:
		return "", fmt.Errorf("unknown send strategy %q", s)
	}
}

// TextSender submits a body through the active transport. It returns the
// accepted message when the transport hands one back, nil otherwise.
type TextSender interface {
	SendText(ctx context.Context, body string) (*model.Message, error)
}

// Log records send attempts. *store.DB implements it.
type Log interface {
	QueueOutbox(clientMsgID, conversationID, body string) error
	MarkOutboxSent(clientMsgID, serverMsgID string) error
	MarkOutboxFailed(clientMsgID, errMsg string) error
}

// Accepted is the payload of send.accepted.
type Accepted struct {
	ConversationID string
	ClientMsgID    string
	ServerMsgID    string
}

// Failed is the payload of send.failed. It is transient and dismissible.
type Failed struct {
	ConversationID string
	ClientMsgID    string
	Err            error
}

// Sender is the single-flight send path of one conversation.
type Sender struct {
	conversationID string
	sender         TextSender
	timeline       *timeline.Timeline
	log            Log
	bus            *bus.Bus
	logger         *zap.Logger
	strategy       Strategy

	inFlight atomic.Bool

	mu       sync.RWMutex
	disabled string
}

// NewSender creates a sender. tl is only used by StrategyApplyAccepted and
// log may be nil.
func NewSender(conversationID string, sender TextSender, tl *timeline.Timeline, log Log, b *bus.Bus, logger *zap.Logger, strategy Strategy) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strategy == "" {
		strategy = StrategyDefer
	}
	return &Sender{
		conversationID: conversationID,
		sender:         sender,
		timeline:       tl,
		log:            log,
		bus:            b,
		logger:         logger.With(zap.String("conversation", conversationID)),
		strategy:       strategy,
	}
}

// Send trims body and submits it. Failures leave the timeline untouched
// and re-enable input so the user can retry.
func (s *Sender) Send(ctx context.Context, body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return ErrEmptyBody
	}
	if reason := s.DisabledReason(); reason != "" {
		return fmt.Errorf("%w: %s", ErrSendDisabled, reason)
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		return ErrSendInFlight
	}
	defer s.inFlight.Store(false)

	clientMsgID := uuid.NewString()
	if s.log != nil {
		if err := s.log.QueueOutbox(clientMsgID, s.conversationID, body); err != nil {
			s.logger.Warn("failed to record send attempt", zap.Error(err), zap.String("client_msg_id", clientMsgID))
		}
	}

	msg, err := s.sender.SendText(ctx, body)
	if err != nil {
		s.logger.Error("failed to send message", zap.Error(err), zap.String("client_msg_id", clientMsgID))
		if s.log != nil {
			if err := s.log.MarkOutboxFailed(clientMsgID, err.Error()); err != nil {
				s.logger.Warn("failed to mark send failed", zap.Error(err), zap.String("client_msg_id", clientMsgID))
			}
		}
		s.bus.Emit(bus.SendFailed, Failed{
			ConversationID: s.conversationID,
			ClientMsgID:    clientMsgID,
			Err:            err,
		})
		return err
	}

	var serverMsgID string
	if msg != nil {
		serverMsgID = msg.ID
		if s.strategy == StrategyApplyAccepted && s.timeline != nil {
			s.timeline.Apply(*msg)
		}
	}
	if s.log != nil {
		if err := s.log.MarkOutboxSent(clientMsgID, serverMsgID); err != nil {
			s.logger.Warn("failed to mark sent", zap.Error(err), zap.String("client_msg_id", clientMsgID))
		}
	}

	s.logger.Info("message sent", zap.String("client_msg_id", clientMsgID), zap.String("server_msg_id", serverMsgID))
	s.bus.Emit(bus.SendAccepted, Accepted{
		ConversationID: s.conversationID,
		ClientMsgID:    clientMsgID,
		ServerMsgID:    serverMsgID,
	})
	return nil
}

// InFlight reports whether a send is awaiting its outcome.
func (s *Sender) InFlight() bool {
	return s.inFlight.Load()
}

// Disable blocks all further sends. The first reason wins.
func (s *Sender) Disable(reason string) {
	if reason == "" {
		reason = "conversation unavailable"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disabled == "" {
		s.disabled = reason
	}
}

// DisabledReason returns why sending was disabled, or "".
func (s *Sender) DisabledReason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.disabled
}

// Acknowledged is the payload of send.acknowledged: the push server took
// the message and is forwarding it.
type Acknowledged struct {
	ConversationID string
	Text           string
}
