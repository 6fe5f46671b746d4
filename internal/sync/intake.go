package sync

import (
	"context"
	"errors"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/reconnect"
	"github.com/matheus3301/chatsync/internal/transport"
	"github.com/matheus3301/chatsync/internal/transport/push"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by a push send while no connection is open.
var ErrNotConnected = errors.New("push connection is not open")

// PushConn is an open push channel. *push.Conn implements it.
type PushConn interface {
	ReadEvent() (push.Event, error)
	SendText(body string) error
	Close() error
}

// DialFunc opens a push channel for the synchronizer's conversation.
type DialFunc func(ctx context.Context) (PushConn, error)

// DialerFunc adapts a push.Dialer to a DialFunc for conversationID.
func DialerFunc(d *push.Dialer, conversationID string) DialFunc {
	return func(ctx context.Context) (PushConn, error) {
		return d.Dial(ctx, conversationID)
	}
}

func (s *Synchronizer) pushLoop(ctx context.Context) {
	err := s.controller.Run(ctx, func(ctx context.Context) (reconnect.Session, error) {
		conn, err := s.opts.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return &pushSession{s: s, conn: conn}, nil
	})
	if err != nil && ctx.Err() == nil {
		s.fail(err)
	}
}

type pushSession struct {
	s    *Synchronizer
	conn PushConn
}

// Serve reads frames until the connection drops or ctx is cancelled.
// Malformed frames are dropped and the connection stays open.
func (p *pushSession) Serve(ctx context.Context) error {
	p.s.setConn(p.conn)
	defer p.s.setConn(nil)
	stop := context.AfterFunc(ctx, func() { _ = p.conn.Close() })
	defer stop()
	defer func() { _ = p.conn.Close() }()

	for {
		ev, err := p.conn.ReadEvent()
		if err != nil {
			if transport.IsParse(err) {
				p.s.logger.Warn("dropping malformed frame", zap.Error(err))
				continue
			}
			return err
		}
		p.s.dispatch(ev)
	}
}

func (s *Synchronizer) dispatch(ev push.Event) {
	switch ev.Kind {
	case push.MessageArrival:
		if !s.timeline.Apply(ev.Message) {
			s.bus.Emit(bus.SyncDuplicate, Duplicate{ConversationID: s.opts.ConversationID, ID: ev.Message.ID})
			return
		}
		s.persist()
	case push.StatusChange:
		if s.timeline.ApplyStatusUpdate(ev.Status.ID, ev.Status.State) && s.journal != nil {
			s.journal.StatusChanged(ev.Status.ID)
			s.persist()
		}
	case push.SendAck:
		s.bus.Emit(bus.SendAcknowledged, outbox.Acknowledged{ConversationID: s.opts.ConversationID, Text: ev.Ack})
	case push.ServerError:
		s.logger.Warn("server reported an error", zap.String("message", ev.Error))
		s.bus.Emit(bus.SendFailed, outbox.Failed{
			ConversationID: s.opts.ConversationID,
			Err:            &transport.RejectedError{Message: ev.Error},
		})
	}
}

func (s *Synchronizer) setConn(c PushConn) {
	s.connMu.Lock()
	s.conn = c
	s.connMu.Unlock()
}

func (s *Synchronizer) currentConn() PushConn {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.conn
}

// pushTextSender writes a send frame on the open connection. The message
// itself arrives later as a message-arrival frame.
type pushTextSender struct {
	s *Synchronizer
}

func (p pushTextSender) SendText(_ context.Context, body string) (*model.Message, error) {
	conn := p.s.currentConn()
	if conn == nil {
		return nil, &transport.TransportError{Op: "send", Err: ErrNotConnected}
	}
	if err := conn.SendText(body); err != nil {
		return nil, err
	}
	return nil, nil
}

type pollTextSender struct {
	conversationID string
	sender         transport.MessageSender
}

func (p pollTextSender) SendText(ctx context.Context, body string) (*model.Message, error) {
	return p.sender.SendMessage(ctx, p.conversationID, body)
}
