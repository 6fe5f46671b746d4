package daemon

import (
	"context"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/reconnect"
	"github.com/matheus3301/chatsync/internal/status"
	chatsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/timeline"
	"go.uber.org/zap"
)

// Renderer draws conversation events into the log. A UI would subscribe to
// the same namespaces.
type Renderer struct {
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRenderer creates a renderer.
func NewRenderer(b *bus.Bus, logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{bus: b, logger: logger.Named("render")}
}

// Start subscribes to the bus until Stop.
func (r *Renderer) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	ch, unsub := r.bus.Subscribe("", 256)
	go func() {
		defer close(r.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				r.Render(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop unsubscribes and waits for the loop to exit.
func (r *Renderer) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}

// Render logs one event.
func (r *Renderer) Render(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case timeline.Appended:
		m := p.Message
		r.logger.Info("message",
			zap.String("id", m.ID),
			zap.String("direction", string(m.Direction)),
			zap.String("kind", string(m.Kind)),
			zap.String("body", m.Body),
			zap.Time("created_at", m.CreatedAt),
			zap.Int("position", p.Position),
		)
	case timeline.StatusChanged:
		r.logger.Info("delivery status",
			zap.String("id", p.ID),
			zap.String("from", string(p.From)),
			zap.String("to", string(p.To)),
		)
	case timeline.Restored:
		r.logger.Info("timeline restored", zap.Int("messages", p.Count))
	case status.StatusChange:
		r.logger.Info("connection", zap.String("from", string(p.From)), zap.String("to", string(p.To)))
	case reconnect.Scheduled:
		r.logger.Warn("reconnecting",
			zap.Int("attempt", p.Attempt),
			zap.Duration("delay", p.Delay),
			zap.Error(p.Err),
		)
	case reconnect.Failure:
		r.logger.Error("connection failed", zap.Error(p.Err))
	case outbox.Accepted:
		r.logger.Info("send accepted", zap.String("client_msg_id", p.ClientMsgID), zap.String("server_msg_id", p.ServerMsgID))
	case outbox.Acknowledged:
		r.logger.Info("send acknowledged", zap.String("text", p.Text))
	case outbox.Failed:
		r.logger.Warn("send failed", zap.String("client_msg_id", p.ClientMsgID), zap.Error(p.Err))
	case chatsync.Polled:
		r.logger.Debug("polled",
			zap.Int("fetched", p.Fetched),
			zap.Int("applied", p.Applied),
			zap.Time("cursor", p.Cursor),
		)
	case chatsync.Duplicate:
		r.logger.Debug("duplicate message absorbed", zap.String("id", p.ID))
	case chatsync.Fatal:
		r.logger.Error("synchronization terminated", zap.Error(p.Err))
	default:
		r.logger.Debug("event", zap.String("kind", evt.Kind))
	}
}
