// Package api exposes a running synchronizer over HTTP/JSON for
// chatsyncctl and other local tools.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	chatsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/timeline"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
)

// Conversation is the part of *sync.Synchronizer the API drives.
type Conversation interface {
	Timeline() *timeline.Timeline
	Sender() *outbox.Sender
	Mode() chatsync.Mode
	ConnState() status.State
	Terminated() bool
	Send(ctx context.Context, body string) error
	Poll(ctx context.Context) (bool, error)
	Resume(ctx context.Context) error
	Pause()
}

// Handler serves the control API of one conversation.
type Handler struct {
	conv      Conversation
	db        *store.DB
	logger    *zap.Logger
	startedAt time.Time
}

// NewHandler creates the API handler. db may be nil, which disables the
// send log endpoint.
func NewHandler(conv Conversation, db *store.DB, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{conv: conv, db: db, logger: logger, startedAt: time.Now()}
}

// Engine builds the gin router.
func (h *Handler) Engine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	v1 := r.Group("/v1")
	v1.GET("/status", h.getStatus)
	v1.GET("/messages", h.listMessages)
	v1.POST("/messages", h.sendMessage)
	v1.GET("/outbox", h.listOutbox)
	v1.POST("/sync/pause", h.pause)
	v1.POST("/sync/resume", h.resume)
	v1.POST("/sync/poll", h.poll)
	return r
}

func (h *Handler) getStatus(c *gin.Context) {
	tl := h.conv.Timeline()
	c.JSON(http.StatusOK, StatusResponse{
		Conversation: tl.ConversationID(),
		Mode:         string(h.conv.Mode()),
		ConnState:    string(h.conv.ConnState()),
		Terminated:   h.conv.Terminated(),
		SendDisabled: h.conv.Sender().DisabledReason(),
		SendInFlight: h.conv.Sender().InFlight(),
		Cursor:       model.FormatTimestamp(tl.Cursor().Value()),
		Messages:     tl.Len(),
		UptimeMs:     time.Since(h.startedAt).Milliseconds(),
	})
}

func (h *Handler) listMessages(c *gin.Context) {
	msgs := h.conv.Timeline().Messages()
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		if limit > 0 && limit < len(msgs) {
			msgs = msgs[len(msgs)-limit:]
		}
	}
	out := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, viewOf(m))
	}
	c.JSON(http.StatusOK, MessagesResponse{Messages: out})
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if err := h.conv.Send(c.Request.Context(), req.Text); err != nil {
		code := sendStatus(err)
		h.logger.Debug("send rejected", zap.Int("status", code), zap.Error(err))
		c.JSON(code, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, SendResponse{Accepted: true})
}

func sendStatus(err error) int {
	var rejected *transport.RejectedError
	switch {
	case errors.Is(err, outbox.ErrEmptyBody):
		return http.StatusBadRequest
	case errors.Is(err, outbox.ErrSendInFlight):
		return http.StatusConflict
	case errors.Is(err, outbox.ErrSendDisabled), transport.IsTerminal(err):
		return http.StatusGone
	case errors.As(err, &rejected):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func (h *Handler) listOutbox(c *gin.Context) {
	if h.db == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no send log configured"})
		return
	}
	entries, err := h.db.ListOutbox(h.conv.Timeline().ConversationID())
	if err != nil {
		h.logger.Error("failed to list outbox", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to read send log"})
		return
	}
	out := make([]OutboxView, 0, len(entries))
	for _, e := range entries {
		out = append(out, OutboxView{
			ClientMsgID: e.ClientMsgID,
			Body:        e.Body,
			Status:      e.Status,
			Error:       e.ErrorMessage,
			ServerMsgID: e.ServerMsgID,
			CreatedAt:   time.UnixMilli(e.CreatedAt).UTC(),
		})
	}
	c.JSON(http.StatusOK, OutboxResponse{Entries: out})
}

func (h *Handler) pause(c *gin.Context) {
	h.conv.Pause()
	c.JSON(http.StatusOK, ActionResponse{Success: true, Message: "paused"})
}

func (h *Handler) resume(c *gin.Context) {
	if h.conv.Terminated() {
		c.JSON(http.StatusGone, ErrorResponse{Error: "synchronization terminated"})
		return
	}
	// Intake must outlive this request.
	if err := h.conv.Resume(context.WithoutCancel(c.Request.Context())); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, ActionResponse{Success: true, Message: "resumed"})
}

func (h *Handler) poll(c *gin.Context) {
	if h.conv.Mode() != chatsync.ModePoll {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "conversation is not in poll mode"})
		return
	}
	ran, err := h.conv.Poll(c.Request.Context())
	if err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, chatsync.ErrTerminated) || transport.IsTerminal(err) {
			code = http.StatusGone
		}
		c.JSON(code, ErrorResponse{Error: err.Error()})
		return
	}
	msg := "polled"
	if !ran {
		msg = "skipped: a fetch is already in flight"
	}
	c.JSON(http.StatusOK, ActionResponse{Success: ran, Message: msg})
}

func viewOf(m model.Message) MessageView {
	return MessageView{
		ID:            m.ID,
		Direction:     string(m.Direction),
		Kind:          string(m.Kind),
		Body:          m.Body,
		MediaRef:      m.MediaRef,
		TemplateName:  m.TemplateName,
		CreatedAt:     m.CreatedAt,
		DeliveryState: string(m.DeliveryState),
	}
}
