package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/store"
	chatsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type stubBackend struct {
	mu       sync.Mutex
	pending  []model.Message
	fetchErr error
	sendErr  error
	sent     []string
}

func (b *stubBackend) FetchSince(_ context.Context, _ string, cursor time.Time) (*transport.FetchResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	res := &transport.FetchResult{Messages: b.pending, NextCursor: cursor}
	for _, m := range b.pending {
		if m.CreatedAt.After(res.NextCursor) {
			res.NextCursor = m.CreatedAt
		}
	}
	b.pending = nil
	return res, nil
}

func (b *stubBackend) SendMessage(_ context.Context, _, body string) (*model.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, body)
	return nil, b.sendErr
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestHandler(t *testing.T, backend *stubBackend) (*Handler, *chatsync.Synchronizer) {
	t.Helper()
	db := testDB(t)
	s, err := chatsync.New(chatsync.Options{
		ConversationID: "c1",
		Mode:           chatsync.ModePoll,
		PollInterval:   time.Hour,
		Fetcher:        backend,
		Sender:         backend,
		Store:          db,
		Bus:            bus.New(),
		Logger:         zap.NewNop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Stop)
	return NewHandler(s, db, zap.NewNop()), s
}

func serve(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestStatusInitial(t *testing.T) {
	h, _ := newTestHandler(t, &stubBackend{})
	rec := serve(t, h.Engine(), http.MethodGet, "/v1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	st := decode[StatusResponse](t, rec)
	if st.Conversation != "c1" || st.Mode != "poll" || st.Terminated || st.Messages != 0 {
		t.Errorf("status = %+v", st)
	}
	if st.Cursor != model.FormatTimestamp(time.Time{}) {
		t.Errorf("cursor = %q", st.Cursor)
	}
}

func TestPollThenListMessages(t *testing.T) {
	backend := &stubBackend{pending: []model.Message{
		{ID: "m1", ConversationID: "c1", Direction: model.Inbound, Kind: model.KindText, Body: "hi", CreatedAt: t0},
		{ID: "m2", ConversationID: "c1", Direction: model.Inbound, Kind: model.KindText, Body: "there", CreatedAt: t0.Add(time.Second)},
	}}
	h, _ := newTestHandler(t, backend)
	engine := h.Engine()

	rec := serve(t, engine, http.MethodPost, "/v1/sync/poll", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("poll code = %d body = %s", rec.Code, rec.Body.String())
	}
	if !decode[ActionResponse](t, rec).Success {
		t.Error("poll did not run")
	}

	msgs := decode[MessagesResponse](t, serve(t, engine, http.MethodGet, "/v1/messages", nil)).Messages
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].Body != "there" {
		t.Fatalf("messages = %+v", msgs)
	}

	last := decode[MessagesResponse](t, serve(t, engine, http.MethodGet, "/v1/messages?limit=1", nil)).Messages
	if len(last) != 1 || last[0].ID != "m2" {
		t.Errorf("limited = %+v", last)
	}

	st := decode[StatusResponse](t, serve(t, engine, http.MethodGet, "/v1/status", nil))
	if st.Messages != 2 || st.Cursor != model.FormatTimestamp(t0.Add(time.Second)) {
		t.Errorf("status = %+v", st)
	}
}

func TestListMessagesBadLimit(t *testing.T) {
	h, _ := newTestHandler(t, &stubBackend{})
	for _, q := range []string{"abc", "-1"} {
		rec := serve(t, h.Engine(), http.MethodGet, "/v1/messages?limit="+q, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%s code = %d", q, rec.Code)
		}
	}
}

func TestSendMessage(t *testing.T) {
	tests := []struct {
		name    string
		body    any
		sendErr error
		want    int
	}{
		{"accepted", SendRequest{Text: "hello"}, nil, http.StatusAccepted},
		{"empty", SendRequest{Text: "   "}, nil, http.StatusBadRequest},
		{"rejected", SendRequest{Text: "hello"}, &transport.RejectedError{Message: "window closed"}, http.StatusUnprocessableEntity},
		{"network", SendRequest{Text: "hello"}, &transport.TransportError{Op: "send", Err: errors.New("reset")}, http.StatusBadGateway},
		{"forbidden", SendRequest{Text: "hello"}, &transport.AuthorizationError{StatusCode: http.StatusForbidden}, http.StatusGone},
		{"conversation gone", SendRequest{Text: "hello"}, transport.FromStatus(http.StatusNotFound, "Contact not found"), http.StatusGone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandler(t, &stubBackend{sendErr: tt.sendErr})
			rec := serve(t, h.Engine(), http.MethodPost, "/v1/messages", tt.body)
			if rec.Code != tt.want {
				t.Errorf("code = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestSendMessageInvalidJSON(t *testing.T) {
	h, _ := newTestHandler(t, &stubBackend{})
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	h.Engine().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("code = %d", rec.Code)
	}
}

func TestOutboxListsAttempts(t *testing.T) {
	backend := &stubBackend{}
	h, _ := newTestHandler(t, backend)
	engine := h.Engine()

	serve(t, engine, http.MethodPost, "/v1/messages", SendRequest{Text: "first"})
	backend.mu.Lock()
	backend.sendErr = &transport.RejectedError{Message: "nope"}
	backend.mu.Unlock()
	serve(t, engine, http.MethodPost, "/v1/messages", SendRequest{Text: "second"})

	entries := decode[OutboxResponse](t, serve(t, engine, http.MethodGet, "/v1/outbox", nil)).Entries
	if len(entries) != 2 {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].Body != "first" || entries[0].Status != store.OutboxSent {
		t.Errorf("first = %+v", entries[0])
	}
	if entries[1].Body != "second" || entries[1].Status != store.OutboxFailed || entries[1].Error == "" {
		t.Errorf("second = %+v", entries[1])
	}
}

func TestTerminalPollDisablesControl(t *testing.T) {
	backend := &stubBackend{fetchErr: &transport.AuthorizationError{StatusCode: http.StatusForbidden}}
	h, _ := newTestHandler(t, backend)
	engine := h.Engine()

	if rec := serve(t, engine, http.MethodPost, "/v1/sync/poll", nil); rec.Code != http.StatusGone {
		t.Errorf("poll code = %d", rec.Code)
	}
	st := decode[StatusResponse](t, serve(t, engine, http.MethodGet, "/v1/status", nil))
	if !st.Terminated || st.SendDisabled == "" {
		t.Errorf("status = %+v", st)
	}
	if rec := serve(t, engine, http.MethodPost, "/v1/sync/resume", nil); rec.Code != http.StatusGone {
		t.Errorf("resume code = %d", rec.Code)
	}
	if rec := serve(t, engine, http.MethodPost, "/v1/messages", SendRequest{Text: "hi"}); rec.Code != http.StatusGone {
		t.Errorf("send code = %d", rec.Code)
	}
}

func TestTerminalSendDisablesControl(t *testing.T) {
	backend := &stubBackend{sendErr: &transport.AuthorizationError{StatusCode: http.StatusUnauthorized}}
	h, _ := newTestHandler(t, backend)
	engine := h.Engine()

	for i := 0; i < 2; i++ {
		if rec := serve(t, engine, http.MethodPost, "/v1/messages", SendRequest{Text: "hi"}); rec.Code != http.StatusGone {
			t.Errorf("send %d code = %d", i, rec.Code)
		}
	}
	st := decode[StatusResponse](t, serve(t, engine, http.MethodGet, "/v1/status", nil))
	if !st.Terminated || st.SendDisabled == "" {
		t.Errorf("status = %+v", st)
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.sent) != 1 {
		t.Errorf("backend saw %d sends, want 1", len(backend.sent))
	}
}

func TestPauseResume(t *testing.T) {
	h, _ := newTestHandler(t, &stubBackend{})
	engine := h.Engine()
	for _, path := range []string{"/v1/sync/resume", "/v1/sync/pause", "/v1/sync/resume"} {
		rec := serve(t, engine, http.MethodPost, path, nil)
		if rec.Code != http.StatusOK || !decode[ActionResponse](t, rec).Success {
			t.Errorf("%s: code = %d body = %s", path, rec.Code, rec.Body.String())
		}
	}
}

func TestClientOverUnixSocket(t *testing.T) {
	tmpDir, err := os.MkdirTemp("/tmp", "chatsync-api-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()
	socketPath := filepath.Join(tmpDir, "d.sock")

	backend := &stubBackend{pending: []model.Message{
		{ID: "m1", ConversationID: "c1", Direction: model.Inbound, Kind: model.KindText, Body: "hi", CreatedAt: t0},
	}}
	h, _ := newTestHandler(t, backend)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	srv := &http.Server{Handler: h.Engine()}
	go func() { _ = srv.Serve(listener) }()
	defer func() { _ = srv.Close() }()

	c := NewClient(socketPath)
	defer func() { _ = c.Close() }()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := c.Poll(ctx); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	st, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Conversation != "c1" || st.Messages != 1 {
		t.Errorf("status = %+v", st)
	}
	msgs, err := c.Messages(ctx, 0)
	if err != nil || len(msgs.Messages) != 1 {
		t.Fatalf("Messages = %+v, %v", msgs, err)
	}
	if _, err := c.Send(ctx, "reply"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	_, err = c.Send(ctx, "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("empty send err = %v", err)
	}

	out, err := c.Outbox(ctx)
	if err != nil || len(out.Entries) != 1 || out.Entries[0].Body != "reply" {
		t.Errorf("Outbox = %+v, %v", out, err)
	}
}

func TestClientNoDaemon(t *testing.T) {
	c := NewClient(filepath.Join(t.TempDir(), "missing.sock"))
	if _, err := c.Status(context.Background()); err == nil {
		t.Error("expected dial error")
	}
}
