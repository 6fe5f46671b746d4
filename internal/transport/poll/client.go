// Package poll talks to the chat backend over plain HTTP: fetch-since,
// send-message and upload-media.
package poll

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
)

// Credentials are the authenticity values the backend expects on mutating
// calls. They are opaque to this package.
type Credentials struct {
	CSRFToken     string
	SessionCookie string
}

// Client implements transport.Fetcher, transport.MessageSender and
// transport.MediaUploader against the chat backend.
type Client struct {
	baseURL    *url.URL
	creds      Credentials
	httpClient *http.Client
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client rooted at baseURL (e.g. https://shop/whatsapp).
func NewClient(baseURL string, creds Credentials, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		baseURL:    u,
		creds:      creds,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c, nil
}

// envelope is the common response shape: {"status": "success"|"error", ...}.
type envelope struct {
	Status            string             `json:"status"`
	Message           json.RawMessage    `json:"message"`
	NewMessages       []json.RawMessage  `json:"new_messages"`
	UpdatedStatuses   []model.WireStatus `json:"updated_statuses"`
	NextPollTimestamp string             `json:"next_poll_timestamp"`
	MediaID           string             `json:"media_id"`
	MediaType         string             `json:"media_type"`
}

// FetchSince returns messages newer than cursor.
func (c *Client) FetchSince(ctx context.Context, conversationID string, cursor time.Time) (*transport.FetchResult, error) {
	q := url.Values{}
	q.Set("wa_id", conversationID)
	q.Set("last_timestamp", model.FormatTimestamp(cursor))
	endpoint := c.resolve("chats/messages/latest/") + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build fetch request: %w", err)
	}
	env, err := c.do(req, "fetch")
	if err != nil {
		return nil, err
	}

	res := &transport.FetchResult{NextCursor: cursor}
	for _, raw := range env.NewMessages {
		m, err := model.DecodeMessage(raw, conversationID)
		if err != nil {
			// One bad entry must not hide the rest of the window.
			c.logger.Warn("dropping malformed message", zap.Error(err), zap.String("conversation", conversationID))
			continue
		}
		res.Messages = append(res.Messages, m)
	}
	for _, ws := range env.UpdatedStatuses {
		u, err := ws.ToStatusUpdate()
		if err != nil {
			c.logger.Warn("dropping malformed status update", zap.Error(err), zap.String("conversation", conversationID))
			continue
		}
		res.StatusUpdates = append(res.StatusUpdates, u)
	}
	if env.NextPollTimestamp != "" {
		next, err := model.ParseTimestamp(env.NextPollTimestamp)
		if err != nil {
			return nil, transport.NewParseError(fmt.Errorf("next_poll_timestamp: %w", err), []byte(env.NextPollTimestamp))
		}
		res.NextCursor = next
	}
	return res, nil
}

// SendMessage posts a text message. A nil message means the backend queued
// it and it will arrive through the normal fetch path.
func (c *Client) SendMessage(ctx context.Context, conversationID, body string) (*model.Message, error) {
	form := url.Values{}
	form.Set("wa_id", conversationID)
	form.Set("text_content", body)
	endpoint := c.resolve("chats/" + url.PathEscape(conversationID) + "/send/")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	env, err := c.do(req, "send")
	if err != nil {
		return nil, err
	}

	// "message" is an object for synchronous sends and a string when queued.
	if len(env.Message) == 0 || env.Message[0] != '{' {
		return nil, nil
	}
	m, err := model.DecodeMessage(env.Message, conversationID)
	if err != nil {
		return nil, transport.NewParseError(err, env.Message)
	}
	return &m, nil
}

// UploadMedia uploads an attachment and returns the backend media reference.
func (c *Client) UploadMedia(ctx context.Context, conversationID, filename string, r io.Reader) (*transport.Media, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("wa_id", conversationID); err != nil {
		return nil, fmt.Errorf("write form field: %w", err)
	}
	fw, err := mw.CreateFormFile("media_file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(fw, r); err != nil {
		return nil, fmt.Errorf("copy media: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolve("chats/media/upload/"), &buf)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	env, err := c.do(req, "upload")
	if err != nil {
		return nil, err
	}
	if env.MediaID == "" {
		return nil, &transport.RejectedError{Message: "upload response has no media_id"}
	}
	mediaType := env.MediaType
	if mediaType == "" {
		mediaType = string(model.KindDocument)
	}
	return &transport.Media{ID: env.MediaID, Type: mediaType}, nil
}

func (c *Client) resolve(path string) string {
	return c.baseURL.ResolveReference(&url.URL{Path: path}).String()
}

func (c *Client) do(req *http.Request, op string) (*envelope, error) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if c.creds.CSRFToken != "" {
		req.AddCookie(&http.Cookie{Name: "csrftoken", Value: c.creds.CSRFToken})
		if req.Method != http.MethodGet {
			req.Header.Set("X-CSRFToken", c.creds.CSRFToken)
		}
	}
	if c.creds.SessionCookie != "" {
		req.AddCookie(&http.Cookie{Name: "sessionid", Value: c.creds.SessionCookie})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &transport.TransportError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, &transport.TransportError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}

	var env envelope
	decodeErr := json.Unmarshal(data, &env)

	if resp.StatusCode >= 400 {
		reason := ""
		if decodeErr == nil {
			reason = env.reason()
		}
		c.logger.Debug("backend error", zap.String("op", op), zap.Int("status", resp.StatusCode), zap.String("reason", reason))
		return nil, transport.FromStatus(resp.StatusCode, reason)
	}
	if decodeErr != nil {
		return nil, transport.NewParseError(decodeErr, data)
	}
	if env.Status != "success" {
		return nil, &transport.RejectedError{StatusCode: resp.StatusCode, Message: env.reason()}
	}
	return &env, nil
}

// reason extracts the human readable "message" string of an error body.
func (e *envelope) reason() string {
	var s string
	if len(e.Message) > 0 && json.Unmarshal(e.Message, &s) == nil {
		return s
	}
	return e.Status
}
