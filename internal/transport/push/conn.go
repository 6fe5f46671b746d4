// Package push maintains the WebSocket channel the backend uses to push
// messages for a conversation.
package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	readLimit    = 1 << 20
)

// DefaultPathTemplate is appended to the base URL when no template is given.
const DefaultPathTemplate = "ws/chat/{conversation}/"

// Dialer opens push connections.
type Dialer struct {
	URLTemplate   string
	CSRFToken     string
	SessionCookie string
	Logger        *zap.Logger

	ws *websocket.Dialer
}

// NewDialer returns a Dialer for a template such as
// wss://shop.example/ws/chat/{conversation}/.
func NewDialer(urlTemplate, csrfToken, sessionCookie string, logger *zap.Logger) *Dialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dialer{
		URLTemplate:   urlTemplate,
		CSRFToken:     csrfToken,
		SessionCookie: sessionCookie,
		Logger:        logger,
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 15 * time.Second,
		},
	}
}

// URL expands the template for conversationID.
func (d *Dialer) URL(conversationID string) (string, error) {
	raw := strings.ReplaceAll(d.URLTemplate, "{conversation}", url.PathEscape(conversationID))
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse push url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("push url %q: unsupported scheme", raw)
	}
	return u.String(), nil
}

// Dial connects to the conversation channel.
func (d *Dialer) Dial(ctx context.Context, conversationID string) (*Conn, error) {
	target, err := d.URL(conversationID)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	var cookies []string
	if d.CSRFToken != "" {
		cookies = append(cookies, (&http.Cookie{Name: "csrftoken", Value: d.CSRFToken}).String())
	}
	if d.SessionCookie != "" {
		cookies = append(cookies, (&http.Cookie{Name: "sessionid", Value: d.SessionCookie}).String())
	}
	if len(cookies) > 0 {
		header.Set("Cookie", strings.Join(cookies, "; "))
	}

	ws, resp, err := d.ws.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			defer func() { _ = resp.Body.Close() }()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			switch resp.StatusCode {
			case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusGone:
				return nil, transport.FromStatus(resp.StatusCode, strings.TrimSpace(string(body)))
			}
		}
		return nil, &transport.TransportError{Op: "dial", Err: err}
	}

	d.Logger.Debug("push connected", zap.String("url", target))
	return newConn(ws, conversationID, d.Logger), nil
}

// Conn is an open push channel. ReadEvent must be called from a single
// goroutine; SendText and Close are safe for concurrent use.
type Conn struct {
	ws             *websocket.Conn
	conversationID string
	logger         *zap.Logger

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, conversationID string, logger *zap.Logger) *Conn {
	c := &Conn{
		ws:             ws,
		conversationID: conversationID,
		logger:         logger,
		done:           make(chan struct{}),
	}
	ws.SetReadLimit(readLimit)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.keepalive()
	return c
}

func (c *Conn) keepalive() {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}

// ReadEvent blocks until the next frame. A *transport.ParseError leaves the
// connection usable; any other error means the connection is gone.
func (c *Conn) ReadEvent() (Event, error) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return Event{}, &transport.TransportError{Op: "read", Err: io.EOF}
			}
			return Event{}, &transport.TransportError{Op: "read", Err: err}
		}
		if mt != websocket.TextMessage {
			continue
		}
		return DecodeFrame(data, c.conversationID)
	}
}

// SendText asks the server to send body to the contact.
func (c *Conn) SendText(body string) error {
	payload, err := EncodeSend(body)
	if err != nil {
		return fmt.Errorf("encode send: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return &transport.TransportError{Op: "write", Err: ErrClosed}
	default:
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		return &transport.TransportError{Op: "write", Err: err}
	}
	return nil
}

// Close sends a close frame and releases the socket. It is idempotent.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

// ErrClosed is returned by SendText after Close.
var ErrClosed = errors.New("push connection closed")
