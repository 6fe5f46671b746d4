package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
)

// Client talks to a daemon's control API over its Unix domain socket.
type Client struct {
	http    *http.Client
	baseURL string
}

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daemon returned %d: %s", e.StatusCode, e.Message)
}

// NewClient returns a client that dials socketPath for every request.
func NewClient(socketPath string) *Client {
	tr := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}
	return &Client{http: &http.Client{Transport: tr}, baseURL: "http://chatsyncd"}
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// Status returns the daemon status.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Messages returns the last limit timeline entries, or all when limit is 0.
func (c *Client) Messages(ctx context.Context, limit int) (*MessagesResponse, error) {
	path := "/v1/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out MessagesResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Send submits an outbound text message.
func (c *Client) Send(ctx context.Context, text string) (*SendResponse, error) {
	var out SendResponse
	if err := c.do(ctx, http.MethodPost, "/v1/messages", SendRequest{Text: text}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Outbox returns the send log.
func (c *Client) Outbox(ctx context.Context) (*OutboxResponse, error) {
	var out OutboxResponse
	if err := c.do(ctx, http.MethodGet, "/v1/outbox", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Pause stops intake without terminating it.
func (c *Client) Pause(ctx context.Context) (*ActionResponse, error) {
	return c.action(ctx, "/v1/sync/pause")
}

// Resume restarts intake.
func (c *Client) Resume(ctx context.Context) (*ActionResponse, error) {
	return c.action(ctx, "/v1/sync/resume")
}

// Poll runs one fetch cycle immediately.
func (c *Client) Poll(ctx context.Context) (*ActionResponse, error) {
	return c.action(ctx, "/v1/sync/poll")
}

func (c *Client) action(ctx context.Context, path string) (*ActionResponse, error) {
	var out ActionResponse
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("dial daemon: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		var e ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
