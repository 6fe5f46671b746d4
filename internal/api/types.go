package api

import "time"

// StatusResponse is returned by GET /v1/status.
type StatusResponse struct {
	Conversation string `json:"conversation"`
	Mode         string `json:"mode"`
	ConnState    string `json:"conn_state"`
	Terminated   bool   `json:"terminated"`
	SendDisabled string `json:"send_disabled,omitempty"`
	SendInFlight bool   `json:"send_in_flight"`
	Cursor       string `json:"cursor"`
	Messages     int    `json:"messages"`
	UptimeMs     int64  `json:"uptime_ms"`
}

// MessageView is one timeline entry.
type MessageView struct {
	ID            string    `json:"id"`
	Direction     string    `json:"direction"`
	Kind          string    `json:"kind"`
	Body          string    `json:"body,omitempty"`
	MediaRef      string    `json:"media_ref,omitempty"`
	TemplateName  string    `json:"template_name,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	DeliveryState string    `json:"delivery_state,omitempty"`
}

// MessagesResponse is returned by GET /v1/messages.
type MessagesResponse struct {
	Messages []MessageView `json:"messages"`
}

// SendRequest is the body of POST /v1/messages.
type SendRequest struct {
	Text string `json:"text"`
}

// SendResponse acknowledges an accepted send.
type SendResponse struct {
	Accepted bool `json:"accepted"`
}

// OutboxView is one send log entry.
type OutboxView struct {
	ClientMsgID string    `json:"client_msg_id"`
	Body        string    `json:"body"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	ServerMsgID string    `json:"server_msg_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// OutboxResponse is returned by GET /v1/outbox.
type OutboxResponse struct {
	Entries []OutboxView `json:"entries"`
}

// ActionResponse reports the outcome of a control action.
type ActionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ErrorResponse carries a failure reason.
type ErrorResponse struct {
	Error string `json:"error"`
}
