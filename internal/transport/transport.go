// Package transport defines how message events reach a conversation and how
// failures are classified, independently of polling or push delivery.
package transport

import (
	"context"
	"io"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
)

// FetchResult is one poll window.
type FetchResult struct {
	Messages      []model.Message
	StatusUpdates []model.StatusUpdate
	// NextCursor is the watermark the backend suggests for the next poll.
	NextCursor time.Time
}

// Fetcher returns the events of a conversation newer than cursor.
type Fetcher interface {
	FetchSince(ctx context.Context, conversationID string, cursor time.Time) (*FetchResult, error)
}

// MessageSender submits a user-composed message. The returned message is nil
// when the backend only queued it.
type MessageSender interface {
	SendMessage(ctx context.Context, conversationID, body string) (*model.Message, error)
}

// Media identifies an uploaded attachment.
type Media struct {
	ID   string
	Type string
}

// MediaUploader stores an attachment out of band and returns its reference.
type MediaUploader interface {
	UploadMedia(ctx context.Context, conversationID, filename string, r io.Reader) (*Media, error)
}
