// internal/domain/feed/model.go

package feed

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEmptyMessage is returned when the trimmed text is empty
	ErrEmptyMessage = errors.New("message is empty")

	// ErrMessageTooLong is returned when the text exceeds the configured length
	ErrMessageTooLong = errors.New("message is too long")

	// ErrSendFailed wraps store errors raised while appending a message
	ErrSendFailed = errors.New("send failed")

	// ErrFeedDisconnected is delivered when the live subscription ends unexpectedly
	ErrFeedDisconnected = errors.New("feed disconnected")
)

// Message is a single immutable chat message
type Message struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	CreatedAt  time.Time `json:"createdAt"`
	// Pending is set while the store has not resolved the server timestamp;
	// CreatedAt then holds the time the snapshot was received.
	Pending bool `json:"pending,omitempty"`
}

// NewMessage is a message about to be appended
type NewMessage struct {
	Text       string
	AuthorID   string
	AuthorName string
}

// Snapshot is the store's current result set, newest first
type Snapshot []Message

// Window returns at most max messages of the snapshot in display order,
// oldest first. The newest messages are kept when the snapshot is longer
// than max.
func (s Snapshot) Window(max int) []Message {
	n := len(s)
	if max > 0 && n > max {
		n = max
	}
	window := make([]Message, n)
	for i := 0; i < n; i++ {
		window[n-1-i] = s[i]
	}
	return window
}

// Update is what a feed subscriber receives: either the complete ordered
// window or a terminal error
type Update struct {
	Messages []Message
	Err      error
}

// Stream is a live sequence of snapshots
type Stream interface {
	// Snapshots is closed when the stream ends
	Snapshots() <-chan Snapshot

	// Err reports why the stream ended; nil after Close
	Err() error

	// Close stops the stream; it is idempotent
	Close() error
}

// Store translates feed operations into document store calls
type Store interface {
	// Append writes a message with a server-assigned timestamp
	Append(ctx context.Context, msg NewMessage) (string, error)

	// WatchLatest streams the newest limit messages
	WatchLatest(ctx context.Context, limit int) (Stream, error)
}
