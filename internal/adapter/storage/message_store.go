// internal/adapter/storage/message_store.go

package storage

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"pawmap/internal/domain/document"
	"pawmap/internal/domain/feed"
)

// MessagesCollection is the collection chat messages live in
const MessagesCollection = "chat_messages"

// MessageStore implements feed.Store on top of a document store
type MessageStore struct {
	docs document.Store
	now  func() time.Time
}

// NewMessageStore creates a new message store
func NewMessageStore(docs document.Store) *MessageStore {
	return &MessageStore{
		docs: docs,
		now:  time.Now,
	}
}

// Append writes a message; the store assigns the timestamp
func (s *MessageStore) Append(ctx context.Context, msg feed.NewMessage) (string, error) {
	id, err := s.docs.Insert(ctx, MessagesCollection, map[string]interface{}{
		"text":     msg.Text,
		"userId":   msg.AuthorID,
		"username": msg.AuthorName,
	})
	if err != nil {
		return "", fmt.Errorf("error appending message: %w", err)
	}
	return id, nil
}

// WatchLatest streams the newest limit messages, newest first
func (s *MessageStore) WatchLatest(ctx context.Context, limit int) (feed.Stream, error) {
	w, err := s.docs.Watch(ctx, document.Query{
		Collection: MessagesCollection,
		Limit:      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("error watching messages: %w", err)
	}

	st := &messageStream{
		watch: w,
		out:   make(chan feed.Snapshot),
		done:  make(chan struct{}),
	}
	go st.decodeLoop(s.now)

	return st, nil
}

// DecodeMessage converts a stored document into a message. receivedAt stands
// in for a timestamp the server has not resolved yet.
func DecodeMessage(doc document.Document, receivedAt time.Time) (feed.Message, error) {
	d := document.NewDecoder(MessagesCollection, doc)
	msg := feed.Message{
		ID:         doc.ID,
		Text:       d.String("text"),
		AuthorID:   d.String("userId"),
		AuthorName: d.String("username"),
	}
	if err := d.Err(); err != nil {
		return feed.Message{}, err
	}

	if doc.CreatedAt != nil {
		msg.CreatedAt = *doc.CreatedAt
	} else {
		msg.CreatedAt = receivedAt
		msg.Pending = true
	}

	return msg, nil
}

// messageStream decodes raw snapshots into feed snapshots
type messageStream struct {
	watch document.Watch
	out   chan feed.Snapshot
	done  chan struct{}

	mu  sync.Mutex
	err error
}

func (st *messageStream) decodeLoop(now func() time.Time) {
	defer close(st.out)

	for docs := range st.watch.Snapshots() {
		receivedAt := now()
		snapshot := make(feed.Snapshot, 0, len(docs))
		for _, doc := range docs {
			msg, err := DecodeMessage(doc, receivedAt)
			if err != nil {
				log.Printf("Skipping message: %v", err)
				continue
			}
			snapshot = append(snapshot, msg)
		}

		select {
		case st.out <- snapshot:
		case <-st.done:
			return
		}
	}

	st.setErr(st.watch.Err())
}

func (st *messageStream) setErr(err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.err == nil {
		st.err = err
	}
}

// Snapshots implements feed.Stream
func (st *messageStream) Snapshots() <-chan feed.Snapshot {
	return st.out
}

// Err implements feed.Stream
func (st *messageStream) Err() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.err
}

// Close implements feed.Stream
func (st *messageStream) Close() error {
	st.mu.Lock()
	select {
	case <-st.done:
	default:
		close(st.done)
	}
	st.mu.Unlock()
	return st.watch.Close()
}
