// internal/service/feed/engine.go

package feed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"pawmap/internal/domain/feed"
	"pawmap/internal/domain/identity"
)

// DefaultMaxMessages is the window size used when a subscriber asks for none
const DefaultMaxMessages = 100

// EngineConfig contains configuration for the feed engine
type EngineConfig struct {
	// MaxMessageLength limits message text in runes; zero means unlimited
	MaxMessageLength int
}

// Engine sends chat messages and keeps one live subscription to the latest
// window of the feed
type Engine struct {
	store    feed.Store
	identity identity.Provider
	config   EngineConfig

	mu      sync.Mutex
	current *subscription
}

// NewEngine creates a new feed engine
func NewEngine(store feed.Store, identity identity.Provider, config EngineConfig) *Engine {
	return &Engine{
		store:    store,
		identity: identity,
		config:   config,
	}
}

// Send appends a message authored by the current actor. The message shows
// up through the subscription once the store has it.
func (e *Engine) Send(ctx context.Context, text string) error {
	actor := e.identity.CurrentActor(ctx)
	if actor == nil {
		return identity.ErrUnauthenticated
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return feed.ErrEmptyMessage
	}
	if e.config.MaxMessageLength > 0 && utf8.RuneCountInString(text) > e.config.MaxMessageLength {
		return fmt.Errorf("%w: %d characters allowed", feed.ErrMessageTooLong, e.config.MaxMessageLength)
	}

	_, err := e.store.Append(ctx, feed.NewMessage{
		Text:       text,
		AuthorID:   actor.ID,
		AuthorName: actor.Name(),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", feed.ErrSendFailed, err)
	}

	return nil
}

// Subscribe starts delivering the newest maxMessages messages, oldest first,
// to onUpdate. Every update carries the complete window. Calling Subscribe
// again replaces the previous subscription. The returned cancel function is
// idempotent; once it returns no new onUpdate call starts.
func (e *Engine) Subscribe(ctx context.Context, maxMessages int, onUpdate func(feed.Update)) (func(), error) {
	if onUpdate == nil {
		return nil, fmt.Errorf("onUpdate callback is required")
	}
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current != nil {
		e.current.cancel()
		e.current = nil
	}

	stream, err := e.store.WatchLatest(ctx, maxMessages)
	if err != nil {
		return nil, fmt.Errorf("error subscribing to feed: %w", err)
	}

	sub := &subscription{
		ctx:         ctx,
		stream:      stream,
		maxMessages: maxMessages,
		onUpdate:    onUpdate,
	}
	e.current = sub
	go sub.deliver()

	return func() {
		sub.cancel()
		e.mu.Lock()
		if e.current == sub {
			e.current = nil
		}
		e.mu.Unlock()
	}, nil
}

// Close cancels the active subscription, if any
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != nil {
		e.current.cancel()
		e.current = nil
	}
}

type subscription struct {
	ctx         context.Context
	stream      feed.Stream
	maxMessages int
	onUpdate    func(feed.Update)

	// emitMu is held from the cancelled check until onUpdate returns
	emitMu     sync.Mutex
	cancelled  atomic.Bool
	inCallback atomic.Bool
	stopOnce   sync.Once
}

func (s *subscription) deliver() {
	for snapshot := range s.stream.Snapshots() {
		if !s.emit(feed.Update{Messages: snapshot.Window(s.maxMessages)}) {
			return
		}
	}

	// Ending the subscribing scope is a cancel, not a disconnect
	if s.cancelled.Load() || s.ctx.Err() != nil {
		s.cancel()
		return
	}

	cause := s.stream.Err()
	if cause == nil {
		cause = errors.New("stream closed")
	}
	log.Printf("Feed subscription ended: %v", cause)
	s.emit(feed.Update{Err: fmt.Errorf("%w: %w", feed.ErrFeedDisconnected, cause)})
	s.cancel()
}

// emit runs the callback unless the subscription was cancelled
func (s *subscription) emit(update feed.Update) bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	if s.cancelled.Load() {
		return false
	}
	s.inCallback.Store(true)
	defer s.inCallback.Store(false)
	s.onUpdate(update)
	return true
}

// cancel stops delivery. When no callback is running it waits for emit to
// pass its check, so no callback starts after it returns. A running callback,
// including one that calls cancel itself, is left to finish.
func (s *subscription) cancel() {
	s.cancelled.Store(true)
	if !s.inCallback.Load() {
		s.emitMu.Lock()
		s.emitMu.Unlock()
	}

	s.stopOnce.Do(func() {
		if err := s.stream.Close(); err != nil {
			log.Printf("Error closing feed stream: %v", err)
		}
	})
}
