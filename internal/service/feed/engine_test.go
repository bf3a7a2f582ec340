package feed

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"pawmap/internal/adapter/storage"
	"pawmap/internal/domain/feed"
	"pawmap/internal/domain/identity"
)

var alice = &identity.Actor{ID: "u-alice", DisplayName: "Alice"}

type recordingStore struct {
	appended []feed.NewMessage
	err      error
}

func (s *recordingStore) Append(ctx context.Context, msg feed.NewMessage) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.appended = append(s.appended, msg)
	return "m1", nil
}

func (s *recordingStore) WatchLatest(ctx context.Context, limit int) (feed.Stream, error) {
	return nil, errors.New("not supported")
}

// bufferedStream keeps whatever is queued on its channel after Close, like a
// store that already produced snapshots the consumer has not read
type bufferedStream struct {
	snapshots chan feed.Snapshot
	closeOnce sync.Once
	closed    chan struct{}
}

func newBufferedStream() *bufferedStream {
	return &bufferedStream{snapshots: make(chan feed.Snapshot, 8), closed: make(chan struct{})}
}

func (s *bufferedStream) Snapshots() <-chan feed.Snapshot { return s.snapshots }
func (s *bufferedStream) Err() error                      { return nil }

func (s *bufferedStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

type streamStore struct {
	recordingStore
	stream feed.Stream
}

func (s *streamStore) WatchLatest(ctx context.Context, limit int) (feed.Stream, error) {
	return s.stream, nil
}

func snapshotOf(texts ...string) feed.Snapshot {
	snap := make(feed.Snapshot, len(texts))
	for i, text := range texts {
		snap[i] = feed.Message{ID: text, Text: text}
	}
	return snap
}

func newMemoryEngine(actor *identity.Actor) (*Engine, *storage.MemoryStore) {
	docs := storage.NewMemoryStore()
	return NewEngine(storage.NewMessageStore(docs), identity.Static{Actor: actor}, EngineConfig{MaxMessageLength: 500}), docs
}

func collect(t *testing.T, e *Engine, max int) (<-chan feed.Update, func()) {
	t.Helper()
	updates := make(chan feed.Update, 64)
	cancel, err := e.Subscribe(context.Background(), max, func(u feed.Update) {
		updates <- u
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	t.Cleanup(cancel)
	return updates, cancel
}

// waitFor returns the first update accepted by match
func waitFor(t *testing.T, updates <-chan feed.Update, match func(feed.Update) bool) feed.Update {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u := <-updates:
			if match(u) {
				return u
			}
		case <-deadline:
			t.Fatal("timed out waiting for feed update")
			return feed.Update{}
		}
	}
}

func withCount(n int) func(feed.Update) bool {
	return func(u feed.Update) bool { return u.Err == nil && len(u.Messages) == n }
}

func texts(msgs []feed.Message) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = m.Text
	}
	return strings.Join(parts, ",")
}

func TestSend_AnonymousIsRejectedWithoutStoreCall(t *testing.T) {
	store := &recordingStore{}
	e := NewEngine(store, identity.Static{}, EngineConfig{})

	err := e.Send(context.Background(), "hello")
	if !errors.Is(err, identity.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if len(store.appended) != 0 {
		t.Errorf("store should not be called, got %d appends", len(store.appended))
	}
}

func TestSend_BlankTextIsRejectedWithoutStoreCall(t *testing.T) {
	store := &recordingStore{}
	e := NewEngine(store, identity.Static{Actor: alice}, EngineConfig{})

	for _, text := range []string{"", "   ", "\n\t"} {
		if err := e.Send(context.Background(), text); !errors.Is(err, feed.ErrEmptyMessage) {
			t.Errorf("Send(%q): expected ErrEmptyMessage, got %v", text, err)
		}
	}
	if len(store.appended) != 0 {
		t.Errorf("store should not be called, got %d appends", len(store.appended))
	}
}

func TestSend_TooLongIsRejected(t *testing.T) {
	store := &recordingStore{}
	e := NewEngine(store, identity.Static{Actor: alice}, EngineConfig{MaxMessageLength: 3})

	if err := e.Send(context.Background(), "woof"); !errors.Is(err, feed.ErrMessageTooLong) {
		t.Fatalf("expected ErrMessageTooLong, got %v", err)
	}
	// runes, not bytes
	if err := e.Send(context.Background(), "🐕🐕🐕"); err != nil {
		t.Fatalf("three runes should fit, got %v", err)
	}
}

func TestSend_TrimsTextAndStampsAuthor(t *testing.T) {
	store := &recordingStore{}
	e := NewEngine(store, identity.Static{Actor: &identity.Actor{ID: "u2", Email: "bo@example.com"}}, EngineConfig{})

	if err := e.Send(context.Background(), "  hi there  "); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.appended) != 1 {
		t.Fatalf("expected one append, got %d", len(store.appended))
	}
	got := store.appended[0]
	if got.Text != "hi there" || got.AuthorID != "u2" || got.AuthorName != "bo@example.com" {
		t.Errorf("unexpected message: %+v", got)
	}
}

func TestSend_StoreFailureWrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	e := NewEngine(&recordingStore{err: cause}, identity.Static{Actor: alice}, EngineConfig{})

	err := e.Send(context.Background(), "hello")
	if !errors.Is(err, feed.ErrSendFailed) {
		t.Fatalf("expected ErrSendFailed, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected cause to be wrapped, got %v", err)
	}
}

func TestSubscribe_DeliversFullWindowAfterEverySend(t *testing.T) {
	e, _ := newMemoryEngine(alice)
	updates, _ := collect(t, e, 10)

	waitFor(t, updates, withCount(0))

	for i, text := range []string{"one", "two", "three"} {
		if err := e.Send(context.Background(), text); err != nil {
			t.Fatalf("send %q: %v", text, err)
		}
		u := waitFor(t, updates, withCount(i+1))
		if u.Messages[len(u.Messages)-1].Text != text {
			t.Errorf("newest message should be last, got %s", texts(u.Messages))
		}
	}
}

func TestSubscribe_KeepsNewestMessagesAscending(t *testing.T) {
	e, docs := newMemoryEngine(alice)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	docs.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})

	for _, text := range []string{"a", "b", "c", "d", "e"} {
		if err := e.Send(context.Background(), text); err != nil {
			t.Fatalf("send %q: %v", text, err)
		}
	}

	updates, _ := collect(t, e, 3)
	u := waitFor(t, updates, withCount(3))
	if got := texts(u.Messages); got != "c,d,e" {
		t.Errorf("expected newest three ascending, got %s", got)
	}
	for i := 1; i < len(u.Messages); i++ {
		if u.Messages[i].CreatedAt.Before(u.Messages[i-1].CreatedAt) {
			t.Errorf("messages out of order at %d", i)
		}
	}
}

func TestSubscribe_SameTimestampKeepsArrivalOrder(t *testing.T) {
	e, docs := newMemoryEngine(alice)
	frozen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	docs.SetClock(func() time.Time { return frozen })

	for _, text := range []string{"first", "second", "third"} {
		if err := e.Send(context.Background(), text); err != nil {
			t.Fatalf("send %q: %v", text, err)
		}
	}

	updates, _ := collect(t, e, 10)
	u := waitFor(t, updates, withCount(3))
	if got := texts(u.Messages); got != "first,second,third" {
		t.Errorf("expected arrival order, got %s", got)
	}
}

func TestSubscribe_CancelStopsUpdates(t *testing.T) {
	e, _ := newMemoryEngine(alice)
	updates, cancel := collect(t, e, 10)
	waitFor(t, updates, withCount(0))

	cancel()
	cancel()

	if err := e.Send(context.Background(), "after cancel"); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case u := <-updates:
		t.Errorf("no update expected after cancel, got %+v", u)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribe_CancelDropsQueuedSnapshots(t *testing.T) {
	stream := newBufferedStream()
	e := NewEngine(&streamStore{stream: stream}, identity.Static{Actor: alice}, EngineConfig{})

	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var calls int
	cancel, err := e.Subscribe(context.Background(), 10, func(u feed.Update) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			close(entered)
			<-release
		}
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	stream.snapshots <- snapshotOf("a")
	<-entered
	stream.snapshots <- snapshotOf("b", "a")
	stream.snapshots <- snapshotOf("c", "b", "a")

	cancel()
	close(release)
	close(stream.snapshots)

	select {
	case <-stream.closed:
	case <-time.After(time.Second):
		t.Fatal("cancel should close the stream")
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("queued snapshots should be dropped after cancel, got %d calls", calls)
	}
}

func TestSubscribe_CancelFromCallback(t *testing.T) {
	stream := newBufferedStream()
	e := NewEngine(&streamStore{stream: stream}, identity.Static{Actor: alice}, EngineConfig{})

	cancelFn := make(chan func(), 1)
	updates := make(chan feed.Update, 8)
	done := make(chan struct{})
	var once sync.Once
	cancel, err := e.Subscribe(context.Background(), 10, func(u feed.Update) {
		updates <- u
		once.Do(func() {
			(<-cancelFn)()
			close(done)
		})
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	cancelFn <- cancel

	stream.snapshots <- snapshotOf("a")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cancel from inside the callback should return")
	}

	stream.snapshots <- snapshotOf("b", "a")
	waitFor(t, updates, withCount(1))
	select {
	case u := <-updates:
		t.Errorf("no update expected after cancel, got %+v", u)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribe_SecondSubscriptionReplacesFirst(t *testing.T) {
	e, _ := newMemoryEngine(alice)
	first, _ := collect(t, e, 10)
	waitFor(t, first, withCount(0))

	second, _ := collect(t, e, 10)
	waitFor(t, second, withCount(0))

	if err := e.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, second, withCount(1))

	select {
	case u := <-first:
		t.Errorf("replaced subscription should not receive updates, got %+v", u)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribe_DisconnectDeliversTerminalError(t *testing.T) {
	e, docs := newMemoryEngine(alice)
	updates, _ := collect(t, e, 10)
	waitFor(t, updates, withCount(0))

	cause := errors.New("listener dropped")
	docs.Disconnect(storage.MessagesCollection, cause)

	u := waitFor(t, updates, func(u feed.Update) bool { return u.Err != nil })
	if !errors.Is(u.Err, feed.ErrFeedDisconnected) {
		t.Errorf("expected ErrFeedDisconnected, got %v", u.Err)
	}
	if !errors.Is(u.Err, cause) {
		t.Errorf("expected cause to be wrapped, got %v", u.Err)
	}

	if err := e.Send(context.Background(), "after disconnect"); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case u := <-updates:
		t.Errorf("no update expected after disconnect, got %+v", u)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribe_ResubscribeAfterDisconnectRecovers(t *testing.T) {
	e, docs := newMemoryEngine(alice)
	updates, _ := collect(t, e, 10)
	waitFor(t, updates, withCount(0))

	docs.Disconnect(storage.MessagesCollection, errors.New("dropped"))
	waitFor(t, updates, func(u feed.Update) bool { return u.Err != nil })

	again, _ := collect(t, e, 10)
	waitFor(t, again, withCount(0))
	if err := e.Send(context.Background(), "back"); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, again, withCount(1))
}
