// internal/adapter/storage/memory_store.go

package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"pawmap/internal/domain/document"
)

type memoryDocument struct {
	seq       int64
	id        string
	fields    map[string]interface{}
	createdAt time.Time
}

// MemoryStore is an in-process document store with the same ordering and
// live-query semantics as DocumentStore
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]memoryDocument
	watchers    map[string]map[*liveQuery]struct{}
	seq         int64
	lastCommit  time.Time
	now         func() time.Time
}

// NewMemoryStore creates an empty memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string][]memoryDocument),
		watchers:    make(map[string]map[*liveQuery]struct{}),
		now:         time.Now,
	}
}

// SetClock replaces the commit clock
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Insert adds a document; the commit timestamp never goes backwards
func (s *MemoryStore) Insert(ctx context.Context, collection string, fields map[string]interface{}) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if collection == "" {
		return "", fmt.Errorf("collection is required")
	}

	s.mu.Lock()
	committed := s.now()
	if committed.Before(s.lastCommit) {
		committed = s.lastCommit
	}
	s.lastCommit = committed
	s.seq++

	doc := memoryDocument{
		seq:       s.seq,
		id:        uuid.New().String(),
		fields:    copyFields(fields),
		createdAt: committed,
	}
	s.collections[collection] = append(s.collections[collection], doc)

	watchers := make([]*liveQuery, 0, len(s.watchers[collection]))
	for lq := range s.watchers[collection] {
		watchers = append(watchers, lq)
	}
	s.mu.Unlock()

	for _, lq := range watchers {
		lq.changed()
	}

	return doc.id, nil
}

// Get returns a document by ID
func (s *MemoryStore) Get(ctx context.Context, collection, id string) (*document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.collections[collection] {
		if d.id == id {
			doc := d.toDocument()
			return &doc, nil
		}
	}
	return nil, document.ErrNotFound
}

// Query returns the newest documents, ties broken by reverse arrival order
func (s *MemoryStore) Query(ctx context.Context, q document.Query) ([]document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Documents are stored in commit order and timestamps never decrease, so
	// walking backwards yields created_at desc, seq desc.
	docs := s.collections[q.Collection]
	result := make([]document.Document, 0, len(docs))
	for i := len(docs) - 1; i >= 0; i-- {
		if q.Limit > 0 && len(result) == q.Limit {
			break
		}
		result = append(result, docs[i].toDocument())
	}
	return result, nil
}

// Watch runs q live
func (s *MemoryStore) Watch(ctx context.Context, q document.Query) (document.Watch, error) {
	lq := newLiveQuery(ctx, func(ctx context.Context) ([]document.Document, error) {
		return s.Query(ctx, q)
	})

	s.mu.Lock()
	if s.watchers[q.Collection] == nil {
		s.watchers[q.Collection] = make(map[*liveQuery]struct{})
	}
	s.watchers[q.Collection][lq] = struct{}{}
	s.mu.Unlock()

	lq.addStop(func() {
		s.mu.Lock()
		delete(s.watchers[q.Collection], lq)
		s.mu.Unlock()
	})
	lq.start()

	return lq, nil
}

// Disconnect ends every live query on collection with err, the way a dropped
// connection would
func (s *MemoryStore) Disconnect(collection string, err error) {
	s.mu.RLock()
	watchers := make([]*liveQuery, 0, len(s.watchers[collection]))
	for lq := range s.watchers[collection] {
		watchers = append(watchers, lq)
	}
	s.mu.RUnlock()

	for _, lq := range watchers {
		lq.fail(err)
	}
}

func (d memoryDocument) toDocument() document.Document {
	createdAt := d.createdAt
	return document.Document{
		ID:        d.id,
		Fields:    copyFields(d.fields),
		CreatedAt: &createdAt,
	}
}

func copyFields(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
