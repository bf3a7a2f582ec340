// internal/domain/document/store.go

package document

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when no document has the requested ID
var ErrNotFound = errors.New("document not found")

// Document is a single record read back from a collection
type Document struct {
	ID     string
	Fields map[string]interface{}
	// CreatedAt is assigned by the store at commit time. It is nil while the
	// server timestamp has not resolved yet.
	CreatedAt *time.Time
}

// Query selects the newest documents of a collection, ordered by CreatedAt
// descending with ties broken by reverse arrival order
type Query struct {
	Collection string
	Limit      int
}

// Store defines the remote, timestamp-ordered document collection
type Store interface {
	// Insert adds a document and returns its store-assigned ID
	Insert(ctx context.Context, collection string, fields map[string]interface{}) (string, error)

	// Get returns a single document by ID
	Get(ctx context.Context, collection, id string) (*Document, error)

	// Query runs q once and returns the current result set
	Query(ctx context.Context, q Query) ([]Document, error)

	// Watch runs q live, pushing the full result set on every change
	Watch(ctx context.Context, q Query) (Watch, error)
}

// Watch is a live query handle
type Watch interface {
	// Snapshots delivers complete result sets in the order the store emits
	// them. The channel is closed when the watch ends.
	Snapshots() <-chan []Document

	// Err reports why the snapshot channel was closed. It is nil when the
	// watch was closed by its owner.
	Err() error

	// Close tears the live query down. It is safe to call more than once.
	Close() error
}
