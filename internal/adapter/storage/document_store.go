// internal/adapter/storage/document_store.go

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/nats-io/nats.go"

	"pawmap/internal/domain/document"
)

// errSubscriptionClosed is reported when NATS drops a live query's subscription
var errSubscriptionClosed = errors.New("change subscription closed")

// DocumentStore implements document.Store on Postgres, with NATS carrying
// change notifications for live queries
type DocumentStore struct {
	db            *pgxpool.Pool
	eventBus      *nats.Conn
	subjectPrefix string

	mu      sync.Mutex
	watches map[*liveQuery]struct{}
}

// NewDocumentStore creates a new document store
func NewDocumentStore(db *pgxpool.Pool, eventBus *nats.Conn, subjectPrefix string) *DocumentStore {
	if subjectPrefix == "" {
		subjectPrefix = "docstore"
	}
	s := &DocumentStore{
		db:            db,
		eventBus:      eventBus,
		subjectPrefix: subjectPrefix,
		watches:       make(map[*liveQuery]struct{}),
	}

	// Notifications published while the connection was down are lost, so
	// every live query re-runs once it is back.
	previous := eventBus.Opts.ReconnectedCB
	eventBus.SetReconnectHandler(func(nc *nats.Conn) {
		if previous != nil {
			previous(nc)
		}
		s.resync()
	})

	return s
}

// resync makes every open live query re-run its query
func (s *DocumentStore) resync() {
	s.mu.Lock()
	watches := make([]*liveQuery, 0, len(s.watches))
	for lq := range s.watches {
		watches = append(watches, lq)
	}
	s.mu.Unlock()

	log.Printf("Refreshing %d live queries after reconnect", len(watches))
	for _, lq := range watches {
		lq.changed()
	}
}

// Insert saves a document with a server-assigned timestamp and announces the
// change to live queries
func (s *DocumentStore) Insert(ctx context.Context, collection string, fields map[string]interface{}) (string, error) {
	query := `
		INSERT INTO documents (id, collection, fields, created_at)
		VALUES ($1, $2, $3, now())
	`

	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("error marshaling fields: %w", err)
	}

	id := uuid.New().String()
	if _, err := s.db.Exec(ctx, query, id, collection, fieldsJSON); err != nil {
		return "", fmt.Errorf("error executing query: %w", err)
	}

	if err := s.eventBus.Publish(s.subject(collection), []byte(id)); err != nil {
		// The row is committed; watchers catch up on the next change
		log.Printf("Error publishing change for %s: %v", collection, err)
	}

	return id, nil
}

// Get retrieves a document by ID
func (s *DocumentStore) Get(ctx context.Context, collection, id string) (*document.Document, error) {
	query := `
		SELECT id::text, fields, created_at
		FROM documents
		WHERE collection = $1 AND id = $2
	`

	if _, err := uuid.Parse(id); err != nil {
		return nil, document.ErrNotFound
	}

	doc, err := scanDocument(s.db.QueryRow(ctx, query, collection, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, document.ErrNotFound
		}
		return nil, fmt.Errorf("error querying document: %w", err)
	}
	return doc, nil
}

// Query returns the newest documents of a collection
func (s *DocumentStore) Query(ctx context.Context, q document.Query) ([]document.Document, error) {
	queryBuilder := strings.Builder{}
	queryBuilder.WriteString(`
		SELECT id::text, fields, created_at
		FROM documents
		WHERE collection = $1
		ORDER BY created_at DESC NULLS FIRST, seq DESC
	`)

	args := []interface{}{q.Collection}
	if q.Limit > 0 {
		queryBuilder.WriteString(" LIMIT $2")
		args = append(args, q.Limit)
	}

	rows, err := s.db.Query(ctx, queryBuilder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}
	defer rows.Close()

	docs := []document.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning document: %w", err)
		}
		docs = append(docs, *doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}

	return docs, nil
}

// Watch runs q live: every change notification for the collection re-runs
// the query and pushes the full result set
func (s *DocumentStore) Watch(ctx context.Context, q document.Query) (document.Watch, error) {
	lq := newLiveQuery(ctx, func(ctx context.Context) ([]document.Document, error) {
		return s.Query(ctx, q)
	})

	// Subscribe before the first snapshot so no insert falls in between
	sub, err := s.eventBus.Subscribe(s.subject(q.Collection), func(msg *nats.Msg) {
		lq.changed()
	})
	if err != nil {
		lq.Close()
		return nil, fmt.Errorf("failed to subscribe to changes: %w", err)
	}

	closed := sub.StatusChanged(nats.SubscriptionClosed)
	go func() {
		select {
		case <-closed:
			lq.fail(errSubscriptionClosed)
		case <-lq.ctx.Done():
		}
	}()

	s.mu.Lock()
	s.watches[lq] = struct{}{}
	s.mu.Unlock()

	lq.addStop(func() {
		s.mu.Lock()
		delete(s.watches, lq)
		s.mu.Unlock()

		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
			log.Printf("Error unsubscribing from %s: %v", sub.Subject, err)
		}
	})
	lq.start()

	return lq, nil
}

func (s *DocumentStore) subject(collection string) string {
	return fmt.Sprintf("%s.%s.changed", s.subjectPrefix, collection)
}

func scanDocument(row pgx.Row) (*document.Document, error) {
	var doc document.Document
	var fieldsJSON []byte
	var createdAt *time.Time

	if err := row.Scan(&doc.ID, &fieldsJSON, &createdAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(fieldsJSON, &doc.Fields); err != nil {
		return nil, fmt.Errorf("error unmarshaling fields: %w", err)
	}
	doc.CreatedAt = createdAt

	return &doc, nil
}
