package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/spawn-mcp/research-pipeline/pkg/gcp"
	"github.com/spawn-mcp/research-pipeline/pkg/timeout"
)

// TasksCollection holds one document per task; other components live in
// its "components" subcollection.
const TasksCollection = "research_tasks"

// DocumentStore is the Firestore surface used by the store (implemented by gcp.Client)
type DocumentStore interface {
	StoreDocument(ctx context.Context, collection, docID string, data interface{}) error
	GetDocument(ctx context.Context, collection, docID string, dest interface{}) error
	ListDocumentIDs(ctx context.Context, collection string) ([]string, error)
}

// document wraps the JSON encoding of a component so Firestore stores the
// same representation as the file backend
type document struct {
	Data      string    `firestore:"data"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// FirestoreBackend stores components as Firestore documents
type FirestoreBackend struct {
	docs DocumentStore
	now  func() time.Time
}

// NewFirestoreBackend creates a Firestore-backed component backend
func NewFirestoreBackend(docs DocumentStore) *FirestoreBackend {
	return &FirestoreBackend{docs: docs, now: time.Now}
}

// NewFirestoreStore is a Store backed by Firestore
func NewFirestoreStore(docs DocumentStore, timeouts *timeout.Manager) *Store {
	return New(NewFirestoreBackend(docs), timeouts)
}

func location(id, component string) (collection, docID string) {
	if component == ComponentTask {
		return TasksCollection, id
	}
	return TasksCollection + "/" + id + "/components", component
}

func (b *FirestoreBackend) Put(ctx context.Context, id, component string, data []byte) error {
	collection, docID := location(id, component)
	return b.docs.StoreDocument(ctx, collection, docID, document{Data: string(data), UpdatedAt: b.now()})
}

func (b *FirestoreBackend) Get(ctx context.Context, id, component string) ([]byte, error) {
	collection, docID := location(id, component)
	var doc document
	if err := b.docs.GetDocument(ctx, collection, docID, &doc); err != nil {
		if errors.Is(err, gcp.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return []byte(doc.Data), nil
}

func (b *FirestoreBackend) List(ctx context.Context) ([]string, error) {
	ids, err := b.docs.ListDocumentIDs(ctx, TasksCollection)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}
