package storage

import (
	"context"

	"github.com/iudanet/woodtime/internal/models"
)

// Record is a stored document in its JSON form.
type Record struct {
	ID   string
	Data []byte
}

// PendingRecord is a document with local changes the server has not confirmed.
// Revision grows on every local write of the document.
type PendingRecord struct {
	ID       string
	Data     []byte
	Revision uint64
}

// PushedRecord is the server copy of a pushed document.
// SentID is the id the document was pushed under; ID is the id the server
// stored it with (differs from SentID for creates).
type PushedRecord struct {
	SentID   string
	ID       string
	Data     []byte
	Revision uint64 // ревизия из снимка, который был отправлен
}

// Change describes one committed document mutation.
// Before is nil for an inserted document, After is nil for a removed key
// (only happens when a temporary id is replaced).
type Change struct {
	ID     string
	Before []byte
	After  []byte
}

// ChangeSet groups committed changes by collection.
type ChangeSet map[string][]Change

// Add appends a change for collection.
func (cs ChangeSet) Add(collection string, c Change) {
	cs[collection] = append(cs[collection], c)
}

// Len returns the number of changes across collections.
func (cs ChangeSet) Len() int {
	n := 0
	for _, changes := range cs {
		n += len(changes)
	}
	return n
}

// DocumentStorage defines the persistent document area of the local database.
// Every write is a single transaction and returns exactly what it changed.
type DocumentStorage interface {
	// GetDocument returns ErrDocumentNotFound if the document doesn't exist
	GetDocument(ctx context.Context, collection, id string) ([]byte, error)

	// ScanDocuments calls fn for every stored document of collection, including tombstones
	ScanDocuments(ctx context.Context, collection string, fn func(id string, data []byte) error) error

	// InsertDocument stores a new document and marks it pending.
	// Returns ErrDocumentExists if the id is taken.
	InsertDocument(ctx context.Context, collection, id string, data []byte) (ChangeSet, error)

	// UpdateDocument rewrites a document through fn and marks it pending.
	// fn receives the current JSON and returns the new JSON; an error from fn aborts the write.
	UpdateDocument(ctx context.Context, collection, id string, fn func(current []byte) ([]byte, error)) (ChangeSet, error)

	// ResolveID maps a replaced temporary id to its canonical id.
	// Unknown ids are returned unchanged.
	ResolveID(ctx context.Context, collection, id string) (string, error)

	// PendingDocuments returns up to limit pending documents with a revision
	// above afterRevision, ordered by revision
	PendingDocuments(ctx context.Context, collection string, afterRevision uint64, limit int) ([]PendingRecord, error)

	// PendingCount returns the number of pending documents of collection
	PendingCount(ctx context.Context, collection string) (int, error)

	// ApplyPulled upserts server documents and advances the collection cursor
	// in one transaction. Documents with pending local changes are left untouched.
	ApplyPulled(ctx context.Context, collection string, docs []Record, cursor models.Cursor) (ChangeSet, error)

	// ApplyPushed stores server copies of pushed documents in one transaction:
	// replaces temporary ids, rewrites references to them and clears pending
	// marks whose revision did not change since the push snapshot.
	ApplyPushed(ctx context.Context, collection string, acks []PushedRecord) (ChangeSet, error)

	// GetCursor returns the pull cursor of collection (zero if never pulled)
	GetCursor(ctx context.Context, collection string) (models.Cursor, error)
}
