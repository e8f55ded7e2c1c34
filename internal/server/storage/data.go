package storage

import (
	"context"
	"encoding/json"
)

// PullBatch is one page of a collection ordered by _modified.
// LastModified is the _modified of the last document, or the requested
// cursor when the page is empty.
type PullBatch struct {
	Documents    []json.RawMessage
	LastModified int64
}

// PushOutcome lists the documents actually written by a push.
// Modified maps every collection that changed to its new highest _modified;
// an event create also changes participants.
type PushOutcome struct {
	Modified  map[string]int64
	Documents []json.RawMessage
}

//go:generate moq -out data_mock.go . DataStorage

// DataStorage defines interface for replicated documents persistence
type DataStorage interface {
	// Pull returns documents of collection with _modified greater than since
	// visible to userID, at most limit of them
	Pull(ctx context.Context, userID, collection string, since int64, limit int) (*PullBatch, error)

	// Push writes docs on behalf of userID. Each document is authorized on
	// its own; rejected and invalid documents are left out of the outcome.
	// Documents with a temporary id are created, the response copy carries
	// the temporary id in client_id.
	Push(ctx context.Context, userID, collection string, docs []json.RawMessage) (*PushOutcome, error)
}
