package storage

import "context"

// MetadataStorage defines interface for storing client metadata
type MetadataStorage interface {
	// SaveLastSyncTimestamp saves the time (unix ms) of the last successful replication cycle
	SaveLastSyncTimestamp(ctx context.Context, timestamp int64) error

	// GetLastSyncTimestamp retrieves the time of the last successful replication cycle
	// Returns 0 if no sync has been performed yet
	GetLastSyncTimestamp(ctx context.Context) (int64, error)

	// ClientSalt returns the persisted per-client salt for temporary ids,
	// generating it on first use
	ClientSalt(ctx context.Context) (int64, error)
}

//go:generate moq -out kvstorage_mock.go . KVStorage

// KVStorage is a small durable key/value area for client-side state
// that is not a replicated document (e.g. the write queue).
type KVStorage interface {
	// GetValue returns ErrValueNotFound for a missing key
	GetValue(ctx context.Context, key string) ([]byte, error)
	PutValue(ctx context.Context, key string, value []byte) error
}
