package storage

import "errors"

// Common client storage errors
var (
	// ErrAuthNotFound indicates that no authentication data exists
	ErrAuthNotFound = errors.New("authentication data not found")

	// ErrInvalidSession indicates a session without user id or token
	ErrInvalidSession = errors.New("invalid session")

	// ErrDocumentNotFound indicates that a document with the given id does not exist
	ErrDocumentNotFound = errors.New("document not found")

	// ErrDocumentExists indicates an insert with an id that is already taken
	ErrDocumentExists = errors.New("document already exists")

	// ErrUnknownCollection indicates a collection without a bucket
	ErrUnknownCollection = errors.New("unknown collection")

	// ErrValueNotFound indicates a missing key/value entry
	ErrValueNotFound = errors.New("value not found")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")
)
