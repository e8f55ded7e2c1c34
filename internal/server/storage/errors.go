package storage

import "errors"

// Common storage errors
var (
	// ErrUserNotFound indicates that user was not found in storage
	ErrUserNotFound = errors.New("user not found")

	// ErrUserAlreadyExists indicates that user with this username already exists
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrUnknownCollection indicates that the collection is not replicated
	ErrUnknownCollection = errors.New("unknown collection")

	// ErrReadOnlyCollection indicates a push to a pull-only collection
	ErrReadOnlyCollection = errors.New("collection is read-only")
)
