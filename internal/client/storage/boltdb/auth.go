package boltdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/woodtime/internal/client/storage"
)

// на устройстве хранится одна сессия
var sessionKey = []byte("session")

var errNoAuthBucket = errors.New("auth bucket not found")

func authBucket(tx *bbolt.Tx) (*bbolt.Bucket, error) {
	b := tx.Bucket(bucketAuth)
	if b == nil {
		return nil, errNoAuthBucket
	}
	return b, nil
}

// SaveAuth replaces the session of the device
func (s *Storage) SaveAuth(ctx context.Context, session *storage.AuthData) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}
	if session == nil || session.UserID == "" || session.AccessToken == "" {
		return storage.ErrInvalidSession
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := authBucket(tx)
		if err != nil {
			return err
		}
		return b.Put(sessionKey, data)
	})
}

// GetAuth returns the stored session. An expired session is still returned;
// expiry is checked by the auth service.
func (s *Storage) GetAuth(ctx context.Context) (*storage.AuthData, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var session storage.AuthData
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := authBucket(tx)
		if err != nil {
			return err
		}
		data := b.Get(sessionKey)
		if data == nil {
			return storage.ErrAuthNotFound
		}
		if err := json.Unmarshal(data, &session); err != nil {
			return fmt.Errorf("failed to decode session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// DeleteAuth removes the session. Local documents, cursors and the write
// queue are kept, so a later login of the same user continues from them.
func (s *Storage) DeleteAuth(ctx context.Context) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := authBucket(tx)
		if err != nil {
			return err
		}
		if b.Get(sessionKey) == nil {
			return storage.ErrAuthNotFound
		}
		return b.Delete(sessionKey)
	})
}
