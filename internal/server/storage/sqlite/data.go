package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iudanet/woodtime/internal/models"
	"github.com/iudanet/woodtime/internal/server/storage"
)

var (
	_ storage.DataStorage = (*Storage)(nil)
	_ storage.UserStorage = (*Storage)(nil)
)

// Pull returns documents of collection modified after since and visible to userID
func (s *Storage) Pull(ctx context.Context, userID, collection string, since int64, limit int) (*storage.PullBatch, error) {
	t, ok := s.tables[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrUnknownCollection, collection)
	}

	uid, err := parseUserID(userID)
	if err != nil {
		return nil, err
	}

	return t.pull(ctx, s.db, uid, since, limit)
}

// Push writes docs of collection in one transaction.
// Documents that fail to decode, validate or authorize are skipped and
// logged; any other error rolls the whole batch back.
func (s *Storage) Push(ctx context.Context, userID, collection string, docs []json.RawMessage) (*storage.PushOutcome, error) {
	t, ok := s.tables[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrUnknownCollection, collection)
	}
	if t.readOnly() {
		return nil, fmt.Errorf("%w: %s", storage.ErrReadOnlyCollection, collection)
	}

	uid, err := parseUserID(userID)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	w := &write{
		tx:     tx,
		now:    s.now(),
		userID: uid,
		out: &storage.PushOutcome{
			Modified:  make(map[string]int64),
			Documents: make([]json.RawMessage, 0, len(docs)),
		},
	}

	for i, raw := range docs {
		data, err := t.push(ctx, w, raw)
		if errors.Is(err, errRejected) {
			s.logger.Debug("Document omitted from push",
				"collection", collection,
				"user_id", userID,
				"index", i,
				"reason", err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to push %s: %w", collection, err)
		}
		w.out.Documents = append(w.out.Documents, data)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit push: %w", err)
	}

	s.logger.Debug("Push written",
		"collection", collection,
		"user_id", userID,
		"received", len(docs),
		"written", len(w.out.Documents))

	return w.out, nil
}

func parseUserID(userID string) (int64, error) {
	id, err := models.ParseID(userID)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%w: %q", storage.ErrUserNotFound, userID)
	}
	return id, nil
}
