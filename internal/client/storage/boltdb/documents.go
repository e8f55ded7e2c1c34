package boltdb

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"

	"github.com/iudanet/woodtime/internal/client/storage"
	"github.com/iudanet/woodtime/internal/models"
)

func cursorKey(collection string) []byte {
	return []byte("cursor:" + collection)
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func btoi(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// collectionBuckets возвращает bucket документов и bucket отметок pending
func collectionBuckets(tx *bbolt.Tx, collection string) (docs, pending *bbolt.Bucket, err error) {
	docs = tx.Bucket(documentsBucket(collection))
	pending = tx.Bucket(pendingBucket(collection))
	if docs == nil || pending == nil {
		return nil, nil, fmt.Errorf("%w: %s", storage.ErrUnknownCollection, collection)
	}
	return docs, pending, nil
}

// markPending записывает новую локальную ревизию документа
func markPending(pending *bbolt.Bucket, id string) error {
	rev, err := pending.NextSequence()
	if err != nil {
		return fmt.Errorf("failed to allocate revision: %w", err)
	}
	if err := pending.Put([]byte(id), itob(rev)); err != nil {
		return fmt.Errorf("failed to mark document pending: %w", err)
	}
	return nil
}

// GetDocument retrieves a document by ID
func (s *Storage) GetDocument(ctx context.Context, collection, id string) ([]byte, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		docs, _, err := collectionBuckets(tx, collection)
		if err != nil {
			return err
		}

		v := docs.Get([]byte(id))
		if v == nil {
			return storage.ErrDocumentNotFound
		}
		// данные bbolt валидны только внутри транзакции
		data = bytes.Clone(v)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return data, nil
}

// ScanDocuments calls fn for every document of collection
func (s *Storage) ScanDocuments(ctx context.Context, collection string, fn func(id string, data []byte) error) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	return s.db.View(func(tx *bbolt.Tx) error {
		docs, _, err := collectionBuckets(tx, collection)
		if err != nil {
			return err
		}

		return docs.ForEach(func(k, v []byte) error {
			return fn(string(k), bytes.Clone(v))
		})
	})
}

// InsertDocument stores a new document and marks it pending
func (s *Storage) InsertDocument(ctx context.Context, collection, id string, data []byte) (storage.ChangeSet, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	changes := storage.ChangeSet{}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		docs, pending, err := collectionBuckets(tx, collection)
		if err != nil {
			return err
		}

		if docs.Get([]byte(id)) != nil {
			return fmt.Errorf("%w: %s/%s", storage.ErrDocumentExists, collection, id)
		}

		if err := docs.Put([]byte(id), data); err != nil {
			return fmt.Errorf("failed to save document: %w", err)
		}
		if err := markPending(pending, id); err != nil {
			return err
		}

		changes.Add(collection, storage.Change{ID: id, After: data})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return changes, nil
}

// UpdateDocument rewrites a document through fn and marks it pending
func (s *Storage) UpdateDocument(ctx context.Context, collection, id string, fn func(current []byte) ([]byte, error)) (storage.ChangeSet, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	changes := storage.ChangeSet{}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		docs, pending, err := collectionBuckets(tx, collection)
		if err != nil {
			return err
		}

		current := docs.Get([]byte(id))
		if current == nil {
			return fmt.Errorf("%w: %s/%s", storage.ErrDocumentNotFound, collection, id)
		}
		before := bytes.Clone(current)

		next, err := fn(bytes.Clone(current))
		if err != nil {
			return err
		}

		if err := docs.Put([]byte(id), next); err != nil {
			return fmt.Errorf("failed to save document: %w", err)
		}
		if err := markPending(pending, id); err != nil {
			return err
		}

		changes.Add(collection, storage.Change{ID: id, Before: before, After: next})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return changes, nil
}

// ResolveID maps a replaced temporary id to its canonical id
func (s *Storage) ResolveID(ctx context.Context, collection, id string) (string, error) {
	if s.db == nil {
		return "", storage.ErrStorageClosed
	}

	resolved := id
	err := s.db.View(func(tx *bbolt.Tx) error {
		remap := tx.Bucket(remapBucket(collection))
		if remap == nil {
			return fmt.Errorf("%w: %s", storage.ErrUnknownCollection, collection)
		}
		if v := remap.Get([]byte(id)); v != nil {
			resolved = string(v)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return resolved, nil
}

// PendingDocuments returns pending documents newer than afterRevision ordered by revision
func (s *Storage) PendingDocuments(ctx context.Context, collection string, afterRevision uint64, limit int) ([]storage.PendingRecord, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var records []storage.PendingRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		docs, pending, err := collectionBuckets(tx, collection)
		if err != nil {
			return err
		}

		err = pending.ForEach(func(k, v []byte) error {
			if btoi(v) <= afterRevision {
				return nil
			}
			data := docs.Get(k)
			if data == nil {
				// документ был заменен при remap, отметка осталась от старого id
				return nil
			}
			records = append(records, storage.PendingRecord{
				ID:       string(k),
				Data:     bytes.Clone(data),
				Revision: btoi(v),
			})
			return nil
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get pending documents: %w", err)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Revision < records[j].Revision
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	return records, nil
}

// PendingCount returns the number of pending documents
func (s *Storage) PendingCount(ctx context.Context, collection string) (int, error) {
	if s.db == nil {
		return 0, storage.ErrStorageClosed
	}

	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		_, pending, err := collectionBuckets(tx, collection)
		if err != nil {
			return err
		}
		count = pending.Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}

// ApplyPulled upserts server documents and advances the cursor in one transaction
func (s *Storage) ApplyPulled(ctx context.Context, collection string, records []storage.Record, cursor models.Cursor) (storage.ChangeSet, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	changes := storage.ChangeSet{}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		docs, pending, err := collectionBuckets(tx, collection)
		if err != nil {
			return err
		}

		for _, rec := range records {
			key := []byte(rec.ID)

			// Локальные неподтвержденные изменения не затираем:
			// их серверная копия придет в ответе на push
			if pending.Get(key) != nil {
				continue
			}

			before := bytes.Clone(docs.Get(key))
			if bytes.Equal(before, rec.Data) {
				continue
			}

			if err := docs.Put(key, rec.Data); err != nil {
				return fmt.Errorf("failed to save pulled document %s: %w", rec.ID, err)
			}
			changes.Add(collection, storage.Change{ID: rec.ID, Before: before, After: rec.Data})
		}

		return saveCursor(tx, collection, cursor)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply pulled batch: %w", err)
	}

	return changes, nil
}

// ApplyPushed stores server copies of pushed documents in one transaction
func (s *Storage) ApplyPushed(ctx context.Context, collection string, acks []storage.PushedRecord) (storage.ChangeSet, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	changes := storage.ChangeSet{}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		for _, ack := range acks {
			var err error
			if ack.ID != ack.SentID {
				err = applyRemap(tx, collection, ack, changes)
			} else {
				err = applyConfirmed(tx, collection, ack, changes)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply pushed documents: %w", err)
	}

	return changes, nil
}

// applyConfirmed обрабатывает подтверждение обновления существующего документа
func applyConfirmed(tx *bbolt.Tx, collection string, ack storage.PushedRecord, changes storage.ChangeSet) error {
	docs, pending, err := collectionBuckets(tx, collection)
	if err != nil {
		return err
	}

	key := []byte(ack.ID)
	if rev := pending.Get(key); rev != nil {
		if btoi(rev) != ack.Revision {
			// документ изменился пока push был в полете, остается pending
			return nil
		}
		if err := pending.Delete(key); err != nil {
			return fmt.Errorf("failed to clear pending mark: %w", err)
		}
	}

	before := bytes.Clone(docs.Get(key))
	if bytes.Equal(before, ack.Data) {
		return nil
	}
	if err := docs.Put(key, ack.Data); err != nil {
		return fmt.Errorf("failed to save pushed document %s: %w", ack.ID, err)
	}
	changes.Add(collection, storage.Change{ID: ack.ID, Before: before, After: ack.Data})

	return nil
}

// applyRemap заменяет временный id каноническим в рамках одной транзакции
func applyRemap(tx *bbolt.Tx, collection string, ack storage.PushedRecord, changes storage.ChangeSet) error {
	docs, pending, err := collectionBuckets(tx, collection)
	if err != nil {
		return err
	}
	remap := tx.Bucket(remapBucket(collection))

	sentKey, newKey := []byte(ack.SentID), []byte(ack.ID)

	local := bytes.Clone(docs.Get(sentKey))
	rev := bytes.Clone(pending.Get(sentKey))
	changedInFlight := rev != nil && btoi(rev) != ack.Revision

	after := ack.Data
	if changedInFlight && local != nil {
		// сохраняем локальное содержимое под новым id, оно уйдет следующим push
		after, err = setField(local, "id", ack.ID)
		if err != nil {
			return err
		}
	}

	if local != nil {
		if err := docs.Delete(sentKey); err != nil {
			return fmt.Errorf("failed to delete temporary document %s: %w", ack.SentID, err)
		}
		changes.Add(collection, storage.Change{ID: ack.SentID, Before: local})
	}
	if rev != nil {
		if err := pending.Delete(sentKey); err != nil {
			return fmt.Errorf("failed to clear pending mark: %w", err)
		}
	}

	existing := bytes.Clone(docs.Get(newKey))
	if err := docs.Put(newKey, after); err != nil {
		return fmt.Errorf("failed to save document %s: %w", ack.ID, err)
	}
	if changedInFlight {
		if err := pending.Put(newKey, rev); err != nil {
			return fmt.Errorf("failed to move pending mark: %w", err)
		}
	}
	changes.Add(collection, storage.Change{ID: ack.ID, Before: existing, After: after})

	if err := remap.Put(sentKey, newKey); err != nil {
		return fmt.Errorf("failed to save id mapping: %w", err)
	}

	return rewriteReferences(tx, collection, ack.SentID, ack.ID, changes)
}

// rewriteReferences переносит ссылки с временного id на канонический
func rewriteReferences(tx *bbolt.Tx, collection, from, to string, changes storage.ChangeSet) error {
	for _, ref := range references[collection] {
		docs, pending, err := collectionBuckets(tx, ref.collection)
		if err != nil {
			return err
		}

		var matched []storage.Record
		err = docs.ForEach(func(k, v []byte) error {
			if value, ok := fieldValue(v, ref.field); ok && value == from {
				matched = append(matched, storage.Record{ID: string(k), Data: bytes.Clone(v)})
			}
			return nil
		})
		if err != nil {
			return err
		}

		// изменения bucket внутри ForEach запрещены, поэтому пишем отдельно
		for _, rec := range matched {
			next, err := setField(rec.Data, ref.field, to)
			if err != nil {
				return err
			}
			if err := docs.Put([]byte(rec.ID), next); err != nil {
				return fmt.Errorf("failed to rewrite reference in %s/%s: %w", ref.collection, rec.ID, err)
			}
			if err := markPending(pending, rec.ID); err != nil {
				return err
			}
			changes.Add(ref.collection, storage.Change{ID: rec.ID, Before: rec.Data, After: next})
		}
	}
	return nil
}

// GetCursor returns the pull cursor of collection
func (s *Storage) GetCursor(ctx context.Context, collection string) (models.Cursor, error) {
	if s.db == nil {
		return models.Cursor{}, storage.ErrStorageClosed
	}

	var cursor models.Cursor
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMetadata)
		if bucket == nil {
			return fmt.Errorf("metadata bucket not found")
		}

		if v := bucket.Get(cursorKey(collection)); v != nil {
			cursor.LastModified = int64(btoi(v))
		}
		return nil
	})
	if err != nil {
		return models.Cursor{}, fmt.Errorf("failed to get cursor: %w", err)
	}

	return cursor, nil
}

// saveCursor сохраняет курсор, не давая ему уйти назад
func saveCursor(tx *bbolt.Tx, collection string, cursor models.Cursor) error {
	bucket := tx.Bucket(bucketMetadata)
	if bucket == nil {
		return fmt.Errorf("metadata bucket not found")
	}

	var current models.Cursor
	if v := bucket.Get(cursorKey(collection)); v != nil {
		current.LastModified = int64(btoi(v))
	}
	next := current.Advance(cursor.LastModified)

	if err := bucket.Put(cursorKey(collection), itob(uint64(next.LastModified))); err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

func fieldValue(data []byte, field string) (string, bool) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", false
	}
	raw, ok := doc[field]
	if !ok {
		return "", false
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false
	}
	return value, true
}

func setField(data []byte, field, value string) ([]byte, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	doc[field] = raw
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return out, nil
}
