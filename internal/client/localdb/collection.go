package localdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/iudanet/woodtime/internal/client/storage"
	"github.com/iudanet/woodtime/internal/models"
)

// Query selects and orders documents of a collection.
// A nil Selector matches every document; tombstones are skipped unless
// IncludeDeleted is set.
type Query[T models.Document] struct {
	Selector       func(T) bool
	Sort           func(a, b T) int
	Limit          int
	IncludeDeleted bool
}

func (q Query[T]) matches(doc T) bool {
	if doc.IsDeleted() && !q.IncludeDeleted {
		return false
	}
	return q.Selector == nil || q.Selector(doc)
}

// PendingDocument is a document awaiting push together with its local revision.
type PendingDocument[T models.Document] struct {
	Doc      T
	Revision uint64
}

// PushedDocument is the server copy of a document pushed under SentID.
type PushedDocument[T models.Document] struct {
	Doc      T
	SentID   string
	Revision uint64
}

// Collection is a typed view over one collection of the local database.
type Collection[T models.Document] struct {
	db      *Database
	newDoc  func() T
	resolve func(ctx context.Context, doc T) error
	name    string
}

func newCollection[T models.Document](db *Database, name string, newDoc func() T) *Collection[T] {
	return &Collection[T]{db: db, name: name, newDoc: newDoc}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string {
	return c.name
}

// Decode parses and validates a document of this collection.
func (c *Collection[T]) Decode(data []byte) (T, error) {
	doc := c.newDoc()
	if err := json.Unmarshal(data, doc); err != nil {
		var zero T
		return zero, fmt.Errorf("failed to decode %s document: %w", c.name, err)
	}
	if err := models.Validate(c.name, doc); err != nil {
		var zero T
		return zero, err
	}
	return doc, nil
}

// encode проверяет схему и сериализует документ
func (c *Collection[T]) encode(doc T) ([]byte, error) {
	if err := models.Validate(c.name, doc); err != nil {
		return nil, err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s document: %w", c.name, err)
	}
	return data, nil
}

// Insert stores a new document. A document without id gets a temporary id.
// A document failing validation is rejected and nothing is written.
func (c *Collection[T]) Insert(ctx context.Context, doc T) error {
	if doc.DocID() == "" {
		id, err := c.db.ids.Next()
		if err != nil {
			return err
		}
		doc.SetDocID(id)
	}
	if c.resolve != nil {
		if err := c.resolve(ctx, doc); err != nil {
			return fmt.Errorf("failed to resolve references: %w", err)
		}
	}
	doc.Touch(time.Now())

	data, err := c.encode(doc)
	if err != nil {
		return err
	}

	changes, err := c.db.store.InsertDocument(ctx, c.name, doc.DocID(), data)
	if err != nil {
		return fmt.Errorf("failed to insert %s document: %w", c.name, err)
	}

	c.db.logger.Debug("Document inserted", "collection", c.name, "id", doc.DocID())
	c.db.signalLocalWrite(c.name)
	c.db.publish(changes)
	return nil
}

// Update applies patch to the stored document with id and returns the result.
// The patch runs inside the write transaction; its error aborts the update.
func (c *Collection[T]) Update(ctx context.Context, id string, patch func(doc T) error) (T, error) {
	var updated T

	changes, err := c.db.store.UpdateDocument(ctx, c.name, id, func(current []byte) ([]byte, error) {
		doc := c.newDoc()
		if err := json.Unmarshal(current, doc); err != nil {
			return nil, fmt.Errorf("failed to decode %s document: %w", c.name, err)
		}
		if err := patch(doc); err != nil {
			return nil, err
		}
		// id менять нельзя, замена id делается только через ApplyPushed
		doc.SetDocID(id)
		if c.resolve != nil {
			if err := c.resolve(ctx, doc); err != nil {
				return nil, fmt.Errorf("failed to resolve references: %w", err)
			}
		}
		doc.Touch(time.Now())

		updated = doc
		return c.encode(doc)
	})
	if err != nil {
		var zero T
		return zero, fmt.Errorf("failed to update %s/%s: %w", c.name, id, err)
	}

	c.db.logger.Debug("Document updated", "collection", c.name, "id", id)
	c.db.signalLocalWrite(c.name)
	c.db.publish(changes)
	return updated, nil
}

// Remove marks the document deleted. The tombstone replicates like any update.
func (c *Collection[T]) Remove(ctx context.Context, id string) error {
	_, err := c.Update(ctx, id, func(doc T) error {
		doc.SetDeleted(true)
		return nil
	})
	return err
}

// Get returns the document with id, including tombstones.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T

	data, err := c.db.store.GetDocument(ctx, c.name, id)
	if err != nil {
		return zero, err
	}

	doc := c.newDoc()
	if err := json.Unmarshal(data, doc); err != nil {
		return zero, fmt.Errorf("failed to decode %s document: %w", c.name, err)
	}
	return doc, nil
}

// FindOne returns the first document matching selector or storage.ErrDocumentNotFound.
func (c *Collection[T]) FindOne(ctx context.Context, selector func(T) bool) (T, error) {
	docs, err := c.Find(ctx, Query[T]{Selector: selector, Limit: 1})
	if err != nil {
		var zero T
		return zero, err
	}
	if len(docs) == 0 {
		var zero T
		return zero, storage.ErrDocumentNotFound
	}
	return docs[0], nil
}

// Find returns the documents matching q.
func (c *Collection[T]) Find(ctx context.Context, q Query[T]) ([]T, error) {
	var docs []T

	err := c.db.store.ScanDocuments(ctx, c.name, func(id string, data []byte) error {
		doc := c.newDoc()
		if err := json.Unmarshal(data, doc); err != nil {
			return fmt.Errorf("failed to decode %s/%s: %w", c.name, id, err)
		}
		if q.matches(doc) {
			docs = append(docs, doc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if q.Sort != nil {
		slices.SortStableFunc(docs, q.Sort)
	}
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs, nil
}

// Watch creates a live query. Nothing is loaded until the first Subscribe.
func (c *Collection[T]) Watch(q Query[T]) *LiveQuery[T] {
	return &LiveQuery[T]{
		coll:  c,
		query: q,
		subs:  make(map[uint64]func([]T)),
	}
}

// Cursor returns the pull cursor of the collection.
func (c *Collection[T]) Cursor(ctx context.Context) (models.Cursor, error) {
	return c.db.store.GetCursor(ctx, c.name)
}

// ApplyPulled merges a pulled batch and advances the cursor atomically.
// It returns the number of documents that changed locally.
func (c *Collection[T]) ApplyPulled(ctx context.Context, docs []T, cursor models.Cursor) (int, error) {
	records := make([]storage.Record, 0, len(docs))
	for _, doc := range docs {
		data, err := json.Marshal(doc)
		if err != nil {
			return 0, fmt.Errorf("failed to encode pulled %s document: %w", c.name, err)
		}
		records = append(records, storage.Record{ID: doc.DocID(), Data: data})
	}

	changes, err := c.db.store.ApplyPulled(ctx, c.name, records, cursor)
	if err != nil {
		return 0, err
	}

	c.db.publish(changes)
	return len(changes[c.name]), nil
}

// Pending returns up to limit documents awaiting push with a revision above
// afterRevision, oldest revision first.
func (c *Collection[T]) Pending(ctx context.Context, afterRevision uint64, limit int) ([]PendingDocument[T], error) {
	records, err := c.db.store.PendingDocuments(ctx, c.name, afterRevision, limit)
	if err != nil {
		return nil, err
	}

	pending := make([]PendingDocument[T], 0, len(records))
	for _, rec := range records {
		doc := c.newDoc()
		if err := json.Unmarshal(rec.Data, doc); err != nil {
			return nil, fmt.Errorf("failed to decode pending %s/%s: %w", c.name, rec.ID, err)
		}
		pending = append(pending, PendingDocument[T]{Doc: doc, Revision: rec.Revision})
	}
	return pending, nil
}

// ApplyPushed stores the server copies of pushed documents, replacing
// temporary ids in the same transaction.
func (c *Collection[T]) ApplyPushed(ctx context.Context, acks []PushedDocument[T]) error {
	if len(acks) == 0 {
		return nil
	}

	records := make([]storage.PushedRecord, 0, len(acks))
	for _, ack := range acks {
		data, err := json.Marshal(ack.Doc)
		if err != nil {
			return fmt.Errorf("failed to encode pushed %s document: %w", c.name, err)
		}
		records = append(records, storage.PushedRecord{
			SentID:   ack.SentID,
			ID:       ack.Doc.DocID(),
			Data:     data,
			Revision: ack.Revision,
		})
	}

	changes, err := c.db.store.ApplyPushed(ctx, c.name, records)
	if err != nil {
		return err
	}

	// переписанные ссылки в других коллекциях тоже надо отправить
	for collection := range changes {
		if collection != c.name {
			c.db.signalLocalWrite(collection)
		}
	}
	c.db.publish(changes)
	return nil
}

// IsNotFound reports whether err means a missing document.
func IsNotFound(err error) bool {
	return errors.Is(err, storage.ErrDocumentNotFound)
}
