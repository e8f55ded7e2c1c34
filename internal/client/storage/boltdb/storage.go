package boltdb

import (
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/iudanet/woodtime/internal/models"
)

var (
	// BoltDB bucket names
	bucketAuth     = []byte("auth")
	bucketMetadata = []byte("meta")
	bucketKV       = []byte("kv")
)

// DatabaseName имя локальной базы документов
const DatabaseName = "woodtime"

// reference describes a field of another collection that stores a document id.
type reference struct {
	collection string
	field      string
}

// references по коллекции: кто ссылается на ее документы
var references = map[string][]reference{
	models.CollectionEvents: {
		{collection: models.CollectionCheckpoints, field: "event_id"},
		{collection: models.CollectionParticipants, field: "event_id"},
	},
	models.CollectionUsers: {
		{collection: models.CollectionParticipants, field: "user_id"},
	},
}

func documentsBucket(collection string) []byte { return []byte(collection) }
func pendingBucket(collection string) []byte { return []byte("pending:" + collection) }
func remapBucket(collection string) []byte { return []byte("remap:" + collection) }

// Storage represents BoltDB storage implementation for client.
// One file holds the woodtime document database, its replication
// state and the persisted write queue.
type Storage struct {
	db *bbolt.DB
}

// New creates a new BoltDB storage instance
// dbPath is the path to the BoltDB database file
func New(ctx context.Context, dbPath string) (*Storage, error) {
	// Открываем BoltDB
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	storage := &Storage{db: db}

	// Инициализируем buckets
	if err := storage.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return storage, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Path returns the database file path
func (s *Storage) Path() string {
	if s.db == nil {
		return ""
	}
	return s.db.Path()
}

// initBuckets создает необходимые buckets если они не существуют
func (s *Storage) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		names := [][]byte{bucketAuth, bucketMetadata, bucketKV}
		for _, collection := range models.Collections {
			names = append(names,
				documentsBucket(collection),
				pendingBucket(collection),
				remapBucket(collection),
			)
		}

		for _, name := range names {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", name, err)
			}
		}

		return nil
	})
}
