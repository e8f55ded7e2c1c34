// Package localdb is the client-side document database: typed collections
// over the bbolt store with live, subscribable queries.
package localdb

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/iudanet/woodtime/internal/client/storage"
	"github.com/iudanet/woodtime/internal/models"
)

// Store is the persistent engine behind a Database.
type Store interface {
	storage.DocumentStorage
	ClientSalt(ctx context.Context) (int64, error)
}

type listener func(changes []storage.Change)

// Database owns the collections of one local woodtime database.
// All mutations go through its collections; listeners are the only way
// to observe them.
type Database struct {
	store  Store
	ids    *models.IDGenerator
	logger *slog.Logger

	events            *Collection[*models.Event]
	checkpoints       *Collection[*models.Checkpoint]
	users             *Collection[*models.User]
	participants      *Collection[*models.Participant]
	virtualChallenges *Collection[*models.VirtualChallenge]

	listeners   map[string]map[uint64]listener
	localWrites map[string]chan struct{}
	nextID      uint64
	mu          sync.Mutex
	// emitMu сериализует доставку уведомлений подписчикам
	emitMu sync.Mutex
}

// Open builds the database over store.
func Open(ctx context.Context, store Store, logger *slog.Logger) (*Database, error) {
	salt, err := store.ClientSalt(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load client salt: %w", err)
	}

	db := &Database{
		store:       store,
		ids:         models.NewIDGenerator(salt),
		logger:      logger,
		listeners:   make(map[string]map[uint64]listener),
		localWrites: make(map[string]chan struct{}),
	}
	for _, name := range models.Collections {
		db.localWrites[name] = make(chan struct{}, 1)
	}

	db.events = newCollection(db, models.CollectionEvents, func() *models.Event { return &models.Event{} })
	db.users = newCollection(db, models.CollectionUsers, func() *models.User { return &models.User{} })
	db.virtualChallenges = newCollection(db, models.CollectionVirtualChallenges, func() *models.VirtualChallenge { return &models.VirtualChallenge{} })

	db.checkpoints = newCollection(db, models.CollectionCheckpoints, func() *models.Checkpoint { return &models.Checkpoint{} })
	db.checkpoints.resolve = func(ctx context.Context, cp *models.Checkpoint) error {
		id, err := store.ResolveID(ctx, models.CollectionEvents, cp.EventID)
		cp.EventID = id
		return err
	}

	db.participants = newCollection(db, models.CollectionParticipants, func() *models.Participant { return &models.Participant{} })
	db.participants.resolve = func(ctx context.Context, p *models.Participant) error {
		id, err := store.ResolveID(ctx, models.CollectionEvents, p.EventID)
		p.EventID = id
		return err
	}

	return db, nil
}

// Events returns the events collection.
func (db *Database) Events() *Collection[*models.Event] {
	return db.events
}

// Checkpoints returns the checkpoints collection.
func (db *Database) Checkpoints() *Collection[*models.Checkpoint] {
	return db.checkpoints
}

// Users returns the users collection (pull-only).
func (db *Database) Users() *Collection[*models.User] {
	return db.users
}

// Participants returns the participants collection.
func (db *Database) Participants() *Collection[*models.Participant] {
	return db.participants
}

// VirtualChallenges returns the virtual challenges collection.
func (db *Database) VirtualChallenges() *Collection[*models.VirtualChallenge] {
	return db.virtualChallenges
}

// LocalWrites returns a channel that receives a signal after a local write
// to collection left a document pending. Signals coalesce.
func (db *Database) LocalWrites(collection string) <-chan struct{} {
	return db.localWrites[collection]
}

// ResolveID maps a temporary id that has been replaced after push to its
// canonical id. Other ids are returned unchanged.
func (db *Database) ResolveID(ctx context.Context, collection, id string) (string, error) {
	return db.store.ResolveID(ctx, collection, id)
}

// PendingCount returns the number of documents of collection awaiting push.
func (db *Database) PendingCount(ctx context.Context, collection string) (int, error) {
	return db.store.PendingCount(ctx, collection)
}

func (db *Database) signalLocalWrite(collection string) {
	ch, ok := db.localWrites[collection]
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// subscribe регистрирует слушателя изменений коллекции
func (db *Database) subscribe(collection string, l listener) (unsubscribe func()) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.nextID++
	id := db.nextID
	if db.listeners[collection] == nil {
		db.listeners[collection] = make(map[uint64]listener)
	}
	db.listeners[collection][id] = l

	return func() {
		db.mu.Lock()
		defer db.mu.Unlock()
		delete(db.listeners[collection], id)
	}
}

func (db *Database) listenerCount(collection string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.listeners[collection])
}

// publish доставляет закоммиченные изменения слушателям.
// Все коллекции одного ChangeSet доставляются до возврата, поэтому
// замена временного id видна подписчикам одним событием.
func (db *Database) publish(changes storage.ChangeSet) {
	if changes.Len() == 0 {
		return
	}

	db.emitMu.Lock()
	defer db.emitMu.Unlock()

	for collection, list := range changes {
		db.mu.Lock()
		targets := make([]listener, 0, len(db.listeners[collection]))
		for _, l := range db.listeners[collection] {
			targets = append(targets, l)
		}
		db.mu.Unlock()

		for _, l := range targets {
			l(list)
		}
	}
}
