package localdb

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/iudanet/woodtime/internal/client/storage"
	"github.com/iudanet/woodtime/internal/models"
)

// LiveQuery is a subscribable result set. Subscribers receive the current
// result on Subscribe and a fresh result after every committed change to a
// document that matched the query before or after the change.
//
// Callbacks run synchronously after the commit and must not write to the
// database from the same goroutine.
type LiveQuery[T models.Document] struct {
	coll       *Collection[T]
	subs       map[uint64]func([]T)
	unregister func()
	query      Query[T]
	nextID     uint64
	mu         sync.Mutex
}

// Subscribe registers fn and delivers the current result to it.
// The returned function removes the subscription; it is safe to call twice.
func (lq *LiveQuery[T]) Subscribe(ctx context.Context, fn func([]T)) (func(), error) {
	docs, err := lq.coll.Find(ctx, lq.query)
	if err != nil {
		return nil, err
	}

	lq.mu.Lock()
	lq.nextID++
	id := lq.nextID
	lq.subs[id] = fn
	if lq.unregister == nil {
		lq.unregister = lq.coll.db.subscribe(lq.coll.name, lq.onChange)
	}
	lq.mu.Unlock()

	fn(docs)

	var once sync.Once
	return func() {
		once.Do(func() { lq.remove(id) })
	}, nil
}

// Close drops every subscriber.
func (lq *LiveQuery[T]) Close() {
	lq.mu.Lock()
	defer lq.mu.Unlock()

	lq.subs = make(map[uint64]func([]T))
	if lq.unregister != nil {
		lq.unregister()
		lq.unregister = nil
	}
}

func (lq *LiveQuery[T]) remove(id uint64) {
	lq.mu.Lock()
	defer lq.mu.Unlock()

	delete(lq.subs, id)
	// последний подписчик ушел: отписываемся от базы
	if len(lq.subs) == 0 && lq.unregister != nil {
		lq.unregister()
		lq.unregister = nil
	}
}

func (lq *LiveQuery[T]) onChange(changes []storage.Change) {
	if !lq.affected(changes) {
		return
	}

	docs, err := lq.coll.Find(context.Background(), lq.query)
	if err != nil {
		lq.coll.db.logger.Error("Live query refresh failed",
			"collection", lq.coll.name,
			"error", err)
		return
	}

	lq.mu.Lock()
	targets := make([]func([]T), 0, len(lq.subs))
	for _, fn := range lq.subs {
		targets = append(targets, fn)
	}
	lq.mu.Unlock()

	for _, fn := range targets {
		fn(docs)
	}
}

// affected проверяет, совпадал ли измененный документ с запросом до или после изменения
func (lq *LiveQuery[T]) affected(changes []storage.Change) bool {
	for _, ch := range changes {
		for _, data := range [][]byte{ch.Before, ch.After} {
			if data == nil {
				continue
			}
			doc := lq.coll.newDoc()
			if err := json.Unmarshal(data, doc); err != nil {
				continue
			}
			if lq.query.matches(doc) {
				return true
			}
		}
	}
	return false
}
