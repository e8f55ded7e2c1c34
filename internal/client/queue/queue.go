// Package queue implements the optimistic checkpoint write queue.
//
// Checkpoints the user records are queued first and shown as pending at
// once; a single processor commits them to the local database in FIFO
// order. A failed commit moves the item to the errored list, where it stays
// until the user retries or deletes it, or a later write for the same
// (event, control point) pair succeeds.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/iudanet/woodtime/internal/client/storage"
	"github.com/iudanet/woodtime/internal/models"
)

// StorageKey is the key the queue state is persisted under
const StorageKey = "checkpointsServiceStorage"

var (
	// ErrInvalidItem is returned by Add for an item without event id
	ErrInvalidItem = errors.New("invalid queue item")
	// ErrItemNotFound is returned by Retry when nothing matches
	ErrItemNotFound = errors.New("queue item not found")
	// ErrPersist wraps a failure to save the queue state
	ErrPersist = errors.New("failed to persist queue")
)

// DefaultPersistRetryDelay is how long Run waits after a failed save
const DefaultPersistRetryDelay = time.Second

// Checkpoint is the payload of a queued checkpoint write
type Checkpoint struct {
	CpCode     string `json:"cpCode,omitempty"`
	SkipReason string `json:"skipReason,omitempty"`
	Error      string `json:"error,omitempty"` // причина ошибки для errored
	CpID       int    `json:"cpId"`
	Skipped    bool   `json:"skipped"`
}

// Item is one queued write
type Item struct {
	EventID    string     `json:"eventId"`
	Checkpoint Checkpoint `json:"checkpoint"`
}

func (it Item) matches(eventID string, cpID int) bool {
	return it.EventID == eventID && it.Checkpoint.CpID == cpID
}

// State is the persisted queue content
type State struct {
	Queue   []Item `json:"queue"`
	Errored []Item `json:"errored"`
}

func (s State) clone() State {
	return State{
		Queue:   slices.Clone(s.Queue),
		Errored: slices.Clone(s.Errored),
	}
}

//go:generate moq -out checkpointwriter_mock.go . CheckpointWriter

// CheckpointWriter commits a checkpoint to the local database
type CheckpointWriter interface {
	Insert(ctx context.Context, doc *models.Checkpoint) error
}

// Queue is the optimistic write queue
type Queue struct {
	// PersistRetryDelay задает паузу Run после ошибки сохранения состояния
	PersistRetryDelay time.Duration

	store   storage.KVStorage
	writer  CheckpointWriter
	logger  *slog.Logger
	subs    map[uint64]func(State)
	wake    chan struct{}
	state   State
	nextSub uint64
	mu      sync.Mutex
	emitMu  sync.Mutex
	procMu  sync.Mutex
}

// New creates an empty queue. Call Restore to load the persisted state.
func New(store storage.KVStorage, writer CheckpointWriter, logger *slog.Logger) *Queue {
	return &Queue{
		store:  store,
		writer: writer,
		logger: logger,
		subs:   make(map[uint64]func(State)),
		wake:   make(chan struct{}, 1),

		PersistRetryDelay: DefaultPersistRetryDelay,
	}
}

// Restore loads the persisted state. Errored items are queued again at the
// tail with their error cleared, so every restored item gets a fresh attempt.
// Call it once, before Run.
func (q *Queue) Restore(ctx context.Context) error {
	data, err := q.store.GetValue(ctx, StorageKey)
	if errors.Is(err, storage.ErrValueNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load queue: %w", err)
	}

	var saved State
	if err := json.Unmarshal(data, &saved); err != nil {
		return fmt.Errorf("failed to decode queue: %w", err)
	}

	err = q.update(ctx, func(s *State) error {
		s.Queue = append(s.Queue, saved.Queue...)
		for _, it := range saved.Errored {
			it.Checkpoint.Error = ""
			s.Queue = append(s.Queue, it)
		}
		s.Errored = nil
		return nil
	})
	if err != nil {
		return err
	}

	q.logger.Info("Queue restored",
		"queued", len(saved.Queue),
		"requeued", len(saved.Errored))
	q.signal()
	return nil
}

// Add enqueues a checkpoint write at the tail.
func (q *Queue) Add(ctx context.Context, eventID string, cp Checkpoint) error {
	if eventID == "" {
		return fmt.Errorf("%w: event id is required", ErrInvalidItem)
	}
	cp.Error = ""

	err := q.update(ctx, func(s *State) error {
		s.Queue = append(s.Queue, Item{EventID: eventID, Checkpoint: cp})
		return nil
	})
	if err != nil {
		return err
	}

	q.logger.Debug("Checkpoint queued", "event_id", eventID, "cp_id", cp.CpID)
	q.signal()
	return nil
}

// ProcessNext attempts the head item. It reports whether an item was
// attempted and returns the commit error of a failed attempt.
func (q *Queue) ProcessNext(ctx context.Context) (bool, error) {
	q.procMu.Lock()
	defer q.procMu.Unlock()

	q.mu.Lock()
	if len(q.state.Queue) == 0 {
		q.mu.Unlock()
		return false, nil
	}
	head := q.state.Queue[0]
	q.mu.Unlock()

	doc := &models.Checkpoint{
		EventID:    head.EventID,
		CpID:       head.Checkpoint.CpID,
		CpCode:     head.Checkpoint.CpCode,
		Skipped:    head.Checkpoint.Skipped,
		SkipReason: head.Checkpoint.SkipReason,
	}
	commitErr := q.writer.Insert(ctx, doc)

	// попытка уже сделана: даже если состояние не сохранилось, голова
	// снимается в памяти, иначе Run вставит тот же КП повторно
	err := q.apply(ctx, true, func(s *State) error {
		// элемент мог быть удален пользователем во время записи
		i := slices.Index(s.Queue, head)
		if i >= 0 {
			s.Queue = slices.Delete(s.Queue, i, i+1)
		}

		if commitErr == nil {
			// успешная запись вытесняет все элементы с тем же (event, cp)
			match := func(it Item) bool { return it.matches(head.EventID, head.Checkpoint.CpID) }
			s.Queue = slices.DeleteFunc(s.Queue, match)
			s.Errored = slices.DeleteFunc(s.Errored, match)
			return nil
		}

		if i >= 0 {
			failed := head
			failed.Checkpoint.Error = commitErr.Error()
			s.Errored = append(s.Errored, failed)
		}
		return nil
	})
	if err != nil {
		q.logger.Error("Queue state not saved after commit attempt",
			"event_id", head.EventID,
			"cp_id", head.Checkpoint.CpID,
			"committed", commitErr == nil,
			"error", err)
		return true, errors.Join(commitErr, err)
	}

	if commitErr != nil {
		q.logger.Warn("Checkpoint commit failed",
			"event_id", head.EventID,
			"cp_id", head.Checkpoint.CpID,
			"error", commitErr)
		return true, commitErr
	}

	q.logger.Debug("Checkpoint committed",
		"event_id", head.EventID,
		"cp_id", head.Checkpoint.CpID,
		"id", doc.ID)
	return true, nil
}

// Run processes the queue until ctx is done. After a failed save it pauses
// for PersistRetryDelay before the next item.
func (q *Queue) Run(ctx context.Context) error {
	for {
		for {
			processed, err := q.ProcessNext(ctx)
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrPersist) {
				if !sleepCtx(ctx, q.PersistRetryDelay) {
					return nil
				}
				continue
			}
			if err != nil {
				q.logger.Debug("Queue item failed", "error", err)
			}
			if !processed {
				break
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-q.wake:
		}
	}
}

// Delete removes every item for (eventID, cpID) from both lists.
// Deleting an absent item is a no-op.
func (q *Queue) Delete(ctx context.Context, eventID string, cpID int) error {
	return q.update(ctx, func(s *State) error {
		match := func(it Item) bool { return it.matches(eventID, cpID) }
		s.Queue = slices.DeleteFunc(s.Queue, match)
		s.Errored = slices.DeleteFunc(s.Errored, match)
		return nil
	})
}

// Retry moves the errored items for (eventID, cpID) back to the queue tail.
func (q *Queue) Retry(ctx context.Context, eventID string, cpID int) error {
	err := q.update(ctx, func(s *State) error {
		found := false
		kept := s.Errored[:0]
		for _, it := range s.Errored {
			if !it.matches(eventID, cpID) {
				kept = append(kept, it)
				continue
			}
			found = true
			it.Checkpoint.Error = ""
			s.Queue = append(s.Queue, it)
		}
		if !found {
			return ErrItemNotFound
		}
		s.Errored = kept
		return nil
	})
	if err != nil {
		return err
	}

	q.signal()
	return nil
}

// State returns a snapshot of the queue
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state.clone()
}

// Subscribe registers fn for state changes and delivers the current state.
// Callbacks run synchronously and must not modify the queue.
func (q *Queue) Subscribe(fn func(State)) (unsubscribe func()) {
	q.mu.Lock()
	q.nextSub++
	id := q.nextSub
	q.subs[id] = fn
	snapshot := q.state.clone()

	q.emitMu.Lock()
	q.mu.Unlock()
	fn(snapshot)
	q.emitMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			q.mu.Lock()
			delete(q.subs, id)
			q.mu.Unlock()
		})
	}
}

// update applies mutate to a copy of the state, persists it and only then
// makes it current and notifies subscribers.
func (q *Queue) update(ctx context.Context, mutate func(s *State) error) error {
	return q.apply(ctx, false, mutate)
}

// apply is update; with keepUnsaved the new state becomes current even when
// saving fails, and the save error is still returned.
func (q *Queue) apply(ctx context.Context, keepUnsaved bool, mutate func(s *State) error) error {
	q.mu.Lock()

	next := q.state.clone()
	if err := mutate(&next); err != nil {
		q.mu.Unlock()
		return err
	}

	data, err := json.Marshal(next)
	if err != nil {
		q.mu.Unlock()
		return fmt.Errorf("failed to encode queue: %w", err)
	}
	var saveErr error
	if err := q.store.PutValue(ctx, StorageKey, data); err != nil {
		saveErr = fmt.Errorf("%w: %w", ErrPersist, err)
		if !keepUnsaved {
			q.mu.Unlock()
			return saveErr
		}
	}
	q.state = next

	subs := make([]func(State), 0, len(q.subs))
	for _, fn := range q.subs {
		subs = append(subs, fn)
	}

	// порядок уведомлений совпадает с порядком изменений
	q.emitMu.Lock()
	q.mu.Unlock()
	defer q.emitMu.Unlock()

	for _, fn := range subs {
		fn(next.clone())
	}
	return saveErr
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
