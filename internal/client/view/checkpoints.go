// Package view merges confirmed checkpoints from the local database with
// the optimistic write queue into what the user sees for an event.
package view

import (
	"context"
	"sync"
	"time"

	"github.com/iudanet/woodtime/internal/client/localdb"
	"github.com/iudanet/woodtime/internal/client/queue"
	"github.com/iudanet/woodtime/internal/models"
)

// Status of a checkpoint in the merged view
type Status string

const (
	StatusConfirmed Status = "confirmed" // есть в локальной базе
	StatusPending   Status = "pending"   // ждет записи в очереди
	StatusErrored   Status = "errored"   // запись не удалась
)

// PendingID is the id of queue entries, which have no identity yet
const PendingID = "0"

// CheckpointView is one row of an event's checkpoint list
type CheckpointView struct {
	CreatedAt  time.Time `json:"created_at"`
	ID         string    `json:"id"`
	EventID    string    `json:"event_id"`
	CpCode     string    `json:"cp_code,omitempty"`
	SkipReason string    `json:"skip_reason,omitempty"`
	Error      string    `json:"error,omitempty"`
	Status     Status    `json:"status"`
	CpID       int       `json:"cp_id"`
	Skipped    bool      `json:"skipped"`
	Pending    bool      `json:"pending"`
}

// MergeCheckpoints returns the confirmed checkpoints in the given order,
// followed by the queued and then the errored items of eventID.
// Nothing is de-duplicated: the queue removes an item once it is committed.
func MergeCheckpoints(confirmed []*models.Checkpoint, state queue.State, eventID string) []CheckpointView {
	out := make([]CheckpointView, 0, len(confirmed)+len(state.Queue)+len(state.Errored))

	for _, cp := range confirmed {
		out = append(out, CheckpointView{
			ID:         cp.ID,
			EventID:    cp.EventID,
			CpID:       cp.CpID,
			CpCode:     cp.CpCode,
			Skipped:    cp.Skipped,
			SkipReason: cp.SkipReason,
			CreatedAt:  cp.CreatedAt,
			Status:     StatusConfirmed,
		})
	}

	out = appendQueued(out, state.Queue, eventID, StatusPending)
	out = appendQueued(out, state.Errored, eventID, StatusErrored)
	return out
}

func appendQueued(out []CheckpointView, items []queue.Item, eventID string, status Status) []CheckpointView {
	for _, it := range items {
		if it.EventID != eventID {
			continue
		}
		out = append(out, CheckpointView{
			ID:         PendingID,
			EventID:    it.EventID,
			CpID:       it.Checkpoint.CpID,
			CpCode:     it.Checkpoint.CpCode,
			Skipped:    it.Checkpoint.Skipped,
			SkipReason: it.Checkpoint.SkipReason,
			Error:      it.Checkpoint.Error,
			Pending:    true,
			Status:     status,
		})
	}
	return out
}

// QueueSource is the subscription side of the write queue
type QueueSource interface {
	Subscribe(fn func(queue.State)) (unsubscribe func())
}

// EventCheckpoints keeps the merged checkpoint list of one event current.
type EventCheckpoints struct {
	live       *localdb.LiveQuery[*models.Checkpoint]
	unsubLive  func()
	unsubQueue func()
	emit       func([]CheckpointView)
	eventID    string
	confirmed  []*models.Checkpoint
	state      queue.State
	mu         sync.Mutex
	ready      bool
}

// WatchEventCheckpoints calls fn with the merged list of eventID now and
// after every change of the event's checkpoints or of the queue.
func WatchEventCheckpoints(ctx context.Context, coll *localdb.Collection[*models.Checkpoint], q QueueSource, eventID string, fn func([]CheckpointView)) (*EventCheckpoints, error) {
	ec := &EventCheckpoints{eventID: eventID, emit: fn}

	ec.live = coll.Watch(localdb.Query[*models.Checkpoint]{
		Selector: func(cp *models.Checkpoint) bool { return cp.EventID == eventID },
		Sort:     func(a, b *models.Checkpoint) int { return a.CreatedAt.Compare(b.CreatedAt) },
	})

	// обе подписки сразу отдают текущее состояние; выдаем только после обеих
	ec.unsubQueue = q.Subscribe(ec.onQueue)
	unsub, err := ec.live.Subscribe(ctx, ec.onConfirmed)
	if err != nil {
		ec.unsubQueue()
		ec.live.Close()
		return nil, err
	}
	ec.unsubLive = unsub

	ec.mu.Lock()
	ec.ready = true
	ec.publish()
	ec.mu.Unlock()
	return ec, nil
}

func (ec *EventCheckpoints) onConfirmed(docs []*models.Checkpoint) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.confirmed = docs
	ec.publish()
}

func (ec *EventCheckpoints) onQueue(state queue.State) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.state = state
	ec.publish()
}

// publish вызывается под ec.mu
func (ec *EventCheckpoints) publish() {
	if !ec.ready {
		return
	}
	ec.emit(MergeCheckpoints(ec.confirmed, ec.state, ec.eventID))
}

// Close stops both subscriptions.
func (ec *EventCheckpoints) Close() {
	ec.mu.Lock()
	ec.ready = false
	ec.mu.Unlock()

	ec.unsubQueue()
	ec.unsubLive()
	ec.live.Close()
}
