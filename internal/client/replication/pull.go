package replication

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iudanet/woodtime/internal/client/localdb"
	"github.com/iudanet/woodtime/internal/models"
)

// puller fetches server changes of one collection. All pulls of a
// collection run in a single goroutine, so batches never overlap.
type puller[T models.Document] struct {
	coll   *localdb.Collection[T]
	client APIClient
	logger *slog.Logger
	wake   chan struct{}
	synced func(ctx context.Context)
	batch  int
	mu     sync.Mutex
}

func newPuller[T models.Document](coll *localdb.Collection[T], client APIClient, batch int, logger *slog.Logger) *puller[T] {
	return &puller[T]{
		coll:   coll,
		client: client,
		batch:  batch,
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

func (p *puller[T]) collection() string {
	return p.coll.Name()
}

// wakeUp schedules an immediate pull; extra wake-ups collapse into one
func (p *puller[T]) wakeUp() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// pullOnce fetches and merges one batch. The cursor moves only when the
// whole batch was stored.
func (p *puller[T]) pullOnce(ctx context.Context) (caughtUp bool, n int, err error) {
	cursor, err := p.coll.Cursor(ctx)
	if err != nil {
		return false, 0, fmt.Errorf("failed to read %s cursor: %w", p.collection(), err)
	}

	res, err := p.client.Pull(ctx, p.collection(), cursor, p.batch)
	if err != nil {
		return false, 0, err
	}

	docs := make([]T, 0, len(res.Documents))
	for _, raw := range res.Documents {
		doc, err := p.coll.Decode(raw)
		if err != nil {
			return false, 0, fmt.Errorf("invalid %s document in pull batch: %w", p.collection(), err)
		}
		docs = append(docs, doc)
	}

	next := cursor.Advance(res.Checkpoint.LastModified)
	n, err = p.coll.ApplyPulled(ctx, docs, next)
	if err != nil {
		return false, 0, fmt.Errorf("failed to merge %s batch: %w", p.collection(), err)
	}

	// курсор не сдвинулся: новых данных нет, даже если пакет полный
	caughtUp = len(res.Documents) < p.batch || next == cursor
	return caughtUp, n, nil
}

// catchUp pulls batches until the server has nothing newer.
func (p *puller[T]) catchUp(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := 0
	for {
		caughtUp, n, err := p.pullOnce(ctx)
		if err != nil {
			return total, err
		}
		total += n
		if caughtUp {
			break
		}
	}

	if p.synced != nil {
		p.synced(ctx)
	}
	return total, nil
}

// run is the live pull loop. It returns nil when ctx is done and the
// error when the server rejects the token.
func (p *puller[T]) run(ctx context.Context, retryInterval time.Duration) error {
	for {
		n, err := p.catchUp(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case isUnauthenticated(err):
			return err
		case err != nil:
			p.logger.Warn("Pull failed, will retry",
				"collection", p.collection(),
				"retry_in", retryInterval,
				"error", err)
		case n > 0:
			p.logger.Debug("Pulled changes",
				"collection", p.collection(),
				"changed", n)
		}

		if !wait(ctx, retryInterval, p.wake) {
			return nil
		}
	}
}
