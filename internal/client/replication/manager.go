package replication

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iudanet/woodtime/internal/client/localdb"
	"github.com/iudanet/woodtime/internal/client/storage"
	"github.com/iudanet/woodtime/internal/models"
	"github.com/iudanet/woodtime/pkg/api"
)

type pullLoop interface {
	collection() string
	wakeUp()
	catchUp(ctx context.Context) (int, error)
	run(ctx context.Context, retryInterval time.Duration) error
}

type pushLoop interface {
	collection() string
	pushAll(ctx context.Context) (*PushResult, error)
	run(ctx context.Context, retryInterval time.Duration) error
}

// SyncResult contains the outcome of a one-shot sync
type SyncResult struct {
	Pushed      int // отправлено документов
	Confirmed   int // подтверждено сервером
	Remapped    int // временные id заменены постоянными
	Unconfirmed int // не подтверждены, будут отправлены повторно
	Pulled      int // изменено локально по данным сервера
}

// Manager owns the pullers and pushers of one local database.
type Manager struct {
	client   APIClient
	meta     storage.MetadataStorage
	logger   *slog.Logger
	pullers  map[string]pullLoop
	pushers  map[string]pushLoop
	onUnauth func(error)
	cancel   context.CancelFunc
	group    *errgroup.Group
	cfg      Config
	mu       sync.Mutex
}

// NewManager creates the replication manager for db.
func NewManager(client APIClient, db *localdb.Database, meta storage.MetadataStorage, cfg Config, logger *slog.Logger) *Manager {
	cfg = cfg.withDefaults()

	m := &Manager{
		client:  client,
		meta:    meta,
		logger:  logger,
		cfg:     cfg,
		pullers: make(map[string]pullLoop, len(models.Collections)),
		pushers: make(map[string]pushLoop, len(models.Collections)),
	}

	addPuller(m, db.Events())
	addPuller(m, db.Users())
	addPuller(m, db.Participants())
	addPuller(m, db.Checkpoints())
	addPuller(m, db.VirtualChallenges())

	// users только читаются
	addPusher(m, db, db.Events())
	addPusher(m, db, db.Participants())
	addPusher(m, db, db.Checkpoints())
	addPusher(m, db, db.VirtualChallenges())

	return m
}

func addPuller[T models.Document](m *Manager, coll *localdb.Collection[T]) {
	p := newPuller(coll, m.client, m.cfg.PullBatchSize, m.logger)
	p.synced = m.markSynced
	m.pullers[coll.Name()] = p
}

func addPusher[T models.Document](m *Manager, db *localdb.Database, coll *localdb.Collection[T]) {
	m.pushers[coll.Name()] = newPusher(coll, m.client, db.LocalWrites(coll.Name()), m.cfg.PushBatchSize, m.logger)
}

// OnUnauthenticated sets the callback invoked when the server rejects the
// access token. It runs on a replication goroutine and must not call Stop
// or Wait.
func (m *Manager) OnUnauthenticated(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUnauth = fn
}

// LastSynced returns the time of the last successful catch-up, zero if none.
func (m *Manager) LastSynced(ctx context.Context) (time.Time, error) {
	ts, err := m.meta.GetLastSyncTimestamp(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get last sync timestamp: %w", err)
	}
	if ts == 0 {
		return time.Time{}, nil
	}
	return time.UnixMilli(ts), nil
}

func (m *Manager) markSynced(ctx context.Context) {
	if err := m.meta.SaveLastSyncTimestamp(ctx, time.Now().UnixMilli()); err != nil {
		m.logger.Warn("Failed to save last sync timestamp", "error", err)
	}
}

// SyncOnce pushes local changes and pulls server changes of every
// collection once. Events go first so that checkpoints and participants
// are pushed with canonical event ids.
func (m *Manager) SyncOnce(ctx context.Context) (*SyncResult, error) {
	m.logger.Info("Starting synchronization")

	result := &SyncResult{}
	for _, name := range models.Collections {
		if p, ok := m.pushers[name]; ok {
			res, err := p.pushAll(ctx)
			if err != nil {
				return result, m.fail(fmt.Errorf("push %s failed: %w", name, err))
			}
			result.Pushed += res.Pushed
			result.Confirmed += res.Confirmed
			result.Remapped += res.Remapped
			result.Unconfirmed += res.Unconfirmed
		}

		n, err := m.pullers[name].catchUp(ctx)
		if err != nil {
			return result, m.fail(fmt.Errorf("pull %s failed: %w", name, err))
		}
		result.Pulled += n
	}

	m.logger.Info("Synchronization completed",
		"pushed", result.Pushed,
		"confirmed", result.Confirmed,
		"unconfirmed", result.Unconfirmed,
		"pulled", result.Pulled)
	return result, nil
}

// Start launches the live loops: one puller and one pusher per collection
// plus the change-notification listener.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.group != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	m.cancel = cancel
	m.group = g

	for _, name := range models.Collections {
		p := m.pullers[name]
		g.Go(func() error {
			return m.fail(p.run(gctx, m.cfg.RetryInterval))
		})
		if push, ok := m.pushers[name]; ok {
			g.Go(func() error {
				return m.fail(push.run(gctx, m.cfg.RetryInterval))
			})
		}
	}
	g.Go(func() error {
		return m.fail(m.listen(gctx))
	})

	m.logger.Info("Replication started",
		"collections", len(m.pullers),
		"retry_interval", m.cfg.RetryInterval)
	return nil
}

// Stop cancels the live loops and waits for them to exit.
func (m *Manager) Stop() error {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	return m.Wait()
}

// Wait blocks until the live loops exit. It returns the error that stopped
// them, nil after Stop or context cancellation.
func (m *Manager) Wait() error {
	m.mu.Lock()
	g := m.group
	m.mu.Unlock()

	if g == nil {
		return nil
	}
	err := g.Wait()

	m.mu.Lock()
	if m.group == g {
		m.group = nil
		m.cancel = nil
	}
	m.mu.Unlock()

	m.logger.Info("Replication stopped")
	return err
}

// listen routes server change notifications to the pullers
func (m *Manager) listen(ctx context.Context) error {
	for {
		err := m.client.Listen(ctx, m.route)
		switch {
		case ctx.Err() != nil:
			return nil
		case isUnauthenticated(err):
			return err
		case err != nil:
			m.logger.Warn("Change stream failed, will reconnect",
				"retry_in", m.cfg.RetryInterval,
				"error", err)
		}

		if !wait(ctx, m.cfg.RetryInterval, nil) {
			return nil
		}
	}
}

func (m *Manager) route(note api.ChangeNotification) {
	p, ok := m.pullers[note.Collection]
	if !ok {
		return
	}
	p.wakeUp()
}

// fail reports an unauthenticated error to the callback
func (m *Manager) fail(err error) error {
	if !isUnauthenticated(err) {
		return err
	}

	m.logger.Warn("Server rejected the access token, replication stops", "error", err)

	m.mu.Lock()
	fn := m.onUnauth
	m.mu.Unlock()

	if fn != nil {
		fn(err)
	}
	return err
}
