// Package replication keeps the local database in sync with the server:
// one puller and one pusher per collection, driven by a Manager.
package replication

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	httpClient "github.com/iudanet/woodtime/internal/client/api"
	"github.com/iudanet/woodtime/internal/models"
	"github.com/iudanet/woodtime/pkg/api"
)

//go:generate moq -out apiclient_mock.go . APIClient

// APIClient is the part of the server API used by replication
type APIClient interface {
	Pull(ctx context.Context, collection string, cursor models.Cursor, limit int) (*api.PullResult, error)
	Push(ctx context.Context, collection string, docs []json.RawMessage) ([]json.RawMessage, error)
	Listen(ctx context.Context, fn func(api.ChangeNotification)) error
}

// ErrAlreadyRunning is returned by Start when replication is already live.
var ErrAlreadyRunning = errors.New("replication already running")

// Значения по умолчанию
const (
	DefaultRetryInterval = 5 * time.Second
	DefaultPullBatchSize = 100
	DefaultPushBatchSize = 50
)

// Config tunes the replication loops. Zero fields take the defaults.
type Config struct {
	RetryInterval time.Duration
	PullBatchSize int
	PushBatchSize int
}

func (c Config) withDefaults() Config {
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.PullBatchSize <= 0 {
		c.PullBatchSize = DefaultPullBatchSize
	}
	if c.PushBatchSize <= 0 {
		c.PushBatchSize = DefaultPushBatchSize
	}
	return c
}

// PushResult describes one push cycle of a collection
type PushResult struct {
	Pushed      int // отправлено документов
	Confirmed   int // подтверждено сервером
	Remapped    int // из них получили постоянный id
	Unconfirmed int // отсутствуют в ответе, остаются в ожидании
}

func (r *PushResult) add(other *PushResult) {
	r.Pushed += other.Pushed
	r.Confirmed += other.Confirmed
	r.Remapped += other.Remapped
	r.Unconfirmed += other.Unconfirmed
}

// wait blocks for d, a wake-up or ctx, whichever comes first.
// It returns false when ctx is done.
func wait(ctx context.Context, d time.Duration, wake <-chan struct{}) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-wake:
		return true
	case <-timer.C:
		return true
	}
}

func isUnauthenticated(err error) bool {
	return httpClient.IsUnauthenticated(err)
}
