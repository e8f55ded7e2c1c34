package cli

import (
	"context"
	"errors"
	"fmt"

	httpClient "github.com/iudanet/woodtime/internal/client/api"
	"github.com/iudanet/woodtime/internal/client/auth"
	"github.com/iudanet/woodtime/internal/client/queue"
)

var errSessionExpired = errors.New("session expired or revoked, run 'woodtime login'")

// requireSession fails fast when there is no usable token
func (c *Cli) requireSession(ctx context.Context) error {
	if _, err := c.auth.Token(ctx); err != nil {
		if errors.Is(err, auth.ErrNotAuthenticated) {
			return errSessionExpired
		}
		return err
	}
	return nil
}

func (c *Cli) runSync(ctx context.Context, _ []string) error {
	if err := c.requireSession(ctx); err != nil {
		return err
	}

	c.io.Println("Synchronizing...")
	result, err := c.repl.SyncOnce(ctx)
	if httpClient.IsUnauthenticated(err) {
		return errSessionExpired
	}
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	return render(c.io, "sync", syncResultTemplate, result)
}

func (c *Cli) runWatch(ctx context.Context, _ []string) error {
	if err := c.requireSession(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// OnUnauthenticated вызывается из цикла репликации, Stop здесь нельзя
	c.repl.OnUnauthenticated(func(error) { cancel() })
	if err := c.repl.Start(ctx); err != nil {
		return err
	}

	queueDone := make(chan error, 1)
	go func() { queueDone <- c.queue.Run(ctx) }()

	unsubscribe := c.queue.Subscribe(func(s queue.State) {
		if len(s.Errored) > 0 {
			c.io.Printf("Write queue: %d queued, %d failed\n", len(s.Queue), len(s.Errored))
		}
	})
	defer unsubscribe()

	c.io.Println("Replicating, press Ctrl+C to stop")
	<-ctx.Done()

	err := c.repl.Stop()
	if qerr := <-queueDone; qerr != nil && !errors.Is(qerr, context.Canceled) {
		c.logger.Warn("Write queue stopped", "error", qerr)
	}

	if httpClient.IsUnauthenticated(err) {
		return errSessionExpired
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("replication stopped: %w", err)
	}
	c.io.Println("✓ Stopped")
	return nil
}
