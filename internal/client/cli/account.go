package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/woodtime/internal/client/auth"
	"github.com/iudanet/woodtime/internal/client/storage"
	"github.com/iudanet/woodtime/internal/models"
)

func (c *Cli) readCredentials() (string, string, error) {
	username, err := c.io.ReadInput("Username: ")
	if err != nil {
		return "", "", fmt.Errorf("failed to read username: %w", err)
	}
	password, err := c.io.ReadPassword("Password: ")
	if err != nil {
		return "", "", fmt.Errorf("failed to read password: %w", err)
	}
	return username, password, nil
}

func (c *Cli) runRegister(ctx context.Context, _ []string) error {
	username, password, err := c.readCredentials()
	if err != nil {
		return err
	}
	confirm, err := c.io.ReadPassword("Confirm password: ")
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	if confirm != password {
		return errors.New("passwords do not match")
	}

	userID, err := c.auth.Register(ctx, username, password)
	if err != nil {
		return err
	}

	c.io.Printf("✓ Registered %s (id %s)\n", username, userID)
	c.io.Println("Run 'woodtime login' to start a session")
	return nil
}

func (c *Cli) runLogin(ctx context.Context, _ []string) error {
	username, password, err := c.readCredentials()
	if err != nil {
		return err
	}

	prev, _ := c.auth.Session(ctx)
	session, err := c.auth.Login(ctx, username, password)
	if err != nil {
		return err
	}

	c.io.Printf("✓ Logged in as %s, session valid until %s\n",
		session.Username, time.Unix(session.ExpiresAt, 0).Format("2006-01-02 15:04:05"))

	// база принадлежит одному пользователю: неотправленное уйдет от нового
	if prev != nil && prev.UserID != session.UserID {
		pending, err := c.pendingTotal(ctx)
		if err != nil {
			return err
		}
		if pending > 0 {
			c.io.Printf("Warning: %d local change(s) made as %s will be pushed as %s\n",
				pending, prev.Username, session.Username)
		}
	}
	return nil
}

func (c *Cli) runLogout(ctx context.Context, _ []string) error {
	err := c.auth.Logout(ctx)
	if errors.Is(err, auth.ErrNotAuthenticated) {
		c.io.Println("Not logged in")
		return nil
	}
	if err != nil {
		return err
	}
	c.io.Println("✓ Logged out")
	return nil
}

type pendingRow struct {
	Collection string
	Count      int
}

type statusView struct {
	Session    *storage.AuthData
	ExpiresAt  time.Time
	LastSynced time.Time
	Pending    []pendingRow
	Expired    bool
	Queued     int
	Errored    int
}

func (c *Cli) runStatus(ctx context.Context, _ []string) error {
	var v statusView

	session, err := c.auth.Session(ctx)
	switch {
	case errors.Is(err, auth.ErrNotAuthenticated):
	case err != nil:
		return err
	default:
		v.Session = session
		v.ExpiresAt = time.Unix(session.ExpiresAt, 0)
		v.Expired = c.auth.Expired(session)
	}

	if v.LastSynced, err = c.repl.LastSynced(ctx); err != nil {
		return fmt.Errorf("failed to read last sync time: %w", err)
	}

	for _, name := range models.Collections {
		n, err := c.db.PendingCount(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to count pending %s: %w", name, err)
		}
		v.Pending = append(v.Pending, pendingRow{Collection: name, Count: n})
	}

	state := c.queue.State()
	v.Queued, v.Errored = len(state.Queue), len(state.Errored)

	return render(c.io, "status", statusTemplate, v)
}

func (c *Cli) pendingTotal(ctx context.Context) (int, error) {
	total := 0
	for _, name := range models.Collections {
		n, err := c.db.PendingCount(ctx, name)
		if err != nil {
			return 0, fmt.Errorf("failed to count pending %s: %w", name, err)
		}
		total += n
	}
	return total, nil
}
