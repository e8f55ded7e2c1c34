// Package cli implements the commands of the woodtime client.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"text/tabwriter"

	"github.com/iudanet/woodtime/internal/client/auth"
	"github.com/iudanet/woodtime/internal/client/iocli"
	"github.com/iudanet/woodtime/internal/client/localdb"
	"github.com/iudanet/woodtime/internal/client/queue"
	"github.com/iudanet/woodtime/internal/client/replication"
)

// ErrUsage is returned for missing or malformed command arguments
var ErrUsage = errors.New("usage")

// Cli runs commands against one local database
type Cli struct {
	io     iocli.IO
	auth   *auth.Service
	db     *localdb.Database
	queue  *queue.Queue
	repl   *replication.Manager
	logger *slog.Logger
}

// New creates the command runner. The queue must already be restored.
func New(io iocli.IO, authService *auth.Service, db *localdb.Database, q *queue.Queue, repl *replication.Manager, logger *slog.Logger) *Cli {
	return &Cli{
		io:     io,
		auth:   authService,
		db:     db,
		queue:  q,
		repl:   repl,
		logger: logger,
	}
}

type command struct {
	run   func(c *Cli, ctx context.Context, args []string) error
	name  string
	usage string
	help  string
}

var commands = []command{
	{name: "register", run: (*Cli).runRegister, help: "Register a new account"},
	{name: "login", run: (*Cli).runLogin, help: "Log in and save the session"},
	{name: "logout", run: (*Cli).runLogout, help: "Delete the local session"},
	{name: "status", run: (*Cli).runStatus, help: "Show session and sync state"},
	{name: "events", run: (*Cli).runEvents, help: "List events"},
	{name: "event-create", run: (*Cli).runEventCreate, usage: "[-type classic|score] [-checkpoints N] [-description TEXT] [-strict] NAME", help: "Create an event"},
	{name: "invite", run: (*Cli).runInvite, usage: "EVENT_ID USERNAME", help: "Add a user to an event"},
	{name: "checkpoint", run: (*Cli).runCheckpoint, usage: "[-skip REASON] EVENT_ID CP_ID [CODE]", help: "Record a checkpoint"},
	{name: "checkpoints", run: (*Cli).runCheckpoints, usage: "EVENT_ID", help: "Show checkpoints of an event with pending writes"},
	{name: "queue", run: (*Cli).runQueue, help: "Show the write queue"},
	{name: "queue-retry", run: (*Cli).runQueueRetry, usage: "EVENT_ID CP_ID", help: "Retry a failed checkpoint write"},
	{name: "queue-delete", run: (*Cli).runQueueDelete, usage: "EVENT_ID CP_ID", help: "Drop a checkpoint write"},
	{name: "sync", run: (*Cli).runSync, help: "Synchronize with the server once"},
	{name: "watch", run: (*Cli).runWatch, help: "Replicate live until interrupted"},
}

// Run executes the command name with its arguments
func (c *Cli) Run(ctx context.Context, name string, args []string) error {
	for _, cmd := range commands {
		if cmd.name != name {
			continue
		}

		// незавершенные записи очереди коммитятся при любом запуске
		c.drainQueue(ctx)

		err := cmd.run(c, ctx, args)
		if errors.Is(err, ErrUsage) {
			return fmt.Errorf("%w: woodtime %s %s", ErrUsage, cmd.name, cmd.usage)
		}
		return err
	}

	PrintUsage(c.io)
	return fmt.Errorf("unknown command: %s", name)
}

// PrintUsage prints the list of commands
func PrintUsage(out iocli.IO) {
	out.Println("Woodtime Client")
	out.Println()
	out.Println("Usage:")
	out.Println("  woodtime [OPTIONS] COMMAND [ARGS]")
	out.Println()
	out.Println("Options:")
	out.Println("  -version              Show version information")
	out.Println("  -server URL           Server URL (default: http://localhost:8080)")
	out.Println("  -db PATH              Path to local database (default: woodtime.db)")
	out.Println("  -log-level LEVEL      debug, info, warn, error (default: warn)")
	out.Println()
	out.Println("Commands:")

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, cmd := range commands {
		_, _ = fmt.Fprintf(w, "  %s %s\t%s\n", cmd.name, cmd.usage, cmd.help)
	}
	_ = w.Flush()

	out.Println()
	out.Println("Examples:")
	out.Println("  woodtime register")
	out.Println("  woodtime event-create -type score -checkpoints 20 Night sprint")
	out.Println("  woodtime checkpoint -1700000000123456789 3 A31")
	out.Println("  woodtime -server https://woodtime.example.com sync")
}

// drainQueue commits every queued write. Failures stay in the errored list.
func (c *Cli) drainQueue(ctx context.Context) {
	for {
		processed, err := c.queue.ProcessNext(ctx)
		if err != nil {
			c.logger.Debug("Queued checkpoint failed", "error", err)
		}
		if !processed || ctx.Err() != nil {
			return
		}
	}
}

func parseCpID(s string) (int, error) {
	cpID, err := strconv.Atoi(s)
	if err != nil || cpID < 0 {
		return 0, fmt.Errorf("checkpoint number must be a non-negative integer, got %q", s)
	}
	return cpID, nil
}
