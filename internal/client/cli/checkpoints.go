package cli

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/iudanet/woodtime/internal/client/queue"
	"github.com/iudanet/woodtime/internal/client/view"
)

func (c *Cli) runCheckpoint(ctx context.Context, args []string) error {
	fs := c.newFlagSet("checkpoint")
	skip := fs.String("skip", "", "Mark the checkpoint skipped with this reason")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	rest := fs.Args()
	skipped := *skip != ""
	switch {
	case skipped && len(rest) != 2:
		return fmt.Errorf("%w: a skipped checkpoint takes no code", ErrUsage)
	case !skipped && len(rest) != 3:
		return ErrUsage
	}

	event, err := c.findEvent(ctx, rest[0])
	if err != nil {
		return err
	}
	cpID, err := parseCpID(rest[1])
	if err != nil {
		return err
	}
	if event.CheckpointCount > 0 && cpID > event.CheckpointCount {
		return fmt.Errorf("event %s has %d checkpoints, got %d", event.Name, event.CheckpointCount, cpID)
	}

	cp := queue.Checkpoint{CpID: cpID, Skipped: skipped, SkipReason: *skip}
	if !skipped {
		cp.CpCode = rest[2]
	}
	if err := c.queue.Add(ctx, event.ID, cp); err != nil {
		return fmt.Errorf("failed to queue checkpoint: %w", err)
	}

	return c.commitQueued(ctx, event.ID, cpID)
}

// commitQueued drains the queue and reports the outcome for one checkpoint
func (c *Cli) commitQueued(ctx context.Context, eventID string, cpID int) error {
	c.drainQueue(ctx)

	for _, it := range c.queue.State().Errored {
		if it.EventID == eventID && it.Checkpoint.CpID == cpID {
			return fmt.Errorf("checkpoint %d was not saved: %s", cpID, it.Checkpoint.Error)
		}
	}
	c.io.Printf("✓ Checkpoint %d recorded, run 'woodtime sync' to send it\n", cpID)
	return nil
}

func (c *Cli) runCheckpoints(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return ErrUsage
	}

	event, err := c.findEvent(ctx, args[0])
	if err != nil {
		return err
	}
	if err := render(c.io, "event", eventTemplate, event); err != nil {
		return err
	}

	var rows []view.CheckpointView
	watch, err := view.WatchEventCheckpoints(ctx, c.db.Checkpoints(), c.queue, event.ID, func(v []view.CheckpointView) {
		rows = v
	})
	if err != nil {
		return fmt.Errorf("failed to load checkpoints: %w", err)
	}
	watch.Close()

	if len(rows) == 0 {
		c.io.Println("No checkpoints recorded.")
		return nil
	}
	return c.printCheckpoints(rows)
}

func (c *Cli) printCheckpoints(rows []view.CheckpointView) error {
	w := tabwriter.NewWriter(c.io, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CP\tCODE\tSTATUS\tTIME\t")
	for _, r := range rows {
		code := r.CpCode
		if r.Skipped {
			code = "skipped: " + r.SkipReason
		}
		status := string(r.Status)
		if r.Error != "" {
			status += " (" + r.Error + ")"
		}
		when := "-"
		if !r.CreatedAt.IsZero() {
			when = r.CreatedAt.Local().Format("15:04:05")
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t\n", r.CpID, code, status, when)
	}
	return w.Flush()
}

func (c *Cli) runQueue(_ context.Context, _ []string) error {
	state := c.queue.State()
	if len(state.Queue) == 0 && len(state.Errored) == 0 {
		c.io.Println("Write queue is empty.")
		return nil
	}

	w := tabwriter.NewWriter(c.io, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "EVENT\tCP\tCODE\tSTATE\t")
	for _, it := range state.Queue {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\tqueued\t\n", it.EventID, it.Checkpoint.CpID, it.Checkpoint.CpCode)
	}
	for _, it := range state.Errored {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\tfailed: %s\t\n", it.EventID, it.Checkpoint.CpID, it.Checkpoint.CpCode, it.Checkpoint.Error)
	}
	return w.Flush()
}

func (c *Cli) parseQueueKey(args []string) (string, int, error) {
	if len(args) != 2 {
		return "", 0, ErrUsage
	}
	cpID, err := parseCpID(args[1])
	if err != nil {
		return "", 0, err
	}
	return args[0], cpID, nil
}

func (c *Cli) runQueueRetry(ctx context.Context, args []string) error {
	eventID, cpID, err := c.parseQueueKey(args)
	if err != nil {
		return err
	}

	err = c.queue.Retry(ctx, eventID, cpID)
	if errors.Is(err, queue.ErrItemNotFound) {
		return fmt.Errorf("no failed write for checkpoint %d of event %s", cpID, eventID)
	}
	if err != nil {
		return err
	}

	return c.commitQueued(ctx, eventID, cpID)
}

func (c *Cli) runQueueDelete(ctx context.Context, args []string) error {
	eventID, cpID, err := c.parseQueueKey(args)
	if err != nil {
		return err
	}
	if err := c.queue.Delete(ctx, eventID, cpID); err != nil {
		return err
	}
	c.io.Printf("✓ Checkpoint %d of event %s removed from the queue\n", cpID, eventID)
	return nil
}
