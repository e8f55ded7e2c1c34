package cli

import (
	"context"
	"flag"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/iudanet/woodtime/internal/client/localdb"
	"github.com/iudanet/woodtime/internal/models"
)

func eventTypeName(t models.EventType) string {
	switch t {
	case models.EventTypeClassic:
		return "classic"
	case models.EventTypeScore:
		return "score"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

func parseEventType(s string) (models.EventType, error) {
	switch strings.ToLower(s) {
	case "classic":
		return models.EventTypeClassic, nil
	case "score":
		return models.EventTypeScore, nil
	default:
		return 0, fmt.Errorf("%w: unknown event type %q, use classic or score", ErrUsage, s)
	}
}

func (c *Cli) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.io)
	return fs
}

// parseFlags разбирает флаги команды. Временные id отрицательные, поэтому
// первый аргумент-число и все после него считаются позиционными
func parseFlags(fs *flag.FlagSet, args []string) error {
	for i, arg := range args {
		if _, err := strconv.ParseInt(arg, 10, 64); err == nil && strings.HasPrefix(arg, "-") {
			args = slices.Concat(args[:i], []string{"--"}, args[i:])
			break
		}
	}
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", ErrUsage, err)
	}
	return nil
}

// findEvent resolves a user-supplied id, which may be a temporary id already
// replaced after push, and loads the event.
func (c *Cli) findEvent(ctx context.Context, id string) (*models.Event, error) {
	resolved, err := c.db.ResolveID(ctx, models.CollectionEvents, id)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve event id: %w", err)
	}

	event, err := c.db.Events().Get(ctx, resolved)
	if localdb.IsNotFound(err) || (err == nil && event.Deleted) {
		return nil, fmt.Errorf("event %s not found, run 'woodtime sync' to fetch it", id)
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

func (c *Cli) runEvents(ctx context.Context, _ []string) error {
	events, err := c.db.Events().Find(ctx, localdb.Query[*models.Event]{
		Sort: func(a, b *models.Event) int { return b.CreatedAt.Compare(a.CreatedAt) },
	})
	if err != nil {
		return fmt.Errorf("failed to list events: %w", err)
	}

	if len(events) == 0 {
		c.io.Println("No events found.")
		c.io.Println("Use 'woodtime event-create NAME' to create one or 'woodtime sync' to fetch them.")
		return nil
	}

	w := tabwriter.NewWriter(c.io, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tTYPE\tCPS\tCREATED\t")
	for _, e := range events {
		id := e.ID
		if models.IsTemporaryID(id) {
			id += " *"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t\n",
			id, e.Name, eventTypeName(e.Type), e.CheckpointCount, e.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	c.io.Println()
	c.io.Println("* not synced yet")
	return nil
}

func (c *Cli) runEventCreate(ctx context.Context, args []string) error {
	fs := c.newFlagSet("event-create")
	typeName := fs.String("type", "classic", "Event type: classic or score")
	count := fs.Int("checkpoints", 0, "Number of checkpoints")
	description := fs.String("description", "", "Event description")
	strict := fs.Bool("strict", false, "Checkpoints must be taken in order")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	name := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if name == "" {
		return fmt.Errorf("%w: event name is required", ErrUsage)
	}
	eventType, err := parseEventType(*typeName)
	if err != nil {
		return err
	}

	event := &models.Event{
		Name:            name,
		Description:     *description,
		Type:            eventType,
		CheckpointCount: *count,
		Strict:          *strict,
	}
	if err := c.db.Events().Insert(ctx, event); err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}

	// участником создателя делает сервер при создании события
	c.io.Printf("✓ Event created: %s\n", event.ID)
	return nil
}

func (c *Cli) runInvite(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return ErrUsage
	}

	event, err := c.findEvent(ctx, args[0])
	if err != nil {
		return err
	}

	username := args[1]
	user, err := c.db.Users().FindOne(ctx, func(u *models.User) bool { return u.Username == username })
	if localdb.IsNotFound(err) {
		return fmt.Errorf("user %s not found, run 'woodtime sync' to fetch users", username)
	}
	if err != nil {
		return err
	}

	_, err = c.db.Participants().FindOne(ctx, func(p *models.Participant) bool {
		return p.EventID == event.ID && p.UserID == user.ID
	})
	if err == nil {
		c.io.Printf("%s already participates in %s\n", username, event.Name)
		return nil
	}
	if !localdb.IsNotFound(err) {
		return err
	}

	if err := c.db.Participants().Insert(ctx, &models.Participant{EventID: event.ID, UserID: user.ID}); err != nil {
		return fmt.Errorf("failed to add participant: %w", err)
	}
	c.io.Printf("✓ %s invited to %s\n", username, event.Name)
	return nil
}
