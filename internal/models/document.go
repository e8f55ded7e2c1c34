package models

import "time"

// Имена реплицируемых коллекций локальной базы woodtime
const (
	CollectionEvents            = "events"
	CollectionCheckpoints       = "checkpoints"
	CollectionUsers             = "users"
	CollectionParticipants      = "participants"
	CollectionVirtualChallenges = "virtualchallenges"
)

// Collections lists every replicated collection in pull order.
// Events go first so that checkpoints and participants find their parent locally.
var Collections = []string{
	CollectionEvents,
	CollectionUsers,
	CollectionParticipants,
	CollectionCheckpoints,
	CollectionVirtualChallenges,
}

// Document is a replicated record of any collection.
type Document interface {
	DocID() string
	SetDocID(id string)
	LastModified() int64
	IsDeleted() bool
	SetDeleted(deleted bool)
	// Touch обновляет updated_at (и created_at для новых документов)
	Touch(now time.Time)
	// Base returns the shared envelope for storage code.
	Base() *Envelope
}

// Envelope holds the fields shared by documents of every collection.
// Embedded into each collection struct so JSON and validation see them flattened.
type Envelope struct {
	CreatedAt time.Time `json:"created_at" validate:"required"`
	UpdatedAt time.Time `json:"updated_at" validate:"required"`
	ID        string    `json:"id" validate:"required,docid"`
	Modified  int64     `json:"_modified"` // назначается сервером, мс с начала эпохи
	Deleted   bool      `json:"deleted"`   // tombstone
}

func (e *Envelope) DocID() string { return e.ID }
func (e *Envelope) SetDocID(id string) { e.ID = id }
func (e *Envelope) LastModified() int64 { return e.Modified }
func (e *Envelope) IsDeleted() bool { return e.Deleted }
func (e *Envelope) SetDeleted(del bool) { e.Deleted = del }
func (e *Envelope) Base() *Envelope { return e }

func (e *Envelope) Touch(now time.Time) {
	now = now.UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
}

// EventType вид соревнования
type EventType int

const (
	// EventTypeClassic классическое ориентирование по порядку КП
	EventTypeClassic EventType = 1
	// EventTypeScore рогейн: КП в любом порядке
	EventTypeScore EventType = 2
)

// Event is a single run that checkpoints are recorded against.
type Event struct {
	Envelope
	Name            string    `json:"name" validate:"required,max=255"`
	Description     string    `json:"description,omitempty" validate:"max=4096"`
	Type            EventType `json:"type" validate:"oneof=1 2"`
	CheckpointCount int       `json:"checkpoint_count" validate:"gte=0"`
	Strict          bool      `json:"strict"`
}

// Checkpoint is a control point the runner has passed or skipped.
type Checkpoint struct {
	Envelope
	EventID    string `json:"event_id" validate:"required,docid"`
	CpCode     string `json:"cp_code,omitempty" validate:"excluded_if=Skipped true,max=64"`
	SkipReason string `json:"skip_reason,omitempty" validate:"max=1024"`
	CpID       int    `json:"cp_id" validate:"gte=0"`
	Skipped    bool   `json:"skipped"`
}

// User is the public, replicated view of an account.
type User struct {
	Envelope
	Username string `json:"username" validate:"required,username"`
}

// Participant links a user to an event.
type Participant struct {
	Envelope
	EventID string `json:"event_id" validate:"required,docid"`
	UserID  string `json:"user_id" validate:"required,docid"`
}

// VirtualChallenge is a shared challenge definition; Data is opaque JSON.
type VirtualChallenge struct {
	Envelope
	Name        string    `json:"name" validate:"required,max=255"`
	Description string    `json:"description,omitempty" validate:"max=4096"`
	Data        string    `json:"data,omitempty" validate:"omitempty,json"`
	CreatedBy   string    `json:"created_by,omitempty" validate:"omitempty,docid"`
	Type        EventType `json:"type" validate:"oneof=1 2"`
}
