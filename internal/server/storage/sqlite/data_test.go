package sqlite

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/woodtime/internal/models"
	"github.com/iudanet/woodtime/internal/server/storage"
	"github.com/iudanet/woodtime/pkg/api"
)

func TestDataStorage_CreateEvent(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	anna := createTestAccount(t, ctx, s, "anna")

	out, err := s.Push(ctx, anna, models.CollectionEvents, []json.RawMessage{
		eventJSON(t, "-1700000000000000001", "Night sprint"),
	})
	require.NoError(t, err)
	require.Len(t, out.Documents, 1)

	ack := decode[api.PushAck](t, out.Documents[0])
	assert.Equal(t, "-1700000000000000001", ack.ClientID)
	assert.False(t, models.IsTemporaryID(ack.ID))
	assert.Equal(t, ack.Modified, out.Modified[models.CollectionEvents])
	assert.Contains(t, out.Modified, models.CollectionParticipants)

	// создатель события становится участником в той же транзакции
	batch, err := s.Pull(ctx, anna, models.CollectionParticipants, 0, 10)
	require.NoError(t, err)
	require.Len(t, batch.Documents, 1)
	p := decode[models.Participant](t, batch.Documents[0])
	assert.Equal(t, ack.ID, p.EventID)
	assert.Equal(t, anna, p.UserID)
}

func TestDataStorage_CreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	anna := createTestAccount(t, ctx, s, "anna")
	doc := eventJSON(t, "-5", "Relay")

	first, err := s.Push(ctx, anna, models.CollectionEvents, []json.RawMessage{doc})
	require.NoError(t, err)
	second, err := s.Push(ctx, anna, models.CollectionEvents, []json.RawMessage{doc})
	require.NoError(t, err)

	require.Len(t, second.Documents, 1)
	assert.Equal(t, decode[api.PushAck](t, first.Documents[0]), decode[api.PushAck](t, second.Documents[0]))
	assert.Empty(t, second.Modified, "retry writes nothing")

	batch, err := s.Pull(ctx, anna, models.CollectionEvents, 0, 10)
	require.NoError(t, err)
	assert.Len(t, batch.Documents, 1)
}

func TestDataStorage_AuthorizationFiltering(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	anna := createTestAccount(t, ctx, s, "anna")
	boris := createTestAccount(t, ctx, s, "boris")

	event1 := createEvent(t, ctx, s, anna, "Forest")
	event2 := createEvent(t, ctx, s, boris, "Park")

	cp1 := createCheckpoint(t, ctx, s, anna, event1, 1, "31")
	cp2 := createCheckpoint(t, ctx, s, boris, event2, 1, "41")

	// anna участвует только в event1
	cp1.CpCode = "32"
	cp2.CpCode = "42"
	out, err := s.Push(ctx, anna, models.CollectionCheckpoints, []json.RawMessage{
		mustJSON(t, cp1),
		mustJSON(t, cp2),
	})
	require.NoError(t, err)
	require.Len(t, out.Documents, 1)
	got := decode[models.Checkpoint](t, out.Documents[0])
	assert.Equal(t, cp1.ID, got.ID)
	assert.Equal(t, "32", got.CpCode)

	batch, err := s.Pull(ctx, anna, models.CollectionCheckpoints, 0, 10)
	require.NoError(t, err)
	codes := make(map[string]string)
	for _, raw := range batch.Documents {
		cp := decode[models.Checkpoint](t, raw)
		codes[cp.ID] = cp.CpCode
	}
	assert.Equal(t, "32", codes[cp1.ID])
	assert.Equal(t, "41", codes[cp2.ID], "unauthorized update is not stored")

	t.Run("create in foreign event", func(t *testing.T) {
		out, err := s.Push(ctx, anna, models.CollectionCheckpoints, []json.RawMessage{
			checkpointJSON(t, "-9", event2, 2, "43"),
		})
		require.NoError(t, err)
		assert.Empty(t, out.Documents)
	})

	t.Run("move to foreign event", func(t *testing.T) {
		moved := *cp1
		moved.EventID = event2
		out, err := s.Push(ctx, anna, models.CollectionCheckpoints, []json.RawMessage{mustJSON(t, &moved)})
		require.NoError(t, err)
		assert.Empty(t, out.Documents)
	})

	t.Run("event update requires participancy", func(t *testing.T) {
		ev := &models.Event{Envelope: models.Envelope{ID: event2}, Name: "Hijacked", Type: models.EventTypeClassic}
		ev.Touch(time.Now())
		out, err := s.Push(ctx, anna, models.CollectionEvents, []json.RawMessage{mustJSON(t, ev)})
		require.NoError(t, err)
		assert.Empty(t, out.Documents)
	})

	t.Run("invite to own event", func(t *testing.T) {
		p := &models.Participant{Envelope: models.Envelope{ID: "-77"}, EventID: event1, UserID: boris}
		p.Touch(time.Now())
		out, err := s.Push(ctx, anna, models.CollectionParticipants, []json.RawMessage{mustJSON(t, p)})
		require.NoError(t, err)
		require.Len(t, out.Documents, 1)

		// теперь boris видит участников event1
		batch, err := s.Pull(ctx, boris, models.CollectionParticipants, 0, 10)
		require.NoError(t, err)
		assert.Len(t, batch.Documents, 3)
	})
}

func TestDataStorage_InvitedUserReceivesEarlierParticipants(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	anna := createTestAccount(t, ctx, s, "anna")
	boris := createTestAccount(t, ctx, s, "boris")
	forest := createEvent(t, ctx, s, anna, "Forest")
	createEvent(t, ctx, s, boris, "Park")

	// курсор boris уже дальше строки участника anna в Forest
	batch, err := s.Pull(ctx, boris, models.CollectionParticipants, 0, 10)
	require.NoError(t, err)
	require.Len(t, batch.Documents, 1)
	cursor := batch.LastModified

	p := &models.Participant{Envelope: models.Envelope{ID: "-5"}, EventID: forest, UserID: boris}
	p.Touch(time.Now())
	out, err := s.Push(ctx, anna, models.CollectionParticipants, []json.RawMessage{mustJSON(t, p)})
	require.NoError(t, err)
	require.Len(t, out.Documents, 1)

	batch, err = s.Pull(ctx, boris, models.CollectionParticipants, cursor, 10)
	require.NoError(t, err)
	users := make([]string, 0, len(batch.Documents))
	for _, raw := range batch.Documents {
		got := decode[models.Participant](t, raw)
		assert.Equal(t, forest, got.EventID)
		users = append(users, got.UserID)
	}
	assert.ElementsMatch(t, []string{anna, boris}, users)
	assert.Equal(t, batch.LastModified, out.Modified[models.CollectionParticipants])
}

func TestDataStorage_VirtualChallengeOwnership(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	anna := createTestAccount(t, ctx, s, "anna")
	boris := createTestAccount(t, ctx, s, "boris")

	vc := &models.VirtualChallenge{
		Envelope:  models.Envelope{ID: "-3"},
		Name:      "Autumn 10",
		Type:      models.EventTypeScore,
		Data:      `{"points":[1,2]}`,
		CreatedBy: boris, // сервер игнорирует
	}
	vc.Touch(time.Now())

	out, err := s.Push(ctx, anna, models.CollectionVirtualChallenges, []json.RawMessage{mustJSON(t, vc)})
	require.NoError(t, err)
	require.Len(t, out.Documents, 1)
	created := decode[models.VirtualChallenge](t, out.Documents[0])
	assert.Equal(t, anna, created.CreatedBy)

	created.Name = "Stolen"
	out, err = s.Push(ctx, boris, models.CollectionVirtualChallenges, []json.RawMessage{mustJSON(t, &created)})
	require.NoError(t, err)
	assert.Empty(t, out.Documents)

	created.Name = "Autumn 12"
	created.CreatedBy = boris
	out, err = s.Push(ctx, anna, models.CollectionVirtualChallenges, []json.RawMessage{mustJSON(t, &created)})
	require.NoError(t, err)
	require.Len(t, out.Documents, 1)
	updated := decode[models.VirtualChallenge](t, out.Documents[0])
	assert.Equal(t, "Autumn 12", updated.Name)
	assert.Equal(t, anna, updated.CreatedBy, "creator cannot be reassigned")
}

func TestDataStorage_PullCursor(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	// часы стоят на месте: _modified все равно строго растет
	fixed := time.UnixMilli(1_700_000_000_000)
	s.now = func() time.Time { return fixed }

	anna := createTestAccount(t, ctx, s, "anna")
	for i := 0; i < 5; i++ {
		createEvent(t, ctx, s, anna, "Event")
	}

	var (
		since int64
		seen  []int64
		calls int
	)
	for {
		batch, err := s.Pull(ctx, anna, models.CollectionEvents, since, 2)
		require.NoError(t, err)
		calls++
		for _, raw := range batch.Documents {
			seen = append(seen, decode[models.Event](t, raw).Modified)
		}
		if len(batch.Documents) == 0 {
			assert.Equal(t, since, batch.LastModified, "empty page keeps the cursor")
			break
		}
		since = batch.LastModified
	}

	assert.Equal(t, 4, calls)
	require.Len(t, seen, 5)
	assert.Equal(t, fixed.UnixMilli(), seen[0])
	for i := 1; i < len(seen); i++ {
		assert.Equal(t, seen[i-1]+1, seen[i])
	}
}

func TestDataStorage_Tombstone(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	anna := createTestAccount(t, ctx, s, "anna")
	eventID := createEvent(t, ctx, s, anna, "Forest")
	cp := createCheckpoint(t, ctx, s, anna, eventID, 4, "34")

	cp.Deleted = true
	out, err := s.Push(ctx, anna, models.CollectionCheckpoints, []json.RawMessage{mustJSON(t, cp)})
	require.NoError(t, err)
	require.Len(t, out.Documents, 1)

	batch, err := s.Pull(ctx, anna, models.CollectionCheckpoints, cp.Modified, 10)
	require.NoError(t, err)
	require.Len(t, batch.Documents, 1)
	got := decode[models.Checkpoint](t, batch.Documents[0])
	assert.True(t, got.Deleted)
	assert.Greater(t, got.Modified, cp.Modified)
	assert.True(t, cp.CreatedAt.Equal(got.CreatedAt))
}

func TestDataStorage_RejectedDocuments(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	anna := createTestAccount(t, ctx, s, "anna")

	invalid := &models.Event{Envelope: models.Envelope{ID: "-1"}, Type: models.EventTypeClassic}
	invalid.Touch(time.Now())

	out, err := s.Push(ctx, anna, models.CollectionEvents, []json.RawMessage{
		json.RawMessage(`{"id": 12`),
		mustJSON(t, invalid),
		eventJSON(t, "999", "Unknown canonical id"),
		eventJSON(t, "-2", "Valid"),
	})
	require.NoError(t, err)
	require.Len(t, out.Documents, 1)
	assert.Equal(t, "-2", decode[api.PushAck](t, out.Documents[0]).ClientID)
}

func TestDataStorage_Errors(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	anna := createTestAccount(t, ctx, s, "anna")

	_, err := s.Pull(ctx, anna, "maps", 0, 10)
	assert.ErrorIs(t, err, storage.ErrUnknownCollection)

	_, err = s.Push(ctx, anna, "maps", nil)
	assert.ErrorIs(t, err, storage.ErrUnknownCollection)

	_, err = s.Pull(ctx, "-1", models.CollectionEvents, 0, 10)
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}

// Helper functions

// setupTestLogger creates a logger for testing
func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupTestStorage(t *testing.T) (*Storage, func()) {
	ctx := context.Background()

	// Используем in-memory database для тестов
	s, err := New(ctx, ":memory:", setupTestLogger())
	require.NoError(t, err)

	cleanup := func() {
		_ = s.Close()
	}

	return s, cleanup
}

func createTestAccount(t *testing.T, ctx context.Context, s *Storage, username string) string {
	account, err := s.CreateAccount(ctx, username, "hash")
	require.NoError(t, err)
	return account.ID
}

func createEvent(t *testing.T, ctx context.Context, s *Storage, userID, name string) string {
	out, err := s.Push(ctx, userID, models.CollectionEvents, []json.RawMessage{eventJSON(t, "-1", name)})
	require.NoError(t, err)
	require.Len(t, out.Documents, 1)
	// -1 переиспользуется: client_ids уникален по пользователю, поэтому каждый раз новый create
	_, err = s.DB().ExecContext(ctx, `DELETE FROM client_ids WHERE client_id = '-1'`)
	require.NoError(t, err)
	return decode[api.PushAck](t, out.Documents[0]).ID
}

func createCheckpoint(t *testing.T, ctx context.Context, s *Storage, userID, eventID string, cpID int, code string) *models.Checkpoint {
	out, err := s.Push(ctx, userID, models.CollectionCheckpoints, []json.RawMessage{
		checkpointJSON(t, "-1", eventID, cpID, code),
	})
	require.NoError(t, err)
	require.Len(t, out.Documents, 1)
	_, err = s.DB().ExecContext(ctx, `DELETE FROM client_ids WHERE client_id = '-1'`)
	require.NoError(t, err)

	cp := decode[models.Checkpoint](t, out.Documents[0])
	return &cp
}

func eventJSON(t *testing.T, id, name string) json.RawMessage {
	ev := &models.Event{
		Envelope:        models.Envelope{ID: id},
		Name:            name,
		Type:            models.EventTypeClassic,
		CheckpointCount: 10,
	}
	ev.Touch(time.Now())
	return mustJSON(t, ev)
}

func checkpointJSON(t *testing.T, id, eventID string, cpID int, code string) json.RawMessage {
	cp := &models.Checkpoint{
		Envelope: models.Envelope{ID: id},
		EventID:  eventID,
		CpID:     cpID,
		CpCode:   code,
	}
	cp.Touch(time.Now())
	return mustJSON(t, cp)
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}
