package boltdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/woodtime/internal/client/storage"
	"github.com/iudanet/woodtime/internal/models"
)

func doc(t *testing.T, fields map[string]any) []byte {
	t.Helper()
	data, err := json.Marshal(fields)
	require.NoError(t, err)
	return data
}

func field(t *testing.T, data []byte, name string) any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m[name]
}

func TestInsertDocument(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	data := doc(t, map[string]any{"id": "-1", "name": "Sprint"})
	changes, err := store.InsertDocument(ctx, models.CollectionEvents, "-1", data)
	require.NoError(t, err)
	require.Len(t, changes[models.CollectionEvents], 1)
	assert.Nil(t, changes[models.CollectionEvents][0].Before)

	_, err = store.InsertDocument(ctx, models.CollectionEvents, "-1", data)
	assert.ErrorIs(t, err, storage.ErrDocumentExists)

	_, err = store.InsertDocument(ctx, "nope", "1", data)
	assert.ErrorIs(t, err, storage.ErrUnknownCollection)

	pending, err := store.PendingDocuments(ctx, models.CollectionEvents, 0, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "-1", pending[0].ID)
}

func TestUpdateDocument(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	_, err := store.UpdateDocument(ctx, models.CollectionEvents, "5", func(b []byte) ([]byte, error) { return b, nil })
	assert.ErrorIs(t, err, storage.ErrDocumentNotFound)

	_, err = store.InsertDocument(ctx, models.CollectionEvents, "5", doc(t, map[string]any{"id": "5", "name": "a"}))
	require.NoError(t, err)
	first, err := store.PendingDocuments(ctx, models.CollectionEvents, 0, 0)
	require.NoError(t, err)

	t.Run("patch error aborts write", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := store.UpdateDocument(ctx, models.CollectionEvents, "5", func([]byte) ([]byte, error) { return nil, boom })
		assert.ErrorIs(t, err, boom)

		data, err := store.GetDocument(ctx, models.CollectionEvents, "5")
		require.NoError(t, err)
		assert.Equal(t, "a", field(t, data, "name"))
	})

	t.Run("update bumps revision", func(t *testing.T) {
		changes, err := store.UpdateDocument(ctx, models.CollectionEvents, "5", func(b []byte) ([]byte, error) {
			return setField(b, "name", "b")
		})
		require.NoError(t, err)
		change := changes[models.CollectionEvents][0]
		assert.Equal(t, "a", field(t, change.Before, "name"))
		assert.Equal(t, "b", field(t, change.After, "name"))

		pending, err := store.PendingDocuments(ctx, models.CollectionEvents, 0, 0)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Greater(t, pending[0].Revision, first[0].Revision)
	})
}

func TestPendingDocuments_OrderAndLimit(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	for _, id := range []string{"-3", "-1", "-2"} {
		_, err := store.InsertDocument(ctx, models.CollectionCheckpoints, id, doc(t, map[string]any{"id": id}))
		require.NoError(t, err)
	}

	pending, err := store.PendingDocuments(ctx, models.CollectionCheckpoints, 0, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "-3", pending[0].ID)
	assert.Equal(t, "-1", pending[1].ID)

	rest, err := store.PendingDocuments(ctx, models.CollectionCheckpoints, pending[1].Revision, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "-2", rest[0].ID)

	count, err := store.PendingCount(ctx, models.CollectionCheckpoints)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestApplyPulled(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	batch := []storage.Record{
		{ID: "1", Data: doc(t, map[string]any{"id": "1", "_modified": 100})},
		{ID: "2", Data: doc(t, map[string]any{"id": "2", "_modified": 200})},
	}

	changes, err := store.ApplyPulled(ctx, models.CollectionEvents, batch, models.Cursor{LastModified: 200})
	require.NoError(t, err)
	assert.Len(t, changes[models.CollectionEvents], 2)

	cursor, err := store.GetCursor(ctx, models.CollectionEvents)
	require.NoError(t, err)
	assert.Equal(t, int64(200), cursor.LastModified)

	t.Run("same batch twice is idempotent", func(t *testing.T) {
		changes, err := store.ApplyPulled(ctx, models.CollectionEvents, batch, models.Cursor{LastModified: 200})
		require.NoError(t, err)
		assert.Zero(t, changes.Len())

		n := 0
		require.NoError(t, store.ScanDocuments(ctx, models.CollectionEvents, func(string, []byte) error {
			n++
			return nil
		}))
		assert.Equal(t, 2, n)
	})

	t.Run("cursor never regresses", func(t *testing.T) {
		_, err := store.ApplyPulled(ctx, models.CollectionEvents, nil, models.Cursor{LastModified: 50})
		require.NoError(t, err)

		cursor, err := store.GetCursor(ctx, models.CollectionEvents)
		require.NoError(t, err)
		assert.Equal(t, int64(200), cursor.LastModified)
	})

	t.Run("pending documents are not overwritten", func(t *testing.T) {
		_, err := store.UpdateDocument(ctx, models.CollectionEvents, "1", func(b []byte) ([]byte, error) {
			return setField(b, "name", "local")
		})
		require.NoError(t, err)

		remote := []storage.Record{{ID: "1", Data: doc(t, map[string]any{"id": "1", "name": "remote", "_modified": 300})}}
		_, err = store.ApplyPulled(ctx, models.CollectionEvents, remote, models.Cursor{LastModified: 300})
		require.NoError(t, err)

		data, err := store.GetDocument(ctx, models.CollectionEvents, "1")
		require.NoError(t, err)
		assert.Equal(t, "local", field(t, data, "name"))

		cursor, err := store.GetCursor(ctx, models.CollectionEvents)
		require.NoError(t, err)
		assert.Equal(t, int64(300), cursor.LastModified)
	})
}

func TestApplyPushed_ConfirmsUpdate(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	_, err := store.InsertDocument(ctx, models.CollectionCheckpoints, "8", doc(t, map[string]any{"id": "8", "cp_code": "A"}))
	require.NoError(t, err)
	snapshot, err := store.PendingDocuments(ctx, models.CollectionCheckpoints, 0, 0)
	require.NoError(t, err)

	server := doc(t, map[string]any{"id": "8", "cp_code": "A", "_modified": 900})
	_, err = store.ApplyPushed(ctx, models.CollectionCheckpoints, []storage.PushedRecord{
		{SentID: "8", ID: "8", Data: server, Revision: snapshot[0].Revision},
	})
	require.NoError(t, err)

	count, err := store.PendingCount(ctx, models.CollectionCheckpoints)
	require.NoError(t, err)
	assert.Zero(t, count)

	data, err := store.GetDocument(ctx, models.CollectionCheckpoints, "8")
	require.NoError(t, err)
	assert.EqualValues(t, 900, field(t, data, "_modified"))
}

func TestApplyPushed_ChangedInFlightStaysPending(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	_, err := store.InsertDocument(ctx, models.CollectionCheckpoints, "8", doc(t, map[string]any{"id": "8", "cp_code": "A"}))
	require.NoError(t, err)
	snapshot, err := store.PendingDocuments(ctx, models.CollectionCheckpoints, 0, 0)
	require.NoError(t, err)

	_, err = store.UpdateDocument(ctx, models.CollectionCheckpoints, "8", func(b []byte) ([]byte, error) {
		return setField(b, "cp_code", "B")
	})
	require.NoError(t, err)

	_, err = store.ApplyPushed(ctx, models.CollectionCheckpoints, []storage.PushedRecord{
		{SentID: "8", ID: "8", Data: doc(t, map[string]any{"id": "8", "cp_code": "A"}), Revision: snapshot[0].Revision},
	})
	require.NoError(t, err)

	data, err := store.GetDocument(ctx, models.CollectionCheckpoints, "8")
	require.NoError(t, err)
	assert.Equal(t, "B", field(t, data, "cp_code"))

	count, err := store.PendingCount(ctx, models.CollectionCheckpoints)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestApplyPushed_RemapsTemporaryID(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	_, err := store.InsertDocument(ctx, models.CollectionEvents, "-77", doc(t, map[string]any{"id": "-77", "name": "Park"}))
	require.NoError(t, err)
	for i, cp := range []string{"-1", "-2"} {
		_, err := store.InsertDocument(ctx, models.CollectionCheckpoints, cp,
			doc(t, map[string]any{"id": cp, "event_id": "-77", "cp_id": i + 1}))
		require.NoError(t, err)
	}
	_, err = store.InsertDocument(ctx, models.CollectionCheckpoints, "-3",
		doc(t, map[string]any{"id": "-3", "event_id": "12", "cp_id": 9}))
	require.NoError(t, err)

	snapshot, err := store.PendingDocuments(ctx, models.CollectionEvents, 0, 0)
	require.NoError(t, err)
	require.Len(t, snapshot, 1)

	changes, err := store.ApplyPushed(ctx, models.CollectionEvents, []storage.PushedRecord{{
		SentID:   "-77",
		ID:       "41",
		Data:     doc(t, map[string]any{"id": "41", "name": "Park", "_modified": 1000}),
		Revision: snapshot[0].Revision,
	}})
	require.NoError(t, err)

	// удаление временного и вставка канонического в одном наборе изменений
	eventChanges := changes[models.CollectionEvents]
	require.Len(t, eventChanges, 2)
	assert.Equal(t, "-77", eventChanges[0].ID)
	assert.Nil(t, eventChanges[0].After)
	assert.Equal(t, "41", eventChanges[1].ID)
	assert.Len(t, changes[models.CollectionCheckpoints], 2)

	_, err = store.GetDocument(ctx, models.CollectionEvents, "-77")
	assert.ErrorIs(t, err, storage.ErrDocumentNotFound)

	data, err := store.GetDocument(ctx, models.CollectionEvents, "41")
	require.NoError(t, err)
	assert.Equal(t, "Park", field(t, data, "name"))

	for _, cp := range []string{"-1", "-2"} {
		data, err := store.GetDocument(ctx, models.CollectionCheckpoints, cp)
		require.NoError(t, err)
		assert.Equal(t, "41", field(t, data, "event_id"), fmt.Sprintf("checkpoint %s", cp))
	}
	other, err := store.GetDocument(ctx, models.CollectionCheckpoints, "-3")
	require.NoError(t, err)
	assert.Equal(t, "12", field(t, other, "event_id"))

	resolved, err := store.ResolveID(ctx, models.CollectionEvents, "-77")
	require.NoError(t, err)
	assert.Equal(t, "41", resolved)

	unknown, err := store.ResolveID(ctx, models.CollectionEvents, "-5")
	require.NoError(t, err)
	assert.Equal(t, "-5", unknown)

	eventsPending, err := store.PendingCount(ctx, models.CollectionEvents)
	require.NoError(t, err)
	assert.Zero(t, eventsPending)
}

func TestApplyPushed_RemapKeepsLocalChanges(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	_, err := store.InsertDocument(ctx, models.CollectionEvents, "-9", doc(t, map[string]any{"id": "-9", "name": "v1"}))
	require.NoError(t, err)
	snapshot, err := store.PendingDocuments(ctx, models.CollectionEvents, 0, 0)
	require.NoError(t, err)

	_, err = store.UpdateDocument(ctx, models.CollectionEvents, "-9", func(b []byte) ([]byte, error) {
		return setField(b, "name", "v2")
	})
	require.NoError(t, err)

	_, err = store.ApplyPushed(ctx, models.CollectionEvents, []storage.PushedRecord{{
		SentID: "-9", ID: "3", Data: doc(t, map[string]any{"id": "3", "name": "v1"}), Revision: snapshot[0].Revision,
	}})
	require.NoError(t, err)

	data, err := store.GetDocument(ctx, models.CollectionEvents, "3")
	require.NoError(t, err)
	assert.Equal(t, "v2", field(t, data, "name"))
	assert.Equal(t, "3", field(t, data, "id"))

	pending, err := store.PendingDocuments(ctx, models.CollectionEvents, 0, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "3", pending[0].ID)
}
