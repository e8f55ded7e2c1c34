package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpClient "github.com/iudanet/woodtime/internal/client/api"
	"github.com/iudanet/woodtime/internal/client/auth"
	"github.com/iudanet/woodtime/internal/client/localdb"
	"github.com/iudanet/woodtime/internal/client/queue"
	"github.com/iudanet/woodtime/internal/client/replication"
	"github.com/iudanet/woodtime/internal/client/storage"
	"github.com/iudanet/woodtime/internal/client/storage/boltdb"
	"github.com/iudanet/woodtime/internal/models"
	"github.com/iudanet/woodtime/internal/server/handlers"
	"github.com/iudanet/woodtime/internal/server/storage/sqlite"
	"github.com/iudanet/woodtime/pkg/api"
)

// setupTestLogger creates a logger for testing
func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	logger := setupTestLogger()

	store, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "server.db"), logger)
	require.NoError(t, err)

	srv := New(logger, store, Options{
		Version: "test",
		JWT: handlers.JWTConfig{
			Secret:         []byte("test-secret-key-for-replication-tests"),
			AccessTokenTTL: time.Hour,
		},
		AuthRateLimit: 100,
	})
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		// hub закрывает websocket соединения, иначе ts.Close будет ждать
		srv.Close()
		ts.Close()
		_ = store.Close()
	})
	return srv, ts
}

// testClient is one device: its own local database, queue and session
type testClient struct {
	store   *boltdb.Storage
	db      *localdb.Database
	queue   *queue.Queue
	manager *replication.Manager
	userID  string
}

func newTestClient(t *testing.T, serverURL, username string, retry time.Duration) *testClient {
	t.Helper()
	ctx := context.Background()
	logger := setupTestLogger()

	store, err := boltdb.New(ctx, filepath.Join(t.TempDir(), username+".db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	apiClient := httpClient.NewClient(serverURL)
	authService := auth.NewService(apiClient, store)
	apiClient.SetTokenSource(authService.Token)

	userID, err := authService.Register(ctx, username, "orienteering")
	require.NoError(t, err)
	session, err := authService.Login(ctx, username, "orienteering")
	require.NoError(t, err)
	require.Equal(t, userID, session.UserID)

	db, err := localdb.Open(ctx, store, logger)
	require.NoError(t, err)

	q := queue.New(store, db.Checkpoints(), logger)
	require.NoError(t, q.Restore(ctx))

	return &testClient{
		store:   store,
		db:      db,
		queue:   q,
		manager: replication.NewManager(apiClient, db, store, replication.Config{RetryInterval: retry}, logger),
		userID:  userID,
	}
}

func (c *testClient) sync(t *testing.T) *replication.SyncResult {
	t.Helper()
	res, err := c.manager.SyncOnce(context.Background())
	require.NoError(t, err)
	return res
}

func participantsOf(t *testing.T, c *testClient, eventID string) []string {
	t.Helper()
	docs, err := c.db.Participants().Find(context.Background(), localdb.Query[*models.Participant]{
		Selector: func(p *models.Participant) bool { return p.EventID == eventID },
	})
	require.NoError(t, err)

	ids := make([]string, 0, len(docs))
	for _, p := range docs {
		ids = append(ids, p.UserID)
	}
	return ids
}

func TestServer_Health(t *testing.T) {
	_, ts := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "test", body["version"])
}

func TestServer_Replication(t *testing.T) {
	_, ts := setupTestServer(t)
	ctx := context.Background()

	anna := newTestClient(t, ts.URL, "anna_k", time.Second)
	boris := newTestClient(t, ts.URL, "boris_m", time.Second)

	// anna создает событие и отмечает КП офлайн
	event := &models.Event{Name: "Night sprint", Type: models.EventTypeClassic, CheckpointCount: 10}
	require.NoError(t, anna.db.Events().Insert(ctx, event))
	tempID := event.ID
	require.True(t, models.IsTemporaryID(tempID))

	require.NoError(t, anna.queue.Add(ctx, tempID, queue.Checkpoint{CpID: 1, CpCode: "A31"}))
	processed, err := anna.queue.ProcessNext(ctx)
	require.True(t, processed)
	require.NoError(t, err)

	res := anna.sync(t)
	assert.Equal(t, 2, res.Pushed)
	assert.Equal(t, 2, res.Confirmed)
	assert.Equal(t, 2, res.Remapped)
	assert.Zero(t, res.Unconfirmed)

	eventID, err := anna.db.ResolveID(ctx, models.CollectionEvents, tempID)
	require.NoError(t, err)
	require.False(t, models.IsTemporaryID(eventID))

	_, err = anna.db.Events().Get(ctx, tempID)
	assert.True(t, localdb.IsNotFound(err), "temporary id is gone after push")

	cps, err := anna.db.Checkpoints().Find(ctx, localdb.Query[*models.Checkpoint]{})
	require.NoError(t, err)
	require.Len(t, cps, 1)
	assert.Equal(t, eventID, cps[0].EventID)
	assert.False(t, models.IsTemporaryID(cps[0].ID))

	// создателя события участником делает сервер
	assert.Equal(t, []string{anna.userID}, participantsOf(t, anna, eventID))

	// boris не участник: список участников ему не виден, его КП сервер не принимает
	boris.sync(t)
	assert.Empty(t, participantsOf(t, boris, eventID))

	require.NoError(t, boris.db.Checkpoints().Insert(ctx, &models.Checkpoint{EventID: eventID, CpID: 2, CpCode: "B12"}))
	res = boris.sync(t)
	assert.Equal(t, 1, res.Unconfirmed)
	pending, err := boris.db.PendingCount(ctx, models.CollectionCheckpoints)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	// anna приглашает boris
	user, err := anna.db.Users().FindOne(ctx, func(u *models.User) bool { return u.Username == "boris_m" })
	require.NoError(t, err)
	assert.Equal(t, boris.userID, user.ID)
	require.NoError(t, anna.db.Participants().Insert(ctx, &models.Participant{EventID: eventID, UserID: user.ID}))
	res = anna.sync(t)
	assert.Equal(t, 1, res.Confirmed)

	// отложенная КП boris уходит повторно и принимается
	res = boris.sync(t)
	assert.Equal(t, 1, res.Confirmed)
	assert.Zero(t, res.Unconfirmed)
	assert.ElementsMatch(t, []string{anna.userID, boris.userID}, participantsOf(t, boris, eventID))

	anna.sync(t)
	cps, err = anna.db.Checkpoints().Find(ctx, localdb.Query[*models.Checkpoint]{
		Sort: func(a, b *models.Checkpoint) int { return a.CpID - b.CpID },
	})
	require.NoError(t, err)
	require.Len(t, cps, 2)
	assert.Equal(t, "A31", cps[0].CpCode)
	assert.Equal(t, "B12", cps[1].CpCode)
}

func TestServer_LiveReplication(t *testing.T) {
	srv, ts := setupTestServer(t)
	ctx := context.Background()

	// опрос раз в минуту: изменения должны приходить по уведомлениям
	anna := newTestClient(t, ts.URL, "anna_k", time.Minute)
	boris := newTestClient(t, ts.URL, "boris_m", time.Second)

	require.NoError(t, anna.manager.Start(ctx))
	t.Cleanup(func() { _ = anna.manager.Stop() })
	require.Eventually(t, func() bool { return srv.Hub().Count() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, boris.db.Events().Insert(ctx, &models.Event{Name: "Rogaine", Type: models.EventTypeScore}))
	boris.sync(t)

	require.Eventually(t, func() bool {
		events, err := anna.db.Events().Find(ctx, localdb.Query[*models.Event]{})
		return err == nil && len(events) == 1 && events[0].Name == "Rogaine"
	}, 5*time.Second, 20*time.Millisecond)

	// локальная запись отправляется без ожидания интервала
	event := &models.Event{Name: "Sprint", Type: models.EventTypeClassic}
	require.NoError(t, anna.db.Events().Insert(ctx, event))
	require.Eventually(t, func() bool {
		n, err := anna.db.PendingCount(ctx, models.CollectionEvents)
		return err == nil && n == 0
	}, 5*time.Second, 20*time.Millisecond)

	canonical, err := anna.db.ResolveID(ctx, models.CollectionEvents, event.ID)
	require.NoError(t, err)
	assert.False(t, models.IsTemporaryID(canonical))
}

func TestServer_RejectedToken(t *testing.T) {
	_, ts := setupTestServer(t)
	ctx := context.Background()

	anna := newTestClient(t, ts.URL, "anna_k", time.Second)
	require.NoError(t, anna.store.SaveAuth(ctx, &storage.AuthData{
		Username:    "anna_k",
		UserID:      anna.userID,
		AccessToken: "forged.token.value",
		ExpiresAt:   time.Now().Add(time.Hour).Unix(),
	}))

	var notified error
	anna.manager.OnUnauthenticated(func(err error) { notified = err })

	_, err := anna.manager.SyncOnce(ctx)
	require.Error(t, err)
	assert.True(t, httpClient.IsUnauthenticated(err))
	assert.True(t, httpClient.IsUnauthenticated(notified))
}

func TestServer_RegisterDuplicate(t *testing.T) {
	_, ts := setupTestServer(t)
	ctx := context.Background()

	client := httpClient.NewClient(ts.URL)
	_, err := client.Register(ctx, api.RegisterRequest{Username: "anna_k", Password: "orienteering"})
	require.NoError(t, err)

	_, err = client.Register(ctx, api.RegisterRequest{Username: "anna_k", Password: "orienteering"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
}
