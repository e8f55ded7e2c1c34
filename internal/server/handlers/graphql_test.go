package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/woodtime/internal/models"
	"github.com/iudanet/woodtime/internal/server/storage"
	"github.com/iudanet/woodtime/pkg/api"
)

func graphqlRequest(t *testing.T, h http.Handler, userID string, req any) (*httptest.ResponseRecorder, api.GraphQLResponse) {
	t.Helper()

	var body bytes.Buffer
	if s, ok := req.(string); ok {
		body.WriteString(s)
	} else {
		require.NoError(t, json.NewEncoder(&body).Encode(req))
	}

	r := httptest.NewRequest(http.MethodPost, "/graphql", &body)
	if userID != "" {
		r = r.WithContext(WithUser(r.Context(), userID, "user"+userID))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	var resp api.GraphQLResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w, resp
}

func pullRequest(collection string, limit int, minUpdatedAt time.Time) api.GraphQLRequest {
	return api.GraphQLRequest{
		Query:         api.PullQuery(collection),
		OperationName: api.PullOperation(collection),
		Variables: map[string]json.RawMessage{
			"limit":        mustRaw(limit),
			"minUpdatedAt": mustRaw(minUpdatedAt.UTC().Format(api.DateTimeLayout)),
		},
	}
}

func pushRequest(collection string, docs ...string) api.GraphQLRequest {
	raw := make([]json.RawMessage, len(docs))
	for i, d := range docs {
		raw[i] = json.RawMessage(d)
	}
	return api.GraphQLRequest{
		Query: api.PushQuery(collection),
		Variables: map[string]json.RawMessage{
			api.PushVariable(collection): mustRaw(raw),
		},
	}
}

func mustRaw(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func TestGraphQLHandler_Pull(t *testing.T) {
	data := &storage.DataStorageMock{
		PullFunc: func(ctx context.Context, userID, collection string, since int64, limit int) (*storage.PullBatch, error) {
			return &storage.PullBatch{
				Documents:    []json.RawMessage{json.RawMessage(`{"id":"1","_modified":1700000000123}`)},
				LastModified: 1700000000123,
			}, nil
		},
	}
	h := NewGraphQLHandler(setupTestLogger(), data, newNotifierMock())

	since := time.UnixMilli(1700000000000)
	w, resp := graphqlRequest(t, h, "42", pullRequest(models.CollectionEvents, 50, since))

	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, resp.Errors)

	var result api.PullResult
	require.NoError(t, json.Unmarshal(resp.Data["pullEvents"], &result))
	assert.Len(t, result.Documents, 1)
	assert.Equal(t, int64(1700000000123), result.Checkpoint.LastModified)

	calls := data.PullCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "42", calls[0].UserID)
	assert.Equal(t, models.CollectionEvents, calls[0].Collection)
	assert.Equal(t, int64(1700000000000), calls[0].Since)
	assert.Equal(t, 50, calls[0].Limit)
}

func TestGraphQLHandler_PullByFirstField(t *testing.T) {
	data := &storage.DataStorageMock{
		PullFunc: func(ctx context.Context, userID, collection string, since int64, limit int) (*storage.PullBatch, error) {
			return &storage.PullBatch{Documents: []json.RawMessage{}}, nil
		},
	}
	h := NewGraphQLHandler(setupTestLogger(), data, newNotifierMock())

	req := pullRequest(models.CollectionUsers, 10, time.UnixMilli(0))
	req.OperationName = ""
	w, resp := graphqlRequest(t, h, "1", req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, resp.Data, "pullUsers")
	require.Len(t, data.PullCalls(), 1)
	assert.Equal(t, int64(0), data.PullCalls()[0].Since)
}

func TestGraphQLHandler_Push(t *testing.T) {
	data := &storage.DataStorageMock{
		PushFunc: func(ctx context.Context, userID, collection string, docs []json.RawMessage) (*storage.PushOutcome, error) {
			// второй документ отклонен
			return &storage.PushOutcome{
				Modified: map[string]int64{
					models.CollectionEvents:       1700000000500,
					models.CollectionParticipants: 1700000000501,
				},
				Documents: docs[:1],
			}, nil
		},
	}
	notifier := newNotifierMock()
	h := NewGraphQLHandler(setupTestLogger(), data, notifier)

	w, resp := graphqlRequest(t, h, "42", pushRequest(models.CollectionEvents,
		`{"id":"-1","name":"Night sprint"}`,
		`{"id":"99","name":"Foreign"}`))

	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, resp.Errors)

	var written []json.RawMessage
	require.NoError(t, json.Unmarshal(resp.Data["pushEvents"], &written))
	assert.Len(t, written, 1)

	require.Len(t, data.PushCalls(), 1)
	assert.Len(t, data.PushCalls()[0].Docs, 2)

	published := map[string]int64{}
	for _, c := range notifier.PublishCalls() {
		published[c.N.Collection] = c.N.LastModified
	}
	assert.Equal(t, map[string]int64{
		models.CollectionEvents:       1700000000500,
		models.CollectionParticipants: 1700000000501,
	}, published)
}

func TestGraphQLHandler_PushNothingWritten(t *testing.T) {
	data := &storage.DataStorageMock{
		PushFunc: func(ctx context.Context, userID, collection string, docs []json.RawMessage) (*storage.PushOutcome, error) {
			return &storage.PushOutcome{Modified: map[string]int64{}, Documents: []json.RawMessage{}}, nil
		},
	}
	notifier := newNotifierMock()
	h := NewGraphQLHandler(setupTestLogger(), data, notifier)

	w, _ := graphqlRequest(t, h, "42", pushRequest(models.CollectionCheckpoints, `{"id":"5"}`))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, notifier.PublishCalls())
}

func TestGraphQLHandler_Errors(t *testing.T) {
	failing := func(err error) *storage.DataStorageMock {
		return &storage.DataStorageMock{
			PullFunc: func(ctx context.Context, userID, collection string, since int64, limit int) (*storage.PullBatch, error) {
				return nil, err
			},
			PushFunc: func(ctx context.Context, userID, collection string, docs []json.RawMessage) (*storage.PushOutcome, error) {
				return nil, err
			},
		}
	}
	okStorage := failing(nil)
	okStorage.PullFunc = func(ctx context.Context, userID, collection string, since int64, limit int) (*storage.PullBatch, error) {
		return &storage.PullBatch{}, nil
	}

	validPull := pullRequest(models.CollectionEvents, 10, time.UnixMilli(0))

	badLimit := pullRequest(models.CollectionEvents, MaxPullLimit+1, time.UnixMilli(0))
	zeroLimit := pullRequest(models.CollectionEvents, 0, time.UnixMilli(0))

	badDate := pullRequest(models.CollectionEvents, 10, time.UnixMilli(0))
	badDate.Variables["minUpdatedAt"] = mustRaw("yesterday")

	missingVar := pullRequest(models.CollectionEvents, 10, time.UnixMilli(0))
	delete(missingVar.Variables, "limit")

	pushUsers := api.GraphQLRequest{
		Query:     "mutation { pushUsers(users: []) }",
		Variables: map[string]json.RawMessage{"users": mustRaw([]any{})},
	}

	tests := []struct {
		data       storage.DataStorage
		req        any
		name       string
		userID     string
		wantCode   string
		wantStatus int
	}{
		{
			name:       "no user in context",
			data:       okStorage,
			req:        validPull,
			wantStatus: http.StatusUnauthorized,
			wantCode:   api.CodeUnauthenticated,
		},
		{
			name:       "invalid body",
			data:       okStorage,
			req:        "{",
			userID:     "1",
			wantStatus: http.StatusBadRequest,
			wantCode:   api.CodeBadUserInput,
		},
		{
			name:       "unknown operation",
			data:       okStorage,
			req:        api.GraphQLRequest{Query: "query { pullRunners { documents } }"},
			userID:     "1",
			wantStatus: http.StatusBadRequest,
			wantCode:   api.CodeBadUserInput,
		},
		{
			name:       "limit above maximum",
			data:       okStorage,
			req:        badLimit,
			userID:     "1",
			wantStatus: http.StatusBadRequest,
			wantCode:   api.CodeBadUserInput,
		},
		{
			name:       "zero limit",
			data:       okStorage,
			req:        zeroLimit,
			userID:     "1",
			wantStatus: http.StatusBadRequest,
			wantCode:   api.CodeBadUserInput,
		},
		{
			name:       "invalid date",
			data:       okStorage,
			req:        badDate,
			userID:     "1",
			wantStatus: http.StatusBadRequest,
			wantCode:   api.CodeBadUserInput,
		},
		{
			name:       "missing variable",
			data:       okStorage,
			req:        missingVar,
			userID:     "1",
			wantStatus: http.StatusBadRequest,
			wantCode:   api.CodeBadUserInput,
		},
		{
			name:       "push to read-only collection",
			data:       okStorage,
			req:        pushUsers,
			userID:     "1",
			wantStatus: http.StatusBadRequest,
			wantCode:   api.CodeBadUserInput,
		},
		{
			name:       "account deleted",
			data:       failing(storage.ErrUserNotFound),
			req:        validPull,
			userID:     "1",
			wantStatus: http.StatusUnauthorized,
			wantCode:   api.CodeUnauthenticated,
		},
		{
			name:       "storage failure",
			data:       failing(errors.New("disk I/O error")),
			req:        pushRequest(models.CollectionEvents, `{"id":"-1"}`),
			userID:     "1",
			wantStatus: http.StatusInternalServerError,
			wantCode:   api.CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := newNotifierMock()
			h := NewGraphQLHandler(setupTestLogger(), tt.data, notifier)

			w, resp := graphqlRequest(t, h, tt.userID, tt.req)

			assert.Equal(t, tt.wantStatus, w.Code)
			require.Len(t, resp.Errors, 1)
			assert.Equal(t, tt.wantCode, resp.Errors[0].Extensions.Code)
			assert.NotEmpty(t, resp.Errors[0].Message)
			assert.Empty(t, resp.Data)
			assert.Empty(t, notifier.PublishCalls())
		})
	}
}
