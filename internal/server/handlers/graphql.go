package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/iudanet/woodtime/internal/models"
	"github.com/iudanet/woodtime/internal/server/storage"
	"github.com/iudanet/woodtime/pkg/api"
)

// Ограничения запросов /graphql
const (
	MaxPullLimit     = 1000
	maxGraphQLBodyMB = 10
)

// GraphQLHandler serves the pull and push operations of every collection.
// It resolves the operation by name and does not execute arbitrary queries.
type GraphQLHandler struct {
	logger   *slog.Logger
	data     storage.DataStorage
	notifier Notifier
}

// NewGraphQLHandler создает handler для POST /graphql
func NewGraphQLHandler(logger *slog.Logger, data storage.DataStorage, notifier Notifier) *GraphQLHandler {
	return &GraphQLHandler{
		logger:   logger,
		data:     data,
		notifier: notifier,
	}
}

// ServeHTTP обрабатывает POST /graphql
func (h *GraphQLHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Получаем user_id из контекста (установлен AuthMiddleware)
	userID, ok := GetUserID(ctx)
	if !ok {
		h.logger.Error("User ID not found in context")
		WriteGraphQLError(w, http.StatusUnauthorized, api.CodeUnauthenticated, "authentication required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxGraphQLBodyMB<<20)
	var req api.GraphQLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteGraphQLError(w, http.StatusBadRequest, api.CodeBadUserInput, "invalid request body")
		return
	}

	op, collection, err := api.ParseOperation(req)
	if err != nil {
		WriteGraphQLError(w, http.StatusBadRequest, api.CodeBadUserInput, err.Error())
		return
	}

	if api.IsPull(op) {
		h.pull(w, r, userID, op, collection, req.Variables)
		return
	}
	h.push(w, r, userID, op, collection, req.Variables)
}

func (h *GraphQLHandler) pull(w http.ResponseWriter, r *http.Request, userID, op, collection string, vars map[string]json.RawMessage) {
	ctx := r.Context()

	var args api.PullVariables
	if err := decodeVariable(vars, "limit", &args.Limit); err != nil {
		WriteGraphQLError(w, http.StatusBadRequest, api.CodeBadUserInput, err.Error())
		return
	}
	if err := decodeVariable(vars, "minUpdatedAt", &args.MinUpdatedAt); err != nil {
		WriteGraphQLError(w, http.StatusBadRequest, api.CodeBadUserInput, err.Error())
		return
	}
	if args.Limit <= 0 || args.Limit > MaxPullLimit {
		WriteGraphQLError(w, http.StatusBadRequest, api.CodeBadUserInput,
			fmt.Sprintf("limit must be between 1 and %d", MaxPullLimit))
		return
	}
	minUpdatedAt, err := time.Parse(time.RFC3339Nano, args.MinUpdatedAt)
	if err != nil {
		WriteGraphQLError(w, http.StatusBadRequest, api.CodeBadUserInput, "minUpdatedAt must be an ISO-8601 date-time")
		return
	}
	since := models.CursorFromTime(minUpdatedAt).LastModified

	batch, err := h.data.Pull(ctx, userID, collection, since, args.Limit)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}

	h.logger.DebugContext(ctx, "Pull served",
		"collection", collection,
		"user_id", userID,
		"since", since,
		"count", len(batch.Documents),
		"last_modified", batch.LastModified)

	h.writeData(w, op, api.PullResult{
		Documents:  batch.Documents,
		Checkpoint: api.PullCheckpoint{LastModified: batch.LastModified},
	})
}

func (h *GraphQLHandler) push(w http.ResponseWriter, r *http.Request, userID, op, collection string, vars map[string]json.RawMessage) {
	ctx := r.Context()

	name := api.PushVariable(collection)
	if name == "" {
		WriteGraphQLError(w, http.StatusBadRequest, api.CodeBadUserInput, collection+" is read-only")
		return
	}

	var docs []json.RawMessage
	if err := decodeVariable(vars, name, &docs); err != nil {
		WriteGraphQLError(w, http.StatusBadRequest, api.CodeBadUserInput, err.Error())
		return
	}

	out, err := h.data.Push(ctx, userID, collection, docs)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}

	if omitted := len(docs) - len(out.Documents); omitted > 0 {
		h.logger.InfoContext(ctx, "Push omitted documents",
			"collection", collection,
			"user_id", userID,
			"omitted", omitted)
	}

	for coll, lastModified := range out.Modified {
		h.notifier.Publish(api.ChangeNotification{Collection: coll, LastModified: lastModified})
	}

	h.writeData(w, op, out.Documents)
}

// fail переводит ошибку хранилища в ошибку GraphQL
func (h *GraphQLHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, storage.ErrUserNotFound):
		// токен валиден, но аккаунта больше нет
		WriteGraphQLError(w, http.StatusUnauthorized, api.CodeUnauthenticated, "account not found")
	case errors.Is(err, storage.ErrReadOnlyCollection), errors.Is(err, storage.ErrUnknownCollection):
		WriteGraphQLError(w, http.StatusBadRequest, api.CodeBadUserInput, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "GraphQL operation failed", "operation", op, "error", err)
		WriteGraphQLError(w, http.StatusInternalServerError, api.CodeInternal, "internal server error")
	}
}

func (h *GraphQLHandler) writeData(w http.ResponseWriter, op string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("failed to encode GraphQL result", "operation", op, "error", err)
		WriteGraphQLError(w, http.StatusInternalServerError, api.CodeInternal, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(api.GraphQLResponse{Data: map[string]json.RawMessage{op: data}}); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

// WriteGraphQLError пишет ответ {"errors":[{message, extensions.code}]}
func WriteGraphQLError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(api.GraphQLResponse{
		Errors: []api.GraphQLError{{
			Message:    message,
			Extensions: api.ErrorExtensions{Code: code},
		}},
	})
}

func decodeVariable(vars map[string]json.RawMessage, name string, v any) error {
	raw, ok := vars[name]
	if !ok {
		return fmt.Errorf("variable $%s is required", name)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("variable $%s: %w", name, err)
	}
	return nil
}
