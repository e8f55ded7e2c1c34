package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/woodtime/internal/server/handlers"
	"github.com/iudanet/woodtime/pkg/api"
)

// setupTestLogger creates a logger for testing
func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

var testJWT = handlers.JWTConfig{
	Secret:         []byte("test-secret-key"),
	AccessTokenTTL: 15 * time.Minute,
}

func signClaims(t *testing.T, secret []byte, claims handlers.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return token
}

func TestAuthMiddleware_Success(t *testing.T) {
	token, _, err := handlers.GenerateAccessToken(testJWT, "17", "anna_k")
	require.NoError(t, err)

	var called bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		userID, ok := handlers.GetUserID(r.Context())
		require.True(t, ok)
		assert.Equal(t, "17", userID)

		username, ok := handlers.GetUsername(r.Context())
		require.True(t, ok)
		assert.Equal(t, "anna_k", username)
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodPost, "/graphql", nil)
	req.Header.Set("Authorization", "bearer "+token)
	w := httptest.NewRecorder()
	AuthMiddleware(setupTestLogger(), testJWT)(next).ServeHTTP(w, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	now := time.Now()
	expired, _, err := handlers.GenerateAccessToken(handlers.JWTConfig{
		Secret:         testJWT.Secret,
		AccessTokenTTL: -time.Minute,
	}, "17", "anna_k")
	require.NoError(t, err)

	otherSecret, _, err := handlers.GenerateAccessToken(handlers.JWTConfig{
		Secret:         []byte("another-secret"),
		AccessTokenTTL: time.Minute,
	}, "17", "anna_k")
	require.NoError(t, err)

	tests := []struct {
		name    string
		header  string
		wantMsg string
	}{
		{name: "no header", header: "", wantMsg: "missing token"},
		{name: "no scheme", header: "token123", wantMsg: "invalid token format"},
		{name: "basic scheme", header: "Basic dXNlcjpwYXNz", wantMsg: "invalid token format"},
		{name: "bearer without token", header: "Bearer ", wantMsg: "invalid token format"},
		{name: "malformed", header: "Bearer invalid.token.here", wantMsg: "invalid or expired token"},
		{name: "expired", header: "Bearer " + expired, wantMsg: "invalid or expired token"},
		{name: "wrong secret", header: "Bearer " + otherSecret, wantMsg: "invalid or expired token"},
		{
			name: "foreign issuer",
			header: "Bearer " + signClaims(t, testJWT.Secret, handlers.Claims{
				RegisteredClaims: jwt.RegisteredClaims{
					Subject:   "17",
					Issuer:    "someone-else",
					ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
				},
			}),
			wantMsg: "invalid or expired token",
		},
		{
			name: "no expiry",
			header: "Bearer " + signClaims(t, testJWT.Secret, handlers.Claims{
				RegisteredClaims: jwt.RegisteredClaims{Subject: "17", Issuer: handlers.TokenIssuer},
			}),
			wantMsg: "invalid or expired token",
		},
		{
			name: "no user id",
			header: "Bearer " + signClaims(t, testJWT.Secret, handlers.Claims{
				RegisteredClaims: jwt.RegisteredClaims{
					Issuer:    handlers.TokenIssuer,
					ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
				},
			}),
			wantMsg: "invalid or expired token",
		},
	}

	handler := AuthMiddleware(setupTestLogger(), testJWT)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be called")
	}))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/graphql", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var resp api.GraphQLResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			require.Len(t, resp.Errors, 1)
			assert.Equal(t, api.CodeUnauthenticated, resp.Errors[0].Extensions.Code)
			assert.Equal(t, tt.wantMsg, resp.Errors[0].Message)
		})
	}
}
