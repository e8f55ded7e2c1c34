package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iudanet/woodtime/internal/server/handlers"
	"github.com/iudanet/woodtime/pkg/api"
)

var (
	errMissingToken = errors.New("missing token")
	errTokenFormat  = errors.New("invalid token format")
)

// bearerToken extracts the token of an "Authorization: Bearer <token>" header
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", errTokenFormat
	}
	return token, nil
}

// AuthMiddleware пропускает только запросы с действующим access токеном и
// кладет пользователя в контекст. Отказ отдается ошибкой GraphQL с кодом
// UNAUTHENTICATED: по нему клиент останавливает репликацию и просит войти
func AuthMiddleware(logger *slog.Logger, jwtConfig handlers.JWTConfig) func(http.Handler) http.Handler {
	reject := func(w http.ResponseWriter, message string) {
		handlers.WriteGraphQLError(w, http.StatusUnauthorized, api.CodeUnauthenticated, message)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err != nil {
				logger.Warn("Request without usable credentials", "path", r.URL.Path, "error", err)
				reject(w, err.Error())
				return
			}

			claims, err := handlers.ValidateAccessToken(jwtConfig, token)
			if err != nil {
				if errors.Is(err, jwt.ErrTokenExpired) {
					logger.Debug("Expired access token", "path", r.URL.Path)
				} else {
					logger.Warn("Rejected access token", "path", r.URL.Path, "error", err)
				}
				reject(w, "invalid or expired token")
				return
			}

			ctx := handlers.WithUser(r.Context(), claims.UserID(), claims.Username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
