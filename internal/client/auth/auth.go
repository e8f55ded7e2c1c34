// Package auth manages the client session: registration, login and the
// access token replication runs with.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/iudanet/woodtime/internal/client/storage"
	"github.com/iudanet/woodtime/internal/models"
	"github.com/iudanet/woodtime/pkg/api"
)

// MinPasswordLength минимальная длина пароля, как на сервере
const MinPasswordLength = 8

// ErrNotAuthenticated is returned when there is no usable session
var ErrNotAuthenticated = errors.New("not authenticated")

//go:generate moq -out apiclient_mock.go . APIClient

// APIClient is the part of the server API the session needs
type APIClient interface {
	Register(ctx context.Context, req api.RegisterRequest) (*api.RegisterResponse, error)
	Login(ctx context.Context, req api.LoginRequest) (*api.TokenResponse, error)
}

// Service предоставляет функции авторизации и хранит сессию
type Service struct {
	client APIClient
	store  storage.AuthStorage
	now    func() time.Time
}

// NewService создает новый сервис авторизации
func NewService(client APIClient, store storage.AuthStorage) *Service {
	return &Service{
		client: client,
		store:  store,
		now:    time.Now,
	}
}

func validateCredentials(username, password string) error {
	if err := models.ValidateUsername(username); err != nil {
		return fmt.Errorf("invalid username: %w", err)
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return fmt.Errorf("invalid password: must be at least %d characters", MinPasswordLength)
	}
	return nil
}

// Register регистрирует нового пользователя и возвращает его id.
// Сессия не создается, нужен Login
func (s *Service) Register(ctx context.Context, username, password string) (string, error) {
	if err := validateCredentials(username, password); err != nil {
		return "", err
	}

	resp, err := s.client.Register(ctx, api.RegisterRequest{Username: username, Password: password})
	if err != nil {
		return "", fmt.Errorf("registration failed: %w", err)
	}
	return resp.UserID, nil
}

// Login выполняет аутентификацию и сохраняет сессию
func (s *Service) Login(ctx context.Context, username, password string) (*storage.AuthData, error) {
	if err := validateCredentials(username, password); err != nil {
		return nil, err
	}

	resp, err := s.client.Login(ctx, api.LoginRequest{Username: username, Password: password})
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}

	session := &storage.AuthData{
		Username:    username,
		UserID:      resp.UserID,
		AccessToken: resp.AccessToken,
		ExpiresAt:   s.now().Unix() + resp.ExpiresIn,
	}
	if err := s.store.SaveAuth(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return session, nil
}

// Logout удаляет локальную сессию. Локальные документы и очередь остаются
func (s *Service) Logout(ctx context.Context) error {
	err := s.store.DeleteAuth(ctx)
	if errors.Is(err, storage.ErrAuthNotFound) {
		return ErrNotAuthenticated
	}
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Session returns the stored session, expired or not.
func (s *Service) Session(ctx context.Context) (*storage.AuthData, error) {
	session, err := s.store.GetAuth(ctx)
	if errors.Is(err, storage.ErrAuthNotFound) {
		return nil, ErrNotAuthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return session, nil
}

// Expired reports whether the session token is past its expiry
func (s *Service) Expired(session *storage.AuthData) bool {
	return !s.now().Before(time.Unix(session.ExpiresAt, 0))
}

// Token returns the access token of a live session. It has the shape of
// api.TokenSource.
func (s *Service) Token(ctx context.Context) (string, error) {
	session, err := s.Session(ctx)
	if err != nil {
		return "", err
	}
	if s.Expired(session) {
		return "", fmt.Errorf("%w: session expired", ErrNotAuthenticated)
	}
	return session.AccessToken, nil
}
