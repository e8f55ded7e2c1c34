package storage

import (
	"context"

	"github.com/iudanet/woodtime/internal/models"
)

// UserStorage defines interface for account persistence.
// Accounts are published to clients as the read-only users collection.
type UserStorage interface {
	// CreateAccount creates a new account and stamps its _modified
	// Returns ErrUserAlreadyExists if username is taken
	CreateAccount(ctx context.Context, username, passwordHash string) (*models.Account, error)

	// GetAccountByUsername retrieves account by username
	// Returns ErrUserNotFound if account doesn't exist
	GetAccountByUsername(ctx context.Context, username string) (*models.Account, error)

	// GetAccountByID retrieves account by ID
	// Returns ErrUserNotFound if account doesn't exist
	GetAccountByID(ctx context.Context, id string) (*models.Account, error)
}
