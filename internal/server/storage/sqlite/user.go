package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/iudanet/woodtime/internal/models"
	"github.com/iudanet/woodtime/internal/server/storage"
)

// CreateAccount creates a new account in the storage
func (s *Storage) CreateAccount(ctx context.Context, username, passwordHash string) (*models.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UTC().Truncate(time.Millisecond)
	modified, err := stamp(ctx, tx, "accounts", now)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (username, password_hash, created_at, updated_at, _modified)
		VALUES (?, ?, ?, ?, ?)
	`, username, passwordHash, now.UnixMilli(), now.UnixMilli(), modified)
	if err != nil {
		// единственное ограничение, которое может нарушить вставка, UNIQUE(username)
		var sqliteErr *sqlitedrv.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
			return nil, storage.ErrUserAlreadyExists
		}
		return nil, fmt.Errorf("failed to insert account: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get account id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit account: %w", err)
	}

	return &models.Account{
		ID:           strconv.FormatInt(id, 10),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
		Modified:     modified,
	}, nil
}

// GetAccountByUsername retrieves account by username
func (s *Storage) GetAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	return s.getAccount(ctx, "username = ?", username)
}

// GetAccountByID retrieves account by ID
func (s *Storage) GetAccountByID(ctx context.Context, id string) (*models.Account, error) {
	n, err := models.ParseID(id)
	if err != nil || n < 0 {
		return nil, storage.ErrUserNotFound
	}
	return s.getAccount(ctx, "id = ?", n)
}

func (s *Storage) getAccount(ctx context.Context, where string, arg any) (*models.Account, error) {
	query := `
		SELECT id, username, password_hash, created_at, updated_at, _modified
		FROM accounts
		WHERE ` + where

	account := &models.Account{}
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&account.ID,
		&account.Username,
		&account.PasswordHash,
		&createdAt,
		&updatedAt,
		&account.Modified,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	account.CreatedAt = unixMilliToTime(createdAt)
	account.UpdatedAt = unixMilliToTime(updatedAt)

	return account, nil
}

func unixMilliToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
