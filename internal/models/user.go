package models

import "time"

// Account is the server-side record behind a User document.
type Account struct {
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"` // bcrypt
	Modified     int64     `json:"_modified"`
}

// Document returns the replicated view of the account.
func (a *Account) Document() *User {
	return &User{
		Envelope: Envelope{
			CreatedAt: a.CreatedAt,
			UpdatedAt: a.UpdatedAt,
			ID:        a.ID,
			Modified:  a.Modified,
		},
		Username: a.Username,
	}
}
