package auth

import (
	"context"
	"errors"
)

// ErrUserNotFound is returned when no account matches.
var ErrUserNotFound = errors.New("user not found")

// UserStore provides credential lookup for login.
// This interface is defined in the domain to avoid circular imports.
// Implementations: in-memory, seeded from configuration.
type UserStore interface {
	// GetUserByEmail returns the account for a normalised email.
	// Returns ErrUserNotFound if no account matches.
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// GetUser returns the account with the given ID.
	// Returns ErrUserNotFound if no account matches.
	GetUser(ctx context.Context, id string) (*User, error)
}
