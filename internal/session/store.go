package session

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no session matches a token.
	ErrNotFound = errors.New("session: not found")

	// ErrExpired is returned for sessions past their expiry.
	ErrExpired = errors.New("session: expired")
)

// Store persists sessions. Implementations are safe for concurrent use.
type Store interface {
	// Create persists a new session.
	Create(ctx context.Context, s *Session) error

	// Get retrieves a session by its cookie token.
	Get(ctx context.Context, token string) (*Session, error)

	// Update saves changes to an existing session, rekeying when the
	// token was rotated.
	Update(ctx context.Context, s *Session) error

	// Delete removes a session by ID.
	Delete(ctx context.Context, id string) error

	// DeleteByAccountID removes every session bound to an account.
	DeleteByAccountID(ctx context.Context, accountID string) error
}
