// Package store is the persistence collaborator. The pipeline consumes only
// the interfaces and the typed ValidationError; the schema behind them is
// out of scope, so the default implementation is in-memory.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

// ValidationError is the persistence validation failure: a human-readable
// message produced by a storage constraint (e.g. a uniqueness violation).
// The classifier maps it to a 400 descriptor.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Account is owned by the authentication collaborator. The pipeline never
// mutates it directly.
type Account struct {
	CreatedAt    time.Time
	ID           string
	Email        string
	Name         string
	PasswordHash string
	OTPSecret    string
	OTPEnabled   bool
	Closed       bool
}

// Project is the resource-group provisioned for every new account.
type Project struct {
	CreatedAt time.Time
	ID        string
	AccountID string
	Name      string
}

// Accounts persists accounts plus the server-side auth bookkeeping:
// active session keys, remember tokens, and reset tokens.
type Accounts interface {
	CreateAccount(ctx context.Context, a *Account) error
	AccountByID(ctx context.Context, id string) (*Account, error)
	AccountByEmail(ctx context.Context, email string) (*Account, error)
	UpdateAccount(ctx context.Context, a *Account) error

	// Active session keys. A session claiming an account is only honored
	// while its ID is in the account's active set.
	AddSessionKey(ctx context.Context, accountID, sessionID string) error
	SessionKeyValid(ctx context.Context, accountID, sessionID string) (bool, error)
	RemoveSessionKey(ctx context.Context, accountID, sessionID string) error
	RemoveOtherSessionKeys(ctx context.Context, accountID, keepSessionID string) error

	// Remember tokens. Only the hash is stored.
	SetRememberToken(ctx context.Context, accountID, tokenHash string, expiresAt time.Time) error
	RememberedAccount(ctx context.Context, tokenHash string) (string, error)
	ClearRememberToken(ctx context.Context, accountID string) error

	// Password reset tokens, single use.
	SetResetToken(ctx context.Context, accountID, tokenHash string, expiresAt time.Time) error
	ConsumeResetToken(ctx context.Context, tokenHash string) (string, error)
}

// Projects persists resource-groups.
type Projects interface {
	CreateProject(ctx context.Context, p *Project) error
	ProjectsByAccount(ctx context.Context, accountID string) ([]*Project, error)
}
