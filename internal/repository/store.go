package repository

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned on a uniqueness violation.
	ErrAlreadyExists = errors.New("already exists")
)

// Store groups the repositories behind one transactional boundary.
type Store interface {
	Users() UserRepository
	RefreshTokens() RefreshTokenRepository
	VerificationTokens() VerificationTokenRepository
	// RunInTx runs fn against a Store bound to a single transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
