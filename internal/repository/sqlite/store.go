package sqlite

import (
	"context"
	"database/sql"

	"account-service/internal/repository"
)

// Store vends sqlite-backed repositories bound either to the pool or to a
// running transaction.
type Store struct {
	db   *sql.DB
	conn DBTX
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, conn: db}
}

func (s *Store) Users() repository.UserRepository {
	return NewUserRepository(s.conn)
}

func (s *Store) RefreshTokens() repository.RefreshTokenRepository {
	return NewRefreshTokenRepository(s.conn)
}

func (s *Store) VerificationTokens() repository.VerificationTokenRepository {
	return NewVerificationTokenRepository(s.conn)
}

// RunInTx opens a transaction, or joins the current one when the store is
// already transaction-bound.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repository.Store) error) error {
	if _, ok := s.conn.(*sql.Tx); ok {
		return fn(ctx, s)
	}
	return WithTx(ctx, s.db, nil, func(ctx context.Context, tx DBTX) error {
		return fn(ctx, &Store{db: s.db, conn: tx})
	})
}

var _ repository.Store = (*Store)(nil)
