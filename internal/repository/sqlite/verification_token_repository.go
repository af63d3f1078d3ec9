package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"account-service/internal/domain"
	"account-service/internal/repository"
)

type VerificationTokenRepository struct {
	db DBTX
}

func NewVerificationTokenRepository(db DBTX) repository.VerificationTokenRepository {
	return &VerificationTokenRepository{db: db}
}

func (r *VerificationTokenRepository) Create(ctx context.Context, token *domain.VerificationToken) (int64, error) {
	token.CreatedAt = time.Now().UTC()

	var lockout sql.NullTime
	if token.LockoutUntil != nil {
		lockout = sql.NullTime{Time: token.LockoutUntil.UTC(), Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
INSERT INTO verification_tokens (user_id, token, expires_at, checked_attempts, lockout_until, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		token.UserID,
		token.Value,
		token.ExpiresAt.UTC(),
		token.CheckedAttempts,
		lockout,
		token.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("insert verification token: %w", repository.ErrAlreadyExists)
		}
		return 0, fmt.Errorf("insert verification token: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("verification token last insert id: %w", err)
	}
	token.ID = id
	return id, nil
}

func (r *VerificationTokenRepository) GetByValue(ctx context.Context, value string) (*domain.VerificationToken, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, user_id, token, expires_at, checked_attempts, lockout_until, created_at
FROM verification_tokens
WHERE token = ?`,
		value,
	)
	return scanVerificationToken(row)
}

func (r *VerificationTokenRepository) GetByUser(ctx context.Context, userID int64) (*domain.VerificationToken, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, user_id, token, expires_at, checked_attempts, lockout_until, created_at
FROM verification_tokens
WHERE user_id = ?`,
		userID,
	)
	return scanVerificationToken(row)
}

func (r *VerificationTokenRepository) UpdateValue(ctx context.Context, id int64, value string, expiresAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE verification_tokens
SET token = ?, expires_at = ?
WHERE id = ?`,
		value,
		expiresAt.UTC(),
		id,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("update verification token: %w", repository.ErrAlreadyExists)
		}
		return fmt.Errorf("update verification token: %w", err)
	}
	return expectAffected(res, "update verification token")
}

func (r *VerificationTokenRepository) IncrementAttempts(ctx context.Context, id int64, seen int) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE verification_tokens
SET checked_attempts = checked_attempts + 1
WHERE id = ? AND checked_attempts = ?`,
		id,
		seen,
	)
	if err != nil {
		return false, fmt.Errorf("increment verification attempts: %w", err)
	}
	return affectedOne(res, "increment verification attempts")
}

func (r *VerificationTokenRepository) Lockout(ctx context.Context, id int64, seen int, until time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE verification_tokens
SET checked_attempts = 0, lockout_until = ?
WHERE id = ? AND checked_attempts = ?`,
		until.UTC(),
		id,
		seen,
	)
	if err != nil {
		return false, fmt.Errorf("lock verification token: %w", err)
	}
	return affectedOne(res, "lock verification token")
}

func (r *VerificationTokenRepository) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM verification_tokens WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete verification token: %w", err)
	}
	return affectedOne(res, "delete verification token")
}

func affectedOne(res sql.Result, op string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s rows affected: %w", op, err)
	}
	return n == 1, nil
}

func scanVerificationToken(row interface {
	Scan(dest ...any) error
}) (*domain.VerificationToken, error) {
	var (
		token   domain.VerificationToken
		lockout sql.NullTime
	)
	if err := row.Scan(
		&token.ID,
		&token.UserID,
		&token.Value,
		&token.ExpiresAt,
		&token.CheckedAttempts,
		&lockout,
		&token.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("verification token: %w", repository.ErrNotFound)
		}
		return nil, fmt.Errorf("scan verification token: %w", err)
	}
	if lockout.Valid {
		t := lockout.Time
		token.LockoutUntil = &t
	}
	return &token, nil
}
