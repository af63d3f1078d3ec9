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

type RefreshTokenRepository struct {
	db DBTX
}

func NewRefreshTokenRepository(db DBTX) repository.RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

func (r *RefreshTokenRepository) GetByUser(ctx context.Context, userID int64) (*domain.RefreshToken, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, user_id, token, created_at
FROM refresh_tokens
WHERE user_id = ?`,
		userID,
	)
	return scanRefreshToken(row)
}

func (r *RefreshTokenRepository) GetByValue(ctx context.Context, value string) (*domain.RefreshToken, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, user_id, token, created_at
FROM refresh_tokens
WHERE token = ?`,
		value,
	)
	return scanRefreshToken(row)
}

func (r *RefreshTokenRepository) Replace(ctx context.Context, userID int64, value string) (*domain.RefreshToken, error) {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = ?`, userID); err != nil {
		return nil, fmt.Errorf("delete refresh token: %w", err)
	}

	token := &domain.RefreshToken{
		UserID:    userID,
		Value:     value,
		CreatedAt: time.Now().UTC(),
	}
	res, err := r.db.ExecContext(ctx, `
INSERT INTO refresh_tokens (user_id, token, created_at)
VALUES (?, ?, ?)`,
		token.UserID,
		token.Value,
		token.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert refresh token: %w", repository.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("insert refresh token: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("refresh token last insert id: %w", err)
	}
	token.ID = id
	return token, nil
}

func (r *RefreshTokenRepository) DeleteByUser(ctx context.Context, userID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

func scanRefreshToken(row interface {
	Scan(dest ...any) error
}) (*domain.RefreshToken, error) {
	var token domain.RefreshToken
	if err := row.Scan(
		&token.ID,
		&token.UserID,
		&token.Value,
		&token.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("refresh token: %w", repository.ErrNotFound)
		}
		return nil, fmt.Errorf("scan refresh token: %w", err)
	}
	return &token, nil
}
