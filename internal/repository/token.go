package repository

import (
	"context"
	"time"

	"account-service/internal/domain"
)

// RefreshTokenRepository stores at most one refresh token per user.
type RefreshTokenRepository interface {
	GetByUser(ctx context.Context, userID int64) (*domain.RefreshToken, error)
	GetByValue(ctx context.Context, value string) (*domain.RefreshToken, error)
	// Replace drops any token held by the user and stores value in its place.
	Replace(ctx context.Context, userID int64, value string) (*domain.RefreshToken, error)
	DeleteByUser(ctx context.Context, userID int64) error
}

// VerificationTokenRepository stores at most one verification token per user.
//
// IncrementAttempts and Lockout are compare-and-set updates keyed on the attempt
// count the caller observed; they return false when the row moved underneath.
type VerificationTokenRepository interface {
	Create(ctx context.Context, token *domain.VerificationToken) (int64, error)
	GetByValue(ctx context.Context, value string) (*domain.VerificationToken, error)
	GetByUser(ctx context.Context, userID int64) (*domain.VerificationToken, error)
	UpdateValue(ctx context.Context, id int64, value string, expiresAt time.Time) error
	IncrementAttempts(ctx context.Context, id int64, seen int) (bool, error)
	Lockout(ctx context.Context, id int64, seen int, until time.Time) (bool, error)
	Delete(ctx context.Context, id int64) (bool, error)
}
