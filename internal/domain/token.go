package domain

import "time"

// RefreshToken is the single renewal credential a user may hold.
type RefreshToken struct {
	ID        int64
	UserID    int64
	Value     string
	CreatedAt time.Time
}

// VerificationToken proves ownership of the email address a user registered with.
type VerificationToken struct {
	ID              int64
	UserID          int64
	Value           string
	ExpiresAt       time.Time
	CheckedAttempts int
	LockoutUntil    *time.Time
	CreatedAt       time.Time
}

// LockedAt reports whether an abuse lockout is still running at now.
func (t *VerificationToken) LockedAt(now time.Time) bool {
	return t.LockoutUntil != nil && !t.LockoutUntil.Before(now)
}

// ExpiredAt reports whether the token value is no longer usable at now.
func (t *VerificationToken) ExpiredAt(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

type VerificationStatus string

const (
	VerificationInvalid VerificationStatus = "invalid"
	VerificationAbuse   VerificationStatus = "abuse"
	VerificationTimeout VerificationStatus = "timeout"
	VerificationExpired VerificationStatus = "expired"
	VerificationValid   VerificationStatus = "valid"
)
