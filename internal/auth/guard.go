package auth

import (
	"errors"
	"slices"

	"account-service/internal/domain"
)

var ErrForbidden = errors.New("forbidden")

// Identity is the caller decoded from a verified session.
type Identity struct {
	UserID int64
	Name   string
	Roles  []string
}

func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

func (i Identity) IsAdmin() bool {
	return i.HasRole(domain.RoleAdmin)
}

// Guard enforces row-level ownership for per-user operations.
type Guard struct{}

func NewGuard() Guard {
	return Guard{}
}

// RequireOwner allows the caller to act on targetID when it is their own
// record or when they hold the admin role.
func (Guard) RequireOwner(identity Identity, targetID int64) error {
	if identity.UserID > 0 && identity.UserID == targetID {
		return nil
	}
	if identity.IsAdmin() {
		return nil
	}
	return ErrForbidden
}

func (Guard) RequireAdmin(identity Identity) error {
	if identity.IsAdmin() {
		return nil
	}
	return ErrForbidden
}
