package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGuard_RequireOwner(t *testing.T) {
	guard := NewGuard()
	userA := Identity{UserID: 1, Name: "a", Roles: []string{"user"}}
	admin := Identity{UserID: 3, Name: "root", Roles: []string{"admin", "user"}}

	assert.NoError(t, guard.RequireOwner(userA, 1))
	assert.ErrorIs(t, guard.RequireOwner(userA, 2), ErrForbidden)
	assert.NoError(t, guard.RequireOwner(admin, 2))
	assert.ErrorIs(t, guard.RequireOwner(Identity{}, 0), ErrForbidden)
}

func TestGuard_RequireAdmin(t *testing.T) {
	guard := NewGuard()

	assert.ErrorIs(t, guard.RequireAdmin(Identity{UserID: 1, Roles: []string{"user"}}), ErrForbidden)
	assert.NoError(t, guard.RequireAdmin(Identity{UserID: 1, Roles: []string{"admin"}}))
}
