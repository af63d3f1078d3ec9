package domain

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User represents an account holder of the system.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	Enabled      bool
	Checked      bool
	Roles        []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ValidRole reports whether name is one of the roles known to the service.
func ValidRole(name string) bool {
	return name == RoleUser || name == RoleAdmin
}
