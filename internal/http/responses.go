package http

import (
	"time"

	"account-service/internal/domain"
	"account-service/internal/service"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Timestamp int64  `json:"timestamp"`
	Status    int    `json:"status"`
	Kind      string `json:"kind"`
	Msg       string `json:"msg"`
	Link      string `json:"link"`
}

type verificationResponse struct {
	Timestamp int64  `json:"timestamp"`
	Status    int    `json:"status"`
	Result    string `json:"result"`
	Msg       string `json:"msg"`
	Link      string `json:"link"`
}

type UserResponse struct {
	ID        int64    `json:"id"`
	Username  string   `json:"username"`
	Email     string   `json:"email"`
	Enabled   bool     `json:"enabled"`
	Checked   bool     `json:"checked"`
	Roles     []string `json:"roles"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
}

type LoginResponse struct {
	User             UserResponse `json:"user"`
	Session          string       `json:"session"`
	SessionExpiresAt string       `json:"session_expires_at"`
	RefreshToken     string       `json:"refresh_token"`
}

type userPageResponse struct {
	Users []UserResponse `json:"users"`
	Total int64          `json:"total"`
	Page  int            `json:"page"`
	Size  int            `json:"size"`
}

func userToResponse(user domain.User) UserResponse {
	roles := user.Roles
	if roles == nil {
		roles = []string{}
	}
	return UserResponse{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		Enabled:   user.Enabled,
		Checked:   user.Checked,
		Roles:     roles,
		CreatedAt: user.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: user.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func loginToResponse(res *service.LoginResult) LoginResponse {
	return LoginResponse{
		User:             userToResponse(*res.User),
		Session:          res.Session,
		SessionExpiresAt: res.SessionExpiresAt.UTC().Format(time.RFC3339),
		RefreshToken:     res.RefreshToken,
	}
}
