package service

import (
	"errors"

	"account-service/internal/auth"
	"account-service/internal/repository"
)

var (
	// ErrNotFound indicates that the user or token does not exist.
	ErrNotFound = errors.New("not found")
	// ErrEmailInUse is returned when registering an email that already has an account.
	ErrEmailInUse = errors.New("email already in use")
	// ErrInvalidCredentials indicates that the password or refresh token does not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountNotVerified is returned on login before the email was confirmed.
	ErrAccountNotVerified = errors.New("account not verified")
	// ErrAccountDisabled is returned on login for an account suspended by an admin.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrForbidden indicates an ownership or role violation.
	ErrForbidden = errors.New("forbidden")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
)

// Kind is the machine-readable class of a service error.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindEmailInUse         Kind = "email_in_use"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindAccountNotVerified Kind = "account_not_verified"
	KindAccountDisabled    Kind = "account_disabled"
	KindForbidden          Kind = "forbidden"
	KindValidation         Kind = "validation_failed"
	KindInternal           Kind = "internal"
)

var kindMessages = map[Kind]string{
	KindNotFound:           "The requested resource was not found.",
	KindEmailInUse:         "An account with this email already exists.",
	KindInvalidCredentials: "Invalid email or password.",
	KindAccountNotVerified: "Please confirm your email address before signing in.",
	KindAccountDisabled:    "This account has been disabled.",
	KindForbidden:          "You are not allowed to perform this action.",
	KindValidation:         "The request is invalid.",
	KindInternal:           "Something went wrong. Please try again later.",
}

// Message returns the stable user-facing text for k.
func (k Kind) Message() string {
	if msg, ok := kindMessages[k]; ok {
		return msg
	}
	return kindMessages[KindInternal]
}

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound), errors.Is(err, repository.ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrEmailInUse):
		return KindEmailInUse
	case errors.Is(err, ErrInvalidCredentials):
		return KindInvalidCredentials
	case errors.Is(err, ErrAccountNotVerified):
		return KindAccountNotVerified
	case errors.Is(err, ErrAccountDisabled):
		return KindAccountDisabled
	case errors.Is(err, ErrForbidden), errors.Is(err, auth.ErrForbidden), errors.Is(err, auth.ErrInvalidSession):
		return KindForbidden
	case errors.Is(err, ErrValidation):
		return KindValidation
	default:
		return KindInternal
	}
}
