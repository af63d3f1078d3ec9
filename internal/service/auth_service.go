package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/sirupsen/logrus"

	"account-service/internal/auth"
	"account-service/internal/domain"
	"account-service/internal/repository"
)

const (
	minPasswordLength = 8
	// bcrypt ignores input past 72 bytes.
	maxPasswordLength = 72

	refreshTokenBytes = 32

	defaultPageSize = 20
	maxPageSize     = 100
)

// PasswordHasher hashes and verifies credentials.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, digest string) bool
}

// SessionIssuer signs session tokens.
type SessionIssuer interface {
	Issue(userID int64, name string, roles []string, ttl time.Duration) (string, time.Time, error)
}

type RegisterInput struct {
	Username string
	Email    string
	Password string
}

func (in RegisterInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Username, validation.Required, validation.Length(1, 100)),
		validation.Field(&in.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&in.Password, validation.Required, validation.Length(minPasswordLength, maxPasswordLength)),
	)
}

// AdminSeed describes the account created on first start.
type AdminSeed struct {
	Username string
	Email    string
	Password string
}

func (seed AdminSeed) Validate() error {
	return validation.ValidateStruct(&seed,
		validation.Field(&seed.Username, validation.Length(0, 100)),
		validation.Field(&seed.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&seed.Password, validation.Required, validation.Length(minPasswordLength, maxPasswordLength)),
	)
}

// LoginResult is returned by Login and Renew.
type LoginResult struct {
	User             *domain.User
	Session          string
	SessionExpiresAt time.Time
	RefreshToken     string
}

type UserPage struct {
	Users []domain.User
	Total int64
	Page  int
	Size  int
}

// AuthService describes the account lifecycle operations.
type AuthService interface {
	Register(ctx context.Context, in RegisterInput) (*domain.User, error)
	Login(ctx context.Context, email, password string) (*LoginResult, error)
	// Renew exchanges the caller's refresh token for a new session and a rotated refresh token.
	Renew(ctx context.Context, identity auth.Identity, refreshValue string) (*LoginResult, error)
	Logout(ctx context.Context, identity auth.Identity) error

	GetUser(ctx context.Context, actor auth.Identity, id int64) (*domain.User, error)
	ListUsers(ctx context.Context, actor auth.Identity, page, size int) (*UserPage, error)
	UpdatePassword(ctx context.Context, actor auth.Identity, id int64, password string) error
	UpdateRoles(ctx context.Context, actor auth.Identity, id int64, roles []string) (*domain.User, error)
	SetEnabled(ctx context.Context, actor auth.Identity, id int64, enabled bool) (*domain.User, error)
	DeleteUser(ctx context.Context, actor auth.Identity, id int64) error

	// EnsureAdmin creates the seed admin when the directory is empty. It reports whether an account was created.
	EnsureAdmin(ctx context.Context, seed AdminSeed) (bool, error)
}

type AuthDependencies struct {
	Store        repository.Store
	Hasher       PasswordHasher
	Sessions     SessionIssuer
	Verification VerificationService
	Notifier     Notifier
	Logger       logrus.FieldLogger
	SessionTTL   time.Duration
}

type authService struct {
	store        repository.Store
	hasher       PasswordHasher
	sessions     SessionIssuer
	verification VerificationService
	notifier     Notifier
	guard        auth.Guard
	logger       logrus.FieldLogger
	sessionTTL   time.Duration
}

func NewAuthService(deps AuthDependencies) AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ttl := deps.SessionTTL
	if ttl <= 0 {
		ttl = auth.DefaultSessionTTL
	}
	return &authService{
		store:        deps.Store,
		hasher:       deps.Hasher,
		sessions:     deps.Sessions,
		verification: deps.Verification,
		notifier:     deps.Notifier,
		guard:        auth.NewGuard(),
		logger:       logger.WithField("component", "auth"),
		sessionTTL:   ttl,
	}
}

func (s *authService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = normalizeEmail(in.Email)
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}

	if _, err := s.store.Users().GetByEmail(ctx, in.Email); err == nil {
		return nil, ErrEmailInUse
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lookup email: %w", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Enabled:      true,
		Checked:      false,
		Roles:        []string{domain.RoleUser},
	}

	var token *domain.VerificationToken
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx repository.Store) error {
		if _, err := tx.Users().Create(ctx, user); err != nil {
			if errors.Is(err, repository.ErrAlreadyExists) {
				return ErrEmailInUse
			}
			return err
		}
		token, err = s.verification.Issue(ctx, tx, user.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithField("user_id", user.ID).Info("user registered")
	if s.notifier != nil {
		s.notifier.NotifyVerification(user.Email, s.verification.Link(token.Value))
	}
	return sanitizeUser(user), nil
}

func (s *authService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := s.store.Users().GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	// unverified and disabled accounts are reported before the password is checked
	if !user.Checked {
		return nil, ErrAccountNotVerified
	}
	if !user.Enabled {
		return nil, ErrAccountDisabled
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		s.logger.WithField("user_id", user.ID).Info("login rejected: bad password")
		return nil, ErrInvalidCredentials
	}

	refresh, err := s.rotateRefreshToken(ctx, s.store, user.ID)
	if err != nil {
		return nil, err
	}
	return s.newSession(user, refresh)
}

func (s *authService) Renew(ctx context.Context, identity auth.Identity, refreshValue string) (*LoginResult, error) {
	if refreshValue == "" {
		return nil, ErrInvalidCredentials
	}

	var (
		user    *domain.User
		refresh string
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx repository.Store) error {
		current, err := tx.RefreshTokens().GetByUser(ctx, identity.UserID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrInvalidCredentials
			}
			return fmt.Errorf("load refresh token: %w", err)
		}
		if subtle.ConstantTimeCompare([]byte(current.Value), []byte(refreshValue)) != 1 {
			return ErrInvalidCredentials
		}

		user, err = tx.Users().GetByID(ctx, identity.UserID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("load user: %w", err)
		}
		if !user.Enabled {
			return ErrAccountDisabled
		}

		refresh, err = s.rotateRefreshToken(ctx, tx, user.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.newSession(user, refresh)
}

func (s *authService) Logout(ctx context.Context, identity auth.Identity) error {
	if err := s.store.RefreshTokens().DeleteByUser(ctx, identity.UserID); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

func (s *authService) GetUser(ctx context.Context, actor auth.Identity, id int64) (*domain.User, error) {
	if err := s.guard.RequireOwner(actor, id); err != nil {
		return nil, ErrForbidden
	}
	user, err := s.loadUser(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	return sanitizeUser(user), nil
}

func (s *authService) ListUsers(ctx context.Context, actor auth.Identity, page, size int) (*UserPage, error) {
	if err := s.guard.RequireAdmin(actor); err != nil {
		return nil, ErrForbidden
	}
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	users, err := s.store.Users().List(ctx, size, (page-1)*size)
	if err != nil {
		return nil, err
	}
	total, err := s.store.Users().Count(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]domain.User, 0, len(users))
	for i := range users {
		out = append(out, *sanitizeUser(&users[i]))
	}
	return &UserPage{Users: out, Total: total, Page: page, Size: size}, nil
}

func (s *authService) UpdatePassword(ctx context.Context, actor auth.Identity, id int64, password string) error {
	if err := s.guard.RequireOwner(actor, id); err != nil {
		return ErrForbidden
	}
	if err := validation.Validate(password, validation.Required, validation.Length(minPasswordLength, maxPasswordLength)); err != nil {
		return fmt.Errorf("%w: password %s", ErrValidation, err.Error())
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}

	return s.store.RunInTx(ctx, func(ctx context.Context, tx repository.Store) error {
		user, err := s.loadUser(ctx, tx, id)
		if err != nil {
			return err
		}
		user.PasswordHash = hash
		if err := tx.Users().Update(ctx, user); err != nil {
			return fmt.Errorf("update password: %w", err)
		}
		s.logger.WithFields(logrus.Fields{"user_id": id, "actor_id": actor.UserID}).Info("password updated")
		return nil
	})
}

func (s *authService) UpdateRoles(ctx context.Context, actor auth.Identity, id int64, roles []string) (*domain.User, error) {
	if err := s.guard.RequireAdmin(actor); err != nil {
		return nil, ErrForbidden
	}
	roles, err := normalizeRoles(roles)
	if err != nil {
		return nil, err
	}

	var user *domain.User
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx repository.Store) error {
		if _, err := s.loadUser(ctx, tx, id); err != nil {
			return err
		}
		if err := tx.Users().ReplaceRoles(ctx, id, roles); err != nil {
			return fmt.Errorf("replace roles: %w", err)
		}
		user, err = s.loadUser(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{"user_id": id, "roles": roles}).Info("roles updated")
	return sanitizeUser(user), nil
}

func (s *authService) SetEnabled(ctx context.Context, actor auth.Identity, id int64, enabled bool) (*domain.User, error) {
	if err := s.guard.RequireAdmin(actor); err != nil {
		return nil, ErrForbidden
	}

	var user *domain.User
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx repository.Store) error {
		var err error
		user, err = s.loadUser(ctx, tx, id)
		if err != nil {
			return err
		}
		user.Enabled = enabled
		return tx.Users().Update(ctx, user)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{"user_id": id, "enabled": enabled}).Info("account status changed")
	return sanitizeUser(user), nil
}

func (s *authService) DeleteUser(ctx context.Context, actor auth.Identity, id int64) error {
	if err := s.guard.RequireAdmin(actor); err != nil {
		return ErrForbidden
	}
	deleted, err := s.store.Users().Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound
	}
	s.logger.WithFields(logrus.Fields{"user_id": id, "actor_id": actor.UserID}).Info("user deleted")
	return nil
}

func (s *authService) EnsureAdmin(ctx context.Context, seed AdminSeed) (bool, error) {
	seed.Email = normalizeEmail(seed.Email)
	if seed.Email == "" || seed.Password == "" {
		return false, nil
	}

	n, err := s.store.Users().Count(ctx)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	if err := seed.Validate(); err != nil {
		return false, fmt.Errorf("%w: admin seed: %v", ErrValidation, err)
	}

	hash, err := s.hasher.Hash(seed.Password)
	if err != nil {
		return false, err
	}
	username := strings.TrimSpace(seed.Username)
	if username == "" {
		username = domain.RoleAdmin
	}

	admin := &domain.User{
		Username:     username,
		Email:        seed.Email,
		PasswordHash: hash,
		Enabled:      true,
		Checked:      true,
		Roles:        []string{domain.RoleAdmin, domain.RoleUser},
	}
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx repository.Store) error {
		_, err := tx.Users().Create(ctx, admin)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("create admin: %w", err)
	}
	s.logger.WithField("email", admin.Email).Info("seeded admin account")
	return true, nil
}

func (s *authService) rotateRefreshToken(ctx context.Context, store repository.Store, userID int64) (string, error) {
	value, err := newRefreshValue()
	if err != nil {
		return "", err
	}
	err = store.RunInTx(ctx, func(ctx context.Context, tx repository.Store) error {
		_, err := tx.RefreshTokens().Replace(ctx, userID, value)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("rotate refresh token: %w", err)
	}
	return value, nil
}

func (s *authService) newSession(user *domain.User, refresh string) (*LoginResult, error) {
	session, expiresAt, err := s.sessions.Issue(user.ID, user.Username, user.Roles, s.sessionTTL)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		User:             sanitizeUser(user),
		Session:          session,
		SessionExpiresAt: expiresAt,
		RefreshToken:     refresh,
	}, nil
}

func (s *authService) loadUser(ctx context.Context, store repository.Store, id int64) (*domain.User, error) {
	user, err := store.Users().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

func newRefreshValue() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizeRoles(roles []string) ([]string, error) {
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		role = strings.ToLower(strings.TrimSpace(role))
		if !domain.ValidRole(role) {
			return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
		}
		if !slices.Contains(out, role) {
			out = append(out, role)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: at least one role is required", ErrValidation)
	}
	slices.Sort(out)
	return out, nil
}

// sanitizeUser drops the password hash before a user leaves the service.
func sanitizeUser(user *domain.User) *domain.User {
	if user == nil {
		return nil
	}
	roles := make([]string, len(user.Roles))
	copy(roles, user.Roles)
	return &domain.User{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		Enabled:   user.Enabled,
		Checked:   user.Checked,
		Roles:     roles,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
}
