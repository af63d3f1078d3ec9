package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"account-service/internal/domain"
	"account-service/internal/repository"
)

const (
	DefaultVerificationTTL = 15 * time.Minute
	DefaultLockoutWindow   = 4 * time.Minute
	// DefaultMaxAttempts is the highest attempt count tolerated before a
	// validation is treated as abuse.
	DefaultMaxAttempts = 4

	verifyPath = "/api/users/verify-email"

	// casRetries bounds how often Validate re-reads a token after losing a
	// compare-and-set race.
	casRetries = 3
)

var (
	errContention = errors.New("verification token updated concurrently")
	// errRaced aborts the current transaction after a lost compare-and-set.
	errRaced = errors.New("verification token changed underneath")
)

// Notifier delivers verification links. Implementations must not block the caller.
type Notifier interface {
	NotifyVerification(email, link string)
}

type VerificationConfig struct {
	BaseURL     string
	TTL         time.Duration
	Lockout     time.Duration
	MaxAttempts int
}

func (c VerificationConfig) withDefaults() VerificationConfig {
	if c.TTL <= 0 {
		c.TTL = DefaultVerificationTTL
	}
	if c.Lockout <= 0 {
		c.Lockout = DefaultLockoutWindow
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	return c
}

// VerificationService owns the email verification token lifecycle.
type VerificationService interface {
	// Issue creates the verification token for a new user inside the caller's transaction.
	Issue(ctx context.Context, store repository.Store, userID int64) (*domain.VerificationToken, error)
	Validate(ctx context.Context, value string) (domain.VerificationStatus, error)
	// Resend assigns a new value and expiry to the token currently holding oldValue.
	// The attempt counter and any lockout are kept.
	Resend(ctx context.Context, oldValue string) (*domain.VerificationToken, error)
	Link(value string) string
}

type verificationService struct {
	store    repository.Store
	notifier Notifier
	cfg      VerificationConfig
	clock    func() time.Time
	logger   logrus.FieldLogger
}

func NewVerificationService(store repository.Store, notifier Notifier, cfg VerificationConfig, logger logrus.FieldLogger) VerificationService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &verificationService{
		store:    store,
		notifier: notifier,
		cfg:      cfg.withDefaults(),
		clock:    time.Now,
		logger:   logger.WithField("component", "verification"),
	}
}

func (s *verificationService) Issue(ctx context.Context, store repository.Store, userID int64) (*domain.VerificationToken, error) {
	token := &domain.VerificationToken{
		UserID:          userID,
		Value:           uuid.NewString(),
		ExpiresAt:       s.clock().UTC().Add(s.cfg.TTL),
		CheckedAttempts: 1,
	}
	if _, err := store.VerificationTokens().Create(ctx, token); err != nil {
		return nil, fmt.Errorf("create verification token: %w", err)
	}
	return token, nil
}

func (s *verificationService) Validate(ctx context.Context, value string) (domain.VerificationStatus, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return domain.VerificationInvalid, nil
	}

	for i := 0; i < casRetries; i++ {
		var status domain.VerificationStatus
		err := s.store.RunInTx(ctx, func(ctx context.Context, tx repository.Store) error {
			var err error
			status, err = s.evaluate(ctx, tx, value)
			return err
		})
		if errors.Is(err, errRaced) {
			s.logger.WithField("retry", i+1).Debug("verification token changed underneath, re-reading")
			continue
		}
		if err != nil {
			return "", err
		}
		return status, nil
	}
	return "", errContention
}

// evaluate applies one step of the verification state machine. It returns
// errRaced when a compare-and-set lost to a concurrent writer, which rolls
// back anything the step already wrote.
func (s *verificationService) evaluate(ctx context.Context, tx repository.Store, value string) (domain.VerificationStatus, error) {
	tokens := tx.VerificationTokens()

	token, err := tokens.GetByValue(ctx, value)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.VerificationInvalid, nil
		}
		return "", fmt.Errorf("load verification token: %w", err)
	}

	now := s.clock().UTC()
	log := s.logger.WithFields(logrus.Fields{"user_id": token.UserID, "attempts": token.CheckedAttempts})

	if token.CheckedAttempts > s.cfg.MaxAttempts {
		ok, err := tokens.Lockout(ctx, token.ID, token.CheckedAttempts, now.Add(s.cfg.Lockout))
		if err != nil {
			return "", err
		}
		if !ok {
			return "", errRaced
		}
		log.Warn("verification attempts exceeded, token locked")
		return domain.VerificationAbuse, nil
	}

	if token.LockedAt(now) {
		return domain.VerificationTimeout, nil
	}

	if token.ExpiredAt(now) {
		ok, err := tokens.IncrementAttempts(ctx, token.ID, token.CheckedAttempts)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", errRaced
		}
		return domain.VerificationExpired, nil
	}

	user, err := tx.Users().GetByID(ctx, token.UserID)
	if err != nil {
		return "", fmt.Errorf("load verified user: %w", err)
	}
	user.Checked = true
	if err := tx.Users().Update(ctx, user); err != nil {
		return "", fmt.Errorf("mark user checked: %w", err)
	}
	deleted, err := tokens.Delete(ctx, token.ID)
	if err != nil {
		return "", err
	}
	if !deleted {
		return "", errRaced
	}

	log.Info("email verified")
	return domain.VerificationValid, nil
}

func (s *verificationService) Resend(ctx context.Context, oldValue string) (*domain.VerificationToken, error) {
	var (
		token *domain.VerificationToken
		email string
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx repository.Store) error {
		var err error
		token, err = tx.VerificationTokens().GetByValue(ctx, strings.TrimSpace(oldValue))
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("load verification token: %w", err)
		}

		user, err := tx.Users().GetByID(ctx, token.UserID)
		if err != nil {
			return fmt.Errorf("load token owner: %w", err)
		}
		email = user.Email

		token.Value = uuid.NewString()
		token.ExpiresAt = s.clock().UTC().Add(s.cfg.TTL)
		return tx.VerificationTokens().UpdateValue(ctx, token.ID, token.Value, token.ExpiresAt)
	})
	if err != nil {
		return nil, err
	}

	s.notify(email, token.Value)
	return token, nil
}

func (s *verificationService) Link(value string) string {
	return strings.TrimRight(s.cfg.BaseURL, "/") + verifyPath + "?token=" + url.QueryEscape(value)
}

func (s *verificationService) notify(email, value string) {
	if s.notifier == nil {
		s.logger.WithField("email", email).Warn("no notifier configured, verification link not sent")
		return
	}
	s.notifier.NotifyVerification(email, s.Link(value))
}
