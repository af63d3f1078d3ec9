package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultSessionTTL is how long an issued session stays valid.
const DefaultSessionTTL = 30 * time.Minute

const leeway = 5 * time.Second

var (
	// ErrInvalidSession is returned for any session that fails to decode or verify.
	ErrInvalidSession = errors.New("invalid session")
	ErrEmptySecret    = errors.New("session secret is empty")
)

// Claims is the payload of a signed session. Groups carries the role set.
type Claims struct {
	UserID int64    `json:"uid"`
	Name   string   `json:"name"`
	Groups []string `json:"groups"`
	jwt.RegisteredClaims
}

// SessionIssuer signs and decodes HS256 session tokens.
type SessionIssuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewSessionIssuer(secret, issuer string) (*SessionIssuer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &SessionIssuer{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}, nil
}

// WithClock replaces the time source used for issuing and verifying sessions.
func (s *SessionIssuer) WithClock(now func() time.Time) *SessionIssuer {
	s.now = now
	return s
}

// Issue signs a session for the user that expires after ttl.
func (s *SessionIssuer) Issue(userID int64, name string, roles []string, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	now := s.now().UTC()
	expiresAt := now.Add(ttl)

	groups := make([]string, len(roles))
	copy(groups, roles)

	claims := Claims{
		UserID: userID,
		Name:   name,
		Groups: groups,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse fully verifies token: algorithm, signature, issuer and expiry.
func (s *SessionIssuer) Parse(token string) (Identity, error) {
	return s.parse(token,
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
		jwt.WithTimeFunc(s.now),
	)
}

// ParseIgnoringExpiry verifies signature and issuer but accepts expired
// sessions. Only renewal uses it, and renewal also demands the refresh token.
func (s *SessionIssuer) ParseIgnoringExpiry(token string) (Identity, error) {
	return s.parse(token, jwt.WithoutClaimsValidation())
}

func (s *SessionIssuer) parse(token string, opts ...jwt.ParserOption) (Identity, error) {
	if token == "" {
		return Identity{}, ErrInvalidSession
	}

	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return Identity{}, ErrInvalidSession
	}
	// WithoutClaimsValidation skips the issuer check as well.
	if claims.Issuer != s.issuer {
		return Identity{}, ErrInvalidSession
	}
	if claims.UserID <= 0 || claims.Subject != strconv.FormatInt(claims.UserID, 10) {
		return Identity{}, ErrInvalidSession
	}

	return Identity{
		UserID: claims.UserID,
		Name:   claims.Name,
		Roles:  claims.Groups,
	}, nil
}
