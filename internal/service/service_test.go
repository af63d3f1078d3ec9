package service

import (
	"context"
	"io"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"account-service/internal/auth"
	"account-service/internal/domain"
	"account-service/internal/repository/sqlite"
)

type sentLink struct {
	email string
	link  string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentLink
}

func (n *recordingNotifier) NotifyVerification(email, link string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentLink{email: email, link: link})
}

func (n *recordingNotifier) last(t *testing.T) sentLink {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.sent, "no verification link was sent")
	return n.sent[len(n.sent)-1]
}

type fixture struct {
	store        *sqlite.Store
	now          time.Time
	notifier     *recordingNotifier
	sessions     *auth.SessionIssuer
	verification *verificationService
	auth         AuthService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlite.Migrate(context.Background(), db, nil))

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	f := &fixture{
		store:    sqlite.NewStore(db),
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		notifier: &recordingNotifier{},
	}
	clock := func() time.Time { return f.now }

	f.sessions, err = auth.NewSessionIssuer("test-secret", "account-service")
	require.NoError(t, err)
	f.sessions.WithClock(clock)

	f.verification = NewVerificationService(f.store, f.notifier, VerificationConfig{
		BaseURL: "http://localhost:8080/",
		TTL:     time.Minute,
		Lockout: 4 * time.Minute,
	}, logger).(*verificationService)
	f.verification.clock = clock

	f.auth = NewAuthService(AuthDependencies{
		Store:        f.store,
		Hasher:       auth.NewHasher(bcrypt.MinCost),
		Sessions:     f.sessions,
		Verification: f.verification,
		Notifier:     f.notifier,
		Logger:       logger,
	})
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *fixture) register(t *testing.T, email, password string) *domain.User {
	t.Helper()
	user, err := f.auth.Register(context.Background(), RegisterInput{
		Username: "user " + email,
		Email:    email,
		Password: password,
	})
	require.NoError(t, err)
	return user
}

// registerVerified registers a user and confirms their email.
func (f *fixture) registerVerified(t *testing.T, email, password string) *domain.User {
	t.Helper()
	user := f.register(t, email, password)
	status, err := f.verification.Validate(context.Background(), f.tokenFor(t, user.ID).Value)
	require.NoError(t, err)
	require.Equal(t, domain.VerificationValid, status)
	return user
}

func (f *fixture) tokenFor(t *testing.T, userID int64) *domain.VerificationToken {
	t.Helper()
	token, err := f.store.VerificationTokens().GetByUser(context.Background(), userID)
	require.NoError(t, err)
	return token
}

func (f *fixture) admin(t *testing.T) auth.Identity {
	t.Helper()
	created, err := f.auth.EnsureAdmin(context.Background(), AdminSeed{
		Username: "root",
		Email:    "admin@example.com",
		Password: "admin-password",
	})
	require.NoError(t, err)
	require.True(t, created)

	admin, err := f.store.Users().GetByEmail(context.Background(), "admin@example.com")
	require.NoError(t, err)
	return auth.Identity{UserID: admin.ID, Name: admin.Username, Roles: admin.Roles}
}

func identityOf(user *domain.User) auth.Identity {
	return auth.Identity{UserID: user.ID, Name: user.Username, Roles: user.Roles}
}

func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	return u.Query().Get("token")
}
