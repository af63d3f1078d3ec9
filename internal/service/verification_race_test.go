package service

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"account-service/internal/domain"
	"account-service/internal/repository"
)

const always = -1

// contendedStore makes the verification compare-and-set updates lose against
// an imaginary concurrent writer. lose maps an operation name to the number of
// calls that should lose, or always.
type contendedStore struct {
	repository.Store
	lose  map[string]int
	calls map[string]int
}

func (s *contendedStore) VerificationTokens() repository.VerificationTokenRepository {
	return &contendedTokens{VerificationTokenRepository: s.Store.VerificationTokens(), owner: s}
}

func (s *contendedStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repository.Store) error) error {
	return s.Store.RunInTx(ctx, func(ctx context.Context, tx repository.Store) error {
		return fn(ctx, &contendedStore{Store: tx, lose: s.lose, calls: s.calls})
	})
}

func (s *contendedStore) loses(op string) bool {
	s.calls[op]++
	switch n := s.lose[op]; {
	case n == always:
		return true
	case n > 0:
		s.lose[op] = n - 1
		return true
	}
	return false
}

type contendedTokens struct {
	repository.VerificationTokenRepository
	owner *contendedStore
}

func (r *contendedTokens) IncrementAttempts(ctx context.Context, id int64, seen int) (bool, error) {
	if r.owner.loses("increment") {
		return false, nil
	}
	return r.VerificationTokenRepository.IncrementAttempts(ctx, id, seen)
}

func (r *contendedTokens) Lockout(ctx context.Context, id int64, seen int, until time.Time) (bool, error) {
	if r.owner.loses("lockout") {
		return false, nil
	}
	return r.VerificationTokenRepository.Lockout(ctx, id, seen, until)
}

func (r *contendedTokens) Delete(ctx context.Context, id int64) (bool, error) {
	if r.owner.loses("delete") {
		return false, nil
	}
	return r.VerificationTokenRepository.Delete(ctx, id)
}

func (f *fixture) contendedVerification(lose map[string]int) (*verificationService, *contendedStore) {
	store := &contendedStore{Store: f.store, lose: lose, calls: map[string]int{}}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	svc := NewVerificationService(store, f.notifier, f.verification.cfg, logger).(*verificationService)
	svc.clock = f.verification.clock
	return svc, store
}

func TestValidate_RetriesLostIncrement(t *testing.T) {
	f := newFixture(t)
	user := f.register(t, "inc@example.com", "password1")
	value := f.tokenFor(t, user.ID).Value
	f.advance(2 * time.Minute)

	svc, store := f.contendedVerification(map[string]int{"increment": 1})
	status, err := svc.Validate(context.Background(), value)
	require.NoError(t, err)
	assert.Equal(t, domain.VerificationExpired, status)
	assert.Equal(t, 2, store.calls["increment"])
	assert.Equal(t, 2, f.tokenFor(t, user.ID).CheckedAttempts)
}

func TestValidate_RetriesLostLockout(t *testing.T) {
	f := newFixture(t)
	user := f.register(t, "lock@example.com", "password1")
	value := f.tokenFor(t, user.ID).Value
	f.advance(2 * time.Minute)
	for i := 0; i < 4; i++ {
		_, err := f.verification.Validate(context.Background(), value)
		require.NoError(t, err)
	}
	require.Equal(t, 5, f.tokenFor(t, user.ID).CheckedAttempts)

	svc, store := f.contendedVerification(map[string]int{"lockout": 1})
	status, err := svc.Validate(context.Background(), value)
	require.NoError(t, err)
	assert.Equal(t, domain.VerificationAbuse, status)
	assert.Equal(t, 2, store.calls["lockout"])

	token := f.tokenFor(t, user.ID)
	require.NotNil(t, token.LockoutUntil)
	assert.WithinDuration(t, f.now.Add(4*time.Minute), *token.LockoutUntil, 0)
}

func TestValidate_LostDeleteRollsBackAndRetries(t *testing.T) {
	f := newFixture(t)
	user := f.register(t, "del@example.com", "password1")
	value := f.tokenFor(t, user.ID).Value

	svc, store := f.contendedVerification(map[string]int{"delete": 1})
	status, err := svc.Validate(context.Background(), value)
	require.NoError(t, err)
	assert.Equal(t, domain.VerificationValid, status)
	assert.Equal(t, 2, store.calls["delete"])

	stored, err := f.store.Users().GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.True(t, stored.Checked)
	_, err = f.store.VerificationTokens().GetByUser(context.Background(), user.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestValidate_GivesUpAfterRepeatedContention(t *testing.T) {
	tests := []struct {
		name    string
		op      string
		expired bool
	}{
		{name: "increment", op: "increment", expired: true},
		{name: "delete", op: "delete"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			user := f.register(t, tt.name+"@example.com", "password1")
			value := f.tokenFor(t, user.ID).Value
			if tt.expired {
				f.advance(2 * time.Minute)
			}

			svc, store := f.contendedVerification(map[string]int{tt.op: always})
			_, err := svc.Validate(context.Background(), value)
			require.ErrorIs(t, err, errContention)
			assert.Equal(t, casRetries, store.calls[tt.op])
			assert.Equal(t, KindInternal, KindOf(err))

			// every losing attempt rolled back
			token := f.tokenFor(t, user.ID)
			assert.Equal(t, 1, token.CheckedAttempts)
			stored, err := f.store.Users().GetByID(context.Background(), user.ID)
			require.NoError(t, err)
			assert.False(t, stored.Checked)
		})
	}
}
