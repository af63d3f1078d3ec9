package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"account-service/internal/domain"
	"account-service/internal/repository"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(memoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(context.Background(), db, nil))
	return db
}

func createUser(t *testing.T, store *Store, email string) *domain.User {
	t.Helper()
	user := &domain.User{
		Username:     "someone",
		Email:        email,
		PasswordHash: "hash",
		Enabled:      true,
		Roles:        []string{domain.RoleUser},
	}
	_, err := store.Users().Create(context.Background(), user)
	require.NoError(t, err)
	return user
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

func TestRunInTx_CommitsOnSuccess(t *testing.T) {
	db := setupDB(t)
	store := NewStore(db)

	err := store.RunInTx(context.Background(), func(ctx context.Context, tx repository.Store) error {
		_, err := tx.Users().Create(ctx, &domain.User{Username: "a", Email: "a@example.com", PasswordHash: "x", Enabled: true})
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 1, countRows(t, db, "users"), "must commit on success")
}

func TestRunInTx_RollsBackOnError(t *testing.T) {
	errBoom := errors.New("boom")
	db := setupDB(t)
	store := NewStore(db)

	err := store.RunInTx(context.Background(), func(ctx context.Context, tx repository.Store) error {
		_, err := tx.Users().Create(ctx, &domain.User{Username: "a", Email: "a@example.com", PasswordHash: "x"})
		require.NoError(t, err)
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, 0, countRows(t, db, "users"), "must rollback when fn returns error")
}

func TestWithTx_RollsBackOnPanic(t *testing.T) {
	db := setupDB(t)

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic to propagate")
		}
		require.Equal(t, 0, countRows(t, db, "users"), "must rollback on panic")
	}()

	_ = WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		_, e := tx.ExecContext(ctx, `INSERT INTO users (username, email, password_hash, created_at, updated_at) VALUES ('p', 'p@example.com', 'x', ?, ?)`, time.Now(), time.Now())
		require.NoError(t, e)
		panic("kaput")
	})
}

func TestRunInTx_JoinsOuterTransaction(t *testing.T) {
	db := setupDB(t)
	store := NewStore(db)

	err := store.RunInTx(context.Background(), func(ctx context.Context, tx repository.Store) error {
		return tx.RunInTx(ctx, func(ctx context.Context, inner repository.Store) error {
			_, err := inner.Users().Create(ctx, &domain.User{Username: "a", Email: "a@example.com", PasswordHash: "x"})
			require.NoError(t, err)
			return errors.New("abort")
		})
	})
	require.Error(t, err)
	require.Equal(t, 0, countRows(t, db, "users"))
}

func TestUserRepository_CreateAndLookup(t *testing.T) {
	store := NewStore(setupDB(t))
	ctx := context.Background()

	user := &domain.User{
		Username:     "ana",
		Email:        "ana@example.com",
		PasswordHash: "hash",
		Enabled:      true,
		Roles:        []string{domain.RoleUser, domain.RoleAdmin},
	}
	id, err := store.Users().Create(ctx, user)
	require.NoError(t, err)
	require.Positive(t, id)

	got, err := store.Users().GetByEmail(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "ana", got.Username)
	assert.True(t, got.Enabled)
	assert.False(t, got.Checked)
	assert.Equal(t, []string{domain.RoleAdmin, domain.RoleUser}, got.Roles)

	byID, err := store.Users().GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, got.Email, byID.Email)

	_, err = store.Users().GetByID(ctx, id+100)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestUserRepository_DuplicateEmail(t *testing.T) {
	store := NewStore(setupDB(t))
	createUser(t, store, "dup@example.com")

	_, err := store.Users().Create(context.Background(), &domain.User{Username: "b", Email: "dup@example.com", PasswordHash: "x"})
	require.ErrorIs(t, err, repository.ErrAlreadyExists)
}

func TestUserRepository_UpdateAndRoles(t *testing.T) {
	store := NewStore(setupDB(t))
	ctx := context.Background()
	user := createUser(t, store, "u@example.com")

	user.Checked = true
	user.Enabled = false
	require.NoError(t, store.Users().Update(ctx, user))
	require.NoError(t, store.Users().ReplaceRoles(ctx, user.ID, []string{domain.RoleAdmin}))

	got, err := store.Users().GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, got.Checked)
	assert.False(t, got.Enabled)
	assert.Equal(t, []string{domain.RoleAdmin}, got.Roles)

	missing := &domain.User{ID: 999, Email: "nobody@example.com"}
	assert.ErrorIs(t, store.Users().Update(ctx, missing), repository.ErrNotFound)
}

func TestUserRepository_DeleteCascadesTokens(t *testing.T) {
	db := setupDB(t)
	store := NewStore(db)
	ctx := context.Background()
	user := createUser(t, store, "gone@example.com")

	_, err := store.RefreshTokens().Replace(ctx, user.ID, "refresh")
	require.NoError(t, err)
	_, err = store.VerificationTokens().Create(ctx, &domain.VerificationToken{
		UserID:          user.ID,
		Value:           "verify",
		ExpiresAt:       time.Now().Add(time.Minute),
		CheckedAttempts: 1,
	})
	require.NoError(t, err)

	deleted, err := store.Users().Delete(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, 0, countRows(t, db, "refresh_tokens"))
	assert.Equal(t, 0, countRows(t, db, "verification_tokens"))
	assert.Equal(t, 0, countRows(t, db, "user_roles"))

	deleted, err = store.Users().Delete(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestUserRepository_ListAndCount(t *testing.T) {
	store := NewStore(setupDB(t))
	ctx := context.Background()
	createUser(t, store, "a@example.com")
	createUser(t, store, "b@example.com")
	createUser(t, store, "c@example.com")

	n, err := store.Users().Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	page, err := store.Users().List(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "b@example.com", page[0].Email)
	assert.Equal(t, "c@example.com", page[1].Email)
}

func TestRefreshTokenRepository_ReplaceKeepsSingleRow(t *testing.T) {
	db := setupDB(t)
	store := NewStore(db)
	ctx := context.Background()
	user := createUser(t, store, "r@example.com")

	first, err := store.RefreshTokens().Replace(ctx, user.ID, "first")
	require.NoError(t, err)
	second, err := store.RefreshTokens().Replace(ctx, user.ID, "second")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 1, countRows(t, db, "refresh_tokens"))

	_, err = store.RefreshTokens().GetByValue(ctx, "first")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	got, err := store.RefreshTokens().GetByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "second", got.Value)

	require.NoError(t, store.RefreshTokens().DeleteByUser(ctx, user.ID))
	require.NoError(t, store.RefreshTokens().DeleteByUser(ctx, user.ID))
	_, err = store.RefreshTokens().GetByUser(ctx, user.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestVerificationTokenRepository_CompareAndSet(t *testing.T) {
	store := NewStore(setupDB(t))
	ctx := context.Background()
	user := createUser(t, store, "v@example.com")

	token := &domain.VerificationToken{
		UserID:          user.ID,
		Value:           "value-1",
		ExpiresAt:       time.Now().Add(time.Minute),
		CheckedAttempts: 1,
	}
	_, err := store.VerificationTokens().Create(ctx, token)
	require.NoError(t, err)

	ok, err := store.VerificationTokens().IncrementAttempts(ctx, token.ID, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	// a second writer that also observed 1 loses the race
	ok, err = store.VerificationTokens().IncrementAttempts(ctx, token.ID, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	until := time.Now().Add(4 * time.Minute).UTC()
	ok, err = store.VerificationTokens().Lockout(ctx, token.ID, 2, until)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.VerificationTokens().GetByValue(ctx, "value-1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.CheckedAttempts)
	require.NotNil(t, got.LockoutUntil)
	assert.WithinDuration(t, until, *got.LockoutUntil, time.Second)
}

func TestVerificationTokenRepository_UpdateValueKeepsCounters(t *testing.T) {
	store := NewStore(setupDB(t))
	ctx := context.Background()
	user := createUser(t, store, "w@example.com")

	token := &domain.VerificationToken{
		UserID:          user.ID,
		Value:           "old",
		ExpiresAt:       time.Now().Add(-time.Minute),
		CheckedAttempts: 3,
	}
	_, err := store.VerificationTokens().Create(ctx, token)
	require.NoError(t, err)

	expires := time.Now().Add(10 * time.Minute).UTC()
	require.NoError(t, store.VerificationTokens().UpdateValue(ctx, token.ID, "new", expires))

	_, err = store.VerificationTokens().GetByValue(ctx, "old")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	got, err := store.VerificationTokens().GetByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Value)
	assert.Equal(t, 3, got.CheckedAttempts)
	assert.WithinDuration(t, expires, got.ExpiresAt, time.Second)

	deleted, err := store.VerificationTokens().Delete(ctx, token.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = store.VerificationTokens().Delete(ctx, token.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}
