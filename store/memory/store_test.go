package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartportfolio/authcore"
)

func newPrincipal(username, email string) authcore.NewPrincipal {
	return authcore.NewPrincipal{
		Username:     username,
		Email:        email,
		PasswordHash: "$argon2id$stub",
		Active:       true,
		Roles:        []string{"USER"},
	}
}

func TestCreateAndFind(t *testing.T) {
	s := New()
	ctx := context.Background()

	p, err := s.Create(ctx, newPrincipal("ada", "ada@example.com"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.ID)
	assert.False(t, p.CreatedAt.IsZero())

	byName, err := s.FindByIdentifier(ctx, "ada")
	require.NoError(t, err)
	byEmail, err := s.FindByIdentifier(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, byName.ID, byEmail.ID)

	_, err = s.FindByIdentifier(ctx, "ADA")
	assert.ErrorIs(t, err, authcore.ErrNotFound)
	_, err = s.FindByID(ctx, 99)
	assert.ErrorIs(t, err, authcore.ErrNotFound)
}

func TestCreateRejectsDuplicates(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.Create(ctx, newPrincipal("ada", "ada@example.com"))
	require.NoError(t, err)

	_, err = s.Create(ctx, newPrincipal("ada", "other@example.com"))
	assert.ErrorIs(t, err, authcore.ErrUsernameExists)
	_, err = s.Create(ctx, newPrincipal("grace", "ada@example.com"))
	assert.ErrorIs(t, err, authcore.ErrEmailExists)

	exists, err := s.ExistsByUsername(ctx, "ada")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = s.ExistsByUsername(ctx, "Ada")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestConcurrentCreateSingleWinner(t *testing.T) {
	s := New()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Create(context.Background(), newPrincipal("ada", "ada@example.com")); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, s.Len())
}

func TestReturnedPrincipalIsACopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	p, err := s.Create(ctx, newPrincipal("ada", "ada@example.com"))
	require.NoError(t, err)

	p.Roles[0] = "ADMIN"
	p.Username = "mallory"

	again, err := s.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada", again.Username)
	assert.Equal(t, []string{"USER"}, again.Roles)
}

func TestTouchLastLoginAndUpdateHash(t *testing.T) {
	s := New()
	ctx := context.Background()
	p, err := s.Create(ctx, newPrincipal("ada", "ada@example.com"))
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.TouchLastLogin(ctx, p.ID, at))
	require.NoError(t, s.UpdatePasswordHash(ctx, p.ID, "$argon2id$new"))

	got, err := s.FindByID(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastLogin)
	assert.True(t, got.LastLogin.Equal(at))
	assert.Equal(t, "$argon2id$new", got.PasswordHash)

	assert.ErrorIs(t, s.TouchLastLogin(ctx, 42, at), authcore.ErrNotFound)
}

func TestDeleteFreesIdentifiers(t *testing.T) {
	s := New()
	ctx := context.Background()
	p, err := s.Create(ctx, newPrincipal("ada", "ada@example.com"))
	require.NoError(t, err)

	s.Delete(p.ID)

	_, err = s.FindByID(ctx, p.ID)
	assert.ErrorIs(t, err, authcore.ErrNotFound)
	_, err = s.Create(ctx, newPrincipal("ada", "ada@example.com"))
	assert.NoError(t, err)
}

func TestEnsureRoleIsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		name, err := s.EnsureRole(ctx, "USER", "Default role for registered users")
		require.NoError(t, err)
		assert.Equal(t, "USER", name)
	}
	assert.Equal(t, []string{"USER"}, s.Roles())
}

func TestSetActive(t *testing.T) {
	s := New()
	ctx := context.Background()
	p, err := s.Create(ctx, newPrincipal("ada", "ada@example.com"))
	require.NoError(t, err)

	require.NoError(t, s.SetActive(p.ID, false))
	got, err := s.FindByIdentifier(ctx, "ada")
	require.NoError(t, err)
	assert.False(t, got.Active)

	assert.ErrorIs(t, s.SetActive(42, true), authcore.ErrNotFound)
}
