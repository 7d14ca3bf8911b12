package identity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRepository runs the behaviour every Repository implementation must share.
func testRepository(t *testing.T, newRepo func(t *testing.T) Repository) {
	ctx := context.Background()

	t.Run("FindByEmailMissing", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.FindByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("CreateAndFindByEmailIgnoresCase", func(t *testing.T) {
		repo := newRepo(t)
		created, err := repo.CreateUser(ctx, "alice@example.com", "alice@example.com")
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, created.ID)
		assert.Equal(t, "alice@example.com", created.Username)

		found, err := repo.FindByEmail(ctx, "ALICE@Example.com")
		require.NoError(t, err)
		assert.Equal(t, created.ID, found.ID)
		assert.Equal(t, "alice@example.com", found.Email)

		byID, err := repo.FindByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.ID, byID.ID)
	})

	t.Run("CreateUserSameEmailReturnsExisting", func(t *testing.T) {
		repo := newRepo(t)
		first, err := repo.CreateUser(ctx, "bob@example.com", "bob@example.com")
		require.NoError(t, err)
		second, err := repo.CreateUser(ctx, "bob@example.com", "bob@example.com")
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("AddLoginAndFindByLogin", func(t *testing.T) {
		repo := newRepo(t)
		user, err := repo.CreateUser(ctx, "carol@example.com", "carol@example.com")
		require.NoError(t, err)

		_, err = repo.FindByLogin(ctx, "google", "g-123")
		assert.ErrorIs(t, err, ErrUserNotFound)

		login := ExternalLogin{LoginProvider: "google", ProviderKey: "g-123", ProviderDisplayName: "Google"}
		require.NoError(t, repo.AddLogin(ctx, user.ID, login))

		found, err := repo.FindByLogin(ctx, "google", "g-123")
		require.NoError(t, err)
		assert.Equal(t, user.ID, found.ID)

		// linking the same pair again is a no-op
		require.NoError(t, repo.AddLogin(ctx, user.ID, login))
		logins, err := repo.GetLogins(ctx, user.ID)
		require.NoError(t, err)
		require.Len(t, logins, 1)
		assert.Equal(t, "google", logins[0].LoginProvider)
		assert.Equal(t, "g-123", logins[0].ProviderKey)
		assert.Equal(t, user.ID, logins[0].UserID)
	})

	t.Run("AddLoginOwnedByAnotherUser", func(t *testing.T) {
		repo := newRepo(t)
		owner, err := repo.CreateUser(ctx, "dave@example.com", "dave@example.com")
		require.NoError(t, err)
		other, err := repo.CreateUser(ctx, "erin@example.com", "erin@example.com")
		require.NoError(t, err)

		login := ExternalLogin{LoginProvider: "github", ProviderKey: "42"}
		require.NoError(t, repo.AddLogin(ctx, owner.ID, login))
		err = repo.AddLogin(ctx, other.ID, login)
		assert.ErrorIs(t, err, ErrLoginAlreadyLinked)

		found, err := repo.FindByLogin(ctx, "github", "42")
		require.NoError(t, err)
		assert.Equal(t, owner.ID, found.ID)
	})

	t.Run("AddLoginUnknownUser", func(t *testing.T) {
		repo := newRepo(t)
		err := repo.AddLogin(ctx, uuid.New(), ExternalLogin{LoginProvider: "google", ProviderKey: "x"})
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("ConcurrentCreateUserConverges", func(t *testing.T) {
		repo := newRepo(t)
		const workers = 8
		ids := make([]uuid.UUID, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				user, err := repo.CreateUser(ctx, "frank@example.com", "frank@example.com")
				if assert.NoError(t, err) {
					ids[i] = user.ID
				}
			}(i)
		}
		wg.Wait()
		for _, id := range ids {
			assert.Equal(t, ids[0], id)
		}
	})

	t.Run("ConcurrentAddLogin", func(t *testing.T) {
		repo := newRepo(t)
		user, err := repo.CreateUser(ctx, "ivy@example.com", "ivy@example.com")
		require.NoError(t, err)

		const workers = 24
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(2)
			go func(i int) {
				defer wg.Done()
				login := ExternalLogin{LoginProvider: "google", ProviderKey: fmt.Sprintf("g-%d", i)}
				assert.NoError(t, repo.AddLogin(ctx, user.ID, login))
			}(i)
			go func() {
				defer wg.Done()
				assert.NoError(t, repo.AddLogin(ctx, user.ID, ExternalLogin{LoginProvider: "github", ProviderKey: "shared"}))
			}()
		}
		wg.Wait()

		logins, err := repo.GetLogins(ctx, user.ID)
		require.NoError(t, err)
		assert.Len(t, logins, workers+1)
	})
}

func TestInMemoryRepository(t *testing.T) {
	testRepository(t, func(t *testing.T) Repository {
		return NewInMemoryRepository()
	})
}

func TestFileRepository(t *testing.T) {
	testRepository(t, func(t *testing.T) Repository {
		repo, err := NewFileRepository(t.TempDir())
		require.NoError(t, err)
		return repo
	})

	t.Run("ReloadFromDisk", func(t *testing.T) {
		ctx := context.Background()
		dir := t.TempDir()

		repo, err := NewFileRepository(dir)
		require.NoError(t, err)
		user, err := repo.CreateUser(ctx, "gina@example.com", "gina@example.com")
		require.NoError(t, err)
		require.NoError(t, repo.AddLogin(ctx, user.ID, ExternalLogin{LoginProvider: "google", ProviderKey: "g-1"}))

		reloaded, err := NewFileRepository(dir)
		require.NoError(t, err)
		found, err := reloaded.FindByLogin(ctx, "google", "g-1")
		require.NoError(t, err)
		assert.Equal(t, user.ID, found.ID)
		found, err = reloaded.FindByEmail(ctx, "GINA@example.com")
		require.NoError(t, err)
		assert.Equal(t, user.ID, found.ID)
	})
}

func TestFileRepositoryFailedSaveKeepsState(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	repo, err := NewFileRepository(dir)
	require.NoError(t, err)
	user, err := repo.CreateUser(ctx, "jane@example.com", "jane@example.com")
	require.NoError(t, err)

	// a directory in place of the temp file makes every save fail
	blocker := filepath.Join(dir, "identities.json.tmp")
	require.NoError(t, os.Mkdir(blocker, 0755))

	_, err = repo.CreateUser(ctx, "kim@example.com", "kim@example.com")
	require.Error(t, err)
	_, err = repo.FindByEmail(ctx, "kim@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)

	err = repo.AddLogin(ctx, user.ID, ExternalLogin{LoginProvider: "google", ProviderKey: "g-9"})
	require.Error(t, err)
	_, err = repo.FindByLogin(ctx, "google", "g-9")
	assert.ErrorIs(t, err, ErrUserNotFound)

	require.NoError(t, os.Remove(blocker))
	require.NoError(t, repo.AddLogin(ctx, user.ID, ExternalLogin{LoginProvider: "google", ProviderKey: "g-9"}))

	reloaded, err := NewFileRepository(dir)
	require.NoError(t, err)
	found, err := reloaded.FindByLogin(ctx, "google", "g-9")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)
	_, err = reloaded.FindByEmail(ctx, "kim@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestSQLiteRepository(t *testing.T) {
	testRepository(t, func(t *testing.T) Repository {
		repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "identity.db"))
		require.NoError(t, err)
		t.Cleanup(func() { repo.Close() })
		return repo
	})
}

func TestSignInManager(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()
	manager := NewSignInManager(repo)

	ok, err := manager.ExternalLoginSignIn(ctx, "google", "g-1")
	require.NoError(t, err)
	assert.False(t, ok)

	user, err := repo.CreateUser(ctx, "hank@example.com", "hank@example.com")
	require.NoError(t, err)
	require.NoError(t, repo.AddLogin(ctx, user.ID, ExternalLogin{LoginProvider: "google", ProviderKey: "g-1"}))

	ok, err = manager.ExternalLoginSignIn(ctx, "google", "g-1")
	require.NoError(t, err)
	assert.True(t, ok)

	// provider names are matched exactly
	ok, err = manager.ExternalLoginSignIn(ctx, "github", "g-1")
	require.NoError(t, err)
	assert.False(t, ok)
}
