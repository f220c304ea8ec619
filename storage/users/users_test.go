package users

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/core/user"
	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/storage/cache"
)

type testLogger struct{}

func (testLogger) Debug(string, ...interface{}) {}
func (testLogger) Info(string, ...interface{})  {}
func (testLogger) Warn(string, ...interface{})  {}
func (testLogger) Error(string, ...interface{}) {}
func (testLogger) Fatal(string, ...interface{}) {}

func newTestRepo(t *testing.T) (*Repository, cache.Store) {
	t.Helper()
	store := cache.NewMemory(1<<20, testLogger{})
	return NewRepository(store, nil, testLogger{}, time.Second), store
}

func createUser(t *testing.T, repo *Repository, uname, pwd string) user.User {
	t.Helper()
	usr := user.User{
		ID:       uname + "-id",
		Name:     uname,
		Username: uname,
		IsActive: true,
		Roles:    []string{user.RoleTrainer},
	}
	require.NoError(t, usr.SetPassword(pwd))
	usr, err := repo.CreateUser(usr)
	require.NoError(t, err)
	return usr
}

func TestAuthenticateNormalizesUsername(t *testing.T) {
	repo, _ := newTestRepo(t)
	svc := user.NewService(repo, testLogger{})
	createUser(t, repo, "Trainer4", "s3cr3t-w0rd")

	// trailing whitespace and casing must not matter
	for _, uname := range []string{"Trainer4", "trainer4 ", "TRAINER4", "  tRaInEr4  "} {
		usr, err := svc.Authenticate(uname, "s3cr3t-w0rd")
		require.NoError(t, err, "login as %q", uname)
		assert.Equal(t, "Trainer4", usr.Username)
	}

	_, err := svc.Authenticate("trainer4", "wrong")
	assert.Equal(t, user.ErrNotFound, err)
	_, err = svc.Authenticate("trainer5", "s3cr3t-w0rd")
	assert.Equal(t, user.ErrNotFound, err)
}

func TestHistoricalVaultKeysResolve(t *testing.T) {
	// simulate an account persisted before key normalization was introduced:
	// the vault entry sits under the raw username
	store := cache.NewMemory(1<<20, testLogger{})
	var seed user.User
	seed.ID = "u1"
	seed.Username = "Trainer4"
	seed.IsActive = true
	require.NoError(t, seed.SetPassword("s3cr3t-w0rd"))
	require.True(t, store.Set("users", []user.User{seed}))
	require.True(t, store.Set("userPasswords", map[string]string{"Trainer4": string(seed.PasswordHash)}))

	repo := NewRepository(store, nil, testLogger{}, time.Second)
	svc := user.NewService(repo, testLogger{})

	usr, err := svc.Authenticate("trainer4 ", "s3cr3t-w0rd")
	require.NoError(t, err)
	assert.Equal(t, "u1", usr.ID)
}

func TestCheckUsernameUniqueness(t *testing.T) {
	repo, _ := newTestRepo(t)
	usr := createUser(t, repo, "trainer1", "s3cr3t-w0rd")
	usr.Email = "trainer1@skilllab.test"
	_, err := repo.UpdateUser(usr, nil)
	require.NoError(t, err)

	assert.Equal(t, user.ErrUsernameExists, repo.CheckUsernameUniqueness("Trainer1", ""))
	assert.Equal(t, user.ErrEmailExists, repo.CheckUsernameUniqueness("other", "Trainer1@skilllab.test"))
	assert.NoError(t, repo.CheckUsernameUniqueness("other", "other@skilllab.test"))
	// the account itself is excluded when updating
	assert.NoError(t, repo.CheckUsernameUniqueness("trainer1", "trainer1@skilllab.test", usr))
}

func TestUpdateUserPreservesUnsetFields(t *testing.T) {
	repo, _ := newTestRepo(t)
	usr := createUser(t, repo, "trainer1", "s3cr3t-w0rd")

	updated, err := repo.UpdateUser(user.User{ID: usr.ID, Name: "Renamed"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, "trainer1", updated.Username)
	assert.NoError(t, updated.CheckPassword("s3cr3t-w0rd"))

	inactive := false
	updated, err = repo.UpdateUser(user.User{ID: usr.ID}, &inactive)
	require.NoError(t, err)
	assert.False(t, updated.IsActive)

	_, err = repo.UpdateUser(user.User{ID: "nope"}, nil)
	assert.Equal(t, user.ErrNotFound, err)
}

func TestUpdateUserMovesVaultKey(t *testing.T) {
	repo, _ := newTestRepo(t)
	usr := createUser(t, repo, "trainer1", "s3cr3t-w0rd")
	svc := user.NewService(repo, testLogger{})

	_, err := repo.UpdateUser(user.User{ID: usr.ID, Username: "Trainer1Renamed"}, nil)
	require.NoError(t, err)

	got, err := svc.Authenticate("trainer1renamed", "s3cr3t-w0rd")
	require.NoError(t, err)
	assert.Equal(t, usr.ID, got.ID)

	_, err = svc.Authenticate("trainer1", "s3cr3t-w0rd")
	assert.Equal(t, user.ErrNotFound, err)
}

func TestDeleteUsersRemovesCredentials(t *testing.T) {
	repo, store := newTestRepo(t)
	usr := createUser(t, repo, "trainer1", "s3cr3t-w0rd")
	keep := createUser(t, repo, "trainer2", "s3cr3t-w0rd")
	svc := user.NewService(repo, testLogger{})

	require.NoError(t, repo.DeleteUsersByID(usr.ID))

	_, err := svc.Authenticate("trainer1", "s3cr3t-w0rd")
	assert.Equal(t, user.ErrNotFound, err)
	_, err = repo.GetUserByID(usr.ID)
	assert.Equal(t, user.ErrNotFound, err)

	// the survivor and their credentials are intact, in memory and on disk
	_, err = svc.Authenticate("trainer2", "s3cr3t-w0rd")
	require.NoError(t, err)

	reloaded := NewRepository(store, nil, testLogger{}, time.Second)
	_, err = reloaded.GetUserByID(keep.ID)
	assert.NoError(t, err)
	_, err = reloaded.GetUserByID(usr.ID)
	assert.Equal(t, user.ErrNotFound, err)
}

func TestRepositoryReloadsFromCache(t *testing.T) {
	repo, store := newTestRepo(t)
	usr := createUser(t, repo, "trainer1", "s3cr3t-w0rd")

	reloaded := NewRepository(store, nil, testLogger{}, time.Second)
	svc := user.NewService(reloaded, testLogger{})

	got, err := svc.Authenticate("TRAINER1", "s3cr3t-w0rd")
	require.NoError(t, err)
	assert.Equal(t, usr.ID, got.ID)
}
