// Package users persists accounts and credential secrets on the same
// substrate as the tracking data: the quota-limited local cache always, the
// remote document store best-effort. Secrets live in their own vault keyed by
// username; historical accounts may be keyed under a raw (non-normalized)
// username, so a normalized-key index built at load resolves lookups
// regardless of how the entry was originally stored.
package users

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/core"
	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/core/track"
	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/core/user"
	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/storage/cache"
)

// fixed cache keys and remote collection names
const (
	usersKey   = "users"
	secretsKey = "userPasswords"

	usersCollection   = "users"
	secretsCollection = "passwords"
)

type (
	// secretDoc is the remote shape of one vault entry.
	secretDoc struct {
		Username string `json:"username"`
		Secret   string `json:"secret"`
	}

	// userDoc is the remote shape of one account. Deleted entries stay in the
	// collection as tombstones so a stale client cannot resurrect them.
	userDoc struct {
		user.User
		Deleted bool `json:"deleted,omitempty"`
	}

	Repository struct {
		cache      cache.Store
		usersCol   track.RemoteCollection // nil in cache-only mode
		secretsCol track.RemoteCollection
		logger     core.Logger
		timeout    time.Duration

		mu    sync.RWMutex
		table map[string]user.User
		vault map[string]string // stored key -> bcrypt hash
		index map[string]string // normalized key -> stored key
	}
)

var _ user.Repository = (*Repository)(nil)

// NewRepository loads the cached accounts and secrets, overlays whatever the
// remote store can deliver, and indexes the vault. A nil remote runs
// cache-only; an unreachable remote degrades the same way.
func NewRepository(store cache.Store, remote track.Remote, logger core.Logger, timeout time.Duration) *Repository {
	repo := &Repository{
		cache:   store,
		logger:  logger,
		timeout: timeout,
		table:   make(map[string]user.User),
		vault:   make(map[string]string),
		index:   make(map[string]string),
	}
	if remote != nil {
		repo.usersCol = remote.Collection(usersCollection)
		repo.secretsCol = remote.Collection(secretsCollection)
	}
	repo.load()
	return repo
}

func (repo *Repository) load() {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	var cached []user.User
	if err := repo.cache.Get(usersKey, &cached); err != nil {
		repo.logger.Warn(fmt.Sprintf("users: reading %q from cache: %v", usersKey, err))
	}
	for _, usr := range cached {
		repo.table[usr.ID] = usr
	}
	if err := repo.cache.Get(secretsKey, &repo.vault); err != nil {
		repo.logger.Warn(fmt.Sprintf("users: reading %q from cache: %v", secretsKey, err))
	}

	repo.refreshRemote()
	repo.reindex()
}

// refreshRemote overlays remote accounts and secrets onto the cached state.
// Remote wins per entry; failures leave the cached snapshot serving.
// Caller holds the write lock.
func (repo *Repository) refreshRemote() {
	if repo.usersCol == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), repo.timeout)
	defer cancel()

	docs, err := repo.usersCol.FetchAll(ctx)
	if err != nil {
		repo.logger.Warn(fmt.Sprintf("users: remote fetch failed, serving cached accounts: %v", err))
		return
	}
	for _, raw := range docs {
		var doc userDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			repo.logger.Warn(fmt.Sprintf("users: skipping malformed remote account: %v", err))
			continue
		}
		if doc.Deleted {
			delete(repo.table, doc.ID)
			continue
		}
		hash := repo.table[doc.ID].PasswordHash // json:"-" never travels
		doc.User.PasswordHash = hash
		repo.table[doc.ID] = doc.User
	}

	secrets, err := repo.secretsCol.FetchAll(ctx)
	if err != nil {
		repo.logger.Warn(fmt.Sprintf("users: remote secrets fetch failed, serving cached vault: %v", err))
	} else {
		for _, raw := range secrets {
			var doc secretDoc
			if err := json.Unmarshal(raw, &doc); err != nil {
				repo.logger.Warn(fmt.Sprintf("users: skipping malformed remote secret: %v", err))
				continue
			}
			if doc.Secret == "" {
				delete(repo.vault, doc.Username)
				continue
			}
			repo.vault[doc.Username] = doc.Secret
		}
	}

	repo.persist()
}

// reindex rebuilds the normalized-key index over every stored vault key.
// Caller holds the write lock.
func (repo *Repository) reindex() {
	repo.index = make(map[string]string, len(repo.vault))
	for stored := range repo.vault {
		repo.index[core.CleanString(stored, true /* lower */)] = stored
	}
}

// persist writes both collections back to the cache. Capacity failures are
// logged by the store; the in-memory state keeps serving either way.
// Caller holds the write lock.
func (repo *Repository) persist() {
	users := make([]user.User, 0, len(repo.table))
	for _, usr := range repo.table {
		users = append(users, usr)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })
	repo.cache.Set(usersKey, users)
	repo.cache.Set(secretsKey, repo.vault)
}

// writeRemote pushes one document best-effort; the caller never blocks on it.
func (repo *Repository) writeRemote(col track.RemoteCollection, id string, doc interface{}) {
	if col == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), repo.timeout)
		defer cancel()
		if err := col.WriteOne(ctx, id, doc); err != nil {
			repo.logger.Warn(fmt.Sprintf("users: remote write of %q failed: %v", id, err))
		}
	}()
}

// withSecret attaches the vault hash matching the account's username.
// Caller holds at least the read lock.
func (repo *Repository) withSecret(usr user.User) user.User {
	if stored, ok := repo.index[core.CleanString(usr.Username, true /* lower */)]; ok {
		usr.PasswordHash = []byte(repo.vault[stored])
	}
	return usr
}

func (repo *Repository) query() []user.User {
	users := make([]user.User, 0, len(repo.table))
	for _, usr := range repo.table {
		users = append(users, repo.withSecret(usr))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })
	return users
}

func (repo *Repository) CheckUsernameUniqueness(username, email string, excludedUsers ...user.User) error {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	uname := core.CleanString(username, true /* lower */)
	mail := core.CleanString(email, true /* lower */)
	for _, usr := range repo.table {
		if isExcluded(usr, excludedUsers) {
			continue
		}
		if core.CleanString(usr.Username, true) == uname {
			return user.ErrUsernameExists
		}
		if mail != "" && core.CleanString(usr.Email, true) == mail {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *Repository) CreateUser(usr user.User) (user.User, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	repo.table[usr.ID] = usr
	key := core.CleanString(usr.Username, true /* lower */)
	repo.vault[key] = string(usr.PasswordHash)
	repo.index[key] = key
	repo.persist()

	repo.writeRemote(repo.usersCol, usr.ID, userDoc{User: usr})
	repo.writeRemote(repo.secretsCol, key, secretDoc{Username: key, Secret: string(usr.PasswordHash)})
	return usr, nil
}

func (repo *Repository) QueryAllUsers() ([]user.User, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()
	return repo.query(), nil
}

func (repo *Repository) GetUserByID(id string) (user.User, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	if usr, ok := repo.table[id]; ok {
		return repo.withSecret(usr), nil
	}
	return user.User{}, user.ErrNotFound
}

func (repo *Repository) GetUserByUsername(username string) (user.User, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	for _, usr := range repo.table {
		if core.CleanString(usr.Username, true /* lower */) == username {
			return repo.withSecret(usr), nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *Repository) GetUserByUsernameOrEmail(uname string) (user.User, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	for _, usr := range repo.table {
		if core.CleanString(usr.Username, true) == uname || core.CleanString(usr.Email, true) == uname {
			return repo.withSecret(usr), nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *Repository) UpdateUser(usr user.User, isActive *bool) (user.User, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	// only save set fields
	origUsr, ok := repo.table[usr.ID]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	oldKey := core.CleanString(origUsr.Username, true /* lower */)

	if usr.Roles != nil {
		origUsr.Roles = usr.Roles
	}
	if isActive != nil {
		origUsr.IsActive = *isActive
	}
	if usr.Name != "" {
		origUsr.Name = usr.Name
	}
	if usr.Username != "" {
		origUsr.Username = usr.Username
	}
	if usr.Email != "" {
		origUsr.Email = usr.Email
	}
	if !usr.UpdatedAt.IsZero() {
		origUsr.UpdatedAt = usr.UpdatedAt
	}
	if !usr.LastLogin.IsZero() {
		origUsr.LastLogin = usr.LastLogin
	}
	repo.table[usr.ID] = origUsr

	newKey := core.CleanString(origUsr.Username, true /* lower */)
	if usr.PasswordHash != nil || newKey != oldKey {
		hash := string(usr.PasswordHash)
		if usr.PasswordHash == nil {
			if stored, ok := repo.index[oldKey]; ok {
				hash = repo.vault[stored]
			}
		}
		if stored, ok := repo.index[oldKey]; ok && stored != newKey {
			delete(repo.vault, stored)
			delete(repo.index, oldKey)
		}
		repo.vault[newKey] = hash
		repo.index[newKey] = newKey
		repo.writeRemote(repo.secretsCol, newKey, secretDoc{Username: newKey, Secret: hash})
		if oldKey != newKey {
			repo.writeRemote(repo.secretsCol, oldKey, secretDoc{Username: oldKey})
		}
	}

	repo.persist()
	repo.writeRemote(repo.usersCol, origUsr.ID, userDoc{User: origUsr})
	return repo.withSecret(origUsr), nil
}

func (repo *Repository) DeleteUsersByID(ids ...string) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	for _, id := range ids {
		usr, ok := repo.table[id]
		if !ok {
			continue
		}
		delete(repo.table, id)
		key := core.CleanString(usr.Username, true /* lower */)
		if stored, ok := repo.index[key]; ok {
			delete(repo.vault, stored)
			delete(repo.index, key)
		}
		repo.writeRemote(repo.usersCol, id, userDoc{User: user.User{ID: id}, Deleted: true})
		repo.writeRemote(repo.secretsCol, key, secretDoc{Username: key})
	}
	repo.persist()
	return nil
}

func isExcluded(usr user.User, excludedUsers []user.User) bool {
	for _, excl := range excludedUsers {
		if usr.ID == excl.ID {
			return true
		}
	}
	return false
}
