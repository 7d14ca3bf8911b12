package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// FileRepository implements Repository on top of an InMemoryRepository and
// persists every write to a JSON file in dataDir. Writes are applied to a copy
// that replaces the live state only once it is on disk.
type FileRepository struct {
	dataDir string
	mem     atomic.Pointer[InMemoryRepository]
	mutex   sync.Mutex
}

// identityData represents the structure of data stored in the JSON file
type identityData struct {
	Users  []User          `json:"users"`
	Logins []ExternalLogin `json:"logins"`
}

// NewFileRepository creates a new file-based identity repository
func NewFileRepository(dataDir string) (*FileRepository, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	repo := &FileRepository{dataDir: dataDir}
	stored, err := repo.load()
	if err != nil {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}
	repo.mem.Store(newInMemoryRepositoryFrom(stored))

	return repo, nil
}

func (r *FileRepository) FindByLogin(ctx context.Context, provider, providerKey string) (User, error) {
	return r.mem.Load().FindByLogin(ctx, provider, providerKey)
}

func (r *FileRepository) FindByEmail(ctx context.Context, email string) (User, error) {
	return r.mem.Load().FindByEmail(ctx, email)
}

func (r *FileRepository) FindByID(ctx context.Context, id uuid.UUID) (User, error) {
	return r.mem.Load().FindByID(ctx, id)
}

func (r *FileRepository) GetLogins(ctx context.Context, userID uuid.UUID) ([]ExternalLogin, error) {
	return r.mem.Load().GetLogins(ctx, userID)
}

// CreateUser creates a user and saves the repository to disk
func (r *FileRepository) CreateUser(ctx context.Context, username, email string) (User, error) {
	var user User
	err := r.update(func(next *InMemoryRepository) error {
		var err error
		user, err = next.CreateUser(ctx, username, email)
		return err
	})
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// AddLogin links an external login and saves the repository to disk
func (r *FileRepository) AddLogin(ctx context.Context, userID uuid.UUID, login ExternalLogin) error {
	return r.update(func(next *InMemoryRepository) error {
		return next.AddLogin(ctx, userID, login)
	})
}

// update applies fn to a copy of the current state, saves the copy, and
// publishes it. A failed save leaves the live state untouched.
func (r *FileRepository) update(fn func(next *InMemoryRepository) error) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	next := newInMemoryRepositoryFrom(r.mem.Load().snapshot())
	if err := fn(next); err != nil {
		return err
	}
	if err := r.save(next.snapshot()); err != nil {
		return fmt.Errorf("failed to save data: %w", err)
	}
	r.mem.Store(next)
	return nil
}

func (r *FileRepository) filePath() string {
	return filepath.Join(r.dataDir, "identities.json")
}

// load reads data from the JSON file
func (r *FileRepository) load() (identityData, error) {
	var stored identityData
	data, err := os.ReadFile(r.filePath())
	if err != nil {
		if os.IsNotExist(err) {
			return stored, nil
		}
		return stored, err
	}
	if err := json.Unmarshal(data, &stored); err != nil {
		return stored, err
	}
	return stored, nil
}

// save writes data to the JSON file, replacing it atomically
func (r *FileRepository) save(stored identityData) error {
	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return err
	}

	tmp := r.filePath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, r.filePath())
}

func newInMemoryRepositoryFrom(stored identityData) *InMemoryRepository {
	mem := NewInMemoryRepository()
	for _, user := range stored.Users {
		mem.users[user.ID] = user
		mem.byEmail[NormalizeEmail(user.Email)] = user.ID
	}
	for _, login := range stored.Logins {
		mem.logins[loginKey(login.LoginProvider, login.ProviderKey)] = login
	}
	return mem
}

func (r *InMemoryRepository) snapshot() identityData {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := identityData{
		Users:  make([]User, 0, len(r.users)),
		Logins: make([]ExternalLogin, 0, len(r.logins)),
	}
	for _, user := range r.users {
		stored.Users = append(stored.Users, user)
	}
	for _, login := range r.logins {
		stored.Logins = append(stored.Logins, login)
	}
	return stored
}
