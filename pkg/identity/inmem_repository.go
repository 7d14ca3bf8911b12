package identity

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepository implements Repository using in-memory storage
type InMemoryRepository struct {
	mu      sync.RWMutex
	users   map[uuid.UUID]User
	byEmail map[string]uuid.UUID
	logins  map[string]ExternalLogin
}

// NewInMemoryRepository creates a new in-memory identity repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		users:   make(map[uuid.UUID]User),
		byEmail: make(map[string]uuid.UUID),
		logins:  make(map[string]ExternalLogin),
	}
}

// FindByLogin returns the user linked to the given provider key
func (r *InMemoryRepository) FindByLogin(ctx context.Context, provider, providerKey string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	login, ok := r.logins[loginKey(provider, providerKey)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	user, ok := r.users[login.UserID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

// FindByEmail returns the user with the given email, ignoring case
func (r *InMemoryRepository) FindByEmail(ctx context.Context, email string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[NormalizeEmail(email)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return r.users[id], nil
}

// FindByID returns the user with the given id
func (r *InMemoryRepository) FindByID(ctx context.Context, id uuid.UUID) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

// CreateUser creates a user, or returns the existing one holding the same email
func (r *InMemoryRepository) CreateUser(ctx context.Context, username, email string) (User, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return User{}, fmt.Errorf("email is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byEmail[normalized]; ok {
		return r.users[id], nil
	}

	user := User{
		ID:        uuid.New(),
		Username:  username,
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}
	r.users[user.ID] = user
	r.byEmail[normalized] = user.ID
	return user, nil
}

// AddLogin links an external login to the user
func (r *InMemoryRepository) AddLogin(ctx context.Context, userID uuid.UUID, login ExternalLogin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[userID]; !ok {
		return ErrUserNotFound
	}

	key := loginKey(login.LoginProvider, login.ProviderKey)
	if existing, ok := r.logins[key]; ok {
		if existing.UserID != userID {
			return ErrLoginAlreadyLinked
		}
		return nil
	}

	login.UserID = userID
	if login.CreatedAt.IsZero() {
		login.CreatedAt = time.Now().UTC()
	}
	r.logins[key] = login
	return nil
}

// GetLogins returns the external logins linked to the user
func (r *InMemoryRepository) GetLogins(ctx context.Context, userID uuid.UUID) ([]ExternalLogin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []ExternalLogin
	for _, login := range r.logins {
		if login.UserID == userID {
			result = append(result, login)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// UserCount returns the number of stored users (useful for testing)
func (r *InMemoryRepository) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// LoginCount returns the number of stored external logins (useful for testing)
func (r *InMemoryRepository) LoginCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.logins)
}
