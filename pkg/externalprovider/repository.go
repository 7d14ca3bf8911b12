package externalprovider

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrStateNotFound = errors.New("state not found")
	ErrStateExpired  = errors.New("state expired")
)

// OAuth2State represents the state parameter used in OAuth2 flows for security
type OAuth2State struct {
	State     string `json:"state"`
	Provider  string `json:"provider"`
	ReturnURL string `json:"return_url,omitempty"`
	ExpiresAt int64  `json:"expires_at"`
}

func (s *OAuth2State) expired(now time.Time) bool {
	return now.Unix() > s.ExpiresAt
}

// StateRepository stores pending OAuth2 states between challenge and callback
type StateRepository interface {
	StoreState(state *OAuth2State) error
	GetState(stateValue string) (*OAuth2State, error)
	DeleteState(stateValue string) error
	CleanupExpiredStates() error
}

// InMemoryStateRepository implements StateRepository using in-memory storage
type InMemoryStateRepository struct {
	states map[string]*OAuth2State
	mutex  sync.RWMutex
}

// NewInMemoryStateRepository creates a new in-memory state repository
func NewInMemoryStateRepository() *InMemoryStateRepository {
	return &InMemoryStateRepository{
		states: make(map[string]*OAuth2State),
	}
}

// StoreState stores an OAuth2 state for security validation
func (r *InMemoryStateRepository) StoreState(state *OAuth2State) error {
	if state == nil {
		return fmt.Errorf("state cannot be nil")
	}
	if state.State == "" {
		return fmt.Errorf("state value cannot be empty")
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	stateCopy := *state
	r.states[state.State] = &stateCopy
	return nil
}

// GetState retrieves an OAuth2 state by state value
func (r *InMemoryStateRepository) GetState(stateValue string) (*OAuth2State, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	state, exists := r.states[stateValue]
	if !exists {
		return nil, ErrStateNotFound
	}
	if state.expired(time.Now()) {
		return nil, ErrStateExpired
	}

	stateCopy := *state
	return &stateCopy, nil
}

// DeleteState deletes an OAuth2 state
func (r *InMemoryStateRepository) DeleteState(stateValue string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.states[stateValue]; !exists {
		return ErrStateNotFound
	}
	delete(r.states, stateValue)
	return nil
}

// CleanupExpiredStates removes expired OAuth2 states
func (r *InMemoryStateRepository) CleanupExpiredStates() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := time.Now()
	for stateValue, state := range r.states {
		if state.expired(now) {
			delete(r.states, stateValue)
		}
	}
	return nil
}

// GetStateCount returns the number of stored states (useful for testing/monitoring)
func (r *InMemoryStateRepository) GetStateCount() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.states)
}
