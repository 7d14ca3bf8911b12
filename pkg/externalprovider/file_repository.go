package externalprovider

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStateRepository implements StateRepository using file-based storage, so
// a login started before a restart can still complete.
type FileStateRepository struct {
	dataDir string
	states  map[string]*OAuth2State
	mutex   sync.RWMutex
}

// stateData represents the structure of data stored in the JSON file
type stateData struct {
	States []*OAuth2State `json:"states"`
}

// NewFileStateRepository creates a new file-based state repository
func NewFileStateRepository(dataDir string) (*FileStateRepository, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	repo := &FileStateRepository{
		dataDir: dataDir,
		states:  make(map[string]*OAuth2State),
	}

	if err := repo.load(); err != nil {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}

	return repo, nil
}

// StoreState stores an OAuth2 state for security validation
func (r *FileStateRepository) StoreState(state *OAuth2State) error {
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
	return r.save()
}

// GetState retrieves an OAuth2 state by state value
func (r *FileStateRepository) GetState(stateValue string) (*OAuth2State, error) {
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
func (r *FileStateRepository) DeleteState(stateValue string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.states[stateValue]; !exists {
		return ErrStateNotFound
	}
	delete(r.states, stateValue)
	return r.save()
}

// CleanupExpiredStates removes expired OAuth2 states
func (r *FileStateRepository) CleanupExpiredStates() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := time.Now()
	removed := 0
	for stateValue, state := range r.states {
		if state.expired(now) {
			delete(r.states, stateValue)
			removed++
		}
	}
	if removed == 0 {
		return nil
	}
	return r.save()
}

func (r *FileStateRepository) filePath() string {
	return filepath.Join(r.dataDir, "oauth2_states.json")
}

// load reads pending states from file
func (r *FileStateRepository) load() error {
	data, err := os.ReadFile(r.filePath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var sd stateData
	if err := json.Unmarshal(data, &sd); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}
	for _, state := range sd.States {
		r.states[state.State] = state
	}
	return nil
}

// save writes pending states to file atomically
func (r *FileStateRepository) save() error {
	states := make([]*OAuth2State, 0, len(r.states))
	for _, state := range r.states {
		states = append(states, state)
	}

	jsonData, err := json.MarshalIndent(stateData{States: states}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	tempFile := r.filePath() + ".tmp"
	if err := os.WriteFile(tempFile, jsonData, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempFile, r.filePath()); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}
