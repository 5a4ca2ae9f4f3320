package auth

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store is the file-backed credential store, keyed by account id.
// API keys are resolved from env vars at startup and held in memory;
// only OAuth token material is written to the runtime cache file.
type Store struct {
	mu    sync.Mutex
	path  string
	creds map[string]Credentials
}

// NewStore returns a store persisting to path. Call Load before use.
func NewStore(path string) *Store {
	return &Store{
		path:  path,
		creds: make(map[string]Credentials),
	}
}

// Load reads the store file. A missing file is not an error.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading credentials: %w", err)
	}
	return yaml.Unmarshal(data, &s.creds)
}

// Save writes the store file with owner-only permissions.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	data, err := yaml.Marshal(s.creds)
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}
	return os.WriteFile(s.path, data, 0600)
}

// Get returns the credentials for an account id.
func (s *Store) Get(accountID string) (Credentials, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[accountID]
	return c, ok
}

// Put replaces the credentials for an account id and persists the store.
func (s *Store) Put(accountID string, c Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[accountID] = c
	return s.saveLocked()
}
