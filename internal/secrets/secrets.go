// Package secrets is the credential boundary: a simple get/set keyed store.
// The engine only depends on the Store interface; the file implementation
// mirrors how the host CLI keeps its API key on disk.
package secrets

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// APIKeyName is the key under which the provider credential is stored.
const APIKeyName = "gemini_api_key"

// Store is a keyed credential store. Get returns "" when the key is absent.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// FileStore persists secrets as a JSON object in a 0600 file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore returns a store backed by the given path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Get implements Store.
func (s *FileStore) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.read()
	if err != nil {
		return "", err
	}
	return values[key], nil
}

// Set implements Store.
func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.read()
	if err != nil {
		return err
	}
	values[key] = value
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create secrets directory: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write secrets: %w", err)
	}
	return nil
}

func (s *FileStore) read() (map[string]string, error) {
	values := make(map[string]string)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return values, nil
		}
		return nil, fmt.Errorf("failed to read secrets: %w", err)
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse secrets: %w", err)
	}
	return values, nil
}

// EnvFallback wraps a Store and falls back to an environment variable when
// the underlying store has no value for APIKeyName.
type EnvFallback struct {
	Store
	EnvVar string
}

// Get implements Store.
func (e EnvFallback) Get(key string) (string, error) {
	v, err := e.Store.Get(key)
	if err != nil || v != "" {
		return v, err
	}
	if key == APIKeyName && e.EnvVar != "" {
		return os.Getenv(e.EnvVar), nil
	}
	return "", nil
}
