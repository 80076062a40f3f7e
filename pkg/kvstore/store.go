// Package kvstore is the flat key/value store the session is persisted
// through. Values live in memory between Reload and Save; backends decide
// where Save puts them.
package kvstore

import (
	"fmt"
	"sync"

	"wxharvest/pkg/config"
)

// Store is a string key/value store with explicit persistence
type Store interface {
	// Get returns the value for key, or def when unset
	Get(key, def string) string
	Set(key, value string)
	Delete(key string)
	// Save persists the current values
	Save() error
	// Reload replaces the in-memory values with the persisted ones
	Reload() error
}

type backend interface {
	load() (map[string]string, error)
	persist(values map[string]string) error
}

type kv struct {
	mu      sync.RWMutex
	values  map[string]string
	backend backend
}

func newKV(b backend) (*kv, error) {
	s := &kv{values: map[string]string{}, backend: b}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *kv) Get(key, def string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.values[key]; ok {
		return v
	}
	return def
}

func (s *kv) Set(key, value string) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
}

func (s *kv) Delete(key string) {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
}

func (s *kv) Save() error {
	s.mu.RLock()
	snapshot := make(map[string]string, len(s.values))
	for k, v := range s.values {
		snapshot[k] = v
	}
	s.mu.RUnlock()
	return s.backend.persist(snapshot)
}

func (s *kv) Reload() error {
	values, err := s.backend.load()
	if err != nil {
		return err
	}
	if values == nil {
		values = map[string]string{}
	}
	s.mu.Lock()
	s.values = values
	s.mu.Unlock()
	return nil
}

type memoryBackend struct {
	mu     sync.Mutex
	values map[string]string
}

func (m *memoryBackend) load() (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out, nil
}

func (m *memoryBackend) persist(values map[string]string) error {
	m.mu.Lock()
	m.values = values
	m.mu.Unlock()
	return nil
}

// NewMemoryStore returns a store that persists only for the process lifetime
func NewMemoryStore() Store {
	s, _ := newKV(&memoryBackend{})
	return s
}

// Open builds the store selected by the session configuration
func Open(cfg config.SessionConfig) (Store, error) {
	switch cfg.Backend {
	case "file", "":
		return NewFileStore(cfg.Path)
	case "encrypted":
		return NewEncryptedFileStore(cfg.Path, "")
	case "keyring":
		return NewKeyringStore(keyringService, keyringAccount)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}
