package ratchet

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/rekindle-chat/rekindle/internal/securestore"
)

// MemoryStore is a process-local Store with no persistence, useful for
// tests and ephemeral sessions.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]State)}
}

func (s *MemoryStore) Save(state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[state.ContactID] = state
	return nil
}

func (s *MemoryStore) Get(contactID string) (State, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[contactID]
	return state, ok, nil
}

func (s *MemoryStore) All() ([]State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]State, 0, len(s.sessions))
	for _, state := range s.sessions {
		out = append(out, state)
	}
	return out, nil
}

// FileStore persists every contact's session state as one passphrase-encrypted
// JSON blob. The whole map is rewritten on every Save, which is fine at the
// scale of one user's contact list.
type FileStore struct {
	mu         sync.Mutex
	path       string
	passphrase string
}

func NewFileStore(path, passphrase string) *FileStore {
	return &FileStore{path: path, passphrase: passphrase}
}

func (s *FileStore) Save(state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.loadAllLocked()
	if err != nil {
		return err
	}
	all[state.ContactID] = state
	return s.writeAllLocked(all)
}

func (s *FileStore) Get(contactID string) (State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.loadAllLocked()
	if err != nil {
		return State{}, false, err
	}
	state, ok := all[contactID]
	return state, ok, nil
}

func (s *FileStore) All() ([]State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.loadAllLocked()
	if err != nil {
		return nil, err
	}
	out := make([]State, 0, len(all))
	for _, state := range all {
		out = append(out, state)
	}
	return out, nil
}

func (s *FileStore) loadAllLocked() (map[string]State, error) {
	result := make(map[string]State)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return result, nil
	}
	plain, err := securestore.Decrypt(s.passphrase, data)
	if err != nil {
		if errors.Is(err, securestore.ErrLegacyData) {
			return nil, err
		}
		return nil, err
	}
	if err := json.Unmarshal(plain, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *FileStore) writeAllLocked(all map[string]State) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	data, err := json.Marshal(all)
	if err != nil {
		return err
	}
	encrypted, err := securestore.Encrypt(s.passphrase, data)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, encrypted, 0o600)
}
