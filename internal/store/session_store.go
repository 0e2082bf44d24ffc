package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"wasock/internal/domain"
)

const sessionFilename = "session.json.enc"

// SessionFileStore persists the session configuration sealed under a passphrase.
type SessionFileStore struct {
	dir    string
	mu     sync.Mutex
	scrypt scryptParams
}

// NewSessionFileStore returns a SessionFileStore rooted at dir.
func NewSessionFileStore(dir string) *SessionFileStore {
	return &SessionFileStore{dir: dir, scrypt: defaultScrypt()}
}

// Path returns the location of the sealed file.
func (s *SessionFileStore) Path() string { return filepath.Join(s.dir, sessionFilename) }

// SaveSession seals cfg and atomically replaces the stored file.
func (s *SessionFileStore) SaveSession(passphrase string, cfg domain.SessionConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	blob, err := seal(passphrase, raw, s.scrypt)
	if err != nil {
		return fmt.Errorf("seal session: %w", err)
	}
	return writeFile(s.Path(), blob)
}

// LoadSession opens the stored file. A missing file yields ok=false.
func (s *SessionFileStore) LoadSession(passphrase string) (domain.SessionConfig, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := readFile(s.Path())
	if err != nil || blob == nil {
		return domain.SessionConfig{}, false, err
	}
	raw, err := open(passphrase, blob)
	if err != nil {
		return domain.SessionConfig{}, false, err
	}
	var cfg domain.SessionConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return domain.SessionConfig{}, false, fmt.Errorf("decode session: %w", err)
	}
	return cfg, true, nil
}

// DeleteSession removes the stored file.
func (s *SessionFileStore) DeleteSession() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return removeFile(s.Path())
}

// Compile-time assertion that SessionFileStore implements domain.SessionStore.
var _ domain.SessionStore = (*SessionFileStore)(nil)
