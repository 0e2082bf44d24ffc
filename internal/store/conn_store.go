package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"wasock/internal/domain"
)

const connFilename = "conn.json"

// ConnFileStore keeps the most recent Conn push as JSON on disk.
type ConnFileStore struct {
	dir string
	mu  sync.Mutex
}

// NewConnFileStore returns a ConnFileStore rooted at dir.
func NewConnFileStore(dir string) *ConnFileStore {
	return &ConnFileStore{dir: dir}
}

// SaveConn replaces the stored Conn with info. The raw payload is written when
// present so unknown fields are kept.
func (s *ConnFileStore) SaveConn(info domain.ConnInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := connJSON(info)
	if err != nil {
		return err
	}
	return writeFile(filepath.Join(s.dir, connFilename), raw)
}

// LatestConn returns the stored Conn, if any.
func (s *ConnFileStore) LatestConn() (domain.ConnInfo, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var raw json.RawMessage
	ok, err := readJSON(filepath.Join(s.dir, connFilename), &raw)
	if err != nil || !ok {
		return domain.ConnInfo{}, false, err
	}
	info, err := domain.ParseConnInfo(raw)
	if err != nil {
		return domain.ConnInfo{}, false, fmt.Errorf("decode conn: %w", err)
	}
	return info, true, nil
}

func connJSON(info domain.ConnInfo) ([]byte, error) {
	if len(info.Raw) > 0 {
		return info.Raw, nil
	}
	raw, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("encode conn: %w", err)
	}
	return raw, nil
}

// Compile-time assertion that ConnFileStore implements domain.ConnStore.
var _ domain.ConnStore = (*ConnFileStore)(nil)
