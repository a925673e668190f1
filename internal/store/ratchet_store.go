package store

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"

	"chainmail/internal/domain"
)

const ratchetDir = "ratchets"

// RatchetFileStore persists one ratchet state blob per session tag.
type RatchetFileStore struct {
	dir string
	mu  sync.Mutex
}

// NewRatchetFileStore returns a RatchetFileStore rooted at dir.
func NewRatchetFileStore(dir string) *RatchetFileStore {
	return &RatchetFileStore{dir: filepath.Join(dir, ratchetDir)}
}

// Tags are peer-chosen, so file names are their digests.
func (s *RatchetFileStore) path(tag domain.SessionTag) string {
	sum := sha256.Sum256([]byte(tag))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+".bin")
}

// LoadRatchet returns the blob for tag.
func (s *RatchetFileStore) LoadRatchet(tag domain.SessionTag) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := readFile(s.path(tag))
	if err != nil || b == nil {
		return nil, false, err
	}
	return b, true, nil
}

// SaveRatchet replaces the blob for tag.
func (s *RatchetFileStore) SaveRatchet(tag domain.SessionTag, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.dir, dirMode); err != nil {
		return err
	}
	return writeFile(s.path(tag), blob)
}

// DeleteRatchet forgets tag.
func (s *RatchetFileStore) DeleteRatchet(tag domain.SessionTag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return removeFile(s.path(tag))
}

var _ domain.RatchetStore = (*RatchetFileStore)(nil)
