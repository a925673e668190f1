package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"chainmail/internal/domain"
)

const idFilename = "identity.json.enc"

// IdentityFileStore persists the local identity to disk.
type IdentityFileStore struct {
	dir string
	kdf kdfParams
	mu  sync.Mutex
}

// NewIdentityFileStore returns an IdentityFileStore rooted at dir.
func NewIdentityFileStore(dir string) *IdentityFileStore {
	return &IdentityFileStore{dir: dir, kdf: defaultKDF}
}

// SaveIdentity seals id under passphrase and writes it to disk.
func (s *IdentityFileStore) SaveIdentity(passphrase string, id domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(id)
	if err != nil {
		return err
	}
	defer clear(raw)

	blob, err := sealBlob(passphrase, raw, s.kdf)
	if err != nil {
		return fmt.Errorf("seal identity: %w", err)
	}
	return writeFile(filepath.Join(s.dir, idFilename), blob)
}

// LoadIdentity reads and opens the identity. A missing file yields
// domain.ErrNotFound.
func (s *IdentityFileStore) LoadIdentity(passphrase string) (domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := readFile(filepath.Join(s.dir, idFilename))
	if err != nil {
		return domain.Identity{}, err
	}
	if b == nil {
		return domain.Identity{}, fmt.Errorf("identity: %w", domain.ErrNotFound)
	}
	pt, err := openBlob(passphrase, b)
	if err != nil {
		return domain.Identity{}, err
	}
	defer clear(pt)

	var id domain.Identity
	if err := json.Unmarshal(pt, &id); err != nil {
		return domain.Identity{}, fmt.Errorf("decode identity: %w", err)
	}
	return id, nil
}

var _ domain.IdentityStore = (*IdentityFileStore)(nil)
