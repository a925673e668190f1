package store

import (
	"path/filepath"
	"slices"
	"strconv"
	"sync"

	"chainmail/internal/domain"
)

const (
	preKeyPairsFile = "prekey_pairs.json"
	preKeyMetaFile  = "prekey_meta.json"
)

// PreKeyFileStore persists the private halves of published pre-keys.
type PreKeyFileStore struct {
	dir string
	mu  sync.Mutex
}

// NewPreKeyFileStore returns a PreKeyFileStore rooted at dir.
func NewPreKeyFileStore(dir string) *PreKeyFileStore {
	return &PreKeyFileStore{dir: dir}
}

// JSON object keys must be strings.
type preKeyPairs map[string]domain.KeyPair

func idKey(id domain.PreKeyID) string { return strconv.FormatUint(uint64(id), 10) }

func (s *PreKeyFileStore) read() (preKeyPairs, error) {
	m := preKeyPairs{}
	if _, err := readJSON(filepath.Join(s.dir, preKeyPairsFile), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *PreKeyFileStore) write(m preKeyPairs) error {
	return writeJSON(filepath.Join(s.dir, preKeyPairsFile), m)
}

// Load returns the pair stored under id.
func (s *PreKeyFileStore) Load(id domain.PreKeyID) (domain.KeyPair, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.read()
	if err != nil {
		return domain.KeyPair{}, false, err
	}
	kp, ok := m[idKey(id)]
	return kp, ok, nil
}

// Save stores pair under id, replacing any previous pair.
func (s *PreKeyFileStore) Save(id domain.PreKeyID, pair domain.KeyPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.read()
	if err != nil {
		return err
	}
	m[idKey(id)] = pair
	return s.write(m)
}

// Delete removes id. Deleting an unknown id is a no-op.
func (s *PreKeyFileStore) Delete(id domain.PreKeyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := m[idKey(id)]; !ok {
		return nil
	}
	delete(m, idKey(id))
	return s.write(m)
}

// IDs lists the stored ids in ascending order.
func (s *PreKeyFileStore) IDs() ([]domain.PreKeyID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.read()
	if err != nil {
		return nil, err
	}
	out := make([]domain.PreKeyID, 0, len(m))
	for k := range m {
		n, err := strconv.ParseUint(k, 10, 16)
		if err != nil {
			continue
		}
		out = append(out, domain.PreKeyID(n))
	}
	slices.Sort(out)
	return out, nil
}

// SaveMeta records the current package generation.
func (s *PreKeyFileStore) SaveMeta(meta domain.PreKeyMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(filepath.Join(s.dir, preKeyMetaFile), meta)
}

// LoadMeta returns the recorded package generation, if any.
func (s *PreKeyFileStore) LoadMeta() (domain.PreKeyMeta, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var meta domain.PreKeyMeta
	ok, err := readJSON(filepath.Join(s.dir, preKeyMetaFile), &meta)
	return meta, ok, err
}

var _ domain.PreKeyStore = (*PreKeyFileStore)(nil)
