package directory

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"chainmail/internal/crypto"
	"chainmail/internal/domain"
)

// Memory is an in-process identity and package registry. An address is
// bound to the first identity key registered for it.
type Memory struct {
	mu         sync.RWMutex
	identities map[domain.Address]domain.IdentityRecord
	packages   map[domain.Address]domain.PreKeyPackage
	introduced func(domain.Address) domain.Ref
}

func NewMemory() *Memory {
	return &Memory{
		identities: make(map[domain.Address]domain.IdentityRecord),
		packages:   make(map[domain.Address]domain.PreKeyPackage),
	}
}

// WithIntroducer sets the function that records where an identity was
// first seen, such as a ledger reference.
func (m *Memory) WithIntroducer(fn func(domain.Address) domain.Ref) *Memory {
	m.introduced = fn
	return m
}

func (m *Memory) Identity(_ context.Context, addr domain.Address) (domain.IdentityRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.identities[addr]
	if !ok {
		return domain.IdentityRecord{}, fmt.Errorf("identity %s: %w", addr, domain.ErrNotFound)
	}
	return rec, nil
}

// Register binds addr to pub. Re-registering the same key is a no-op; a
// different key is ErrAlreadyExists.
func (m *Memory) Register(_ context.Context, addr domain.Address, pub domain.PublicKey) error {
	fp := crypto.Fingerprint(pub)

	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.identities[addr]; ok {
		if rec.Fingerprint == fp {
			return nil
		}
		return fmt.Errorf("identity %s: %w", addr, domain.ErrAlreadyExists)
	}
	rec := domain.IdentityRecord{Address: addr, Fingerprint: fp}
	if m.introduced != nil {
		rec.IntroducedAt = m.introduced(addr)
	}
	m.identities[addr] = rec
	return nil
}

func (m *Memory) Publish(_ context.Context, addr domain.Address, pkg domain.PreKeyPackage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.identities[addr]; !ok {
		return fmt.Errorf("publish package for unregistered %s: %w", addr, domain.ErrNotFound)
	}
	pkg.PreKeys = maps.Clone(pkg.PreKeys)
	m.packages[addr] = pkg
	return nil
}

func (m *Memory) Fetch(_ context.Context, addr domain.Address) (domain.PreKeyPackage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pkg, ok := m.packages[addr]
	if !ok {
		return domain.PreKeyPackage{}, fmt.Errorf("package %s: %w", addr, domain.ErrNotFound)
	}
	pkg.PreKeys = maps.Clone(pkg.PreKeys)
	return pkg, nil
}

var (
	_ domain.IdentityDirectory = (*Memory)(nil)
	_ domain.PackageDirectory  = (*Memory)(nil)
)
