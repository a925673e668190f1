package identity

import (
	"context"
	"errors"
	"fmt"
	"unicode"

	"chainmail/internal/crypto"
	"chainmail/internal/domain"
)

const (
	// minPassphraseLength defines the minimum number of characters required for a passphrase.
	minPassphraseLength = 12
)

var (
	// ErrWeakPassphrase is returned when the passphrase fails the strength policy.
	ErrWeakPassphrase = fmt.Errorf(
		"passphrase is too weak (must be at least %d characters and include upper, lower, "+
			"number, and symbol)",
		minPassphraseLength,
	)
	// ErrIdentityExists is returned by GenerateIdentity when one is already stored.
	ErrIdentityExists = errors.New("identity already initialised")
)

// Service manages the local identity key using a backing store.
type Service struct {
	store domain.IdentityStore
}

// New returns an identity service backed by the given store.
func New(s domain.IdentityStore) *Service { return &Service{store: s} }

// GenerateIdentity creates a new identity for addr, saves it encrypted with
// the passphrase, and returns it with its fingerprint. An existing identity
// is never overwritten.
func (s *Service) GenerateIdentity(addr domain.Address, passphrase string) (domain.Identity, domain.Fingerprint, error) {
	if addr == "" {
		return domain.Identity{}, "", errors.New("address required")
	}
	if !isSecurePassphrase(passphrase) {
		return domain.Identity{}, "", ErrWeakPassphrase
	}
	if _, err := s.store.LoadIdentity(passphrase); !errors.Is(err, domain.ErrNotFound) {
		if err == nil {
			return domain.Identity{}, "", ErrIdentityExists
		}
		return domain.Identity{}, "", fmt.Errorf("%w: %v", ErrIdentityExists, err)
	}

	keys, err := crypto.GenerateX25519()
	if err != nil {
		return domain.Identity{}, "", err
	}
	id := domain.Identity{Address: addr, Keys: keys}
	if err := s.store.SaveIdentity(passphrase, id); err != nil {
		return domain.Identity{}, "", err
	}
	return id, crypto.Fingerprint(keys.Public), nil
}

// LoadIdentity decrypts and returns the local identity.
func (s *Service) LoadIdentity(passphrase string) (domain.Identity, error) {
	return s.store.LoadIdentity(passphrase)
}

// FingerprintIdentity returns the fingerprint of the local identity key.
func (s *Service) FingerprintIdentity(passphrase string) (domain.Fingerprint, error) {
	id, err := s.store.LoadIdentity(passphrase)
	if err != nil {
		return "", err
	}
	return crypto.Fingerprint(id.Keys.Public), nil
}

// Register publishes the identity key for the local address.
func (s *Service) Register(ctx context.Context, dir domain.IdentityDirectory, passphrase string) (domain.Identity, error) {
	id, err := s.store.LoadIdentity(passphrase)
	if err != nil {
		return domain.Identity{}, err
	}
	if err := dir.Register(ctx, id.Address, id.Keys.Public); err != nil {
		return domain.Identity{}, domain.E(domain.KindTransport, "register identity", err)
	}
	return id, nil
}

// isSecurePassphrase enforces a basic strength policy.
func isSecurePassphrase(passphrase string) bool {
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	if len(passphrase) < minPassphraseLength {
		return false
	}
	for _, r := range passphrase {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	return hasUpper && hasLower && hasDigit && hasSymbol
}
