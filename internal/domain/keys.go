package domain

import "fmt"

// KeySize is the length in bytes of X25519 keys.
const KeySize = 32

// PublicKey is an X25519 public key.
type PublicKey [KeySize]byte

// PrivateKey is a clamped X25519 private key.
type PrivateKey [KeySize]byte

func (k PublicKey) Slice() []byte  { return k[:] }
func (k PrivateKey) Slice() []byte { return k[:] }

// IsZero reports whether k is the all-zero key.
func (k PublicKey) IsZero() bool { return k == PublicKey{} }

// PublicKeyFromBytes copies b into a PublicKey.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var out PublicKey
	if len(b) != KeySize {
		return out, fmt.Errorf("public key: want %d bytes, got %d", KeySize, len(b))
	}
	copy(out[:], b)
	return out, nil
}

// KeyPair is an X25519 key pair.
type KeyPair struct {
	Private PrivateKey `json:"priv"`
	Public  PublicKey  `json:"pub"`
}

// Fingerprint is a digest of a public key used for identity comparison.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }
