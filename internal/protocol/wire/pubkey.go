package wire

import (
	"fmt"

	"chainmail/internal/domain"
)

// KeyTypeX25519 prefixes every serialized public key.
const KeyTypeX25519 byte = 0x05

// PublicKeySize is the serialized public key length.
const PublicKeySize = 1 + domain.KeySize

// EncodePublicKey serializes pub with its type byte.
func EncodePublicKey(pub domain.PublicKey) []byte {
	out := make([]byte, PublicKeySize)
	out[0] = KeyTypeX25519
	copy(out[1:], pub[:])
	return out
}

// DecodePublicKey parses a serialized public key.
func DecodePublicKey(b []byte) (domain.PublicKey, error) {
	var pub domain.PublicKey
	if len(b) != PublicKeySize {
		return pub, codecErr("decode public key", fmt.Errorf("want %d bytes, got %d", PublicKeySize, len(b)))
	}
	if b[0] != KeyTypeX25519 {
		return pub, codecErr("decode public key", fmt.Errorf("unknown key type 0x%02x", b[0]))
	}
	copy(pub[:], b[1:])
	return pub, nil
}
