package crypto

import (
	"crypto/sha256"
	"encoding/hex"

	"chainmail/internal/domain"
)

// Fingerprint returns the hex SHA-256 of a public key.
func Fingerprint(pub domain.PublicKey) domain.Fingerprint {
	sum := sha256.Sum256(pub[:])
	return domain.Fingerprint(hex.EncodeToString(sum[:]))
}

// MessageID derives the stored message id from a ratchet MAC.
func MessageID(mac []byte) domain.MessageID {
	sum := sha256.Sum256(mac)
	return domain.MessageID(hex.EncodeToString(sum[:]))
}
