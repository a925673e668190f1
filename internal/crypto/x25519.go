package crypto

import (
	"crypto/rand"

	"golang.org/x/crypto/curve25519"

	"chainmail/internal/domain"
)

// GenerateX25519 returns a fresh Curve25519 key pair.
// The private key is clamped per RFC 7748.
func GenerateX25519() (domain.KeyPair, error) {
	var kp domain.KeyPair
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return kp, err
	}
	clamp(&kp.Private)
	pub, err := PublicFromPrivate(kp.Private)
	if err != nil {
		return kp, err
	}
	kp.Public = pub
	return kp, nil
}

// PublicFromPrivate derives the public half of priv.
func PublicFromPrivate(priv domain.PrivateKey) (domain.PublicKey, error) {
	var pub domain.PublicKey
	pb, err := curve25519.X25519(priv.Slice(), curve25519.Basepoint)
	if err != nil {
		return pub, err
	}
	copy(pub[:], pb)
	return pub, nil
}

// DH computes X25519 Diffie-Hellman.
func DH(priv domain.PrivateKey, pub domain.PublicKey) (out [32]byte, err error) {
	secret, err := curve25519.X25519(priv.Slice(), pub.Slice())
	if err != nil {
		return out, err
	}
	copy(out[:], secret)
	return out, nil
}

func clamp(k *domain.PrivateKey) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}
