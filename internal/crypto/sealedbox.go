package crypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/nacl/box"

	"chainmail/internal/domain"
)

// SealedBoxOverhead is the size added by SealAnonymous.
const SealedBoxOverhead = box.AnonymousOverhead

var errOpenFailed = errors.New("sealed box: open failed")

// SealAnonymous encrypts msg to recipient without revealing the sender.
func SealAnonymous(msg []byte, recipient domain.PublicKey) ([]byte, error) {
	pub := [32]byte(recipient)
	return box.SealAnonymous(nil, msg, &pub, rand.Reader)
}

// OpenAnonymous decrypts a sealed box with the recipient key pair.
func OpenAnonymous(sealed []byte, kp domain.KeyPair) ([]byte, error) {
	pub := [32]byte(kp.Public)
	priv := [32]byte(kp.Private)
	out, ok := box.OpenAnonymous(nil, sealed, &pub, &priv)
	if !ok {
		return nil, errOpenFailed
	}
	return out, nil
}
