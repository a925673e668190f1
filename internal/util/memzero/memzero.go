// Package memzero wipes key material once it is no longer needed.
package memzero

import (
	"runtime"

	"chainmail/internal/domain"
)

// Zero overwrites b with zeros.
func Zero(b []byte) {
	clear(b)
	runtime.KeepAlive(b)
}

// Key wipes a private key in place.
func Key(k *domain.PrivateKey) {
	if k == nil {
		return
	}
	Zero(k[:])
}

// Pair wipes the private half of kp.
func Pair(kp *domain.KeyPair) {
	if kp == nil {
		return
	}
	Key(&kp.Private)
}
