package x3dh

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	"chainmail/internal/crypto"
	"chainmail/internal/domain"
	"chainmail/internal/util/memzero"
)

const rootInfo = "chainmail-x3dh"

// InitiatorRoot derives the root key on the initiating side.
func InitiatorRoot(ourIdentity, ourEphemeral domain.PrivateKey, peerPreKey domain.PublicKey) ([]byte, error) {
	dh1, err := crypto.DH(ourIdentity, peerPreKey) // DH(IKA, PKB)
	if err != nil {
		return nil, err
	}
	dh2, err := crypto.DH(ourEphemeral, peerPreKey) // DH(EKA, PKB)
	if err != nil {
		return nil, err
	}
	return derive(dh1, dh2)
}

// ResponderRoot derives the root key on the receiving side.
func ResponderRoot(preKey domain.PrivateKey, peerIdentity, peerEphemeral domain.PublicKey) ([]byte, error) {
	dh1, err := crypto.DH(preKey, peerIdentity) // DH(PKB, IKA)
	if err != nil {
		return nil, err
	}
	dh2, err := crypto.DH(preKey, peerEphemeral) // DH(PKB, EKA)
	if err != nil {
		return nil, err
	}
	return derive(dh1, dh2)
}

func derive(dh1, dh2 [32]byte) ([]byte, error) {
	ikm := make([]byte, 0, 64)
	ikm = append(ikm, dh1[:]...)
	ikm = append(ikm, dh2[:]...)
	defer memzero.Zero(ikm)
	memzero.Zero(dh1[:])
	memzero.Zero(dh2[:])

	root := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, nil, []byte(rootInfo)), root); err != nil {
		return nil, err
	}
	return root, nil
}
