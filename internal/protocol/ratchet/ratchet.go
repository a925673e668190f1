package ratchet

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"chainmail/internal/crypto"
	"chainmail/internal/domain"
	"chainmail/internal/util/memzero"
)

const (
	nonceSize    = chacha20poly1305.NonceSize
	macSize      = chacha20poly1305.Overhead
	maxSkippedMK = 1000
)

// Header accompanies each ciphertext.
type Header struct {
	DHPub domain.PublicKey
	PN    uint32
	N     uint32
}

// State holds one side of a conversation.
type State struct {
	RootKey   []byte            `cbor:"0,keyasint"`
	DHPriv    domain.PrivateKey `cbor:"1,keyasint"`
	DHPub     domain.PublicKey  `cbor:"2,keyasint"`
	PeerDHPub domain.PublicKey  `cbor:"3,keyasint"`
	SendCK    []byte            `cbor:"4,keyasint"`
	RecvCK    []byte            `cbor:"5,keyasint"`
	Ns        uint32            `cbor:"6,keyasint"`
	Nr        uint32            `cbor:"7,keyasint"`
	PN        uint32            `cbor:"8,keyasint"`
	Skipped   map[string][]byte `cbor:"9,keyasint"`
}

// InitAsInitiator seeds the sending chain from root using a fresh ratchet
// key and the receiver's pre-key.
func InitAsInitiator(root []byte, peerPreKey domain.PublicKey) (State, error) {
	kp, err := crypto.GenerateX25519()
	if err != nil {
		return State{}, err
	}
	dh, err := crypto.DH(kp.Private, peerPreKey)
	if err != nil {
		return State{}, err
	}
	newRK, sendCK := kdfRK(root, dh[:])
	memzero.Zero(dh[:])

	return State{
		RootKey:   newRK,
		DHPriv:    kp.Private,
		DHPub:     kp.Public,
		PeerDHPub: peerPreKey, // until the first reply carries a ratchet key
		SendCK:    sendCK,
		Skipped:   make(map[string][]byte),
	}, nil
}

// InitAsResponder seeds the receiving chain from root using the pre-key
// private half and the sender's ratchet public key.
func InitAsResponder(root []byte, preKey domain.PrivateKey, senderRatchetPub domain.PublicKey) (State, error) {
	kp, err := crypto.GenerateX25519()
	if err != nil {
		return State{}, err
	}
	dh, err := crypto.DH(preKey, senderRatchetPub)
	if err != nil {
		return State{}, err
	}
	newRK, recvCK := kdfRK(root, dh[:])
	memzero.Zero(dh[:])

	return State{
		RootKey:   newRK,
		DHPriv:    kp.Private,
		DHPub:     kp.Public,
		PeerDHPub: senderRatchetPub,
		RecvCK:    recvCK,
		Skipped:   make(map[string][]byte),
	}, nil
}

// Encrypt seals plaintext, stepping the DH ratchet on the first send after
// receiving. It returns the header, the ciphertext without its tag, and the
// tag as MAC.
func Encrypt(st *State, ad, plaintext []byte) (Header, []byte, []byte, error) {
	if len(st.SendCK) == 0 {
		kp, err := crypto.GenerateX25519()
		if err != nil {
			return Header{}, nil, nil, err
		}
		dh, err := crypto.DH(kp.Private, st.PeerDHPub)
		if err != nil {
			return Header{}, nil, nil, err
		}
		rk, sendCK := kdfRK(st.RootKey, dh[:])
		memzero.Zero(dh[:])

		st.PN = st.Ns
		st.Ns = 0
		st.RootKey = rk
		st.DHPriv, st.DHPub = kp.Private, kp.Public
		st.SendCK = sendCK
	}

	mk, err := kdfCKSend(st)
	if err != nil {
		return Header{}, nil, nil, err
	}
	defer memzero.Zero(mk)

	h := Header{DHPub: st.DHPub, PN: st.PN, N: st.Ns}
	aead, err := chacha20poly1305.New(mk)
	if err != nil {
		return Header{}, nil, nil, err
	}
	sealed := aead.Seal(nil, nonce(h.N), plaintext, associated(ad, h))
	st.Ns++

	cut := len(sealed) - macSize
	return h, sealed[:cut], sealed[cut:], nil
}

// Decrypt opens a message. State is only modified when it succeeds.
func Decrypt(st *State, ad []byte, h Header, ciphertext, mac []byte) ([]byte, error) {
	if len(mac) != macSize {
		return nil, fmt.Errorf("%w: mac is %d bytes", ErrMalformed, len(mac))
	}
	work := st.clone()
	pt, err := decrypt(&work, ad, h, ciphertext, mac)
	if err != nil {
		return nil, err
	}
	*st = work
	return pt, nil
}

func decrypt(st *State, ad []byte, h Header, ciphertext, mac []byte) ([]byte, error) {
	// A key skipped earlier, for this or an older ratchet key.
	id := skippedKeyID(h.DHPub, h.N)
	if mk, ok := st.Skipped[id]; ok {
		pt, err := open(mk, h, ad, ciphertext, mac)
		if err != nil {
			return nil, err
		}
		delete(st.Skipped, id)
		memzero.Zero(mk)
		return pt, nil
	}

	if h.DHPub == st.PeerDHPub {
		if h.N < st.Nr {
			return nil, ErrDuplicateMessage
		}
	} else {
		if err := skipUntil(st, h.PN); err != nil {
			return nil, err
		}
		if err := dhStep(st, h.DHPub); err != nil {
			return nil, err
		}
	}

	if err := skipUntil(st, h.N); err != nil {
		return nil, err
	}
	mk, err := kdfCKRecv(st)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(mk)
	pt, err := open(mk, h, ad, ciphertext, mac)
	if err != nil {
		return nil, err
	}
	st.Nr++
	return pt, nil
}

// dhStep advances the receiving chain to the peer's new ratchet key and
// prepares a fresh sending chain for our next message.
func dhStep(st *State, peer domain.PublicKey) error {
	dh, err := crypto.DH(st.DHPriv, peer)
	if err != nil {
		return err
	}
	rk, recvCK := kdfRK(st.RootKey, dh[:])
	memzero.Zero(dh[:])

	st.PN = st.Ns
	st.Ns, st.Nr = 0, 0
	st.RootKey = rk
	st.PeerDHPub = peer
	st.RecvCK = recvCK
	st.SendCK = nil
	return nil
}

func open(mk []byte, h Header, ad, ciphertext, mac []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(mk)
	if err != nil {
		return nil, err
	}
	sealed := make([]byte, 0, len(ciphertext)+len(mac))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, mac...)
	pt, err := aead.Open(nil, nonce(h.N), sealed, associated(ad, h))
	if err != nil {
		return nil, ErrDecrypt
	}
	return pt, nil
}

func nonce(n uint32) []byte {
	out := make([]byte, nonceSize)
	binary.BigEndian.PutUint32(out[nonceSize-4:], n)
	return out
}

func associated(ad []byte, h Header) []byte {
	out := make([]byte, 0, len(ad)+domain.KeySize+8)
	out = append(out, ad...)
	out = append(out, h.DHPub[:]...)
	out = binary.BigEndian.AppendUint32(out, h.PN)
	return binary.BigEndian.AppendUint32(out, h.N)
}

// HKDF-based KDFs with labels.
func kdfRK(rk, dh []byte) (newRK, ck []byte) {
	r := hkdf.New(sha256.New, dh, rk, []byte("DR|rk"))
	newRK = make([]byte, 32)
	ck = make([]byte, 32)
	_, _ = io.ReadFull(r, newRK)
	_, _ = io.ReadFull(r, ck)
	return
}

func kdfCK(ck []byte) (nextCK, mk []byte) {
	r := hkdf.New(sha256.New, ck, nil, []byte("DR|ck"))
	nextCK = make([]byte, 32)
	mk = make([]byte, 32)
	_, _ = io.ReadFull(r, nextCK)
	_, _ = io.ReadFull(r, mk)
	return
}

func kdfCKSend(st *State) ([]byte, error) {
	if len(st.SendCK) == 0 {
		return nil, errChainUninitialised
	}
	nextCK, mk := kdfCK(st.SendCK)
	st.SendCK = nextCK
	return mk, nil
}

func kdfCKRecv(st *State) ([]byte, error) {
	if len(st.RecvCK) == 0 {
		return nil, errChainUninitialised
	}
	nextCK, mk := kdfCK(st.RecvCK)
	st.RecvCK = nextCK
	return mk, nil
}

func skippedKeyID(peer domain.PublicKey, n uint32) string {
	return fmt.Sprintf("%s:%d", hex.EncodeToString(peer[:]), n)
}

// skipUntil stores message keys of the current receiving chain up to n.
func skipUntil(st *State, n uint32) error {
	if len(st.RecvCK) == 0 {
		return nil
	}
	if n > st.Nr && n-st.Nr > maxSkippedMK {
		return ErrTooManySkipped
	}
	for st.Nr < n {
		mk, err := kdfCKRecv(st)
		if err != nil {
			return err
		}
		if len(st.Skipped) >= maxSkippedMK {
			for k := range st.Skipped {
				delete(st.Skipped, k)
				break
			}
		}
		st.Skipped[skippedKeyID(st.PeerDHPub, st.Nr)] = mk
		st.Nr++
	}
	return nil
}

func (st State) clone() State {
	out := st
	out.RootKey = append([]byte(nil), st.RootKey...)
	out.SendCK = append([]byte(nil), st.SendCK...)
	out.RecvCK = append([]byte(nil), st.RecvCK...)
	out.Skipped = make(map[string][]byte, len(st.Skipped))
	for k, v := range st.Skipped {
		out.Skipped[k] = append([]byte(nil), v...)
	}
	return out
}
