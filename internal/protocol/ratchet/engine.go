package ratchet

import (
	"context"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"chainmail/internal/crypto"
	"chainmail/internal/domain"
	"chainmail/internal/protocol/x3dh"
)

// message is the serialized ratchet message carried opaquely in envelopes.
type message struct {
	DHPub      []byte `cbor:"0,keyasint"`
	PN         uint32 `cbor:"1,keyasint"`
	N          uint32 `cbor:"2,keyasint"`
	Ciphertext []byte `cbor:"3,keyasint"`
}

// ParseMessage decodes a serialized ratchet message.
func ParseMessage(body []byte) (Header, []byte, error) {
	var m message
	if err := cbor.Unmarshal(body, &m); err != nil {
		return Header{}, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	pub, err := domain.PublicKeyFromBytes(m.DHPub)
	if err != nil {
		return Header{}, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return Header{DHPub: pub, PN: m.PN, N: m.N}, m.Ciphertext, nil
}

func marshalMessage(h Header, ct []byte) ([]byte, error) {
	return cbor.Marshal(message{DHPub: h.DHPub.Slice(), PN: h.PN, N: h.N, Ciphertext: ct})
}

// Engine keeps one ratchet State per session tag in a RatchetStore.
type Engine struct {
	identity domain.KeyPair
	store    domain.RatchetStore
}

// NewEngine returns an Engine acting as identity.
func NewEngine(identity domain.KeyPair, store domain.RatchetStore) *Engine {
	return &Engine{identity: identity, store: store}
}

// Identity returns the local identity public key.
func (e *Engine) Identity(context.Context) (domain.PublicKey, error) {
	return e.identity.Public, nil
}

// LoadSession reports whether a readable session exists for tag.
func (e *Engine) LoadSession(_ context.Context, tag domain.SessionTag) (bool, error) {
	_, ok, err := e.load(tag)
	return ok, err
}

// Encrypt seals plaintext for tag. Without a stored session it opens one to
// remote, and the result is a pre-key message whose base key is the
// handshake ephemeral.
func (e *Engine) Encrypt(_ context.Context, tag domain.SessionTag, plaintext []byte, remote *domain.PublicKey) (domain.CipherMessage, error) {
	const op = "ratchet encrypt"

	st, ok, err := e.load(tag)
	if err != nil {
		return domain.CipherMessage{}, err
	}

	out := domain.CipherMessage{Identity: e.identity.Public}
	if !ok {
		if remote == nil {
			return domain.CipherMessage{}, domain.E(domain.KindStateCorruption, op, ErrNoSession)
		}
		eph, err := crypto.GenerateX25519()
		if err != nil {
			return domain.CipherMessage{}, domain.E(domain.KindCrypto, op, err)
		}
		root, err := x3dh.InitiatorRoot(e.identity.Private, eph.Private, *remote)
		if err != nil {
			return domain.CipherMessage{}, domain.E(domain.KindCrypto, op, err)
		}
		if st, err = InitAsInitiator(root, *remote); err != nil {
			return domain.CipherMessage{}, domain.E(domain.KindCrypto, op, err)
		}
		out.PreKey = true
		out.BaseKey = eph.Public
	}

	h, ct, mac, err := Encrypt(&st, associatedData(tag, e.identity.Public), plaintext)
	if err != nil {
		return domain.CipherMessage{}, domain.E(domain.KindCrypto, op, err)
	}
	if !out.PreKey {
		out.BaseKey = h.DHPub
	}
	if out.Body, err = marshalMessage(h, ct); err != nil {
		return domain.CipherMessage{}, domain.E(domain.KindCodec, op, err)
	}
	out.MAC = mac
	if err := e.save(tag, st); err != nil {
		return domain.CipherMessage{}, err
	}
	return out, nil
}

// Decrypt opens msg for tag. A pre-key message replaces any stored session
// with one derived from local.
func (e *Engine) Decrypt(_ context.Context, tag domain.SessionTag, msg domain.CipherMessage, local *domain.KeyPair) ([]byte, error) {
	const op = "ratchet decrypt"

	h, ct, err := ParseMessage(msg.Body)
	if err != nil {
		return nil, domain.E(domain.KindCodec, op, err)
	}

	var st State
	if msg.PreKey {
		if local == nil {
			return nil, domain.E(domain.KindCrypto, op, errors.New("pre-key message without local pre-key"))
		}
		root, err := x3dh.ResponderRoot(local.Private, msg.Identity, msg.BaseKey)
		if err != nil {
			return nil, domain.E(domain.KindCrypto, op, err)
		}
		if st, err = InitAsResponder(root, local.Private, h.DHPub); err != nil {
			return nil, domain.E(domain.KindCrypto, op, err)
		}
	} else {
		var ok bool
		if st, ok, err = e.load(tag); err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.E(domain.KindStateCorruption, op, ErrNoSession)
		}
	}

	pt, err := Decrypt(&st, associatedData(tag, msg.Identity), h, ct, msg.MAC)
	if err != nil {
		return nil, domain.E(domain.KindCrypto, op, err)
	}
	if err := e.save(tag, st); err != nil {
		return nil, err
	}
	return pt, nil
}

// Snapshot returns the stored blob for tag, or nil when none is held.
func (e *Engine) Snapshot(_ context.Context, tag domain.SessionTag) ([]byte, error) {
	blob, ok, err := e.store.LoadRatchet(tag)
	if err != nil {
		return nil, fmt.Errorf("snapshot ratchet %s: %w", tag, err)
	}
	if !ok {
		return nil, nil
	}
	return blob, nil
}

// Restore puts back a blob taken by Snapshot. A nil blob deletes the state.
func (e *Engine) Restore(_ context.Context, tag domain.SessionTag, blob []byte) error {
	if blob == nil {
		return e.store.DeleteRatchet(tag)
	}
	if err := e.store.SaveRatchet(tag, blob); err != nil {
		return fmt.Errorf("restore ratchet %s: %w", tag, err)
	}
	return nil
}

// DeleteSession forgets the state for tag.
func (e *Engine) DeleteSession(_ context.Context, tag domain.SessionTag) error {
	return e.store.DeleteRatchet(tag)
}

func (e *Engine) load(tag domain.SessionTag) (State, bool, error) {
	blob, ok, err := e.store.LoadRatchet(tag)
	if err != nil {
		return State{}, false, fmt.Errorf("load ratchet %s: %w", tag, err)
	}
	if !ok {
		return State{}, false, nil
	}
	var st State
	if err := cbor.Unmarshal(blob, &st); err != nil || len(st.RootKey) == 0 {
		return State{}, false, domain.E(domain.KindStateCorruption, "load ratchet", fmt.Errorf("%w: %s", ErrStateCorrupt, tag))
	}
	if st.Skipped == nil {
		st.Skipped = make(map[string][]byte)
	}
	return st, true, nil
}

func (e *Engine) save(tag domain.SessionTag, st State) error {
	blob, err := cbor.Marshal(st)
	if err != nil {
		return domain.E(domain.KindCodec, "save ratchet", err)
	}
	if err := e.store.SaveRatchet(tag, blob); err != nil {
		return fmt.Errorf("save ratchet %s: %w", tag, err)
	}
	return nil
}

// associatedData binds every message to its session and sender.
func associatedData(tag domain.SessionTag, sender domain.PublicKey) []byte {
	ad := make([]byte, 0, len(tag)+domain.KeySize)
	ad = append(ad, string(tag)...)
	return append(ad, sender[:]...)
}

var _ domain.Ratchet = (*Engine)(nil)
