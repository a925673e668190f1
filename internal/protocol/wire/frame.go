package wire

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"chainmail/internal/crypto"
	"chainmail/internal/domain"
)

// KeyLookup returns the local pre-key pair for id.
type KeyLookup func(id domain.PreKeyID) (domain.KeyPair, bool, error)

// Seal encodes env, seals it to the receiver's chosen pre-key and prefixes
// the pre-key id.
func Seal(env domain.Envelope, id domain.PreKeyID, to domain.PublicKey) ([]byte, error) {
	b, err := EncodeEnvelope(env)
	if err != nil {
		return nil, err
	}
	sealed, err := crypto.SealAnonymous(b, to)
	if err != nil {
		return nil, domain.E(domain.KindCrypto, "seal envelope", err)
	}
	out := make([]byte, 2, 2+len(sealed))
	binary.LittleEndian.PutUint16(out, uint16(id))
	return append(out, sealed...), nil
}

// Open unseals a frame with the matching local pre-key and decodes the
// envelope. Frames for keys we do not hold, or that fail to unseal, yield
// domain.ErrNotForUs.
func Open(frame []byte, lookup KeyLookup) (domain.Envelope, domain.PreKeyID, error) {
	if len(frame) < 2+crypto.SealedBoxOverhead {
		return domain.Envelope{}, 0, codecErr("open frame", fmt.Errorf("frame too short: %d bytes", len(frame)))
	}
	id := domain.PreKeyID(binary.LittleEndian.Uint16(frame))
	kp, ok, err := lookup(id)
	if err != nil {
		return domain.Envelope{}, id, err
	}
	if !ok {
		return domain.Envelope{}, id, domain.E(domain.KindCrypto, "open frame", domain.ErrNotForUs)
	}
	plain, err := crypto.OpenAnonymous(frame[2:], kp)
	if err != nil {
		return domain.Envelope{}, id, domain.E(domain.KindCrypto, "open frame", errors.Join(domain.ErrNotForUs, err))
	}
	env, err := DecodeEnvelope(plain)
	if err != nil {
		return domain.Envelope{}, id, err
	}
	return env, id, nil
}

// EncodeFrame renders a frame in its transport form.
func EncodeFrame(frame []byte) string { return hex.EncodeToString(frame) }

// DecodeFrame parses the transport form of a frame.
func DecodeFrame(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, codecErr("decode frame", err)
	}
	return b, nil
}
