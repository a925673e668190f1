package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"chainmail/internal/domain"
)

// Envelope tags.
const (
	tagSenderIdentity = iota
	tagMAC
	tagBaseKey
	tagSessionTag
	tagPreKeyMessage
	tagPlaintextLength
	tagCipher

	envelopeFieldCount
)

type envelopeWire struct {
	SenderIdentity  []byte     `cbor:"0,keyasint"`
	MAC             bytesField `cbor:"1,keyasint"`
	BaseKey         []byte     `cbor:"2,keyasint"`
	SessionTag      bytesField `cbor:"3,keyasint"`
	IsPreKeyMessage bool       `cbor:"4,keyasint"`
	PlaintextLength bytesField `cbor:"5,keyasint"`
	Cipher          []byte     `cbor:"6,keyasint"`
}

type envelopeDecoder func(*domain.Envelope, cbor.RawMessage) error

// envelopeFields is indexed by tag; the declared type pins its length to
// the number of known tags.
var envelopeFields = [envelopeFieldCount]envelopeDecoder{
	tagSenderIdentity: func(e *domain.Envelope, raw cbor.RawMessage) (err error) {
		e.SenderIdentity, err = decodeKeyField(raw)
		return err
	},
	tagMAC: func(e *domain.Envelope, raw cbor.RawMessage) (err error) {
		e.MAC, err = decodeBytesField(raw)
		return err
	},
	tagBaseKey: func(e *domain.Envelope, raw cbor.RawMessage) (err error) {
		e.BaseKey, err = decodeKeyField(raw)
		return err
	},
	tagSessionTag: func(e *domain.Envelope, raw cbor.RawMessage) error {
		b, err := decodeBytesField(raw)
		if err != nil {
			return err
		}
		e.SessionTag = domain.SessionTag(b)
		return nil
	},
	tagPreKeyMessage: func(e *domain.Envelope, raw cbor.RawMessage) error {
		return decMode.Unmarshal(raw, &e.IsPreKeyMessage)
	},
	tagPlaintextLength: func(e *domain.Envelope, raw cbor.RawMessage) error {
		b, err := decodeBytesField(raw)
		if err != nil {
			return err
		}
		if len(b) != 2 {
			return fmt.Errorf("plaintext length: want 2 bytes, got %d", len(b))
		}
		e.PlaintextLength = binary.LittleEndian.Uint16(b)
		return nil
	},
	tagCipher: func(e *domain.Envelope, raw cbor.RawMessage) error {
		return decMode.Unmarshal(raw, &e.Cipher)
	},
}

// EncodeEnvelope serializes env.
func EncodeEnvelope(env domain.Envelope) ([]byte, error) {
	var n [2]byte
	binary.LittleEndian.PutUint16(n[:], env.PlaintextLength)
	b, err := encMode.Marshal(envelopeWire{
		SenderIdentity:  EncodePublicKey(env.SenderIdentity),
		MAC:             bytesField{V: env.MAC},
		BaseKey:         EncodePublicKey(env.BaseKey),
		SessionTag:      bytesField{V: []byte(env.SessionTag)},
		IsPreKeyMessage: env.IsPreKeyMessage,
		PlaintextLength: bytesField{V: n[:]},
		Cipher:          env.Cipher,
	})
	if err != nil {
		return nil, codecErr("encode envelope", err)
	}
	return b, nil
}

// DecodeEnvelope parses an encoded envelope. Unknown tags are skipped;
// every known tag is required.
func DecodeEnvelope(b []byte) (domain.Envelope, error) {
	var env domain.Envelope
	m, err := rawMap(b)
	if err != nil {
		return env, codecErr("decode envelope", err)
	}
	var seen uint
	for tag, raw := range m {
		if tag >= envelopeFieldCount {
			continue
		}
		if err := envelopeFields[tag](&env, raw); err != nil {
			return domain.Envelope{}, codecErr("decode envelope", fmt.Errorf("tag %d: %w", tag, err))
		}
		seen |= 1 << tag
	}
	if seen != 1<<envelopeFieldCount-1 {
		return domain.Envelope{}, codecErr("decode envelope", fmt.Errorf("missing fields (mask %07b)", seen))
	}
	return env, nil
}

func decodeKeyField(raw cbor.RawMessage) (domain.PublicKey, error) {
	var b []byte
	if err := decMode.Unmarshal(raw, &b); err != nil {
		return domain.PublicKey{}, err
	}
	return DecodePublicKey(b)
}
