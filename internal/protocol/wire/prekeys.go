package wire

import (
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"

	"chainmail/internal/domain"
)

// PreKeyPackage tags.
const (
	tagInterval = iota
	tagLastResort
	tagPreKeys

	packageFieldCount
)

type packageWire struct {
	Interval     uint8             `cbor:"0,keyasint"`
	LastResortID uint16            `cbor:"1,keyasint"`
	PreKeys      map[uint16][]byte `cbor:"2,keyasint"`
}

type packageDecoder func(*domain.PreKeyPackage, cbor.RawMessage) error

var packageFields = [packageFieldCount]packageDecoder{
	tagInterval: func(p *domain.PreKeyPackage, raw cbor.RawMessage) error {
		return decMode.Unmarshal(raw, &p.Interval)
	},
	tagLastResort: func(p *domain.PreKeyPackage, raw cbor.RawMessage) error {
		var id uint16
		if err := decMode.Unmarshal(raw, &id); err != nil {
			return err
		}
		p.LastResortID = domain.PreKeyID(id)
		return nil
	},
	tagPreKeys: func(p *domain.PreKeyPackage, raw cbor.RawMessage) error {
		var m map[uint64][]byte
		if err := decMode.Unmarshal(raw, &m); err != nil {
			return err
		}
		p.PreKeys = make(map[domain.PreKeyID]domain.PublicKey, len(m))
		for id, b := range m {
			if id > math.MaxUint16 {
				return fmt.Errorf("pre-key id %d out of range", id)
			}
			pub, err := DecodePublicKey(b)
			if err != nil {
				return fmt.Errorf("pre-key %d: %w", id, err)
			}
			p.PreKeys[domain.PreKeyID(id)] = pub
		}
		return nil
	},
}

// EncodePackage serializes pkg.
func EncodePackage(pkg domain.PreKeyPackage) ([]byte, error) {
	w := packageWire{
		Interval:     pkg.Interval,
		LastResortID: uint16(pkg.LastResortID),
		PreKeys:      make(map[uint16][]byte, len(pkg.PreKeys)),
	}
	for id, pub := range pkg.PreKeys {
		w.PreKeys[uint16(id)] = EncodePublicKey(pub)
	}
	b, err := encMode.Marshal(w)
	if err != nil {
		return nil, codecErr("encode package", err)
	}
	return b, nil
}

// DecodePackage parses an encoded pre-key package.
func DecodePackage(b []byte) (domain.PreKeyPackage, error) {
	var pkg domain.PreKeyPackage
	m, err := rawMap(b)
	if err != nil {
		return pkg, codecErr("decode package", err)
	}
	var seen uint
	for tag, raw := range m {
		if tag >= packageFieldCount {
			continue
		}
		if err := packageFields[tag](&pkg, raw); err != nil {
			return domain.PreKeyPackage{}, codecErr("decode package", fmt.Errorf("tag %d: %w", tag, err))
		}
		seen |= 1 << tag
	}
	if seen != 1<<packageFieldCount-1 {
		return domain.PreKeyPackage{}, codecErr("decode package", fmt.Errorf("missing fields (mask %03b)", seen))
	}
	return pkg, nil
}
