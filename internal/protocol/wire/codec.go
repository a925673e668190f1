package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"chainmail/internal/domain"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	eo := cbor.CoreDetEncOptions()
	eo.NilContainers = cbor.NilContainerAsEmpty
	em, err := eo.EncMode()
	if err != nil {
		panic(err)
	}
	dm, err := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		MaxMapPairs: 4096,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	encMode, decMode = em, dm
}

func codecErr(op string, err error) error {
	return domain.E(domain.KindCodec, op, err)
}

// rawMap decodes b as a map keyed by non-negative integers.
func rawMap(b []byte) (map[uint64]cbor.RawMessage, error) {
	var m map[uint64]cbor.RawMessage
	if err := decMode.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("expected map")
	}
	return m, nil
}

// bytesField is the single-entry wrapper map {0: bytes}.
type bytesField struct {
	V []byte `cbor:"0,keyasint"`
}

func decodeBytesField(raw cbor.RawMessage) ([]byte, error) {
	m, err := rawMap(raw)
	if err != nil {
		return nil, err
	}
	v, ok := m[0]
	if !ok {
		return nil, fmt.Errorf("missing inner tag 0")
	}
	var out []byte
	if err := decMode.Unmarshal(v, &out); err != nil {
		return nil, err
	}
	return out, nil
}
