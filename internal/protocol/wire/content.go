package wire

import (
	"fmt"

	"chainmail/internal/domain"
)

var contentTypes = map[domain.MessageType]uint8{
	domain.MessageHello:  0,
	domain.MessageNormal: 1,
	domain.MessageClose:  2,
}

type contentWire struct {
	Type      uint8  `cbor:"0,keyasint"`
	Timestamp int64  `cbor:"1,keyasint"`
	From      string `cbor:"2,keyasint"`
	Subject   string `cbor:"3,keyasint,omitempty"`
	Body      []byte `cbor:"4,keyasint"`
}

// EncodeContent serializes the plaintext structure.
func EncodeContent(c domain.Content) ([]byte, error) {
	t, ok := contentTypes[c.Type]
	if !ok {
		return nil, codecErr("encode content", fmt.Errorf("unknown message type %q", c.Type))
	}
	b, err := encMode.Marshal(contentWire{
		Type:      t,
		Timestamp: c.Timestamp,
		From:      string(c.From),
		Subject:   c.Subject,
		Body:      c.Body,
	})
	if err != nil {
		return nil, codecErr("encode content", err)
	}
	return b, nil
}

// DecodeContent parses a plaintext structure.
func DecodeContent(b []byte) (domain.Content, error) {
	var w contentWire
	if err := decMode.Unmarshal(b, &w); err != nil {
		return domain.Content{}, codecErr("decode content", err)
	}
	for typ, v := range contentTypes {
		if v == w.Type {
			return domain.Content{
				Type:      typ,
				Timestamp: w.Timestamp,
				From:      domain.Address(w.From),
				Subject:   w.Subject,
				Body:      w.Body,
			}, nil
		}
	}
	return domain.Content{}, codecErr("decode content", fmt.Errorf("unknown message type %d", w.Type))
}
