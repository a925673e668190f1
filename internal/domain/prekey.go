package domain

import "math"

// PreKeyID is a days-since-epoch pre-key identifier.
type PreKeyID uint16

// MaxPreKeyID is the largest id the wire format can carry.
const MaxPreKeyID = math.MaxUint16

// PreKeyPackage is the public table a party publishes so peers can reach
// it without prior contact.
type PreKeyPackage struct {
	Interval     uint8
	LastResortID PreKeyID
	PreKeys      map[PreKeyID]PublicKey
}

// PreKeyMeta describes the package generation currently held in the key
// store.
type PreKeyMeta struct {
	Interval     uint8    `json:"interval"`
	LastResortID PreKeyID `json:"last_resort_id"`
	FirstID      PreKeyID `json:"first_id"`
}
