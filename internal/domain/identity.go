package domain

// Address names a party on the transport.
type Address string

// String returns the string form of the address.
func (a Address) String() string { return string(a) }

// Identity is the long-lived key pair of the local party. It never leaves
// the device.
type Identity struct {
	Address Address `json:"address"`
	Keys    KeyPair `json:"keys"`
}

// IdentityRecord is what the identity directory knows about a party.
type IdentityRecord struct {
	Address      Address     `json:"address"`
	Fingerprint  Fingerprint `json:"fingerprint"`
	IntroducedAt Ref         `json:"introduced_at,omitempty"`
}
