package domain

// Envelope is the wire message: routing and authentication metadata plus
// the opaque ratchet ciphertext. Treat it as immutable once built.
type Envelope struct {
	SenderIdentity  PublicKey
	MAC             []byte
	BaseKey         PublicKey
	SessionTag      SessionTag
	IsPreKeyMessage bool
	PlaintextLength uint16
	Cipher          []byte
}

// CipherMessage is what the ratchet produces and consumes.
type CipherMessage struct {
	Identity PublicKey // sender identity
	BaseKey  PublicKey
	PreKey   bool
	Body     []byte
	MAC      []byte
}
