// Package wire implements the version 1 binary formats exchanged between
// parties.
//
// # Formats
//
// All structures are CBOR maps with small integer keys, encoded in core
// deterministic mode so the same value always produces the same bytes.
//
//	PreKeyPackage  {0: interval u8, 1: lastResortId u16, 2: {id u16: pubkey}}
//	Envelope       {0: senderIdentity, 1: {0: mac}, 2: baseKey,
//	                3: {0: sessionTag}, 4: isPreKeyMessage,
//	                5: {0: plaintextLength (2 bytes LE)}, 6: ratchet cipher}
//	Frame          LE16(preKeyId) || sealed box of the encoded Envelope
//
// Public keys are 33 bytes: a 0x05 type byte followed by the X25519 key.
//
// # Compatibility
//
// Decoders dispatch known tags through fixed tables and skip tags they do
// not recognise. There is no version field: changing the layout is a
// breaking protocol change.
package wire
