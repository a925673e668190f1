// Package crypto exposes the primitives chainmail builds on.
//
// Contents
//
//   - X25519 key generation, clamping and Diffie-Hellman (GenerateX25519,
//     PublicFromPrivate, DH)
//   - Anonymous sealed boxes to a recipient key (SealAnonymous, OpenAnonymous)
//   - Identity fingerprints and message ids (Fingerprint, MessageID)
//
// # Notes
//
// Keys use the fixed-size array types from internal/domain. Callers should
// treat returned secrets as sensitive and wipe them with memzero when
// practical.
package crypto
