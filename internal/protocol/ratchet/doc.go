// Package ratchet implements the Double Ratchet used for every
// conversation, and Engine, which exposes it behind domain.Ratchet.
//
// The algorithm keeps a root key and two message chains (send and
// receive). Each message advances a KDF chain so keys are forward secure.
// When a party changes its DH ratchet public key, both sides derive new
// chain keys from a new root derived via DH.
//
// Every message is sealed with ChaCha20-Poly1305 under its own message key.
// The Poly1305 tag is returned separately as the message MAC; chainmail
// uses it to derive the stored message id.
//
// Decrypt works on a copy of the state and only commits it when the message
// authenticates, so a forged or replayed message never damages a session.
//
// Concurrency: State is NOT safe for concurrent use, and neither is an
// Engine for a single session tag. Callers serialise access per tag.
package ratchet
