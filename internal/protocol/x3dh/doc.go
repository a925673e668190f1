// Package x3dh derives the root key that bootstraps a ratchet session
// between an initiator and a receiver's published pre-key.
//
// # Overview
//
// The receiver publishes a package of X25519 pre-keys. The initiator picks
// one (PK_B), generates an ephemeral key EK_A and mixes two Diffie-Hellman
// values with its long-term identity IK_A:
//
//	DH1 = DH(IK_A, PK_B)   binds the initiator identity
//	DH2 = DH(EK_A, PK_B)   fresh per session
//
// HKDF-SHA256 over DH1 || DH2 yields the 32-byte root key. The receiver
// computes the same pair from PK_B's private half, IK_A and EK_A, which
// travel in the first envelope as the sender identity and base key.
//
// # Security notes
//
// The receiver is authenticated by possession of PK_B; the published
// package is what binds PK_B to the receiver's address. The initiator is
// authenticated by DH1 and by the identity-directory check done on receipt.
package x3dh
