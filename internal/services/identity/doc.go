// Package identity manages creation, encryption and loading of the local identity.
//
// It enforces the passphrase policy, generates the X25519 identity key pair
// and persists it through a domain.IdentityStore. Register announces the
// public half to an identity directory so peers can verify our envelopes.
package identity
