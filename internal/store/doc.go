// Package store provides file-based persistence for chainmail's local state.
//
// # Overview
//
// Everything lives under the configured home directory and is written via a
// temp file followed by a rename, so a crash never leaves a half-written
// file behind. All stores are concurrency-safe via internal locking.
//
//   - IdentityFileStore: the identity key pair, sealed under a passphrase
//     (scrypt + ChaCha20-Poly1305).
//   - PreKeyFileStore: private halves of published pre-keys and the
//     metadata of the current package generation.
//   - RatchetFileStore: one opaque ratchet blob per session tag.
//   - DBFileStore: sessions, messages and ingest cursors (domain.Store).
//
// The PostgreSQL implementation of domain.Store lives in store/postgres.
package store
