// Package main runs the chainmail relay: an HTTP front for a shared ledger
// plus the identity and pre-key package directories.
//
// The ledger is either in memory (lost on exit) or a Redis stream shared by
// several relays. A block is sealed every CHAINMAIL_BLOCK_INTERVAL so that
// confirmation depth keeps growing while nobody publishes.
//
// The relay never sees plaintext or private keys; it only stores sealed
// frames and public keys. See package internal/relay for the HTTP API.
package main
