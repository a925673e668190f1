// Package session serializes ratchet use per conversation and owns the
// conversation state machine.
//
// # Overview
//
// Every encrypt or decrypt for a session tag runs inside Engine.Session,
// which holds an exclusive lock for that tag. Different tags proceed in
// parallel. When the ratchet reports unreadable or missing state for a
// conversation we believe exists, Heal drops both the ratchet state and the
// local record so the next HELLO starts the conversation afresh.
//
// A Tx remembers the ratchet state it saw before its first Decrypt.
// Rollback puts that state back when the caller could not persist the
// result, leaving the message decryptable on a later attempt.
package session
