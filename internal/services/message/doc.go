// Package message is the messaging core: it sends through the transport,
// ingests what the transport delivers and tracks outbound confirmations.
//
// # Overview
//
// Send: content -> pad -> ratchet encrypt -> envelope -> seal to the
// receiver's chosen pre-key -> Transport.Publish. The message is stored as
// DELIVERING and the watcher later flips it to DELIVERED or FAILED.
//
// Receive: Transport.Poll -> unseal with our pre-key -> decode envelope ->
// dedup by message id -> ratchet decrypt -> unpad -> trust and freshness
// checks -> state transition -> Store.Commit. Each item is isolated: a bad
// item is logged by error kind and skipped.
//
// # Concurrency
//
// Work on one session tag is serialized through session.Engine. Ingest and
// the watcher are background workers with Start/Stop; a stop request is
// honoured between units of work.
package message
