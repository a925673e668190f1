// Package ledger is an in-memory append-only log implementing
// domain.Transport and domain.Clock.
//
// Every publish seals a new block holding exactly that item; Advance adds
// empty blocks so confirmation depth grows while nobody is publishing. The
// relay runs one ledger for all its clients, and tests use it directly.
package ledger
