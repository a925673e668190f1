// Package redisledger keeps the broadcast log in a Redis stream so several
// relays can share it.
//
// Keys (prefix defaults to "chainmail"):
//
//	<prefix>:head   block height counter
//	<prefix>:log    stream, entry id "<block>-0", fields frame and ts
//
// A transport reference is the decimal block number of its entry.
package redisledger
