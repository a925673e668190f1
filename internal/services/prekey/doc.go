// Package prekey manages the local pre-key table and the published package
// peers use to reach us without prior contact.
//
// Pre-key ids are days since the Unix epoch. A package holds one key per
// day from its generation date plus a single last-resort key that stays
// valid indefinitely. Selection, rotation and garbage collection all reason
// in those day numbers.
package prekey
