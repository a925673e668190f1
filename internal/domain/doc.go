// Package domain defines the data model and the contracts shared across
// chainmail.
//
// It contains plain types (keys, pre-key packages, envelopes, sessions,
// messages, transport items), the error taxonomy used at every package
// boundary, and the interfaces implemented by stores, directories,
// transports and the ratchet primitive. It has no dependencies on other
// chainmail packages.
package domain
