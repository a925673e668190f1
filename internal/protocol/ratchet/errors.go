package ratchet

import "errors"

var (
	ErrNoSession        = errors.New("ratchet: session not found")
	ErrStateCorrupt     = errors.New("ratchet: session state unreadable")
	ErrDuplicateMessage = errors.New("ratchet: message key already used")
	ErrDecrypt          = errors.New("ratchet: message authentication failed")
	ErrTooManySkipped   = errors.New("ratchet: too many skipped messages")
	ErrMalformed        = errors.New("ratchet: malformed message")

	errChainUninitialised = errors.New("ratchet: chain key is uninitialised")
)
