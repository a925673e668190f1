package domain

import (
	"errors"
	"fmt"
)

// Kind classifies failures that cross a package boundary.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindCodec
	KindCrypto
	KindTrust
	KindTransport
	KindKeyExhaustion
	KindStateCorruption
)

func (k Kind) String() string {
	switch k {
	case KindCodec:
		return "codec"
	case KindCrypto:
		return "crypto"
	case KindTrust:
		return "trust"
	case KindTransport:
		return "transport"
	case KindKeyExhaustion:
		return "key_exhaustion"
	case KindStateCorruption:
		return "state_corruption"
	default:
		return "unknown"
	}
}

var (
	ErrMessageTooLarge     = errors.New("message too large")
	ErrNoPreKeysPublished  = errors.New("no pre-keys published")
	ErrSenderNotTrusted    = errors.New("sender not trusted")
	ErrTimestampNotTrusted = errors.New("timestamp not trusted")
	ErrInvalidTransition   = errors.New("invalid session transition")
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrRefFailed           = errors.New("transport reference failed")
	ErrNotForUs            = errors.New("frame not addressed to a local pre-key")
)

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind. A nil err yields nil; an err that is already
// classified keeps its kind.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}
