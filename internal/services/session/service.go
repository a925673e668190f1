package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"chainmail/internal/domain"
	"chainmail/internal/logger"
	"chainmail/internal/util/keyedmutex"
)

// Engine wraps a domain.Ratchet with per-tag mutual exclusion.
type Engine struct {
	ratchet domain.Ratchet
	store   domain.Store
	log     *logger.Logger
	locks   keyedmutex.Map[domain.SessionTag]
}

func New(r domain.Ratchet, store domain.Store, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{ratchet: r, store: store, log: log.Named("session")}
}

// Snapshotter is implemented by ratchets whose state for a tag can be
// captured and put back.
type Snapshotter interface {
	Snapshot(ctx context.Context, tag domain.SessionTag) ([]byte, error)
	Restore(ctx context.Context, tag domain.SessionTag, blob []byte) error
}

// Tx is the exclusive handle on one tag passed to Session callbacks. It
// must not escape the callback.
type Tx struct {
	e   *Engine
	tag domain.SessionTag

	snap    []byte
	snapped bool
}

// Session runs fn while holding the lock for tag.
func (e *Engine) Session(tag domain.SessionTag, fn func(tx *Tx) error) error {
	unlock := e.locks.Lock(tag)
	defer unlock()
	return fn(&Tx{e: e, tag: tag})
}

// Encrypt is a one-shot locked encrypt.
func (e *Engine) Encrypt(ctx context.Context, tag domain.SessionTag, plaintext []byte, remote *domain.PublicKey) (domain.CipherMessage, error) {
	var out domain.CipherMessage
	err := e.Session(tag, func(tx *Tx) error {
		var err error
		out, err = tx.Encrypt(ctx, plaintext, remote)
		return err
	})
	return out, err
}

// Decrypt is a one-shot locked decrypt.
func (e *Engine) Decrypt(ctx context.Context, tag domain.SessionTag, msg domain.CipherMessage, local *domain.KeyPair) ([]byte, error) {
	var out []byte
	err := e.Session(tag, func(tx *Tx) error {
		var err error
		out, err = tx.Decrypt(ctx, msg, local)
		return err
	})
	return out, err
}

// Exists reports whether ratchet state is held for the tag.
func (tx *Tx) Exists(ctx context.Context) (bool, error) {
	return tx.e.ratchet.LoadSession(ctx, tx.tag)
}

func (tx *Tx) Encrypt(ctx context.Context, plaintext []byte, remote *domain.PublicKey) (domain.CipherMessage, error) {
	return tx.e.ratchet.Encrypt(ctx, tx.tag, plaintext, remote)
}

// Decrypt advances the ratchet. The state it started from is kept until
// the callback returns so Rollback can put it back.
func (tx *Tx) Decrypt(ctx context.Context, msg domain.CipherMessage, local *domain.KeyPair) ([]byte, error) {
	if s, ok := tx.e.ratchet.(Snapshotter); ok && !tx.snapped {
		blob, err := s.Snapshot(ctx, tx.tag)
		if err != nil {
			return nil, err
		}
		tx.snap, tx.snapped = blob, true
	}
	return tx.e.ratchet.Decrypt(ctx, tx.tag, msg, local)
}

// Rollback returns the ratchet to its state before the first Decrypt in
// this callback, so the same message can be decrypted again later.
func (tx *Tx) Rollback(ctx context.Context) error {
	if !tx.snapped {
		return nil
	}
	s := tx.e.ratchet.(Snapshotter)
	if err := s.Restore(ctx, tx.tag, tx.snap); err != nil {
		return fmt.Errorf("rollback ratchet %s: %w", tx.tag, err)
	}
	tx.snapped = false
	return nil
}

// Discard forgets the ratchet state only. It undoes a HELLO that was
// decrypted or encrypted but never committed.
func (tx *Tx) Discard(ctx context.Context) error {
	if err := tx.e.ratchet.DeleteSession(ctx, tx.tag); err != nil {
		return fmt.Errorf("discard ratchet %s: %w", tx.tag, err)
	}
	return nil
}

// Heal deletes the ratchet state and owner's record of the conversation.
func (tx *Tx) Heal(ctx context.Context, owner domain.Address, cause error) error {
	tx.e.log.Ctx(ctx).Warn("healing corrupted session",
		zap.String("session_tag", tx.tag.String()),
		zap.String("owner", owner.String()),
		zap.Error(cause))

	var errs []error
	if err := tx.e.ratchet.DeleteSession(ctx, tx.tag); err != nil {
		errs = append(errs, err)
	}
	if err := tx.e.store.DeleteSession(ctx, owner, tx.tag); err != nil && !errors.Is(err, domain.ErrNotFound) {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("heal session %s: %w", tx.tag, err)
	}
	return nil
}

// NeedsHeal reports whether err means the local state for a tag is gone or
// unreadable.
func NeedsHeal(err error) bool {
	return domain.KindOf(err) == domain.KindStateCorruption
}
