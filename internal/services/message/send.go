package message

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chainmail/internal/crypto"
	"chainmail/internal/domain"
	"chainmail/internal/events"
	"chainmail/internal/protocol/padding"
	"chainmail/internal/protocol/wire"
	"chainmail/internal/services/prekey"
	"chainmail/internal/services/session"
)

type sendOptions struct {
	subject string
}

// SendOption customizes SendMessage.
type SendOption func(*sendOptions)

// WithSubject sets the subject of a conversation opened by this send. It is
// ignored when the message goes to an existing session.
func WithSubject(subject string) SendOption {
	return func(o *sendOptions) { o.subject = subject }
}

// SendMessage delivers payload to the receiver. MessageClose ends the open
// conversation with to; any other type sends a HELLO when no conversation
// is open and a NORMAL otherwise. The stored message is returned; a CLOSE
// stores none and returns the zero Message.
func (s *Service) SendMessage(ctx context.Context, to domain.Address, payload []byte, typ domain.MessageType, opts ...SendOption) (domain.Message, error) {
	const op = "send message"

	var o sendOptions
	for _, fn := range opts {
		fn(&o)
	}

	open, found, err := s.openSession(ctx, to)
	if err != nil {
		return domain.Message{}, domain.E(domain.KindUnknown, op, err)
	}
	if typ == domain.MessageClose && !found {
		return domain.Message{}, domain.E(domain.KindUnknown, op, fmt.Errorf("no open session with %s: %w", to, domain.ErrNotFound))
	}

	pkg, err := s.packages.Fetch(ctx, to)
	if err != nil {
		return domain.Message{}, domain.E(domain.KindTransport, op, fmt.Errorf("fetch package for %s: %w", to, err))
	}
	today, err := s.keys.Today()
	if err != nil {
		return domain.Message{}, domain.E(domain.KindKeyExhaustion, op, err)
	}
	keyID, keyPub, err := prekey.GetAvailablePreKey(pkg, today)
	if err != nil {
		return domain.Message{}, err
	}
	dest := destination{addr: to, keyID: keyID, key: keyPub}

	var cur *domain.Session
	if found {
		cur = &open
	}
	msg, err := s.send(ctx, dest, cur, typ, payload, o)
	if err != nil && found && typ != domain.MessageClose && session.NeedsHeal(err) {
		s.log.Ctx(ctx).Warn("retrying send as a new session",
			zap.String("session_tag", open.Tag.String()), zap.Error(err))
		msg, err = s.send(ctx, dest, nil, typ, payload, o)
	}
	if err != nil {
		return domain.Message{}, domain.E(domain.KindUnknown, op, err)
	}
	return msg, nil
}

// CloseSession ends the open conversation with peer.
func (s *Service) CloseSession(ctx context.Context, peer domain.Address) error {
	_, err := s.SendMessage(ctx, peer, nil, domain.MessageClose)
	return err
}

type destination struct {
	addr  domain.Address
	keyID domain.PreKeyID
	key   domain.PublicKey
}

func (s *Service) openSession(ctx context.Context, peer domain.Address) (domain.Session, bool, error) {
	sess, err := s.store.FindOpenSession(ctx, s.cfg.Owner, peer)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Session{}, false, nil
	}
	if err != nil {
		return domain.Session{}, false, err
	}
	return sess, true, nil
}

// send performs one attempt. cur is nil when a new session must be opened.
func (s *Service) send(ctx context.Context, dest destination, cur *domain.Session, typ domain.MessageType, payload []byte, o sendOptions) (domain.Message, error) {
	var sess domain.Session
	switch {
	case cur == nil:
		typ = domain.MessageHello
		sess = domain.Session{
			Tag:     domain.SessionTag(uuid.NewString()),
			Owner:   s.cfg.Owner,
			Peer:    dest.addr,
			State:   domain.SessionNew,
			Subject: o.subject,
		}
	case typ != domain.MessageClose:
		typ = domain.MessageNormal
		sess = *cur
	default:
		sess = *cur
	}

	next, err := session.Transition(sess.State, typ)
	if err != nil {
		return domain.Message{}, domain.E(domain.KindStateCorruption, "send", err)
	}

	now := s.now().UnixMilli()
	content := domain.Content{Type: typ, Timestamp: now, From: s.cfg.Owner, Body: payload}
	if typ == domain.MessageHello {
		content.Subject = sess.Subject
	}
	plain, err := wire.EncodeContent(content)
	if err != nil {
		return domain.Message{}, err
	}
	block, length, err := padding.Pad(plain)
	if err != nil {
		return domain.Message{}, err
	}

	ctx = logCtx(ctx, s.cfg.Owner, sess.Tag)
	var stored *domain.Message
	err = s.sessions.Session(sess.Tag, func(tx *session.Tx) error {
		var remote *domain.PublicKey
		if typ == domain.MessageHello {
			remote = &dest.key
		}
		cm, err := tx.Encrypt(ctx, block, remote)
		if err != nil {
			if session.NeedsHeal(err) {
				if herr := tx.Heal(ctx, s.cfg.Owner, err); herr != nil {
					return errors.Join(err, herr)
				}
			}
			return err
		}

		abort := func(err error) error {
			if typ == domain.MessageHello {
				if derr := tx.Discard(ctx); derr != nil {
					return errors.Join(err, derr)
				}
			}
			return err
		}

		frame, err := wire.Seal(domain.Envelope{
			SenderIdentity:  cm.Identity,
			MAC:             cm.MAC,
			BaseKey:         cm.BaseKey,
			SessionTag:      sess.Tag,
			IsPreKeyMessage: cm.PreKey,
			PlaintextLength: length,
			Cipher:          cm.Body,
		}, dest.keyID, dest.key)
		if err != nil {
			return abort(err)
		}
		ref, err := s.transport.Publish(ctx, wire.EncodeFrame(frame))
		if err != nil {
			return abort(domain.E(domain.KindTransport, "publish", err))
		}

		sess.State = next
		sess.LastUpdate = max(sess.LastUpdate, now)
		if next == domain.SessionClosed {
			sess.IsClosed = true
		}
		if typ != domain.MessageClose {
			stored = &domain.Message{
				ID:           crypto.MessageID(cm.MAC),
				Owner:        s.cfg.Owner,
				SessionTag:   sess.Tag,
				Type:         typ,
				Timestamp:    now,
				Payload:      payload,
				IsFromSelf:   true,
				Status:       domain.StatusDelivering,
				TransportRef: ref,
			}
		}
		if _, err := s.store.Commit(ctx, &sess, stored); err != nil {
			return fmt.Errorf("commit sent message: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Message{}, err
	}

	s.log.Ctx(ctx).Debug("message sent", zap.String("type", string(typ)))
	s.emit(ctx, events.SessionUpdated, sess, nil)
	if stored == nil {
		return domain.Message{}, nil
	}
	s.emit(ctx, events.NewMessage, sess, stored)
	return *stored, nil
}
