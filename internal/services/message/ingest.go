package message

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"chainmail/internal/crypto"
	"chainmail/internal/domain"
	"chainmail/internal/events"
	"chainmail/internal/logger"
	"chainmail/internal/protocol/padding"
	"chainmail/internal/protocol/wire"
	"chainmail/internal/services/session"
)

// errDuplicate marks an item whose message id is already stored.
var errDuplicate = errors.New("duplicate message")

// IngestStats summarizes one poll.
type IngestStats struct {
	Items     int
	Committed int
	Skipped   int
	Cursor    domain.Cursor
}

// inbound is a frame that unsealed with one of our pre-keys.
type inbound struct {
	item     domain.Item
	env      domain.Envelope
	preKeyID domain.PreKeyID
}

// IngestOnce polls the transport from the stored cursor, processes every
// item independently and advances the cursor.
func (s *Service) IngestOnce(ctx context.Context) (IngestStats, error) {
	owner := s.cfg.Owner
	cursor, err := s.store.Cursor(ctx, owner)
	if err != nil {
		return IngestStats{}, domain.E(domain.KindUnknown, "load cursor", err)
	}
	batch, err := s.transport.Poll(ctx, cursor)
	if err != nil {
		return IngestStats{}, domain.E(domain.KindTransport, "poll", err)
	}

	stats := IngestStats{Items: len(batch.Items), Cursor: cursor}
	opened := make([]inbound, 0, len(batch.Items))
	for _, item := range batch.Items {
		in, err := s.open(item)
		if err != nil {
			stats.Skipped++
			s.logItem(ctx, item, err)
			continue
		}
		opened = append(opened, in)
	}

	// HELLOs first so a NORMAL that overtook its HELLO in the same batch
	// still finds its session.
	slices.SortStableFunc(opened, func(a, b inbound) int {
		switch {
		case a.env.IsPreKeyMessage == b.env.IsPreKeyMessage:
			return 0
		case a.env.IsPreKeyMessage:
			return -1
		default:
			return 1
		}
	})

	for _, in := range opened {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := s.apply(ctx, in); err != nil {
			stats.Skipped++
			s.logItem(ctx, in.item, err)
			continue
		}
		stats.Committed++
	}

	if batch.Head > s.cfg.SafetyMargin {
		if next := domain.Cursor(batch.Head - s.cfg.SafetyMargin); next > cursor {
			if err := s.store.SetCursor(ctx, owner, next); err != nil {
				return stats, domain.E(domain.KindUnknown, "save cursor", err)
			}
			stats.Cursor = next
		}
	}
	return stats, nil
}

func (s *Service) open(item domain.Item) (inbound, error) {
	frame, err := wire.DecodeFrame(item.Frame)
	if err != nil {
		return inbound{}, err
	}
	env, id, err := wire.Open(frame, s.keys.Lookup)
	if err != nil {
		return inbound{}, err
	}
	return inbound{item: item, env: env, preKeyID: id}, nil
}

// apply runs the receive pipeline for one opened item under the session
// lock for its tag.
func (s *Service) apply(ctx context.Context, in inbound) error {
	const op = "ingest"
	owner := s.cfg.Owner
	env := in.env
	id := crypto.MessageID(env.MAC)
	ctx = logCtx(ctx, owner, env.SessionTag)

	var (
		sess domain.Session
		msg  *domain.Message
	)
	err := s.sessions.Session(env.SessionTag, func(tx *session.Tx) error {
		dup, err := s.store.HasMessage(ctx, owner, id)
		if err != nil {
			return err
		}
		if dup {
			return errDuplicate
		}

		existing, err := s.store.GetSession(ctx, owner, env.SessionTag)
		found := err == nil
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		var local *domain.KeyPair
		if env.IsPreKeyMessage {
			if found {
				return domain.E(domain.KindCodec, op, fmt.Errorf("%w: HELLO on %s session", domain.ErrInvalidTransition, existing.State))
			}
			kp, ok, err := s.keys.Lookup(in.preKeyID)
			if err != nil {
				return err
			}
			if !ok {
				return domain.E(domain.KindCrypto, op, domain.ErrNotForUs)
			}
			local = &kp
		} else if !found {
			// Ratchet state without a record cannot be trusted either.
			ok, err := tx.Exists(ctx)
			if err != nil && !session.NeedsHeal(err) {
				return err
			}
			if ok || err != nil {
				cause := domain.E(domain.KindStateCorruption, op, errors.Join(domain.ErrNotFound, err))
				return errors.Join(cause, tx.Heal(ctx, owner, cause))
			}
			return domain.E(domain.KindStateCorruption, op, fmt.Errorf("session record: %w", domain.ErrNotFound))
		}

		plain, err := tx.Decrypt(ctx, domain.CipherMessage{
			Identity: env.SenderIdentity,
			BaseKey:  env.BaseKey,
			PreKey:   env.IsPreKeyMessage,
			Body:     env.Cipher,
			MAC:      env.MAC,
		}, local)
		if err != nil {
			if session.NeedsHeal(err) {
				return errors.Join(err, tx.Heal(ctx, owner, err))
			}
			return err
		}

		// Past this point a rejected item must not leave the ratchet advanced.
		reject := func(err error) error {
			if env.IsPreKeyMessage {
				return errors.Join(err, tx.Discard(ctx))
			}
			return errors.Join(err, tx.Rollback(ctx))
		}

		content, err := decodeContent(plain, env.PlaintextLength)
		if err != nil {
			return reject(err)
		}
		if (content.Type == domain.MessageHello) != env.IsPreKeyMessage {
			return reject(domain.E(domain.KindCodec, op, fmt.Errorf("%s carried in wrong envelope kind", content.Type)))
		}
		if found && content.From != existing.Peer {
			return reject(domain.E(domain.KindTrust, op, fmt.Errorf("%w: %s claims session with %s", domain.ErrSenderNotTrusted, content.From, existing.Peer)))
		}
		if err := s.verifySender(ctx, content.From, env.SenderIdentity); err != nil {
			return reject(err)
		}
		itemTS, err := s.itemTimestamp(ctx, in.item)
		if err != nil {
			return reject(err)
		}
		if err := checkFreshness(content.Timestamp, itemTS, s.cfg.MaxSkew); err != nil {
			return reject(err)
		}

		state := domain.SessionNew
		if found {
			state = existing.State
		}
		next, err := session.Transition(state, content.Type)
		if err != nil {
			return reject(domain.E(domain.KindCodec, op, err))
		}

		if found {
			sess = existing
		} else {
			sess = domain.Session{
				Tag:     env.SessionTag,
				Owner:   owner,
				Peer:    content.From,
				Subject: content.Subject,
			}
		}
		sess.State = next
		sess.IsClosed = next == domain.SessionClosed
		sess.LastUpdate = max(sess.LastUpdate, content.Timestamp)

		if content.Type != domain.MessageClose {
			if !s.isViewing(sess.Tag) {
				sess.UnreadCount++
			}
			msg = &domain.Message{
				ID:           id,
				Owner:        owner,
				SessionTag:   sess.Tag,
				Type:         content.Type,
				Timestamp:    content.Timestamp,
				Payload:      content.Body,
				IsFromSelf:   false,
				Status:       domain.StatusDelivered,
				TransportRef: in.item.Ref,
			}
		}

		inserted, err := s.store.Commit(ctx, &sess, msg)
		if err != nil {
			return reject(fmt.Errorf("commit: %w", err))
		}
		if !inserted {
			return errDuplicate
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Ctx(ctx).Debug("message ingested", zap.String("state", string(sess.State)), zap.String("message_id", id.String()))
	s.emit(ctx, events.SessionUpdated, sess, nil)
	if msg != nil {
		s.emit(ctx, events.NewMessage, sess, msg)
	}
	return nil
}

func decodeContent(block []byte, length uint16) (domain.Content, error) {
	plain, err := padding.Unpad(block, length)
	if err != nil {
		return domain.Content{}, err
	}
	return wire.DecodeContent(plain)
}

func (s *Service) itemTimestamp(ctx context.Context, item domain.Item) (int64, error) {
	if item.Timestamp != 0 {
		return item.Timestamp, nil
	}
	if s.clock == nil {
		return 0, domain.E(domain.KindTransport, "item timestamp", fmt.Errorf("no timestamp for %s", item.Ref))
	}
	ts, err := s.clock.TimestampOf(ctx, item.Ref)
	if err != nil {
		return 0, domain.E(domain.KindTransport, "item timestamp", err)
	}
	return ts, nil
}

// logItem reports a skipped item at a level matching its error kind.
func (s *Service) logItem(ctx context.Context, item domain.Item, err error) {
	l := s.log.Ctx(ctx).With(
		zap.String("ref", item.Ref.String()),
		zap.Uint64("block", item.Block),
		zap.Stringer("kind", domain.KindOf(err)),
		zap.Error(err))
	switch {
	case errors.Is(err, domain.ErrNotForUs), errors.Is(err, errDuplicate):
		l.Debug("item skipped")
	case domain.KindOf(err) == domain.KindTrust:
		l.Warn("untrusted item rejected")
	case domain.KindOf(err) == domain.KindStateCorruption:
		l.Warn("item hit corrupted session")
	case domain.KindOf(err) == domain.KindUnknown, domain.KindOf(err) == domain.KindTransport:
		l.Error("item failed")
	default:
		l.Info("item dropped")
	}
}

func logCtx(ctx context.Context, owner domain.Address, tag domain.SessionTag) context.Context {
	ctx = logger.WithValue(ctx, logger.OwnerKey, owner.String())
	return logger.WithValue(ctx, logger.SessionTagKey, tag.String())
}
