package message

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"chainmail/internal/domain"
	"chainmail/internal/events"
)

// WatchStats summarizes one confirmation round.
type WatchStats struct {
	Delivered int
	Failed    int
	Pending   int
}

// CheckDeliveries runs one confirmation round over every DELIVERING
// message. A message reaching the required depth becomes DELIVERED; one the
// transport reports as failed, or still unconfirmed after ConfirmRounds
// rounds, becomes FAILED.
func (s *Service) CheckDeliveries(ctx context.Context) (WatchStats, error) {
	pending, err := s.store.MessagesByStatus(ctx, s.cfg.Owner, domain.StatusDelivering)
	if err != nil {
		return WatchStats{}, domain.E(domain.KindUnknown, "load pending", err)
	}

	var stats WatchStats
	live := make(map[domain.MessageID]bool, len(pending))
	for _, m := range pending {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		live[m.ID] = true

		status := s.confirm(ctx, m)
		if status == domain.StatusDelivering {
			stats.Pending++
			continue
		}
		if err := s.store.UpdateMessageStatus(ctx, s.cfg.Owner, m.ID, status); err != nil {
			s.log.Ctx(ctx).Error("update message status", zap.String("message_id", m.ID.String()), zap.Error(err))
			continue
		}
		s.forget(m.ID)
		m.Status = status
		if status == domain.StatusDelivered {
			stats.Delivered++
		} else {
			stats.Failed++
		}
		s.emitStatus(ctx, m)
	}

	s.roundsMu.Lock()
	for id := range s.rounds {
		if !live[id] {
			delete(s.rounds, id)
		}
	}
	s.roundsMu.Unlock()
	return stats, nil
}

func (s *Service) confirm(ctx context.Context, m domain.Message) domain.MessageStatus {
	l := s.log.Ctx(ctx).With(zap.String("message_id", m.ID.String()), zap.String("ref", m.TransportRef.String()))

	depth, err := s.transport.Confirmations(ctx, m.TransportRef)
	switch {
	case errors.Is(err, domain.ErrRefFailed):
		l.Warn("transport reported send failure")
		return domain.StatusFailed
	case err != nil:
		l.Debug("confirmation check failed", zap.Error(err))
	case depth >= s.cfg.Confirmations:
		return domain.StatusDelivered
	}

	s.roundsMu.Lock()
	s.rounds[m.ID]++
	n := s.rounds[m.ID]
	s.roundsMu.Unlock()
	if n >= s.cfg.ConfirmRounds {
		l.Warn("confirmation timed out", zap.Int("rounds", n))
		return domain.StatusFailed
	}
	return domain.StatusDelivering
}

func (s *Service) forget(id domain.MessageID) {
	s.roundsMu.Lock()
	delete(s.rounds, id)
	s.roundsMu.Unlock()
}

func (s *Service) emitStatus(ctx context.Context, m domain.Message) {
	sess, err := s.store.GetSession(ctx, s.cfg.Owner, m.SessionTag)
	if err != nil {
		sess = domain.Session{Tag: m.SessionTag, Owner: s.cfg.Owner}
	}
	s.emit(ctx, events.MessageStatus, sess, &m)
}
