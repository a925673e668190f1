package message

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chainmail/internal/crypto"
	"chainmail/internal/domain"
)

// verifySender checks that the identity key in the envelope is the one the
// directory holds for the claimed sender.
func (s *Service) verifySender(ctx context.Context, claimed domain.Address, identity domain.PublicKey) error {
	const op = "verify sender"
	rec, err := s.identities.Identity(ctx, claimed)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.E(domain.KindTrust, op, fmt.Errorf("%w: %s is not registered", domain.ErrSenderNotTrusted, claimed))
	}
	if err != nil {
		return domain.E(domain.KindTransport, op, fmt.Errorf("resolve %s: %w", claimed, err))
	}
	if rec.Fingerprint != crypto.Fingerprint(identity) {
		return domain.E(domain.KindTrust, op, fmt.Errorf("%w: fingerprint mismatch for %s", domain.ErrSenderNotTrusted, claimed))
	}
	return nil
}

// checkFreshness rejects a claimed timestamp further than maxSkew from the
// transport's timestamp for the item.
func checkFreshness(claimed, observed int64, maxSkew time.Duration) error {
	skew := claimed - observed
	if skew < 0 {
		skew = -skew
	}
	if skew > maxSkew.Milliseconds() {
		return domain.E(domain.KindTrust, "check freshness",
			fmt.Errorf("%w: skew %dms exceeds %dms", domain.ErrTimestampNotTrusted, skew, maxSkew.Milliseconds()))
	}
	return nil
}
