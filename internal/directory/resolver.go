package directory

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"chainmail/internal/domain"
	"chainmail/internal/logger"
)

const (
	DefaultAttempts = 3
	DefaultInterval = 200 * time.Millisecond
)

// Resolver adds bounded retries to directory reads. Not-found answers are
// final and never retried.
type Resolver struct {
	ids      domain.IdentityDirectory
	pkgs     domain.PackageDirectory
	attempts int
	interval time.Duration
	log      *logger.Logger
}

type ResolverOption func(*Resolver)

func WithRetry(attempts int, interval time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.attempts = attempts
		r.interval = interval
	}
}

func WithLogger(l *logger.Logger) ResolverOption {
	return func(r *Resolver) { r.log = l }
}

func NewResolver(ids domain.IdentityDirectory, pkgs domain.PackageDirectory, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		ids:      ids,
		pkgs:     pkgs,
		attempts: DefaultAttempts,
		interval: DefaultInterval,
		log:      logger.Nop(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.attempts < 1 {
		r.attempts = 1
	}
	return r
}

func (r *Resolver) policy(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.interval), uint64(r.attempts-1)),
		ctx)
}

func retry[T any](ctx context.Context, r *Resolver, what string, fn func() (T, error)) (T, error) {
	var out T
	op := func() error {
		v, err := fn()
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = v
		return nil
	}
	notify := func(err error, wait time.Duration) {
		r.log.Ctx(ctx).Debug("directory lookup retry",
			zap.String("lookup", what), zap.Duration("wait", wait), zap.Error(err))
	}
	err := backoff.RetryNotify(op, r.policy(ctx), notify)
	return out, err
}

func (r *Resolver) Identity(ctx context.Context, addr domain.Address) (domain.IdentityRecord, error) {
	return retry(ctx, r, "identity", func() (domain.IdentityRecord, error) {
		return r.ids.Identity(ctx, addr)
	})
}

func (r *Resolver) Register(ctx context.Context, addr domain.Address, pub domain.PublicKey) error {
	return r.ids.Register(ctx, addr, pub)
}

func (r *Resolver) Fetch(ctx context.Context, addr domain.Address) (domain.PreKeyPackage, error) {
	return retry(ctx, r, "package", func() (domain.PreKeyPackage, error) {
		return r.pkgs.Fetch(ctx, addr)
	})
}

func (r *Resolver) Publish(ctx context.Context, addr domain.Address, pkg domain.PreKeyPackage) error {
	return r.pkgs.Publish(ctx, addr, pkg)
}

var (
	_ domain.IdentityDirectory = (*Resolver)(nil)
	_ domain.PackageDirectory  = (*Resolver)(nil)
)
