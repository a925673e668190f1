package prekey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"chainmail/internal/crypto"
	"chainmail/internal/domain"
	"chainmail/internal/logger"
	"chainmail/internal/util/keyedmutex"
	"chainmail/internal/util/memzero"
)

const (
	// DefaultCount is the number of daily keys in a generation.
	DefaultCount = 365
	// DefaultInterval is how many days back a sender may reach.
	DefaultInterval uint8 = 1
)

var errNoGeneration = errors.New("no pre-key generation recorded")

// Service owns the private pre-key table and its published counterpart.
// Access to a single id is serialized so a decrypt never observes a key
// half-way through deletion.
type Service struct {
	keys  domain.PreKeyStore
	dir   domain.PackageDirectory
	log   *logger.Logger
	now   func() time.Time
	count int
	locks keyedmutex.Map[domain.PreKeyID]
}

type Option func(*Service)

// WithClock overrides the wall clock used for day numbers.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithCount overrides how many daily keys a generation holds.
func WithCount(n int) Option { return func(s *Service) { s.count = n } }

func New(keys domain.PreKeyStore, dir domain.PackageDirectory, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.Nop()
	}
	s := &Service{keys: keys, dir: dir, log: log.Named("prekey"), now: time.Now, count: DefaultCount}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Today is the current pre-key id.
func (s *Service) Today() (domain.PreKeyID, error) { return DayOf(s.now()) }

// Lookup returns the private pre-key for id. It satisfies wire.KeyLookup.
func (s *Service) Lookup(id domain.PreKeyID) (domain.KeyPair, bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()
	return s.keys.Load(id)
}

// Generate tops up the table with one key per day from today and a fresh
// last-resort key, records the generation and returns the package to
// publish. Keys still held for days in range are reused so packages already
// in circulation stay valid.
func (s *Service) Generate(ctx context.Context, interval uint8) (domain.PreKeyPackage, error) {
	const op = "generate pre-keys"

	today, err := s.Today()
	if err != nil {
		return domain.PreKeyPackage{}, domain.E(domain.KindKeyExhaustion, op, err)
	}
	if interval == 0 {
		interval = DefaultInterval
	}
	lastResort := int(today) + s.count
	if lastResort > domain.MaxPreKeyID {
		return domain.PreKeyPackage{}, domain.E(domain.KindKeyExhaustion, op,
			fmt.Errorf("last-resort id %d outside pre-key id range", lastResort))
	}

	for day := int(today); day <= lastResort; day++ {
		if err := ctx.Err(); err != nil {
			return domain.PreKeyPackage{}, err
		}
		if err := s.ensure(domain.PreKeyID(day)); err != nil {
			return domain.PreKeyPackage{}, domain.E(domain.KindUnknown, op, err)
		}
	}

	meta := domain.PreKeyMeta{Interval: interval, LastResortID: domain.PreKeyID(lastResort), FirstID: today}
	if err := s.keys.SaveMeta(meta); err != nil {
		return domain.PreKeyPackage{}, fmt.Errorf("%s: save meta: %w", op, err)
	}
	s.log.Logger.Info("pre-key generation ready",
		zap.Uint16("first_id", uint16(today)),
		zap.Uint16("last_resort_id", uint16(lastResort)))
	return s.Package()
}

func (s *Service) ensure(id domain.PreKeyID) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	if _, ok, err := s.keys.Load(id); err != nil || ok {
		return err
	}
	kp, err := crypto.GenerateX25519()
	if err != nil {
		return err
	}
	defer memzero.Pair(&kp)
	return s.keys.Save(id, kp)
}

// Package rebuilds the public package from the held keys of the current
// generation, omitting days that have already expired.
func (s *Service) Package() (domain.PreKeyPackage, error) {
	meta, ok, err := s.keys.LoadMeta()
	if err != nil {
		return domain.PreKeyPackage{}, err
	}
	if !ok {
		return domain.PreKeyPackage{}, domain.E(domain.KindKeyExhaustion, "build package", errNoGeneration)
	}
	today, err := s.Today()
	if err != nil {
		return domain.PreKeyPackage{}, domain.E(domain.KindKeyExhaustion, "build package", err)
	}
	ids, err := s.keys.IDs()
	if err != nil {
		return domain.PreKeyPackage{}, err
	}

	pkg := domain.PreKeyPackage{
		Interval:     meta.Interval,
		LastResortID: meta.LastResortID,
		PreKeys:      make(map[domain.PreKeyID]domain.PublicKey, len(ids)),
	}
	floor := int(today) - int(meta.Interval)
	for _, id := range ids {
		if int(id) <= floor && id != meta.LastResortID {
			continue
		}
		if id > meta.LastResortID {
			continue
		}
		kp, ok, err := s.Lookup(id)
		if err != nil {
			return domain.PreKeyPackage{}, err
		}
		if ok {
			pkg.PreKeys[id] = kp.Public
		}
	}
	return pkg, nil
}

// Publish generates a generation and uploads its package for addr.
func (s *Service) Publish(ctx context.Context, addr domain.Address, interval uint8) (domain.PreKeyPackage, error) {
	pkg, err := s.Generate(ctx, interval)
	if err != nil {
		return domain.PreKeyPackage{}, err
	}
	if err := s.dir.Publish(ctx, addr, pkg); err != nil {
		return domain.PreKeyPackage{}, domain.E(domain.KindTransport, "publish package", err)
	}
	return pkg, nil
}

// GC deletes private keys for days at or before today-interval, keeping the
// last-resort key. It returns how many keys were removed.
func (s *Service) GC(ctx context.Context) (int, error) {
	meta, ok, err := s.keys.LoadMeta()
	if err != nil || !ok {
		return 0, err
	}
	today, err := s.Today()
	if err != nil {
		return 0, domain.E(domain.KindKeyExhaustion, "gc pre-keys", err)
	}
	ids, err := s.keys.IDs()
	if err != nil {
		return 0, err
	}

	cutoff := int(today) - int(meta.Interval)
	removed := 0
	for _, id := range ids {
		if int(id) > cutoff || id == meta.LastResortID {
			continue
		}
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := s.delete(id); err != nil {
			return removed, fmt.Errorf("delete pre-key %d: %w", id, err)
		}
		removed++
	}
	if removed > 0 {
		s.log.Debugf("removed %d expired pre-keys", removed)
	}
	return removed, nil
}

func (s *Service) delete(id domain.PreKeyID) error {
	unlock := s.locks.Lock(id)
	defer unlock()
	return s.keys.Delete(id)
}

// Due reports whether a fresh generation must be published: none exists yet,
// or today+interval has reached the last-resort day.
func (s *Service) Due() (bool, error) {
	meta, ok, err := s.keys.LoadMeta()
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	today, err := s.Today()
	if err != nil {
		return false, domain.E(domain.KindKeyExhaustion, "check rotation", err)
	}
	return int(today)+int(meta.Interval) >= int(meta.LastResortID), nil
}

// Rotate publishes a new generation for addr when one is due and reports
// whether it did.
func (s *Service) Rotate(ctx context.Context, addr domain.Address) (bool, error) {
	due, err := s.Due()
	if err != nil || !due {
		return false, err
	}
	interval := DefaultInterval
	if meta, ok, err := s.keys.LoadMeta(); err == nil && ok {
		interval = meta.Interval
	}
	if _, err := s.Publish(ctx, addr, interval); err != nil {
		return false, err
	}
	s.log.Infof("rotated pre-key package for %s", addr)
	return true, nil
}

// Maintain runs rotation then garbage collection; it is the periodic job
// behind the daemon.
func (s *Service) Maintain(ctx context.Context, addr domain.Address) error {
	if _, err := s.Rotate(ctx, addr); err != nil {
		return err
	}
	_, err := s.GC(ctx)
	return err
}
