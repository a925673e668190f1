package message

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chainmail/internal/domain"
	"chainmail/internal/events"
	"chainmail/internal/logger"
	"chainmail/internal/services/session"
)

const (
	// DefaultSafetyMargin is how many blocks below the observed head the
	// cursor is kept, so shallow reorganizations are re-read.
	DefaultSafetyMargin = 3
	// DefaultMaxSkew bounds the distance between a message's own timestamp
	// and the transport timestamp.
	DefaultMaxSkew = time.Hour
	// DefaultConfirmations is the depth at which a sent message counts as
	// delivered.
	DefaultConfirmations = 1
	// DefaultConfirmRounds is how many watcher rounds a message may stay
	// DELIVERING before it is marked FAILED.
	DefaultConfirmRounds = 60
)

// KeyRing is the local pre-key table as seen by the messaging core.
type KeyRing interface {
	Lookup(id domain.PreKeyID) (domain.KeyPair, bool, error)
	Today() (domain.PreKeyID, error)
}

type Config struct {
	Owner         domain.Address
	SafetyMargin  uint64
	MaxSkew       time.Duration
	Confirmations int
	ConfirmRounds int
}

func (c *Config) setDefaults() {
	if c.SafetyMargin == 0 {
		c.SafetyMargin = DefaultSafetyMargin
	}
	if c.MaxSkew == 0 {
		c.MaxSkew = DefaultMaxSkew
	}
	if c.Confirmations <= 0 {
		c.Confirmations = DefaultConfirmations
	}
	if c.ConfirmRounds <= 0 {
		c.ConfirmRounds = DefaultConfirmRounds
	}
}

// Deps are the collaborators a Service is built from.
type Deps struct {
	Transport  domain.Transport
	Clock      domain.Clock
	Store      domain.Store
	Sessions   *session.Engine
	Keys       KeyRing
	Identities domain.IdentityDirectory
	Packages   domain.PackageDirectory
	Bus        *events.Bus
	Log        *logger.Logger
	Now        func() time.Time
}

// Service is the messaging API exposed to the CLI and other front ends.
type Service struct {
	cfg        Config
	transport  domain.Transport
	clock      domain.Clock
	store      domain.Store
	sessions   *session.Engine
	keys       KeyRing
	identities domain.IdentityDirectory
	packages   domain.PackageDirectory
	bus        *events.Bus
	log        *logger.Logger
	now        func() time.Time

	viewMu  sync.RWMutex
	viewing domain.SessionTag

	roundsMu sync.Mutex
	rounds   map[domain.MessageID]int

	ingest  *worker
	watcher *worker
}

func New(cfg Config, d Deps) (*Service, error) {
	if cfg.Owner == "" {
		return nil, errors.New("message service: owner address required")
	}
	if d.Transport == nil || d.Store == nil || d.Sessions == nil || d.Keys == nil ||
		d.Identities == nil || d.Packages == nil {
		return nil, errors.New("message service: missing dependency")
	}
	cfg.setDefaults()
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	if d.Bus == nil {
		d.Bus = events.NewBus(d.Log)
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	s := &Service{
		cfg:        cfg,
		transport:  d.Transport,
		clock:      d.Clock,
		store:      d.Store,
		sessions:   d.Sessions,
		keys:       d.Keys,
		identities: d.Identities,
		packages:   d.Packages,
		bus:        d.Bus,
		log:        d.Log.Named("message").With(ownerField(cfg.Owner)),
		now:        d.Now,
		rounds:     make(map[domain.MessageID]int),
	}
	s.ingest = newWorker("ingest", s.log, func(ctx context.Context) error { _, err := s.IngestOnce(ctx); return err })
	s.watcher = newWorker("watcher", s.log, func(ctx context.Context) error { _, err := s.CheckDeliveries(ctx); return err })
	return s, nil
}

// OnSessionUpdated registers a listener for session changes.
func (s *Service) OnSessionUpdated(fn func(domain.Session)) (unsubscribe func()) {
	return s.bus.Subscribe(events.SessionUpdated, func(_ context.Context, e events.Event) error {
		fn(e.Session)
		return nil
	})
}

// OnNewMessage registers a listener for stored messages, sent or received.
func (s *Service) OnNewMessage(fn func(domain.Session, domain.Message)) (unsubscribe func()) {
	return s.bus.Subscribe(events.NewMessage, func(_ context.Context, e events.Event) error {
		if e.Message != nil {
			fn(e.Session, *e.Message)
		}
		return nil
	})
}

// OnMessageStatus registers a listener for delivery status changes.
func (s *Service) OnMessageStatus(fn func(domain.Message)) (unsubscribe func()) {
	return s.bus.Subscribe(events.MessageStatus, func(_ context.Context, e events.Event) error {
		if e.Message != nil {
			fn(*e.Message)
		}
		return nil
	})
}

func (s *Service) emit(ctx context.Context, t events.Type, sess domain.Session, msg *domain.Message) {
	s.bus.Publish(ctx, events.Event{Type: t, Session: sess, Message: msg, Timestamp: s.now().UnixMilli()})
}

// SetViewing marks tag as the conversation currently on screen; its
// incoming messages do not count as unread. An empty tag clears the flag.
func (s *Service) SetViewing(tag domain.SessionTag) {
	s.viewMu.Lock()
	s.viewing = tag
	s.viewMu.Unlock()
}

func (s *Service) isViewing(tag domain.SessionTag) bool {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	return s.viewing != "" && s.viewing == tag
}

// MarkRead resets the unread counter of a session.
func (s *Service) MarkRead(ctx context.Context, tag domain.SessionTag) error {
	var updated domain.Session
	err := s.sessions.Session(tag, func(*session.Tx) error {
		sess, err := s.store.GetSession(ctx, s.cfg.Owner, tag)
		if err != nil {
			return err
		}
		if sess.UnreadCount == 0 {
			updated = sess
			return nil
		}
		sess.UnreadCount = 0
		if err := s.store.PutSession(ctx, sess); err != nil {
			return err
		}
		updated = sess
		return nil
	})
	if err != nil {
		return domain.E(domain.KindUnknown, "mark read", err)
	}
	s.emit(ctx, events.SessionUpdated, updated, nil)
	return nil
}

// Sessions lists the owner's conversations, most recent first.
func (s *Service) Sessions(ctx context.Context) ([]domain.Session, error) {
	out, err := s.store.ListSessions(ctx, s.cfg.Owner)
	return out, domain.E(domain.KindUnknown, "list sessions", err)
}

// History returns the messages of tag with from <= timestamp <= to, in
// self-reported timestamp order. A non-positive to means no upper bound.
func (s *Service) History(ctx context.Context, tag domain.SessionTag, from, to int64) ([]domain.Message, error) {
	out, err := s.store.ListMessages(ctx, s.cfg.Owner, tag, from, to)
	return out, domain.E(domain.KindUnknown, "history", err)
}

// StartIngest polls the transport every interval until StopIngest.
func (s *Service) StartIngest(ctx context.Context, interval time.Duration) error {
	if !s.ingest.Start(ctx, interval) {
		return fmt.Errorf("ingest already running")
	}
	return nil
}

// StopIngest stops the ingest loop after the in-flight poll completes.
func (s *Service) StopIngest() { s.ingest.Stop() }

// StartWatcher checks outbound confirmations every interval until
// StopWatcher.
func (s *Service) StartWatcher(ctx context.Context, interval time.Duration) error {
	if !s.watcher.Start(ctx, interval) {
		return fmt.Errorf("watcher already running")
	}
	return nil
}

// StopWatcher stops the confirmation watcher.
func (s *Service) StopWatcher() { s.watcher.Stop() }
