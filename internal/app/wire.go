package app

import (
	"context"
	"errors"
	"fmt"

	"chainmail/internal/directory"
	"chainmail/internal/directory/s3dir"
	"chainmail/internal/domain"
	"chainmail/internal/events"
	"chainmail/internal/ledger/redisledger"
	"chainmail/internal/logger"
	"chainmail/internal/protocol/ratchet"
	"chainmail/internal/relay"
	"chainmail/internal/services/identity"
	messagesvc "chainmail/internal/services/message"
	prekeysvc "chainmail/internal/services/prekey"
	sessionsvc "chainmail/internal/services/session"
	"chainmail/internal/store"
	"chainmail/internal/store/postgres"
)

// Wire bundles the stores and clients every command shares.
type Wire struct {
	Config    *Config
	Log       *logger.Logger
	Identity  *identity.Service
	Relay     *relay.HTTP
	Transport domain.Transport
	Clock     domain.Clock
	Directory *directory.Resolver
	Store     domain.Store

	closers []func()
}

// NewWire constructs the dependency graph from cfg.
func NewWire(ctx context.Context, cfg *Config, log *logger.Logger) (*Wire, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	w := &Wire{
		Config:   cfg,
		Log:      log,
		Identity: identity.New(store.NewIdentityFileStore(cfg.Home)),
		Relay:    relay.NewHTTP(cfg.RelayURL),
	}

	switch cfg.Store {
	case StorePostgres:
		pg, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		w.Store = pg
		w.closers = append(w.closers, pg.Close)
	default:
		db, err := store.NewDBFileStore(cfg.Home)
		if err != nil {
			return nil, err
		}
		w.Store = db
	}

	switch cfg.Transport {
	case TransportRedis:
		client := redisledger.NewClient(redisledger.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
		})
		l := redisledger.New(client, cfg.RedisPrefix)
		w.Transport, w.Clock = l, l
		w.closers = append(w.closers, func() { _ = client.Close() })
	default:
		w.Transport, w.Clock = w.Relay, w.Relay
	}

	var packages domain.PackageDirectory = w.Relay.Packages()
	if cfg.PreKeyDirectory == DirectoryS3 {
		client, err := s3dir.NewClient(ctx, s3dir.Config{
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			w.Close()
			return nil, err
		}
		packages = s3dir.New(client, cfg.S3Bucket)
	}
	w.Directory = directory.NewResolver(w.Relay, packages, directory.WithLogger(log))
	return w, nil
}

// Open unlocks the local identity and builds the messaging services for it.
func (w *Wire) Open(passphrase string) (*App, error) {
	id, err := w.Identity.LoadIdentity(passphrase)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("no identity in %s, run init first", w.Config.Home)
	}
	if err != nil {
		return nil, err
	}

	sessions := sessionsvc.New(ratchet.NewEngine(id.Keys, store.NewRatchetFileStore(w.Config.Home)), w.Store, w.Log)
	prekeys := prekeysvc.New(store.NewPreKeyFileStore(w.Config.Home), w.Directory, w.Log,
		prekeysvc.WithCount(w.Config.PreKeyCount))
	msgs, err := messagesvc.New(messagesvc.Config{
		Owner:         id.Address,
		Confirmations: w.Config.Confirmations,
		ConfirmRounds: w.Config.ConfirmRounds,
	}, messagesvc.Deps{
		Transport:  w.Transport,
		Clock:      w.Clock,
		Store:      w.Store,
		Sessions:   sessions,
		Keys:       prekeys,
		Identities: w.Directory,
		Packages:   w.Directory,
		Bus:        events.NewBus(w.Log),
		Log:        w.Log,
	})
	if err != nil {
		return nil, err
	}
	return &App{Self: id, Messages: msgs, PreKeys: prekeys, Sessions: sessions, cfg: w.Config, log: w.Log}, nil
}

// Close releases network and database handles.
func (w *Wire) Close() {
	for i := len(w.closers) - 1; i >= 0; i-- {
		w.closers[i]()
	}
	w.closers = nil
}
