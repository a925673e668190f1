package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chainmail/internal/app"
	"chainmail/internal/directory"
	"chainmail/internal/domain"
	"chainmail/internal/ledger"
	"chainmail/internal/ledger/redisledger"
	"chainmail/internal/logger"
	"chainmail/internal/relay"
)

func main() {
	cfg := app.LoadRelayConfig()
	log := logger.New(cfg.LogMode)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Logger.Error("relay stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.RelayConfig, log *logger.Logger) error {
	g, ctx := errgroup.WithContext(ctx)
	dir := directory.NewMemory()

	var backend relay.Ledger
	switch cfg.Ledger {
	case app.LedgerRedis:
		client := redisledger.NewClient(redisledger.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return err
		}
		l := redisledger.New(client, cfg.RedisPrefix)
		backend = l
		g.Go(func() error { return seal(ctx, cfg.BlockInterval, l, log) })
	default:
		l := ledger.New()
		backend = l
		dir.WithIntroducer(func(domain.Address) domain.Ref {
			return domain.Ref(strconv.FormatUint(l.Head(), 10))
		})
		g.Go(func() error {
			l.Run(ctx, cfg.BlockInterval)
			return nil
		})
	}

	srv := relay.NewServer(cfg.Mode, backend, dir, dir, log)
	g.Go(func() error { return srv.ListenAndServe(ctx, cfg.Listen) })

	log.Infof("relay started with %s ledger, block interval %s", cfg.Ledger, cfg.BlockInterval)
	return g.Wait()
}

// seal advances the Redis ledger one block per interval.
func seal(ctx context.Context, interval time.Duration, l *redisledger.Ledger, log *logger.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := l.Advance(ctx, 1); err != nil && ctx.Err() == nil {
				log.Warnf("seal block: %v", err)
			}
		}
	}
}
