package app

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chainmail/internal/domain"
	"chainmail/internal/logger"
	messagesvc "chainmail/internal/services/message"
	prekeysvc "chainmail/internal/services/prekey"
	sessionsvc "chainmail/internal/services/session"
)

// App is an unlocked node: the local identity and the services acting for it.
type App struct {
	Self     domain.Identity
	Messages *messagesvc.Service
	PreKeys  *prekeysvc.Service
	Sessions *sessionsvc.Engine

	cfg *Config
	log *logger.Logger
}

// Run keeps the node online until ctx ends: it ingests, watches outbound
// confirmations and keeps the published pre-keys fresh.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if err := a.PreKeys.Maintain(ctx, a.Self.Address); err != nil {
		return err
	}
	if err := a.Messages.StartIngest(ctx, a.cfg.PollInterval); err != nil {
		return err
	}
	if err := a.Messages.StartWatcher(ctx, a.cfg.WatchInterval); err != nil {
		a.Messages.StopIngest()
		return err
	}

	g.Go(func() error {
		<-ctx.Done()
		a.Messages.StopIngest()
		a.Messages.StopWatcher()
		return nil
	})
	g.Go(func() error {
		return a.maintain(ctx, a.cfg.MaintainInterval)
	})
	return g.Wait()
}

func (a *App) maintain(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := a.PreKeys.Maintain(ctx, a.Self.Address); err != nil {
				a.log.Logger.Warn("pre-key maintenance failed", zap.Error(err))
			}
		}
	}
}
