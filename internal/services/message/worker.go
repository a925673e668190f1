package message

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"chainmail/internal/domain"
	"chainmail/internal/logger"
)

// worker runs fn on a ticker. Stop is checked between runs only, so the
// unit of work in progress always completes.
type worker struct {
	name string
	log  *logger.Logger
	fn   func(ctx context.Context) error

	mu       sync.Mutex
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func newWorker(name string, log *logger.Logger, fn func(ctx context.Context) error) *worker {
	return &worker{name: name, log: log, fn: fn}
}

// Start launches the loop; it reports false when already running.
func (w *worker) Start(ctx context.Context, interval time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopChan != nil {
		return false
	}
	stop := make(chan struct{})
	w.stopChan = stop
	w.wg.Add(1)
	go w.run(ctx, interval, stop)
	return true
}

// Stop requests the loop to end and waits for it.
func (w *worker) Stop() {
	w.mu.Lock()
	stop := w.stopChan
	w.stopChan = nil
	w.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	w.wg.Wait()
}

func (w *worker) run(ctx context.Context, interval time.Duration, stop <-chan struct{}) {
	defer w.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		default:
		}
		if err := w.fn(ctx); err != nil {
			w.log.Logger.Warn("worker round failed",
				zap.String("worker", w.name),
				zap.Stringer("kind", domain.KindOf(err)),
				zap.Error(err))
		}
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func ownerField(owner domain.Address) zap.Field { return zap.String("owner", owner.String()) }
