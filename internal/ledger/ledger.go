package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chainmail/internal/domain"
)

type Ledger struct {
	mu     sync.RWMutex
	items  []domain.Item
	byRef  map[domain.Ref]int
	failed map[domain.Ref]bool
	head   uint64
	now    func() time.Time
}

type Option func(*Ledger)

// WithClock overrides the time source for item timestamps.
func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

func New(opts ...Option) *Ledger {
	l := &Ledger{
		byRef:  make(map[domain.Ref]int),
		failed: make(map[domain.Ref]bool),
		now:    time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Publish appends frame in a new block.
func (l *Ledger) Publish(ctx context.Context, frame string) (domain.Ref, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.head++
	ref := domain.Ref(uuid.NewString())
	l.byRef[ref] = len(l.items)
	l.items = append(l.items, domain.Item{
		Ref:       ref,
		Block:     l.head,
		Frame:     frame,
		Timestamp: l.now().UnixMilli(),
	})
	return ref, nil
}

// Poll returns every item in a block at or above cursor.
func (l *Ledger) Poll(ctx context.Context, cursor domain.Cursor) (domain.Batch, error) {
	if err := ctx.Err(); err != nil {
		return domain.Batch{}, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	start := sort.Search(len(l.items), func(i int) bool { return l.items[i].Block >= uint64(cursor) })
	out := make([]domain.Item, 0, len(l.items)-start)
	for _, it := range l.items[start:] {
		if !l.failed[it.Ref] {
			out = append(out, it)
		}
	}
	return domain.Batch{Items: out, Head: l.head}, nil
}

// Confirmations reports how many blocks were sealed after ref's block.
func (l *Ledger) Confirmations(_ context.Context, ref domain.Ref) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.failed[ref] {
		return 0, domain.ErrRefFailed
	}
	i, ok := l.byRef[ref]
	if !ok {
		return 0, fmt.Errorf("ref %s: %w", ref, domain.ErrNotFound)
	}
	return int(l.head - l.items[i].Block), nil
}

// TimestampOf returns the time ref was published, in ms.
func (l *Ledger) TimestampOf(_ context.Context, ref domain.Ref) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	i, ok := l.byRef[ref]
	if !ok {
		return 0, fmt.Errorf("ref %s: %w", ref, domain.ErrNotFound)
	}
	return l.items[i].Timestamp, nil
}

// Advance seals n empty blocks and returns the new head.
func (l *Ledger) Advance(n int) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n > 0 {
		l.head += uint64(n)
	}
	return l.head
}

// Head returns the latest block height.
func (l *Ledger) Head() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.head
}

// Fail drops ref: it disappears from polls and reports ErrRefFailed.
func (l *Ledger) Fail(ref domain.Ref) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.byRef[ref]; ok {
		l.failed[ref] = true
	}
}

// Run seals an empty block every interval until ctx is done.
func (l *Ledger) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Advance(1)
		}
	}
}

var (
	_ domain.Transport = (*Ledger)(nil)
	_ domain.Clock     = (*Ledger)(nil)
)
