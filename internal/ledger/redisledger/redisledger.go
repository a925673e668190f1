package redisledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"chainmail/internal/domain"
)

type Config struct {
	Host     string
	Port     string
	Password string
	DB       int
	Prefix   string
}

// NewClient creates a Redis client for cfg.
func NewClient(cfg Config) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// publishScript bumps the head and appends the frame under the new height
// in one step.
var publishScript = goredis.NewScript(`
local block = redis.call('INCR', KEYS[1])
redis.call('XADD', KEYS[2], block .. '-0', 'frame', ARGV[1], 'ts', ARGV[2])
return block
`)

type Ledger struct {
	client  *goredis.Client
	headKey string
	logKey  string
	now     func() time.Time
}

func New(client *goredis.Client, prefix string) *Ledger {
	if prefix == "" {
		prefix = "chainmail"
	}
	return &Ledger{
		client:  client,
		headKey: prefix + ":head",
		logKey:  prefix + ":log",
		now:     time.Now,
	}
}

// WithClock overrides the time source for item timestamps.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

func (l *Ledger) Publish(ctx context.Context, frame string) (domain.Ref, error) {
	block, err := publishScript.Run(ctx, l.client,
		[]string{l.headKey, l.logKey}, frame, l.now().UnixMilli()).Int64()
	if err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}
	return domain.Ref(strconv.FormatInt(block, 10)), nil
}

func (l *Ledger) Poll(ctx context.Context, cursor domain.Cursor) (domain.Batch, error) {
	head, err := l.head(ctx)
	if err != nil {
		return domain.Batch{}, err
	}
	entries, err := l.client.XRange(ctx, l.logKey, fmt.Sprintf("%d-0", uint64(cursor)), "+").Result()
	if err != nil {
		return domain.Batch{}, fmt.Errorf("poll: %w", err)
	}

	out := make([]domain.Item, 0, len(entries))
	for _, e := range entries {
		it, err := toItem(e)
		if err != nil {
			return domain.Batch{}, err
		}
		if it.Block > head {
			head = it.Block
		}
		out = append(out, it)
	}
	return domain.Batch{Items: out, Head: head}, nil
}

func (l *Ledger) Confirmations(ctx context.Context, ref domain.Ref) (int, error) {
	e, err := l.entry(ctx, ref)
	if err != nil {
		return 0, err
	}
	head, err := l.head(ctx)
	if err != nil {
		return 0, err
	}
	if head < e.Block {
		return 0, nil
	}
	return int(head - e.Block), nil
}

func (l *Ledger) TimestampOf(ctx context.Context, ref domain.Ref) (int64, error) {
	e, err := l.entry(ctx, ref)
	if err != nil {
		return 0, err
	}
	return e.Timestamp, nil
}

// Advance seals n empty blocks.
func (l *Ledger) Advance(ctx context.Context, n int) (uint64, error) {
	h, err := l.client.IncrBy(ctx, l.headKey, int64(n)).Result()
	if err != nil {
		return 0, fmt.Errorf("advance: %w", err)
	}
	return uint64(h), nil
}

func (l *Ledger) head(ctx context.Context) (uint64, error) {
	h, err := l.client.Get(ctx, l.headKey).Uint64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read head: %w", err)
	}
	return h, nil
}

// entry loads the stream entry for ref. A ref with no entry was never
// published here or was trimmed, both of which the caller sees as a failed
// reference.
func (l *Ledger) entry(ctx context.Context, ref domain.Ref) (domain.Item, error) {
	block, err := strconv.ParseUint(string(ref), 10, 64)
	if err != nil {
		return domain.Item{}, fmt.Errorf("ref %q: %w", ref, domain.ErrRefFailed)
	}
	id := fmt.Sprintf("%d-0", block)
	entries, err := l.client.XRange(ctx, l.logKey, id, id).Result()
	if err != nil {
		return domain.Item{}, fmt.Errorf("lookup %s: %w", ref, err)
	}
	if len(entries) == 0 {
		return domain.Item{}, fmt.Errorf("ref %s: %w", ref, domain.ErrRefFailed)
	}
	return toItem(entries[0])
}

func toItem(e goredis.XMessage) (domain.Item, error) {
	var block uint64
	if _, err := fmt.Sscanf(e.ID, "%d-0", &block); err != nil {
		return domain.Item{}, fmt.Errorf("entry id %q: %w", e.ID, err)
	}
	frame, _ := e.Values["frame"].(string)
	var ts int64
	if raw, ok := e.Values["ts"].(string); ok {
		ts, _ = strconv.ParseInt(raw, 10, 64)
	}
	return domain.Item{
		Ref:       domain.Ref(strconv.FormatUint(block, 10)),
		Block:     block,
		Frame:     frame,
		Timestamp: ts,
	}, nil
}

var (
	_ domain.Transport = (*Ledger)(nil)
	_ domain.Clock     = (*Ledger)(nil)
)
