package message_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"chainmail/internal/crypto"
	"chainmail/internal/directory"
	"chainmail/internal/domain"
	"chainmail/internal/ledger"
	"chainmail/internal/logger"
	"chainmail/internal/protocol/ratchet"
	"chainmail/internal/services/message"
	"chainmail/internal/services/prekey"
	"chainmail/internal/services/session"
	"chainmail/internal/store"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// network is the shared world: one ledger, one directory, one clock.
type network struct {
	clk    *clock
	ledger *ledger.Ledger
	dir    *directory.Memory
}

func newNetwork() *network {
	clk := &clock{t: time.Date(2025, 12, 14, 12, 0, 0, 0, time.UTC)}
	return &network{
		clk:    clk,
		ledger: ledger.New(ledger.WithClock(clk.Now)),
		dir:    directory.NewMemory(),
	}
}

type party struct {
	addr     domain.Address
	svc      *message.Service
	keys     *prekey.Service
	db       *store.DBFileStore
	ratchets *store.RatchetFileStore
	logs     *observer.ObservedLogs
}

type partyOpts struct {
	unregistered bool
	now          func() time.Time
	cfg          message.Config
	transport    domain.Transport
	wrapStore    func(*store.DBFileStore) domain.Store
}

type partyOpt func(*partyOpts)

func unregistered() partyOpt { return func(o *partyOpts) { o.unregistered = true } }

func withNow(now func() time.Time) partyOpt { return func(o *partyOpts) { o.now = now } }

func withConfig(cfg message.Config) partyOpt { return func(o *partyOpts) { o.cfg = cfg } }

func withTransport(tr domain.Transport) partyOpt { return func(o *partyOpts) { o.transport = tr } }

func withStore(wrap func(*store.DBFileStore) domain.Store) partyOpt {
	return func(o *partyOpts) { o.wrapStore = wrap }
}

func (n *network) join(t *testing.T, addr domain.Address, opts ...partyOpt) *party {
	t.Helper()
	ctx := context.Background()
	o := partyOpts{now: n.clk.Now, transport: n.ledger}
	for _, fn := range opts {
		fn(&o)
	}

	id, err := crypto.GenerateX25519()
	require.NoError(t, err)

	home := t.TempDir()
	db, err := store.NewDBFileStore(home)
	require.NoError(t, err)
	ratchets := store.NewRatchetFileStore(home)

	core, logs := observer.New(zap.DebugLevel)
	log := &logger.Logger{Logger: zap.New(core)}

	keys := prekey.New(store.NewPreKeyFileStore(home), n.dir, log,
		prekey.WithClock(n.clk.Now), prekey.WithCount(5))
	if !o.unregistered {
		require.NoError(t, n.dir.Register(ctx, addr, id.Public))
		_, err = keys.Publish(ctx, addr, prekey.DefaultInterval)
		require.NoError(t, err)
	}

	var st domain.Store = db
	if o.wrapStore != nil {
		st = o.wrapStore(db)
	}

	cfg := o.cfg
	cfg.Owner = addr
	svc, err := message.New(cfg, message.Deps{
		Transport:  o.transport,
		Clock:      n.ledger,
		Store:      st,
		Sessions:   session.New(ratchet.NewEngine(id, ratchets), st, log),
		Keys:       keys,
		Identities: n.dir,
		Packages:   n.dir,
		Log:        log,
		Now:        o.now,
	})
	require.NoError(t, err)
	return &party{addr: addr, svc: svc, keys: keys, db: db, ratchets: ratchets, logs: logs}
}

func (p *party) ingest(t *testing.T) message.IngestStats {
	t.Helper()
	stats, err := p.svc.IngestOnce(context.Background())
	require.NoError(t, err)
	return stats
}

func (p *party) send(t *testing.T, to domain.Address, body string) domain.Message {
	t.Helper()
	msg, err := p.svc.SendMessage(context.Background(), to, []byte(body), domain.MessageNormal)
	require.NoError(t, err)
	return msg
}

func (p *party) onlySession(t *testing.T) domain.Session {
	t.Helper()
	sessions, err := p.svc.Sessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	return sessions[0]
}

func (p *party) history(t *testing.T, tag domain.SessionTag) []domain.Message {
	t.Helper()
	msgs, err := p.svc.History(context.Background(), tag, 0, 0)
	require.NoError(t, err)
	return msgs
}

// flakyCommits fails the next message commit after arm is called.
type flakyCommits struct {
	*store.DBFileStore
	armed atomic.Bool
}

func (f *flakyCommits) arm() { f.armed.Store(true) }

func (f *flakyCommits) Commit(ctx context.Context, s *domain.Session, msg *domain.Message) (bool, error) {
	if msg != nil && f.armed.CompareAndSwap(true, false) {
		return false, errors.New("disk full")
	}
	return f.DBFileStore.Commit(ctx, s, msg)
}

// reversed delivers every batch back to front.
type reversed struct{ *ledger.Ledger }

func (r reversed) Poll(ctx context.Context, c domain.Cursor) (domain.Batch, error) {
	b, err := r.Ledger.Poll(ctx, c)
	slices.Reverse(b.Items)
	return b, err
}
