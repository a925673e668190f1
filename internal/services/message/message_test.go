package message_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainmail/internal/domain"
	"chainmail/internal/services/message"
	"chainmail/internal/store"
)

func TestHelloDeliveredAndConfirmed(t *testing.T) {
	ctx := context.Background()
	n := newNetwork()
	alice, bob := n.join(t, "alice"), n.join(t, "bob")

	sent, err := alice.svc.SendMessage(ctx, "bob", []byte("hi bob"), domain.MessageNormal, message.WithSubject("lunch"))
	require.NoError(t, err)
	assert.Equal(t, domain.MessageHello, sent.Type)
	assert.Equal(t, domain.StatusDelivering, sent.Status)
	assert.True(t, sent.IsFromSelf)
	assert.Len(t, sent.ID.String(), 64)

	stats := bob.ingest(t)
	assert.Equal(t, 1, stats.Items)
	assert.Equal(t, 1, stats.Committed)

	sess := bob.onlySession(t)
	assert.Equal(t, sent.SessionTag, sess.Tag)
	assert.Equal(t, domain.Address("alice"), sess.Peer)
	assert.Equal(t, domain.SessionEstablished, sess.State)
	assert.Equal(t, "lunch", sess.Subject)
	assert.Equal(t, 1, sess.UnreadCount)

	msgs := bob.history(t, sess.Tag)
	require.Len(t, msgs, 1)
	assert.Equal(t, sent.ID, msgs[0].ID, "both sides derive the same id")
	assert.Equal(t, []byte("hi bob"), msgs[0].Payload)
	assert.False(t, msgs[0].IsFromSelf)
	assert.Equal(t, domain.StatusDelivered, msgs[0].Status)

	// Alice sees her own frame but cannot open it.
	own := alice.ingest(t)
	assert.Equal(t, 0, own.Committed)
	assert.Equal(t, 1, own.Skipped)

	w, err := alice.svc.CheckDeliveries(ctx)
	require.NoError(t, err)
	assert.Equal(t, message.WatchStats{Pending: 1}, w)

	n.ledger.Advance(1)
	w, err = alice.svc.CheckDeliveries(ctx)
	require.NoError(t, err)
	assert.Equal(t, message.WatchStats{Delivered: 1}, w)

	got, err := alice.db.GetMessage(ctx, "alice", sent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, got.Status)
}

func TestConversationLifecycle(t *testing.T) {
	ctx := context.Background()
	n := newNetwork()
	alice, bob := n.join(t, "alice"), n.join(t, "bob")

	hello := alice.send(t, "bob", "hello")
	bob.ingest(t)

	reply := bob.send(t, "alice", "hey")
	assert.Equal(t, domain.MessageNormal, reply.Type)
	assert.Equal(t, hello.SessionTag, reply.SessionTag)
	alice.ingest(t)

	next := alice.send(t, "bob", "how are you")
	assert.Equal(t, domain.MessageNormal, next.Type)
	bob.ingest(t)

	require.NoError(t, alice.svc.CloseSession(ctx, "bob"))
	assert.True(t, alice.onlySession(t).IsClosed)

	bob.ingest(t)
	sess := bob.onlySession(t)
	assert.Equal(t, domain.SessionClosed, sess.State)
	assert.True(t, sess.IsClosed)
	assert.Len(t, bob.history(t, sess.Tag), 3, "CLOSE adds no message row")
	assert.Len(t, alice.history(t, sess.Tag), 3)

	// A closed conversation is never reused.
	again := alice.send(t, "bob", "new topic")
	assert.Equal(t, domain.MessageHello, again.Type)
	assert.NotEqual(t, hello.SessionTag, again.SessionTag)

	bob.ingest(t)
	sessions, err := bob.svc.Sessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestCloseWithoutSession(t *testing.T) {
	n := newNetwork()
	alice := n.join(t, "alice")
	n.join(t, "bob")

	err := alice.svc.CloseSession(context.Background(), "bob")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, n.ledger.Head(), "nothing published")
}

func TestSendToUnknownReceiver(t *testing.T) {
	n := newNetwork()
	alice := n.join(t, "alice")

	_, err := alice.svc.SendMessage(context.Background(), "carol", []byte("x"), domain.MessageNormal)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, domain.KindTransport, domain.KindOf(err))
}

func TestIngestIsIdempotent(t *testing.T) {
	n := newNetwork()
	alice, bob := n.join(t, "alice"), n.join(t, "bob")

	sent := alice.send(t, "bob", "once")
	require.Equal(t, 1, bob.ingest(t).Committed)

	again := bob.ingest(t)
	assert.Equal(t, 0, again.Committed)
	assert.Equal(t, 1, again.Skipped)

	sess := bob.onlySession(t)
	assert.Equal(t, 1, sess.UnreadCount)
	assert.Len(t, bob.history(t, sent.SessionTag), 1)
}

func TestCursorTrailsHead(t *testing.T) {
	ctx := context.Background()
	n := newNetwork()
	alice, bob := n.join(t, "alice"), n.join(t, "bob")

	alice.send(t, "bob", "hi")
	head := n.ledger.Advance(9)

	stats := bob.ingest(t)
	assert.Equal(t, domain.Cursor(head-message.DefaultSafetyMargin), stats.Cursor)
	stored, err := bob.db.Cursor(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, stats.Cursor, stored)

	// The first block is now below the cursor.
	assert.Zero(t, bob.ingest(t).Items)
}

func TestCursorNeverBelowZero(t *testing.T) {
	n := newNetwork()
	alice, bob := n.join(t, "alice"), n.join(t, "bob")

	alice.send(t, "bob", "hi")
	stats := bob.ingest(t)
	assert.Zero(t, stats.Cursor)
}

func TestHelloSortedFirstWithinBatch(t *testing.T) {
	n := newNetwork()
	alice := n.join(t, "alice")
	bob := n.join(t, "bob", withTransport(reversed{n.ledger}))

	first := alice.send(t, "bob", "one")
	second := alice.send(t, "bob", "two")
	require.Equal(t, first.SessionTag, second.SessionTag)
	require.Equal(t, domain.MessageNormal, second.Type)

	stats := bob.ingest(t)
	assert.Equal(t, 2, stats.Committed)
	assert.Len(t, bob.history(t, first.SessionTag), 2)
}

func TestUnregisteredSenderRejected(t *testing.T) {
	n := newNetwork()
	bob := n.join(t, "bob")
	mallory := n.join(t, "mallory", unregistered())

	sent := mallory.send(t, "bob", "trust me")

	stats := bob.ingest(t)
	assert.Equal(t, 0, stats.Committed)
	assert.Equal(t, 1, bob.logs.FilterMessage("untrusted item rejected").Len())

	sessions, err := bob.svc.Sessions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sessions)

	_, ok, err := bob.ratchets.LoadRatchet(sent.SessionTag)
	require.NoError(t, err)
	assert.False(t, ok, "rejected HELLO leaves no ratchet state")
}

func TestImpersonationRejected(t *testing.T) {
	n := newNetwork()
	n.join(t, "alice")
	bob := n.join(t, "bob")
	fake := n.join(t, "alice", unregistered())

	sent := fake.send(t, "bob", "it's me")

	assert.Equal(t, 0, bob.ingest(t).Committed)
	assert.Equal(t, 1, bob.logs.FilterMessage("untrusted item rejected").Len())
	_, ok, err := bob.ratchets.LoadRatchet(sent.SessionTag)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStaleTimestampRejected(t *testing.T) {
	n := newNetwork()
	bob := n.join(t, "bob")
	late := n.join(t, "carol", withNow(func() time.Time { return n.clk.Now().Add(2 * time.Hour) }))

	late.send(t, "bob", "from the future")

	assert.Equal(t, 0, bob.ingest(t).Committed)
	entries := bob.logs.FilterMessage("untrusted item rejected").All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ContextMap()["error"], domain.ErrTimestampNotTrusted.Error())
}

func TestSkewWithinBoundAccepted(t *testing.T) {
	n := newNetwork()
	bob := n.join(t, "bob")
	early := n.join(t, "carol", withNow(func() time.Time { return n.clk.Now().Add(-59 * time.Minute) }))

	early.send(t, "bob", "slightly behind")
	assert.Equal(t, 1, bob.ingest(t).Committed)
}

func TestUnreadGating(t *testing.T) {
	ctx := context.Background()
	n := newNetwork()
	alice, bob := n.join(t, "alice"), n.join(t, "bob")

	hello := alice.send(t, "bob", "1")
	bob.ingest(t)
	require.Equal(t, 1, bob.onlySession(t).UnreadCount)

	bob.svc.SetViewing(hello.SessionTag)
	alice.send(t, "bob", "2")
	bob.ingest(t)
	assert.Equal(t, 1, bob.onlySession(t).UnreadCount, "viewed conversation does not accumulate unread")

	require.NoError(t, bob.svc.MarkRead(ctx, hello.SessionTag))
	assert.Zero(t, bob.onlySession(t).UnreadCount)

	bob.svc.SetViewing("")
	alice.send(t, "bob", "3")
	bob.ingest(t)
	assert.Equal(t, 1, bob.onlySession(t).UnreadCount)
}

func TestReceiverHealsCorruptState(t *testing.T) {
	n := newNetwork()
	alice, bob := n.join(t, "alice"), n.join(t, "bob")

	hello := alice.send(t, "bob", "hi")
	bob.ingest(t)
	require.NoError(t, bob.ratchets.SaveRatchet(hello.SessionTag, []byte("not a ratchet")))

	alice.send(t, "bob", "after corruption")
	assert.Equal(t, 0, bob.ingest(t).Committed)
	assert.Equal(t, 1, bob.logs.FilterMessage("healing corrupted session").Len())

	sessions, err := bob.svc.Sessions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sessions, "healed session record is removed")
	_, ok, err := bob.ratchets.LoadRatchet(hello.SessionTag)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReceiverHealsUnreadableOrphanState(t *testing.T) {
	ctx := context.Background()
	n := newNetwork()
	alice, bob := n.join(t, "alice"), n.join(t, "bob")

	hello := alice.send(t, "bob", "hi")
	bob.ingest(t)
	require.NoError(t, bob.db.DeleteSession(ctx, "bob", hello.SessionTag))
	require.NoError(t, bob.ratchets.SaveRatchet(hello.SessionTag, []byte("not a ratchet")))

	alice.send(t, "bob", "anyone?")
	assert.Equal(t, 0, bob.ingest(t).Committed)
	assert.Equal(t, 1, bob.logs.FilterMessage("healing corrupted session").Len())

	_, ok, err := bob.ratchets.LoadRatchet(hello.SessionTag)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFailedCommitKeepsMessageDecryptable(t *testing.T) {
	ctx := context.Background()
	n := newNetwork()
	var flaky *flakyCommits
	alice := n.join(t, "alice")
	bob := n.join(t, "bob", withStore(func(db *store.DBFileStore) domain.Store {
		flaky = &flakyCommits{DBFileStore: db}
		return flaky
	}))

	hello := alice.send(t, "bob", "hi")
	require.Equal(t, 1, bob.ingest(t).Committed)

	flaky.arm()
	normal := alice.send(t, "bob", "second")
	assert.Equal(t, 0, bob.ingest(t).Committed)
	_, err := bob.db.GetMessage(ctx, "bob", normal.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, bob.db.SetCursor(ctx, "bob", 0))
	assert.Equal(t, 1, bob.ingest(t).Committed)

	assert.Len(t, bob.history(t, hello.SessionTag), 2)
	got, err := bob.db.GetMessage(ctx, "bob", normal.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got.Payload)
}

func TestSenderHealsAndReopens(t *testing.T) {
	ctx := context.Background()
	n := newNetwork()
	alice, bob := n.join(t, "alice"), n.join(t, "bob")

	hello := alice.send(t, "bob", "hi")
	bob.ingest(t)
	require.NoError(t, alice.ratchets.SaveRatchet(hello.SessionTag, []byte{0xff}))

	retry := alice.send(t, "bob", "still there?")
	assert.Equal(t, domain.MessageHello, retry.Type)
	assert.NotEqual(t, hello.SessionTag, retry.SessionTag)

	_, err := alice.db.GetSession(ctx, "alice", hello.SessionTag)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Equal(t, 1, bob.ingest(t).Committed)
	sessions, err := bob.svc.Sessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestReplayAfterCursorReset(t *testing.T) {
	n := newNetwork()
	alice, bob := n.join(t, "alice"), n.join(t, "bob")

	alice.send(t, "bob", "hi")
	bob.ingest(t)

	// Replaying the same block after a cursor reset is a duplicate, not a
	// second HELLO.
	require.NoError(t, bob.db.SetCursor(context.Background(), "bob", 0))
	stats := bob.ingest(t)
	assert.Equal(t, 0, stats.Committed)
	assert.Equal(t, 1, bob.onlySession(t).UnreadCount)
}

func TestDeliveryFailedByTransport(t *testing.T) {
	ctx := context.Background()
	n := newNetwork()
	alice := n.join(t, "alice")
	n.join(t, "bob")

	var statuses []domain.Message
	alice.svc.OnMessageStatus(func(m domain.Message) { statuses = append(statuses, m) })

	sent := alice.send(t, "bob", "lost")
	n.ledger.Fail(sent.TransportRef)

	w, err := alice.svc.CheckDeliveries(ctx)
	require.NoError(t, err)
	assert.Equal(t, message.WatchStats{Failed: 1}, w)
	require.Len(t, statuses, 1)
	assert.Equal(t, domain.StatusFailed, statuses[0].Status)
	assert.Equal(t, sent.ID, statuses[0].ID)
}

func TestDeliveryTimesOut(t *testing.T) {
	ctx := context.Background()
	n := newNetwork()
	alice := n.join(t, "alice", withConfig(message.Config{Confirmations: 5, ConfirmRounds: 2}))
	n.join(t, "bob")

	sent := alice.send(t, "bob", "slow")
	n.ledger.Advance(1)

	w, err := alice.svc.CheckDeliveries(ctx)
	require.NoError(t, err)
	assert.Equal(t, message.WatchStats{Pending: 1}, w)

	w, err = alice.svc.CheckDeliveries(ctx)
	require.NoError(t, err)
	assert.Equal(t, message.WatchStats{Failed: 1}, w)

	got, err := alice.db.GetMessage(ctx, "alice", sent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
}

func TestListeners(t *testing.T) {
	n := newNetwork()
	alice, bob := n.join(t, "alice"), n.join(t, "bob")

	var (
		updated []domain.Session
		arrived []domain.Message
	)
	bob.svc.OnSessionUpdated(func(s domain.Session) { updated = append(updated, s) })
	unsub := bob.svc.OnNewMessage(func(_ domain.Session, m domain.Message) { arrived = append(arrived, m) })

	alice.send(t, "bob", "one")
	bob.ingest(t)
	require.Len(t, updated, 1)
	require.Len(t, arrived, 1)
	assert.Equal(t, []byte("one"), arrived[0].Payload)
	assert.Equal(t, 1, updated[0].UnreadCount)

	unsub()
	alice.send(t, "bob", "two")
	bob.ingest(t)
	assert.Len(t, updated, 2)
	assert.Len(t, arrived, 1, "unsubscribed listener is not called")
}

func TestStartStopIngest(t *testing.T) {
	ctx := context.Background()
	n := newNetwork()
	alice, bob := n.join(t, "alice"), n.join(t, "bob")

	require.NoError(t, bob.svc.StartIngest(ctx, 5*time.Millisecond))
	assert.Error(t, bob.svc.StartIngest(ctx, 5*time.Millisecond))

	alice.send(t, "bob", "polled")
	assert.Eventually(t, func() bool {
		sessions, err := bob.svc.Sessions(ctx)
		return err == nil && len(sessions) == 1
	}, 2*time.Second, 5*time.Millisecond)

	bob.svc.StopIngest()
	bob.svc.StopIngest()
	require.NoError(t, bob.svc.StartIngest(ctx, 5*time.Millisecond), "restartable after stop")
	bob.svc.StopIngest()
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := message.New(message.Config{}, message.Deps{})
	assert.Error(t, err)
	_, err = message.New(message.Config{Owner: "x"}, message.Deps{})
	assert.Error(t, err)
}
