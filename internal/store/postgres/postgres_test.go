package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainmail/internal/domain"
	"chainmail/internal/store/postgres"
)

// openTestStore connects to CHAINMAIL_TEST_DATABASE_URL and hands back a
// fresh owner so tests never see each other's rows.
func openTestStore(t *testing.T) (*postgres.Store, domain.Address) {
	t.Helper()
	dsn := os.Getenv("CHAINMAIL_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("CHAINMAIL_TEST_DATABASE_URL not set")
	}
	s, err := postgres.Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, domain.Address("owner-" + uuid.NewString())
}

func TestCommit(t *testing.T) {
	ctx := context.Background()
	s, owner := openTestStore(t)

	sess := domain.Session{Tag: "t1", Owner: owner, Peer: "alice", State: domain.SessionEstablished, LastUpdate: 5, UnreadCount: 1}
	msg := domain.Message{ID: "m1", Owner: owner, SessionTag: "t1", Type: domain.MessageHello, Timestamp: 5, Payload: []byte("hi"), Status: domain.StatusDelivered}

	ok, err := s.Commit(ctx, &sess, &msg)
	require.NoError(t, err)
	assert.True(t, ok)

	again := sess
	again.UnreadCount = 2
	ok, err = s.Commit(ctx, &again, &msg)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetSession(ctx, owner, "t1")
	require.NoError(t, err)
	assert.Equal(t, sess, got)

	gotMsg, err := s.GetMessage(ctx, owner, "m1")
	require.NoError(t, err)
	assert.Equal(t, msg, gotMsg)
}

func TestSessionsAndMessages(t *testing.T) {
	ctx := context.Background()
	s, owner := openTestStore(t)

	require.NoError(t, s.PutSession(ctx, domain.Session{Tag: "a", Owner: owner, Peer: "p", State: domain.SessionEstablished, LastUpdate: 1}))
	require.NoError(t, s.PutSession(ctx, domain.Session{Tag: "b", Owner: owner, Peer: "p", State: domain.SessionClosed, LastUpdate: 2, IsClosed: true}))

	open, err := s.FindOpenSession(ctx, owner, "p")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionTag("a"), open.Tag)

	list, err := s.ListSessions(ctx, owner)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, domain.SessionTag("b"), list[0].Tag)

	for id, ts := range map[domain.MessageID]int64{"x": 10, "y": 20} {
		_, err := s.Commit(ctx, nil, &domain.Message{ID: id, Owner: owner, SessionTag: "a", Type: domain.MessageNormal, Timestamp: ts, Status: domain.StatusDelivering, IsFromSelf: true})
		require.NoError(t, err)
	}
	msgs, err := s.ListMessages(ctx, owner, "a", 15, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.MessageID("y"), msgs[0].ID)

	require.NoError(t, s.UpdateMessageStatus(ctx, owner, "x", domain.StatusFailed))
	failed, err := s.MessagesByStatus(ctx, owner, domain.StatusFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, s.UpdateMessageStatus(ctx, owner, "zzz", domain.StatusFailed), domain.ErrNotFound)

	require.NoError(t, s.DeleteSession(ctx, owner, "a"))
	_, err = s.GetSession(ctx, owner, "a")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCursor(t *testing.T) {
	ctx := context.Background()
	s, owner := openTestStore(t)

	c, err := s.Cursor(ctx, owner)
	require.NoError(t, err)
	assert.Zero(t, c)

	require.NoError(t, s.SetCursor(ctx, owner, 9))
	require.NoError(t, s.SetCursor(ctx, owner, 12))
	c, err = s.Cursor(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, domain.Cursor(12), c)
}
