package ratchet_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainmail/internal/crypto"
	"chainmail/internal/domain"
	"chainmail/internal/protocol/ratchet"
	"chainmail/internal/services/session"
)

type memRatchets struct {
	mu sync.Mutex
	m  map[domain.SessionTag][]byte
}

func newMemRatchets() *memRatchets {
	return &memRatchets{m: make(map[domain.SessionTag][]byte)}
}

func (s *memRatchets) LoadRatchet(tag domain.SessionTag) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.m[tag]
	return b, ok, nil
}

func (s *memRatchets) SaveRatchet(tag domain.SessionTag, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[tag] = blob
	return nil
}

func (s *memRatchets) DeleteRatchet(tag domain.SessionTag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, tag)
	return nil
}

func newEngine(t *testing.T) (*ratchet.Engine, *memRatchets, domain.KeyPair) {
	t.Helper()
	id, err := crypto.GenerateX25519()
	require.NoError(t, err)
	store := newMemRatchets()
	return ratchet.NewEngine(id, store), store, id
}

func TestEngine_HelloThenReply(t *testing.T) {
	ctx := context.Background()
	alice, _, aliceID := newEngine(t)
	bob, _, _ := newEngine(t)
	preKey, err := crypto.GenerateX25519()
	require.NoError(t, err)
	const tag = domain.SessionTag("t-1")

	hello, err := alice.Encrypt(ctx, tag, []byte("hi"), &preKey.Public)
	require.NoError(t, err)
	assert.True(t, hello.PreKey)
	assert.Equal(t, aliceID.Public, hello.Identity)
	assert.Len(t, hello.MAC, 16)

	h, _, err := ratchet.ParseMessage(hello.Body)
	require.NoError(t, err)
	assert.NotEqual(t, h.DHPub, hello.BaseKey, "hello base key is the handshake ephemeral")

	pt, err := bob.Decrypt(ctx, tag, hello, &preKey)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(pt))

	ok, err := bob.LoadSession(ctx, tag)
	require.NoError(t, err)
	assert.True(t, ok)

	reply, err := bob.Encrypt(ctx, tag, []byte("hey"), nil)
	require.NoError(t, err)
	assert.False(t, reply.PreKey)
	rh, _, err := ratchet.ParseMessage(reply.Body)
	require.NoError(t, err)
	assert.Equal(t, rh.DHPub, reply.BaseKey)

	pt, err = alice.Decrypt(ctx, tag, reply, nil)
	require.NoError(t, err)
	assert.Equal(t, "hey", string(pt))

	next, err := alice.Encrypt(ctx, tag, []byte("again"), &preKey.Public)
	require.NoError(t, err)
	assert.False(t, next.PreKey, "an existing session never produces a second pre-key message")
	pt, err = bob.Decrypt(ctx, tag, next, nil)
	require.NoError(t, err)
	assert.Equal(t, "again", string(pt))
}

func TestEngine_ForgedIdentityFails(t *testing.T) {
	ctx := context.Background()
	alice, _, _ := newEngine(t)
	bob, _, _ := newEngine(t)
	mallory, err := crypto.GenerateX25519()
	require.NoError(t, err)
	preKey, err := crypto.GenerateX25519()
	require.NoError(t, err)

	hello, err := alice.Encrypt(ctx, "t", []byte("hi"), &preKey.Public)
	require.NoError(t, err)
	hello.Identity = mallory.Public

	_, err = bob.Decrypt(ctx, "t", hello, &preKey)
	require.Error(t, err)
	assert.Equal(t, domain.KindCrypto, domain.KindOf(err))
}

func TestEngine_NoSession(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)

	_, err := e.Encrypt(ctx, "missing", []byte("x"), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ratchet.ErrNoSession))
	assert.Equal(t, domain.KindStateCorruption, domain.KindOf(err))

	other, _, _ := newEngine(t)
	preKey, err := crypto.GenerateX25519()
	require.NoError(t, err)
	hello, err := other.Encrypt(ctx, "t", []byte("x"), &preKey.Public)
	require.NoError(t, err)
	hello.PreKey = false

	_, err = e.Decrypt(ctx, "t", hello, nil)
	assert.True(t, errors.Is(err, ratchet.ErrNoSession))
}

func TestEngine_CorruptState(t *testing.T) {
	ctx := context.Background()
	e, store, _ := newEngine(t)
	require.NoError(t, store.SaveRatchet("bad", []byte{0xFF, 0x01}))

	_, err := e.LoadSession(ctx, "bad")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ratchet.ErrStateCorrupt))
	assert.Equal(t, domain.KindStateCorruption, domain.KindOf(err))

	require.NoError(t, e.DeleteSession(ctx, "bad"))
	ok, err := e.LoadSession(ctx, "bad")
	require.NoError(t, err)
	assert.False(t, ok)
}

var _ session.Snapshotter = (*ratchet.Engine)(nil)

func TestEngine_SnapshotRestore(t *testing.T) {
	ctx := context.Background()
	e, store, _ := newEngine(t)

	blob, err := e.Snapshot(ctx, "t")
	require.NoError(t, err)
	assert.Nil(t, blob)

	preKey, err := crypto.GenerateX25519()
	require.NoError(t, err)
	_, err = e.Encrypt(ctx, "t", []byte("x"), &preKey.Public)
	require.NoError(t, err)

	require.NoError(t, e.Restore(ctx, "t", blob))
	ok, err := e.LoadSession(ctx, "t")
	require.NoError(t, err)
	assert.False(t, ok, "restoring an empty snapshot deletes the state")

	require.NoError(t, store.SaveRatchet("u", []byte("state")))
	held, err := e.Snapshot(ctx, "u")
	require.NoError(t, err)
	require.NoError(t, store.SaveRatchet("u", []byte("advanced")))
	require.NoError(t, e.Restore(ctx, "u", held))
	got, _, _ := store.LoadRatchet("u")
	assert.Equal(t, []byte("state"), got)
}
