package identity_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainmail/internal/directory"
	"chainmail/internal/services/identity"
	"chainmail/internal/store"
)

const pass = "Correct-Horse-9"

func TestGenerateIdentity(t *testing.T) {
	svc := identity.New(store.NewIdentityFileStore(t.TempDir()))

	_, _, err := svc.GenerateIdentity("alice", "short")
	assert.ErrorIs(t, err, identity.ErrWeakPassphrase)

	id, fp, err := svc.GenerateIdentity("alice", pass)
	require.NoError(t, err)
	assert.Len(t, fp.String(), 64)

	_, _, err = svc.GenerateIdentity("alice", pass)
	assert.ErrorIs(t, err, identity.ErrIdentityExists)

	loaded, err := svc.LoadIdentity(pass)
	require.NoError(t, err)
	assert.Equal(t, id, loaded)

	got, err := svc.FingerprintIdentity(pass)
	require.NoError(t, err)
	assert.Equal(t, fp, got)
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	svc := identity.New(store.NewIdentityFileStore(t.TempDir()))
	_, fp, err := svc.GenerateIdentity("bob", pass)
	require.NoError(t, err)

	dir := directory.NewMemory()
	_, err = svc.Register(ctx, dir, pass)
	require.NoError(t, err)

	rec, err := dir.Identity(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, fp, rec.Fingerprint)
}

func TestPassphrasePolicy(t *testing.T) {
	svc := identity.New(store.NewIdentityFileStore(t.TempDir()))
	for _, p := range []string{"alllowercase1!", "ALLUPPERCASE1!", "NoDigitsHere!!", "NoSymbols1234a", "Sh0rt!"} {
		_, _, err := svc.GenerateIdentity("x", p)
		assert.ErrorIs(t, err, identity.ErrWeakPassphrase, p)
	}
}
