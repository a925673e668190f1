package app_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainmail/internal/app"
	"chainmail/internal/directory"
	"chainmail/internal/domain"
	"chainmail/internal/ledger"
	"chainmail/internal/relay"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("CHAINMAIL_HOME", "/tmp/cm")
	t.Setenv("CHAINMAIL_POLL_INTERVAL", "250ms")
	t.Setenv("CHAINMAIL_CONFIRMATIONS", "3")
	t.Setenv("CHAINMAIL_CONFIRM_ROUNDS", "not a number")

	cfg := app.LoadConfig()
	assert.Equal(t, "/tmp/cm", cfg.Home)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 3, cfg.Confirmations)
	assert.Equal(t, 60, cfg.ConfirmRounds, "unparsable values fall back")
	assert.Equal(t, app.TransportRelay, cfg.Transport)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		edit func(*app.Config)
	}{
		{"unknown transport", func(c *app.Config) { c.Transport = "carrier pigeon" }},
		{"postgres without url", func(c *app.Config) { c.Store = app.StorePostgres; c.DatabaseURL = "" }},
		{"s3 without bucket", func(c *app.Config) { c.PreKeyDirectory = app.DirectoryS3; c.S3Bucket = "" }},
		{"zero interval", func(c *app.Config) { c.PollInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CHAINMAIL_HOME", t.TempDir())
			cfg := app.LoadConfig()
			tt.edit(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

const pass = "Correct-Horse-9"

func TestWireOpenAndRun(t *testing.T) {
	ctx := context.Background()
	l := ledger.New()
	dir := directory.NewMemory()
	srv := httptest.NewServer(relay.NewServer(relay.TestMode, l, dir, dir, nil).Handler())
	t.Cleanup(srv.Close)

	t.Setenv("CHAINMAIL_HOME", t.TempDir())
	t.Setenv("CHAINMAIL_RELAY_URL", srv.URL)
	t.Setenv("CHAINMAIL_PREKEY_COUNT", "7")
	cfg := app.LoadConfig()

	w, err := app.NewWire(ctx, cfg, nil)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Open(pass)
	require.Error(t, err, "no identity yet")

	_, _, err = w.Identity.GenerateIdentity("alice", pass)
	require.NoError(t, err)
	_, err = w.Identity.Register(ctx, w.Directory, pass)
	require.NoError(t, err)

	a, err := w.Open(pass)
	require.NoError(t, err)
	assert.Equal(t, domain.Address("alice"), a.Self.Address)

	runCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	require.NoError(t, a.Run(runCtx))

	pkg, err := dir.Fetch(ctx, "alice")
	require.NoError(t, err, "run publishes the first generation")
	assert.Len(t, pkg.PreKeys, 8)
}
