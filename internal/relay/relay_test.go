package relay_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainmail/internal/crypto"
	"chainmail/internal/directory"
	"chainmail/internal/domain"
	"chainmail/internal/ledger"
	"chainmail/internal/relay"
)

func newRelay(t *testing.T) (*relay.HTTP, *ledger.Ledger) {
	t.Helper()
	l := ledger.New()
	dir := directory.NewMemory()
	srv := httptest.NewServer(relay.NewServer(relay.TestMode, l, dir, dir, nil).Handler())
	t.Cleanup(srv.Close)
	return relay.NewHTTP(srv.URL), l
}

func TestFrames(t *testing.T) {
	ctx := context.Background()
	c, l := newRelay(t)

	ref, err := c.Publish(ctx, "00ff")
	require.NoError(t, err)
	l.Advance(2)

	batch, err := c.Poll(ctx, 0)
	require.NoError(t, err)
	require.Len(t, batch.Items, 1)
	assert.Equal(t, ref, batch.Items[0].Ref)
	assert.Equal(t, "00ff", batch.Items[0].Frame)
	assert.Equal(t, uint64(3), batch.Head)

	n, err := c.Confirmations(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ts, err := c.TimestampOf(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, batch.Items[0].Timestamp, ts)

	l.Fail(ref)
	_, err = c.Confirmations(ctx, ref)
	assert.ErrorIs(t, err, domain.ErrRefFailed)

	_, err = c.TimestampOf(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPublishRejectsNonHex(t *testing.T) {
	c, l := newRelay(t)
	_, err := c.Publish(context.Background(), "not hex")
	require.Error(t, err)
	assert.Zero(t, l.Head())
	assert.Contains(t, err.Error(), "400")
}

func TestIdentities(t *testing.T) {
	ctx := context.Background()
	c, _ := newRelay(t)
	kp, err := crypto.GenerateX25519()
	require.NoError(t, err)

	_, err = c.Identity(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, c.Register(ctx, "alice", kp.Public))
	rec, err := c.Identity(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, crypto.Fingerprint(kp.Public), rec.Fingerprint)

	other, err := crypto.GenerateX25519()
	require.NoError(t, err)
	assert.ErrorIs(t, c.Register(ctx, "alice", other.Public), domain.ErrAlreadyExists)
}

func TestPackages(t *testing.T) {
	ctx := context.Background()
	c, _ := newRelay(t)
	kp, err := crypto.GenerateX25519()
	require.NoError(t, err)
	require.NoError(t, c.Register(ctx, "bob", kp.Public))

	pkgs := c.Packages()
	_, err = pkgs.Fetch(ctx, "bob")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	pkg := domain.PreKeyPackage{
		Interval:     1,
		LastResortID: 20441,
		PreKeys:      map[domain.PreKeyID]domain.PublicKey{20436: kp.Public, 20441: {7}},
	}
	require.NoError(t, pkgs.Publish(ctx, "bob", pkg))

	got, err := pkgs.Fetch(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, pkg, got)
}

func TestRequestIDEchoed(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dir := directory.NewMemory()
	h := relay.NewServer(relay.TestMode, ledger.New(), dir, dir, nil).Handler()

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-Id", "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-Id"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/frames?cursor=x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "BAD_CURSOR"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}
