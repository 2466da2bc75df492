package identity

import (
	"context"
	"crypto/ed25519"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaakkos/peertasks/internal/domain"
	"github.com/jaakkos/peertasks/internal/repository/sqlite"
)

func newKeyring(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(filepath.Join(t.TempDir(), "state.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndLoadCredential(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := NewProvider(newKeyring(t), WithValidity(time.Hour), WithClock(func() time.Time { return now }))

	c, err := p.CreateCredential(ctx,
		[]string{domain.UsageClientAuth, domain.UsageServerAuth},
		map[string]string{domain.AttrCommonName: "peertasks-0123abcd"},
		"id")
	require.NoError(t, err)
	assert.Equal(t, "peertasks-0123abcd", c.CommonName)
	assert.Equal(t, now.Add(time.Hour), c.NotAfter)
	assert.NotEmpty(t, c.Token)

	peerID, err := p.LocalPeerID(ctx)
	require.NoError(t, err)
	assert.Equal(t, peerID, c.PeerID)

	got, err := p.CurrentCredential(ctx, "id")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, c.CommonName, got.CommonName)
	assert.True(t, c.NotAfter.Equal(got.NotAfter))
	assert.Equal(t, []byte(c.PrivateKey), got.PrivateKey)

	claims, err := Verify(got.Token, ed25519.PublicKey(got.PublicKey))
	require.NoError(t, err)
	assert.Equal(t, []string{domain.UsageClientAuth, domain.UsageServerAuth}, claims.Usages)
	assert.Equal(t, peerID, claims.Issuer)
}

func TestCurrentCredentialMissing(t *testing.T) {
	p := NewProvider(newKeyring(t))
	got, err := p.CurrentCredential(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestExpiredTokenStillLoads(t *testing.T) {
	ctx := context.Background()
	past := time.Now().Add(-48 * time.Hour)
	p := NewProvider(newKeyring(t), WithValidity(time.Hour), WithClock(func() time.Time { return past }))

	_, err := p.CreateCredential(ctx, nil, map[string]string{domain.AttrCommonName: "old"}, "id")
	require.NoError(t, err)

	got, err := p.CurrentCredential(ctx, "id")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Expired(time.Now()))
}

func TestTamperedTokenIsRejected(t *testing.T) {
	ctx := context.Background()
	kr := newKeyring(t)
	p := NewProvider(kr)

	c, err := p.CreateCredential(ctx, nil, map[string]string{domain.AttrCommonName: "cn"}, "id")
	require.NoError(t, err)

	other, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	c.PublicKey = other
	require.NoError(t, kr.SaveCredential(ctx, c))

	_, err = p.CurrentCredential(ctx, "id")
	assert.Error(t, err)
}

func TestCreateCredentialRequiresCommonName(t *testing.T) {
	p := NewProvider(newKeyring(t))
	_, err := p.CreateCredential(context.Background(), nil, nil, "id")
	assert.Error(t, err)
}

func TestDeleteCredential(t *testing.T) {
	ctx := context.Background()
	p := NewProvider(newKeyring(t))
	_, err := p.CreateCredential(ctx, nil, map[string]string{domain.AttrCommonName: "cn"}, "id")
	require.NoError(t, err)

	require.NoError(t, p.DeleteCredential(ctx, "id"))
	got, err := p.CurrentCredential(ctx, "id")
	require.NoError(t, err)
	assert.Nil(t, got)
}
