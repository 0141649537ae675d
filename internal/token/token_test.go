package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionTokenShape(t *testing.T) {
	tok, err := NewSessionToken()
	require.NoError(t, err)
	assert.Len(t, tok, 64)
	for _, r := range tok {
		assert.True(t, (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f'), "token must be lowercase hex")
	}
}

func TestNewSessionTokenUnique(t *testing.T) {
	a, err := NewSessionToken()
	require.NoError(t, err)
	b, err := NewSessionToken()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestManagerRefusesDevDefaultOutsideDevMode(t *testing.T) {
	_, err := NewManager(DevDefaultSecret, "gateway", time.Hour, false)
	assert.Error(t, err)

	_, err = NewManager(DevDefaultSecret, "gateway", time.Hour, true)
	assert.NoError(t, err)
}

func TestGenerateAndValidateRoundTrip(t *testing.T) {
	m, err := NewManager("a-real-production-secret", "gateway", 24*time.Hour, false)
	require.NoError(t, err)

	tok, err := m.Generate("client-1", "0x71C7656EC7ab88b098defB751B7401B5f6d8976")
	require.NoError(t, err)

	claims, err := m.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, "client-1", claims.Subject)
	assert.Equal(t, "0x71C7656EC7ab88b098defB751B7401B5f6d8976", claims.Wallet)
	assert.Equal(t, claims.IssuedAt.Add(24*time.Hour).Unix(), claims.ExpiresAt.Unix())
}

func TestValidateRejectsExpired(t *testing.T) {
	m, err := NewManager("a-real-production-secret", "gateway", time.Hour, false)
	require.NoError(t, err)
	// NewManager replaces a non-positive duration with its default, so the
	// already-expired lifetime is set on the manager directly.
	m.duration = -time.Second

	tok, err := m.Generate("client-1", "")
	require.NoError(t, err)

	_, err = m.Validate(tok)
	assert.Error(t, err)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	m1, err := NewManager("secret-one-secret-one", "gateway", time.Hour, false)
	require.NoError(t, err)
	m2, err := NewManager("secret-two-secret-two", "gateway", time.Hour, false)
	require.NoError(t, err)

	tok, err := m1.Generate("client-1", "")
	require.NoError(t, err)

	_, err = m2.Validate(tok)
	assert.Error(t, err)
}
