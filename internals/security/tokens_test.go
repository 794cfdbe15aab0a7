package security

import (
	"testing"
	"time"

	"watchpost/config"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTokenService(ttl time.Duration) *TokenService {
	return NewTokenService(&config.AuthConfig{
		Secret:   "test-secret",
		TokenTTL: ttl,
	})
}

func TestTokenService_RoundTrip(t *testing.T) {
	ts := newTokenService(time.Hour)
	agentID := uuid.New()

	token, err := ts.GenerateSessionToken(agentID, "tab-7")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ts.ValidateSessionToken(token)
	require.NoError(t, err)
	assert.Equal(t, agentID.String(), claims.Subject)
	assert.Equal(t, "tab-7", claims.TabID)
}

func TestTokenService_RejectsExpiredToken(t *testing.T) {
	ts := newTokenService(-time.Minute)

	token, err := ts.GenerateSessionToken(uuid.New(), "tab")
	require.NoError(t, err)

	_, err = ts.ValidateSessionToken(token)
	assert.Error(t, err)
}

func TestTokenService_RejectsWrongSecret(t *testing.T) {
	token, err := newTokenService(time.Hour).GenerateSessionToken(uuid.New(), "tab")
	require.NoError(t, err)

	other := NewTokenService(&config.AuthConfig{Secret: "different", TokenTTL: time.Hour})
	_, err = other.ValidateSessionToken(token)
	assert.Error(t, err)
}

func TestTokenService_RejectsGarbage(t *testing.T) {
	_, err := newTokenService(time.Hour).ValidateSessionToken("not.a.jwt")
	assert.Error(t, err)
}
