package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func TestTokenPairRoundTrip(t *testing.T) {
	pair, err := GenerateTokenPair("42", []string{"staff"}, secret)
	require.NoError(t, err)

	claims, err := ParseAccessToken(pair.AccessToken, secret)
	require.NoError(t, err)
	assert.Equal(t, "42", claims.Subject)
	assert.Equal(t, []string{"staff"}, claims.Roles)
	assert.NotEmpty(t, claims.ID)

	refresh, err := ParseRefreshToken(pair.RefreshToken, secret)
	require.NoError(t, err)
	assert.NotEqual(t, claims.ID, refresh.ID)
	assert.True(t, refresh.ExpiresAt.After(claims.ExpiresAt.Time))
}

func TestTokenKindsAreNotInterchangeable(t *testing.T) {
	pair, err := GenerateTokenPair("42", nil, secret)
	require.NoError(t, err)

	_, err = ParseAccessToken(pair.RefreshToken, secret)
	assert.ErrorIs(t, err, errWrongKind)
	_, err = ParseRefreshToken(pair.AccessToken, secret)
	assert.ErrorIs(t, err, errWrongKind)
}

func TestParseRejectsBadTokens(t *testing.T) {
	pair, err := GenerateTokenPair("42", nil, secret)
	require.NoError(t, err)
	_, err = ParseAccessToken(pair.AccessToken, "other-secret")
	assert.Error(t, err)

	expired, err := sign("42", nil, kindAccess, -time.Minute, secret)
	require.NoError(t, err)
	_, err = ParseAccessToken(expired, secret)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	_, err = ParseAccessToken("not-a-token", secret)
	assert.Error(t, err)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.True(t, CheckPassword("s3cret", hash))
	assert.False(t, CheckPassword("wrong", hash))
	assert.False(t, CheckPassword("s3cret", "not-a-hash"))
}

func TestExtractRoles(t *testing.T) {
	assert.Equal(t, []string{"admin", "staff"}, extractRoles("admin, staff,"))
	assert.Equal(t, []string{"a"}, extractRoles([]any{"a", 3}))
	assert.Equal(t, []string{"x"}, extractRoles([]string{"x"}))
	assert.Equal(t, []string{}, extractRoles(nil))
}
