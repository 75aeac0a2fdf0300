package jwt

import (
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManagerAt(t *testing.T, at time.Time) *TokenManager {
	t.Helper()
	tm := NewTokenManager("test-secret", 24, 6)
	tm.now = func() time.Time { return at }
	return tm
}

func TestGenerateAndParse(t *testing.T) {
	tm := NewTokenManager("test-secret", 24, 6)

	token, err := tm.GenerateToken("u1", "Alice", "alice@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := tm.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "Alice", claims.Name)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, "u1", claims.Subject)
}

func TestParseToken_Failures(t *testing.T) {
	issuedAt := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tm := newManagerAt(t, issuedAt)
	token, err := tm.GenerateToken("u1", "Alice", "a@example.com")
	require.NoError(t, err)

	t.Run("expired", func(t *testing.T) {
		later := newManagerAt(t, issuedAt.Add(25*time.Hour))
		_, err := later.ParseToken(token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("not yet valid", func(t *testing.T) {
		earlier := newManagerAt(t, issuedAt.Add(-time.Hour))
		_, err := earlier.ParseToken(token)
		assert.ErrorIs(t, err, ErrTokenNotYetValid)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewTokenManager("other-secret", 24, 6)
		other.now = tm.now
		_, err := other.ParseToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := tm.ParseToken("not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unsigned", func(t *testing.T) {
		unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u1"})
		raw, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = tm.ParseToken(raw)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestRefreshToken(t *testing.T) {
	issuedAt := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	token, err := newManagerAt(t, issuedAt).GenerateToken("u1", "Alice", "a@example.com")
	require.NoError(t, err)

	tests := []struct {
		name    string
		offset  time.Duration
		wantErr error
	}{
		{"fresh token is too early", time.Hour, ErrRefreshTooEarly},
		{"inside window before expiry", 20 * time.Hour, nil},
		{"shortly after expiry", 26 * time.Hour, nil},
		{"long after expiry", 40 * time.Hour, ErrRefreshWindowOver},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tm := newManagerAt(t, issuedAt.Add(tt.offset))
			refreshed, err := tm.RefreshToken(token)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			claims, err := tm.ParseToken(refreshed)
			require.NoError(t, err)
			assert.Equal(t, "u1", claims.UserID)
		})
	}
}
