package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/gridcast/internal/auth"
)

func TestTokenRoundTrip(t *testing.T) {
	t.Run("should verify a freshly issued token", func(t *testing.T) {
		token, err := auth.IssueToken("secret", "ops", "admin", time.Hour)
		require.NoError(t, err)

		claims, err := auth.VerifyToken("secret", token)
		require.NoError(t, err)

		assert.Equal(t, "ops", claims.Subject)
		assert.Equal(t, "admin", claims.Role)
	})
}

func TestTokenRejection(t *testing.T) {
	t.Run("should reject a token signed with another secret", func(t *testing.T) {
		token, err := auth.IssueToken("secret", "ops", "admin", time.Hour)
		require.NoError(t, err)

		_, err = auth.VerifyToken("other-secret", token)
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("should reject an expired token", func(t *testing.T) {
		token, err := auth.IssueToken("secret", "ops", "admin", -time.Minute)
		require.NoError(t, err)

		_, err = auth.VerifyToken("secret", token)
		assert.ErrorIs(t, err, auth.ErrTokenExpired)
	})

	t.Run("should reject garbage", func(t *testing.T) {
		_, err := auth.VerifyToken("secret", "not.a.token")
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})
}
