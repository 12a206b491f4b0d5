package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("s3cret-pass")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret-pass", hash)
	assert.True(t, CheckPassword("s3cret-pass", hash))
	assert.False(t, CheckPassword("wrong", hash))

	_, err = HashPassword(strings.Repeat("x", MaxPasswordBytes+1))
	assert.ErrorIs(t, err, ErrPasswordTooLong)
}

func TestGenerateTokenIsURLSafeAndUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		tok, err := GenerateToken(32)
		require.NoError(t, err)
		assert.Len(t, tok, 43)
		assert.NotContains(t, tok, "+")
		assert.NotContains(t, tok, "/")
		_, dup := seen[tok]
		require.False(t, dup)
		seen[tok] = struct{}{}
	}
}
