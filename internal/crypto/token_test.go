package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMACSignerSignVerify(t *testing.T) {
	s, err := NewHMACSigner("a-sufficiently-long-test-secret")
	require.NoError(t, err)

	sig := s.Sign([]byte("hello.world"))
	assert.True(t, s.Verify([]byte("hello.world"), sig))
	assert.False(t, s.Verify([]byte("hello.world!"), sig))
	assert.False(t, s.Verify([]byte("hello.world"), "not-a-real-signature"))
}

func TestHMACSignerDifferentSecretsDiverge(t *testing.T) {
	a, err := NewHMACSigner("secret-one")
	require.NoError(t, err)
	b, err := NewHMACSigner("secret-two")
	require.NoError(t, err)

	sig := a.Sign([]byte("payload"))
	assert.False(t, b.Verify([]byte("payload"), sig))
}

func TestNewHMACSignerRejectsEmptySecret(t *testing.T) {
	_, err := NewHMACSigner("")
	require.Error(t, err)
}

func TestRandomTokenUnique(t *testing.T) {
	a, err := RandomToken(32)
	require.NoError(t, err)
	b, err := RandomToken(32)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.NotEmpty(t, a)
}
