package session

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortistate/inspector/internal/core/domain"
)

func newTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	if cfg.OpaqueSecret == "" && cfg.JWTSecret == "" {
		cfg.OpaqueSecret = "a-sufficiently-long-test-secret-value"
	}
	path := filepath.Join(t.TempDir(), "sessions.json")
	store, err := New(cfg, path, nil)
	require.NoError(t, err)
	return store
}

func TestCreateAndValidateOpaqueSession(t *testing.T) {
	store := newTestStore(t, Config{})

	sess, token, tokenType, err := store.CreateSession(domain.CreateSessionParams{Role: domain.RoleEditor})
	require.NoError(t, err)
	assert.Equal(t, domain.TokenTypeOpaque, tokenType)
	assert.NotEmpty(t, token)

	ctx := store.ValidateToken(token)
	require.NotNil(t, ctx)
	assert.Equal(t, sess.ID, ctx.Session.ID)
	assert.Equal(t, domain.RoleEditor, ctx.Session.Role)
}

func TestCreateAndValidateJWTSession(t *testing.T) {
	store := newTestStore(t, Config{JWTSecret: "a-sufficiently-long-test-jwt-secret"})

	sess, token, tokenType, err := store.CreateSession(domain.CreateSessionParams{Role: domain.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, domain.TokenTypeJWT, tokenType)

	ctx := store.ValidateToken(token)
	require.NotNil(t, ctx)
	assert.Equal(t, sess.ID, ctx.Session.ID)
	assert.Equal(t, domain.RoleAdmin, ctx.Session.Role)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	store := newTestStore(t, Config{})
	assert.Nil(t, store.ValidateToken(""))
	assert.Nil(t, store.ValidateToken("not-a-real-token"))
}

func TestValidateTokenRejectsTamperedJWT(t *testing.T) {
	store := newTestStore(t, Config{JWTSecret: "a-sufficiently-long-test-jwt-secret"})
	_, token, _, err := store.CreateSession(domain.CreateSessionParams{Role: domain.RoleObserver})
	require.NoError(t, err)

	tampered := token[:len(token)-1] + "x"
	assert.Nil(t, store.ValidateToken(tampered))
}

func TestRevokeSession(t *testing.T) {
	store := newTestStore(t, Config{})
	sess, token, _, err := store.CreateSession(domain.CreateSessionParams{Role: domain.RoleEditor})
	require.NoError(t, err)

	assert.True(t, store.RevokeSession(sess.ID))
	assert.Nil(t, store.ValidateToken(token))
	assert.False(t, store.RevokeSession(sess.ID))
}

func TestCleanupExpired(t *testing.T) {
	store := newTestStore(t, Config{})
	ttl := int64(1)
	_, _, _, err := store.CreateSession(domain.CreateSessionParams{Role: domain.RoleObserver, TTLMs: &ttl})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	removed := store.CleanupExpired()
	assert.Equal(t, 1, removed)
	assert.False(t, store.HasSessions())
}

func TestListAndHasSessions(t *testing.T) {
	store := newTestStore(t, Config{})
	assert.False(t, store.HasSessions())

	_, _, _, err := store.CreateSession(domain.CreateSessionParams{Role: domain.RoleObserver})
	require.NoError(t, err)

	assert.True(t, store.HasSessions())
	assert.Len(t, store.ListSessions(), 1)
}

func TestCanAct(t *testing.T) {
	store := newTestStore(t, Config{})
	assert.True(t, store.CanAct(domain.RoleAdmin, domain.RoleEditor))
	assert.False(t, store.CanAct(domain.RoleObserver, domain.RoleEditor))
}

func TestPersistenceSurvivesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	cfg := Config{OpaqueSecret: "a-sufficiently-long-test-secret-value"}

	store, err := New(cfg, path, nil)
	require.NoError(t, err)
	sess, token, _, err := store.CreateSession(domain.CreateSessionParams{Role: domain.RoleEditor})
	require.NoError(t, err)

	reloaded, err := New(cfg, path, nil)
	require.NoError(t, err)
	ctx := reloaded.ValidateToken(token)
	require.NotNil(t, ctx)
	assert.Equal(t, sess.ID, ctx.Session.ID)
}

func TestEvictsOldestWhenOverCapacity(t *testing.T) {
	store := newTestStore(t, Config{MaxSessions: 2})

	first, _, _, err := store.CreateSession(domain.CreateSessionParams{Role: domain.RoleObserver})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, _, _, err = store.CreateSession(domain.CreateSessionParams{Role: domain.RoleObserver})
	require.NoError(t, err)
	_, _, _, err = store.CreateSession(domain.CreateSessionParams{Role: domain.RoleObserver})
	require.NoError(t, err)

	sessions := store.ListSessions()
	assert.Len(t, sessions, 2)
	for _, sess := range sessions {
		assert.NotEqual(t, first.ID, sess.ID)
	}
}
