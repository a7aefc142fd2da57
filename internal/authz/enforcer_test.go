package authz

import (
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortistate/inspector/internal/core/domain"
	"github.com/fortistate/inspector/internal/session"
)

func newTestSessions(t *testing.T) *session.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessions.json")
	store, err := session.New(session.Config{OpaqueSecret: "a-sufficiently-long-test-secret"}, path, nil)
	require.NoError(t, err)
	return store
}

func TestExtractTokenOrderOfPrecedence(t *testing.T) {
	assert.Equal(t, "q", ExtractToken("q", "h", "Bearer b"))
	assert.Equal(t, "h", ExtractToken("", "h", "Bearer b"))
	assert.Equal(t, "b", ExtractToken("", "", "Bearer b"))
	assert.Equal(t, "", ExtractToken("", "", ""))
	assert.Equal(t, "", ExtractToken("  ", "  ", "Bearer   "))
}

func TestEvaluateAllowsValidSession(t *testing.T) {
	store := newTestSessions(t)
	_, token, _, err := store.CreateSession(domain.CreateSessionParams{Role: domain.RoleEditor})
	require.NoError(t, err)

	e := New(store, "", false)
	decision := e.Evaluate(token, CallOptions{RequiredRole: domain.RoleEditor})
	assert.True(t, decision.OK)
	assert.Equal(t, "session", decision.Auth.Via)
}

func TestEvaluateDeniesInsufficientRole(t *testing.T) {
	store := newTestSessions(t)
	_, token, _, err := store.CreateSession(domain.CreateSessionParams{Role: domain.RoleObserver})
	require.NoError(t, err)

	e := New(store, "", false)
	decision := e.Evaluate(token, CallOptions{RequiredRole: domain.RoleAdmin})
	assert.False(t, decision.OK)
	assert.Equal(t, http.StatusForbidden, decision.StatusCode)
}

func TestEvaluateAllowsLegacyToken(t *testing.T) {
	store := newTestSessions(t)
	e := New(store, "legacy-secret", false)

	decision := e.Evaluate("legacy-secret", CallOptions{RequiredRole: domain.RoleAdmin, AllowsLegacy: true})
	assert.True(t, decision.OK)
	assert.Equal(t, "legacy-token", decision.Auth.Via)
	assert.Equal(t, domain.RoleAdmin, decision.Auth.Role)
}

func TestEvaluateRequiresLegacyWhenConfiguredAndNotOptional(t *testing.T) {
	store := newTestSessions(t)
	e := New(store, "legacy-secret", false)

	decision := e.Evaluate("", CallOptions{RequiredRole: domain.RoleEditor})
	assert.False(t, decision.OK)
	assert.Equal(t, http.StatusUnauthorized, decision.StatusCode)
	assert.Equal(t, "legacy-token-required", decision.Reason)
}

func TestEvaluateRequiresSessionWhenProcessRequiresIt(t *testing.T) {
	store := newTestSessions(t)
	e := New(store, "", true)

	decision := e.Evaluate("", CallOptions{RequiredRole: domain.RoleObserver})
	assert.False(t, decision.OK)
	assert.Equal(t, http.StatusUnauthorized, decision.StatusCode)
	assert.Equal(t, "session-required", decision.Reason)
}

func TestEvaluateLocksOutAnonymousOnceSessionsExist(t *testing.T) {
	store := newTestSessions(t)
	_, _, _, err := store.CreateSession(domain.CreateSessionParams{Role: domain.RoleEditor})
	require.NoError(t, err)

	e := New(store, "", false)
	decision := e.Evaluate("", CallOptions{RequiredRole: domain.RoleEditor})
	assert.False(t, decision.OK)
	assert.Equal(t, http.StatusUnauthorized, decision.StatusCode)
	assert.Equal(t, "session-required", decision.Reason)
}

func TestEvaluateAllowsAnonymousWhenNothingRequired(t *testing.T) {
	store := newTestSessions(t)
	e := New(store, "", false)

	decision := e.Evaluate("", CallOptions{RequiredRole: domain.RoleObserver, Optional: true})
	assert.True(t, decision.OK)
	assert.Equal(t, "anonymous", decision.Auth.Via)
	assert.Equal(t, domain.RoleNone, decision.Auth.Role)
}
