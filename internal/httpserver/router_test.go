package httpserver_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortistate/inspector/internal/audit"
	"github.com/fortistate/inspector/internal/authz"
	"github.com/fortistate/inspector/internal/broadcast"
	"github.com/fortistate/inspector/internal/core/ports"
	"github.com/fortistate/inspector/internal/history"
	"github.com/fortistate/inspector/internal/httpserver"
	"github.com/fortistate/inspector/internal/memstore"
	"github.com/fortistate/inspector/internal/presence"
	"github.com/fortistate/inspector/internal/remotestore"
	"github.com/fortistate/inspector/internal/session"
	"github.com/fortistate/inspector/internal/universe"
)

// newTestRouter builds a Router wired to real (file-backed) collaborators
// rooted at a fresh temp directory, mirroring how engine.New wires
// httpserver.NewRouter — including the primitive→hub bridge — but without
// the WebSocket gateway or config reloader.
func newTestRouter(t *testing.T, requireSessions bool, legacyToken string) (*echo.Echo, *broadcast.Hub, string) {
	t.Helper()
	root := t.TempDir()

	sessions, err := session.New(session.Config{
		OpaqueSecret: "test-session-secret-long-enough",
	}, filepath.Join(root, ".fortistate-sessions.json"), nil)
	require.NoError(t, err)

	enforcer := authz.New(sessions, legacyToken, requireSessions)
	auditLog := audit.New(audit.Config{}, filepath.Join(root, ".fortistate-audit.log"), nil)
	hub := broadcast.NewHub(nil)
	historyRing := history.New(hub)
	presenceMgr := presence.New(hub)
	remote := remotestore.New(root, "default", true, nil, false)
	require.NoError(t, remote.LoadInitial())
	stores := memstore.New()
	stores.SubscribeCreate(func(key string, initial ports.Value) {
		hub.Broadcast(map[string]any{"type": "store:create", "key": key, "initial": initial})
	})
	stores.SubscribeChange(func(key string, value ports.Value) {
		hub.Broadcast(map[string]any{"type": "store:change", "key": key, "value": value})
	})
	universes := universe.New(root)

	e := echo.New()
	rt, err := httpserver.NewRouter(e, httpserver.Dependencies{
		Sessions:        sessions,
		Enforcer:        enforcer,
		Audit:           auditLog,
		Presence:        presenceMgr,
		Stores:          stores,
		Remote:          remote,
		Hub:             hub,
		Telemetry:       broadcast.NewTelemetryHub(nil),
		History:         historyRing,
		Universes:       universes,
		Root:            root,
		RequireSessions: requireSessions,
	})
	require.NoError(t, err)
	rt.RegisterRoutes()

	return e, hub, root
}

func doJSON(t *testing.T, e *echo.Echo, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("x-fortistate-token", token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestSessionCreateAndCurrent_NoRequireSessions(t *testing.T) {
	e, _, _ := newTestRouter(t, false, "")

	rec := doJSON(t, e, http.MethodPost, "/session/create", map[string]any{"role": "editor", "expiresIn": "2h"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var created struct {
		Session struct {
			Role string `json:"role"`
		} `json:"session"`
		Token     string `json:"token"`
		TokenType string `json:"tokenType"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.Token)
	assert.Equal(t, "opaque", created.TokenType)

	rec2 := doJSON(t, e, http.MethodGet, "/session/current", nil, created.Token)
	require.Equal(t, http.StatusOK, rec2.Code)

	var current struct {
		Session *struct {
			Role string `json:"role"`
		} `json:"session"`
	}
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &current))
	require.NotNil(t, current.Session)
	assert.Equal(t, "editor", current.Session.Role)
}

func TestChange_RoleGate_RequireSessions(t *testing.T) {
	e, _, _ := newTestRouter(t, true, "")

	// No token at all: 401.
	rec := doJSON(t, e, http.MethodPost, "/change", map[string]any{"key": "a", "value": 1}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Bootstrap: the first session can be created without credentials.
	editorRec := doJSON(t, e, http.MethodPost, "/session/create", map[string]any{"role": "editor"}, "")
	require.Equal(t, http.StatusOK, editorRec.Code)
	var editorCreated struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(editorRec.Body.Bytes(), &editorCreated))

	// Once a session exists, anonymous creation is shut off.
	anonRec := doJSON(t, e, http.MethodPost, "/session/create", map[string]any{"role": "observer"}, "")
	assert.Equal(t, http.StatusUnauthorized, anonRec.Code)

	// Observer token: 403 (insufficient role).
	observerRec := doJSON(t, e, http.MethodPost, "/session/create", map[string]any{"role": "observer"}, editorCreated.Token)
	require.Equal(t, http.StatusOK, observerRec.Code)
	var observerCreated struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(observerRec.Body.Bytes(), &observerCreated))

	rec2 := doJSON(t, e, http.MethodPost, "/change", map[string]any{"key": "a", "value": 1}, observerCreated.Token)
	assert.Equal(t, http.StatusForbidden, rec2.Code)

	// Editor token: 200.
	rec3 := doJSON(t, e, http.MethodPost, "/change", map[string]any{"key": "a", "value": 1}, editorCreated.Token)
	assert.Equal(t, http.StatusOK, rec3.Code)
}

func TestRegister_PersistsToRemoteStoreFile(t *testing.T) {
	e, _, root := newTestRouter(t, false, "")

	rec := doJSON(t, e, http.MethodPost, "/register", map[string]any{"key": "x", "initial": map[string]any{"n": 1}}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	data, err := os.ReadFile(filepath.Join(root, ".fortistate", "remote-stores-default.json"))
	require.NoError(t, err)

	var onDisk map[string]any
	require.NoError(t, json.Unmarshal(data, &onDisk))
	stored, ok := onDisk["x"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), stored["n"])

	// GET /remote-stores reflects the same value.
	rec2 := doJSON(t, e, http.MethodGet, "/remote-stores", nil, "")
	require.Equal(t, http.StatusOK, rec2.Code)
	var listed map[string]any
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &listed))
	assert.Contains(t, listed, "x")
}

func TestBodyTooLarge_Returns413(t *testing.T) {
	e, _, _ := newTestRouter(t, false, "")

	oversized := make([]byte, (1<<20)+100)
	for i := range oversized {
		oversized[i] = 'a'
	}
	body := append([]byte(`{"key":"a","value":"`), oversized...)
	body = append(body, []byte(`"}`)...)

	req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestUniverseCreate_DuplicateLabelGetsSuffixedID(t *testing.T) {
	e, _, _ := newTestRouter(t, false, "")

	canvas := map[string]any{
		"nodes":    []any{},
		"edges":    []any{},
		"viewport": map[string]any{"x": 0, "y": 0, "zoom": 1},
	}
	body := map[string]any{
		"label":    "Alpha",
		"canvas":   canvas,
		"bindings": []any{map[string]any{"providerId": "slack"}},
	}

	rec1 := doJSON(t, e, http.MethodPost, "/api/universes", body, "")
	require.Equal(t, http.StatusCreated, rec1.Code)
	var u1 struct {
		ID                string         `json:"id"`
		ActiveVersionID   *string        `json:"activeVersionId"`
		IntegrationCounts map[string]int `json:"integrationCounts"`
	}
	require.NoError(t, json.Unmarshal(rec1.Body.Bytes(), &u1))
	assert.Equal(t, "alpha", u1.ID)
	require.NotNil(t, u1.ActiveVersionID)
	assert.Equal(t, 1, u1.IntegrationCounts["slack"])

	rec2 := doJSON(t, e, http.MethodPost, "/api/universes", body, "")
	require.Equal(t, http.StatusCreated, rec2.Code)
	var u2 struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &u2))
	assert.Equal(t, "alpha-1", u2.ID)
}

func TestCORSPreflight_Returns204WithHeaders(t *testing.T) {
	e, _, _ := newTestRouter(t, false, "")

	req := httptest.NewRequest(http.MethodOptions, "/register", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Body.Bytes())
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// dialHubPeer upgrades one client connection into a hub-registered Peer so
// a test can observe exactly what the fan-out delivers.
func dialHubPeer(t *testing.T, hub *broadcast.Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		peer := broadcast.NewPeer(hub, conn, uuid.New(), nil, nil)
		hub.Register(peer)
		peer.Start()
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

// drainFrames reads every frame delivered within window.
func drainFrames(t *testing.T, conn *websocket.Conn, window time.Duration) []map[string]any {
	t.Helper()
	deadline := time.Now().Add(window)
	var frames []map[string]any
	for {
		conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			return frames
		}
		var frame map[string]any
		require.NoError(t, json.Unmarshal(data, &frame))
		frames = append(frames, frame)
	}
}

func TestStoreMutationBroadcastsExactlyOneFrame(t *testing.T) {
	e, hub, _ := newTestRouter(t, false, "")
	hub.Run()
	t.Cleanup(hub.Stop)

	client := dialHubPeer(t, hub)
	time.Sleep(20 * time.Millisecond) // let registration land

	rec := doJSON(t, e, http.MethodPost, "/register", map[string]any{"key": "a", "initial": 1}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, e, http.MethodPost, "/change", map[string]any{"key": "a", "value": 2}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	creates, changes := 0, 0
	for _, frame := range drainFrames(t, client, 300*time.Millisecond) {
		if frame["key"] != "a" {
			continue // history:add and other frame types
		}
		switch frame["type"] {
		case "store:create":
			creates++
		case "store:change":
			changes++
		}
	}
	assert.Equal(t, 1, creates, "register must deliver exactly one store:create")
	assert.Equal(t, 1, changes, "change must deliver exactly one store:change")
}

func TestMoveStoreRemovesSourceFromPrimitiveAndRegistry(t *testing.T) {
	e, hub, root := newTestRouter(t, false, "")
	hub.Run()
	t.Cleanup(hub.Stop)

	rec := doJSON(t, e, http.MethodPost, "/register", map[string]any{"key": "src", "initial": 7}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	client := dialHubPeer(t, hub)
	time.Sleep(20 * time.Millisecond)

	rec = doJSON(t, e, http.MethodPost, "/move-store", map[string]any{"sourceKey": "src", "destKey": "dst"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var sawRemoval bool
	for _, frame := range drainFrames(t, client, 300*time.Millisecond) {
		if frame["type"] == "store:change" && frame["key"] == "src" && frame["value"] == nil {
			sawRemoval = true
		}
	}
	assert.True(t, sawRemoval, "removing the source must deliver a nil-valued store:change")

	data, err := os.ReadFile(filepath.Join(root, ".fortistate", "remote-stores-default.json"))
	require.NoError(t, err)
	var onDisk map[string]any
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.NotContains(t, onDisk, "src")
	assert.Contains(t, onDisk, "dst")
}

func TestLocateSource_AlwaysReturnsEmptyMatches(t *testing.T) {
	e, _, _ := newTestRouter(t, true, "")

	rec := doJSON(t, e, http.MethodPost, "/session/create", map[string]any{"role": "admin"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var created struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	req := httptest.NewRequest(http.MethodGet, "/locate-source?query=anything", nil)
	req.Header.Set("x-fortistate-token", created.Token)
	rec2 := httptest.NewRecorder()
	e.ServeHTTP(rec2, req)

	require.Equal(t, http.StatusOK, rec2.Code)
	var out struct {
		Matches []string `json:"matches"`
	}
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &out))
	assert.Empty(t, out.Matches)
}
