package broadcast

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// dialPeer spins up an httptest server that upgrades one connection into a
// registered Peer, and returns a client-side *websocket.Conn plus the
// peer's id.
func dialPeer(t *testing.T, hub *Hub) (*websocket.Conn, uuid.UUID) {
	t.Helper()
	id := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		peer := NewPeer(hub, conn, id, newTestLogger(), nil)
		hub.Register(peer)
		peer.Start()
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, id
}

func TestHubBroadcastDeliversToPeer(t *testing.T) {
	hub := NewHub(newTestLogger())
	hub.Run()
	defer hub.Stop()

	client, _ := dialPeer(t, hub)
	time.Sleep(20 * time.Millisecond) // let registration land

	assert.Equal(t, 1, hub.PeerCount())

	hub.Broadcast(map[string]any{"type": "store:change", "key": "counter"})

	client.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), "store:change")
}

func TestHubBroadcastExceptSkipsPeer(t *testing.T) {
	hub := NewHub(newTestLogger())
	hub.Run()
	defer hub.Stop()

	_, id := dialPeer(t, hub)
	otherClient, _ := dialPeer(t, hub)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 2, hub.PeerCount())

	hub.BroadcastExcept(id, map[string]any{"type": "presence:join"})

	otherClient.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := otherClient.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), "presence:join")
}

func TestHubUnregisterRemovesPeer(t *testing.T) {
	hub := NewHub(newTestLogger())
	hub.Run()
	defer hub.Stop()

	client, _ := dialPeer(t, hub)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, hub.PeerCount())

	client.Close()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, hub.PeerCount())
}

func TestHubSendToUnknownPeerReturnsFalse(t *testing.T) {
	hub := NewHub(newTestLogger())
	hub.Run()
	defer hub.Stop()

	assert.False(t, hub.SendTo(uuid.New(), map[string]any{"type": "x"}))
}
