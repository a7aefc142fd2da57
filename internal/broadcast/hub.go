package broadcast

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Hub fans store-change, remote-mutation, history, and presence events out
// to every connected Peer. The peer set is snapshotted under RLock; sends
// happen outside the lock.
type Hub struct {
	peers      map[uuid.UUID]*Peer
	register   chan *Peer
	unregister chan *Peer
	broadcast  chan broadcastMsg
	mu         sync.RWMutex
	logger     *slog.Logger
	stopCh     chan struct{}
	wg         sync.WaitGroup
	metrics    MetricsSink
}

// MetricsSink is the narrow metrics dependency Hub optionally reports
// broadcast volume to.
type MetricsSink interface {
	IncBroadcastFrame(frameType string)
}

// SetMetrics installs m as the Hub's metrics sink. Nil (the default) means
// broadcasts aren't counted — used by tests that don't construct a
// metrics.Registry.
func (h *Hub) SetMetrics(m MetricsSink) {
	h.metrics = m
}

type broadcastMsg struct {
	except  *uuid.UUID
	message any
}

// NewHub constructs a Hub. Call Run to start its event loop.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		peers:      make(map[uuid.UUID]*Peer),
		register:   make(chan *Peer, 256),
		unregister: make(chan *Peer, 256),
		broadcast:  make(chan broadcastMsg, 256),
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// Run starts the hub's event loop in a goroutine.
func (h *Hub) Run() {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.run()
	}()
}

func (h *Hub) run() {
	for {
		select {
		case peer := <-h.register:
			h.registerPeer(peer)
		case peer := <-h.unregister:
			h.unregisterPeer(peer)
		case msg := <-h.broadcast:
			h.deliver(msg)
		case <-h.stopCh:
			h.closeAllPeers()
			return
		}
	}
}

// Stop drains the event loop and closes every connected peer.
func (h *Hub) Stop() {
	close(h.stopCh)
	h.wg.Wait()
}

// Register adds peer to the hub before returning, replacing (and closing)
// any existing peer with the same ID, so a SendTo issued right after
// Register reaches the new peer.
func (h *Hub) Register(peer *Peer) {
	h.registerPeer(peer)
}

// Unregister removes peer from the hub.
func (h *Hub) Unregister(peer *Peer) {
	h.unregister <- peer
}

// Broadcast sends message to every connected peer.
func (h *Hub) Broadcast(message any) {
	h.broadcast <- broadcastMsg{message: message}
}

// BroadcastExcept sends message to every connected peer other than except —
// used by PresenceManager so a peer doesn't receive its own join event.
func (h *Hub) BroadcastExcept(except uuid.UUID, message any) {
	h.broadcast <- broadcastMsg{except: &except, message: message}
}

// SendTo sends message directly to one peer, returning false if it isn't
// connected or its send buffer rejected the frame.
func (h *Hub) SendTo(peer uuid.UUID, message any) bool {
	h.mu.RLock()
	p, ok := h.peers[peer]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return p.Send(message)
}

// PeerCount returns the number of connected peers.
func (h *Hub) PeerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

func (h *Hub) registerPeer(peer *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.peers[peer.ID]; ok {
		existing.Close()
		h.logger.Warn("replaced existing peer", slog.String("peer", peer.ID.String()))
	}
	h.peers[peer.ID] = peer
	h.logger.Debug("peer registered", slog.String("peer", peer.ID.String()), slog.Int("total", len(h.peers)))
}

func (h *Hub) unregisterPeer(peer *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.peers[peer.ID]; ok && existing == peer {
		delete(h.peers, peer.ID)
		existing.Close()
		h.logger.Debug("peer unregistered", slog.String("peer", peer.ID.String()), slog.Int("total", len(h.peers)))
	}
}

func (h *Hub) deliver(msg broadcastMsg) {
	h.mu.RLock()
	peers := make([]*Peer, 0, len(h.peers))
	for id, p := range h.peers {
		if msg.except != nil && id == *msg.except {
			continue
		}
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	if h.metrics != nil {
		h.metrics.IncBroadcastFrame(frameTypeOf(msg.message))
	}

	for _, p := range peers {
		p.Send(msg.message)
	}
}

// frameTypeOf extracts the "type" discriminator every broadcast frame
// carries, falling back to "unknown" for anything that
// isn't shaped like one of our own frames.
func frameTypeOf(message any) string {
	frame, ok := message.(map[string]any)
	if !ok {
		return "unknown"
	}
	t, ok := frame["type"].(string)
	if !ok || t == "" {
		return "unknown"
	}
	return t
}

func (h *Hub) closeAllPeers() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, p := range h.peers {
		p.Close()
	}
	h.peers = make(map[uuid.UUID]*Peer)
	h.logger.Info("all peers closed")
}
