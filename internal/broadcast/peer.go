// Package broadcast fans events out to connected observers: a WebSocket
// hub with register/unregister/broadcast channels and ping/pong-guarded
// read/write pumps, plus a separate SSE hub for the telemetry stream.
package broadcast

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Peer connection tuning.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256

	// reqSnapshotLiteral is the one non-JSON inbound frame the protocol
	// recognizes.
	reqSnapshotLiteral = "req:snapshot"
)

// InboundHandler processes one decoded inbound frame for a peer.
type InboundHandler func(peer *Peer, frame map[string]any)

// Peer represents one connected WebSocket client (a browser/editor/admin
// session).
type Peer struct {
	ID   uuid.UUID
	conn *websocket.Conn
	send chan any

	hub       *Hub
	logger    *slog.Logger
	closeOnce sync.Once
	closeCh   chan struct{}
	onInbound InboundHandler
	onClose   func()

	CloseCode   int
	CloseReason string
}

// recordCloseReason captures the close code/reason a client sent, if any,
// so an onClose callback can audit it.
func (p *Peer) recordCloseReason(err error) {
	if ce, ok := err.(*websocket.CloseError); ok {
		p.CloseCode = ce.Code
		p.CloseReason = ce.Text
		return
	}
	p.CloseCode = websocket.CloseAbnormalClosure
	p.CloseReason = err.Error()
}

// SetOnClose installs a callback invoked exactly once, the first time this
// peer's connection closes for any reason (read error, hub shutdown,
// explicit Close). Callers use this to run cleanup that must happen after
// the underlying socket is gone, e.g. presence removal.
func (p *Peer) SetOnClose(fn func()) {
	p.onClose = fn
}

// NewPeer builds a Peer bound to hub. onInbound may be nil if the caller
// never expects inbound frames (e.g. read-only consumers).
func NewPeer(hub *Hub, conn *websocket.Conn, id uuid.UUID, logger *slog.Logger, onInbound InboundHandler) *Peer {
	return &Peer{
		ID:        id,
		conn:      conn,
		send:      make(chan any, sendBufferSize),
		hub:       hub,
		logger:    logger,
		closeCh:   make(chan struct{}),
		onInbound: onInbound,
	}
}

// Start launches the peer's read and write pumps.
func (p *Peer) Start() {
	go p.writePump()
	go p.readPump()
}

// Send queues a message for delivery. Returns false if the peer's send
// buffer is full or already closed — the caller never blocks.
func (p *Peer) Send(message any) bool {
	select {
	case p.send <- message:
		return true
	case <-p.closeCh:
		return false
	default:
		if p.logger != nil {
			p.logger.Warn("peer send buffer full, dropping frame", slog.String("peer", p.ID.String()))
		}
		return false
	}
}

// Close closes the underlying connection exactly once.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		close(p.closeCh)
		p.conn.Close()
		if p.onClose != nil {
			p.onClose()
		}
	})
}

// CloseWithCode sends a WS close frame with code and reason before closing.
func (p *Peer) CloseWithCode(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	p.Close()
}

func (p *Peer) readPump() {
	defer func() {
		if p.hub != nil {
			p.hub.Unregister(p)
		}
		p.Close()
	}()

	p.conn.SetReadLimit(maxMessageSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			p.recordCloseReason(err)
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				if p.logger != nil {
					p.logger.Debug("websocket read error", slog.String("peer", p.ID.String()), slog.String("error", err.Error()))
				}
			}
			return
		}

		if p.onInbound == nil {
			continue
		}

		// The client may send the bare literal "req:snapshot" instead of a
		// JSON frame; normalize it to a frame so
		// callers only ever handle one shape.
		if trimmed := strings.TrimSpace(string(data)); trimmed == reqSnapshotLiteral {
			p.onInbound(p, map[string]any{"type": reqSnapshotLiteral})
			continue
		}

		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			if p.logger != nil {
				p.logger.Warn("failed to parse inbound frame", slog.String("peer", p.ID.String()), slog.String("error", err.Error()))
			}
			continue
		}
		p.onInbound(p, frame)
	}
}

func (p *Peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.Close()
	}()

	for {
		select {
		case message, ok := <-p.send:
			if err := p.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(message)
			if err != nil {
				if p.logger != nil {
					p.logger.Error("failed to marshal frame", slog.String("peer", p.ID.String()), slog.String("error", err.Error()))
				}
				continue
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			if err := p.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-p.closeCh:
			return
		}
	}
}
