// Package history implements the bounded mutation-replay log: a 200-entry
// ring buffer served by GET /history and broadcast to every WebSocket peer
// as a history:add frame on each append.
package history

import (
	"sync"
	"time"

	"github.com/fortistate/inspector/internal/core/domain"
)

const capacityLimit = 200

// Broadcaster is the narrow BroadcastHub dependency: every append is
// broadcast as {type:"history:add", entry}.
type Broadcaster interface {
	Broadcast(message any)
}

// Ring is the bounded history replay log.
type Ring struct {
	mu      sync.Mutex
	entries []domain.HistoryEntry

	broadcaster Broadcaster
}

// New constructs an empty Ring. broadcaster may be nil for tests that only
// exercise bookkeeping.
func New(broadcaster Broadcaster) *Ring {
	return &Ring{broadcaster: broadcaster}
}

// Append records one entry, evicting the oldest once the buffer is full,
// and broadcasts it to every connected peer.
func (r *Ring) Append(action string, extra map[string]any) domain.HistoryEntry {
	entry := domain.HistoryEntry{
		Action: action,
		Ts:     time.Now().UnixMilli(),
		Extra:  extra,
	}

	r.mu.Lock()
	r.entries = append(r.entries, entry)
	if len(r.entries) > capacityLimit {
		r.entries = r.entries[len(r.entries)-capacityLimit:]
	}
	r.mu.Unlock()

	if r.broadcaster != nil {
		r.broadcaster.Broadcast(map[string]any{"type": "history:add", "entry": entry})
	}
	return entry
}

// All returns a snapshot of the current buffer contents, oldest first.
func (r *Ring) All() []domain.HistoryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.HistoryEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len reports how many entries are currently buffered.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
