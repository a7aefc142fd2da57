package broadcast

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	telemetryBufferSize = 100
	telemetryKeepalive  = 30 * time.Second
)

// flusher is the subset of http.Flusher a telemetry stream needs.
type flusher interface {
	Flush()
}

type telemetryStream struct {
	mu      sync.Mutex
	w       io.Writer
	flusher flusher
}

// TelemetryHub is the SSE side of the fan-out: a ring buffer of the last
// 100 entries replayed to every new subscriber, fed to every live stream as
// `data: <json>\n\n`, with a 30s keepalive comment and per-stream
// drop-on-write-failure.
type TelemetryHub struct {
	mu      sync.Mutex
	buffer  []any
	streams map[int]*telemetryStream
	nextID  int
	logger  *slog.Logger
}

// NewTelemetryHub constructs an empty TelemetryHub.
func NewTelemetryHub(logger *slog.Logger) *TelemetryHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &TelemetryHub{
		streams: make(map[int]*telemetryStream),
		logger:  logger,
	}
}

// Push appends entry to the ring buffer (evicting the oldest once full) and
// fans it out to every connected stream.
func (h *TelemetryHub) Push(entry any) {
	h.mu.Lock()
	h.buffer = append(h.buffer, entry)
	if len(h.buffer) > telemetryBufferSize {
		h.buffer = h.buffer[len(h.buffer)-telemetryBufferSize:]
	}
	streams := make([]*telemetryStream, 0, len(h.streams))
	ids := make([]int, 0, len(h.streams))
	for id, s := range h.streams {
		streams = append(streams, s)
		ids = append(ids, id)
	}
	h.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	for i, s := range streams {
		if !writeSSEData(s, data) {
			h.drop(ids[i])
		}
	}
}

func writeSSEData(s *telemetryStream, data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return false
	}
	s.flusher.Flush()
	return true
}

func writeSSEComment(s *telemetryStream, comment string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", comment); err != nil {
		return false
	}
	s.flusher.Flush()
	return true
}

func (h *TelemetryHub) drop(id int) {
	h.mu.Lock()
	delete(h.streams, id)
	h.mu.Unlock()
}

// Serve handles one SSE subscriber's connection lifetime: it replays the
// buffered entries, then blocks delivering new ones and keepalives until
// the request context is done.
func (h *TelemetryHub) Serve(w http.ResponseWriter, r *http.Request) error {
	flush, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("broadcast.TelemetryHub.Serve: response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	stream := &telemetryStream{w: w, flusher: flush}
	h.streams[id] = stream
	buffered := make([]any, len(h.buffer))
	copy(buffered, h.buffer)
	h.mu.Unlock()

	defer h.drop(id)

	for _, entry := range buffered {
		data, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		if !writeSSEData(stream, data) {
			return nil
		}
	}

	if !writeSSEComment(stream, "ping") {
		return nil
	}

	ticker := time.NewTicker(telemetryKeepalive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !writeSSEComment(stream, "ping") {
				return nil
			}
		}
	}
}

// StreamCount reports how many telemetry subscribers are currently live.
func (h *TelemetryHub) StreamCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams)
}

// BufferLen reports how many entries are currently held in the replay ring.
func (h *TelemetryHub) BufferLen() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.buffer)
}
