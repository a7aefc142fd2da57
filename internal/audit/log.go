// Package audit implements the audit log: an append-only JSONL file of
// accepted actions, rotated by size or age.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fortistate/inspector/internal/core/domain"
)

const (
	defaultMaxSizeBytes = 1 << 20 // 1 MiB
	defaultRotateDays   = 30
)

// Config configures a Log's rotation thresholds.
type Config struct {
	MaxSizeBytes int64
	RotateDays   int
	Debug        bool
}

// Log is the audit log: a single JSONL file guarded by one mutex, with
// best-effort writes. I/O failures are swallowed, never surfaced to a
// caller whose action already succeeded.
type Log struct {
	mu           sync.Mutex
	path         string
	maxSizeBytes int64
	rotateDays   int
	logger       *slog.Logger
	debug        bool
	metrics      MetricsSink
}

// MetricsSink is the narrow metrics dependency Log optionally reports
// append volume to.
type MetricsSink interface {
	IncAuditEntry()
}

// SetMetrics installs m as the Log's metrics sink. Nil (the default) means
// appends aren't counted.
func (l *Log) SetMetrics(m MetricsSink) {
	l.mu.Lock()
	l.metrics = m
	l.mu.Unlock()
}

// New constructs a Log writing to path (typically `.fortistate-audit.log`
// under the working directory).
func New(cfg Config, path string, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	maxSize := cfg.MaxSizeBytes
	if maxSize <= 0 {
		maxSize = defaultMaxSizeBytes
	}
	rotateDays := cfg.RotateDays
	if rotateDays <= 0 {
		rotateDays = defaultRotateDays
	}
	return &Log{
		path:         path,
		maxSizeBytes: maxSize,
		rotateDays:   rotateDays,
		logger:       logger,
		debug:        cfg.Debug,
	}
}

// Append writes one audit entry as a JSON line, rotating first if needed
//. Failures are logged (when debug) and swallowed.
func (l *Log) Append(action string, sessionID *uuid.UUID, role *domain.Role, details map[string]any) {
	entry := domain.AuditEntry{
		Time:      time.Now().UnixMilli(),
		Action:    action,
		SessionID: sessionID,
		Role:      role,
		Details:   details,
	}

	line, err := json.Marshal(entry)
	if err != nil {
		l.logFailure("marshal entry", err)
		return
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.rotateIfNeededLocked(int64(len(line))); err != nil {
		l.logFailure("rotate", err)
	}

	if err := l.appendLocked(line); err != nil {
		l.logFailure("append", err)
	} else if l.metrics != nil {
		l.metrics.IncAuditEntry()
	}
}

func (l *Log) appendLocked(line []byte) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("write audit line: %w", err)
	}
	return nil
}

// rotateIfNeededLocked renames the current file to a timestamped name when
// size+incoming exceeds the threshold or the file is older than the age
// threshold.
func (l *Log) rotateIfNeededLocked(incoming int64) error {
	info, err := os.Stat(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat audit file: %w", err)
	}

	tooBig := info.Size()+incoming > l.maxSizeBytes
	tooOld := time.Since(info.ModTime()) > time.Duration(l.rotateDays)*24*time.Hour
	if !tooBig && !tooOld {
		return nil
	}

	rotated := rotatedName(l.path, time.Now())
	if err := os.Rename(l.path, rotated); err != nil {
		return fmt.Errorf("rename to %s: %w", rotated, err)
	}
	return nil
}

func rotatedName(path string, at time.Time) string {
	ext := filepath.Ext(path)
	base := path[:len(path)-len(ext)]
	stamp := at.UTC().Format("20060102T150405Z")
	return fmt.Sprintf("%s-%s%s", base, stamp, ext)
}

// Tail returns up to limit of the most recent audit entries (limit <= 0
// means "all"), in chronological order, for GET /audit/log.
// Malformed lines are skipped rather than failing the whole read.
func (l *Log) Tail(limit int) ([]domain.AuditEntry, error) {
	l.mu.Lock()
	data, err := os.ReadFile(l.path)
	l.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("audit.Log.Tail: read %s: %w", l.path, err)
	}

	var entries []domain.AuditEntry
	for _, line := range splitLines(data) {
		if len(line) == 0 {
			continue
		}
		var entry domain.AuditEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}

func (l *Log) logFailure(step string, err error) {
	if !l.debug {
		return
	}
	l.logger.Error("audit.Log: write failed", slog.String("step", step), slog.String("error", err.Error()))
}
