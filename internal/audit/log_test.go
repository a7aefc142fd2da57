package audit

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortistate/inspector/internal/core/domain"
)

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		n++
	}
	return n
}

func TestAppendWritesOneLinePerEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	log := New(Config{}, path, nil)

	sid := uuid.New()
	role := domain.RoleEditor
	log.Append("store:change", &sid, &role, map[string]any{"key": "counter"})
	log.Append("session:create", nil, nil, nil)

	assert.Equal(t, 2, countLines(t, path))
}

func TestRotatesWhenOverSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	log := New(Config{MaxSizeBytes: 10}, path, nil)

	log.Append("first", nil, nil, nil)
	log.Append("second", nil, nil, nil)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(entries), 2, "expected a rotated file alongside the active log")
}

func TestRotatesWhenTooOld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	log := New(Config{RotateDays: 1}, path, nil)

	log.Append("first", nil, nil, nil)

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	log.Append("second", nil, nil, nil)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(entries), 2)
}

func TestAppendSwallowsFailureOnUnwritableDir(t *testing.T) {
	// Path under a file (not a directory) cannot be created; Append must
	// not panic and must leave nothing written.
	base := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(base, []byte("x"), 0o600))

	log := New(Config{}, filepath.Join(base, "audit.log"), nil)
	assert.NotPanics(t, func() {
		log.Append("action", nil, nil, nil)
	})
}
