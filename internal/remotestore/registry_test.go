package remotestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetPersistsToNamespacedFile(t *testing.T) {
	root := t.TempDir()
	reg := New(root, "myapp", false, nil, false)
	require.NoError(t, reg.LoadInitial())

	require.NoError(t, reg.Set("counter", float64(1)))

	v, ok := reg.Get("counter")
	assert.True(t, ok)
	assert.Equal(t, float64(1), v)

	data, err := os.ReadFile(filepath.Join(root, ".fortistate", "remote-stores-myapp.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "counter")
}

func TestDeleteRemovesFromMemoryAndDisk(t *testing.T) {
	root := t.TempDir()
	reg := New(root, "myapp", false, nil, false)
	require.NoError(t, reg.LoadInitial())

	require.NoError(t, reg.Delete("missing")) // deleting an absent key is not an error

	require.NoError(t, reg.Set("x", 1.0))
	require.NoError(t, reg.Delete("x"))

	_, ok := reg.Get("x")
	assert.False(t, ok)

	data, err := os.ReadFile(filepath.Join(root, ".fortistate", "remote-stores-myapp.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"x"`)
}

func TestLoadInitialMigratesLegacyFileWhenDefaultNamespace(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".fortistate-remote-stores.json"), []byte(`{"legacy":"value"}`), 0o644))

	reg := New(root, "default", true, nil, false)
	require.NoError(t, reg.LoadInitial())

	v, ok := reg.Get("legacy")
	assert.True(t, ok)
	assert.Equal(t, "value", v)

	_, err := os.Stat(filepath.Join(root, ".fortistate-remote-stores.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestLoadInitialDoesNotMigrateForNonDefaultNamespace(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".fortistate-remote-stores.json"), []byte(`{"legacy":"value"}`), 0o644))

	reg := New(root, "myapp", false, nil, false)
	require.NoError(t, reg.LoadInitial())

	_, ok := reg.Get("legacy")
	assert.False(t, ok)

	_, err := os.Stat(filepath.Join(root, ".fortistate-remote-stores.json"))
	assert.NoError(t, err)
}
