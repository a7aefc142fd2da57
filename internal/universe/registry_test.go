package universe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortistate/inspector/internal/core/domain"
)

func TestSlugify(t *testing.T) {
	assert.Equal(t, "alpha", slugify("Alpha"))
	assert.Equal(t, "my-universe", slugify("My Universe!!"))
	assert.Equal(t, "a-b", slugify("a---b"))
}

func TestCreateFromCanvasAssignsUniqueIDsOnCollision(t *testing.T) {
	reg := New(t.TempDir())

	u1, err := reg.CreateFromCanvas(CanvasInput{
		Label:  "Alpha",
		Canvas: domain.CanvasState{Nodes: []map[string]any{}, Edges: []map[string]any{}, Viewport: map[string]any{"x": 0}},
	})
	require.NoError(t, err)
	assert.Equal(t, "alpha", u1.ID)
	require.NotNil(t, u1.ActiveVersionID)

	u2, err := reg.CreateFromCanvas(CanvasInput{
		Label:  "Alpha",
		Canvas: domain.CanvasState{},
	})
	require.NoError(t, err)
	assert.Equal(t, "alpha-1", u2.ID)
}

func TestCreateFromCanvasComputesIntegrationCounts(t *testing.T) {
	reg := New(t.TempDir())

	u, err := reg.CreateFromCanvas(CanvasInput{
		Label:    "Alpha",
		Canvas:   domain.CanvasState{},
		Bindings: []domain.Binding{{ProviderID: "slack"}, {ProviderID: "slack"}, {ProviderID: "email"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, u.IntegrationCounts["slack"])
	assert.Equal(t, 1, u.IntegrationCounts["email"])
}

func TestListSkipsMalformedMeta(t *testing.T) {
	root := t.TempDir()
	reg := New(root)

	_, err := reg.CreateFromCanvas(CanvasInput{Label: "Alpha", Canvas: domain.CanvasState{}})
	require.NoError(t, err)

	broken := filepath.Join(root, universesDirName, "broken")
	require.NoError(t, os.MkdirAll(broken, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(broken, "meta.json"), []byte("{not json"), 0o644))

	list, err := reg.List()
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestGetVersionRoundTrips(t *testing.T) {
	reg := New(t.TempDir())
	u, err := reg.CreateFromCanvas(CanvasInput{
		Label:  "Alpha",
		Canvas: domain.CanvasState{Nodes: []map[string]any{{"id": "n1"}}},
	})
	require.NoError(t, err)

	v, err := reg.GetVersion(u.ID, *u.ActiveVersionID)
	require.NoError(t, err)
	assert.Len(t, v.CanvasState.Nodes, 1)
}

func TestCreateVersionAppendsAndStampsUpdatedAt(t *testing.T) {
	reg := New(t.TempDir())
	u, err := reg.CreateFromCanvas(CanvasInput{Label: "Alpha", Canvas: domain.CanvasState{}})
	require.NoError(t, err)

	v2, err := reg.CreateVersion(u.ID, domain.CanvasState{}, nil, "owner", "v2", "second version")
	require.NoError(t, err)
	assert.NotEqual(t, *u.ActiveVersionID, v2.ID)

	updated, err := reg.Get(u.ID)
	require.NoError(t, err)
	assert.Len(t, updated.VersionIDs, 2)
}

func TestCreateFromMetadataRequiresFields(t *testing.T) {
	reg := New(t.TempDir())
	_, err := reg.CreateFromMetadata(MetadataInput{})
	assert.Error(t, err)

	u, err := reg.CreateFromMetadata(MetadataInput{ID: "x", Label: "X", OwnerID: "owner"})
	require.NoError(t, err)
	assert.Equal(t, "x", u.ID)
	assert.Empty(t, u.VersionIDs)
}

func TestDeleteRemovesDirectory(t *testing.T) {
	reg := New(t.TempDir())
	u, err := reg.CreateFromCanvas(CanvasInput{Label: "Alpha", Canvas: domain.CanvasState{}})
	require.NoError(t, err)

	require.NoError(t, reg.Delete(u.ID))
	_, err = reg.Get(u.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLaunchRequiresExistingUniverse(t *testing.T) {
	reg := New(t.TempDir())
	_, err := reg.Launch("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	u, err := reg.CreateFromCanvas(CanvasInput{Label: "Alpha", Canvas: domain.CanvasState{}})
	require.NoError(t, err)

	result, err := reg.Launch(u.ID)
	require.NoError(t, err)
	assert.Equal(t, "queued", result.Status)
	assert.Contains(t, result.LaunchID, "launch-")
}
