// Package universe implements UniverseRegistry: a directory
// tree of persisted canvas documents with linear version history,
// independent of the live store graph. Persistence follows the same
// write-temp, rename-over discipline as internal/session and
// internal/remotestore.
package universe

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fortistate/inspector/internal/core/domain"
)

const universesDirName = ".fortistate-universes"

var (
	// ErrNotFound is returned when a universe or version id doesn't resolve.
	ErrNotFound = fmt.Errorf("universe not found")
)

// CanvasInput is the request-shape payload for the canvas creation form.
type CanvasInput struct {
	Label           string
	Description     string
	Icon            string
	OwnerID         string
	MarketTags      []string
	DataSensitivity string
	Canvas          domain.CanvasState
	Bindings        []domain.Binding
}

// MetadataInput is the request-shape payload for the metadata-only creation
// form.
type MetadataInput struct {
	ID      string
	Label   string
	OwnerID string
}

// Registry is the UniverseRegistry.
type Registry struct {
	mu   sync.Mutex
	root string
}

// New constructs a Registry rooted at root (the directory containing
// .fortistate-universes).
func New(root string) *Registry {
	return &Registry{root: root}
}

func (r *Registry) dir() string {
	return filepath.Join(r.root, universesDirName)
}

func (r *Registry) universeDir(id string) string {
	return filepath.Join(r.dir(), id)
}

func (r *Registry) metaPath(id string) string {
	return filepath.Join(r.universeDir(id), "meta.json")
}

func (r *Registry) versionPath(id, versionID string) string {
	return filepath.Join(r.universeDir(id), "versions", versionID+".json")
}

// List reads every subdirectory's meta.json, skipping any that are
// unreadable or malformed.
func (r *Registry) List() ([]*domain.Universe, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := os.ReadDir(r.dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("universe.Registry.List: read dir: %w", err)
	}

	var out []*domain.Universe
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		u, err := r.readMetaLocked(entry.Name())
		if err != nil {
			continue
		}
		out = append(out, u)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Registry) readMetaLocked(id string) (*domain.Universe, error) {
	data, err := os.ReadFile(r.metaPath(id))
	if err != nil {
		return nil, err
	}
	var u domain.Universe
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Get returns one universe's metadata.
func (r *Registry) Get(id string) (*domain.Universe, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, err := r.readMetaLocked(id)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("universe.Registry.Get: %w", err)
	}
	return u, nil
}

// GetVersion reads one version document.
func (r *Registry) GetVersion(id, versionID string) (*domain.UniverseVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.versionPath(id, versionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("universe.Registry.GetVersion: %w", err)
	}
	var v domain.UniverseVersion
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("universe.Registry.GetVersion: decode: %w", err)
	}
	return &v, nil
}

// slugify lowercases label, strips non [a-z0-9] runs into single hyphens,
// and trims leading/trailing hyphens.
func slugify(label string) string {
	var b strings.Builder
	prevDash := false
	for _, r := range strings.ToLower(label) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevDash = false
		default:
			if !prevDash && b.Len() > 0 {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// uniqueID appends -1, -2, ... to base until it no longer collides with an
// existing universe directory.
func (r *Registry) uniqueIDLocked(base string) string {
	if base == "" {
		base = "universe"
	}
	candidate := base
	for i := 1; ; i++ {
		if _, err := os.Stat(r.universeDir(candidate)); os.IsNotExist(err) {
			return candidate
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
}

// CreateFromCanvas implements the canvas creation form.
func (r *Registry) CreateFromCanvas(in CanvasInput) (*domain.Universe, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.uniqueIDLocked(slugify(in.Label))
	now := time.Now().UnixMilli()
	versionID := newVersionID(1, now)

	u := &domain.Universe{
		ID:              id,
		Label:           in.Label,
		Description:     in.Description,
		Icon:            in.Icon,
		CreatedAt:       now,
		UpdatedAt:       now,
		OwnerID:         in.OwnerID,
		MarketTags:      in.MarketTags,
		ActiveVersionID: &versionID,
		VersionIDs:      []string{versionID},
		DataSensitivity: in.DataSensitivity,
	}
	u.IntegrationCounts = countIntegrations(in.Bindings)

	v := &domain.UniverseVersion{
		ID:          versionID,
		Label:       in.Label,
		Description: in.Description,
		CreatedAt:   now,
		CreatedBy:   in.OwnerID,
		CanvasState: in.Canvas,
		Bindings:    in.Bindings,
	}

	if err := r.writeUniverseLocked(u, v); err != nil {
		return nil, fmt.Errorf("universe.Registry.CreateFromCanvas: %w", err)
	}
	return u, nil
}

// CreateFromMetadata implements the metadata-only creation form.
func (r *Registry) CreateFromMetadata(in MetadataInput) (*domain.Universe, error) {
	if in.ID == "" || in.Label == "" || in.OwnerID == "" {
		return nil, fmt.Errorf("universe.Registry.CreateFromMetadata: id, label, and ownerId are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := os.Stat(r.universeDir(in.ID)); err == nil {
		return nil, fmt.Errorf("universe.Registry.CreateFromMetadata: id %q already exists", in.ID)
	}

	now := time.Now().UnixMilli()
	u := &domain.Universe{
		ID:         in.ID,
		Label:      in.Label,
		OwnerID:    in.OwnerID,
		CreatedAt:  now,
		UpdatedAt:  now,
		VersionIDs: []string{},
	}

	if err := r.writeMetaLocked(u); err != nil {
		return nil, fmt.Errorf("universe.Registry.CreateFromMetadata: %w", err)
	}
	return u, nil
}

// CreateVersion appends a new version under an existing universe.
func (r *Registry) CreateVersion(id string, canvas domain.CanvasState, bindings []domain.Binding, createdBy, label, description string) (*domain.UniverseVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, err := r.readMetaLocked(id)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("universe.Registry.CreateVersion: %w", err)
	}

	now := time.Now().UnixMilli()
	versionID := newVersionID(len(u.VersionIDs)+1, now)
	v := &domain.UniverseVersion{
		ID:          versionID,
		Label:       label,
		Description: description,
		CreatedAt:   now,
		CreatedBy:   createdBy,
		CanvasState: canvas,
		Bindings:    bindings,
	}

	u.VersionIDs = append(u.VersionIDs, versionID)
	if u.ActiveVersionID == nil {
		u.ActiveVersionID = &versionID
	}
	u.UpdatedAt = now
	if len(bindings) > 0 {
		u.IntegrationCounts = countIntegrations(bindings)
	}

	if err := r.writeUniverseLocked(u, v); err != nil {
		return nil, fmt.Errorf("universe.Registry.CreateVersion: %w", err)
	}
	return v, nil
}

// Delete removes a universe's directory recursively.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.RemoveAll(r.universeDir(id)); err != nil {
		return fmt.Errorf("universe.Registry.Delete: %w", err)
	}
	return nil
}

// LaunchResult is returned by Launch.
type LaunchResult struct {
	LaunchID string
	Status   string
}

// Launch verifies the universe exists and mints a launchId; execution
// itself is out of scope.
func (r *Registry) Launch(id string) (*LaunchResult, error) {
	r.mu.Lock()
	_, err := r.readMetaLocked(id)
	r.mu.Unlock()

	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("universe.Registry.Launch: %w", err)
	}

	now := time.Now().UnixMilli()
	suffix, err := randomBase36(4)
	if err != nil {
		return nil, fmt.Errorf("universe.Registry.Launch: %w", err)
	}
	return &LaunchResult{
		LaunchID: fmt.Sprintf("launch-%s-%s", base36(now), suffix),
		Status:   "queued",
	}, nil
}

func (r *Registry) writeUniverseLocked(u *domain.Universe, v *domain.UniverseVersion) error {
	if err := os.MkdirAll(filepath.Join(r.universeDir(u.ID), "versions"), 0o755); err != nil {
		return fmt.Errorf("create universe dir: %w", err)
	}
	if err := writeJSONAtomic(r.versionPath(u.ID, v.ID), v); err != nil {
		return fmt.Errorf("write version: %w", err)
	}
	if err := r.writeMetaLocked(u); err != nil {
		return err
	}
	return nil
}

func (r *Registry) writeMetaLocked(u *domain.Universe) error {
	if err := os.MkdirAll(r.universeDir(u.ID), 0o755); err != nil {
		return fmt.Errorf("create universe dir: %w", err)
	}
	return writeJSONAtomic(r.metaPath(u.ID), u)
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func countIntegrations(bindings []domain.Binding) map[string]int {
	if len(bindings) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, b := range bindings {
		if b.ProviderID == "" {
			continue
		}
		counts[b.ProviderID]++
	}
	return counts
}

// newVersionID mints version ids of the form v<seq>-<last 4 base36 digits
// of now>, where seq is the version's 1-based position in the universe's
// VersionIDs, so two versions of one universe never share an id.
func newVersionID(seq int, nowMs int64) string {
	stamp := base36(nowMs)
	suffix := stamp
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return fmt.Sprintf("v%d-%s", seq, suffix)
}

func base36(n int64) string {
	return strconv.FormatInt(n, 36)
}

func randomBase36(length int) (string, error) {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	out := make([]byte, length)
	bound := big.NewInt(int64(len(alphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, bound)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}
