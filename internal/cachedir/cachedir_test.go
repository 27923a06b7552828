package cachedir

import (
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/George-Ogden/mirror-rorrim/internal/typedpath"
)

func TestRootWithOverride(t *testing.T) {
	override := filepath.Join(t.TempDir(), "cache")
	root, err := Root(override)
	assert.NoError(t, err)
	assert.Equal(t, override, root.String())
	assert.True(t, root.IsDir())
}

func TestRootIsIdempotent(t *testing.T) {
	override := filepath.Join(t.TempDir(), "cache")
	first, err := Root(override)
	assert.NoError(t, err)
	second, err := Root(override)
	assert.NoError(t, err)
	assert.Equal(t, first.String(), second.String())
}

func TestSlotIsKeyedByRemoteHash(t *testing.T) {
	root := typedpath.MustAbsDir("/cache")
	remote := typedpath.NewRemote("https://example.com/repo")
	slot := Slot(root, remote)
	assert.Equal(t, filepath.Join("/cache", remote.Hash()), slot.String())

	// Equivalent spellings share a slot.
	assert.Equal(t, slot.String(), Slot(root, typedpath.NewRemote("https://example.com/repo/")).String())
}

func TestSidecarFiles(t *testing.T) {
	root := typedpath.MustAbsDir("/cache")
	slot := Slot(root, typedpath.NewRemote("https://example.com/repo"))
	assert.Equal(t, slot.String()+".sem", SemaphoreFile(slot).String())
	assert.Equal(t, slot.String()+".sync", MonitorFile(slot).String())
}
