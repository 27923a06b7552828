package flock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/George-Ogden/mirror-rorrim/internal/typedpath"
)

func lockPath(t *testing.T) typedpath.AbsFile {
	t.Helper()
	return typedpath.MustAbsFile(filepath.Join(t.TempDir(), ".mirror.lock"))
}

func TestCreateNewLock(t *testing.T) {
	path := lockPath(t)
	lock, err := Create(path)
	assert.NoError(t, err)
	assert.NoError(t, lock.Release())
	assert.True(t, path.Exists())
}

func TestCreateExistingLockFails(t *testing.T) {
	path := lockPath(t)
	assert.NoError(t, os.WriteFile(path.String(), nil, 0o644))

	_, err := Create(path)
	assert.IsError(t, err, ErrAlreadyInstalled)
}

func TestEditMissingLockFails(t *testing.T) {
	_, err := Edit(lockPath(t))
	assert.IsError(t, err, ErrNotInstalled)
}

func TestSecondHolderFails(t *testing.T) {
	path := lockPath(t)
	lock, err := Create(path)
	assert.NoError(t, err)
	defer func() { assert.NoError(t, lock.Release()) }()

	_, err = Edit(path)
	assert.IsError(t, err, ErrInUse)
}

func TestReleaseAllowsReacquire(t *testing.T) {
	path := lockPath(t)
	lock, err := Create(path)
	assert.NoError(t, err)
	assert.NoError(t, lock.Release())

	lock, err = Edit(path)
	assert.NoError(t, err)
	assert.NoError(t, lock.Release())
}

func TestUnlockSerialisesState(t *testing.T) {
	path := lockPath(t)
	lock, err := Create(path)
	assert.NoError(t, err)
	assert.NoError(t, lock.Unlock([]byte("state contents\n")))

	data, err := os.ReadFile(path.String())
	assert.NoError(t, err)
	assert.Equal(t, "state contents\n", string(data))

	// The descriptor was released with the write.
	lock, err = Edit(path)
	assert.NoError(t, err)
	assert.NoError(t, lock.Release())
}

func TestUnlockTruncatesPreviousState(t *testing.T) {
	path := lockPath(t)
	lock, err := Create(path)
	assert.NoError(t, err)
	assert.NoError(t, lock.Unlock([]byte("a much longer first state\n")))

	lock, err = Edit(path)
	assert.NoError(t, err)
	assert.NoError(t, lock.Unlock([]byte("short\n")))

	data, err := os.ReadFile(path.String())
	assert.NoError(t, err)
	assert.Equal(t, "short\n", string(data))
}

func TestReadAll(t *testing.T) {
	path := lockPath(t)
	assert.NoError(t, os.WriteFile(path.String(), []byte("recorded\n"), 0o644))

	lock, err := Edit(path)
	assert.NoError(t, err)
	defer func() { assert.NoError(t, lock.Release()) }()

	data, err := lock.ReadAll()
	assert.NoError(t, err)
	assert.Equal(t, "recorded\n", string(data))
}
