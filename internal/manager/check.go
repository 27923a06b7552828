package manager

import (
	"context"

	"github.com/alecthomas/errors"

	"github.com/George-Ogden/mirror-rorrim/internal/flock"
	"github.com/George-Ogden/mirror-rorrim/internal/manifest"
	"github.com/George-Ogden/mirror-rorrim/internal/mirror"
	"github.com/George-Ogden/mirror-rorrim/internal/state"
)

// Checker verifies that the downstream files reflect the upstream HEADs
// recorded in the lock. It never deletes the lock.
type Checker struct {
	Manager
}

// Check returns exit code 0 when every mirrored file is current, 1
// otherwise.
func (c *Checker) Check(ctx context.Context) (int, error) {
	if err := c.EnsureRepository(ctx); err != nil {
		return 1, err
	}
	lock, mir, err := c.open(ctx)
	if err != nil {
		return 1, err
	}
	code := 1
	err = c.run(ctx, lock, mir, true, func() error {
		var phaseErr error
		code, phaseErr = mir.Check(ctx)
		return phaseErr
	})
	return code, err
}

// open acquires the existing lock and builds the mirror from the manifest
// and the recorded state.
func (m *Manager) open(ctx context.Context) (*flock.Lock, *mirror.Mirror, error) {
	config, err := manifest.ParseFile(m.ManifestFile().String())
	if err != nil {
		return nil, nil, err
	}
	lock, err := flock.Edit(m.LockFile())
	if err != nil {
		return nil, nil, err
	}
	document, err := lock.ReadAll()
	if err != nil {
		_ = lock.Release()
		return nil, nil, err
	}
	prior, err := state.Load(document)
	if err != nil {
		_ = lock.Release()
		return nil, nil, errors.Wrapf(err, "error while loading %s", m.LockFile())
	}
	return lock, mirror.New(config, prior, m.CacheRoot, m.Semaphores), nil
}
