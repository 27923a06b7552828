// Package manager owns the downstream lock for the duration of a run. It
// generalises over a phase function: on success the lock and manifest are
// staged in the downstream repository, on failure the lock is
// deleted for first-time runs and kept for subsequent runs.
package manager

import (
	"context"
	"os"

	"github.com/alecthomas/errors"

	"github.com/George-Ogden/mirror-rorrim/internal/flock"
	"github.com/George-Ogden/mirror-rorrim/internal/mirror"
	"github.com/George-Ogden/mirror-rorrim/internal/typedpath"
	"github.com/George-Ogden/mirror-rorrim/internal/vcs"
)

var (
	// MirrorLock is the downstream lock file, version-controlled.
	MirrorLock = typedpath.MustRelFile(".mirror.lock")
	// MirrorFile is the default downstream manifest file.
	MirrorFile = typedpath.MustRelFile(".mirror.yaml")
)

// ErrNotARepository is returned when the downstream directory is not under
// version control.
var ErrNotARepository = errors.New("not a git repository")

// Manager holds what every run needs: the downstream tree, the cache root,
// and the process-wide semaphore table.
type Manager struct {
	Target     typedpath.AbsDir
	CacheRoot  typedpath.AbsDir
	Semaphores *flock.Table
}

func (m *Manager) LockFile() typedpath.AbsFile {
	return m.Target.JoinFile(MirrorLock)
}

func (m *Manager) ManifestFile() typedpath.AbsFile {
	return m.Target.JoinFile(MirrorFile)
}

// EnsureRepository fails early when the downstream is not a repository.
func (m *Manager) EnsureRepository(ctx context.Context) error {
	if !vcs.IsRepository(ctx, m.Target) {
		return errors.Wrapf(ErrNotARepository,
			"%s is not a git repository, please run `git init` before installing", m.Target)
	}
	return nil
}

// run executes phase under the held lock. On success the new mirror state is
// serialised into the lock, the lock is released, and both the lock and the
// manifest are staged in the downstream repository. On failure the lock file
// is removed from disk unless keepLockOnFailure is set; the removal never
// masks the phase error.
func (m *Manager) run(ctx context.Context, lock *flock.Lock, mir *mirror.Mirror, keepLockOnFailure bool, phase func() error) error {
	err := m.commit(ctx, lock, mir, phase)
	if err != nil {
		_ = lock.Release()
		if !keepLockOnFailure {
			_ = os.Remove(m.LockFile().String())
		}
	}
	return err
}

func (m *Manager) commit(ctx context.Context, lock *flock.Lock, mir *mirror.Mirror, phase func() error) error {
	if err := phase(); err != nil {
		return err
	}
	current, err := mir.State(ctx)
	if err != nil {
		return err
	}
	document, err := current.Dump()
	if err != nil {
		return err
	}
	if err := lock.Unlock(document); err != nil {
		return err
	}
	return vcs.Add(ctx, m.Target, MirrorLock, MirrorFile)
}
