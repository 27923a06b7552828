// Package cachedir locates the per-user cache of upstream clones. Each
// remote gets a slot named by the hash of its canonical form.
package cachedir

import (
	"os"
	"path/filepath"

	"github.com/alecthomas/errors"

	"github.com/George-Ogden/mirror-rorrim/internal/typedpath"
)

const (
	cacheName = "mirror"

	semaphoreExtension = ".sem"
	monitorExtension   = ".sync"
)

// Root returns the process-wide cache root, creating it on first use. An
// empty override selects the platform's user-cache convention.
func Root(override string) (typedpath.AbsDir, error) {
	root := override
	if root == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return typedpath.AbsDir{}, errors.Wrap(err, "locate user cache directory")
		}
		root = filepath.Join(base, cacheName)
	}
	dir, err := typedpath.NewAbsDir(root)
	if err != nil {
		return typedpath.AbsDir{}, err
	}
	if err := os.MkdirAll(dir.String(), 0o755); err != nil {
		return typedpath.AbsDir{}, errors.Wrapf(err, "create cache root %s", dir)
	}
	return dir, nil
}

// Slot returns the working-tree directory for a remote's clone.
func Slot(root typedpath.AbsDir, remote typedpath.Remote) typedpath.AbsDir {
	return root.JoinDir(typedpath.MustRelDir(remote.Hash()))
}

// SemaphoreFile returns the semaphore file guarding a slot.
func SemaphoreFile(slot typedpath.AbsDir) typedpath.AbsFile {
	return slot.WithSuffix(semaphoreExtension)
}

// MonitorFile returns the monitor file used for the leader/follower barrier.
func MonitorFile(slot typedpath.AbsDir) typedpath.AbsFile {
	return slot.WithSuffix(monitorExtension)
}
