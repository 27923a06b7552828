// Package flock provides the advisory filesystem locks that coordinate
// mirror processes: an exclusive per-downstream lock, and a leader/follower
// semaphore for cache slot checkouts.
package flock

import (
	"io"
	"os"

	"github.com/alecthomas/errors"
	"golang.org/x/sys/unix"

	"github.com/George-Ogden/mirror-rorrim/internal/typedpath"
)

var (
	// ErrAlreadyInstalled is returned by Create when the lock file exists.
	ErrAlreadyInstalled = errors.New("already installed")
	// ErrNotInstalled is returned by Edit when the lock file is missing.
	ErrNotInstalled = errors.New("not installed")
	// ErrInUse is returned when another process holds the lock.
	ErrInUse = errors.New("in use by another process")
)

// Lock is an exclusive advisory lock over the downstream lock file. The lock
// owns the descriptor; releasing closes it, which also drops the advisory
// lock.
type Lock struct {
	file *os.File
}

// Create opens the lock file for a first-time install. The file must not
// exist yet.
func Create(path typedpath.AbsFile) (*Lock, error) {
	file, err := os.OpenFile(path.String(), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, errors.Wrapf(ErrAlreadyInstalled, "%s exists", path)
		}
		return nil, errors.Wrapf(err, "create %s", path)
	}
	return lockExclusive(file, path)
}

// Edit opens the existing lock file for a subsequent run. The file must
// already exist.
func Edit(path typedpath.AbsFile) (*Lock, error) {
	file, err := os.OpenFile(path.String(), os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotInstalled, "%s is missing", path)
		}
		return nil, errors.Wrapf(err, "open %s", path)
	}
	return lockExclusive(file, path)
}

func lockExclusive(file *os.File, path typedpath.AbsFile) (*Lock, error) {
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = file.Close()
		return nil, errors.Wrapf(ErrInUse, "%s is locked", path)
	}
	return &Lock{file: file}, nil
}

// ReadAll returns the current content of the lock file.
func (l *Lock) ReadAll() ([]byte, error) {
	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "seek lock file")
	}
	data, err := io.ReadAll(l.file)
	return data, errors.Wrap(err, "read lock file")
}

// Unlock serialises state into the lock file and releases the lock. The
// descriptor is released even when the write fails, and the write error is
// surfaced.
func (l *Lock) Unlock(state []byte) error {
	writeErr := l.write(state)
	releaseErr := l.Release()
	if writeErr != nil {
		return writeErr
	}
	return releaseErr
}

func (l *Lock) write(state []byte) error {
	if err := l.file.Truncate(0); err != nil {
		return errors.Wrap(err, "truncate lock file")
	}
	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "seek lock file")
	}
	_, err := l.file.Write(state)
	return errors.Wrap(err, "write lock file")
}

// Release closes the descriptor, dropping the advisory lock.
func (l *Lock) Release() error {
	return errors.Wrap(l.file.Close(), "close lock file")
}
