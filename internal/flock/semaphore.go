package flock

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alecthomas/errors"
	"golang.org/x/sys/unix"

	"github.com/George-Ogden/mirror-rorrim/internal/typedpath"
)

// ErrWaitTimeout is returned when a follower's wait for the leader exceeds
// the timeout.
var ErrWaitTimeout = errors.New("timed out waiting for leader")

// DefaultWaitTimeout bounds the follower busy-wait on the monitor file.
const DefaultWaitTimeout = time.Second

const pollInterval = 10 * time.Millisecond

// Semaphore coordinates concurrent processes that want to clone or fetch the
// same cache slot. Exactly one caller per round holds the exclusive lock
// long enough to become leader; everyone else shares the lock and waits for
// the leader's key to appear in the monitor file.
type Semaphore struct {
	file   *os.File
	leader bool
	key    string
}

// Acquire opens the semaphore file and determines the caller's role. The
// leader writes a fresh monotonic key into the file before downgrading to a
// shared lock; followers take the shared lock and capture the current key.
func Acquire(path typedpath.AbsFile) (*Semaphore, error) {
	file, err := os.OpenFile(path.String(), os.O_APPEND|os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open semaphore %s", path)
	}
	fd := int(file.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err == nil {
		var now unix.Timespec
		if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &now); err != nil {
			_ = file.Close()
			return nil, errors.Wrap(err, "read monotonic clock")
		}
		key := strconv.FormatInt(now.Nano(), 10)
		if _, err := file.WriteString(key + "\n"); err != nil {
			_ = file.Close()
			return nil, errors.Wrapf(err, "write semaphore key to %s", path)
		}
		if err := unix.Flock(fd, unix.LOCK_SH); err != nil {
			_ = file.Close()
			return nil, errors.Wrapf(err, "downgrade semaphore lock on %s", path)
		}
		return &Semaphore{file: file, leader: true, key: key}, nil
	}
	if err := unix.Flock(fd, unix.LOCK_SH); err != nil {
		_ = file.Close()
		return nil, errors.Wrapf(err, "acquire shared semaphore lock on %s", path)
	}
	key, err := currentKey(path.String())
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return &Semaphore{file: file, leader: false, key: key}, nil
}

// Leader reports whether this caller performs the checkout work.
func (s *Semaphore) Leader() bool { return s.leader }

// Synchronize establishes the barrier on the monitor file: the leader
// publishes its key once the work is complete, and followers wait until the
// monitor carries the key they captured.
func (s *Semaphore) Synchronize(ctx context.Context, monitor typedpath.AbsFile, timeout time.Duration) error {
	if s.leader {
		err := os.WriteFile(monitor.String(), []byte(s.key), 0o644)
		return errors.Wrapf(err, "write monitor %s", monitor)
	}
	deadline := time.Now().Add(timeout)
	for {
		data, err := os.ReadFile(monitor.String())
		if err == nil && strings.TrimSpace(string(data)) == s.key {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.Wrapf(ErrWaitTimeout, "monitor %s never reached key %s", monitor, s.key)
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "wait for leader")
		case <-time.After(pollInterval):
		}
	}
}

// Release closes the descriptor; the advisory lock drops with it.
func (s *Semaphore) Release() error {
	return errors.Wrap(s.file.Close(), "close semaphore")
}

func currentKey(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "read semaphore %s", path)
	}
	lines := strings.Fields(string(data))
	if len(lines) == 0 {
		return "", errors.Errorf("semaphore %s has no key", path)
	}
	return lines[len(lines)-1], nil
}

// Table owns semaphore handles for the lifetime of the process, so that the
// shared locks they hold are not dropped while the slot is still in use.
type Table struct {
	mu   sync.Mutex
	held map[string]*Semaphore
}

func NewTable() *Table {
	return &Table{held: make(map[string]*Semaphore)}
}

// Do runs work under the slot's semaphore exactly once per process. The
// first caller for a slot acquires the semaphore, performs work when it is
// the leader, and synchronises on the monitor; later callers for the same
// slot return immediately because the handle is already held.
func (t *Table) Do(ctx context.Context, sem, monitor typedpath.AbsFile, timeout time.Duration, work func() error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.held[sem.String()]; ok {
		return nil
	}
	handle, err := Acquire(sem)
	if err != nil {
		return err
	}
	if handle.Leader() {
		if err := work(); err != nil {
			_ = handle.Release()
			return err
		}
	}
	if err := handle.Synchronize(ctx, monitor, timeout); err != nil {
		_ = handle.Release()
		return err
	}
	t.held[sem.String()] = handle
	return nil
}

// ReleaseAll drops every held handle; called at process teardown.
func (t *Table) ReleaseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, handle := range t.held {
		_ = handle.Release()
		delete(t.held, key)
	}
}
