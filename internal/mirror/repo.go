// Package mirror contains the synchronisation engine: per-upstream repos
// that check out cache slots and replay upstream changes onto the downstream
// tree, and the aggregate that drives them in manifest order.
package mirror

import (
	"context"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/alecthomas/errors"

	"github.com/George-Ogden/mirror-rorrim/internal/cachedir"
	"github.com/George-Ogden/mirror-rorrim/internal/flock"
	"github.com/George-Ogden/mirror-rorrim/internal/logging"
	"github.com/George-Ogden/mirror-rorrim/internal/manifest"
	"github.com/George-Ogden/mirror-rorrim/internal/state"
	"github.com/George-Ogden/mirror-rorrim/internal/typedpath"
	"github.com/George-Ogden/mirror-rorrim/internal/vcs"
)

var (
	// ErrMissingFile is returned when a referenced source does not exist
	// upstream.
	ErrMissingFile = errors.New("missing file")
	// ErrIsADirectory is returned when a referenced source is a directory.
	ErrIsADirectory = errors.New("is a directory")
	// ErrIrregularFile is returned when a referenced source is neither a
	// regular file nor a directory.
	ErrIrregularFile = errors.New("irregular file")
	// ErrCheckoutUnavailable is returned when clone, fetch and re-clone all
	// failed for a cache slot.
	ErrCheckoutUnavailable = errors.New("unable to checkout")
	// ErrDiffFailure is returned when the backend cannot compute a diff.
	ErrDiffFailure = errors.New("diff failed")
)

// Repo drives one upstream: its cache slot, the files referenced from it,
// and the commits the downstream reflects for them.
type Repo struct {
	Source typedpath.Remote
	Files  []VersionedFile

	slot       typedpath.AbsDir
	semaphores *flock.Table
	timeout    time.Duration
}

// NewRepo builds the engine for one manifest entry. A file carries the
// prior state's commit when the prior state lists its source; otherwise it
// has never been mirrored.
func NewRepo(spec manifest.RepoSpec, prior *state.RepoState, cacheRoot typedpath.AbsDir, semaphores *flock.Table) *Repo {
	recorded := map[string]bool{}
	var commit typedpath.Commit
	if prior != nil {
		commit = prior.Commit
		for _, file := range prior.Files {
			recorded[file.Canonical()] = true
		}
	}
	files := make([]VersionedFile, 0, len(spec.Files))
	for _, fileSpec := range spec.Files {
		vf := VersionedFile{File: fileFromSpec(fileSpec)}
		if recorded[fileSpec.Source.Canonical()] {
			vf.Commit = commit
		}
		files = append(files, vf)
	}
	return &Repo{
		Source:     spec.Source,
		Files:      files,
		slot:       cachedir.Slot(cacheRoot, spec.Source),
		semaphores: semaphores,
		timeout:    flock.DefaultWaitTimeout,
	}
}

// Slot exposes the repo's cache slot working tree.
func (r *Repo) Slot() typedpath.AbsDir { return r.slot }

// Checkout brings the cache slot up to date with the upstream and verifies
// that every referenced source exists there as a regular file. At most one
// process clones or fetches the slot; everyone else waits on the monitor.
func (r *Repo) Checkout(ctx context.Context) error {
	err := r.semaphores.Do(ctx,
		cachedir.SemaphoreFile(r.slot), cachedir.MonitorFile(r.slot), r.timeout,
		func() error { return r.checkoutSlot(ctx) },
	)
	if err != nil {
		return err
	}
	return r.verifyFiles(ctx)
}

// checkoutSlot runs as the slot leader: clone, then fetch-and-reset when the
// slot already holds a repository, then delete and re-clone as a last
// resort.
func (r *Repo) checkoutSlot(ctx context.Context) error {
	logger := logging.FromContext(ctx)
	done := logging.Describe(ctx, slog.LevelDebug, "Cloning "+r.Source.String()+" into "+r.slot.String())
	cloneErr := vcs.Clone(ctx, r.Source, r.slot)
	done(cloneErr)
	if cloneErr == nil {
		return nil
	}
	logger.DebugContext(ctx, "Clone failed, trying to refresh the slot", "error", cloneErr)
	if vcs.IsRepository(ctx, r.slot) {
		err := vcs.FetchAndResetHead(ctx, r.slot)
		if err == nil {
			return nil
		}
		logger.DebugContext(ctx, "Refresh failed, re-cloning", "error", err)
	}
	if err := os.RemoveAll(r.slot.String()); err != nil {
		return errors.Wrapf(ErrCheckoutUnavailable, "%s: %s", r.Source, err)
	}
	if err := vcs.Clone(ctx, r.Source, r.slot); err != nil {
		return errors.Wrapf(ErrCheckoutUnavailable, "%s", r.Source)
	}
	return nil
}

func (r *Repo) verifyFiles(ctx context.Context) error {
	for _, file := range r.Files {
		kind, err := vcs.ObjectKindAt(ctx, r.slot, "", file.Source)
		if err != nil {
			return err
		}
		switch kind {
		case vcs.KindBlob:
		case vcs.KindMissing:
			return errors.Wrapf(ErrMissingFile, "%q does not exist in %s", file.Source, r.Source)
		case vcs.KindTree:
			return errors.Wrapf(ErrIsADirectory, "%q is a directory in %s", file.Source, r.Source)
		default:
			return errors.Wrapf(ErrIrregularFile, "%q is not a regular file in %s", file.Source, r.Source)
		}
	}
	return nil
}

// Head returns the slot's current HEAD commit.
func (r *Repo) Head(ctx context.Context) (typedpath.Commit, error) {
	return vcs.HeadCommit(ctx, r.slot)
}

// AllUpToDate reports whether every referenced file's recorded commit equals
// the slot's current HEAD, logging a per-file explanation.
func (r *Repo) AllUpToDate(ctx context.Context) (bool, error) {
	logger := logging.FromContext(ctx)
	head, err := r.Head(ctx)
	if err != nil {
		return false, err
	}
	current := true
	for _, file := range r.Files {
		switch {
		case file.Commit == "":
			logger.InfoContext(ctx, "'"+file.Target.String()+"' has never been mirrored")
			current = false
		case file.Commit != head:
			logger.InfoContext(ctx, "'"+file.Target.String()+"' has commit "+file.Commit.Short()+
				", but "+r.Source.String()+" has commit "+head.Short())
			current = false
		default:
			logger.DebugContext(ctx, "'"+file.Target.String()+"' is up to date")
		}
	}
	return current, nil
}

// Update replays each referenced file's upstream change onto target with a
// three-way merge, respecting local edits and renames.
func (r *Repo) Update(ctx context.Context, target typedpath.AbsDir) error {
	for _, file := range r.Files {
		if err := r.updateFile(ctx, target, file); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repo) updateFile(ctx context.Context, target typedpath.AbsDir, file VersionedFile) error {
	var patch string
	if file.Commit == "" {
		raw, err := vcs.DiffToDevnull(ctx, r.slot, file.Source)
		if err != nil {
			return errors.Wrapf(ErrDiffFailure, "%q in %s: %s", file.Source, r.Source, err)
		}
		patch = newFilePatch(raw, file.Target)
	} else {
		raw, err := vcs.DiffFromCommit(ctx, r.slot, file.Commit, file.Source)
		if err != nil {
			return errors.Wrapf(ErrDiffFailure, "%q in %s: %s", file.Source, r.Source, err)
		}
		patch = fromCommitPatch(raw, file.Target)
		base, err := vcs.Blob(ctx, r.slot, file.Commit, file.Source)
		if err != nil {
			return errors.Wrapf(ErrDiffFailure, "%q in %s: %s", file.Source, r.Source, err)
		}
		// The ancestor blob must be present downstream for the merge to
		// find its base.
		if err := vcs.HashObject(ctx, target, base); err != nil {
			return err
		}
	}
	// The file may be new, so staging it is best-effort.
	_ = vcs.Add(ctx, target, file.Target)
	return vcs.ApplyThreeWay(ctx, target, patch, true)
}

// State returns the persistent record for this repo: current HEAD and the
// sorted deduplicated set of referenced sources.
func (r *Repo) State(ctx context.Context) (state.RepoState, error) {
	head, err := r.Head(ctx)
	if err != nil {
		return state.RepoState{}, err
	}
	seen := map[string]bool{}
	files := make([]typedpath.RelFile, 0, len(r.Files))
	for _, file := range r.Files {
		if seen[file.Source.Canonical()] {
			continue
		}
		seen[file.Source.Canonical()] = true
		files = append(files, file.Source)
	}
	slices.SortFunc(files, func(a, b typedpath.RelFile) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		}
		return 0
	})
	return state.RepoState{Source: r.Source, Commit: head, Files: files}, nil
}
