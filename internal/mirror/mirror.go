package mirror

import (
	"context"
	"log/slog"

	"github.com/George-Ogden/mirror-rorrim/internal/flock"
	"github.com/George-Ogden/mirror-rorrim/internal/logging"
	"github.com/George-Ogden/mirror-rorrim/internal/manifest"
	"github.com/George-Ogden/mirror-rorrim/internal/state"
	"github.com/George-Ogden/mirror-rorrim/internal/typedpath"
)

// Mirror aggregates the repos of one manifest, in manifest order.
type Mirror struct {
	Repos []*Repo
}

// New builds the engines for a parsed manifest. A nil prior state means a
// first-time install: every file starts unrecorded.
func New(config *manifest.Config, prior state.MirrorState, cacheRoot typedpath.AbsDir, semaphores *flock.Table) *Mirror {
	repos := make([]*Repo, 0, len(config.Repos))
	for _, spec := range config.Repos {
		var repoState *state.RepoState
		if prior != nil {
			if existing, ok := prior.ByCanonicalSource(spec.Source); ok {
				repoState = &existing
			}
		}
		repos = append(repos, NewRepo(spec, repoState, cacheRoot, semaphores))
	}
	return &Mirror{Repos: repos}
}

// CheckoutAll brings every cache slot up to date, in manifest order. The
// first error aborts the remainder.
func (m *Mirror) CheckoutAll(ctx context.Context) (err error) {
	done := logging.Describe(ctx, slog.LevelInfo, "Syncing all repos")
	defer func() { done(err) }()
	for _, repo := range m.Repos {
		if err = repo.Checkout(ctx); err != nil {
			return err
		}
	}
	return nil
}

// UpdateAll replays upstream changes onto target, repo by repo in manifest
// order. Errors abort the remainder.
func (m *Mirror) UpdateAll(ctx context.Context, target typedpath.AbsDir) (err error) {
	done := logging.Describe(ctx, slog.LevelInfo, "Updating all files")
	defer func() { done(err) }()
	for _, repo := range m.Repos {
		if err = repo.Update(ctx, target); err != nil {
			return err
		}
	}
	return nil
}

// Check runs checkout-all and reports whether the downstream reflects every
// upstream HEAD. The exit code is 0 when all files are current, 1 otherwise.
func (m *Mirror) Check(ctx context.Context) (int, error) {
	if err := m.CheckoutAll(ctx); err != nil {
		return 1, err
	}
	current := true
	for _, repo := range m.Repos {
		repoCurrent, err := repo.AllUpToDate(ctx)
		if err != nil {
			return 1, err
		}
		current = current && repoCurrent
	}
	if !current {
		return 1, nil
	}
	logging.FromContext(ctx).InfoContext(ctx, "All up to date!")
	return 0, nil
}

// State returns the lock document for the current slots, in manifest order.
func (m *Mirror) State(ctx context.Context) (state.MirrorState, error) {
	records := make(state.MirrorState, 0, len(m.Repos))
	for _, repo := range m.Repos {
		record, err := repo.State(ctx)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}
