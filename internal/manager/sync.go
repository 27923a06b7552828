package manager

import (
	"context"
)

// Syncer brings the downstream files forward to the current upstream HEADs,
// merging upstream changes with local edits. It keeps the lock on failure.
type Syncer struct {
	Manager
}

// Sync checks out every upstream, replays the changes since the recorded
// commits onto the downstream tree, and rewrites the lock with the new
// HEADs.
func (s *Syncer) Sync(ctx context.Context) error {
	if err := s.EnsureRepository(ctx); err != nil {
		return err
	}
	lock, mir, err := s.open(ctx)
	if err != nil {
		return err
	}
	return s.run(ctx, lock, mir, true, func() error {
		if err := mir.CheckoutAll(ctx); err != nil {
			return err
		}
		return mir.UpdateAll(ctx, s.Target)
	})
}
