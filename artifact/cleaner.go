package artifact

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Cleaner prunes per-job artifact directories, independent of the
// scheduler: a job row is never deleted, but its artifacts may be
// reclaimed once every stage has reached a terminal status and the
// directory is older than a configurable age.
//
// This adapts the teacher's job-row Cleaner, whose deletion target
// (the jobs table) has no home here — the scheduler never deletes job
// rows — onto the one thing in this domain that is safe to prune on a
// schedule: artifact directories belonging to finished jobs.
type Cleaner struct {
	store *Store
}

// NewCleaner returns a Cleaner operating on store's artifact root.
func NewCleaner(store *Store) *Cleaner {
	return &Cleaner{store: store}
}

// Clean removes every job directory under the artifact root whose
// corresponding job is terminal (per isTerminal) and, when olderThan
// is non-nil, whose directory modification time is at or before
// *olderThan. It returns the number of job directories removed.
//
// isTerminal receives a parsed job id and reports whether that job's
// every stage has reached DONE or ERROR; callers typically back this
// with a store.Observer lookup. A job id that fails to parse from a
// directory name (stray files under the artifacts root) is skipped.
func (c *Cleaner) Clean(ctx context.Context, olderThan *time.Time, isTerminal func(uuid.UUID) bool) (int, error) {
	entries, err := os.ReadDir(c.store.Root)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if !entry.IsDir() {
			continue
		}
		id, err := uuid.Parse(entry.Name())
		if err != nil {
			continue
		}
		if !isTerminal(id) {
			continue
		}
		if olderThan != nil {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if info.ModTime().After(*olderThan) {
				continue
			}
		}
		if err := os.RemoveAll(filepath.Join(c.store.Root, entry.Name())); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
