// Package index builds and refreshes a project's vector store: walking the
// tree, detecting changes by content hash, embedding changed chunks through
// the gateway, and persisting through the single-writer queue.
package index

import (
	"time"

	"github.com/tanishqjotwani/picocode/internal/fs"
	"github.com/tanishqjotwani/picocode/internal/store"
)

// ChangeSet partitions walked files against the store's current contents.
type ChangeSet struct {
	// New files have no row in the store.
	New []fs.FileInfo
	// Changed files exist but their content hash or mtime differs.
	Changed []fs.FileInfo
	// Unchanged files match their stored hash and need no work.
	Unchanged []fs.FileInfo
	// Deleted rows exist in the store but the file is gone from disk.
	Deleted []store.FileRecord
}

// Detect compares walked files with indexed rows. Deleted detection is
// limited to the same dependency class as the walk, so a project-only walk
// does not mark dependency files deleted.
func Detect(s *store.Store, files []fs.FileInfo, dependency bool) (ChangeSet, error) {
	var cs ChangeSet

	onDisk := make(map[string]bool, len(files))
	for _, f := range files {
		onDisk[f.RelPath] = true

		existing, err := s.GetFileByPath(f.RelPath)
		if err != nil {
			return cs, err
		}
		switch {
		case existing == nil:
			cs.New = append(cs.New, f)
		case existing.Hash != f.Hash || modTimeChanged(existing.ModTime, f.ModTime):
			cs.Changed = append(cs.Changed, f)
		default:
			cs.Unchanged = append(cs.Unchanged, f)
		}
	}

	indexed, err := s.ListFiles()
	if err != nil {
		return cs, err
	}
	for _, rec := range indexed {
		if rec.Dependency == dependency && !onDisk[rec.Path] {
			cs.Deleted = append(cs.Deleted, rec)
		}
	}
	return cs, nil
}

// modTimeChanged compares at whole-second precision, the granularity the
// store persists. A zero stored time is stale and forces a reindex.
func modTimeChanged(stored, onDisk time.Time) bool {
	if stored.IsZero() {
		return true
	}
	return stored.Unix() != onDisk.Unix()
}
