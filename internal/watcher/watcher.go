// Package watcher polls indexed project trees for drift and schedules
// incremental reindexes when files change on disk.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/tanishqjotwani/picocode/internal/config"
	"github.com/tanishqjotwani/picocode/internal/fs"
	"github.com/tanishqjotwani/picocode/internal/registry"
)

// ReindexFunc is invoked when a watched project has drifted. changed
// holds the relative paths added, modified, or removed since the last
// quiet state, sorted. The implementation is expected to be incremental
// so repeated triggers stay cheap.
type ReindexFunc func(ctx context.Context, projectID string, changed []string) error

// Options tunes poll cadence.
type Options struct {
	// Interval is the delay between poll sweeps.
	Interval time.Duration
	// Debounce is how long a project must stay quiet after its last
	// detected change before a reindex fires.
	Debounce time.Duration
}

func (o *Options) applyDefaults() {
	if o.Interval <= 0 {
		o.Interval = config.DefaultWatchInterval * time.Second
	}
	if o.Debounce <= 0 {
		o.Debounce = config.DefaultWatchDebounce * time.Second
	}
}

// Status is a point-in-time snapshot of watcher state.
type Status struct {
	Running   bool      `json:"running"`
	Interval  string    `json:"interval"`
	Projects  int       `json:"projects_watched"`
	Pending   []string  `json:"pending_reindex,omitempty"`
	LastSweep time.Time `json:"last_sweep,omitzero"`
	Sweeps    int64     `json:"sweeps_completed"`
	Triggers  int64     `json:"reindexes_triggered"`
}

// projectState tracks one watched tree between sweeps.
type projectState struct {
	path       string
	snapshot   map[string]string
	lastChange time.Time
	pending    bool

	// changed accumulates drifted relative paths until the debounce
	// window fires.
	changed map[string]bool
}

// Watcher polls registered projects on a fixed interval, comparing a
// lightweight mtime+size snapshot of each tree against the previous
// sweep. Content hashing is left to the indexing pipeline.
type Watcher struct {
	reg     *registry.Registry
	reindex ReindexFunc
	opts    Options

	mu        sync.Mutex
	projects  map[string]*projectState
	running   bool
	lastSweep time.Time
	sweeps    int64
	triggers  int64

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a watcher over reg. Projects must be registered with
// Watch before they are polled.
func New(reg *registry.Registry, reindex ReindexFunc, opts Options) *Watcher {
	opts.applyDefaults()
	return &Watcher{
		reg:      reg,
		reindex:  reindex,
		opts:     opts,
		projects: make(map[string]*projectState),
	}
}

// Watch adds a project to the poll set. The first sweep after Watch
// establishes the baseline snapshot without triggering a reindex.
func (w *Watcher) Watch(projectID string) error {
	project, err := w.reg.GetByID(projectID)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.projects[project.ID]; ok {
		return nil
	}
	w.projects[project.ID] = &projectState{path: project.Path}
	log.Debug("watching project", "project", project.ID, "path", project.Path)
	return nil
}

// Unwatch removes a project from the poll set.
func (w *Watcher) Unwatch(projectID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.projects, projectID)
}

// WatchAll registers every ready project currently in the registry.
func (w *Watcher) WatchAll() error {
	projects, err := w.reg.List()
	if err != nil {
		return err
	}
	for _, p := range projects {
		if p.Status != registry.StatusReady {
			continue
		}
		if err := w.Watch(p.ID); err != nil {
			return err
		}
	}
	return nil
}

// Start launches the poll loop. It returns immediately; the loop runs
// until Stop is called or ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	go w.loop(ctx)
	return nil
}

// Stop halts the poll loop and waits for the in-flight sweep to finish.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	done := w.doneCh
	w.mu.Unlock()
	<-done
}

// Status reports current watcher state.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := Status{
		Running:   w.running,
		Interval:  w.opts.Interval.String(),
		Projects:  len(w.projects),
		LastSweep: w.lastSweep,
		Sweeps:    w.sweeps,
		Triggers:  w.triggers,
	}
	for id, state := range w.projects {
		if state.pending {
			st.Pending = append(st.Pending, id)
		}
	}
	return st
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.doneCh)
	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs a single poll pass over every watched project. It is
// called by the loop on each tick and may be called directly.
func (w *Watcher) Sweep(ctx context.Context) {
	w.mu.Lock()
	ids := make([]string, 0, len(w.projects))
	for id := range w.projects {
		ids = append(ids, id)
	}
	w.mu.Unlock()

	now := time.Now()
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		w.sweepProject(ctx, id, now)
	}

	w.mu.Lock()
	w.lastSweep = now
	w.sweeps++
	w.mu.Unlock()
}

func (w *Watcher) sweepProject(ctx context.Context, id string, now time.Time) {
	w.mu.Lock()
	state, ok := w.projects[id]
	if !ok {
		w.mu.Unlock()
		return
	}
	path := state.path
	w.mu.Unlock()

	snapshot, err := takeSnapshot(path)
	if err != nil {
		log.Warn("watch sweep failed", "project", id, "error", err)
		return
	}

	w.mu.Lock()
	state, ok = w.projects[id]
	if !ok {
		w.mu.Unlock()
		return
	}
	if state.snapshot == nil {
		// Baseline sweep; nothing to compare yet.
		state.snapshot = snapshot
		w.mu.Unlock()
		return
	}
	if diff := diffSnapshots(state.snapshot, snapshot); len(diff) > 0 {
		state.snapshot = snapshot
		state.lastChange = now
		state.pending = true
		if state.changed == nil {
			state.changed = make(map[string]bool)
		}
		for _, rel := range diff {
			state.changed[rel] = true
		}
		log.Debug("project drift detected", "project", id, "paths", len(diff))
		w.mu.Unlock()
		return
	}
	fire := state.pending && now.Sub(state.lastChange) >= w.opts.Debounce
	var changed []string
	if fire {
		state.pending = false
		changed = make([]string, 0, len(state.changed))
		for rel := range state.changed {
			changed = append(changed, rel)
		}
		sort.Strings(changed)
		state.changed = nil
		w.triggers++
	}
	w.mu.Unlock()

	if !fire {
		return
	}
	log.Info("reindexing drifted project", "project", id, "changed", len(changed))
	if err := w.reindex(ctx, id, changed); err != nil {
		log.Error("drift reindex failed", "project", id, "error", err)
	}
}

// takeSnapshot walks root with an explicit stack and records
// "mtime|size" per indexable file. Excluded and dependency
// directories are pruned the same way indexing prunes them.
func takeSnapshot(root string) (map[string]string, error) {
	snapshot := make(map[string]string)
	stack := []string{root}
	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		entries, err := os.ReadDir(dir)
		if err != nil {
			if dir == root {
				return nil, err
			}
			continue
		}
		for _, entry := range entries {
			name := entry.Name()
			full := filepath.Join(dir, name)
			if entry.IsDir() {
				if fs.SkipDir(name) {
					continue
				}
				stack = append(stack, full)
				continue
			}
			if !fs.Indexable(full) {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			rel, err := filepath.Rel(root, full)
			if err != nil {
				continue
			}
			snapshot[rel] = fmt.Sprintf("%d|%d", info.ModTime().UnixNano(), info.Size())
		}
	}
	return snapshot, nil
}

// diffSnapshots returns the relative paths that were added, modified,
// or removed between two snapshots.
func diffSnapshots(before, after map[string]string) []string {
	var diff []string
	for rel, sig := range after {
		if prev, ok := before[rel]; !ok || prev != sig {
			diff = append(diff, rel)
		}
	}
	for rel := range before {
		if _, ok := after[rel]; !ok {
			diff = append(diff, rel)
		}
	}
	return diff
}
