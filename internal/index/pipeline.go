package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/tanishqjotwani/picocode/internal/cache"
	"github.com/tanishqjotwani/picocode/internal/deps"
	"github.com/tanishqjotwani/picocode/internal/fs"
	"github.com/tanishqjotwani/picocode/internal/registry"
	"github.com/tanishqjotwani/picocode/internal/store"
)

// Embedder is the slice of the gateway the pipeline needs.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
}

// Options configures the pipeline. Zero values fall back to defaults.
type Options struct {
	// ChunkSize and ChunkOverlap are the byte-window parameters.
	ChunkSize    int
	ChunkOverlap int

	// MaxFileSize skips files larger than this many bytes.
	MaxFileSize int64

	// FileBatchSize is how many files are dispatched per wave.
	FileBatchSize int

	// EmbedBatchSize is how many chunks go into one provider call.
	EmbedBatchSize int

	// Concurrency is how many files are processed at once.
	Concurrency int

	// FileTimeout bounds the work on a single file.
	FileTimeout time.Duration

	// IncludeDependencies enables the dependency-tree phase.
	IncludeDependencies bool

	// IncludeTransitive adds lockfile dependencies to the manifest scan.
	IncludeTransitive bool

	// IgnorePatterns are extra walker ignore rules.
	IgnorePatterns []string
}

func (o *Options) defaults() {
	if o.ChunkSize <= 0 {
		o.ChunkSize = 800
	}
	if o.ChunkOverlap <= 0 {
		o.ChunkOverlap = 100
	}
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = 200000
	}
	if o.FileBatchSize <= 0 {
		o.FileBatchSize = 10
	}
	if o.EmbedBatchSize <= 0 {
		o.EmbedBatchSize = 16
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.FileTimeout <= 0 {
		o.FileTimeout = 2 * time.Minute
	}
}

// Result summarizes one indexing run.
type Result struct {
	ProjectID      string        `json:"project_id"`
	FilesIndexed   int           `json:"files_indexed"`
	FilesSkipped   int           `json:"files_skipped"`
	FilesFailed    int           `json:"files_failed"`
	FilesDeleted   int           `json:"files_deleted"`
	ChunksEmbedded int           `json:"chunks_embedded"`
	Duration       time.Duration `json:"duration"`
}

// Pipeline runs indexing for registered projects.
type Pipeline struct {
	registry *registry.Registry
	embedder Embedder
	chunker  *fs.Chunker
	stats    *cache.Cache[store.Stats]
	opts     Options
}

// New builds a pipeline. statsCache may be nil; when set, finished runs
// invalidate the project's stats entry.
func New(reg *registry.Registry, embedder Embedder, statsCache *cache.Cache[store.Stats], opts Options) *Pipeline {
	opts.defaults()
	return &Pipeline{
		registry: reg,
		embedder: embedder,
		chunker:  fs.NewChunker(opts.ChunkSize, opts.ChunkOverlap),
		stats:    statsCache,
		opts:     opts,
	}
}

// Chunker exposes the chunk parameters used for persisted chunks.
func (p *Pipeline) Chunker() *fs.Chunker { return p.chunker }

// Index walks a project and brings its store up to date. Project files are
// indexed before dependency files. The project moves created/indexing to
// ready on success, error on failure.
func (p *Pipeline) Index(ctx context.Context, projectID string) (*Result, error) {
	started := time.Now()

	project, err := p.registry.GetByID(projectID)
	if err != nil {
		return nil, err
	}
	s, err := p.registry.Store(projectID)
	if err != nil {
		return nil, err
	}

	if err := p.registry.UpdateStatus(projectID, registry.StatusIndexing); err != nil {
		return nil, err
	}

	result := &Result{ProjectID: projectID}
	runErr := p.run(ctx, project, s, result)

	result.Duration = time.Since(started)
	if p.stats != nil {
		p.stats.Invalidate(projectID)
	}

	if runErr != nil {
		if err := p.registry.UpdateStatus(projectID, registry.StatusError); err != nil {
			log.Warn("Failed to mark project errored", "project", projectID, "error", err)
		}
		return result, runErr
	}

	if err := p.registry.UpdateStatus(projectID, registry.StatusReady); err != nil {
		return result, err
	}

	log.Info("Indexing finished",
		"project", projectID,
		"indexed", result.FilesIndexed,
		"skipped", result.FilesSkipped,
		"failed", result.FilesFailed,
		"deleted", result.FilesDeleted,
		"chunks", result.ChunksEmbedded,
		"duration", result.Duration)
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, project *registry.Project, s *store.Store, result *Result) error {
	walker, err := fs.NewWalker(fs.WalkOptions{
		Root:           project.Path,
		MaxFileSize:    p.opts.MaxFileSize,
		IgnorePatterns: p.opts.IgnorePatterns,
		UseGitignore:   true,
	})
	if err != nil {
		return err
	}

	projectFiles, err := walker.WalkProject()
	if err != nil {
		return fmt.Errorf("walk failed: %w", err)
	}
	if err := p.indexPhase(ctx, s, projectFiles, false, result); err != nil {
		return err
	}

	if p.includeDependencies(project) {
		depFiles, err := walker.WalkDependencies()
		if err != nil {
			return fmt.Errorf("dependency walk failed: %w", err)
		}
		if err := p.indexPhase(ctx, s, depFiles, true, result); err != nil {
			return err
		}
	}

	p.recordDependencies(ctx, project, s)

	if err := s.SetMetaBatch(ctx, map[string]string{
		"embedding_model": p.embedder.ModelName(),
		"chunk_size":      fmt.Sprintf("%d", p.chunker.Size()),
		"chunk_overlap":   fmt.Sprintf("%d", p.chunker.Overlap()),
		"last_indexed_at": time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		return fmt.Errorf("failed to record index metadata: %w", err)
	}
	return nil
}

// includeDependencies honors a per-project settings override before the
// pipeline default.
func (p *Pipeline) includeDependencies(project *registry.Project) bool {
	if v, ok := project.Settings["include_dependencies"].(bool); ok {
		return v
	}
	return p.opts.IncludeDependencies
}

// indexPhase processes one class of files in batches.
func (p *Pipeline) indexPhase(ctx context.Context, s *store.Store, files []fs.FileInfo, dependency bool, result *Result) error {
	cs, err := Detect(s, files, dependency)
	if err != nil {
		return fmt.Errorf("change detection failed: %w", err)
	}
	result.FilesSkipped += len(cs.Unchanged)

	for _, rec := range cs.Deleted {
		if err := s.DeleteFile(ctx, rec.ID); err != nil {
			log.Warn("Failed to delete removed file", "path", rec.Path, "error", err)
			continue
		}
		result.FilesDeleted++
	}

	work := append(cs.New, cs.Changed...)
	for start := 0; start < len(work); start += p.opts.FileBatchSize {
		end := start + p.opts.FileBatchSize
		if end > len(work) {
			end = len(work)
		}

		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.opts.Concurrency)
		for _, file := range work[start:end] {
			g.Go(func() error {
				chunks, skipped, err := p.indexFile(gctx, s, file)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					log.Warn("Failed to index file", "path", file.RelPath, "error", err)
					result.FilesFailed++
					return nil
				}
				if skipped {
					result.FilesSkipped++
					return nil
				}
				result.FilesIndexed++
				result.ChunksEmbedded += chunks
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// indexFile embeds and persists one file, returning the number of chunks
// written and whether the file was skipped. Empty content is a skip, not an
// error, and leaves no row behind. The previous rows survive any failure
// before the first write.
func (p *Pipeline) indexFile(ctx context.Context, s *store.Store, file fs.FileInfo) (int, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.FileTimeout)
	defer cancel()

	content, err := os.ReadFile(file.Path)
	if err != nil {
		return 0, false, fmt.Errorf("read failed: %w", err)
	}
	if len(content) == 0 {
		log.Debug("Skipping empty file", "path", file.RelPath)
		return 0, true, nil
	}

	chunks := p.chunker.Split(string(content))
	vectors, embedded := p.embedChunks(ctx, chunks)
	if len(chunks) > 0 && embedded == 0 {
		return 0, false, fmt.Errorf("embedding failed for all %d chunks", len(chunks))
	}

	record := store.FileRecord{
		Path:       file.RelPath,
		Language:   file.Language,
		Hash:       file.Hash,
		Size:       file.Size,
		ModTime:    file.ModTime,
		Dependency: file.Dependency,
		ChunkCount: embedded,
	}
	fileID, err := s.UpsertFile(ctx, record)
	if err != nil {
		return 0, false, err
	}
	if err := s.DeleteFileChunks(ctx, fileID); err != nil {
		return 0, false, err
	}

	written := 0
	for i, vec := range vectors {
		if vec == nil {
			continue
		}
		if err := s.InsertChunk(ctx, fileID, i, vec); err != nil {
			return written, false, err
		}
		written++
	}
	return written, false, nil
}

// embedChunks embeds chunk texts in provider-sized sub-batches. A failed
// sub-batch leaves nil slots so the rest of the file still indexes; the
// count of successful vectors is returned alongside.
func (p *Pipeline) embedChunks(ctx context.Context, chunks []string) ([][]float32, int) {
	vectors := make([][]float32, len(chunks))
	embedded := 0
	for start := 0; start < len(chunks); start += p.opts.EmbedBatchSize {
		end := start + p.opts.EmbedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch, err := p.embedder.EmbedBatch(ctx, chunks[start:end])
		if err != nil {
			log.Warn("Embed batch failed", "chunks", end-start, "error", err)
			continue
		}
		for i, vec := range batch {
			vectors[start+i] = vec
			if vec != nil {
				embedded++
			}
		}
	}
	return vectors, embedded
}

// recordDependencies scans manifests and stores declared dependencies with
// usage counts. Failures here never fail the run.
func (p *Pipeline) recordDependencies(ctx context.Context, project *registry.Project, s *store.Store) {
	direct, transitive := deps.Scan(project.Path, p.opts.IncludeTransitive)
	if len(direct) == 0 && len(transitive) == 0 {
		return
	}

	var paths []string
	if indexed, err := s.ListFiles(); err == nil {
		for _, f := range indexed {
			paths = append(paths, f.Path)
		}
	}

	if err := s.ReplaceDependencies(ctx, deps.WithUsage(paths, direct), false); err != nil {
		log.Warn("Failed to store dependencies", "project", project.ID, "error", err)
	}
	if p.opts.IncludeTransitive {
		if err := s.ReplaceDependencies(ctx, deps.WithUsage(paths, transitive), true); err != nil {
			log.Warn("Failed to store transitive dependencies", "project", project.ID, "error", err)
		}
	}
}

// Resume restarts indexing for projects that never reached ready. Called on
// service startup.
func (p *Pipeline) Resume(ctx context.Context) {
	candidates, err := p.registry.ResumeCandidates()
	if err != nil {
		log.Warn("Failed to list resume candidates", "error", err)
		return
	}
	for _, project := range candidates {
		log.Info("Resuming indexing", "project", project.ID, "path", project.Path, "status", project.Status)
		if _, err := p.Index(ctx, project.ID); err != nil {
			log.Warn("Resume failed", "project", project.ID, "error", err)
		}
	}
}

// IndexPath registers a path if needed and indexes it.
func (p *Pipeline) IndexPath(ctx context.Context, path, name string) (*Result, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	project, err := p.registry.Create(ctx, abs, name)
	if err != nil {
		return nil, err
	}
	return p.Index(ctx, project.ID)
}
