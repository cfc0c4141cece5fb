// Package registry tracks indexed projects in a central registry database
// and hands out per-project vector stores.
package registry

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tanishqjotwani/picocode/internal/cache"
	"github.com/tanishqjotwani/picocode/internal/store"
	"github.com/tanishqjotwani/picocode/internal/writer"
)

// Status is a project's indexing lifecycle state.
type Status string

const (
	StatusCreated  Status = "created"
	StatusIndexing Status = "indexing"
	StatusReady    Status = "ready"
	StatusError    Status = "error"
)

// ErrNotFound is returned when a project does not exist.
var ErrNotFound = errors.New("project not found")

// Project is one registered source tree.
type Project struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Path          string         `json:"path"`
	StorePath     string         `json:"database_path"`
	Status        Status         `json:"status"`
	Settings      map[string]any `json:"settings,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	LastIndexedAt time.Time      `json:"last_indexed_at,omitzero"`
}

const projectsTable = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	path TEXT NOT NULL UNIQUE,
	database_path TEXT NOT NULL,
	created_at TEXT DEFAULT (datetime('now')),
	last_indexed_at TEXT,
	status TEXT DEFAULT 'created',
	settings TEXT
);
`

// Registry owns the registry database, the project cache, and the open
// per-project stores. Reads use the registry's own connection; mutations
// go through a write queue like every other database in the system.
type Registry struct {
	dataDir string
	db      *sql.DB
	queue   *writer.Queue
	writers *writer.Registry

	projects *cache.Cache[*Project]

	mu     sync.Mutex
	stores map[string]*store.Store
}

// New opens (creating if needed) the registry under dataDir.
func New(dataDir string, writers *writer.Registry) (*Registry, error) {
	projectsDir := filepath.Join(dataDir, "projects")
	if err := os.MkdirAll(projectsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create projects directory: %w", err)
	}

	dbPath := filepath.Join(projectsDir, "registry.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}
	if _, err := db.Exec(projectsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create projects table: %w", err)
	}

	log.Debug("Opened project registry", "path", dbPath)
	return &Registry{
		dataDir:  dataDir,
		db:       db,
		queue:    writers.Get(dbPath),
		writers:  writers,
		projects: cache.New[*Project](50, 5*time.Minute),
		stores:   make(map[string]*store.Store),
	}, nil
}

// ProjectID derives the stable identifier for an absolute project path.
func ProjectID(path string) string {
	sum := sha256.Sum256([]byte(path))
	return hex.EncodeToString(sum[:])[:16]
}

// storePath returns the vector store file for a project id.
func (r *Registry) storePath(projectID string) string {
	return filepath.Join(r.dataDir, "projects", "store_"+projectID+".db")
}

// validatePath normalizes and checks a project path.
func validatePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("project path must not be empty")
	}
	if strings.Contains(path, "..") || strings.HasPrefix(path, "~") {
		return "", fmt.Errorf("path traversal not allowed in project path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("invalid project path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("project path does not exist: %s", path)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("project path is not a directory: %s", path)
	}
	return abs, nil
}

// Create registers a project, creating its vector store. Registering the
// same path again returns the existing project unchanged.
func (r *Registry) Create(ctx context.Context, path, name string) (*Project, error) {
	abs, err := validatePath(path)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, err := r.getByPathLocked(abs); err != nil {
		return nil, err
	} else if existing != nil {
		log.Info("Project already exists", "path", abs)
		return existing, nil
	}

	id := ProjectID(abs)
	if name == "" {
		name = filepath.Base(abs)
	}
	if len(name) > 255 {
		name = name[:255]
	}
	storePath := r.storePath(id)

	if _, err := r.queue.Submit(ctx, `
		INSERT INTO projects (id, name, path, database_path, status)
		VALUES (?, ?, ?, ?, 'created')
	`, id, name, abs, storePath); err != nil {
		return nil, fmt.Errorf("failed to register project: %w", err)
	}

	// Create the store file up front so the writer queue finds it.
	s, err := store.Open(storePath, r.writers.Get(storePath))
	if err != nil {
		_, _ = r.queue.Submit(context.Background(), `DELETE FROM projects WHERE id = ?`, id)
		return nil, fmt.Errorf("failed to create project store: %w", err)
	}
	r.stores[id] = s

	log.Info("Created project", "id", id, "path", abs)
	return r.getByIDLocked(id)
}

// GetByID returns a project, or ErrNotFound.
func (r *Registry) GetByID(id string) (*Project, error) {
	if p, ok := r.projects.Get("id:" + id); ok {
		return p, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.getByIDLocked(id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}

// GetByPath returns the project registered for a path, or ErrNotFound.
func (r *Registry) GetByPath(path string) (*Project, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	if p, ok := r.projects.Get("path:" + abs); ok {
		return p, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.getByPathLocked(abs)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}

func (r *Registry) getByIDLocked(id string) (*Project, error) {
	return r.scanProject(r.db.QueryRow(`
		SELECT id, name, path, database_path, created_at, last_indexed_at, status, settings
		FROM projects WHERE id = ?`, id))
}

func (r *Registry) getByPathLocked(path string) (*Project, error) {
	return r.scanProject(r.db.QueryRow(`
		SELECT id, name, path, database_path, created_at, last_indexed_at, status, settings
		FROM projects WHERE path = ?`, path))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *Registry) scanProject(row rowScanner) (*Project, error) {
	var p Project
	var createdAt string
	var lastIndexed, settings sql.NullString
	err := row.Scan(&p.ID, &p.Name, &p.Path, &p.StorePath, &createdAt, &lastIndexed, &p.Status, &settings)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	p.CreatedAt = parseDBTime(createdAt)
	if lastIndexed.Valid {
		p.LastIndexedAt = parseDBTime(lastIndexed.String)
	}
	if settings.Valid && settings.String != "" {
		if err := json.Unmarshal([]byte(settings.String), &p.Settings); err != nil {
			log.Warn("Corrupt project settings", "id", p.ID, "error", err)
		}
	}
	r.projects.Set("id:"+p.ID, &p)
	r.projects.Set("path:"+p.Path, &p)
	return &p, nil
}

func parseDBTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	t, _ := time.Parse("2006-01-02 15:04:05", s)
	return t
}

// List returns all projects, newest first.
func (r *Registry) List() ([]*Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(`
		SELECT id, name, path, database_path, created_at, last_indexed_at, status, settings
		FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p, err := r.scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// UpdateStatus moves a project through its lifecycle. A transition to ready
// also stamps last_indexed_at.
func (r *Registry) UpdateStatus(id string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	if status == StatusReady {
		_, err = r.queue.Submit(context.Background(), `UPDATE projects SET status = ?, last_indexed_at = datetime('now') WHERE id = ?`,
			string(status), id)
	} else {
		_, err = r.queue.Submit(context.Background(), `UPDATE projects SET status = ? WHERE id = ?`, string(status), id)
	}
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	r.invalidateLocked(id)
	return nil
}

// UpdateSettings replaces a project's settings document.
func (r *Registry) UpdateSettings(id string, settings map[string]any) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.queue.Submit(context.Background(), `UPDATE projects SET settings = ? WHERE id = ?`, string(data), id); err != nil {
		return fmt.Errorf("failed to update settings: %w", err)
	}
	r.invalidateLocked(id)
	return nil
}

func (r *Registry) invalidateLocked(id string) {
	if p, ok := r.projects.Get("id:" + id); ok {
		r.projects.Invalidate("path:" + p.Path)
	}
	r.projects.Invalidate("id:" + id)
}

// Store returns the open vector store for a project, opening it on first
// use.
func (r *Registry) Store(projectID string) (*store.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[projectID]; ok {
		return s, nil
	}

	p, err := r.getByIDLocked(projectID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}

	s, err := store.Open(p.StorePath, r.writers.Get(p.StorePath))
	if err != nil {
		return nil, err
	}
	r.stores[projectID] = s
	return s, nil
}

// Delete removes a project: its writer queue is stopped first, then the
// store files and registry row are removed.
func (r *Registry) Delete(projectID string) error {
	p, err := r.GetByID(projectID)
	if err != nil {
		return err
	}

	r.writers.Stop(p.StorePath, true)

	r.mu.Lock()
	if s, ok := r.stores[projectID]; ok {
		s.Close()
		delete(r.stores, projectID)
	}
	r.mu.Unlock()

	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(p.StorePath + suffix); err != nil && !os.IsNotExist(err) {
			log.Warn("Failed to remove store file", "path", p.StorePath+suffix, "error", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.queue.Submit(context.Background(), `DELETE FROM projects WHERE id = ?`, projectID); err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	r.projects.Invalidate("id:" + projectID)
	r.projects.Invalidate("path:" + p.Path)

	log.Info("Deleted project", "id", projectID, "path", p.Path)
	return nil
}

// ResumeCandidates returns projects whose indexing did not finish, for
// restart on startup.
func (r *Registry) ResumeCandidates() ([]*Project, error) {
	projects, err := r.List()
	if err != nil {
		return nil, err
	}
	var out []*Project
	for _, p := range projects {
		if p.Status == StatusCreated || p.Status == StatusIndexing || p.Status == StatusError {
			out = append(out, p)
		}
	}
	return out, nil
}

// CacheStats exposes the project cache counters.
func (r *Registry) CacheStats() cache.Stats {
	return r.projects.Stats()
}

// Close closes open stores and the registry database. Writer queues are
// owned by the writer registry and stopped separately.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, s := range r.stores {
		if err := s.Close(); err != nil {
			log.Warn("Failed to close store", "project", id, "error", err)
		}
	}
	r.stores = make(map[string]*store.Store)
	return r.db.Close()
}
