package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/charmbracelet/log"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tanishqjotwani/picocode/internal/writer"
)

func init() {
	// Register sqlite-vec for every connection in the process, including
	// the writer queue's.
	sqlite_vec.Auto()
}

// ErrDimensionMismatch is returned when a vector's width disagrees with the
// store's recorded embedding dimensions.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Metadata keys.
const (
	metaDimensions = "embedding_dimensions"
	metaModel      = "embedding_model"
)

// Store is one project's vector store. Reads go through its own pooled
// connection; every mutation is submitted to the single-writer queue.
type Store struct {
	path  string
	db    *sql.DB
	queue *writer.Queue

	// dimMu guards the cached dimension, which is scoped to this store
	// and reset by Clear.
	dimMu     sync.Mutex
	cachedDim int
}

// Open creates or opens the store database at path and ensures the schema.
// Writes are routed through q.
func Open(path string, q *writer.Queue) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Debug("Opened store", "path", path)
	return &Store{path: path, db: db, queue: q}, nil
}

// Close closes the read connection. The writer queue is owned by the caller.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Dimensions returns the store's recorded embedding width, or 0 when no
// vector has been written yet.
func (s *Store) Dimensions() (int, error) {
	s.dimMu.Lock()
	defer s.dimMu.Unlock()
	return s.dimensionsLocked()
}

func (s *Store) dimensionsLocked() (int, error) {
	if s.cachedDim > 0 {
		return s.cachedDim, nil
	}
	value, err := s.getMeta(metaDimensions)
	if err != nil {
		return 0, err
	}
	if value == "" {
		return 0, nil
	}
	dim, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("corrupt dimension metadata %q: %w", value, err)
	}
	s.cachedDim = dim
	return dim, nil
}

// EnsureDimensions records the embedding width on first use and creates the
// vector table. A later call with a different width fails with
// ErrDimensionMismatch.
func (s *Store) EnsureDimensions(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("invalid embedding dimensions: %d", dim)
	}

	s.dimMu.Lock()
	defer s.dimMu.Unlock()

	current, err := s.dimensionsLocked()
	if err != nil {
		return err
	}
	if current > 0 {
		if current != dim {
			return fmt.Errorf("%w: store has %d, got %d", ErrDimensionMismatch, current, dim)
		}
		return nil
	}

	if _, err := s.queue.Submit(ctx, vectorTableSQL(dim)); err != nil {
		return fmt.Errorf("failed to create vector table: %w", err)
	}
	if _, err := s.queue.Submit(ctx,
		`INSERT OR REPLACE INTO store_metadata (key, value) VALUES (?, ?)`,
		metaDimensions, strconv.Itoa(dim)); err != nil {
		return fmt.Errorf("failed to record dimensions: %w", err)
	}
	s.cachedDim = dim
	return nil
}

// UpsertFile inserts or updates a file row and returns its id.
func (s *Store) UpsertFile(ctx context.Context, f FileRecord) (int64, error) {
	dep := 0
	if f.Dependency {
		dep = 1
	}
	id, err := s.queue.Submit(ctx, `
		INSERT INTO files (path, language, hash, file_size, mod_time, is_dependency, chunk_count, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(path) DO UPDATE SET
			language = excluded.language,
			hash = excluded.hash,
			file_size = excluded.file_size,
			mod_time = excluded.mod_time,
			is_dependency = excluded.is_dependency,
			chunk_count = excluded.chunk_count,
			indexed_at = datetime('now')
		RETURNING id
	`, f.Path, f.Language, f.Hash, f.Size, f.ModTime.UTC().Format(time.RFC3339), dep, f.ChunkCount)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert file %s: %w", f.Path, err)
	}
	return id, nil
}

// GetFileByPath returns the file row for a relative path, or nil when the
// file is not indexed.
func (s *Store) GetFileByPath(path string) (*FileRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, path, language, hash, file_size, mod_time, is_dependency, chunk_count, indexed_at
		FROM files WHERE path = ?
	`, path)
	return scanFile(row)
}

// GetFileByID returns the file row for an id, or nil.
func (s *Store) GetFileByID(id int64) (*FileRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, path, language, hash, file_size, mod_time, is_dependency, chunk_count, indexed_at
		FROM files WHERE id = ?
	`, id)
	return scanFile(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*FileRecord, error) {
	var f FileRecord
	var modTime, indexedAt string
	var dep int
	err := row.Scan(&f.ID, &f.Path, &f.Language, &f.Hash, &f.Size, &modTime, &dep, &f.ChunkCount, &indexedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan file: %w", err)
	}
	f.Dependency = dep != 0
	f.ModTime, _ = time.Parse(time.RFC3339, modTime)
	f.IndexedAt, _ = time.Parse(time.RFC3339, strings.Replace(indexedAt, " ", "T", 1))
	return &f, nil
}

// ListFiles returns all file rows ordered by path.
func (s *Store) ListFiles() ([]FileRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, path, language, hash, file_size, mod_time, is_dependency, chunk_count, indexed_at
		FROM files ORDER BY path
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	var files []FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *f)
	}
	return files, rows.Err()
}

// DeleteFileChunks removes a file's chunks and their vectors. Called before
// re-chunking a changed file.
func (s *Store) DeleteFileChunks(ctx context.Context, fileID int64) error {
	if _, err := s.queue.Submit(ctx,
		`DELETE FROM chunk_vectors WHERE chunk_id IN (SELECT id FROM chunks WHERE file_id = ?)`,
		fileID); err != nil {
		// The vector table may not exist yet for an empty store.
		if !strings.Contains(err.Error(), "no such table") {
			return fmt.Errorf("failed to delete vectors for file %d: %w", fileID, err)
		}
	}
	if _, err := s.queue.Submit(ctx, `DELETE FROM chunks WHERE file_id = ?`, fileID); err != nil {
		return fmt.Errorf("failed to delete chunks for file %d: %w", fileID, err)
	}
	return nil
}

// DeleteFile removes a file row, its chunks, and vectors.
func (s *Store) DeleteFile(ctx context.Context, fileID int64) error {
	if err := s.DeleteFileChunks(ctx, fileID); err != nil {
		return err
	}
	if _, err := s.queue.Submit(ctx, `DELETE FROM files WHERE id = ?`, fileID); err != nil {
		return fmt.Errorf("failed to delete file %d: %w", fileID, err)
	}
	return nil
}

// InsertChunk stores one chunk's metadata and vector. The vector's width
// must match the store's dimensions; a mismatch fails before any write.
func (s *Store) InsertChunk(ctx context.Context, fileID int64, chunkIndex int, embedding []float32) error {
	if err := s.EnsureDimensions(ctx, len(embedding)); err != nil {
		return err
	}

	chunkID, err := s.queue.Submit(ctx,
		`INSERT INTO chunks (file_id, chunk_index) VALUES (?, ?)
		 ON CONFLICT(file_id, chunk_index) DO UPDATE SET chunk_index = excluded.chunk_index
		 RETURNING id`,
		fileID, chunkIndex)
	if err != nil {
		return fmt.Errorf("failed to insert chunk: %w", err)
	}

	if _, err := s.queue.Submit(ctx,
		`INSERT OR REPLACE INTO chunk_vectors (chunk_id, embedding) VALUES (?, ?)`,
		chunkID, serializeEmbedding(embedding)); err != nil {
		return fmt.Errorf("failed to insert vector: %w", err)
	}
	return nil
}

// Search returns the topK nearest chunks to the query vector, best first,
// with Score = 1 - cosine distance. An empty store returns no hits.
func (s *Store) Search(queryEmbedding []float32, topK int) ([]SearchHit, error) {
	dim, err := s.Dimensions()
	if err != nil {
		return nil, err
	}
	if dim == 0 {
		return nil, nil
	}
	if len(queryEmbedding) != dim {
		return nil, fmt.Errorf("%w: store has %d, query has %d", ErrDimensionMismatch, dim, len(queryEmbedding))
	}
	if topK <= 0 {
		topK = 10
	}

	rows, err := s.db.Query(`
		SELECT c.id, c.file_id, c.chunk_index,
			f.path, f.language, f.is_dependency,
			cv.distance
		FROM chunk_vectors cv
		JOIN chunks c ON c.id = cv.chunk_id
		JOIN files f ON f.id = c.file_id
		WHERE cv.embedding MATCH ? AND k = ?
		ORDER BY cv.distance ASC
	`, serializeEmbedding(queryEmbedding), topK)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		var dep int
		if err := rows.Scan(&h.ChunkID, &h.FileID, &h.ChunkIndex, &h.Path, &h.Language, &dep, &h.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan hit: %w", err)
		}
		h.Dependency = dep != 0
		h.Score = 1 - h.Distance
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// Stats summarizes the store.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	st.Languages = make(map[string]int)

	err := s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(file_size), 0) FROM files`).
		Scan(&st.Files, &st.TotalBytes)
	if err != nil {
		return st, fmt.Errorf("failed to count files: %w", err)
	}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM chunks`).Scan(&st.Chunks); err != nil {
		return st, fmt.Errorf("failed to count chunks: %w", err)
	}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM dependencies`).Scan(&st.Dependencies); err != nil {
		return st, fmt.Errorf("failed to count dependencies: %w", err)
	}

	rows, err := s.db.Query(`SELECT language, COUNT(*) FROM files GROUP BY language`)
	if err != nil {
		return st, fmt.Errorf("failed to count languages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var lang string
		var n int
		if err := rows.Scan(&lang, &n); err != nil {
			return st, err
		}
		st.Languages[lang] = n
	}
	if err := rows.Err(); err != nil {
		return st, err
	}

	st.Dimensions, err = s.Dimensions()
	return st, err
}

// SetMeta writes one metadata key.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.queue.Submit(ctx,
		`INSERT OR REPLACE INTO store_metadata (key, value) VALUES (?, ?)`, key, value)
	return err
}

// SetMetaBatch writes several metadata keys in one statement.
func (s *Store) SetMetaBatch(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT OR REPLACE INTO store_metadata (key, value) VALUES `)
	args := make([]any, 0, len(values)*2)
	first := true
	for k, v := range values {
		if !first {
			sb.WriteString(", ")
		}
		first = false
		sb.WriteString("(?, ?)")
		args = append(args, k, v)
	}
	_, err := s.queue.Submit(ctx, sb.String(), args...)
	return err
}

// GetMeta reads one metadata key, returning "" when absent.
func (s *Store) GetMeta(key string) (string, error) {
	return s.getMeta(key)
}

func (s *Store) getMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM store_metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read metadata %s: %w", key, err)
	}
	return value, nil
}

// RecordModel stores the embedding model identifier.
func (s *Store) RecordModel(ctx context.Context, model string) error {
	return s.SetMeta(ctx, metaModel, model)
}

// ReplaceDependencies swaps the dependency rows for one transitivity class
// wholesale.
func (s *Store) ReplaceDependencies(ctx context.Context, deps []Dependency, transitive bool) error {
	flag := 0
	if transitive {
		flag = 1
	}
	if _, err := s.queue.Submit(ctx,
		`DELETE FROM dependencies WHERE is_transitive = ?`, flag); err != nil {
		return fmt.Errorf("failed to clear dependencies: %w", err)
	}
	for _, d := range deps {
		if _, err := s.queue.Submit(ctx, `
			INSERT INTO dependencies (name, version, language, is_transitive, usage_count)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(name, language, is_transitive) DO UPDATE SET
				version = excluded.version,
				usage_count = excluded.usage_count
		`, d.Name, d.Version, d.Language, flag, d.UsageCount); err != nil {
			return fmt.Errorf("failed to insert dependency %s: %w", d.Name, err)
		}
	}
	return nil
}

// ListDependencies returns dependency rows, optionally filtered by
// transitivity, ordered by name.
func (s *Store) ListDependencies(transitive *bool) ([]Dependency, error) {
	query := `SELECT name, version, language, is_transitive, usage_count FROM dependencies`
	var args []any
	if transitive != nil {
		query += ` WHERE is_transitive = ?`
		flag := 0
		if *transitive {
			flag = 1
		}
		args = append(args, flag)
	}
	query += ` ORDER BY name`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependencies: %w", err)
	}
	defer rows.Close()

	var deps []Dependency
	for rows.Next() {
		var d Dependency
		var flag int
		if err := rows.Scan(&d.Name, &d.Version, &d.Language, &flag, &d.UsageCount); err != nil {
			return nil, err
		}
		d.Transitive = flag != 0
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

// Clear removes all indexed data and resets the recorded dimensions so the
// store can be rebuilt with a different embedding model.
func (s *Store) Clear(ctx context.Context) error {
	statements := []string{
		`DROP TABLE IF EXISTS chunk_vectors`,
		`DELETE FROM chunks`,
		`DELETE FROM files`,
		`DELETE FROM dependencies`,
		`DELETE FROM store_metadata WHERE key = '` + metaDimensions + `'`,
	}
	for _, stmt := range statements {
		if _, err := s.queue.Submit(ctx, stmt); err != nil {
			return fmt.Errorf("failed to clear store: %w", err)
		}
	}

	s.dimMu.Lock()
	s.cachedDim = 0
	s.dimMu.Unlock()
	return nil
}
