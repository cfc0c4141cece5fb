// Package store persists indexed files, chunk metadata, and chunk vectors in
// a per-project SQLite database with a sqlite-vec virtual table. Chunk text
// is never stored; chunks are reconstructed from disk using their index and
// the chunking parameters.
package store

import "time"

// FileRecord is an indexed file's metadata.
type FileRecord struct {
	ID         int64     `json:"id"`
	Path       string    `json:"path"`
	Language   string    `json:"language"`
	Hash       string    `json:"hash"`
	Size       int64     `json:"size"`
	ModTime    time.Time `json:"mod_time"`
	Dependency bool      `json:"dependency"`
	ChunkCount int       `json:"chunk_count"`
	IndexedAt  time.Time `json:"indexed_at"`
}

// Dependency is a package declared by a project manifest.
type Dependency struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	Language   string `json:"language"`
	Transitive bool   `json:"transitive"`
	UsageCount int    `json:"usage_count"`
}

// SearchHit is one nearest-neighbor match.
type SearchHit struct {
	ChunkID    int64   `json:"chunk_id"`
	FileID     int64   `json:"file_id"`
	Path       string  `json:"path"`
	Language   string  `json:"language"`
	Dependency bool    `json:"dependency"`
	ChunkIndex int     `json:"chunk_index"`
	Distance   float64 `json:"distance"`
	Score      float64 `json:"score"`
}

// Stats summarizes a store's contents.
type Stats struct {
	Files        int            `json:"files"`
	Chunks       int            `json:"chunks"`
	Dependencies int            `json:"dependencies"`
	TotalBytes   int64          `json:"total_bytes"`
	Languages    map[string]int `json:"languages"`
	Dimensions   int            `json:"dimensions"`
}
