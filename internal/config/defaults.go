package config

import (
	"os"
	"path/filepath"
)

// Default configuration values
const (
	// Server defaults
	DefaultHost = "127.0.0.1"
	DefaultPort = 8080

	// Embedding defaults
	DefaultEmbeddingModel = "text-embedding-3-small"
	DefaultChatModel      = "gpt-4o-mini"

	// Indexing defaults
	DefaultMaxFileSize     = 200000 // bytes
	DefaultChunkSize       = 800
	DefaultChunkOverlap    = 100
	DefaultFileBatchSize   = 10
	DefaultEmbedBatchSize  = 16
	DefaultFileWorkerCap   = 8
	DefaultEmbedConcurrent = 4

	// Gateway defaults
	DefaultRateLimitCalls   = 100
	DefaultRateLimitWindow  = 60 // seconds
	DefaultCircuitThreshold = 5
	DefaultCircuitCooldown  = 60 // seconds
	DefaultMaxRetries       = 3
	DefaultEmbedTimeout     = 15  // seconds, per provider call
	DefaultFileTimeout      = 120 // seconds, per file

	// Write queue defaults
	DefaultWriterWorkers      = 1
	DefaultWriteWait          = 60  // seconds
	DefaultWriteWaitBootstrap = 300 // seconds, first-time schema creation
	DefaultWriterStopJoin     = 5   // seconds

	// Watcher defaults
	DefaultWatchInterval = 10 // seconds
	DefaultWatchDebounce = 5  // seconds

	// API rate limits (per client IP)
	DefaultQueryLimit    = 100 // per minute
	DefaultIndexingLimit = 10  // per minute
)

// DefaultDataDir returns the directory holding the registry and project stores.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".picocode"
	}
	return filepath.Join(home, ".picocode")
}

// DefaultConfigDir returns the default configuration directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/picocode"
	}
	return filepath.Join(home, ".config", "picocode")
}
