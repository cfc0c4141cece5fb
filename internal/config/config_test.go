package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)

	// Server defaults
	assert.Equal(t, DefaultHost, cfg.Server.Host)
	assert.Equal(t, DefaultPort, cfg.Server.Port)

	// Embeddings defaults
	assert.Equal(t, DefaultEmbeddingModel, cfg.Embeddings.Model)
	assert.Equal(t, DefaultChatModel, cfg.Embeddings.ChatModel)

	// Indexing defaults
	assert.Equal(t, DefaultMaxFileSize, cfg.Indexing.MaxFileSize)
	assert.Equal(t, DefaultChunkSize, cfg.Indexing.ChunkSize)
	assert.Equal(t, DefaultChunkOverlap, cfg.Indexing.ChunkOverlap)
	assert.Equal(t, DefaultEmbedBatchSize, cfg.Indexing.EmbedBatchSize)

	// Gateway defaults
	assert.Equal(t, DefaultRateLimitCalls, cfg.Gateway.RateLimitCalls)
	assert.Equal(t, DefaultCircuitThreshold, cfg.Gateway.CircuitThreshold)
	assert.Equal(t, DefaultMaxRetries, cfg.Gateway.MaxRetries)
	assert.Equal(t, DefaultEmbedConcurrent, cfg.Gateway.Concurrency)

	// Watcher defaults
	assert.True(t, cfg.Watcher.Enabled)
	assert.Equal(t, DefaultWatchInterval, cfg.Watcher.Interval)
	assert.Equal(t, DefaultWatchDebounce, cfg.Watcher.Debounce)
}

func TestDefaultPaths(t *testing.T) {
	configDir := DefaultConfigDir()
	dataDir := DefaultDataDir()

	assert.NotEmpty(t, configDir)
	assert.NotEmpty(t, dataDir)
	assert.Contains(t, dataDir, "picocode")
}

func TestLoadWithConfigFile(t *testing.T) {
	viper.Reset()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
data_dir: /custom/data
server:
  host: 0.0.0.0
  port: 9090
embeddings:
  model: text-embedding-3-large
  base_url: https://custom-api.example.com
  api_key: file-key
indexing:
  chunk_size: 1000
  chunk_overlap: 200
gateway:
  rate_limit_calls: 50
  circuit_threshold: 3
watcher:
  enabled: false
  interval: 30
`
	err := os.WriteFile(configPath, []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "/custom/data", cfg.DataDir)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "text-embedding-3-large", cfg.Embeddings.Model)
	assert.Equal(t, "https://custom-api.example.com", cfg.Embeddings.BaseURL)
	assert.Equal(t, "file-key", cfg.Embeddings.APIKey)
	assert.Equal(t, 1000, cfg.Indexing.ChunkSize)
	assert.Equal(t, 200, cfg.Indexing.ChunkOverlap)
	assert.Equal(t, 50, cfg.Gateway.RateLimitCalls)
	assert.Equal(t, 3, cfg.Gateway.CircuitThreshold)
	assert.False(t, cfg.Watcher.Enabled)
	assert.Equal(t, 30, cfg.Watcher.Interval)

	// Unset values keep their defaults
	assert.Equal(t, DefaultChatModel, cfg.Embeddings.ChatModel)
	assert.Equal(t, DefaultMaxRetries, cfg.Gateway.MaxRetries)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	viper.Reset()

	t.Setenv("PICOCODE_DATA_DIR", "/env/data")
	t.Setenv("PICOCODE_EMBEDDINGS_MODEL", "env-model")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/env/data", cfg.DataDir)
	assert.Equal(t, "env-model", cfg.Embeddings.Model)
}

func TestLoadAPIKeyFallback(t *testing.T) {
	viper.Reset()

	t.Setenv("OPENAI_API_KEY", "fallback-key")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "fallback-key", cfg.Embeddings.APIKey)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	viper.Reset()

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultChunkSize, cfg.Indexing.ChunkSize)
	assert.Equal(t, DefaultEmbeddingModel, cfg.Embeddings.Model)
}
