// Package config handles configuration loading and validation for picocode.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

// Config represents the complete picocode configuration.
type Config struct {
	DataDir    string           `mapstructure:"data_dir"`
	Server     ServerConfig     `mapstructure:"server"`
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	Indexing   IndexingConfig   `mapstructure:"indexing"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Writer     WriterConfig     `mapstructure:"writer"`
	Watcher    WatcherConfig    `mapstructure:"watcher"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// EmbeddingsConfig configures the embedding/completion provider.
type EmbeddingsConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	ChatModel  string `mapstructure:"chat_model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// IndexingConfig configures the indexing pipeline.
type IndexingConfig struct {
	MaxFileSize    int `mapstructure:"max_file_size"`
	ChunkSize      int `mapstructure:"chunk_size"`
	ChunkOverlap   int `mapstructure:"chunk_overlap"`
	FileBatchSize  int `mapstructure:"file_batch_size"`
	EmbedBatchSize int `mapstructure:"embed_batch_size"`
	FileWorkers    int `mapstructure:"file_workers"`
	FileTimeout    int `mapstructure:"file_timeout"` // seconds
}

// GatewayConfig configures outbound-call policies of the embedding gateway.
type GatewayConfig struct {
	RateLimitCalls   int `mapstructure:"rate_limit_calls"`
	RateLimitWindow  int `mapstructure:"rate_limit_window"` // seconds
	CircuitThreshold int `mapstructure:"circuit_threshold"`
	CircuitCooldown  int `mapstructure:"circuit_cooldown"` // seconds
	MaxRetries       int `mapstructure:"max_retries"`
	Concurrency      int `mapstructure:"concurrency"`
	CallTimeout      int `mapstructure:"call_timeout"` // seconds
}

// WriterConfig configures the durable write queues.
type WriterConfig struct {
	Workers       int `mapstructure:"workers"`
	WaitTimeout   int `mapstructure:"wait_timeout"`   // seconds
	BootstrapWait int `mapstructure:"bootstrap_wait"` // seconds, first-time schema creation
}

// WatcherConfig configures the drift watcher.
type WatcherConfig struct {
	Enabled  bool `mapstructure:"enabled"`
	Interval int  `mapstructure:"interval"` // seconds
	Debounce int  `mapstructure:"debounce"` // seconds
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		Server: ServerConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Embeddings: EmbeddingsConfig{
			Model:     DefaultEmbeddingModel,
			ChatModel: DefaultChatModel,
		},
		Indexing: IndexingConfig{
			MaxFileSize:    DefaultMaxFileSize,
			ChunkSize:      DefaultChunkSize,
			ChunkOverlap:   DefaultChunkOverlap,
			FileBatchSize:  DefaultFileBatchSize,
			EmbedBatchSize: DefaultEmbedBatchSize,
			FileWorkers:    DefaultFileWorkerCap,
			FileTimeout:    DefaultFileTimeout,
		},
		Gateway: GatewayConfig{
			RateLimitCalls:   DefaultRateLimitCalls,
			RateLimitWindow:  DefaultRateLimitWindow,
			CircuitThreshold: DefaultCircuitThreshold,
			CircuitCooldown:  DefaultCircuitCooldown,
			MaxRetries:       DefaultMaxRetries,
			Concurrency:      DefaultEmbedConcurrent,
			CallTimeout:      DefaultEmbedTimeout,
		},
		Writer: WriterConfig{
			Workers:       DefaultWriterWorkers,
			WaitTimeout:   DefaultWriteWait,
			BootstrapWait: DefaultWriteWaitBootstrap,
		},
		Watcher: WatcherConfig{
			Enabled:  true,
			Interval: DefaultWatchInterval,
			Debounce: DefaultWatchDebounce,
		},
	}
}

// Load reads configuration from file and environment variables.
func Load(configFile string) (*Config, error) {
	setDefaults()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(DefaultConfigDir())
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("PICOCODE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug("No config file found, using defaults")
	} else {
		log.Debug("Loaded config", "file", viper.ConfigFileUsed())
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	if cfg.Embeddings.APIKey == "" {
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			cfg.Embeddings.APIKey = key
		}
	}

	return cfg, nil
}

// setDefaults sets default values in viper.
func setDefaults() {
	viper.SetDefault("data_dir", DefaultDataDir())

	viper.SetDefault("server.host", DefaultHost)
	viper.SetDefault("server.port", DefaultPort)

	viper.SetDefault("embeddings.model", DefaultEmbeddingModel)
	viper.SetDefault("embeddings.chat_model", DefaultChatModel)

	viper.SetDefault("indexing.max_file_size", DefaultMaxFileSize)
	viper.SetDefault("indexing.chunk_size", DefaultChunkSize)
	viper.SetDefault("indexing.chunk_overlap", DefaultChunkOverlap)
	viper.SetDefault("indexing.file_batch_size", DefaultFileBatchSize)
	viper.SetDefault("indexing.embed_batch_size", DefaultEmbedBatchSize)
	viper.SetDefault("indexing.file_workers", DefaultFileWorkerCap)
	viper.SetDefault("indexing.file_timeout", DefaultFileTimeout)

	viper.SetDefault("gateway.rate_limit_calls", DefaultRateLimitCalls)
	viper.SetDefault("gateway.rate_limit_window", DefaultRateLimitWindow)
	viper.SetDefault("gateway.circuit_threshold", DefaultCircuitThreshold)
	viper.SetDefault("gateway.circuit_cooldown", DefaultCircuitCooldown)
	viper.SetDefault("gateway.max_retries", DefaultMaxRetries)
	viper.SetDefault("gateway.concurrency", DefaultEmbedConcurrent)
	viper.SetDefault("gateway.call_timeout", DefaultEmbedTimeout)

	viper.SetDefault("writer.workers", DefaultWriterWorkers)
	viper.SetDefault("writer.wait_timeout", DefaultWriteWait)
	viper.SetDefault("writer.bootstrap_wait", DefaultWriteWaitBootstrap)

	viper.SetDefault("watcher.enabled", true)
	viper.SetDefault("watcher.interval", DefaultWatchInterval)
	viper.SetDefault("watcher.debounce", DefaultWatchDebounce)
}
