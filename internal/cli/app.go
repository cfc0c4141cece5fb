package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/tanishqjotwani/picocode/internal/cache"
	"github.com/tanishqjotwani/picocode/internal/config"
	"github.com/tanishqjotwani/picocode/internal/gateway"
	"github.com/tanishqjotwani/picocode/internal/index"
	"github.com/tanishqjotwani/picocode/internal/registry"
	"github.com/tanishqjotwani/picocode/internal/search"
	"github.com/tanishqjotwani/picocode/internal/store"
	"github.com/tanishqjotwani/picocode/internal/writer"
)

// app bundles the wired services shared by the commands. Every command
// builds one from the loaded config and closes it on the way out.
type app struct {
	cfg        *config.Config
	writers    *writer.Registry
	reg        *registry.Registry
	gw         *gateway.Gateway
	statsCache *cache.Cache[store.Stats]
	pipeline   *index.Pipeline
	searcher   *search.Service
}

func newApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	writers := writer.NewRegistry(writer.Options{
		Workers:       cfg.Writer.Workers,
		WaitTimeout:   time.Duration(cfg.Writer.WaitTimeout) * time.Second,
		BootstrapWait: time.Duration(cfg.Writer.BootstrapWait) * time.Second,
	})

	reg, err := registry.New(cfg.DataDir, writers)
	if err != nil {
		writers.StopAll()
		return nil, fmt.Errorf("failed to open project registry: %w", err)
	}

	provider, err := gateway.NewOpenAIProvider(cfg.Embeddings.APIKey, cfg.Embeddings.Model, cfg.Embeddings.ChatModel, cfg.Embeddings.BaseURL)
	if err != nil {
		reg.Close()
		writers.StopAll()
		return nil, err
	}

	gw := gateway.New(provider, gateway.Options{
		RateLimitCalls:   cfg.Gateway.RateLimitCalls,
		RateLimitWindow:  time.Duration(cfg.Gateway.RateLimitWindow) * time.Second,
		CircuitThreshold: cfg.Gateway.CircuitThreshold,
		CircuitCooldown:  time.Duration(cfg.Gateway.CircuitCooldown) * time.Second,
		MaxAttempts:      cfg.Gateway.MaxRetries,
		MaxConcurrent:    cfg.Gateway.Concurrency,
		CallTimeout:      time.Duration(cfg.Gateway.CallTimeout) * time.Second,
	})

	statsCache := cache.New[store.Stats](100, time.Minute)
	pipeline := index.New(reg, gw, statsCache, index.Options{
		ChunkSize:      cfg.Indexing.ChunkSize,
		ChunkOverlap:   cfg.Indexing.ChunkOverlap,
		MaxFileSize:    int64(cfg.Indexing.MaxFileSize),
		FileBatchSize:  cfg.Indexing.FileBatchSize,
		EmbedBatchSize: cfg.Indexing.EmbedBatchSize,
		Concurrency:    cfg.Indexing.FileWorkers,
		FileTimeout:    time.Duration(cfg.Indexing.FileTimeout) * time.Second,
	})
	searcher := search.New(reg, gw, pipeline.Chunker(), statsCache)

	return &app{
		cfg:        cfg,
		writers:    writers,
		reg:        reg,
		gw:         gw,
		statsCache: statsCache,
		pipeline:   pipeline,
		searcher:   searcher,
	}, nil
}

func (a *app) Close() {
	a.reg.Close()
	a.writers.StopAll()
}

// resolveProject maps a path or project ID argument to a registered
// project. Paths are tried first so "." works as expected.
func (a *app) resolveProject(arg string) (*registry.Project, error) {
	if _, statErr := os.Stat(arg); statErr == nil {
		if p, err := a.reg.GetByPath(arg); err == nil {
			return p, nil
		}
	}
	p, err := a.reg.GetByID(arg)
	if err != nil {
		return nil, fmt.Errorf("no indexed project for %q; run 'picocode index %s' first", arg, arg)
	}
	return p, nil
}
