// Package search answers nearest-neighbor queries against project stores,
// reconstructing chunk text from disk on demand.
package search

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/tanishqjotwani/picocode/internal/cache"
	"github.com/tanishqjotwani/picocode/internal/fs"
	"github.com/tanishqjotwani/picocode/internal/registry"
	"github.com/tanishqjotwani/picocode/internal/store"
)

// ChunkUnavailable replaces chunk text that can no longer be reconstructed,
// typically because the file changed or disappeared since indexing.
const ChunkUnavailable = "[chunk unavailable]"

// Provider is the slice of the gateway the search service needs.
type Provider interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Hit is one search result with its reconstructed text.
type Hit struct {
	store.SearchHit
	Content string `json:"content"`
}

// QueryResponse is a full query result.
type QueryResponse struct {
	ProjectID string  `json:"project_id"`
	Query     string  `json:"query"`
	Hits      []Hit   `json:"results"`
	TookMS    float64 `json:"took_ms"`
}

// AnswerResponse is a question answered from retrieved chunks.
type AnswerResponse struct {
	Answer string `json:"answer"`
	Hits   []Hit  `json:"results"`
}

// Service executes searches with read-through caching of results, stats,
// and file contents.
type Service struct {
	registry *registry.Registry
	provider Provider
	chunker  *fs.Chunker

	results *cache.Cache[*QueryResponse]
	content *cache.Cache[string]
	stats   *cache.Cache[store.Stats]
}

// New builds a search service. statsCache is shared with the indexing
// pipeline, which invalidates it after each run.
func New(reg *registry.Registry, provider Provider, chunker *fs.Chunker, statsCache *cache.Cache[store.Stats]) *Service {
	return &Service{
		registry: reg,
		provider: provider,
		chunker:  chunker,
		results:  cache.New[*QueryResponse](500, 10*time.Minute),
		content:  cache.New[string](200, 5*time.Minute),
		stats:    statsCache,
	}
}

// Query embeds the query text and returns the topK nearest chunks, best
// first. The project must exist; a project that has never finished indexing
// still searches over whatever is stored.
func (s *Service) Query(ctx context.Context, projectID, query string, limit int) (*QueryResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	if limit <= 0 {
		limit = 10
	}

	cacheKey := fmt.Sprintf("%s|%d|%s", projectID, limit, query)
	if resp, ok := s.results.Get(cacheKey); ok {
		return resp, nil
	}

	project, err := s.registry.GetByID(projectID)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	vec, err := s.provider.EmbedOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	st, err := s.registry.Store(projectID)
	if err != nil {
		return nil, err
	}
	raw, err := st.Search(vec, limit)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(raw))
	for _, h := range raw {
		hits = append(hits, Hit{
			SearchHit: h,
			Content:   s.chunkContent(project, h.Path, h.ChunkIndex),
		})
	}

	resp := &QueryResponse{
		ProjectID: projectID,
		Query:     query,
		Hits:      hits,
		TookMS:    float64(time.Since(started).Microseconds()) / 1000,
	}
	s.results.Set(cacheKey, resp)
	return resp, nil
}

// chunkContent reconstructs one chunk from the file on disk, caching whole
// file contents.
func (s *Service) chunkContent(project *registry.Project, relPath string, chunkIndex int) string {
	contentKey := project.ID + "|" + relPath
	content, ok := s.content.Get(contentKey)
	if !ok {
		data, err := os.ReadFile(filepath.Join(project.Path, relPath))
		if err != nil {
			log.Debug("Could not read indexed file", "path", relPath, "error", err)
			return ChunkUnavailable
		}
		content = string(data)
		s.content.Set(contentKey, content)
	}

	chunk := s.chunker.At(content, chunkIndex)
	if chunk == "" {
		return ChunkUnavailable
	}
	return chunk
}

// Stats returns a project's store summary through the stats cache.
func (s *Service) Stats(projectID string) (store.Stats, error) {
	if s.stats != nil {
		if st, ok := s.stats.Get(projectID); ok {
			return st, nil
		}
	}

	st, err := s.registry.Store(projectID)
	if err != nil {
		return store.Stats{}, err
	}
	stats, err := st.Stats()
	if err != nil {
		return store.Stats{}, err
	}
	if s.stats != nil {
		s.stats.Set(projectID, stats)
	}
	return stats, nil
}

// answerSystem instructs the chat model for answer mode.
const answerSystem = `You are a code assistant. Answer the question using only the provided code excerpts. Cite file paths when relevant. If the excerpts do not contain the answer, say so.`

// Answer retrieves the nearest chunks and asks the chat model to answer the
// question from them.
func (s *Service) Answer(ctx context.Context, projectID, question string, limit int) (*AnswerResponse, error) {
	resp, err := s.Query(ctx, projectID, question, limit)
	if err != nil {
		return nil, err
	}
	if len(resp.Hits) == 0 {
		return &AnswerResponse{Answer: "No indexed code matched the question.", Hits: nil}, nil
	}

	var sb strings.Builder
	sb.WriteString("Question: ")
	sb.WriteString(question)
	sb.WriteString("\n\nCode excerpts:\n")
	for i, hit := range resp.Hits {
		fmt.Fprintf(&sb, "\n--- [%d] %s (chunk %d, score %.3f) ---\n%s\n",
			i+1, hit.Path, hit.ChunkIndex, hit.Score, hit.Content)
	}

	answer, err := s.provider.Complete(ctx, answerSystem, sb.String())
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}
	return &AnswerResponse{Answer: answer, Hits: resp.Hits}, nil
}

// InvalidateProject drops cached results tied to a project after reindexing
// or deletion.
func (s *Service) InvalidateProject(projectID string) {
	if s.stats != nil {
		s.stats.Invalidate(projectID)
	}
	// Result and content keys embed the project id; a full clear is the
	// simplest correct invalidation for both.
	s.results.Clear()
	s.content.Clear()
}

// CacheStats reports the search result cache counters.
func (s *Service) CacheStats() cache.Stats {
	return s.results.Stats()
}
