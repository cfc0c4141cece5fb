package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIProvider backs the gateway with the OpenAI API. It implements both
// EmbeddingProvider and ChatProvider.
type OpenAIProvider struct {
	client         openai.Client
	embeddingModel string
	chatModel      string

	// dimMu guards dimensions; EmbedBatch runs concurrently under the
	// gateway's semaphore.
	dimMu      sync.Mutex
	dimensions int
}

// NewOpenAIProvider creates a provider for the given models. baseURL may be
// empty to use the public endpoint.
func NewOpenAIProvider(apiKey, embeddingModel, chatModel, baseURL string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	dimensions := ModelDimensions(embeddingModel)
	if dimensions == 0 {
		dimensions = 1536
		log.Debug("Unknown model dimensions, defaulting", "model", embeddingModel, "dimensions", dimensions)
	}

	return &OpenAIProvider{
		client:         openai.NewClient(opts...),
		embeddingModel: embeddingModel,
		chatModel:      chatModel,
		dimensions:     dimensions,
	}, nil
}

// EmbedBatch requests embeddings for texts, returned in input order.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	log.Debug("Requesting embeddings", "model", p.embeddingModel, "count", len(texts))

	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(p.embeddingModel),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}

	embeddings := make([][]float32, len(texts))
	for _, data := range resp.Data {
		idx := int(data.Index)
		if idx >= len(embeddings) {
			continue
		}
		vec := make([]float32, len(data.Embedding))
		for i, v := range data.Embedding {
			vec[i] = float32(v)
		}
		embeddings[idx] = vec
	}

	for i, vec := range embeddings {
		if vec == nil {
			return nil, fmt.Errorf("no embedding returned for input %d", i)
		}
	}

	p.setDimensions(len(embeddings[0]))
	return embeddings, nil
}

// setDimensions records the width observed in a response. The API is the
// source of truth once a real embedding has been seen.
func (p *OpenAIProvider) setDimensions(dim int) {
	if dim <= 0 {
		return
	}
	p.dimMu.Lock()
	p.dimensions = dim
	p.dimMu.Unlock()
}

// Complete answers a prompt under a system instruction using the chat model.
func (p *OpenAIProvider) Complete(ctx context.Context, system, prompt string) (string, error) {
	log.Debug("Requesting completion", "model", p.chatModel)

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.chatModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no completion returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// Dimensions returns the embedding width.
func (p *OpenAIProvider) Dimensions() int {
	p.dimMu.Lock()
	defer p.dimMu.Unlock()
	return p.dimensions
}

// ModelName returns the embedding model identifier.
func (p *OpenAIProvider) ModelName() string { return p.embeddingModel }
