package gateway

import "context"

// EmbeddingProvider is the capability every provider must offer: turning
// batches of text into vectors.
type EmbeddingProvider interface {
	// EmbedBatch returns one embedding per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding width for the configured model.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string
}

// ChatProvider is an optional capability for providers that can also answer
// free-form prompts. Callers discover it with a type assertion.
type ChatProvider interface {
	// Complete returns the model's reply to a prompt under a system
	// instruction.
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Known model dimensions
var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// ModelDimensions returns the known width for a model, or 0 if unknown.
func ModelDimensions(model string) int {
	return modelDimensions[model]
}
