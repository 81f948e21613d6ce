// Package embedding provides vector embedding generation for semantic search.
// The default engine is a local hash-based embedder; an Ollama backend is
// available as an upgrade path. Within one deployment all engines must agree
// on dimensionality, since stored vectors are compared against query vectors.
package embedding

import (
	"context"
	"fmt"
	"math"

	"coco/internal/logging"
)

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings.
	Dimensions() int

	// Name returns the engine name.
	Name() string
}

// HealthChecker is an optional interface for engines backed by a service.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Config selects and configures the embedding engine.
type Config struct {
	// Provider: "hash" (local, deterministic) or "ollama".
	Provider string `yaml:"provider"`

	// Dimensions for the hash provider.
	Dimensions int `yaml:"dimensions"`

	// Ollama settings.
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Provider:       "hash",
		Dimensions:     128,
		OllamaEndpoint: "http://localhost:11434",
		OllamaModel:    "embeddinggemma",
	}
}

// NewEngine creates an embedding engine based on configuration.
func NewEngine(cfg Config) (Engine, error) {
	logging.Embedding("Creating embedding engine: provider=%s", cfg.Provider)

	switch cfg.Provider {
	case "", "hash":
		dims := cfg.Dimensions
		if dims <= 0 {
			dims = 128
		}
		return NewHashEngine(dims), nil
	case "ollama":
		return NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'hash' or 'ollama')", cfg.Provider)
	}
}

// CosineSimilarity calculates the cosine similarity between two vectors.
// Returns a value between -1 and 1, where 1 means identical direction.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector dimension mismatch: %d != %d", len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
