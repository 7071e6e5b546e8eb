// Package embedding provides the text embedding capability used by retrieval tools and the indexer.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/embedding"

	"agentrag/internal/config"
)

// ErrEmptyEmbedding is returned when a backend answers with no vectors.
var ErrEmptyEmbedding = errors.New("embedding backend returned no vectors")

// New builds the embedder selected by cfg, wrapped in an LRU cache when cache_size > 0.
func New(ctx context.Context, cfg config.EmbeddingConfig) (embedding.Embedder, error) {
	var (
		inner embedding.Embedder
		err   error
	)
	switch cfg.Provider {
	case "openai":
		inner, err = NewOpenAIEmbedder(ctx, cfg)
	case "gemini":
		inner, err = NewGeminiEmbedder(ctx, cfg)
	case "hash", "":
		inner = NewHashEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.CacheSize > 0 {
		return NewCachedEmbedder(inner, cfg.CacheSize), nil
	}
	return inner, nil
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, e embedding.Embedder, text string) ([]float64, error) {
	vectors, err := e.EmbedStrings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return vectors[0], nil
}
