package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino-ext/libs/acl/openai"

	"agentrag/internal/config"
)

const defaultOpenAIEmbeddingModel = "text-embedding-3-small"

// NewOpenAIEmbedder returns an OpenAI-compatible embedding client.
func NewOpenAIEmbedder(ctx context.Context, cfg config.EmbeddingConfig) (*openai.EmbeddingClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai embedding requires an api key")
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIEmbeddingModel
	}
	ecfg := &openai.EmbeddingConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   model,
	}
	if cfg.Dimensions > 0 {
		dims := cfg.Dimensions
		ecfg.Dimensions = &dims
	}
	client, err := openai.NewEmbeddingClient(ctx, ecfg)
	if err != nil {
		return nil, fmt.Errorf("init openai embedder: %w", err)
	}
	return client, nil
}
