// Package llm adapts eino chat models to the single-turn completion capability used by the rag loop.
package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"agentrag/internal/config"
	"agentrag/internal/models"
	"agentrag/internal/service/rag"
)

const defaultClaudeMaxTokens = 3000

// ModelFactory creates a chat model for a provider.
type ModelFactory func(ctx context.Context, provider string, cfg config.ProviderConfig, modelName string) (model.ToolCallingChatModel, error)

// ProviderInfo describes a configured provider for listing.
type ProviderInfo struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type Service struct {
	providers map[string]config.ProviderConfig
	factory   ModelFactory
	logger    *zap.Logger

	mu     sync.Mutex
	models map[string]model.ToolCallingChatModel
}

var _ rag.ChatCompleter = (*Service)(nil)

// NewService returns a completion service over the configured providers. A nil
// factory selects the eino-ext provider implementations.
func NewService(providers map[string]config.ProviderConfig, factory ModelFactory, logger *zap.Logger) *Service {
	if factory == nil {
		factory = NewChatModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		providers: providers,
		factory:   factory,
		logger:    logger,
		models:    make(map[string]model.ToolCallingChatModel),
	}
}

// Providers lists configured providers sorted by name.
func (s *Service) Providers() []ProviderInfo {
	out := make([]ProviderInfo, 0, len(s.providers))
	for name, p := range s.providers {
		out = append(out, ProviderInfo{Provider: name, Model: p.Model})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// ChatCompletion performs one model turn with tools bound when any are offered.
func (s *Service) ChatCompletion(ctx context.Context, cfg models.LLMConfig, messages []*schema.Message, tools []*schema.ToolInfo) (*rag.Completion, error) {
	chatModel, err := s.model(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if len(tools) > 0 {
		chatModel, err = chatModel.WithTools(tools)
		if err != nil {
			return nil, fmt.Errorf("bind tools: %w", err)
		}
	}

	var opts []model.Option
	if cfg.Temperature != nil {
		opts = append(opts, model.WithTemperature(*cfg.Temperature))
	}
	if cfg.TopP != nil {
		opts = append(opts, model.WithTopP(*cfg.TopP))
	}
	if cfg.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(cfg.MaxTokens))
	}

	msg, err := chatModel.Generate(ctx, messages, opts...)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	if msg == nil {
		return nil, errors.New("model returned no message")
	}

	calls := make([]schema.ToolCall, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		if tc.Function.Name == "" {
			return nil, errors.New("model returned a tool call without a name")
		}
		if tc.ID == "" {
			// some providers omit call ids; tool messages must still reference one
			tc.ID = "call_" + uuid.NewString()
		}
		if tc.Type == "" {
			tc.Type = "function"
		}
		calls = append(calls, tc)
	}
	return &rag.Completion{Text: msg.Content, ToolCalls: calls}, nil
}

func (s *Service) model(ctx context.Context, cfg models.LLMConfig) (model.ToolCallingChatModel, error) {
	provider, err := s.resolveProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}
	provCfg := s.providers[provider]
	modelName := cfg.Model
	if modelName == "" {
		modelName = provCfg.Model
	}
	if modelName == "" {
		return nil, fmt.Errorf("no model configured for provider %s", provider)
	}

	key := provider + "/" + modelName
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.models[key]; ok {
		return m, nil
	}
	m, err := s.factory(ctx, provider, provCfg, modelName)
	if err != nil {
		return nil, fmt.Errorf("init %s model: %w", provider, err)
	}
	s.models[key] = m
	s.logger.Info("chat model initialised", zap.String("provider", provider), zap.String("model", modelName))
	return m, nil
}

func (s *Service) resolveProvider(name string) (string, error) {
	if name != "" {
		if _, ok := s.providers[name]; !ok {
			return "", fmt.Errorf("provider %s not configured", name)
		}
		return name, nil
	}
	if len(s.providers) == 1 {
		for only := range s.providers {
			return only, nil
		}
	}
	if _, ok := s.providers["openai"]; ok {
		return "openai", nil
	}
	return "", errors.New("llm provider must be specified")
}

// NewChatModel builds the eino-ext chat model for provider.
func NewChatModel(ctx context.Context, provider string, provCfg config.ProviderConfig, modelName string) (model.ToolCallingChatModel, error) {
	if provCfg.APIKey == "" {
		return nil, fmt.Errorf("api key for %s is not set", provider)
	}
	switch provider {
	case "openai":
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   modelName,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  provCfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("new gemini client: %w", err)
		}
		return gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  modelName,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		return claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     modelName,
			BaseURL:   baseURLPtr,
			MaxTokens: defaultClaudeMaxTokens,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
}
