// Package ai provides the tools the model may call besides the document search tools.
package ai

import (
	"context"
	"os"
	"time"

	"github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"
	"github.com/cloudwego/eino/components/tool"
	"go.uber.org/zap"

	"agentrag/internal/config"
	"agentrag/internal/service/rag"
)

// InitTools builds the tools enabled in cfg. Tools whose backends are
// unavailable are skipped with a warning.
func InitTools(ctx context.Context, cfg config.ToolsConfig, logger *zap.Logger) []*rag.Tool {
	if logger == nil {
		logger = zap.NewNop()
	}
	var tools []*rag.Tool
	if cfg.WebSearch {
		backends := searchBackends(ctx, logger)
		if len(backends) == 0 {
			logger.Warn("web_search tool disabled: no search providers available")
		} else {
			tools = append(tools, NewWebSearchTool(backends, logger))
		}
	}
	if cfg.SourceDir != "" {
		sr, err := NewSourceReader(ctx, cfg.SourceDir, logger)
		if err != nil {
			logger.Warn("read_source tool disabled", zap.Error(err))
		} else if t, err := rag.NewGenericTool(ctx, sr); err != nil {
			logger.Warn("read_source tool disabled", zap.Error(err))
		} else {
			tools = append(tools, t)
		}
	}
	return tools
}

// SearchBackend is one web search provider, tried in order.
type SearchBackend struct {
	Name string
	Tool tool.InvokableTool
}

func searchBackends(ctx context.Context, logger *zap.Logger) []SearchBackend {
	var backends []SearchBackend
	if g := InitGooglesearch(ctx, logger); g != nil {
		backends = append(backends, SearchBackend{Name: "google", Tool: g})
	}
	if d := InitDDGsearch(ctx, logger); d != nil {
		backends = append(backends, SearchBackend{Name: "duckduckgo", Tool: d})
	}
	return backends
}

// InitDDGsearch Init DDG Search
func InitDDGsearch(ctx context.Context, logger *zap.Logger) tool.InvokableTool {
	duckTool, err := duckduckgo.NewTextSearchTool(ctx, &duckduckgo.Config{
		ToolName:   "web_search_ddg",
		ToolDesc:   "DuckDuckGo Search Tool (no token required)",
		MaxResults: webSearchMaxResults,
		Region:     duckduckgo.RegionWT,
		Timeout:    10 * time.Second,
	})
	if err != nil {
		logger.Warn("duckduckgo search disabled", zap.Error(err))
		return nil
	}
	return duckTool
}

// InitGooglesearch Init Google Search, needs GOOGLE_API_KEY and GOOGLE_SEARCH_ENGINE_ID
func InitGooglesearch(ctx context.Context, logger *zap.Logger) tool.InvokableTool {
	apiKey := os.Getenv("GOOGLE_API_KEY")
	engineID := os.Getenv("GOOGLE_SEARCH_ENGINE_ID")
	if apiKey == "" || engineID == "" {
		logger.Info("google search disabled: missing GOOGLE_API_KEY or GOOGLE_SEARCH_ENGINE_ID")
		return nil
	}
	googleTool, err := googlesearch.NewTool(ctx, &googlesearch.Config{
		ToolName:       "web_search_google",
		ToolDesc:       "Google Search Tool",
		APIKey:         apiKey,
		SearchEngineID: engineID,
		Lang:           "en",
		Num:            webSearchMaxResults,
	})
	if err != nil {
		logger.Warn("google search disabled", zap.Error(err))
		return nil
	}
	return googleTool
}
