package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" yaml:"basic_config"`
	Providers   map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Embedding   EmbeddingConfig           `json:"embedding" yaml:"embedding"`
	VectorStore VectorStoreConfig         `json:"vector_store" yaml:"vector_store"`
	Databases   map[string]DatabaseConfig `json:"databases" yaml:"databases"`
	Redis       RedisConfig               `json:"redis" yaml:"redis"`
	Rag         RagConfig                 `json:"rag" yaml:"rag"`
	Tools       ToolsConfig               `json:"tools" yaml:"tools"`
	Auth        AuthConfig                `json:"auth" yaml:"auth"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url" yaml:"base_url"`
	Model   string `json:"model" yaml:"model"`
	APIKey  string `json:"api_key" yaml:"api_key"`
}

type BasicConfig struct {
	ServerAddress     string `json:"server_address" yaml:"server_address"`
	Debug             bool   `json:"debug" yaml:"debug"`
	MinWorkers        int    `json:"min_workers" yaml:"min_workers"`
	MaxWorkers        int    `json:"max_workers" yaml:"max_workers"`
	QueueSize         int    `json:"queue_size" yaml:"queue_size"`
	WorkerIdleTimeout int    `json:"worker_idle_timeout" yaml:"worker_idle_timeout"` // seconds
	TaskTTL           int    `json:"task_ttl" yaml:"task_ttl"`                       // minutes
}

// EmbeddingConfig selects the embedding backend used by retrieval tools and the indexer.
type EmbeddingConfig struct {
	Provider   string `json:"provider" yaml:"provider"` // openai, gemini, hash
	Model      string `json:"model" yaml:"model"`
	APIKey     string `json:"api_key" yaml:"api_key"`
	BaseURL    string `json:"base_url" yaml:"base_url"`
	Dimensions int    `json:"dimensions" yaml:"dimensions"`
	CacheSize  int    `json:"cache_size" yaml:"cache_size"`
}

type VectorStoreConfig struct {
	Type   string `json:"type" yaml:"type"`     // memory, sql
	Driver string `json:"driver" yaml:"driver"` // key into Databases when Type is sql
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"db_name" yaml:"db_name"`
	Params   string `json:"params" yaml:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// RagConfig holds server-side defaults for the orchestration loop. Per-request
// values in models.RagConfig take precedence when set.
type RagConfig struct {
	MaxIterations         int  `json:"max_iterations" yaml:"max_iterations"`
	ParallelToolCalls     bool `json:"parallel_tool_calls" yaml:"parallel_tool_calls"`
	ToolTimeout           int  `json:"tool_timeout" yaml:"tool_timeout"`   // seconds
	ModelTimeout          int  `json:"model_timeout" yaml:"model_timeout"` // seconds
	TopK                  int  `json:"top_k" yaml:"top_k"`
	FinalTurnWithoutTools bool `json:"final_turn_without_tools" yaml:"final_turn_without_tools"`
	DeduplicateCitations  bool `json:"deduplicate_citations" yaml:"deduplicate_citations"`
}

type ToolsConfig struct {
	WebSearch bool   `json:"web_search" yaml:"web_search"`
	SourceDir string `json:"source_dir" yaml:"source_dir"`
}

type AuthConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	KeyTTL  int  `json:"key_cache_ttl" yaml:"key_cache_ttl"` // minutes
}

const (
	DefaultMaxIterations = 3
	DefaultTopK          = 5
	DefaultServerAddress = ":8113"
)

// providerKeyEnv maps providers to the environment variable holding their api key.
var providerKeyEnv = map[string]string{
	"openai": "OPENAI_API_KEY",
	"claude": "ANTHROPIC_API_KEY",
	"gemini": "GEMINI_API_KEY",
}

// Load reads configuration from the provided path (defaults to config.json).
// Files ending in .yaml or .yml are decoded as YAML, everything else as JSON.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	baseDir := filepath.Dir(absPath)
	for name, db := range cfg.Databases {
		if db.DSN != "" && db.DSN != ":memory:" && !strings.Contains(db.DSN, "@") && !filepath.IsAbs(db.DSN) {
			db.DSN = filepath.Join(baseDir, db.DSN)
			cfg.Databases[name] = db
		}
	}
	if cfg.Tools.SourceDir != "" && !filepath.IsAbs(cfg.Tools.SourceDir) {
		cfg.Tools.SourceDir = filepath.Join(baseDir, cfg.Tools.SourceDir)
	}

	return &cfg, nil
}

// ApplyDefaults fills zero values with defaults and picks provider keys from the environment.
func ApplyDefaults(cfg *Config) {
	if cfg.BasicConfig.ServerAddress == "" {
		cfg.BasicConfig.ServerAddress = DefaultServerAddress
	}
	if cfg.BasicConfig.MinWorkers <= 0 {
		cfg.BasicConfig.MinWorkers = 1
	}
	if cfg.BasicConfig.MaxWorkers < cfg.BasicConfig.MinWorkers {
		cfg.BasicConfig.MaxWorkers = cfg.BasicConfig.MinWorkers * 4
	}
	if cfg.BasicConfig.QueueSize <= 0 {
		cfg.BasicConfig.QueueSize = 64
	}
	if cfg.BasicConfig.TaskTTL <= 0 {
		cfg.BasicConfig.TaskTTL = 60
	}
	if cfg.Rag.MaxIterations <= 0 {
		cfg.Rag.MaxIterations = DefaultMaxIterations
	}
	if cfg.Rag.TopK <= 0 {
		cfg.Rag.TopK = DefaultTopK
	}
	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "memory"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "hash"
	}
	if cfg.Embedding.Provider == "openai" && cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Embedding.Provider == "gemini" && cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.Auth.KeyTTL <= 0 {
		cfg.Auth.KeyTTL = 10
	}
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConfig)
	}
	for name, p := range cfg.Providers {
		if p.APIKey == "" {
			if env, ok := providerKeyEnv[name]; ok {
				p.APIKey = os.Getenv(env)
				cfg.Providers[name] = p
			}
		}
	}
}

// Validate reports configuration combinations that cannot work at runtime.
func (c *Config) Validate() error {
	switch c.VectorStore.Type {
	case "memory":
	case "sql":
		if c.VectorStore.Driver == "" {
			return fmt.Errorf("vector_store.driver must be configured for sql store")
		}
		if _, ok := c.Databases[c.VectorStore.Driver]; !ok {
			return fmt.Errorf("database config for %s not found", c.VectorStore.Driver)
		}
	default:
		return fmt.Errorf("unsupported vector store type: %s", c.VectorStore.Type)
	}
	if c.Auth.Enabled && len(c.Databases) == 0 {
		return fmt.Errorf("auth requires a database")
	}
	return nil
}
