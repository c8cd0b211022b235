// Package config loads the application configuration from YAML with
// optional .env support. API keys are never stored in the file; the YAML
// names the environment variable that carries each key.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ChunkingConfig configures how document text is split into chunks.
type ChunkingConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	Overlap      int `yaml:"overlap"`
	MinChunkSize int `yaml:"min_chunk_size"`
	SnapWindow   int `yaml:"snap_window"`
}

// RetrievalConfig configures ranking and filtering of index matches.
type RetrievalConfig struct {
	K              int     `yaml:"k"`
	ScoreThreshold float64 `yaml:"score_threshold"`
}

// ContextConfig bounds the material fed into each generation call.
type ContextConfig struct {
	Budget          int `yaml:"budget"`
	MaxHistoryChars int `yaml:"max_history_chars"`
}

// OpenAIProviderConfig holds connection settings for an OpenAI-compatible
// endpoint. APIKeyEnv names the environment variable carrying the key.
type OpenAIProviderConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKeyEnv      string `yaml:"api_key_env"`
	EmbeddingModel string `yaml:"embedding_model"`
	ChatModel      string `yaml:"chat_model"`
}

// ProvidersConfig selects embedding and generation backends.
type ProvidersConfig struct {
	OpenAI      *OpenAIProviderConfig `yaml:"openai,omitempty"`
	Fallback    *OpenAIProviderConfig `yaml:"fallback,omitempty"`
	MaxTokens   int                   `yaml:"max_tokens"`
	Temperature float64               `yaml:"temperature"`
}

// RedisConfig contains connection details for the Redis session store.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
	Prefix      string `yaml:"prefix"`
	TTLSecs     int    `yaml:"ttl_secs"`
}

// SessionConfig selects and configures the session store implementation.
type SessionConfig struct {
	Type  string       `yaml:"type"` // "memory" or "redis"
	Redis *RedisConfig `yaml:"redis,omitempty"`
}

// SnapshotConfig selects and configures the index snapshot backend.
type SnapshotConfig struct {
	Type string `yaml:"type"` // "none", "sqlite", "postgres", "file"
	Path string `yaml:"path"` // sqlite db path or file-store directory
	// ConnStringEnv names the env var holding the postgres connection
	// string.
	ConnStringEnv string `yaml:"conn_string_env"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Context   ContextConfig   `yaml:"context"`
	Providers ProvidersConfig `yaml:"providers"`
	Session   SessionConfig   `yaml:"session"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
}

// Load reads a config from the given path, loading a .env from the
// working directory first when one exists. A missing config file yields
// defaults.
func Load(path string) (*AppConfig, error) {
	// Missing .env is fine; explicit env vars win over file values.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// APIKey resolves the provider's API key from the environment.
func (c *OpenAIProviderConfig) APIKey() (string, error) {
	key := os.Getenv(c.APIKeyEnv)
	if key == "" {
		return "", fmt.Errorf("config: environment variable %s is not set", c.APIKeyEnv)
	}
	return key, nil
}

// RedisPassword resolves the Redis password; empty when no env var is
// named.
func (c *RedisConfig) RedisPassword() string {
	if c.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(c.PasswordEnv)
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Chunking.ChunkSize == 0 {
		cfg.Chunking.ChunkSize = 500
	}
	if cfg.Chunking.Overlap == 0 {
		cfg.Chunking.Overlap = 50
	}
	if cfg.Chunking.MinChunkSize == 0 {
		cfg.Chunking.MinChunkSize = 50
	}
	if cfg.Chunking.SnapWindow == 0 {
		cfg.Chunking.SnapWindow = 100
	}
	if cfg.Retrieval.K == 0 {
		cfg.Retrieval.K = 5
	}
	if cfg.Retrieval.ScoreThreshold == 0 {
		cfg.Retrieval.ScoreThreshold = 0.5
	}
	if cfg.Context.Budget == 0 {
		cfg.Context.Budget = 4000
	}
	if cfg.Context.MaxHistoryChars == 0 {
		cfg.Context.MaxHistoryChars = 8000
	}
	if cfg.Session.Type == "" {
		cfg.Session.Type = "memory"
	}
	if cfg.Snapshot.Type == "" {
		cfg.Snapshot.Type = "sqlite"
	}

	if cfg.Providers.OpenAI != nil {
		applyProviderDefaults(cfg.Providers.OpenAI)
	}
	if cfg.Providers.Fallback != nil {
		applyProviderDefaults(cfg.Providers.Fallback)
	}
	if cfg.Session.Type == "redis" && cfg.Session.Redis != nil {
		if cfg.Session.Redis.Addr == "" {
			cfg.Session.Redis.Addr = "localhost:6379"
		}
		if cfg.Session.Redis.Prefix == "" {
			cfg.Session.Redis.Prefix = "docmate:"
		}
	}
	if cfg.Snapshot.Type == "sqlite" && cfg.Snapshot.Path == "" {
		cfg.Snapshot.Path = "docmate.db"
	}
	if cfg.Snapshot.Type == "postgres" && cfg.Snapshot.ConnStringEnv == "" {
		cfg.Snapshot.ConnStringEnv = "DOCMATE_POSTGRES_URL"
	}
}

func applyProviderDefaults(p *OpenAIProviderConfig) {
	if p.APIKeyEnv == "" {
		p.APIKeyEnv = "OPENAI_API_KEY"
	}
	if p.EmbeddingModel == "" {
		p.EmbeddingModel = "text-embedding-3-small"
	}
	if p.ChatModel == "" {
		p.ChatModel = "gpt-4o-mini"
	}
}

func validate(cfg *AppConfig) error {
	if cfg.Chunking.Overlap >= cfg.Chunking.ChunkSize {
		return fmt.Errorf("config: overlap (%d) must be smaller than chunk_size (%d)",
			cfg.Chunking.Overlap, cfg.Chunking.ChunkSize)
	}
	if cfg.Retrieval.ScoreThreshold < 0 || cfg.Retrieval.ScoreThreshold > 1 {
		return fmt.Errorf("config: score_threshold must be in [0,1], got %g",
			cfg.Retrieval.ScoreThreshold)
	}
	switch cfg.Session.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unknown session store type %q", cfg.Session.Type)
	}
	switch cfg.Snapshot.Type {
	case "none", "sqlite", "postgres", "file":
	default:
		return fmt.Errorf("config: unknown snapshot backend %q", cfg.Snapshot.Type)
	}
	if cfg.Session.Type == "redis" && cfg.Session.Redis == nil {
		return fmt.Errorf("config: session type is redis but no redis section given")
	}
	if cfg.Snapshot.Type == "file" && cfg.Snapshot.Path == "" {
		return fmt.Errorf("config: snapshot type is file but no path given")
	}
	return nil
}
