// Package config provides configuration loading and structs for the ronbun server and CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Embedding providers.
const (
	ProviderONNX   = "onnx"
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Build     BuildConfig     `yaml:"build"`
	Search    SearchConfig    `yaml:"search"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the metadata database and the index root.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	IndexDir     string `yaml:"index_dir"`
}

// EmbeddingConfig selects and configures the text encoder.
type EmbeddingConfig struct {
	Provider   string       `yaml:"provider"`
	ModelName  string       `yaml:"model_name"`
	ModelPath  string       `yaml:"model_path"`
	VocabPath  string       `yaml:"vocab_path"`
	Dimensions int          `yaml:"dimensions"`
	MaxTokens  int          `yaml:"max_tokens"`
	CacheSize  int          `yaml:"cache_size"`
	OpenAI     OpenAIConfig `yaml:"openai"`
}

// VocabPathOrDefault returns the WordPiece vocabulary path; defaults to vocab.txt next to
// the model.
func (e *EmbeddingConfig) VocabPathOrDefault() string {
	if e.VocabPath != "" || e.ModelPath == "" {
		return e.VocabPath
	}
	return filepath.Join(filepath.Dir(e.ModelPath), "vocab.txt")
}

// OpenAIConfig configures an OpenAI-compatible embedding endpoint. The API key is read from
// the environment variable named by APIKeyEnv.
type OpenAIConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// APIKey returns the key from the configured environment variable.
func (o *OpenAIConfig) APIKey() string {
	return os.Getenv(o.APIKeyEnv)
}

// BuildConfig holds index build settings.
type BuildConfig struct {
	BatchSize  int `yaml:"batch_size"`
	Workers    int `yaml:"workers"`
	KeepBuilds *int `yaml:"keep_builds"`
}

const defaultKeepBuilds = 3

// KeepBuildsOrDefault returns how many committed builds to retain; 0 keeps all. Defaults to 3
// when unset.
func (b *BuildConfig) KeepBuildsOrDefault() int {
	if b.KeepBuilds != nil {
		return *b.KeepBuilds
	}
	return defaultKeepBuilds
}

// SearchConfig holds query settings.
type SearchConfig struct {
	DefaultLimit  int           `yaml:"default_limit"`
	MaxLimit      int           `yaml:"max_limit"`
	Overfetch     int           `yaml:"overfetch"`
	EncodeTimeout time.Duration `yaml:"encode_timeout"`
	SearchTimeout time.Duration `yaml:"search_timeout"`
}

// WatchConfig controls reloading the index when a new build is committed.
type WatchConfig struct {
	Reload     *bool `yaml:"reload"`
	// StartEmpty lets serve start without a committed build and answer 503 until the
	// reloader picks one up. Requires reload.
	StartEmpty bool  `yaml:"start_empty"`
}

// ReloadOrDefault returns whether to reload on new builds; defaults to true when unset.
func (w *WatchConfig) ReloadOrDefault() bool {
	if w.Reload != nil {
		return *w.Reload
	}
	return true
}

// Load reads and parses the config file at path, expands paths, applies defaults and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.IndexDir = expandPath(cfg.Storage.IndexDir, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	if cfg.Embedding.VocabPath != "" {
		cfg.Embedding.VocabPath = expandPath(cfg.Embedding.VocabPath, configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that have no usable default.
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case ProviderONNX:
		if c.Embedding.ModelPath == "" {
			return fmt.Errorf("embedding.model_path is required for provider %q", ProviderONNX)
		}
	case ProviderOpenAI:
		if c.Embedding.ModelName == "" {
			return fmt.Errorf("embedding.model_name is required for provider %q", ProviderOpenAI)
		}
	case ProviderMock:
	default:
		return fmt.Errorf("unknown embedding.provider %q", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Search.MaxLimit < c.Search.DefaultLimit {
		return fmt.Errorf("search.max_limit (%d) is below search.default_limit (%d)", c.Search.MaxLimit, c.Search.DefaultLimit)
	}
	if c.Build.KeepBuilds != nil && *c.Build.KeepBuilds < 0 {
		return fmt.Errorf("build.keep_builds must not be negative, got %d", *c.Build.KeepBuilds)
	}
	if c.Watch.StartEmpty && !c.Watch.ReloadOrDefault() {
		return fmt.Errorf("watch.start_empty requires watch.reload")
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
