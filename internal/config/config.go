// Package config provides configuration loading and structs for the pagerag server and CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	ragerr "github.com/hyperjump/pagerag/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Extract    ExtractConfig    `yaml:"extract"`
	Search     SearchConfig     `yaml:"search"`
	Tasks      TasksConfig      `yaml:"tasks"`
	Watch      WatchConfig      `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host               string   `yaml:"host"`
	Port               int      `yaml:"port"`
	AuthEnabled        bool     `yaml:"auth_enabled"`
	DefaultScope       string   `yaml:"default_scope"`
	RateLimitPerMinute int      `yaml:"rate_limit_per_minute"`
	RateLimitBurst     int      `yaml:"rate_limit_burst"`
	MaxUploadMB        int      `yaml:"max_upload_mb"`
	RequestTimeoutSecs int      `yaml:"request_timeout_seconds"`
	CORSOrigins        []string `yaml:"cors_origins"`
	WebhookSecret      string   `yaml:"webhook_secret"`
}

// StorageConfig holds paths for the database, vector indexes, previews and keyword index.
type StorageConfig struct {
	DataDir          string `yaml:"data_dir"`
	DatabaseDriver   string `yaml:"database_driver"`
	DatabaseDSN      string `yaml:"database_dsn"`
	IndexDir         string `yaml:"index_dir"`
	PreviewDir       string `yaml:"preview_dir"`
	KeywordIndexPath string `yaml:"keyword_index_path"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"`
	Model          string `yaml:"model"`
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	Dimensions     int    `yaml:"dimensions"`
	Normalize      bool   `yaml:"normalize"`
	CacheSize      int    `yaml:"cache_size"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// GenerationConfig selects and configures the answer model.
type GenerationConfig struct {
	Provider       string `yaml:"provider"`
	Model          string `yaml:"model"`
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	MaxTokens      int    `yaml:"max_tokens"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// ExtractConfig holds page rendering settings.
type ExtractConfig struct {
	DPI            int `yaml:"dpi"`
	MaxImagePixels int `yaml:"max_image_pixels"`
}

// SearchConfig holds query limits and the winner selection policy.
type SearchConfig struct {
	DefaultK        int    `yaml:"default_k"`
	MaxK            int    `yaml:"max_k"`
	MaxBatchQueries int    `yaml:"max_batch_queries"`
	MaxQueryLength  int    `yaml:"max_query_length"`
	WinnerPolicy    string `yaml:"winner_policy"`
}

// TasksConfig sizes the background ingestion queue.
type TasksConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// WatchConfig holds inbox directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Recursive   *bool    `yaml:"recursive"`
	Scope       string   `yaml:"scope"`
	DebounceMS  int      `yaml:"debounce_ms"`
}

// Areas names each on-disk storage location, for usage reporting. The
// database is included only when it is a local SQLite file.
func (s *StorageConfig) Areas() map[string]string {
	areas := map[string]string{
		"vectors":  s.IndexDir,
		"previews": s.PreviewDir,
		"keyword":  s.KeywordIndexPath,
	}
	if s.DatabaseDriver == DriverSQLite {
		areas["database"] = s.DatabaseDSN
	}
	return areas
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Secrets are not resolved here; call ResolveSecrets once the config is final.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ragerr.Wrapf(err, ragerr.CodeConfigLoadReadFailure, "failed to read config %s", path)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, ragerr.Wrapf(err, ragerr.CodeConfigParseInvalidFormat, "failed to parse config %s", path)
	}

	configDir := filepath.Dir(path)
	if cfg.Storage.DataDir != "" {
		cfg.Storage.DataDir = expandPath(cfg.Storage.DataDir, configDir)
	}
	ApplyDefaults(&cfg)

	cfg.Storage.IndexDir = expandPath(cfg.Storage.IndexDir, configDir)
	cfg.Storage.PreviewDir = expandPath(cfg.Storage.PreviewDir, configDir)
	cfg.Storage.KeywordIndexPath = expandPath(cfg.Storage.KeywordIndexPath, configDir)
	if cfg.Storage.DatabaseDriver == DriverSQLite {
		cfg.Storage.DatabaseDSN = expandPath(cfg.Storage.DatabaseDSN, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
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

// Validate rejects settings the application cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.DatabaseDriver {
	case DriverSQLite, DriverPostgres:
	default:
		return ragerr.Errorf(ragerr.CodeConfigValidateInvalidValue,
			"storage.database_driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Storage.DatabaseDriver)
	}
	if c.Search.DefaultK > c.Search.MaxK {
		return ragerr.Errorf(ragerr.CodeConfigValidateInvalidValue,
			"search.default_k (%d) exceeds search.max_k (%d)", c.Search.DefaultK, c.Search.MaxK)
	}
	switch c.Search.WinnerPolicy {
	case WinnerImageFirst, WinnerNearest:
	default:
		return ragerr.Errorf(ragerr.CodeConfigValidateInvalidValue,
			"search.winner_policy must be %q or %q, got %q", WinnerImageFirst, WinnerNearest, c.Search.WinnerPolicy)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
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
