package config

import "path/filepath"

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"

	WinnerImageFirst = "image_first"
	WinnerNearest    = "nearest"

	DefaultDataDir = "/usr/local/var/pagerag/data"
)

// ApplyDefaults sets default values for any zero values in cfg.
// Storage paths left empty are derived from storage.data_dir.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.DefaultScope == "" {
		cfg.Server.DefaultScope = "default"
	}
	if cfg.Server.RateLimitPerMinute == 0 {
		cfg.Server.RateLimitPerMinute = 60
	}
	if cfg.Server.RateLimitBurst == 0 {
		cfg.Server.RateLimitBurst = 10
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 50
	}
	if cfg.Server.RequestTimeoutSecs == 0 {
		cfg.Server.RequestTimeoutSecs = 300
	}

	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = DefaultDataDir
	}
	if cfg.Storage.DatabaseDriver == "" {
		cfg.Storage.DatabaseDriver = DriverSQLite
	}
	if cfg.Storage.DatabaseDSN == "" && cfg.Storage.DatabaseDriver == DriverSQLite {
		cfg.Storage.DatabaseDSN = filepath.Join(cfg.Storage.DataDir, "db", "pagerag.db")
	}
	if cfg.Storage.IndexDir == "" {
		cfg.Storage.IndexDir = filepath.Join(cfg.Storage.DataDir, "indices", "vector")
	}
	if cfg.Storage.PreviewDir == "" {
		cfg.Storage.PreviewDir = filepath.Join(cfg.Storage.DataDir, "previews")
	}
	if cfg.Storage.KeywordIndexPath == "" {
		cfg.Storage.KeywordIndexPath = filepath.Join(cfg.Storage.DataDir, "indices", "bleve")
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "cohere"
	}
	if cfg.Embedding.Model == "" {
		switch cfg.Embedding.Provider {
		case "cohere":
			cfg.Embedding.Model = "embed-v4.0"
		case "gemini":
			cfg.Embedding.Model = "gemini-embedding-001"
		case "openai":
			cfg.Embedding.Model = "text-embedding-3-small"
		}
	}
	if cfg.Embedding.Dimensions == 0 && cfg.Embedding.Provider == "mock" {
		cfg.Embedding.Dimensions = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1000
	}
	if cfg.Embedding.TimeoutSeconds == 0 {
		cfg.Embedding.TimeoutSeconds = 60
	}

	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = "gemini"
	}
	if cfg.Generation.Model == "" {
		switch cfg.Generation.Provider {
		case "gemini":
			cfg.Generation.Model = "gemini-2.5-flash"
		case "openai":
			cfg.Generation.Model = "gpt-4o-mini"
		case "anthropic":
			cfg.Generation.Model = "claude-sonnet-4-5"
		}
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = 1024
	}
	if cfg.Generation.TimeoutSeconds == 0 {
		cfg.Generation.TimeoutSeconds = 120
	}

	if cfg.Extract.DPI == 0 {
		cfg.Extract.DPI = 200
	}
	if cfg.Extract.MaxImagePixels == 0 {
		cfg.Extract.MaxImagePixels = 1568 * 1568
	}

	if cfg.Search.DefaultK == 0 {
		cfg.Search.DefaultK = 5
	}
	if cfg.Search.MaxK == 0 {
		cfg.Search.MaxK = 20
	}
	if cfg.Search.MaxBatchQueries == 0 {
		cfg.Search.MaxBatchQueries = 10
	}
	if cfg.Search.MaxQueryLength == 0 {
		cfg.Search.MaxQueryLength = 1000
	}
	if cfg.Search.WinnerPolicy == "" {
		cfg.Search.WinnerPolicy = WinnerImageFirst
	}

	if cfg.Tasks.Workers == 0 {
		cfg.Tasks.Workers = 2
	}
	if cfg.Tasks.QueueSize == 0 {
		cfg.Tasks.QueueSize = 100
	}

	if cfg.Watch.Scope == "" {
		cfg.Watch.Scope = cfg.Server.DefaultScope
	}
	if cfg.Watch.DebounceMS == 0 {
		cfg.Watch.DebounceMS = 500
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
