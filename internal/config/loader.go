package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// envPrefix scopes environment overrides to this service.
	envPrefix = "RELEVANCED_"

	maxConfigFileSize = 1024 * 1024 // 1MB
)

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (RELEVANCED_STORE__PROVIDER, ...)
//  2. YAML config file (~/.config/relevanced/config.yaml)
//  3. Hardcoded defaults
//
// The configPath parameter specifies the YAML file to load. If empty, uses
// the default path ~/.config/relevanced/config.yaml.
//
// # Security Considerations
//
// File Permissions: the configuration file may hold API keys, so it MUST
// have 0600 or 0400 permissions. Files with weaker permissions (e.g. 0644
// world-readable) are rejected.
//
// Path Validation: only configuration files in allowed directories can be
// loaded:
//   - ~/.config/relevanced/ (user's config directory)
//   - /etc/relevanced/ (system-wide config directory)
//
// Absolute paths outside these directories are rejected to prevent path
// traversal attacks.
//
// File Size Limit: configuration files larger than 1MB are rejected.
//
// # Environment Variable Mapping
//
// Environment variables carry the RELEVANCED_ prefix and use a double
// underscore as the section separator. Single underscores stay part of the
// field name:
//
//	RELEVANCED_STORE__PROVIDER        -> store.provider
//	RELEVANCED_STORE__QDRANT__HOST    -> store.qdrant.host
//	RELEVANCED_CLUSTER__API_KEY       -> cluster.api_key
//	RELEVANCED_SELECTION__TOKEN_BUDGET -> selection.token_budget
//
// # Example
//
//	cfg, err := config.LoadWithFile("")  // Use default path
//	if err != nil {
//	    log.Fatal(err)
//	}
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	// Use default config path if not specified
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "relevanced", "config.yaml")
	}

	// Validate config path (even if file doesn't exist)
	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}
	// Load from YAML file if it exists
	if _, err := os.Stat(configPath); err == nil {
		// Open file once and validate using the file descriptor to avoid a
		// TOCTOU race between the permission check and the read.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}

		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Use rawbytes provider to avoid re-opening the file
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Override with environment variables
	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Unmarshal into Config struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// envTransform maps an environment variable name to a config key.
// The prefix is stripped, the name is lowercased, and double underscores
// become section separators. Single underscores stay in the field name:
//
//	RELEVANCED_STORE__QDRANT__VECTOR_SIZE -> store.qdrant.vector_size
func envTransform(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "__", ".")
}

// EnsureConfigDir creates the relevanced config directory if it doesn't
// exist. Called during startup so new users have the directory ready.
// The directory is created with 0700 permissions (owner only).
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(home, ".config", "relevanced")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	return nil
}

// validateConfigPath checks if path is in allowed directories.
// This validation runs even if the file doesn't exist yet.
func validateConfigPath(path string) error {
	// Resolve to absolute path and follow symlinks to prevent path traversal
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	// Resolve symlinks so a link inside an allowed directory cannot point
	// elsewhere. If evaluation fails the path doesn't exist yet; validate
	// the absolute path instead.
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "relevanced"),
		"/etc/relevanced",
	}

	allowed := false
	for _, dir := range allowedDirs {
		if resolvedPath == dir || strings.HasPrefix(resolvedPath, dir+string(os.PathSeparator)) {
			allowed = true
			break
		}
	}

	if !allowed {
		return fmt.Errorf("config file must be in ~/.config/relevanced/ or /etc/relevanced/")
	}

	return nil
}

// validateConfigFileProperties checks file permissions and size.
// Takes FileInfo from an already-opened file descriptor to avoid a TOCTOU
// race.
func validateConfigFileProperties(info os.FileInfo) error {
	// Check file permissions (must be 0600 or 0400)
	// Skip on Windows (different permission model)
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	// Check file size (max 1MB)
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	// Store defaults (chromem is the default: embedded, no external deps)
	if cfg.Store.Provider == "" {
		cfg.Store.Provider = "chromem"
	}
	if cfg.Store.Chromem.Path == "" {
		cfg.Store.Chromem.Path = "~/.config/relevanced/store"
	}
	if cfg.Store.Chromem.Collection == "" {
		cfg.Store.Chromem.Collection = "relevanced_items"
	}
	if cfg.Store.Chromem.VectorSize == 0 {
		cfg.Store.Chromem.VectorSize = 384 // bge-small-en-v1.5 dimensions
	}
	if cfg.Store.Qdrant.Host == "" {
		cfg.Store.Qdrant.Host = "localhost"
	}
	if cfg.Store.Qdrant.Port == 0 {
		cfg.Store.Qdrant.Port = 6334
	}
	if cfg.Store.Qdrant.Collection == "" {
		cfg.Store.Qdrant.Collection = "relevanced_items"
	}
	if cfg.Store.Qdrant.VectorSize == 0 {
		cfg.Store.Qdrant.VectorSize = 384
	}
	if cfg.Store.SQLite.Path == "" {
		cfg.Store.SQLite.Path = "~/.config/relevanced/items.db"
	}

	// Embeddings defaults
	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "tei"
	}
	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}

	// Selection defaults
	if cfg.Selection.TokenBudget == 0 {
		cfg.Selection.TokenBudget = 2048
	}
	if cfg.Selection.FetchTimeout == 0 {
		cfg.Selection.FetchTimeout = Duration(2 * time.Second)
	}
	if cfg.Selection.SimilarityTopK == 0 {
		cfg.Selection.SimilarityTopK = 128
	}

	// Index defaults
	if cfg.Index.TTL == 0 {
		cfg.Index.TTL = Duration(5 * time.Minute)
	}
	if cfg.Index.MinSamples == 0 {
		cfg.Index.MinSamples = 5
	}
	if cfg.Index.MaxSummaryLength == 0 {
		cfg.Index.MaxSummaryLength = 100
	}

	// Usage defaults
	if cfg.Usage.FlushInterval == 0 {
		cfg.Usage.FlushInterval = Duration(30 * time.Second)
	}
	if cfg.Usage.PrefixCacheSize == 0 {
		cfg.Usage.PrefixCacheSize = 4096
	}
	if cfg.Usage.FlushMaxTries == 0 {
		cfg.Usage.FlushMaxTries = 3
	}
	if cfg.Usage.FlushTimeout == 0 {
		cfg.Usage.FlushTimeout = Duration(30 * time.Second)
	}

	// Cluster defaults. The model default lives in the LLM client; only
	// operational knobs are set here.
	if cfg.Cluster.MaxTokens == 0 {
		cfg.Cluster.MaxTokens = 256
	}
	if cfg.Cluster.Timeout == 0 {
		cfg.Cluster.Timeout = Duration(30 * time.Second)
	}
	if cfg.Cluster.MaxRetries == 0 {
		cfg.Cluster.MaxRetries = 3
	}
	if cfg.Cluster.MinSimilarity == 0 {
		cfg.Cluster.MinSimilarity = 0.85
	}
	if cfg.Cluster.SearchTopK == 0 {
		cfg.Cluster.SearchTopK = 5
	}
	if cfg.Cluster.RatePerMinute == 0 {
		cfg.Cluster.RatePerMinute = 30
	}
	if cfg.Cluster.RateBurst == 0 {
		cfg.Cluster.RateBurst = 3
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	// Telemetry defaults. Insecure is only defaulted alongside the local
	// endpoint; an explicit endpoint keeps whatever the operator set.
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
		cfg.Telemetry.Insecure = true
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "relevanced"
	}
	if cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = "0.1.0"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if cfg.Telemetry.MetricInterval == 0 {
		cfg.Telemetry.MetricInterval = Duration(15 * time.Second)
	}
	if cfg.Telemetry.ShutdownTimeout == 0 {
		cfg.Telemetry.ShutdownTimeout = Duration(5 * time.Second)
	}
}
