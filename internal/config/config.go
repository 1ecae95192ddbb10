// Package config provides configuration loading for relevanced.
//
// Configuration is loaded from a YAML file with environment variable
// overrides and hardcoded defaults. Each section maps onto one component
// of the service: the knowledge store, the embedding client, scoring
// experiments, context selection, the scope index, usage tracking,
// clustering, logging, and telemetry.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Config holds the complete relevanced configuration.
type Config struct {
	Store      StoreConfig      `koanf:"store"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Scoring    ScoringConfig    `koanf:"scoring"`
	Selection  SelectionConfig  `koanf:"selection"`
	Index      IndexConfig      `koanf:"index"`
	Usage      UsageConfig      `koanf:"usage"`
	Cluster    ClusterConfig    `koanf:"cluster"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// StoreConfig selects and configures the knowledge store backend.
type StoreConfig struct {
	// Provider selects the backend: chromem (default), qdrant, sqlite,
	// or memory.
	Provider string `koanf:"provider"`

	Chromem ChromemStoreConfig `koanf:"chromem"`
	Qdrant  QdrantStoreConfig  `koanf:"qdrant"`
	SQLite  SQLiteStoreConfig  `koanf:"sqlite"`
}

// ChromemStoreConfig holds settings for the embedded chromem backend.
type ChromemStoreConfig struct {
	Path       string `koanf:"path"`
	Compress   bool   `koanf:"compress"`
	Collection string `koanf:"collection"`
	VectorSize int    `koanf:"vector_size"`
}

// QdrantStoreConfig holds settings for the Qdrant gRPC backend.
type QdrantStoreConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	Collection string `koanf:"collection"`
	VectorSize int    `koanf:"vector_size"`
	UseTLS     bool   `koanf:"use_tls"`
}

// SQLiteStoreConfig holds settings for the SQLite backend.
type SQLiteStoreConfig struct {
	Path string `koanf:"path"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the embedder: tei (default) or hash.
	Provider string `koanf:"provider"`
	BaseURL  string `koanf:"base_url"`
	Model    string `koanf:"model"`
	APIKey   Secret `koanf:"api_key"`

	// Dimension overrides the vector size derived from the model name.
	// Zero means derive from the model.
	Dimension int `koanf:"dimension"`
}

// ScoringConfig controls relevance scoring experiments.
type ScoringConfig struct {
	// Experiments enables the built-in experiment arms. When false every
	// task is scored with the control parameter set.
	Experiments bool `koanf:"experiments"`
}

// SelectionConfig controls context assembly.
type SelectionConfig struct {
	TokenBudget    int      `koanf:"token_budget"`
	FetchTimeout   Duration `koanf:"fetch_timeout"`
	SimilarityTopK int      `koanf:"similarity_top_k"`
}

// IndexConfig controls the scope index builder and refresher.
type IndexConfig struct {
	TTL              Duration `koanf:"ttl"`
	MinSamples       int      `koanf:"min_samples"`
	MaxSummaryLength int      `koanf:"max_summary_length"`
}

// UsageConfig controls usage tracking and flushing.
type UsageConfig struct {
	FlushInterval   Duration `koanf:"flush_interval"`
	PrefixCacheSize int      `koanf:"prefix_cache_size"`
	FlushMaxTries   int      `koanf:"flush_max_tries"`
	FlushTimeout    Duration `koanf:"flush_timeout"`
}

// ClusterConfig controls duplicate clustering and LLM adjudication.
type ClusterConfig struct {
	// Enabled turns on LLM adjudication. Requires an API key.
	Enabled bool   `koanf:"enabled"`
	APIKey  Secret `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`

	MaxTokens  int      `koanf:"max_tokens"`
	Timeout    Duration `koanf:"timeout"`
	MaxRetries int      `koanf:"max_retries"`

	MinSimilarity float64 `koanf:"min_similarity"`
	SearchTopK    int     `koanf:"search_top_k"`

	// RatePerMinute and RateBurst throttle adjudication calls.
	RatePerMinute int `koanf:"rate_per_minute"`
	RateBurst     int `koanf:"rate_burst"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, or error.
	Level string `koanf:"level"`

	// Format selects the encoder: json or console.
	Format string `koanf:"format"`

	// DisableSampling turns off level-aware log sampling. Sampling is on
	// by default so a hot path cannot flood the output.
	DisableSampling bool `koanf:"disable_sampling"`

	// DisableRedaction turns off redaction of sensitive field names and
	// credential-shaped values. On by default; disable only for local
	// debugging.
	DisableRedaction bool `koanf:"disable_redaction"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled        bool   `koanf:"enabled"`
	Endpoint       string `koanf:"endpoint"`
	ServiceName    string `koanf:"service_name"`
	ServiceVersion string `koanf:"service_version"`

	// Insecure disables TLS. Only allowed for local endpoints.
	Insecure bool `koanf:"insecure"`

	SampleRate      float64  `koanf:"sample_rate"`
	MetricInterval  Duration `koanf:"metric_interval"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// Validate validates the configuration. It assumes defaults have already
// been applied, so zero values that have defaults are treated as errors.
func (c *Config) Validate() error {
	if err := c.Store.validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.Embeddings.validate(); err != nil {
		return fmt.Errorf("embeddings: %w", err)
	}
	if err := c.Selection.validate(); err != nil {
		return fmt.Errorf("selection: %w", err)
	}
	if err := c.Index.validate(); err != nil {
		return fmt.Errorf("index: %w", err)
	}
	if err := c.Usage.validate(); err != nil {
		return fmt.Errorf("usage: %w", err)
	}
	if err := c.Cluster.validate(); err != nil {
		return fmt.Errorf("cluster: %w", err)
	}
	if err := c.Logging.validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Telemetry.validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}

func (c *StoreConfig) validate() error {
	switch c.Provider {
	case "chromem", "qdrant", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown provider %q (supported: chromem, qdrant, sqlite, memory)", c.Provider)
	}

	if c.Chromem.VectorSize < 0 {
		return errors.New("chromem vector_size cannot be negative")
	}

	if c.Provider == "qdrant" {
		if c.Qdrant.Port < 1 || c.Qdrant.Port > 65535 {
			return fmt.Errorf("invalid qdrant port: %d (must be 1-65535)", c.Qdrant.Port)
		}
		if !isValidHostname(c.Qdrant.Host) {
			return fmt.Errorf("invalid qdrant host: %q", c.Qdrant.Host)
		}
		if c.Qdrant.VectorSize < 1 {
			return errors.New("qdrant vector_size must be positive")
		}
	}

	return nil
}

func (c *EmbeddingsConfig) validate() error {
	switch c.Provider {
	case "tei", "hash":
	default:
		return fmt.Errorf("unknown provider %q (supported: tei, hash)", c.Provider)
	}

	if c.Dimension < 0 {
		return errors.New("dimension cannot be negative")
	}

	if c.Provider == "tei" {
		if err := validateHTTPURL(c.BaseURL); err != nil {
			return fmt.Errorf("base_url: %w", err)
		}
	}

	return nil
}

func (c *SelectionConfig) validate() error {
	if c.TokenBudget < 1 {
		return errors.New("token_budget must be positive")
	}
	if c.FetchTimeout.Duration() <= 0 {
		return errors.New("fetch_timeout must be positive")
	}
	if c.SimilarityTopK < 1 {
		return errors.New("similarity_top_k must be positive")
	}
	return nil
}

func (c *IndexConfig) validate() error {
	if c.TTL.Duration() <= 0 {
		return errors.New("ttl must be positive")
	}
	if c.MinSamples < 1 {
		return errors.New("min_samples must be positive")
	}
	if c.MaxSummaryLength < 1 {
		return errors.New("max_summary_length must be positive")
	}
	return nil
}

func (c *UsageConfig) validate() error {
	if c.FlushInterval.Duration() <= 0 {
		return errors.New("flush_interval must be positive")
	}
	if c.PrefixCacheSize < 1 {
		return errors.New("prefix_cache_size must be positive")
	}
	if c.FlushMaxTries < 1 {
		return errors.New("flush_max_tries must be positive")
	}
	if c.FlushTimeout.Duration() <= 0 {
		return errors.New("flush_timeout must be positive")
	}
	return nil
}

func (c *ClusterConfig) validate() error {
	if c.MinSimilarity < 0 || c.MinSimilarity > 1 {
		return fmt.Errorf("min_similarity %.3f outside [0,1]", c.MinSimilarity)
	}
	if c.SearchTopK < 1 {
		return errors.New("search_top_k must be positive")
	}

	if !c.Enabled {
		return nil
	}

	if !c.APIKey.IsSet() {
		return errors.New("api_key is required when clustering is enabled")
	}
	if c.BaseURL != "" {
		if err := validateHTTPURL(c.BaseURL); err != nil {
			return fmt.Errorf("base_url: %w", err)
		}
	}
	if c.Timeout.Duration() <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.RatePerMinute < 1 {
		return errors.New("rate_per_minute must be positive")
	}
	if c.RateBurst < 1 {
		return errors.New("rate_burst must be positive")
	}
	return nil
}

func (c *LoggingConfig) validate() error {
	switch c.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown level %q (supported: trace, debug, info, warn, error)", c.Level)
	}
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	return nil
}

func (c *TelemetryConfig) validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Endpoint == "" {
		return errors.New("endpoint is required when telemetry is enabled")
	}
	if c.ServiceName == "" {
		return errors.New("service_name is required when telemetry is enabled")
	}

	// Insecure connections leak spans in plaintext; only allow them to
	// collectors on this host.
	if c.Insecure && !isLocalEndpoint(c.Endpoint) {
		return errors.New("insecure connections to remote endpoints are not allowed; set insecure=false for TLS or use a local endpoint (localhost/127.0.0.1)")
	}

	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("sample_rate must be between 0 and 1, got %f", c.SampleRate)
	}
	if c.MetricInterval.Duration() <= 0 {
		return errors.New("metric_interval must be positive")
	}
	if c.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown_timeout must be positive")
	}
	return nil
}

// isValidHostname rejects hostnames containing shell metacharacters or
// whitespace. Hostnames reach process arguments and connection strings, so
// the charset is restricted to DNS-safe characters.
func isValidHostname(host string) bool {
	if host == "" {
		return false
	}
	for _, r := range host {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '-' || r == ':':
		default:
			return false
		}
	}
	return true
}

// validateHTTPURL rejects URLs with non-HTTP schemes (file://, ftp://, etc.).
func validateHTTPURL(raw string) error {
	if raw == "" {
		return errors.New("url is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("url has no host")
	}
	return nil
}

// isLocalEndpoint checks if the endpoint is a local address.
func isLocalEndpoint(endpoint string) bool {
	host := endpoint

	// Handle IPv6 addresses (may be bracketed like [::1]:4317)
	if strings.HasPrefix(host, "[") {
		if idx := strings.Index(host, "]:"); idx != -1 {
			host = host[1:idx]
		} else if strings.HasSuffix(host, "]") {
			host = host[1 : len(host)-1]
		}
	} else if strings.Count(host, ":") == 1 {
		if idx := strings.LastIndex(host, ":"); idx != -1 {
			host = host[:idx]
		}
	}
	// IPv6 without brackets (::1, ::1:4317) is checked against the full string.

	return host == "localhost" ||
		host == "127.0.0.1" ||
		host == "::1" ||
		strings.HasPrefix(host, "127.") ||
		strings.HasPrefix(endpoint, "::1")
}
