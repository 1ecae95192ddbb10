package config

import (
	"strings"
	"testing"
	"time"
)

// defaultConfig returns a config with every default applied, the state
// Validate expects.
func defaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func TestApplyDefaults(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Store.Provider != "chromem" {
		t.Errorf("Store.Provider = %q, want chromem", cfg.Store.Provider)
	}
	if cfg.Store.Chromem.Path != "~/.config/relevanced/store" {
		t.Errorf("Store.Chromem.Path = %q", cfg.Store.Chromem.Path)
	}
	if cfg.Store.Qdrant.Port != 6334 {
		t.Errorf("Store.Qdrant.Port = %d, want 6334", cfg.Store.Qdrant.Port)
	}
	if cfg.Store.Qdrant.VectorSize != 384 {
		t.Errorf("Store.Qdrant.VectorSize = %d, want 384", cfg.Store.Qdrant.VectorSize)
	}
	if cfg.Store.SQLite.Path != "~/.config/relevanced/items.db" {
		t.Errorf("Store.SQLite.Path = %q", cfg.Store.SQLite.Path)
	}
	if cfg.Embeddings.Provider != "tei" {
		t.Errorf("Embeddings.Provider = %q, want tei", cfg.Embeddings.Provider)
	}
	if cfg.Embeddings.BaseURL != "http://localhost:8080" {
		t.Errorf("Embeddings.BaseURL = %q", cfg.Embeddings.BaseURL)
	}
	if cfg.Embeddings.Model != "BAAI/bge-small-en-v1.5" {
		t.Errorf("Embeddings.Model = %q", cfg.Embeddings.Model)
	}
	if cfg.Selection.TokenBudget != 2048 {
		t.Errorf("Selection.TokenBudget = %d, want 2048", cfg.Selection.TokenBudget)
	}
	if cfg.Selection.FetchTimeout.Duration() != 2*time.Second {
		t.Errorf("Selection.FetchTimeout = %v, want 2s", cfg.Selection.FetchTimeout.Duration())
	}
	if cfg.Selection.SimilarityTopK != 128 {
		t.Errorf("Selection.SimilarityTopK = %d, want 128", cfg.Selection.SimilarityTopK)
	}
	if cfg.Index.TTL.Duration() != 5*time.Minute {
		t.Errorf("Index.TTL = %v, want 5m", cfg.Index.TTL.Duration())
	}
	if cfg.Index.MinSamples != 5 {
		t.Errorf("Index.MinSamples = %d, want 5", cfg.Index.MinSamples)
	}
	if cfg.Usage.FlushInterval.Duration() != 30*time.Second {
		t.Errorf("Usage.FlushInterval = %v, want 30s", cfg.Usage.FlushInterval.Duration())
	}
	if cfg.Usage.PrefixCacheSize != 4096 {
		t.Errorf("Usage.PrefixCacheSize = %d, want 4096", cfg.Usage.PrefixCacheSize)
	}
	if cfg.Cluster.Enabled {
		t.Error("Cluster.Enabled = true, want false (disabled by default)")
	}
	if cfg.Cluster.MinSimilarity != 0.85 {
		t.Errorf("Cluster.MinSimilarity = %v, want 0.85", cfg.Cluster.MinSimilarity)
	}
	if cfg.Cluster.RatePerMinute != 30 {
		t.Errorf("Cluster.RatePerMinute = %d, want 30", cfg.Cluster.RatePerMinute)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}
	if cfg.Telemetry.Enabled {
		t.Error("Telemetry.Enabled = true, want false (disabled by default)")
	}
	if cfg.Telemetry.Endpoint != "localhost:4317" {
		t.Errorf("Telemetry.Endpoint = %q", cfg.Telemetry.Endpoint)
	}
	if !cfg.Telemetry.Insecure {
		t.Error("Telemetry.Insecure = false, want true for the default local endpoint")
	}
	if cfg.Telemetry.ServiceName != "relevanced" {
		t.Errorf("Telemetry.ServiceName = %q, want relevanced", cfg.Telemetry.ServiceName)
	}
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := &Config{}
	cfg.Store.Provider = "qdrant"
	cfg.Store.Qdrant.Host = "qdrant.internal"
	cfg.Selection.TokenBudget = 4096
	cfg.Telemetry.Endpoint = "collector.example.com:4317"

	applyDefaults(cfg)

	if cfg.Store.Provider != "qdrant" {
		t.Errorf("Store.Provider = %q, want qdrant", cfg.Store.Provider)
	}
	if cfg.Store.Qdrant.Host != "qdrant.internal" {
		t.Errorf("Store.Qdrant.Host = %q", cfg.Store.Qdrant.Host)
	}
	if cfg.Selection.TokenBudget != 4096 {
		t.Errorf("Selection.TokenBudget = %d, want 4096", cfg.Selection.TokenBudget)
	}
	// An explicit remote endpoint must not inherit the local-dev insecure
	// default.
	if cfg.Telemetry.Insecure {
		t.Error("Telemetry.Insecure = true, want false for explicit endpoint")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(cfg *Config) {},
		},
		{
			name:    "unknown store provider",
			mutate:  func(cfg *Config) { cfg.Store.Provider = "postgres" },
			wantErr: "unknown provider",
		},
		{
			name: "qdrant port out of range",
			mutate: func(cfg *Config) {
				cfg.Store.Provider = "qdrant"
				cfg.Store.Qdrant.Port = 99999
			},
			wantErr: "invalid qdrant port",
		},
		{
			name: "qdrant host with shell metacharacters",
			mutate: func(cfg *Config) {
				cfg.Store.Provider = "qdrant"
				cfg.Store.Qdrant.Host = "localhost; rm -rf /"
			},
			wantErr: "invalid qdrant host",
		},
		{
			name:    "unknown embeddings provider",
			mutate:  func(cfg *Config) { cfg.Embeddings.Provider = "openai" },
			wantErr: "unknown provider",
		},
		{
			name:    "embeddings file scheme rejected",
			mutate:  func(cfg *Config) { cfg.Embeddings.BaseURL = "file:///etc/passwd" },
			wantErr: "scheme must be http or https",
		},
		{
			name:    "embeddings javascript scheme rejected",
			mutate:  func(cfg *Config) { cfg.Embeddings.BaseURL = "javascript:alert(1)" },
			wantErr: "scheme must be http or https",
		},
		{
			name:    "negative token budget",
			mutate:  func(cfg *Config) { cfg.Selection.TokenBudget = -1 },
			wantErr: "token_budget",
		},
		{
			name:    "negative min samples",
			mutate:  func(cfg *Config) { cfg.Index.MinSamples = -5 },
			wantErr: "min_samples",
		},
		{
			name:    "cluster enabled without api key",
			mutate:  func(cfg *Config) { cfg.Cluster.Enabled = true },
			wantErr: "api_key is required",
		},
		{
			name: "cluster enabled with api key",
			mutate: func(cfg *Config) {
				cfg.Cluster.Enabled = true
				cfg.Cluster.APIKey = "sk-test"
			},
		},
		{
			name:    "cluster similarity out of range",
			mutate:  func(cfg *Config) { cfg.Cluster.MinSimilarity = 1.5 },
			wantErr: "min_similarity",
		},
		{
			name:    "unknown log level",
			mutate:  func(cfg *Config) { cfg.Logging.Level = "verbose" },
			wantErr: "unknown level",
		},
		{
			name:    "unknown log format",
			mutate:  func(cfg *Config) { cfg.Logging.Format = "logfmt" },
			wantErr: "format must be",
		},
		{
			name: "telemetry insecure remote endpoint rejected",
			mutate: func(cfg *Config) {
				cfg.Telemetry.Enabled = true
				cfg.Telemetry.Endpoint = "collector.example.com:4317"
				cfg.Telemetry.Insecure = true
			},
			wantErr: "insecure connections to remote endpoints",
		},
		{
			name: "telemetry insecure local endpoint allowed",
			mutate: func(cfg *Config) {
				cfg.Telemetry.Enabled = true
			},
		},
		{
			name: "telemetry secure remote endpoint allowed",
			mutate: func(cfg *Config) {
				cfg.Telemetry.Enabled = true
				cfg.Telemetry.Endpoint = "collector.example.com:4317"
				cfg.Telemetry.Insecure = false
			},
		},
		{
			name: "telemetry sample rate out of range",
			mutate: func(cfg *Config) {
				cfg.Telemetry.Enabled = true
				cfg.Telemetry.SampleRate = 1.5
			},
			wantErr: "sample_rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"RELEVANCED_STORE__PROVIDER", "store.provider"},
		{"RELEVANCED_STORE__QDRANT__HOST", "store.qdrant.host"},
		{"RELEVANCED_STORE__QDRANT__VECTOR_SIZE", "store.qdrant.vector_size"},
		{"RELEVANCED_CLUSTER__API_KEY", "cluster.api_key"},
		{"RELEVANCED_SELECTION__TOKEN_BUDGET", "selection.token_budget"},
		{"RELEVANCED_LOGGING__LEVEL", "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := envTransform(tt.in); got != tt.want {
				t.Errorf("envTransform(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestIsValidHostname(t *testing.T) {
	valid := []string{"localhost", "qdrant.internal", "10.0.0.5", "my-host-01"}
	for _, h := range valid {
		if !isValidHostname(h) {
			t.Errorf("isValidHostname(%q) = false, want true", h)
		}
	}

	invalid := []string{"", "localhost; rm -rf /", "localhost\nmalicious", "localhost$(whoami)", "host name"}
	for _, h := range invalid {
		if isValidHostname(h) {
			t.Errorf("isValidHostname(%q) = true, want false", h)
		}
	}
}

func TestIsLocalEndpoint(t *testing.T) {
	local := []string{"localhost:4317", "127.0.0.1:4317", "127.0.0.53:4317", "[::1]:4317", "::1"}
	for _, e := range local {
		if !isLocalEndpoint(e) {
			t.Errorf("isLocalEndpoint(%q) = false, want true", e)
		}
	}

	remote := []string{"collector.example.com:4317", "10.0.0.5:4317", "otel.prod.internal:443"}
	for _, e := range remote {
		if isLocalEndpoint(e) {
			t.Errorf("isLocalEndpoint(%q) = true, want false", e)
		}
	}
}
