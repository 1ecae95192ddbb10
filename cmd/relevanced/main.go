// Relevanced is the maintenance CLI for the relevance scoring and
// injection control layer.
//
// It wires the knowledge store, embeddings, scoring, and usage tracking
// from the standard config file and exposes the operations an operator
// runs by hand: migrating rule files, rebuilding scope indexes,
// consolidating finished tasks, flushing usage counters, and assembling
// a context block for inspection.
//
// Configuration is loaded from ~/.config/relevanced/config.yaml and
// RELEVANCED_* environment variables. See internal/config for details.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/relevanced/internal/cluster"
	"github.com/fyrsmithlabs/relevanced/internal/config"
	"github.com/fyrsmithlabs/relevanced/internal/embeddings"
	"github.com/fyrsmithlabs/relevanced/internal/index"
	"github.com/fyrsmithlabs/relevanced/internal/knowledge"
	"github.com/fyrsmithlabs/relevanced/internal/logging"
	"github.com/fyrsmithlabs/relevanced/internal/scoring"
	"github.com/fyrsmithlabs/relevanced/internal/selection"
	"github.com/fyrsmithlabs/relevanced/internal/services"
	"github.com/fyrsmithlabs/relevanced/internal/store"
	"github.com/fyrsmithlabs/relevanced/internal/telemetry"
	"github.com/fyrsmithlabs/relevanced/internal/usage"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// configPath overrides the default config file location.
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "relevanced",
	Short: "Maintenance CLI for the relevanced knowledge layer",
	Long: `relevanced manages the knowledge items behind context injection:
rule migration, scope index rebuilds, task consolidation, usage flushes,
and ad-hoc context assembly for inspection.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/relevanced/config.yaml)")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		printVersion()
	},
}

func printVersion() {
	fmt.Printf("relevanced by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runtime holds everything a maintenance command needs.
type runtime struct {
	cfg      *config.Config
	logger   *zap.Logger
	tel      *telemetry.Telemetry
	registry services.Registry
}

// newRuntime loads configuration and constructs the full service graph.
// The returned cleanup releases resources in reverse construction order
// and is safe to call exactly once.
func newRuntime(ctx context.Context) (*runtime, func(), error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing logger: %w", err)
	}

	tel, err := telemetry.New(ctx, cfg.Telemetry, logger)
	if err != nil {
		_ = logging.Sync(logger)
		return nil, nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	reg, closeServices, err := initRegistry(cfg, logger)
	if err != nil {
		_ = tel.Shutdown(context.Background())
		_ = logging.Sync(logger)
		return nil, nil, err
	}

	rt := &runtime{
		cfg:      cfg,
		logger:   logger,
		tel:      tel,
		registry: reg,
	}
	cleanup := func() {
		closeServices()
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
		_ = logging.Sync(logger)
	}
	return rt, cleanup, nil
}

// initRegistry constructs every service once and hands them out through
// the registry. Commands share this graph instead of building their own.
func initRegistry(cfg *config.Config, logger *zap.Logger) (services.Registry, func(), error) {
	if err := config.EnsureConfigDir(); err != nil {
		return nil, nil, fmt.Errorf("ensuring config directory: %w", err)
	}

	embedder, err := embeddings.NewProvider(embeddings.ProviderConfig{
		Provider:  cfg.Embeddings.Provider,
		Model:     cfg.Embeddings.Model,
		BaseURL:   cfg.Embeddings.BaseURL,
		APIKey:    cfg.Embeddings.APIKey.Value(),
		Dimension: cfg.Embeddings.Dimension,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	logger.Info("embedding provider initialized",
		zap.String("provider", cfg.Embeddings.Provider),
		zap.String("model", cfg.Embeddings.Model),
		zap.Int("dimension", embedder.Dimension()))

	// The embedder's dimension is authoritative; the store collections
	// must match it.
	dim := embedder.Dimension()
	st, err := store.New(store.Config{
		Provider: cfg.Store.Provider,
		Chromem: store.ChromemConfig{
			Path:       cfg.Store.Chromem.Path,
			Compress:   cfg.Store.Chromem.Compress,
			Collection: cfg.Store.Chromem.Collection,
			VectorSize: dim,
		},
		Qdrant: store.QdrantConfig{
			Host:       cfg.Store.Qdrant.Host,
			Port:       cfg.Store.Qdrant.Port,
			Collection: cfg.Store.Qdrant.Collection,
			VectorSize: uint64(dim),
			UseTLS:     cfg.Store.Qdrant.UseTLS,
		},
		SQLite: store.SQLiteConfig{
			Path: cfg.Store.SQLite.Path,
		},
	}, embedder, logger)
	if err != nil {
		_ = embedder.Close()
		return nil, nil, fmt.Errorf("creating knowledge store: %w", err)
	}

	logger.Info("knowledge store initialized",
		zap.String("provider", cfg.Store.Provider))

	variants, err := buildVariants(cfg.Scoring)
	if err != nil {
		_ = st.Close()
		_ = embedder.Close()
		return nil, nil, fmt.Errorf("building scoring variants: %w", err)
	}
	engine := scoring.NewEngine()

	builder := index.NewBuilder(
		index.WithMinSamples(cfg.Index.MinSamples),
		index.WithMaxSummaryLength(cfg.Index.MaxSummaryLength),
	)
	refresher, err := index.NewRefresher(st, builder, logger,
		index.WithTTL(cfg.Index.TTL.Duration()))
	if err != nil {
		_ = st.Close()
		_ = embedder.Close()
		return nil, nil, fmt.Errorf("creating index refresher: %w", err)
	}

	tracker, err := usage.NewTracker(st, logger,
		usage.WithPrefixCacheSize(cfg.Usage.PrefixCacheSize),
		usage.WithFlushMaxTries(uint(cfg.Usage.FlushMaxTries)),
		usage.WithFlushTimeout(cfg.Usage.FlushTimeout.Duration()))
	if err != nil {
		_ = st.Close()
		_ = embedder.Close()
		return nil, nil, fmt.Errorf("creating usage tracker: %w", err)
	}

	scheduler, err := usage.NewScheduler(tracker, logger,
		usage.WithInterval(cfg.Usage.FlushInterval.Duration()))
	if err != nil {
		_ = st.Close()
		_ = embedder.Close()
		return nil, nil, fmt.Errorf("creating flush scheduler: %w", err)
	}

	assembler, err := selection.NewAssembler(st, engine, variants, logger,
		selection.WithTokenBudget(cfg.Selection.TokenBudget),
		selection.WithFetchTimeout(cfg.Selection.FetchTimeout.Duration()),
		selection.WithSimilarityTopK(cfg.Selection.SimilarityTopK),
		selection.WithRefresher(refresher),
		selection.WithTracker(tracker))
	if err != nil {
		_ = st.Close()
		_ = embedder.Close()
		return nil, nil, fmt.Errorf("creating assembler: %w", err)
	}

	consolidator, err := cluster.NewConsolidator(st, logger)
	if err != nil {
		_ = st.Close()
		_ = embedder.Close()
		return nil, nil, fmt.Errorf("creating consolidator: %w", err)
	}

	clusterer, err := buildClusterer(cfg.Cluster, st, logger)
	if err != nil {
		_ = st.Close()
		_ = embedder.Close()
		return nil, nil, fmt.Errorf("creating clusterer: %w", err)
	}

	reg := services.NewRegistry(services.Options{
		Store:        st,
		Embedder:     embedder,
		Tracker:      tracker,
		Scheduler:    scheduler,
		Refresher:    refresher,
		Assembler:    assembler,
		Clusterer:    clusterer,
		Consolidator: consolidator,
	})

	cleanup := func() {
		scheduler.Stop()
		if err := st.Close(); err != nil {
			logger.Warn("store close", zap.Error(err))
		}
		if err := embedder.Close(); err != nil {
			logger.Warn("embedder close", zap.Error(err))
		}
	}
	return reg, cleanup, nil
}

// buildVariants returns the experiment arms when experiments are enabled,
// otherwise a single control arm so every task scores identically.
func buildVariants(cfg config.ScoringConfig) (*scoring.Variants, error) {
	if cfg.Experiments {
		return scoring.DefaultVariants(), nil
	}
	return scoring.NewVariants(scoring.DefaultParameterSet())
}

// buildClusterer wires LLM adjudication when clustering is enabled.
// Disabled clustering returns nil; inserts then skip near-duplicate
// detection entirely.
func buildClusterer(cfg config.ClusterConfig, st knowledge.Store, logger *zap.Logger) (*cluster.Clusterer, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	client, err := cluster.NewAnthropicClient(cluster.ClientConfig{
		APIKey:     cfg.APIKey.Value(),
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		MaxTokens:  cfg.MaxTokens,
		Timeout:    cfg.Timeout.Duration(),
		MaxRetries: cfg.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("creating adjudication client: %w", err)
	}

	adjudicator, err := cluster.NewAdjudicator(client, logger,
		cluster.WithRateLimit(rate.Limit(float64(cfg.RatePerMinute)/60.0), cfg.RateBurst),
		cluster.WithTimeout(cfg.Timeout.Duration()))
	if err != nil {
		return nil, fmt.Errorf("creating adjudicator: %w", err)
	}

	clusterer, err := cluster.NewClusterer(st, adjudicator, logger,
		cluster.WithMinSimilarity(cfg.MinSimilarity),
		cluster.WithSearchTopK(cfg.SearchTopK))
	if err != nil {
		return nil, err
	}

	logger.Info("clustering enabled",
		zap.String("model", cfg.Model),
		logging.Secret("api_key", cfg.APIKey),
		zap.Float64("min_similarity", cfg.MinSimilarity),
		zap.Int("rate_per_minute", cfg.RatePerMinute))
	return clusterer, nil
}

// buildScope maps --project/--task flags to a visibility scope.
func buildScope(projectID, taskID string) (knowledge.Scope, error) {
	switch {
	case taskID != "" && projectID == "":
		return knowledge.Scope{}, fmt.Errorf("--task requires --project")
	case taskID != "":
		return knowledge.TaskScope(projectID, taskID), nil
	case projectID != "":
		return knowledge.ProjectScope(projectID), nil
	default:
		return knowledge.GlobalScope(), nil
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
