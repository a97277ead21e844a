// Semanticd is the semantic indexing and retrieval daemon for quillnote.
//
// It chunks note content, embeds the chunks through an OpenAI-compatible or
// TEI provider, stores the vectors, and serves permission-filtered semantic
// search over HTTP.
//
// Usage:
//
//	# Start with defaults plus environment overrides
//	semanticd
//
//	# Start with a config file
//	semanticd -config /etc/semanticd/config.yaml
//
//	# Show version information
//	semanticd version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/quillnote/semanticd/internal/chunker"
	"github.com/quillnote/semanticd/internal/config"
	"github.com/quillnote/semanticd/internal/embeddings"
	"github.com/quillnote/semanticd/internal/httpapi"
	"github.com/quillnote/semanticd/internal/index"
	"github.com/quillnote/semanticd/internal/logging"
	"github.com/quillnote/semanticd/internal/search"
	"github.com/quillnote/semanticd/internal/usage"
	"github.com/quillnote/semanticd/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  semanticd            Start the daemon\n")
			fmt.Fprintf(os.Stderr, "  semanticd version    Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("semanticd\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires all components and blocks until ctx is cancelled or the server
// fails.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting semanticd",
		zap.String("version", version),
		zap.String("store", cfg.Store.Provider),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("embedding_model", cfg.Embedding.Model))

	store, err := vectorstore.NewStore(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("creating vector store: %w", err)
	}
	defer func() { _ = store.Close() }()

	splitter, err := chunker.New(cfg.Chunking)
	if err != nil {
		return fmt.Errorf("creating chunker: %w", err)
	}

	recorder, closeRecorder, err := newUsageRecorder(ctx, cfg.Usage, logger)
	if err != nil {
		return fmt.Errorf("creating usage recorder: %w", err)
	}
	defer closeRecorder()

	cache := embeddings.NewQueryCache(cfg.Cache, logger)
	defer func() { _ = cache.Close() }()

	providers := embeddings.NewRegistry()
	defer func() { _ = providers.Close() }()

	writer, err := index.NewWriter(store, splitter, cfg.Index, recorder, logger)
	if err != nil {
		return fmt.Errorf("creating index writer: %w", err)
	}

	configs := search.StaticConfigSource{Config: cfg.Embedding}
	perms := search.AllowAllPermissions{}
	engine, err := search.NewEngine(search.EngineConfig{
		Store:       store,
		Configs:     configs,
		Permissions: perms,
		Providers:   providers,
		Cache:       cache,
		Retry:       cfg.Index.Retry,
		Usage:       recorder,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("creating search engine: %w", err)
	}

	server, err := httpapi.NewServer(httpapi.Config{
		Addr:             cfg.Server.Addr,
		RateLimitRPS:     cfg.Server.RateLimitRPS,
		DefaultK:         cfg.Search.DefaultK,
		DefaultThreshold: float32(cfg.Search.DefaultThreshold),
	}, writer, engine, configs, perms, providers, nil, logger)
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return <-errCh
}

// newUsageRecorder builds the configured recorder and a cleanup function.
func newUsageRecorder(ctx context.Context, cfg config.UsageConfig, logger *zap.Logger) (usage.Recorder, func(), error) {
	noop := func() {}
	switch cfg.Backend {
	case "none":
		return usage.NopRecorder{}, noop, nil
	case "log":
		return usage.NewLogRecorder(logger), noop, nil
	case "sql":
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting usage database: %w", err)
		}
		recorder, err := usage.NewSQLRecorder(ctx, db, logger)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return recorder, func() { _ = db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown usage backend %q", cfg.Backend)
	}
}
