// Groundsqld is the retrieval daemon behind a SQL-generation assistant.
//
// It loads the training knowledge store, the embedding provider and the
// tenant policy, wires the retrieval engine and training gateway, and runs
// until interrupted.
//
// Usage:
//
//	# Start with built-in defaults (in-memory store, deterministic embedder)
//	groundsqld
//
//	# Load a YAML config and override via environment
//	GROUNDSQL_STORE_PROVIDER=chromem groundsqld -config /etc/groundsql/config.yaml
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

	"go.uber.org/zap"

	"github.com/fathomlabs/groundsql/internal/config"
	"github.com/fathomlabs/groundsql/internal/embeddings"
	"github.com/fathomlabs/groundsql/internal/logging"
	"github.com/fathomlabs/groundsql/internal/retrieval"
	"github.com/fathomlabs/groundsql/internal/server"
	"github.com/fathomlabs/groundsql/internal/store"
	"github.com/fathomlabs/groundsql/internal/training"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("groundsqld %s (commit %s, built %s)\n", version, gitCommit, buildDate)
		os.Exit(0)
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

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("groundsqld: %v", err)
	}
	log.Println("Shutdown complete")
}

// run wires the daemon's dependencies and blocks until the context is
// cancelled: config, logger, embedding provider, item store, retrieval
// engine and training gateway, in that order.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(cfg.LoggingConfig())
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("starting groundsqld",
		zap.String("version", version),
		zap.String("store_provider", cfg.Store.Provider),
		zap.String("embeddings_provider", cfg.Embeddings.Provider),
		zap.Bool("multi_tenant", cfg.Tenancy.Enabled),
	)

	provider, err := embeddings.NewProvider(cfg.EmbeddingsProviderConfig(), logger)
	if err != nil {
		return fmt.Errorf("initializing embedding provider: %w", err)
	}
	defer provider.Close()

	st, err := store.New(cfg.StorageConfig(), logger)
	if err != nil {
		return fmt.Errorf("initializing item store: %w", err)
	}
	defer st.Close()

	if err := verifyEmbedder(ctx, provider); err != nil {
		return err
	}

	pol := cfg.Policy()
	engine := retrieval.NewEngine(st, provider, pol, logger)
	gateway := training.NewGateway(st, provider, pol, logger)

	if sp, ok := st.(store.StatsProvider); ok {
		stats, err := sp.Stats(ctx)
		if err != nil {
			logger.Warn("could not read store stats", zap.Error(err))
		} else {
			logger.Info("training store ready",
				zap.Int("items", stats.Total),
				zap.Int("database_types", len(stats.ByDatabaseType)),
				zap.Int("tenants", len(stats.ByTenant)),
			)
		}
	}

	srv, err := server.NewServer(engine, gateway, st, logger, &server.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("initializing http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// verifyEmbedder makes one probe embedding at startup so a misconfigured
// provider fails fast instead of on the first request.
func verifyEmbedder(ctx context.Context, provider embeddings.Provider) error {
	vec, err := provider.EmbedQuery(ctx, "startup probe")
	if err != nil {
		return fmt.Errorf("embedding provider health check: %w", err)
	}
	if len(vec) != provider.Dimension() {
		return fmt.Errorf("embedding provider returned dimension %d, configured %d", len(vec), provider.Dimension())
	}
	return nil
}
