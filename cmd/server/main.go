package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/aaronlmathis/tsinsight/internal/api"
	"github.com/aaronlmathis/tsinsight/internal/config"
	"github.com/aaronlmathis/tsinsight/internal/logging"
	"github.com/aaronlmathis/tsinsight/internal/source"
	"github.com/aaronlmathis/tsinsight/internal/timeseries"
	"github.com/aaronlmathis/tsinsight/internal/version"
)

func main() {
	// Load configuration; TSI_CONFIG names an optional YAML file
	cfg, err := config.LoadFromFile(os.Getenv("TSI_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	info := version.Get()
	logger.Info("Starting tsinsight server",
		zap.String("version", info.Version),
		zap.String("gitCommit", info.GitCommit),
		zap.String("buildDate", info.BuildDate),
		zap.String("goVersion", info.GoVersion),
		zap.String("addr", cfg.Server.Addr),
		zap.String("source", cfg.Source.Kind),
	)

	if err := run(logger, cfg); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("Server exited")
}

// run serves the API until SIGINT or SIGTERM. Everything it opens is
// released before it returns, including on error.
func run(logger *zap.Logger, cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	deps, cleanup, err := buildDependencies(ctx, logger, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize data sources: %w", err)
	}
	defer cleanup()

	apiServer, err := api.NewServer(logger, cfg, deps)
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}
	apiServer.Start(ctx)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("Server shutting down...")

	// Give the server a maximum of 30 seconds to shutdown gracefully
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// buildDependencies wires the configured series source, optional Kubernetes
// group membership and the pod CPU collector. The returned cleanup releases
// whatever was opened.
func buildDependencies(ctx context.Context, logger *zap.Logger, cfg *config.Config) (api.Dependencies, func(), error) {
	store := timeseries.NewMemStore(cfg.Store)
	cleanup := func() {}

	var reader source.SeriesReader = store
	var members source.MembershipResolver = store
	var ready func(context.Context) error

	go pruneLoop(ctx, logger, cfg.Store.MaxWindow, func(_ context.Context, cutoff time.Time) error {
		if n := store.PruneBefore(cutoff); n > 0 {
			logger.Debug("Deleted empty series", zap.Int("series", n))
		}
		return nil
	})

	switch cfg.Source.Kind {
	case config.SourcePrometheus:
		prom, err := source.NewPrometheusReader(logger, cfg.Source.Prometheus)
		if err != nil {
			return api.Dependencies{}, cleanup, err
		}
		reader = prom
		ready = prom.Ping

	case config.SourceSQLite:
		db, err := source.NewSQLiteStore(logger, cfg.Source.SQLite)
		if err != nil {
			return api.Dependencies{}, cleanup, err
		}
		cleanup = func() {
			if err := db.Close(); err != nil {
				logger.Warn("Failed to close SQLite store", zap.Error(err))
			}
		}
		reader = db
		members = db
		ready = db.Ping
		go pruneLoop(ctx, logger, cfg.Store.MaxWindow, func(ctx context.Context, cutoff time.Time) error {
			n, err := db.DeleteBefore(ctx, cutoff)
			if err == nil && n > 0 {
				logger.Debug("Pruned SQLite samples", zap.Int64("deleted", n))
			}
			return err
		})
	}

	if cfg.Kubernetes.Enabled {
		clients, err := source.NewKubeClients(logger, source.ClientMode(cfg.Kubernetes.Mode), cfg.Kubernetes.KubeconfigPath)
		if err != nil {
			cleanup()
			return api.Dependencies{}, func() {}, fmt.Errorf("failed to create Kubernetes clients: %w", err)
		}
		members = source.NewKubeMembership(logger, clients.Kubernetes)

		if cfg.Collector.Enabled {
			if cfg.Source.Kind != config.SourceMemory {
				logger.Warn("Pod CPU collector writes to the in-memory store, which is not the configured source",
					zap.String("source", cfg.Source.Kind))
			}
			collector := source.NewPodCPUCollector(logger, clients.Metrics.MetricsV1beta1(), store, cfg.CollectorSettings())
			go collector.Run(ctx)
		}
	}

	return api.Dependencies{
		Source: source.Compose(members, reader),
		Store:  store,
		Ready:  ready,
	}, cleanup, nil
}

// pruneLoop drops samples older than maxWindow once a minute
func pruneLoop(ctx context.Context, logger *zap.Logger, maxWindow time.Duration, prune func(context.Context, time.Time) error) {
	if maxWindow <= 0 {
		return
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := prune(ctx, time.Now().Add(-maxWindow)); err != nil {
				logger.Warn("Failed to prune samples", zap.Error(err))
			}
		}
	}
}
