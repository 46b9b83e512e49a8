// Package main implements the valuation API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/WessleyAI/wessley-valuation/engine/artifact"
	"github.com/WessleyAI/wessley-valuation/engine/domain"
	"github.com/WessleyAI/wessley-valuation/engine/ledger"
	"github.com/WessleyAI/wessley-valuation/engine/pricing"
	"github.com/WessleyAI/wessley-valuation/engine/similar"
	"github.com/WessleyAI/wessley-valuation/pkg/config"
	"github.com/WessleyAI/wessley-valuation/pkg/metrics"
	"github.com/WessleyAI/wessley-valuation/pkg/natsutil"
	"github.com/WessleyAI/wessley-valuation/pkg/resilience"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()
	reg.CollectRuntime(ctx, "wessley_valuation", 15*time.Second)

	// --- Connect to NATS (optional) ---
	var nc *nats.Conn
	if cfg.NATSURL != "" {
		var err error
		nc, err = nats.Connect(cfg.NATSURL, nats.Name("wessley-valuation"), nats.DrainTimeout(cfg.ShutdownTimeout))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()
	}

	// --- Similar index (optional) ---
	var ix *similar.Index
	if cfg.QdrantURL != "" {
		var err error
		ix, err = similar.New(cfg.QdrantURL, cfg.QdrantPrefix)
		if err != nil {
			return fmt.Errorf("qdrant connect: %w", err)
		}
		defer ix.Close()
		ix.WithLogger(logger)
	}

	// --- Artifacts ---
	cacheOpts := []artifact.CacheOption{
		artifact.WithCacheLogger(logger),
		artifact.OnSwap(swapMetrics(reg)),
		artifact.OnSwap(announceSwap(nc, logger)),
	}
	if ix != nil {
		cacheOpts = append(cacheOpts, artifact.OnSwap(ix.RetireOnSwap(cfg.ObserverTimeout)))
	}
	store := artifact.NewStore(cfg.ArtifactDir,
		artifact.WithStoreLogger(logger),
		artifact.WithFiles(artifact.Files{Model: cfg.ModelFile, Scaler: cfg.ScalerFile, Features: cfg.FeaturesFile}),
	)
	cache := artifact.NewCache(store, cacheOpts...)
	if _, err := cache.Load(ctx); err != nil {
		// Requests retry the load until the directory is fixed.
		logger.Warn("initial artifact load failed", "dir", cfg.ArtifactDir, "err", err)
	}

	// --- Observers ---
	opts := []pricing.Option{
		pricing.WithLogger(logger),
		pricing.WithMetrics(reg),
		pricing.WithObserverTimeout(cfg.ObserverTimeout),
	}
	srv := &server{
		cache:    cache,
		reg:      reg,
		logger:   logger,
		validate: domain.Validate,
		workers:  cfg.BatchWorkers,
		maxBatch: cfg.MaxBatch,
	}
	if cfg.KnownBrandsOnly {
		srv.validate = domain.ValidateStrict
	}

	if cfg.Neo4jURL != "" {
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
		if err != nil {
			return fmt.Errorf("neo4j driver: %w", err)
		}
		defer driver.Close(context.Background())

		led := ledger.New(driver, ledger.WithDatabase(cfg.Neo4jDB))
		if err := led.Init(ctx); err != nil {
			logger.Warn("ledger constraint setup failed", "err", err)
		}
		srv.ledger = led
		opts = append(opts, pricing.WithObserver(pricing.Guard(led, newBreaker(cfg, "ledger", logger))))
	}

	if ix != nil {
		srv.similar = ix
		opts = append(opts, pricing.WithObserver(pricing.Guard(ix, newBreaker(cfg, "similar", logger))))
	}

	srv.est = pricing.NewEstimator(cache, opts...)

	// --- NATS handlers ---
	if nc != nil {
		if _, err := serveNATS(nc, srv, cfg); err != nil {
			return fmt.Errorf("nats subscribe: %w", err)
		}
		logger.Info("nats handlers registered", "url", cfg.NATSURL, "queue", cfg.NATSQueue)
	}

	// --- HTTP server ---
	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.handler(cfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port, "artifacts", cfg.ArtifactDir)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return shutdown(shutCtx, httpSrv, nc, srv.est)
}

// shutdown stops intake before waiting for observers: HTTP first, then the
// NATS handlers, then the estimator's pending notifications. ctx bounds the
// whole sequence.
func shutdown(ctx context.Context, httpSrv *http.Server, nc *nats.Conn, est *pricing.Estimator) error {
	var errs []error
	if err := httpSrv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if nc != nil {
		if err := drainNATS(ctx, nc); err != nil {
			errs = append(errs, err)
		}
	}
	if err := est.Wait(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// drainNATS lets in-flight handlers finish and closes nc.
func drainNATS(ctx context.Context, nc *nats.Conn) error {
	closed := make(chan struct{})
	nc.SetClosedHandler(func(*nats.Conn) { close(closed) })
	if err := nc.Drain(); err != nil {
		return fmt.Errorf("nats drain: %w", err)
	}
	select {
	case <-closed:
		return nil
	case <-ctx.Done():
		nc.Close()
		return fmt.Errorf("nats drain: %w", ctx.Err())
	}
}

func newBreaker(cfg config.Config, name string, logger *slog.Logger) *resilience.Breaker {
	return resilience.NewBreaker(resilience.BreakerOpts{
		FailThreshold: cfg.ObserverFailThreshold,
		Timeout:       cfg.ObserverCooldown,
		OnStateChange: func(from, to resilience.State) {
			logger.Warn("observer breaker state changed", "observer", name, "from", from.String(), "to", to.String())
		},
	})
}

func swapMetrics(reg *metrics.Registry) func(old, cur *artifact.Bundle) {
	reloads := reg.Counter("wessley_artifact_installs_total", "Artifact generations installed")
	features := reg.Gauge("wessley_artifact_features", "Feature count of the installed schema")
	warnings := reg.Gauge("wessley_artifact_schema_warnings", "Coerced feature list elements in the installed schema")
	return func(_, cur *artifact.Bundle) {
		reloads.Inc()
		features.Set(float64(cur.Schema.Len()))
		warnings.Set(float64(len(cur.Warnings)))
	}
}

// announceSwap publishes every newly installed generation. It is a no-op
// without a NATS connection.
func announceSwap(nc *nats.Conn, logger *slog.Logger) func(old, cur *artifact.Bundle) {
	return func(old, cur *artifact.Bundle) {
		if nc == nil || (old != nil && old.Generation.ID == cur.Generation.ID) {
			return
		}
		if err := natsutil.Publish(context.Background(), nc, pricing.SubjectArtifactsInstalled, pricing.NewArtifactInfo(cur)); err != nil {
			logger.Warn("publish artifact generation failed", "err", err)
		}
	}
}
