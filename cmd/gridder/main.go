package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/gprof-ar-grid/internal/adapter/arref"
	httpadapter "github.com/couchcryptid/gprof-ar-grid/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/gprof-ar-grid/internal/adapter/kafka"
	"github.com/couchcryptid/gprof-ar-grid/internal/config"
	"github.com/couchcryptid/gprof-ar-grid/internal/domain"
	"github.com/couchcryptid/gprof-ar-grid/internal/observability"
	"github.com/couchcryptid/gprof-ar-grid/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	grid, err := domain.NewGrid(cfg.Region)
	if err != nil {
		logger.Error("failed to build grid", "error", err)
		os.Exit(1)
	}

	ref, err := arref.LoadFile(cfg.ARReferencePath, cfg.Region)
	if err != nil {
		logger.Error("failed to load AR reference", "error", err, "path", cfg.ARReferencePath)
		os.Exit(1)
	}
	logger.Info("AR reference loaded",
		"path", cfg.ARReferencePath,
		"timesteps", ref.Len(),
		"first", ref.Dates()[0],
		"last", ref.Dates()[ref.Len()-1],
	)

	engine, err := domain.NewEngine(grid, arref.NewCachedIndexer(ref, cfg.ARCacheSize, metrics))
	if err != nil {
		logger.Error("failed to build gridding engine", "error", err)
		os.Exit(1)
	}

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)
	transformer := pipeline.NewTransformer(engine, cfg.OutputFormat)

	p := pipeline.New(reader, transformer, writer, grid, logger, metrics, pipeline.Options{
		BatchSize:    cfg.BatchSize,
		Workers:      cfg.Workers,
		ReportFormat: cfg.OutputFormat,
	})

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, p, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start gridding pipeline. done closes once the accumulator report is out.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("pipeline did not stop before shutdown timeout")
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete", "run_id", p.RunID())
}
