package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gyaneshwarpardhi/incidentviz/internal/api"
	"github.com/gyaneshwarpardhi/incidentviz/internal/config"
	"github.com/gyaneshwarpardhi/incidentviz/internal/explorer"
	"github.com/gyaneshwarpardhi/incidentviz/internal/incident"
	"github.com/gyaneshwarpardhi/incidentviz/internal/pipeline"
	"github.com/gyaneshwarpardhi/incidentviz/internal/risk"
)

const (
	exitOK          = 0
	exitSetup       = 1
	exitRunsFailed  = 2
	shutdownTimeout = 15 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	cfgPath := flag.String("config", "configs/pipeline.yaml", "Path to pipeline YAML config")
	incidentsPath := flag.String("incidents", "", "Incident file (overrides incidents_path)")
	incidentID := flag.String("incident", "", "Process a single incident id (default: all)")
	firstOnly := flag.Bool("first", false, "Process only the first incident in the file")
	serveAddr := flag.String("serve", "", "Serve the HTTP API on this address instead of running once")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// ── Credentials ──────────────────────────────────────────────────────────
	loaded, err := config.LoadEnvFiles(".env")
	if err != nil {
		slog.Error("failed to load env file", "err", err)
		return exitSetup
	}
	if len(loaded) > 0 {
		slog.Info("env files loaded", "files", loaded)
	}
	creds, err := config.CredentialsFromEnv(nil)
	if err != nil {
		slog.Error("credential check failed", "err", err)
		return exitSetup
	}

	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		return exitSetup
	}
	override := func(c *config.PipelineConfig) *config.PipelineConfig {
		if *incidentsPath == "" {
			return c
		}
		cp := *c
		cp.IncidentsPath = *incidentsPath
		return &cp
	}
	cfg := override(loader.Config())
	if err := config.Validate(cfg); err != nil {
		slog.Error("config validation failed", "err", err)
		return exitSetup
	}
	slog.Info("config loaded", "path", *cfgPath, "from_file", loader.FromFile(),
		"incidents", cfg.IncidentsPath, "output_dir", cfg.OutputDir)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ── Sources and clients ──────────────────────────────────────────────────
	src := explorer.New(cfg.Explorer, creds, logger)
	client, closeClient, err := risk.New(ctx, cfg.Enrichment, creds, logger)
	if err != nil {
		slog.Error("failed to build enrichment client", "err", err)
		return exitSetup
	}
	defer func() {
		if err := closeClient(); err != nil {
			slog.Warn("enrichment client close failed", "err", err)
		}
	}()

	store := incident.NewStore(cfg.IncidentsPath, logger)
	pipe := pipeline.New(store, src, client, cfg, logger)

	if *serveAddr != "" {
		return serve(ctx, *serveAddr, pipe, loader, override, src, client, logger)
	}

	// ── Batch run ────────────────────────────────────────────────────────────
	if *incidentID != "" {
		if _, err := pipe.Run(ctx, *incidentID); err != nil {
			if pipeline.IsNotFound(err) {
				slog.Error("unknown incident id", "incident", *incidentID, "file", pipe.Store().Path())
			}
			return exitRunsFailed
		}
		return exitOK
	}
	if *firstOnly {
		out, err := pipe.RunFirst(ctx)
		if err != nil {
			slog.Error("failed to load incidents", "err", err)
			return exitRunsFailed
		}
		if out.Err != nil {
			return exitRunsFailed
		}
		return exitOK
	}
	outcomes, err := pipe.RunAll(ctx)
	if err != nil {
		slog.Error("failed to load incidents", "err", err)
		return exitRunsFailed
	}
	failed := pipeline.Failed(outcomes)
	slog.Info("all incidents processed", "total", len(outcomes), "failed", failed)
	if failed > 0 {
		return exitRunsFailed
	}
	return exitOK
}

func serve(
	ctx context.Context,
	addr string,
	pipe *pipeline.Pipeline,
	loader *config.Loader,
	override func(*config.PipelineConfig) *config.PipelineConfig,
	src explorer.Source,
	client risk.Client,
	logger *slog.Logger,
) int {
	handler := api.New(pipe, loader, api.DefaultMaxRuns, logger)

	// ── Hot-reload watchers ──────────────────────────────────────────────────
	store := pipe.Store()
	loader.OnChange(func(newCfg *config.PipelineConfig) {
		newCfg = override(newCfg)
		if err := config.Validate(newCfg); err != nil {
			slog.Warn("hot-reload skipped: config invalid", "err", err)
			return
		}
		if newCfg.IncidentsPath != store.Path() {
			slog.Warn("incidents_path change needs a restart", "current", store.Path(), "new", newCfg.IncidentsPath)
		}
		handler.SwapPipeline(pipeline.New(store, src, client, newCfg, logger))
		slog.Info("pipeline hot-reloaded", "output_dir", newCfg.OutputDir)
	})
	if stopWatch, err := loader.Watch(); err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}
	if stopStore, err := store.Watch(); err != nil {
		slog.Warn("incident watcher unavailable", "err", err)
	} else {
		defer stopStore()
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	errC := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", addr)
		errC <- srv.ListenAndServe()
	}()

	select {
	case err := <-errC:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			return exitSetup
		}
		return exitOK
	case <-ctx.Done():
	}

	// ── Graceful shutdown ────────────────────────────────────────────────────
	slog.Info("shutting down")
	shutCtx, shutCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		slog.Warn("server shutdown incomplete", "err", err)
	}
	slog.Info("goodbye")
	return exitOK
}
