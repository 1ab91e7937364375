package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/planproof/planproof/internal/api"
	"github.com/planproof/planproof/internal/config"
	"github.com/planproof/planproof/internal/ingest"
	"github.com/planproof/planproof/internal/raster"
	"github.com/planproof/planproof/internal/source"
	"github.com/planproof/planproof/internal/store"
	"github.com/planproof/planproof/internal/vision"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load("")
	if err != nil {
		log.Error("load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateServer(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	st := store.Open(cfg.StoreRoot)
	scanner := source.NewScanner(log)
	scanner.FallbackPdfinfo = cfg.PdfinfoFallback

	// Without vision credentials the server still answers queries; only
	// ingestion is disabled.
	var client *vision.Client
	var newRunner func(force bool) api.IngestRunner
	if cfg.AnthropicAPIKey != "" {
		client = vision.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.RequestsPerMinute)
		newRunner = func(force bool) api.IngestRunner {
			return ingest.New(st, client, client, &raster.Pdftoppm{}, raster.PNGCropper{}, log, ingest.Options{
				Workers:       cfg.Workers,
				RegionWorkers: cfg.RegionWorkers,
				DPI:           cfg.DPI,
				CropPad:       cfg.CropPad,
				StrictResume:  cfg.StrictResume,
				Force:         force,
			})
		}
	} else {
		log.Warn("no anthropic api key configured, ingestion endpoints disabled")
	}

	srv := api.NewServer(st, scanner, newRunner, client, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // synchronous ingestion holds the connection
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		if client != nil {
			client.Close()
		}
	}()

	log.Info("starting planproof", "port", cfg.Port, "store", cfg.StoreRoot)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
