package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modzoo/hubfetch/internal/blobstore"
	"github.com/modzoo/hubfetch/internal/cleanup"
	"github.com/modzoo/hubfetch/internal/config"
	"github.com/modzoo/hubfetch/internal/downloader"
	"github.com/modzoo/hubfetch/internal/http/rest"
	"github.com/modzoo/hubfetch/internal/hub"
	"github.com/modzoo/hubfetch/internal/logctx"
	"github.com/modzoo/hubfetch/internal/notifier"
	"github.com/modzoo/hubfetch/internal/retrypolicy"
	"github.com/modzoo/hubfetch/internal/storage/sqlite"
	"github.com/modzoo/hubfetch/internal/telemetry"
	"github.com/modzoo/hubfetch/internal/transport"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	handler := logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	)
	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("hubfetch starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("failed to start telemetry: %w", err)
	}

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	models := sqlite.NewInstrumentedModelRepository(database, tel)
	history := sqlite.NewInstrumentedHistoryRepository(database, tel)

	// =========================================================================
	// Start Local Storage
	blobs, err := blobstore.New(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to prepare local storage: %w", err)
	}

	// =========================================================================
	// Start Hub Client and Transport
	auth := hub.NewStaticTokenProvider(cfg.HubToken)
	hubClient := hub.NewClient(cfg.HubBaseURL, auth)
	tr := transport.NewInstrumented(transport.NewHTTP(hubClient), tel, "hub")

	// =========================================================================
	// Start Coordinator
	coordinator := downloader.NewCoordinator(hubClient, tr, blobs, downloader.Options{
		Revision:       cfg.Revision,
		DeviceMemory:   cfg.DeviceMemory,
		AttemptTimeout: cfg.AttemptTimeout,
		Policy: retrypolicy.Policy{
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
			MaxAttempts: cfg.Retry.MaxAttempts,
			Jitter:      cfg.Retry.Jitter,
		},
		Models:    models,
		History:   history,
		Telemetry: tel,
	})
	defer coordinator.Close()

	// =========================================================================
	// Start Notification
	setupNotifications(ctx, coordinator, cfg)

	// =========================================================================
	// Start Cleanup
	setupCleanup(ctx, blobs.ScratchRoot(), cfg)

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, coordinator, models, history, tel, cfg)

	go func() {
		logger.Info("initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for download requests...",
		"hub", cfg.HubBaseURL,
		"data_dir", cfg.DataDir,
		"scratch_ttl", cfg.ScratchTTL.String(),
	)

	// =========================================================================
	// Shutdown
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}

		return nil
	}
}

func setupNotifications(ctx context.Context, coordinator *downloader.Coordinator, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	var notif notifier.Notifier
	if cfg.DiscordWebhookURL != "" {
		notif = notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)
	}

	go func() {
		for info := range coordinator.OnDownloadFinished {
			logger.Info("model download finished", "resource_id", info.ResourceID, "location", info.Location)

			if notif == nil {
				continue
			}

			if notifyErr := notif.Notify(
				"✅ Download finished for model: " + info.ResourceID,
			); notifyErr != nil {
				logger.Error("failed to send notification", "resource_id", info.ResourceID, "err", notifyErr)
			}
		}
	}()

	go func() {
		for failure := range coordinator.OnDownloadFailed {
			logger.Error("model download failed", "resource_id", failure.ResourceID, "err", failure.Err)

			if notif == nil {
				continue
			}

			if notifyErr := notif.Notify(
				"❌ Download failed for model: " + failure.ResourceID,
			); notifyErr != nil {
				logger.Error("failed to send notification", "resource_id", failure.ResourceID, "err", notifyErr)
			}
		}
	}()
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, coordinator *downloader.Coordinator, models *sqlite.InstrumentedModelRepository, history *sqlite.InstrumentedHistoryRepository, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	handler := rest.NewDownloadHandler(coordinator, models, history, tel)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)
	r.Use(telemetry.HTTPLogging)

	r.Mount("/api", handler.Routes())
	r.Method(http.MethodGet, "/metrics", tel.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func setupCleanup(ctx context.Context, scratchRoot string, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	go func() {
		cleanupTicker := time.NewTicker(cfg.CleanupInterval)
		defer cleanupTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("cleanup goroutine shutting down.")

				return
			case <-cleanupTicker.C:
				if err := cleanup.PruneStaleScratch(ctx, scratchRoot, cfg.ScratchTTL); err != nil {
					logger.Error("failed to prune stale scratch dirs", "err", err)
				}
			}
		}
	}()
}
