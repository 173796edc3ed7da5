package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/italolelis/playlist_downloader/internal/config"
	"github.com/italolelis/playlist_downloader/internal/downloader"
	"github.com/italolelis/playlist_downloader/internal/fetch"
	"github.com/italolelis/playlist_downloader/internal/http/rest"
	"github.com/italolelis/playlist_downloader/internal/logctx"
	"github.com/italolelis/playlist_downloader/internal/notifier"
	"github.com/italolelis/playlist_downloader/internal/playlist"
	"github.com/italolelis/playlist_downloader/internal/storage"
	"github.com/italolelis/playlist_downloader/internal/storage/sqlite"
	"github.com/italolelis/playlist_downloader/internal/telemetry"
	"github.com/italolelis/playlist_downloader/internal/workdir"
)

const (
	exitFailure = 1
	exitUsage   = 2

	telemetryShutdownTimeout = 5 * time.Second
)

var version = "dev"

func main() {
	if len(os.Args) < 2 || os.Args[1] == "" {
		fmt.Fprintln(os.Stderr, "usage: playlist_downloader <playlist.bplist>")
		os.Exit(exitUsage)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(exitFailure)
	}

	logger := slog.New(logctx.NewHandler(os.Stdout, cfg.LogFormat, cfg.SlogLevel()))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("playlist downloader starting...", "version", version, "log_level", cfg.LogLevel, "strategy", cfg.FetchStrategy)

	if err := run(logctx.WithLogger(ctx, logger), cfg, os.Args[1]); err != nil {
		logger.Error("fatal error", "err", err)
		stop()
		os.Exit(exitFailure)
	}
}

func run(ctx context.Context, cfg *config.Config, playlistPath string) error {
	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Exporter:       cfg.Telemetry.Exporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), telemetryShutdownTimeout)
		defer cancel()

		if err := tel.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	if h := tel.LogHandler(); h != nil {
		logger := slog.New(logctx.NewHandler(os.Stdout, cfg.LogFormat, cfg.SlogLevel(), h))
		slog.SetDefault(logger)
		ctx = logctx.WithLogger(ctx, logger)
	}

	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer database.Close()

	repo := sqlite.NewInstrumentedItemRepository(database, storage.GenerateInstanceID(), tel)

	// =========================================================================
	// Read Playlist
	pl, err := playlist.Read(playlistPath)
	if err != nil {
		return err
	}

	// =========================================================================
	// Start Downloader
	fetcher := fetch.New(
		fetch.NewHTTPClient(fetch.ClientOptions{ResponseHeaderTimeout: cfg.ResponseHeaderTimeout}),
		fetch.WithChunkSize(cfg.RangeChunkSize),
		fetch.WithUserAgent(cfg.UserAgent),
	)

	fetchFn, err := fetcher.ForStrategy(cfg.FetchStrategy)
	if err != nil {
		return err
	}

	d := downloader.NewDownloader(downloader.Options{
		DownloadRoot:     cfg.DownloadRoot(),
		UnpackedRoot:     cfg.UnpackedRoot(),
		URLTemplate:      cfg.SourceURLTemplate,
		Strategy:         cfg.FetchStrategy,
		MaxParallel:      cfg.MaxParallel,
		ResetUnpacked:    cfg.ResetUnpacked,
		KeepArchives:     cfg.KeepArchives,
		ProgressInterval: cfg.ProgressInterval,
	}, fetchFn, repo, tel)

	// =========================================================================
	// Start Status Server
	if cfg.Web.BindAddress != "" {
		server := setupServer(ctx, cfg, rest.NewStatusHandler(d.Status(), repo, tel))

		go func() {
			logger.Info("initializing status server", "host", cfg.Web.BindAddress)

			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server error", "err", err)
			}
		}()

		defer shutdownServer(ctx, server, cfg.Web.ShutdownTimeout)
	}

	// =========================================================================
	// Run Batch
	report, err := d.Run(ctx, pl)
	if err != nil {
		return err
	}

	if ctx.Err() != nil {
		logger.Warn("batch interrupted", "err", context.Cause(ctx))
	}

	workdir.Ensure(ctx, cfg.ManifestRoot())

	manifest, err := playlist.Save(cfg.ManifestRoot(), pl, time.Now())
	if err != nil {
		logger.Error("failed to save manifest", "err", err)
	} else {
		logger.Info("manifest saved", "path", manifest)
	}

	notify(ctx, cfg, report)

	return nil
}

func notify(ctx context.Context, cfg *config.Config, report downloader.Report) {
	if cfg.DiscordWebhookURL == "" {
		return
	}

	var n notifier.Notifier = &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL}

	if err := n.Notify(context.WithoutCancel(ctx), notifier.BatchSummary(report)); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to send notification", "err", err)
	}
}

// setupServer prepares the status server.
func setupServer(ctx context.Context, cfg *config.Config, h *rest.StatusHandler) *http.Server {
	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      h.Routes(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func shutdownServer(ctx context.Context, server *http.Server, timeout time.Duration) {
	logger := logctx.LoggerFromContext(ctx)

	// Give outstanding requests a deadline for completion.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("failed to gracefully shutdown the server", "err", err)

		if err := server.Close(); err != nil {
			logger.Error("could not stop server", "err", err)
		}
	}
}
