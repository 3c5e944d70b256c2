package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/qopy-app/qopy/internal/logger"
	"github.com/qopy-app/qopy/pkg/api"
	"github.com/qopy-app/qopy/pkg/clip"
	"github.com/qopy-app/qopy/pkg/config"
	"github.com/qopy-app/qopy/pkg/guard"
	"github.com/qopy-app/qopy/pkg/storage"
	"github.com/qopy-app/qopy/pkg/store"
	"github.com/qopy-app/qopy/pkg/sweeper"
	"github.com/qopy-app/qopy/pkg/upload"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the qopy server",
	Long: `Start the qopy server in the foreground with the specified configuration.

Use --config to point at a YAML configuration file; environment variables
(QOPY_* plus DATABASE_URL, STORAGE_PATH, ADMIN_TOKEN and friends) override it.

Examples:
  # Start with defaults (SQLite, ./data)
  qopy start

  # Start with a config file
  qopy start --config /etc/qopy/config.yaml

  # Start with environment overrides
  QOPY_LOGGING_LEVEL=DEBUG STORAGE_PATH=/srv/qopy qopy start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("qopy starting",
		"version", Version,
		"database", string(cfg.Database.Type),
		"storage", cfg.Storage.Path,
	)

	st, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize metadata store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("metadata store close error", logger.KeyError, err)
		}
	}()

	chunks, err := storage.NewChunkStore(cfg.Storage.TempDir())
	if err != nil {
		return fmt.Errorf("failed to initialize chunk store: %w", err)
	}
	blobs, err := storage.NewBlobStore(cfg.Storage.BlobDir())
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}

	g := guard.New(cfg.Guard)
	go g.Run(ctx)

	manager := upload.NewManager(upload.Config{
		MaxFileSize:      cfg.Storage.MaxFileSize.Int64(),
		DefaultChunkSize: cfg.Storage.ChunkSize.Int64(),
		TTL:              cfg.Upload.TTL,
		MaxConcurrent:    cfg.Upload.MaxConcurrent,
	}, st, chunks, blobs)

	clips := clip.NewService(st, blobs)

	sw := sweeper.New(cfg.Sweep, st, chunks, blobs)
	go sw.Run(ctx)

	if cfg.Admin.Token == "" {
		logger.Warn("admin surface disabled: no admin token configured")
	}

	server := api.NewServer(api.Config{
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		BaseURL:         cfg.Server.BaseURL,
		CORSOrigins:     cfg.Server.CORSOrigins,
		TrustProxy:      cfg.Server.TrustProxy,
		AdminToken:      cfg.Admin.Token,
		MetricsEnabled:  cfg.MetricsEnabled(),
		MaxInlineText:   cfg.Storage.MaxInlineText.Int64(),
	}, api.Services{
		Manager:     manager,
		Clips:       clips,
		Guard:       g,
		Store:       st,
		Sweeper:     sw,
		StoragePath: cfg.Storage.Path,
	})

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("server is running, press Ctrl+C to stop", "port", cfg.Server.Port)

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("server shutdown error", logger.KeyError, err)
			return err
		}
		logger.Info("server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("server error", logger.KeyError, err)
			return err
		}
		logger.Info("server stopped")
	}

	return nil
}
