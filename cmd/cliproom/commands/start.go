package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cliproom/cliproom/internal/logger"
	"github.com/cliproom/cliproom/internal/telemetry"
	"github.com/cliproom/cliproom/pkg/config"
	"github.com/cliproom/cliproom/pkg/filestore"
	"github.com/cliproom/cliproom/pkg/gateway"
	"github.com/cliproom/cliproom/pkg/gateway/ws"
	"github.com/cliproom/cliproom/pkg/metrics"
	"github.com/cliproom/cliproom/pkg/metrics/prometheus"
	"github.com/cliproom/cliproom/pkg/ratelimit"
	"github.com/cliproom/cliproom/pkg/registry"
	"github.com/cliproom/cliproom/pkg/share"
	"github.com/cliproom/cliproom/pkg/store"
	badgerstore "github.com/cliproom/cliproom/pkg/store/badger"
	"github.com/cliproom/cliproom/pkg/store/memory"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the cliproom server",
	Long: `Start the cliproom server with the specified configuration.

The server runs in the foreground until interrupted. Use --config to
specify a custom configuration file, or it will use the default location
at $XDG_CONFIG_HOME/cliproom/config.yaml.

Examples:
  # Start with default config
  cliproom start

  # Start with custom config file
  cliproom start --config /etc/cliproom/config.yaml

  # Start with environment variable overrides
  CLIPROOM_LOGGING_LEVEL=DEBUG cliproom start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "cliproom",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	// Metrics go first so IsEnabled() is answered before any collector is
	// constructed.
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	} else {
		logger.Info("Metrics collection disabled")
	}

	// Snapshot store: durable badger when enabled, in-memory otherwise.
	var snap store.Store
	if cfg.Snapshot.Enabled {
		badgerSnap, err := badgerstore.Open(cfg.Snapshot.Path)
		if err != nil {
			return fmt.Errorf("failed to open snapshot store: %w", err)
		}
		snap = badgerSnap
		logger.Info("Snapshot store enabled", "path", cfg.Snapshot.Path)
	} else {
		snap = memory.New()
		logger.Info("Snapshot store disabled, state will not survive restarts")
	}
	defer func() {
		if err := snap.Close(); err != nil {
			logger.Error("snapshot store close error", "error", err)
		}
	}()

	files, err := filestore.New(filestore.Config{
		Root:            cfg.Files.Dir,
		MaxFileSize:     cfg.Files.MaxFileSize.Int64(),
		TTL:             cfg.Files.TTL,
		SweepInterval:   cfg.Files.SweepInterval,
		DisallowedTypes: cfg.Files.DisallowedTypes,
	}, snap)
	if err != nil {
		return fmt.Errorf("failed to initialize file store: %w", err)
	}

	reg := registry.New(registry.Config{
		Salt:          cfg.Room.Salt,
		BcryptCost:    cfg.Room.BcryptCost,
		IdleTTL:       cfg.Room.IdleTTL,
		SweepInterval: cfg.Room.SweepInterval,
		AppURL:        cfg.Server.AppURL,
	})

	shares, err := share.New(share.Config{
		BaseURL:         cfg.Server.AppURL,
		BcryptCost:      cfg.Room.BcryptCost,
		GCInterval:      cfg.Share.GCInterval,
		RecordRetention: cfg.Share.RecordRetention,
		LogRetention:    cfg.Share.LogRetention,
	}, snap, files, reg)
	if err != nil {
		return fmt.Errorf("failed to initialize share service: %w", err)
	}

	limiter := ratelimit.New()

	var gm metrics.GatewayMetrics
	var tm metrics.TransferMetrics
	if cfg.Metrics.Enabled {
		gm = prometheus.NewGatewayMetrics()
		tm = prometheus.NewTransferMetrics()
		prometheus.RegisterStateGauges(reg.RoomCount, files.FileCount, shares.ShareCount)
	}

	hub := ws.NewHub(ws.Config{
		DisconnectGrace: cfg.Room.DisconnectGrace,
		ReadTimeout:     cfg.Server.ReadTimeout,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
	}, reg, limiter, gm)

	reg.Bind(hub, files, shares)
	files.Bind(hub)

	router := gateway.NewRouter(gateway.Deps{
		Registry: reg,
		Files:    files,
		Shares:   shares,
		Hub:      hub,
		Limiter:  limiter,
		Gateway:  gm,
		Transfer: tm,
	})
	server := gateway.NewServer(gateway.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}, router)

	metricsServer := metrics.NewServer(cfg.Metrics.Port)

	// Background janitors.
	reg.Start(ctx)
	defer reg.Stop()
	files.Start(ctx)
	defer files.Stop()
	shares.Start(ctx)
	defer shares.Stop()
	limiter.Start(ctx)
	defer limiter.Stop()

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Start(ctx)
	}()
	metricsDone := make(chan error, 1)
	go func() {
		metricsDone <- metricsServer.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.",
		"port", cfg.Server.Port, "app_url", cfg.Server.AppURL)

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			return err
		}
		return nil
	case err := <-metricsDone:
		signal.Stop(sigChan)
		if err != nil {
			return fmt.Errorf("metrics server failed: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	hub.Shutdown(shutdownCtx)
	cancel()

	if err := <-serverDone; err != nil {
		return err
	}
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", "error", err)
	}

	logger.Info("Server stopped gracefully")
	return nil
}
