package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Vasu1712/silensess-backend/internal/config"
	"github.com/Vasu1712/silensess-backend/internal/logging"
	"github.com/Vasu1712/silensess-backend/internal/metrics"
	"github.com/Vasu1712/silensess-backend/internal/session"
	"github.com/Vasu1712/silensess-backend/internal/storage"
	"github.com/Vasu1712/silensess-backend/internal/storage/memory"
	"github.com/Vasu1712/silensess-backend/internal/storage/valkey"
)

var configPath string

func main() {
	// A missing .env is fine; the environment and defaults still apply.
	_ = godotenv.Load(".env")

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "silensess",
		Short:        "Telemetry ingestion backend for SiLEnSeSS simulations",
		Long:         `Receives binary simulation telemetry over WebSocket, aggregates it per round and serves it to dashboards.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	root.AddCommand(newServeCmd(), newSubmitCmd(), newWatchCmd(), newReplayCmd())
	return root
}

// loadConfig reads the configuration and builds a logger writing to w.
func loadConfig(w io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Log, w)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func openStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Backend {
	case config.BackendValkey:
		return valkey.NewStore(ctx, valkey.Options{
			Addr:        cfg.ValkeyAddr,
			Password:    cfg.ValkeyPassword,
			DB:          cfg.ValkeyDB,
			SnapshotTTL: cfg.SnapshotTTL,
		}, logger)
	default:
		return memory.NewStore(logger), nil
	}
}

func sessionOptions(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) session.Options {
	return session.Options{
		WSURL:         cfg.Telemetry.WSURL,
		FPS:           cfg.Telemetry.FPS,
		TickInterval:  cfg.Telemetry.TickInterval,
		MaxQueueDepth: cfg.Telemetry.MaxQueueDepth,
		DialTimeout:   cfg.Telemetry.DialTimeout,
		Reconnect: session.ReconnectPolicy{
			Enabled:        cfg.Reconnect.Enabled,
			InitialBackoff: cfg.Reconnect.InitialBackoff,
			MaxBackoff:     cfg.Reconnect.MaxBackoff,
		},
		Logger:  logger,
		Metrics: m,
	}
}
