package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/ckptfs/internal/logger"
	"github.com/marmos91/ckptfs/internal/telemetry"
	"github.com/marmos91/ckptfs/pkg/config"
	"github.com/marmos91/ckptfs/pkg/controlplane/api"
	"github.com/marmos91/ckptfs/pkg/controlplane/runtime"
	"github.com/marmos91/ckptfs/pkg/metrics"
)

var pidFile string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the ckptfs server",
	Long: `Start the ckptfs server in the foreground.

The server reserves the memfs block pool, opens every target, reloads the
upload ledger and serves the control API until it receives SIGINT or
SIGTERM. On shutdown it waits up to shutdown_timeout for queued backups.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/ckptfs/config.yaml.

Examples:
  # Start with the default config
  ckptfs start

  # Start with custom config file
  ckptfs start --config /etc/ckptfs/config.yaml

  # Start with environment variable overrides
  CKPTFS_LOGGING_LEVEL=DEBUG ckptfs start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Write the process ID to this file")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "ckptfs",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		// ctx is already cancelled here, the exporter needs a fresh one.
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "ckptfs",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint, "profile_types", cfg.Telemetry.Profiling.ProfileTypes)
	}

	// The registry must exist before the runtime so its collectors register.
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize runtime: %w", err)
	}

	status := rt.Status()
	logger.Info("Runtime initialized",
		"block_size", cfg.Memfs.BlockSize,
		"block_count", status.BlockCount,
		"capacity", cfg.Memfs.Capacity(),
		"targets", len(rt.Targets()),
		"ledger", rt.Ledger() != nil)

	if cfg.Metrics.Enabled {
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
		rt.SetMetricsServer(metrics.NewServer(cfg.Metrics.Port))
	} else {
		logger.Info("Metrics collection disabled")
	}

	if cfg.API.Enabled {
		rt.SetAPIServer(api.NewServer(cfg.API, rt))
		logger.Info("API server configured", "port", cfg.API.Port)
	}

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			_ = rt.Close()
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	logger.Info("Server is running. Press Ctrl+C to stop.")

	if err := rt.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Server error", "error", err)
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}
