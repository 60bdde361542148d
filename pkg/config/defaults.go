package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/ckptfs/internal/bytesize"
)

// Default values. Exported ones are shown by "ckptfs init".
const (
	DefaultWorkPath  = "/var/lib/ckptfs"
	DefaultBlockSize = bytesize.ByteSize(bytesize.MiB)

	defaultBlockCount       = 1024
	defaultEvictWatermark   = 0.9
	defaultEvictInterval    = 5 * time.Second
	defaultRetryThreads     = 4
	defaultRetryTimes       = 5
	defaultRetryInterval    = time.Second
	defaultMinShardSize     = 64 * bytesize.MiB
	defaultMaxShards        = 16
	defaultStageTimeout     = 10 * time.Second
	defaultStagePoll        = 500 * time.Millisecond
	defaultShardRetryTimes  = 3
	defaultMetricsPort      = 9090
	defaultAPIPort          = 8080
	defaultShutdownTimeout  = 30 * time.Second
	defaultRetryPoolName    = "backup"
	defaultLedgerDir        = "ledger"
	defaultLedgerConns      = 4
	defaultTelemetryOTLP    = "localhost:4317"
	defaultPyroscopeAddress = "http://localhost:4040"
)

// ApplyDefaults fills every zero field with its default. Explicit values
// are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.WorkPath == "" {
		cfg.WorkPath = DefaultWorkPath
	}
	applyMemfsDefaults(&cfg.Memfs)
	applyBackupDefaults(&cfg.Backup, cfg.WorkPath)
	for i := range cfg.Targets {
		applyTargetDefaults(&cfg.Targets[i])
	}
	applyMetricsDefaults(&cfg.Metrics)
	applyAPIDefaults(&cfg.API)
}

// applyLoggingDefaults sets logging defaults and normalizes the level.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultTelemetryOTLP
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = defaultPyroscopeAddress
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

func applyMemfsDefaults(cfg *MemfsConfig) {
	if cfg.BlockSize == 0 {
		cfg.BlockSize = DefaultBlockSize
	}
	if cfg.BlockCount == 0 {
		cfg.BlockCount = defaultBlockCount
	}
	if cfg.EvictWatermark == 0 {
		cfg.EvictWatermark = defaultEvictWatermark
	}
	if cfg.EvictInterval == 0 {
		cfg.EvictInterval = defaultEvictInterval
	}
	if cfg.Allocator == "" {
		cfg.Allocator = "mmap"
	}
}

func applyBackupDefaults(cfg *BackupConfig, workPath string) {
	r := &cfg.Retry
	if r.Name == "" {
		r.Name = defaultRetryPoolName
	}
	if r.Threads == 0 {
		r.Threads = defaultRetryThreads
	}
	if r.RetryTimes == 0 {
		r.RetryTimes = defaultRetryTimes
	}
	if r.RetryInterval == 0 {
		r.RetryInterval = defaultRetryInterval
	}
	if r.MaxRetryInterval == 0 {
		r.MaxRetryInterval = 8 * r.RetryInterval
	}

	if cfg.Shard.MinShardSize == 0 {
		cfg.Shard.MinShardSize = defaultMinShardSize
	}
	if cfg.Shard.MaxShards == 0 {
		cfg.Shard.MaxShards = defaultMaxShards
	}
	if cfg.StageMtimeTimeout == 0 {
		cfg.StageMtimeTimeout = defaultStageTimeout
	}
	if cfg.StagePollInterval == 0 {
		cfg.StagePollInterval = defaultStagePoll
	}
	if cfg.ShardRetryTimes == 0 {
		cfg.ShardRetryTimes = defaultShardRetryTimes
	}
	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = LedgerBadger
	}
	if cfg.Ledger.Path == "" {
		switch cfg.Ledger.Backend {
		case LedgerBadger:
			cfg.Ledger.Path = filepath.Join(workPath, defaultLedgerDir)
		case LedgerSQLite:
			cfg.Ledger.Path = filepath.Join(workPath, defaultLedgerDir+".db")
		}
	}
	if cfg.Ledger.Backend == LedgerPostgres && cfg.Ledger.MaxOpenConns == 0 {
		cfg.Ledger.MaxOpenConns = defaultLedgerConns
	}
}

func applyTargetDefaults(cfg *TargetConfig) {
	if cfg.Type == "" {
		cfg.Type = TargetLocal
	}
}

// applyMetricsDefaults sets the port only when metrics are enabled.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = defaultMetricsPort
	}
}

func applyAPIDefaults(cfg *APIConfig) {
	if cfg.Port == 0 {
		cfg.Port = defaultAPIPort
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
}

// GetDefaultConfig returns a complete configuration with a single local
// target under the default work path.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Targets: []TargetConfig{{
			Name: "local",
			Type: TargetLocal,
			Path: filepath.Join(DefaultWorkPath, "backup"),
		}},
		Backup: BackupConfig{
			Ledger: LedgerConfig{Enabled: true},
		},
		API: APIConfig{Enabled: true},
	}
	ApplyDefaults(cfg)
	return cfg
}
