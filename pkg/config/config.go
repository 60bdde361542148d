package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/ckptfs/internal/bytesize"
)

// Config is the static configuration of a ckptfs process.
//
// It covers:
//   - Logging and telemetry
//   - The memfs block pool and evictor
//   - The backup pipeline (retry pool, sharding, stage handling, ledger)
//   - The under file system targets
//   - The metrics and status API servers
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (CKPTFS_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry tracing and Pyroscope profiling
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout bounds how long a stop waits for in-flight backups
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// WorkPath holds the CCAE sentinel directory and the default ledger
	WorkPath string `mapstructure:"work_path" validate:"required" yaml:"work_path"`

	// Memfs sizes the in-memory file system
	Memfs MemfsConfig `mapstructure:"memfs" yaml:"memfs"`

	// Backup configures uploads, preloads and the retry pool
	Backup BackupConfig `mapstructure:"backup" yaml:"backup"`

	// Targets lists the under file systems every file is replicated to.
	// Order matters: preloads read from the first target that holds a file.
	Targets []TargetConfig `mapstructure:"targets" validate:"required,min=1,unique=Name,dive" yaml:"targets"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// API contains the status API server configuration
	API APIConfig `mapstructure:"api" yaml:"api"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled turns on span export. Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector endpoint (host:port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure disables TLS towards the collector
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate is the fraction of root spans kept (0.0 to 1.0)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server URL
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes lists the profiles to collect
	// Valid values: cpu, alloc_objects, alloc_space, inuse_objects, inuse_space,
	//               goroutines, mutex_count, mutex_duration, block_count, block_duration
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MemfsConfig sizes the block pool and drives the evictor.
type MemfsConfig struct {
	// BlockSize is the size of one data block ("1Mi", "4MiB", ...)
	BlockSize bytesize.ByteSize `mapstructure:"block_size" validate:"required,gt=0" yaml:"block_size"`

	// BlockCount is the number of blocks in the pool
	BlockCount uint64 `mapstructure:"block_count" validate:"required,gt=0" yaml:"block_count"`

	// MaxOpenFiles caps the descriptor table. Zero selects the default.
	MaxOpenFiles int `mapstructure:"max_open_files" validate:"gte=0" yaml:"max_open_files"`

	// EvictWatermark is the used-block fraction above which the evictor
	// recycles files. Zero selects the default; 1 disables background
	// eviction.
	EvictWatermark float64 `mapstructure:"evict_watermark" validate:"gte=0,lte=1" yaml:"evict_watermark"`

	// EvictInterval is the period between watermark checks
	EvictInterval time.Duration `mapstructure:"evict_interval" validate:"gte=0" yaml:"evict_interval"`

	// Allocator selects how the pool is reserved: mmap or heap
	Allocator string `mapstructure:"allocator" validate:"required,oneof=mmap heap" yaml:"allocator"`
}

// Capacity returns the pool size in bytes.
func (c MemfsConfig) Capacity() bytesize.ByteSize {
	return c.BlockSize * bytesize.ByteSize(c.BlockCount)
}

// BackupConfig configures the backup pipeline.
type BackupConfig struct {
	// Retry configures the upload retry pool
	Retry RetryConfig `mapstructure:"retry" yaml:"retry"`

	// Shard controls how a file is split for parallel transfer
	Shard ShardConfig `mapstructure:"shard" yaml:"shard"`

	// StageMtimeTimeout is how long a foreign stage file must stay
	// unchanged before an upload takes it over
	StageMtimeTimeout time.Duration `mapstructure:"stage_mtime_timeout" validate:"gt=0" yaml:"stage_mtime_timeout"`

	// StagePollInterval is the stage mtime polling period
	StagePollInterval time.Duration `mapstructure:"stage_poll_interval" validate:"gt=0,ltfield=StageMtimeTimeout" yaml:"stage_poll_interval"`

	// ShardRetryTimes is the number of attempts each preload shard gets
	ShardRetryTimes int `mapstructure:"shard_retry_times" validate:"gt=0" yaml:"shard_retry_times"`

	// Ledger persists the upload views across restarts
	Ledger LedgerConfig `mapstructure:"ledger" yaml:"ledger"`
}

// RetryConfig configures the retry task pool.
type RetryConfig struct {
	// Name names the pool and its CCAE sentinel file
	Name string `mapstructure:"name" validate:"required" yaml:"name"`

	// Threads is the number of upload workers
	Threads int `mapstructure:"threads" validate:"gt=0" yaml:"threads"`

	// RetryTimes is the number of consecutive failures that raise the alarm
	RetryTimes int `mapstructure:"retry_times" validate:"gt=0" yaml:"retry_times"`

	// RetryInterval is the first retry delay
	RetryInterval time.Duration `mapstructure:"retry_interval" validate:"gt=0" yaml:"retry_interval"`

	// MaxRetryInterval caps the exponential retry delay
	MaxRetryInterval time.Duration `mapstructure:"max_retry_interval" validate:"gtefield=RetryInterval" yaml:"max_retry_interval"`

	// FirstWait delays the first run of every task
	FirstWait time.Duration `mapstructure:"first_wait" validate:"gte=0" yaml:"first_wait"`

	// MaxFailCountForUnserviceable marks memfs unserviceable once this many
	// tasks exhausted their retries. Zero disables it.
	MaxFailCountForUnserviceable int `mapstructure:"max_fail_count_for_unserviceable" validate:"gte=0" yaml:"max_fail_count_for_unserviceable"`

	// AutoEvictFile drops exhausted tasks for files larger than this.
	// Zero disables it.
	AutoEvictFile bytesize.ByteSize `mapstructure:"auto_evict_file" yaml:"auto_evict_file"`
}

// ShardConfig controls transfer sharding.
type ShardConfig struct {
	// MinShardSize is the smallest shard worth a separate task
	MinShardSize bytesize.ByteSize `mapstructure:"min_shard_size" validate:"gt=0" yaml:"min_shard_size"`

	// MaxShards caps the shards of one file
	MaxShards int `mapstructure:"max_shards" validate:"gt=0" yaml:"max_shards"`
}

// Ledger backends.
const (
	LedgerBadger   = "badger"
	LedgerSQLite   = "sqlite"
	LedgerPostgres = "postgres"
)

// LedgerConfig configures the view ledger.
type LedgerConfig struct {
	// Enabled persists upload views. Without it a restart forgets which
	// versions the targets already hold.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Backend selects the store: badger (default), sqlite or postgres.
	// Postgres lets several hosts that share targets share one ledger.
	Backend string `mapstructure:"backend" validate:"omitempty,oneof=badger sqlite postgres" yaml:"backend"`

	// Path is the badger directory or the sqlite file.
	// Defaults to <work_path>/ledger or <work_path>/ledger.db.
	Path string `mapstructure:"path" yaml:"path"`

	// DSN is the postgres connection string
	DSN string `mapstructure:"dsn" validate:"required_if=Backend postgres" yaml:"dsn,omitempty"`

	// MaxOpenConns caps the postgres connection pool. Zero selects the default.
	MaxOpenConns int `mapstructure:"max_open_conns" validate:"gte=0" yaml:"max_open_conns,omitempty"`

	// SyncWrites makes every ledger write durable before it returns
	SyncWrites bool `mapstructure:"sync_writes" yaml:"sync_writes"`
}

// Target types.
const (
	TargetLocal  = "local"
	TargetS3     = "s3"
	TargetMemory = "memory"
)

// TargetConfig describes one under file system.
type TargetConfig struct {
	// Name identifies the target in logs, metrics and the ledger
	Name string `mapstructure:"name" validate:"required" yaml:"name"`

	// Type selects the backend: local, s3 or memory
	Type string `mapstructure:"type" validate:"required,oneof=local s3 memory" yaml:"type"`

	// Path is the root directory of a local target
	Path string `mapstructure:"path" validate:"required_if=Type local" yaml:"path,omitempty"`

	// Bucket is the bucket of an s3 target
	Bucket string `mapstructure:"bucket" validate:"required_if=Type s3" yaml:"bucket,omitempty"`

	// Region is the AWS region. Uses the SDK default when empty.
	Region string `mapstructure:"region" yaml:"region,omitempty"`

	// Endpoint overrides the S3 endpoint (MinIO, Localstack)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	// Prefix is prepended to every object key
	Prefix string `mapstructure:"prefix" yaml:"prefix,omitempty"`

	// ForcePathStyle uses path-style addressing
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style,omitempty"`

	// AccessKeyID and SecretAccessKey are static credentials. The SDK
	// credential chain is used when they are empty.
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" validate:"required_with=AccessKeyID" yaml:"secret_access_key,omitempty"`

	// MaxRetries is the SDK retry budget per request
	MaxRetries int `mapstructure:"max_retries" validate:"gte=0" yaml:"max_retries,omitempty"`

	// SpoolDir holds the temporary files that back s3 uploads
	SpoolDir string `mapstructure:"spool_dir" yaml:"spool_dir,omitempty"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint. Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// APIConfig configures the status API server.
type APIConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port. Default: 8080
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// Load loads configuration from file, environment, and defaults.
//
// An empty configPath searches the default location. A missing file is not
// an error: the defaults plus any CKPTFS_* environment overrides are used.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	// Without a file the environment overrides the full default config,
	// including its default target.
	cfg := &Config{}
	if !found {
		cfg = GetDefaultConfig()
	}
	if err := v.Unmarshal(cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration and explains how to create one when the
// file is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  ckptfs init\n\n"+
				"Or specify a custom config file:\n"+
				"  ckptfs <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  ckptfs init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg as YAML to path.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Targets may carry S3 secrets.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures environment variables and the config file search.
func setupViper(v *viper.Viper, configPath string) {
	// Example: CKPTFS_MEMFS_BLOCK_COUNT=4096
	v.SetEnvPrefix("CKPTFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, reflect.TypeOf(Config{}), "")

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// bindEnvs registers every scalar key of t so AutomaticEnv overrides apply
// even when the key is absent from the file. Slices are file-only.
func bindEnvs(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		switch {
		case f.Type.Kind() == reflect.Struct && f.Type != reflect.TypeOf(time.Duration(0)):
			bindEnvs(v, f.Type, key)
		case f.Type.Kind() == reflect.Slice && f.Type.Elem().Kind() == reflect.Struct:
		default:
			_ = v.BindEnv(key)
		}
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks parses human-readable sizes, durations and the comma
// separated lists environment variables produce.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// byteSizeDecodeHook converts strings like "64MiB" and plain numbers to
// bytesize.ByteSize.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns $XDG_CONFIG_HOME/ckptfs, ~/.config/ckptfs, or "."
// when no home directory is known.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "ckptfs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "ckptfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
