package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/ckptfs/internal/bytesize"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default log output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_Memfs(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Memfs.BlockSize != bytesize.MiB {
		t.Errorf("Expected default block size 1MiB, got %v", cfg.Memfs.BlockSize)
	}
	if cfg.Memfs.BlockCount != 1024 {
		t.Errorf("Expected default block count 1024, got %d", cfg.Memfs.BlockCount)
	}
	if cfg.Memfs.Allocator != "mmap" {
		t.Errorf("Expected default allocator 'mmap', got %q", cfg.Memfs.Allocator)
	}
	if cfg.Memfs.EvictWatermark != 0.9 {
		t.Errorf("Expected default watermark 0.9, got %v", cfg.Memfs.EvictWatermark)
	}
}

func TestApplyDefaults_Backup(t *testing.T) {
	cfg := &Config{WorkPath: "/data"}
	ApplyDefaults(cfg)

	b := cfg.Backup
	if b.Retry.Name != "backup" {
		t.Errorf("Expected default pool name 'backup', got %q", b.Retry.Name)
	}
	if b.Retry.Threads != 4 || b.Retry.RetryTimes != 5 {
		t.Errorf("Unexpected retry defaults: %+v", b.Retry)
	}
	if b.Retry.MaxRetryInterval != 8*time.Second {
		t.Errorf("Expected max retry interval 8s, got %v", b.Retry.MaxRetryInterval)
	}
	if b.Shard.MinShardSize != 64*bytesize.MiB || b.Shard.MaxShards != 16 {
		t.Errorf("Unexpected shard defaults: %+v", b.Shard)
	}
	if b.StageMtimeTimeout != 10*time.Second || b.StagePollInterval != 500*time.Millisecond {
		t.Errorf("Unexpected stage defaults: %v %v", b.StageMtimeTimeout, b.StagePollInterval)
	}
	if b.Ledger.Backend != LedgerBadger {
		t.Errorf("Expected badger ledger by default, got %q", b.Ledger.Backend)
	}
	if b.Ledger.Path != filepath.Join("/data", "ledger") {
		t.Errorf("Expected ledger under work path, got %q", b.Ledger.Path)
	}
}

func TestApplyDefaults_LedgerBackends(t *testing.T) {
	sqlite := BackupConfig{Ledger: LedgerConfig{Backend: LedgerSQLite}}
	applyBackupDefaults(&sqlite, "/data")
	if sqlite.Ledger.Path != filepath.Join("/data", "ledger.db") {
		t.Errorf("Expected sqlite ledger file under work path, got %q", sqlite.Ledger.Path)
	}

	pg := BackupConfig{Ledger: LedgerConfig{Backend: LedgerPostgres, DSN: "postgres://db/ckptfs"}}
	applyBackupDefaults(&pg, "/data")
	if pg.Ledger.Path != "" {
		t.Errorf("Expected no path for postgres, got %q", pg.Ledger.Path)
	}
	if pg.Ledger.MaxOpenConns != defaultLedgerConns {
		t.Errorf("Expected %d postgres connections, got %d", defaultLedgerConns, pg.Ledger.MaxOpenConns)
	}
}

func TestApplyDefaults_TargetType(t *testing.T) {
	cfg := &Config{Targets: []TargetConfig{{Name: "a", Path: "/a"}, {Name: "b", Type: TargetS3}}}
	ApplyDefaults(cfg)

	if cfg.Targets[0].Type != TargetLocal {
		t.Errorf("Expected untyped target to default to local, got %q", cfg.Targets[0].Type)
	}
	if cfg.Targets[1].Type != TargetS3 {
		t.Errorf("Expected explicit type to be preserved, got %q", cfg.Targets[1].Type)
	}
}

func TestApplyDefaults_Metrics(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Metrics.Port != 0 {
		t.Errorf("Expected no metrics port while disabled, got %d", cfg.Metrics.Port)
	}

	cfg = &Config{Metrics: MetricsConfig{Enabled: true}}
	ApplyDefaults(cfg)
	if cfg.Metrics.Port != 9090 {
		t.Errorf("Expected default metrics port 9090, got %d", cfg.Metrics.Port)
	}
}

func TestApplyDefaults_API(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.API.Port != 8080 {
		t.Errorf("Expected default API port 8080, got %d", cfg.API.Port)
	}
	if cfg.API.ReadTimeout != 10*time.Second {
		t.Errorf("Expected default read timeout 10s, got %v", cfg.API.ReadTimeout)
	}
	if cfg.API.WriteTimeout != 10*time.Second {
		t.Errorf("Expected default write timeout 10s, got %v", cfg.API.WriteTimeout)
	}
	if cfg.API.IdleTimeout != 60*time.Second {
		t.Errorf("Expected default idle timeout 60s, got %v", cfg.API.IdleTimeout)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{
			Level:  "DEBUG",
			Format: "json",
			Output: "/var/log/ckptfs.log",
		},
		ShutdownTimeout: 60 * time.Second,
		Memfs: MemfsConfig{
			BlockSize:  4 * bytesize.MiB,
			BlockCount: 10,
			Allocator:  "heap",
		},
		Backup: BackupConfig{
			Retry: RetryConfig{RetryInterval: 2 * time.Second, MaxRetryInterval: 3 * time.Second},
		},
	}

	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected explicit level 'DEBUG' to be preserved, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Output != "/var/log/ckptfs.log" {
		t.Errorf("Expected explicit output to be preserved, got %q", cfg.Logging.Output)
	}
	if cfg.ShutdownTimeout != 60*time.Second {
		t.Errorf("Expected explicit timeout 60s to be preserved, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Memfs.BlockSize != 4*bytesize.MiB || cfg.Memfs.BlockCount != 10 || cfg.Memfs.Allocator != "heap" {
		t.Errorf("Expected explicit memfs values to be preserved, got %+v", cfg.Memfs)
	}
	if cfg.Backup.Retry.MaxRetryInterval != 3*time.Second {
		t.Errorf("Expected explicit max retry interval to be preserved, got %v", cfg.Backup.Retry.MaxRetryInterval)
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Errorf("Default config should be valid, got error: %v", err)
	}
}
