package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
)

// sampleTemplate renders the file written by "ckptfs init". Every key is
// present so users can see what exists, and the output parses back into
// GetDefaultConfig.
var sampleTemplate = template.Must(template.New("config").Parse(`# ckptfs Configuration File
#
# Every value can be overridden with an environment variable named after its
# key path, e.g. CKPTFS_MEMFS_BLOCK_COUNT=4096 or CKPTFS_LOGGING_LEVEL=DEBUG.

logging:
  level: "{{ .Logging.Level }}"      # DEBUG, INFO, WARN, ERROR
  format: "{{ .Logging.Format }}"     # text, json
  output: "{{ .Logging.Output }}"   # stdout, stderr, or a file path

telemetry:
  enabled: false
  endpoint: "{{ .Telemetry.Endpoint }}"
  insecure: true
  sample_rate: {{ .Telemetry.SampleRate }}
  profiling:
    enabled: false
    endpoint: "{{ .Telemetry.Profiling.Endpoint }}"
    profile_types:
{{- range .Telemetry.Profiling.ProfileTypes }}
      - {{ . }}
{{- end }}

shutdown_timeout: {{ .ShutdownTimeout }}

# Holds the ccae alarm directory and the upload ledger.
work_path: "{{ .WorkPath }}"

memfs:
  block_size: "{{ .Memfs.BlockSize }}"
  block_count: {{ .Memfs.BlockCount }}
  max_open_files: 0               # 0 = default
  evict_watermark: {{ .Memfs.EvictWatermark }}           # 1 disables background eviction
  evict_interval: {{ .Memfs.EvictInterval }}
  allocator: "{{ .Memfs.Allocator }}"             # mmap, heap

backup:
  retry:
    name: "{{ .Backup.Retry.Name }}"
    threads: {{ .Backup.Retry.Threads }}
    retry_times: {{ .Backup.Retry.RetryTimes }}
    retry_interval: {{ .Backup.Retry.RetryInterval }}
    max_retry_interval: {{ .Backup.Retry.MaxRetryInterval }}
    first_wait: 0s
    max_fail_count_for_unserviceable: 0
    auto_evict_file: 0
  shard:
    min_shard_size: "{{ .Backup.Shard.MinShardSize }}"
    max_shards: {{ .Backup.Shard.MaxShards }}
  stage_mtime_timeout: {{ .Backup.StageMtimeTimeout }}
  stage_poll_interval: {{ .Backup.StagePollInterval }}
  shard_retry_times: {{ .Backup.ShardRetryTimes }}
  ledger:
    enabled: {{ .Backup.Ledger.Enabled }}
    backend: "{{ .Backup.Ledger.Backend }}"       # badger, sqlite, postgres
    path: "{{ .Backup.Ledger.Path }}"
    # dsn: "postgres://ckptfs:secret@db:5432/ckptfs?sslmode=disable"
    sync_writes: false

# Every file is replicated to all targets, in order.
targets:
{{- range .Targets }}
  - name: "{{ .Name }}"
    type: "{{ .Type }}"               # local, s3, memory
    path: "{{ .Path }}"
{{- end }}
#  - name: "s3"
#    type: "s3"
#    bucket: "checkpoints"
#    region: "us-east-1"
#    endpoint: "http://localhost:9000"
#    prefix: "ckptfs/"
#    force_path_style: true

metrics:
  enabled: false
  port: 9090

api:
  enabled: {{ .API.Enabled }}
  port: {{ .API.Port }}
  read_timeout: {{ .API.ReadTimeout }}
  write_timeout: {{ .API.WriteTimeout }}
  idle_timeout: {{ .API.IdleTimeout }}
`))

// RenderSample returns the sample configuration file.
func RenderSample() ([]byte, error) {
	var buf bytes.Buffer
	if err := sampleTemplate.Execute(&buf, GetDefaultConfig()); err != nil {
		return nil, fmt.Errorf("failed to render sample config: %w", err)
	}
	return buf.Bytes(), nil
}

// InitConfig writes the sample configuration to the default location and
// returns its path.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes the sample configuration to path. An existing
// file is only replaced when force is set.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
		}
	}

	data, err := RenderSample()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
