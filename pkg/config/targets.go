package config

import (
	"context"
	"fmt"

	"github.com/marmos91/ckptfs/pkg/ufs"
	"github.com/marmos91/ckptfs/pkg/ufs/local"
	"github.com/marmos91/ckptfs/pkg/ufs/memory"
	"github.com/marmos91/ckptfs/pkg/ufs/s3"
)

// OpenTarget builds the under file system described by t. s3Metrics may be
// nil.
func OpenTarget(ctx context.Context, t TargetConfig, s3Metrics s3.Metrics) (ufs.FileSystem, error) {
	switch t.Type {
	case TargetLocal:
		store, err := local.New(local.Config{Name: t.Name, Root: t.Path})
		if err != nil {
			return nil, err
		}
		return store, nil
	case TargetS3:
		store, err := s3.NewFromConfig(ctx, s3.Config{
			Name:            t.Name,
			Bucket:          t.Bucket,
			Region:          t.Region,
			Endpoint:        t.Endpoint,
			KeyPrefix:       t.Prefix,
			ForcePathStyle:  t.ForcePathStyle,
			AccessKeyID:     t.AccessKeyID,
			SecretAccessKey: t.SecretAccessKey,
			MaxRetries:      t.MaxRetries,
			SpoolDir:        t.SpoolDir,
		}, s3.WithMetrics(s3Metrics))
		if err != nil {
			return nil, err
		}
		return store, nil
	case TargetMemory:
		return memory.New(t.Name), nil
	default:
		return nil, fmt.Errorf("target %q: unknown type %q", t.Name, t.Type)
	}
}

// OpenTargets builds every configured target in order. On failure the
// targets opened so far are closed.
func OpenTargets(ctx context.Context, cfg *Config, s3Metrics s3.Metrics) ([]ufs.FileSystem, error) {
	out := make([]ufs.FileSystem, 0, len(cfg.Targets))
	for _, t := range cfg.Targets {
		fs, err := OpenTarget(ctx, t, s3Metrics)
		if err != nil {
			CloseTargets(out)
			return nil, fmt.Errorf("failed to open target %q: %w", t.Name, err)
		}
		out = append(out, fs)
	}
	return out, nil
}

// CloseTargets closes every target, ignoring errors.
func CloseTargets(targets []ufs.FileSystem) {
	for _, t := range targets {
		_ = t.Close()
	}
}
