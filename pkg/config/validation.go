package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/ckptfs/internal/telemetry"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags first, then the rules that span sections.
//
// Validation does not normalize: ApplyDefaults owns that.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return formatValidationErrors(verrs)
		}
		return err
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return errors.New("telemetry.endpoint is required when telemetry is enabled")
	}
	if cfg.Telemetry.Profiling.Enabled {
		if cfg.Telemetry.Profiling.Endpoint == "" {
			return errors.New("telemetry.profiling.endpoint is required when profiling is enabled")
		}
		if _, err := telemetry.ParseProfileTypes(cfg.Telemetry.Profiling.ProfileTypes); err != nil {
			return fmt.Errorf("telemetry.profiling.profile_types: %w", err)
		}
	}

	if cfg.Metrics.Enabled && cfg.API.Enabled && cfg.Metrics.Port == cfg.API.Port {
		return fmt.Errorf("metrics.port and api.port are both %d", cfg.API.Port)
	}

	return validateTargets(cfg.Targets)
}

// validateTargets rejects local targets nested inside each other: an upload
// to one would show up as foreign files in the other.
func validateTargets(targets []TargetConfig) error {
	var roots []string
	for _, t := range targets {
		if t.Type != TargetLocal {
			continue
		}
		if !filepath.IsAbs(t.Path) {
			return fmt.Errorf("target %q: path %q must be absolute", t.Name, t.Path)
		}
		clean := filepath.Clean(t.Path)
		for _, r := range roots {
			if within(clean, r) || within(r, clean) {
				return fmt.Errorf("target %q: path %q overlaps %q", t.Name, clean, r)
			}
		}
		roots = append(roots, clean)
	}
	return nil
}

func within(p, root string) bool {
	if p == root {
		return true
	}
	return strings.HasPrefix(p, strings.TrimSuffix(root, string(filepath.Separator))+string(filepath.Separator))
}

// formatValidationErrors turns validator errors into one line per field,
// keeping the failed tag so callers can tell "max" from "oneof".
func formatValidationErrors(verrs validator.ValidationErrors) error {
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		field := strings.TrimPrefix(e.Namespace(), "Config.")
		if e.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %q (%s=%s, got %v)", field, e.Tag(), e.Tag(), e.Param(), e.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %q", field, e.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
