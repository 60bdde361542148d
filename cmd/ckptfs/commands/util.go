package commands

import (
	"fmt"

	"github.com/marmos91/ckptfs/internal/logger"
	"github.com/marmos91/ckptfs/pkg/config"
)

// InitLogger applies the logging section of cfg. CKPTFS_LOGGING_LEVEL and
// friends are already folded into cfg by the config loader.
func InitLogger(cfg *config.Config) error {
	lc := cfg.Logging
	if err := logger.Init(logger.Config{Level: lc.Level, Format: lc.Format, Output: lc.Output}); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

// getConfigSource names where the configuration came from, for the startup
// log line.
func getConfigSource(configFile string) string {
	switch {
	case configFile != "":
		return configFile
	case config.DefaultConfigExists():
		return config.GetDefaultConfigPath()
	default:
		return "defaults"
	}
}
