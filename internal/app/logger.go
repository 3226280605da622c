package app

import (
	"strings"

	"github.com/kodianteach/atlas-platform-sub001/pkg/logger"
)

// ConfigureLogging initialises the global logger from the server section. Level defaults
// to info and format to json.
func ConfigureLogging(cfg ServerConfig) error {
	level := strings.TrimSpace(cfg.LogLevel)
	if level == "" {
		level = "info"
	}
	format := strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	if format == "" {
		format = "json"
	}
	return logger.InitWithFormat(level, format)
}
