package config

import (
	"fmt"
	"log/slog"
	"strings"
)

const defaultStatsdPrefix = "ingestd"

// ObservabilityConfig groups configuration that controls logging and metrics.
type ObservabilityConfig struct {
	// LogLevel is the minimum slog level: debug, info, warn, or error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// StatsdAddr is the UDP address metrics are shipped to. Empty disables
	// metrics emission entirely.
	StatsdAddr string `env:"STATSD_ADDR" envDefault:""`

	// StatsdPrefix is prepended to every metric name.
	StatsdPrefix string `env:"STATSD_PREFIX" envDefault:"ingestd"`
}

// Sanitize normalises observability values and enforces safe defaults.
func (c *ObservabilityConfig) Sanitize() []string {
	var warnings []string

	c.StatsdAddr = strings.TrimSpace(c.StatsdAddr)
	if c.StatsdPrefix = strings.TrimSpace(c.StatsdPrefix); c.StatsdPrefix == "" {
		c.StatsdPrefix = defaultStatsdPrefix
	}

	if _, ok := parseLogLevel(c.LogLevel); !ok {
		warnings = append(warnings, fmt.Sprintf("log level %q is unknown, using info", c.LogLevel))
		c.LogLevel = "info"
	}

	return warnings
}

// MetricsEnabled returns true when a statsd address is configured.
func (c *ObservabilityConfig) MetricsEnabled() bool {
	return c.StatsdAddr != ""
}

// Level returns the slog level for the configured LogLevel.
func (c *ObservabilityConfig) Level() slog.Level {
	level, _ := parseLogLevel(c.LogLevel)
	return level
}

// ParseLogLevel maps a LOG_LEVEL value to a slog level, defaulting to info
// for unknown names. Exported so the logger can be initialized before the
// full configuration is parsed.
func ParseLogLevel(raw string) slog.Level {
	level, _ := parseLogLevel(raw)
	return level
}

func parseLogLevel(raw string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, true
	case "", "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}
