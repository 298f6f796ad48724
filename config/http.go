package config

import "fmt"

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Port is the TCP port the HTTP server listens on.
	Port int `env:"HTTP_PORT" envDefault:"8080"`

	// MaxConns caps concurrent accepted connections via netutil.LimitListener.
	MaxConns int `env:"HTTP_MAX_CONNS" envDefault:"256"`
}

// Addr returns the listen address for the configured port.
func (h *HTTPConfig) Addr() string {
	return fmt.Sprintf(":%d", h.Port)
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() []string {
	var warnings []string
	if h.Port < 1 || h.Port > 65535 {
		warnings = append(warnings, fmt.Sprintf("http port %d is out of range, using 8080", h.Port))
		h.Port = 8080
	}
	if h.MaxConns < 1 {
		warnings = append(warnings, fmt.Sprintf("http max conns %d is invalid, using 256", h.MaxConns))
		h.MaxConns = 256
	}
	return warnings
}
