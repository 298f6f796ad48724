package config

import "time"

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - store.go: Job store backend configuration
//   - services.go: Service mode, scheduler, runner, bootstrap, and retention configuration
//   - http.go: HTTP server configuration
//   - observability.go: Logging and metrics configuration
type AppConfig struct {
	// Services is a comma-delimited list of enabled services.
	// Valid values: scheduler, http
	Services string `env:"SERVICES" envDefault:"scheduler,http"`

	// ShutdownGrace is how long graceful shutdown waits for in-flight
	// firings before remaining children are killed.
	ShutdownGrace time.Duration `env:"SHUTDOWN_GRACE" envDefault:"30s"`

	// Job store configuration
	Store StoreConfig

	// Scheduler loop configuration
	Scheduler SchedulerConfig

	// Pipeline runner configuration
	Runner RunnerConfig

	// First-run bootstrap configuration
	Bootstrap BootstrapConfig

	// Artifact retention configuration
	Retention RetentionConfig

	// HTTP server configuration
	HTTP HTTPConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env and
// returns human-readable warnings for every value it had to clamp.
// This should be called after loading configuration from environment
// variables; the caller is expected to log the warnings.
func (c *AppConfig) Sanitize() []string {
	var warnings []string

	if c.ShutdownGrace <= 0 {
		warnings = append(warnings, "shutdown grace must be positive, using 30s")
		c.ShutdownGrace = 30 * time.Second
	}

	warnings = append(warnings, c.Store.Sanitize()...)
	warnings = append(warnings, c.Scheduler.Sanitize()...)
	warnings = append(warnings, c.Runner.Sanitize()...)
	warnings = append(warnings, c.Bootstrap.Sanitize()...)
	warnings = append(warnings, c.Retention.Sanitize()...)
	warnings = append(warnings, c.HTTP.Sanitize()...)
	warnings = append(warnings, c.Observability.Sanitize()...)

	return warnings
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsSchedulerEnabled returns true if the scheduler service is enabled.
func (c *AppConfig) IsSchedulerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeScheduler]
}

// IsHTTPServerEnabled returns true if the HTTP server service is enabled.
func (c *AppConfig) IsHTTPServerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeHTTP]
}
