package bootstrap

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ragline/ingestd/config"
	"github.com/ragline/ingestd/internal/core"
	"github.com/ragline/ingestd/internal/data"
	"github.com/ragline/ingestd/internal/observability/statsd"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAppConfig() *config.AppConfig {
	cfg := &config.AppConfig{
		Services:      "scheduler,http",
		ShutdownGrace: time.Second,
	}
	cfg.Sanitize()
	return cfg
}

func TestNewServices(t *testing.T) {
	clock := core.NewFixedTimeProvider(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	store := data.NewMemoryStore(clock)
	cfg := testAppConfig()
	cfg.Runner.ArtifactsDir = t.TempDir()

	services, err := NewServices(&ServiceDeps{
		Config: cfg,
		Store:  store,
		Logger: discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewServices returned error: %v", err)
	}
	defer services.Close(discardLogger())

	if services.Store == nil {
		t.Error("store not carried into container")
	}
	if services.Bus == nil || services.Notifier == nil {
		t.Error("event plumbing not built")
	}
	if services.Stats == nil {
		t.Error("stats aggregator not built")
	}
	if services.Pool == nil || services.Runner == nil {
		t.Error("execution adapters not built")
	}
	if services.Scheduler == nil {
		t.Error("scheduler not built")
	}
	if services.Health == nil || services.Jobs == nil {
		t.Error("facade services not built")
	}
	if services.Bootstrap == nil || services.Retention == nil {
		t.Error("background services not built")
	}
	if services.Observability.Client != nil {
		t.Error("statsd client should be nil when metrics are disabled")
	}
	if _, ok := services.Observability.Sink.(statsd.NopSink); !ok {
		t.Errorf("sink should be a NopSink when metrics are disabled, got %T", services.Observability.Sink)
	}
}

func TestNewServicesValidation(t *testing.T) {
	if _, err := NewServices(nil); err == nil {
		t.Error("nil deps should be rejected")
	}
	if _, err := NewServices(&ServiceDeps{Store: data.NewMemoryStore(nil)}); err == nil {
		t.Error("missing config should be rejected")
	}
	if _, err := NewServices(&ServiceDeps{Config: testAppConfig()}); err == nil {
		t.Error("missing store should be rejected")
	}
}

func TestBuildObservabilityDisabled(t *testing.T) {
	container := buildObservability(discardLogger(), config.ObservabilityConfig{})

	if container.Client != nil {
		t.Error("client should be nil without a statsd address")
	}
	if _, ok := container.Sink.(statsd.NopSink); !ok {
		t.Errorf("sink should be a NopSink, got %T", container.Sink)
	}
}

func TestBuildObservabilityEnabled(t *testing.T) {
	container := buildObservability(discardLogger(), config.ObservabilityConfig{
		StatsdAddr:   "127.0.0.1:8125",
		StatsdPrefix: "test",
	})

	if container.Client == nil {
		t.Fatal("expected a statsd client when an address is configured")
	}
	defer container.Client.Close()

	client, ok := container.Sink.(*statsd.Client)
	if !ok || client != container.Client {
		t.Error("sink should be the statsd client when metrics are enabled")
	}
}

func TestBuildBackgroundServicesGatesBootstrap(t *testing.T) {
	cfg := testAppConfig()
	deps := &serviceStartupDeps{
		cfg:    &ServiceOrchestrationConfig{Config: cfg},
		logger: discardLogger(),
	}

	cfg.Bootstrap.Enabled = false
	got := backgroundServiceNames(buildBackgroundServices(deps))
	want := []string{"scheduler", "retention sweeper"}
	if !equalNames(got, want) {
		t.Errorf("disabled bootstrap: got %v, want %v", got, want)
	}

	cfg.Bootstrap.Enabled = true
	got = backgroundServiceNames(buildBackgroundServices(deps))
	want = []string{"scheduler", "bootstrap", "retention sweeper"}
	if !equalNames(got, want) {
		t.Errorf("enabled bootstrap: got %v, want %v", got, want)
	}
}

func backgroundServiceNames(services []backgroundService) []string {
	names := make([]string, 0, len(services))
	for _, svc := range services {
		names = append(names, svc.name)
	}
	return names
}

func equalNames(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestErrorChannelCapacity(t *testing.T) {
	tests := []struct {
		name  string
		modes []config.ServiceMode
		want  int
	}{
		{
			name: "no services enabled",
			want: 0,
		},
		{
			name:  "http only",
			modes: []config.ServiceMode{config.ServiceModeHTTP},
			want:  1,
		},
		{
			name:  "scheduler only",
			modes: []config.ServiceMode{config.ServiceModeScheduler},
			want:  1,
		},
		{
			name:  "all services enabled",
			modes: []config.ServiceMode{config.ServiceModeScheduler, config.ServiceModeHTTP},
			want:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enabled := make(map[config.ServiceMode]bool, len(tt.modes))
			for _, mode := range tt.modes {
				enabled[mode] = true
			}

			if got := errorChannelCapacity(enabled); got != tt.want {
				t.Fatalf("errorChannelCapacity(%v) = %d, want %d", tt.modes, got, tt.want)
			}
		})
	}
}

func TestErrorChannelBufferSize(t *testing.T) {
	tests := []struct {
		name  string
		modes []config.ServiceMode
		want  int
	}{
		{
			name: "no services enabled",
			want: 1,
		},
		{
			name:  "http only",
			modes: []config.ServiceMode{config.ServiceModeHTTP},
			want:  2,
		},
		{
			name:  "all services enabled",
			modes: []config.ServiceMode{config.ServiceModeScheduler, config.ServiceModeHTTP},
			want:  3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enabled := make(map[config.ServiceMode]bool, len(tt.modes))
			for _, mode := range tt.modes {
				enabled[mode] = true
			}

			if got := errorChannelBufferSize(enabled); got != tt.want {
				t.Fatalf("errorChannelBufferSize(%v) = %d, want %d", tt.modes, got, tt.want)
			}
		})
	}
}
