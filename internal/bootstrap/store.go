package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/ragline/ingestd/config"
	"github.com/ragline/ingestd/internal/core"
	"github.com/ragline/ingestd/internal/data"
)

// StoreDeps contains configuration for opening the job store.
type StoreDeps struct {
	Config config.StoreConfig
	Clock  core.TimeProvider
	Logger *slog.Logger
}

// OpenStore validates the store URL and opens the configured backend.
// Construction pings the backend, so an unreachable database fails here
// rather than on the first scheduler tick.
func OpenStore(ctx context.Context, deps StoreDeps) (core.JobStore, error) {
	// Parse up front for a clean startup error before dialing anything.
	target, err := config.ParseStoreURL(deps.Config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid STORE_URL: %w", err)
	}

	store, err := data.OpenStore(ctx, data.StoreOptions{
		URL:          deps.Config.URL,
		AutoMigrate:  deps.Config.AutoMigrate,
		TimeProvider: deps.Clock,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s job store: %w", target.Backend, err)
	}

	if deps.Logger != nil {
		deps.Logger.Info("job store opened",
			"backend", target.Backend,
			"target", redactTarget(target),
			"auto_migrate", deps.Config.AutoMigrate,
		)
	}

	return store, nil
}

// redactTarget renders the store destination without credentials.
func redactTarget(target config.StoreTarget) string {
	switch target.Backend {
	case config.StoreBackendPostgres:
		if u, err := url.Parse(target.DSN); err == nil && u.User != nil {
			u.User = url.User("*")
			return u.Redacted()
		}
		if i := strings.LastIndex(target.DSN, "@"); i > -1 {
			return target.DSN[i+1:]
		}
		return target.DSN
	case config.StoreBackendSQLite:
		return target.DSN
	default:
		return string(target.Backend)
	}
}
