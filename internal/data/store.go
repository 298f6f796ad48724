// Package data provides the durable job store backends behind the
// core.JobStore contract: an embedded sqlite store for single-node
// deployments, a postgres store for shared multi-node deployments, and an
// in-memory store for tests and ephemeral runs.
package data

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ragline/ingestd/internal/core"
	"github.com/ragline/ingestd/internal/domain/model"
	"github.com/ragline/ingestd/internal/domain/trigger"
	apperrors "github.com/ragline/ingestd/internal/errors"
)

// StoreOptions configures OpenStore.
type StoreOptions struct {
	// URL selects the backend: memory://, sqlite://<path>, or a
	// postgres:// connection string.
	URL string
	// AutoMigrate applies pending schema migrations at open. When false,
	// a schema that is behind fails construction with StoreUnavailable.
	AutoMigrate bool
	// TimeProvider stamps created_at and updated_at. Defaults to the
	// real clock.
	TimeProvider core.TimeProvider
}

// OpenStore dispatches on the URL scheme and constructs the matching
// backend. Construction verifies the backend is usable, so a missing or
// corrupt store surfaces here rather than on first use.
func OpenStore(ctx context.Context, opts StoreOptions) (core.JobStore, error) {
	scheme, rest, ok := strings.Cut(opts.URL, "://")
	if !ok {
		return nil, apperrors.ValidationField("store_url", fmt.Sprintf("store url %q has no scheme", opts.URL))
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &core.RealTimeProvider{}
	}

	switch scheme {
	case "memory":
		return NewMemoryStore(opts.TimeProvider), nil
	case "sqlite":
		return NewSQLiteStore(ctx, SQLiteStoreOptions{
			Path:         rest,
			AutoMigrate:  opts.AutoMigrate,
			TimeProvider: opts.TimeProvider,
		})
	case "postgres", "postgresql":
		return NewPostgresStore(ctx, PostgresStoreOptions{
			URL:          opts.URL,
			AutoMigrate:  opts.AutoMigrate,
			TimeProvider: opts.TimeProvider,
		})
	default:
		return nil, apperrors.ValidationField("store_url", fmt.Sprintf("unsupported store scheme %q", scheme))
	}
}

// encodeTriggerSpec serializes a trigger spec for storage.
func encodeTriggerSpec(spec trigger.Spec) (json.RawMessage, error) {
	raw, err := json.Marshal(spec)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "encode trigger spec")
	}
	return raw, nil
}

func decodeTriggerSpec(raw []byte) (trigger.Spec, error) {
	var spec trigger.Spec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return trigger.Spec{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "decode stored trigger spec")
	}
	return spec, nil
}

// encodePipelineConfig serializes a pipeline config for storage. A nil
// config stores as an empty object.
func encodePipelineConfig(cfg model.PipelineConfig) (json.RawMessage, error) {
	if cfg == nil {
		return json.RawMessage(`{}`), nil
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "encode pipeline config")
	}
	return raw, nil
}

func decodePipelineConfig(raw []byte) (model.PipelineConfig, error) {
	if len(raw) == 0 {
		return model.PipelineConfig{}, nil
	}
	var cfg model.PipelineConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "decode stored pipeline config")
	}
	if cfg == nil {
		cfg = model.PipelineConfig{}
	}
	return cfg, nil
}

// fireOrderLess orders jobs by next fire time, ties broken by id. Both jobs
// must carry a next fire time.
func fireOrderLess(a, b *model.Job) bool {
	if a.NextFireTime.Equal(*b.NextFireTime) {
		return a.ID < b.ID
	}
	return a.NextFireTime.Before(*b.NextFireTime)
}

// sortJobsByFireOrder restores fire order on rows that came back from a
// RETURNING clause, whose order is unspecified.
func sortJobsByFireOrder(jobs []*model.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		return fireOrderLess(jobs[i], jobs[j])
	})
}
