package httpx

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragline/ingestd/internal/core"
	"github.com/ragline/ingestd/internal/domain/model"
	apperrors "github.com/ragline/ingestd/internal/errors"
	"github.com/ragline/ingestd/internal/service"
)

func TestStatus(t *testing.T) {
	h := newAPIHarness(t, nil)
	h.do(t, http.MethodPost, "/api/jobs", map[string]any{"type": "interval", "id": "ingest", "hours": 1})

	w := h.do(t, http.MethodGet, "/api/status", nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decodeBody[statusResponse](t, w)
	assert.Equal(t, model.HealthHealthy, got.Status)
	assert.True(t, got.SchedulerRunning)
	assert.Equal(t, 1, got.TotalJobs)
	assert.Zero(t, got.Stats.Executed)
}

func TestStatus_SchedulerStopped(t *testing.T) {
	h := newAPIHarness(t, func(o *service.HealthOptions) {
		o.Scheduler = reportedState(service.StateStopped)
	})

	w := h.do(t, http.MethodGet, "/api/status", nil)

	require.Equal(t, http.StatusOK, w.Code)
	got := decodeBody[statusResponse](t, w)
	assert.Equal(t, model.HealthWarning, got.Status)
	assert.False(t, got.SchedulerRunning)
}

func TestHealth_Healthy(t *testing.T) {
	h := newAPIHarness(t, nil)

	w := h.do(t, http.MethodGet, "/api/health", nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	report := decodeBody[model.HealthReport](t, w)
	assert.Equal(t, model.HealthHealthy, report.Status)
	assert.Len(t, report.Checks, 5)
	assert.True(t, report.CheckedAt.Equal(apiTestBase))
}

type unpingableStore struct {
	core.JobStore
}

func (unpingableStore) Ping(context.Context) error {
	return apperrors.StoreUnavailable("backend down")
}

func TestHealth_UnhealthyReturns503(t *testing.T) {
	h := newAPIHarness(t, func(o *service.HealthOptions) {
		o.Store = unpingableStore{JobStore: o.Store}
	})

	w := h.do(t, http.MethodGet, "/api/health", nil)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	report := decodeBody[model.HealthReport](t, w)
	assert.Equal(t, model.HealthUnhealthy, report.Status)
	assert.NotEmpty(t, report.Recommendations)
}
