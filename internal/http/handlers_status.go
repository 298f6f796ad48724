package httpx

import (
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/ragline/ingestd/internal/domain/model"
	"github.com/ragline/ingestd/internal/service"
)

// StatusHandlers provides HTTP handlers for the status and health surfaces.
type StatusHandlers struct {
	Svc *service.JobService
}

// statusResponse is the GET /api/status body.
type statusResponse struct {
	Status           model.HealthStatus   `json:"status"`
	SchedulerRunning bool                 `json:"scheduler_running"`
	TotalJobs        int                  `json:"total_jobs"`
	Stats            model.SchedulerStats `json:"stats"`
}

// Status handles GET /api/status. The job listing and health evaluation both
// touch the store, so they run concurrently.
func (h *StatusHandlers) Status(w http.ResponseWriter, r *http.Request) {
	var (
		jobs   []*model.Job
		report model.HealthReport
	)

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		jobs, err = h.Svc.ListJobs(ctx)
		return err
	})
	g.Go(func() error {
		report = h.Svc.HealthCheck(ctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, statusResponse{
		Status:           report.Status,
		SchedulerRunning: report.SchedulerRunning,
		TotalJobs:        len(jobs),
		Stats:            h.Svc.GetStats(),
	})
}

// Health handles GET /api/health, returning the full check report. An
// unhealthy verdict maps to 503 so load balancers can act on it directly.
func (h *StatusHandlers) Health(w http.ResponseWriter, r *http.Request) {
	report := h.Svc.HealthCheck(r.Context())

	code := http.StatusOK
	if report.Status == model.HealthUnhealthy {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, report)
}
