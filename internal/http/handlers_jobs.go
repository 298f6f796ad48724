// Package httpx provides the JSON HTTP transport over the ingestd job facade.
package httpx

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ragline/ingestd/internal/domain/model"
	"github.com/ragline/ingestd/internal/domain/trigger"
	apperrors "github.com/ragline/ingestd/internal/errors"
	"github.com/ragline/ingestd/internal/service"
)

// JobHandlers provides HTTP handlers for job CRUD and firing operations.
type JobHandlers struct {
	Svc *service.JobService
}

// createJobPayload is the POST /api/jobs body: a type discriminator plus the
// union of the per-type trigger fields. It deliberately mirrors the exported
// job entry shape so documents and API calls read the same.
type createJobPayload struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`

	// Cron fields.
	Hour           *int   `json:"hour,omitempty"`
	Minute         *int   `json:"minute,omitempty"`
	DayOfWeek      string `json:"day_of_week,omitempty"`
	CronExpression string `json:"cron_expression,omitempty"`
	Timezone       string `json:"timezone,omitempty"`

	// Interval fields.
	Days    int        `json:"days,omitempty"`
	Hours   int        `json:"hours,omitempty"`
	Minutes int        `json:"minutes,omitempty"`
	Seconds int        `json:"seconds,omitempty"`
	Anchor  *time.Time `json:"anchor,omitempty"`

	// Date field.
	RunDate *time.Time `json:"run_date,omitempty"`

	Config              model.PipelineConfig `json:"config,omitempty"`
	Coalesce            *bool                `json:"coalesce,omitempty"`
	MaxInstances        *int                 `json:"max_instances,omitempty"`
	MisfireGraceSeconds *int                 `json:"misfire_grace_seconds,omitempty"`
}

// CreateJob handles POST /api/jobs.
func (h *JobHandlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var payload createJobPayload
	if !DecodeJSON(w, r, &payload) {
		return
	}

	job, err := h.createFromPayload(r, &payload)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, job)
}

func (h *JobHandlers) createFromPayload(r *http.Request, payload *createJobPayload) (*model.Job, error) {
	switch trigger.Kind(payload.Type) {
	case trigger.KindCron:
		return h.Svc.CreateCronJob(r.Context(), &model.CreateCronJobRequest{
			ID:                  payload.ID,
			Name:                payload.Name,
			Hour:                payload.Hour,
			Minute:              payload.Minute,
			DayOfWeek:           payload.DayOfWeek,
			Expression:          payload.CronExpression,
			Timezone:            payload.Timezone,
			Config:              payload.Config,
			Coalesce:            payload.Coalesce,
			MaxInstances:        payload.MaxInstances,
			MisfireGraceSeconds: payload.MisfireGraceSeconds,
		})
	case trigger.KindInterval:
		req := &model.CreateIntervalJobRequest{
			ID:                  payload.ID,
			Name:                payload.Name,
			Days:                payload.Days,
			Hours:               payload.Hours,
			Minutes:             payload.Minutes,
			Seconds:             payload.Seconds,
			Anchor:              payload.Anchor,
			Config:              payload.Config,
			Coalesce:            payload.Coalesce,
			MaxInstances:        payload.MaxInstances,
			MisfireGraceSeconds: payload.MisfireGraceSeconds,
		}
		return h.Svc.CreateIntervalJob(r.Context(), req)
	case trigger.KindDate:
		if payload.RunDate == nil {
			return nil, apperrors.ValidationField("run_date", "run date is required for date jobs")
		}
		return h.Svc.CreateOneTimeJob(r.Context(), &model.CreateOneTimeJobRequest{
			ID:                  payload.ID,
			Name:                payload.Name,
			RunDate:             *payload.RunDate,
			Config:              payload.Config,
			Coalesce:            payload.Coalesce,
			MaxInstances:        payload.MaxInstances,
			MisfireGraceSeconds: payload.MisfireGraceSeconds,
		})
	default:
		return nil, apperrors.ValidationField("type", fmt.Sprintf("unknown job type %q (expected cron, interval, or date)", payload.Type))
	}
}

// ListJobs handles GET /api/jobs.
func (h *JobHandlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.Svc.ListJobs(r.Context())
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "total": len(jobs)})
}

// GetJob handles GET /api/jobs/{id}.
func (h *JobHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.Svc.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

// UpdateJob handles PUT /api/jobs/{id}.
func (h *JobHandlers) UpdateJob(w http.ResponseWriter, r *http.Request) {
	var patch model.UpdateJobRequest
	if !DecodeJSON(w, r, &patch) {
		return
	}

	job, err := h.Svc.UpdateJob(r.Context(), r.PathValue("id"), &patch)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

// DeleteJob handles DELETE /api/jobs/{id}.
func (h *JobHandlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.DeleteJob(r.Context(), r.PathValue("id")); err != nil {
		WriteAppError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RunJob handles POST /api/jobs/{id}/run.
func (h *JobHandlers) RunJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.Svc.RunNow(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, job)
}

// applyPresetPayload is the POST /api/presets/{name} body.
type applyPresetPayload struct {
	ID     string               `json:"id"`
	Config model.PipelineConfig `json:"config,omitempty"`
}

// ApplyPreset handles POST /api/presets/{name}.
func (h *JobHandlers) ApplyPreset(w http.ResponseWriter, r *http.Request) {
	var payload applyPresetPayload
	if !DecodeJSON(w, r, &payload) {
		return
	}

	jobs, err := h.Svc.CreateFromPreset(r.Context(), r.PathValue("name"), payload.ID, payload.Config)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, map[string]any{"jobs": jobs, "total": len(jobs)})
}
