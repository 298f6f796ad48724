package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ragline/ingestd/internal/service"
)

// RouterServices holds the services needed by the HTTP router.
type RouterServices struct {
	Jobs   *service.JobService
	Logger *slog.Logger // Logger for request and panic logging (optional)
}

// NewRouter creates and configures the API router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	jobHandlers := &JobHandlers{Svc: services.Jobs}
	statusHandlers := &StatusHandlers{Svc: services.Jobs}
	configHandlers := &ConfigHandlers{Svc: services.Jobs}

	mux.HandleFunc("GET /healthz", livenessHandler)
	mux.HandleFunc("HEAD /healthz", livenessHandler)

	mux.HandleFunc("GET /api/status", statusHandlers.Status)
	mux.HandleFunc("GET /api/health", statusHandlers.Health)

	mux.HandleFunc("GET /api/jobs", jobHandlers.ListJobs)
	mux.HandleFunc("POST /api/jobs", jobHandlers.CreateJob)
	mux.HandleFunc("GET /api/jobs/{id}", jobHandlers.GetJob)
	mux.HandleFunc("PUT /api/jobs/{id}", jobHandlers.UpdateJob)
	mux.HandleFunc("DELETE /api/jobs/{id}", jobHandlers.DeleteJob)
	mux.HandleFunc("POST /api/jobs/{id}/run", jobHandlers.RunJob)

	mux.HandleFunc("POST /api/presets/{name}", jobHandlers.ApplyPreset)

	mux.HandleFunc("GET /api/export", configHandlers.Export)
	mux.HandleFunc("POST /api/import", configHandlers.Import)

	// Everything else is a JSON 404 rather than the text/plain default.
	mux.HandleFunc("/", notFoundHandler)

	return mux
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteError(w, ErrorParams{
		Code:    http.StatusNotFound,
		ErrCode: "not_found",
		Err:     errors.New("no such route: " + r.Method + " " + r.URL.Path),
	})
}
