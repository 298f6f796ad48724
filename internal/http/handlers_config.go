package httpx

import (
	"net/http"

	"github.com/ragline/ingestd/internal/domain/model"
	apperrors "github.com/ragline/ingestd/internal/errors"
	"github.com/ragline/ingestd/internal/service"
)

// ConfigHandlers provides HTTP handlers for config export and import.
type ConfigHandlers struct {
	Svc *service.JobService
}

// Export handles GET /api/export.
func (h *ConfigHandlers) Export(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Svc.ExportConfig(r.Context())
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, doc)
}

// Import handles POST /api/import. A malformed entry aborts the import but
// jobs created before it stay; the response carries the created count either
// way, so partial imports are visible to the caller.
func (h *ConfigHandlers) Import(w http.ResponseWriter, r *http.Request) {
	var doc model.ConfigDocument
	if !DecodeJSON(w, r, &doc) {
		return
	}

	imported, err := h.Svc.ImportConfig(r.Context(), &doc)
	if err != nil {
		code := apperrors.GetCode(err)
		WriteJSON(w, statusForCode(code), map[string]any{
			"imported": imported,
			"error":    string(code),
			"message":  err.Error(),
		})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{"imported": imported})
}
