package httpx

import "net/http"

// livenessResponse is static on purpose: /healthz must answer even when the
// store or scheduler is in trouble. Readiness lives at /api/health.
var livenessResponse = []byte(`{"status":"ok","service":"ingestd"}`)

// livenessHandler answers load balancer and container liveness probes.
func livenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(livenessResponse)
}
