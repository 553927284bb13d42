package observability

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// HealthChecker manages liveness and readiness state for /healthz and
// /readyz. Readiness waits until recovery has finished.
type HealthChecker struct {
	ready     atomic.Bool
	sequence  atomic.Pointer[func() int64]
	startTime time.Time
}

// NewHealthChecker creates a new health checker.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		startTime: time.Now(),
	}
}

// SetReady marks the service as ready to accept traffic.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady returns whether the service is ready.
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// LivenessHandler returns HTTP 200 while the process runs.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns HTTP 200 once ready, 503 before. The body
// carries the engine sequence when a source is attached.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	body := map[string]interface{}{"status": "not_ready"}
	code := http.StatusServiceUnavailable
	if h.ready.Load() {
		body["status"] = "ready"
		code = http.StatusOK
	}
	if src := h.sequence.Load(); src != nil {
		body["sequence"] = (*src)()
	}
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

// SetSequenceSource attaches a function reporting the engine sequence.
func (h *HealthChecker) SetSequenceSource(fn func() int64) {
	h.sequence.Store(&fn)
}
