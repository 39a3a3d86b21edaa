package api

import (
	"net/http"
	"time"

	"github.com/mycelian/mycelian-companion/internal/api/respond"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	healthy func() bool
	down    func() []string
}

// NewHealthHandler reports healthy when no probe function is bound.
func NewHealthHandler(healthy func() bool, down func() []string) *HealthHandler {
	if healthy == nil {
		healthy = func() bool { return true }
	}
	return &HealthHandler{healthy: healthy, down: down}
}

// CheckHealth handles GET /api/health
// Returns 200 when UP and 503 when DOWN, naming the failing components.
func (h *HealthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":    "UP",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK
	if !h.healthy() {
		body["status"], code = "DOWN", http.StatusServiceUnavailable
		if h.down != nil {
			body["down"] = h.down()
		}
	}
	respond.WriteJSON(w, code, body)
}
