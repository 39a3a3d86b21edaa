package api

import (
	"net/http"

	"github.com/mycelian/mycelian-companion/internal/api/respond"
)

type AgentHandler struct {
	sched StateSource
}

func NewAgentHandler(sched StateSource) *AgentHandler {
	return &AgentHandler{sched: sched}
}

// Status GET /api/agent/status
func (h *AgentHandler) Status(w http.ResponseWriter, r *http.Request) {
	if h.sched == nil {
		respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"enabled": false})
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"enabled": true,
		"state":   h.sched.State(),
	})
}
