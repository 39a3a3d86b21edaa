// Package api is the thin HTTP surface over the companion services.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/mycelian/mycelian-companion/internal/api/recovery"
	"github.com/mycelian/mycelian-companion/internal/core/contextagg"
	"github.com/mycelian/mycelian-companion/internal/core/feedback"
	"github.com/mycelian/mycelian-companion/internal/core/memory"
	"github.com/mycelian/mycelian-companion/internal/model"
	"github.com/mycelian/mycelian-companion/internal/store"
)

// StateSource reports the autonomous scheduler's state.
type StateSource interface {
	State() model.ScheduleState
}

type Deps struct {
	Memories  *memory.Service
	Context   *contextagg.Aggregator
	Insights  store.Insights
	Learner   *feedback.Learner
	Scheduler StateSource // nil when the scheduler is disabled
	Healthy   func() bool
	Down      func() []string // names of failing components; optional
	Metrics   http.Handler    // nil disables /metrics
	Log       zerolog.Logger
}

const (
	userPath   = "/api/users/{userId}"
	memoryPath = userPath + "/memories/{memoryId:[0-9a-fA-F-]{36}}"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(d Deps) *mux.Router {
	router := mux.NewRouter()

	// Global middlewares
	router.Use(recovery.Middleware(d.Log))

	healthHandler := NewHealthHandler(d.Healthy, d.Down)
	memoryHandler := NewMemoryHandler(d.Memories)
	contextHandler := NewContextHandler(d.Context)
	insightHandler := NewInsightHandler(d.Insights, d.Learner)
	agentHandler := NewAgentHandler(d.Scheduler)

	// Health & ops
	router.HandleFunc("/api/health", healthHandler.CheckHealth).Methods("GET")
	router.HandleFunc("/api/agent/status", agentHandler.Status).Methods("GET")
	if d.Metrics != nil {
		router.Handle("/metrics", d.Metrics).Methods("GET")
	}

	// Memory endpoints
	router.HandleFunc(userPath+"/memories", memoryHandler.CreateMemory).Methods("POST")
	router.HandleFunc(userPath+"/memories", memoryHandler.SearchMemories).Methods("GET")
	router.HandleFunc(userPath+"/memories/stats", memoryHandler.Stats).Methods("GET")
	router.HandleFunc(userPath+"/memories/relevant", memoryHandler.RelevantMemories).Methods("POST")
	router.HandleFunc(memoryPath, memoryHandler.GetMemory).Methods("GET")
	router.HandleFunc(memoryPath, memoryHandler.UpdateMemory).Methods("PATCH")
	router.HandleFunc(memoryPath, memoryHandler.DeleteMemory).Methods("DELETE")

	// Context endpoints
	router.HandleFunc(userPath+"/context", contextHandler.Aggregate).Methods("GET")
	router.HandleFunc(userPath+"/context/current-state", contextHandler.UpdateCurrentState).Methods("PUT")
	router.HandleFunc(userPath+"/context/items", contextHandler.PutItem).Methods("POST")

	// Insight & feedback endpoints
	router.HandleFunc(userPath+"/insights", insightHandler.ListInsights).Methods("GET")
	router.HandleFunc(userPath+"/insights/{insightId}/dismiss", insightHandler.Dismiss).Methods("POST")
	router.HandleFunc(userPath+"/feedback/summary", insightHandler.FeedbackSummary).Methods("GET")

	return router
}
