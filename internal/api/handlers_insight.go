package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mycelian/mycelian-companion/internal/api/respond"
	"github.com/mycelian/mycelian-companion/internal/api/validate"
	"github.com/mycelian/mycelian-companion/internal/core/feedback"
	"github.com/mycelian/mycelian-companion/internal/model"
	"github.com/mycelian/mycelian-companion/internal/store"
)

type InsightHandler struct {
	insights store.Insights
	learner  *feedback.Learner
}

func NewInsightHandler(insights store.Insights, learner *feedback.Learner) *InsightHandler {
	return &InsightHandler{insights: insights, learner: learner}
}

// ListInsights GET /api/users/{userId}/insights?includeDismissed=&limit=
func (h *InsightHandler) ListInsights(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUser(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	limit, err := validate.Int("limit", q.Get("limit"), 20, 1, 200)
	if err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	out, err := h.insights.List(r.Context(), userID, q.Get("includeDismissed") == "true", limit)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	if out == nil {
		out = []*model.Insight{}
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"insights": out, "count": len(out)})
}

// Dismiss POST /api/users/{userId}/insights/{insightId}/dismiss
func (h *InsightHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason *string `json:"reason,omitempty"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := validate.MaxLen("reason", req.Reason, 500); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	if !h.learner.RecordDismissal(r.Context(), userID, mux.Vars(r)["insightId"], req.Reason) {
		respond.WriteNotFound(w, "insight not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FeedbackSummary GET /api/users/{userId}/feedback/summary
func (h *InsightHandler) FeedbackSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUser(w, r)
	if !ok {
		return
	}
	respond.WriteJSON(w, http.StatusOK, h.learner.Summarize(r.Context(), userID))
}
