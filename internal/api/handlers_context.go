package api

import (
	"net/http"
	"time"

	"github.com/mycelian/mycelian-companion/internal/api/respond"
	"github.com/mycelian/mycelian-companion/internal/api/validate"
	"github.com/mycelian/mycelian-companion/internal/core/contextagg"
	"github.com/mycelian/mycelian-companion/internal/model"
)

type ContextHandler struct {
	agg *contextagg.Aggregator
}

func NewContextHandler(agg *contextagg.Aggregator) *ContextHandler {
	return &ContextHandler{agg: agg}
}

// Aggregate GET /api/users/{userId}/context?window=&categories=&minRelevance=&maxItems=&memories=&patterns=
func (h *ContextHandler) Aggregate(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUser(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	opts := contextagg.DefaultOptions()
	var err error
	if opts.TimeWindow, err = validate.Window(q.Get("window"), opts.TimeWindow); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	if opts.Categories, err = validate.Categories(validate.List(q.Get("categories"))); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	if opts.MinRelevance, err = validate.Score("minRelevance", q.Get("minRelevance")); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	if opts.MaxItems, err = validate.Int("maxItems", q.Get("maxItems"), contextagg.DefaultMaxItems, 1, 500); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	opts.IncludeMemories = q.Get("memories") != "false"
	opts.IncludePatterns = q.Get("patterns") != "false"

	out, err := h.agg.Aggregate(r.Context(), userID, opts)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}

// UpdateCurrentState PUT /api/users/{userId}/context/current-state
func (h *ContextHandler) UpdateCurrentState(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUser(w, r)
	if !ok {
		return
	}
	var req struct {
		model.CurrentStateMeta
		TTLSeconds int `json:"ttlSeconds,omitempty"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := validate.NonEmpty("activity", req.Activity); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	if req.TTLSeconds < 0 {
		respond.WriteBadRequest(w, "ttlSeconds must not be negative")
		return
	}
	out, err := h.agg.UpdateCurrentState(r.Context(), userID, req.CurrentStateMeta, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}

// PutItem POST /api/users/{userId}/context/items
func (h *ContextHandler) PutItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUser(w, r)
	if !ok {
		return
	}
	var item model.ContextItem
	if !decode(w, r, &item) {
		return
	}
	item.UserID = userID
	out, err := h.agg.Put(r.Context(), &item)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, out)
}
