package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/mycelian/mycelian-companion/internal/api/respond"
	"github.com/mycelian/mycelian-companion/internal/api/validate"
	"github.com/mycelian/mycelian-companion/internal/core/memory"
	"github.com/mycelian/mycelian-companion/internal/model"
)

type MemoryHandler struct {
	svc *memory.Service
}

func NewMemoryHandler(svc *memory.Service) *MemoryHandler {
	return &MemoryHandler{svc: svc}
}

// CreateMemory POST /api/users/{userId}/memories
func (h *MemoryHandler) CreateMemory(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Type             model.MemoryType `json:"type"`
		Content          string           `json:"content"`
		Summary          *string          `json:"summary,omitempty"`
		Importance       model.Importance `json:"importance,omitempty"`
		Tags             []string         `json:"tags,omitempty"`
		RelatedMemoryIDs []string         `json:"relatedMemoryIds,omitempty"`
		ExpiresAt        *time.Time       `json:"expiresAt,omitempty"`
	}
	if !decode(w, r, &req) {
		return
	}
	out, err := h.svc.Create(r.Context(), memory.CreateInput{
		UserID:           userID,
		Type:             req.Type,
		Content:          req.Content,
		Summary:          req.Summary,
		Importance:       req.Importance,
		Tags:             req.Tags,
		RelatedMemoryIDs: req.RelatedMemoryIDs,
		ExpiresAt:        req.ExpiresAt,
	})
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, out)
}

// GetMemory GET /api/users/{userId}/memories/{memoryId}
func (h *MemoryHandler) GetMemory(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUser(w, r)
	if !ok {
		return
	}
	out, err := h.svc.Get(r.Context(), mux.Vars(r)["memoryId"], userID)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}

// UpdateMemory PATCH /api/users/{userId}/memories/{memoryId}
func (h *MemoryHandler) UpdateMemory(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Content     *string             `json:"content,omitempty"`
		Summary     *string             `json:"summary,omitempty"`
		Importance  *model.Importance   `json:"importance,omitempty"`
		Tags        *[]string           `json:"tags,omitempty"`
		ExpiresAt   *time.Time          `json:"expiresAt,omitempty"`
		ClearExpiry bool                `json:"clearExpiry,omitempty"`
		Status      *model.MemoryStatus `json:"status,omitempty"`
	}
	if !decode(w, r, &req) {
		return
	}
	out, err := h.svc.Update(r.Context(), mux.Vars(r)["memoryId"], userID, memory.UpdateInput{
		Content:     req.Content,
		Summary:     req.Summary,
		Importance:  req.Importance,
		Tags:        req.Tags,
		ExpiresAt:   req.ExpiresAt,
		ClearExpiry: req.ClearExpiry,
		Status:      req.Status,
	})
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}

// DeleteMemory DELETE /api/users/{userId}/memories/{memoryId}
func (h *MemoryHandler) DeleteMemory(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUser(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), mux.Vars(r)["memoryId"], userID); err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SearchMemories GET /api/users/{userId}/memories?types=&statuses=&tags=&text=&minImportance=&limit=&offset=
func (h *MemoryHandler) SearchMemories(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUser(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	types, err := validate.MemoryTypes(validate.List(q.Get("types")))
	if err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	var statuses []model.MemoryStatus
	for _, s := range validate.List(q.Get("statuses")) {
		statuses = append(statuses, model.MemoryStatus(s))
	}
	minImp, err := validate.Int("minImportance", q.Get("minImportance"), 0, 0, int(model.ImportanceCritical))
	if err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	limit, err := validate.Int("limit", q.Get("limit"), 0, 0, memory.MaxSearchLimit)
	if err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	offset, err := validate.Int("offset", q.Get("offset"), 0, 0, 1<<20)
	if err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	out, err := h.svc.Search(r.Context(), memory.SearchQuery{
		UserID:        userID,
		Types:         types,
		Statuses:      statuses,
		MinImportance: model.Importance(minImp),
		Tags:          validate.List(q.Get("tags")),
		Text:          q.Get("text"),
		Limit:         limit,
		Offset:        offset,
	})
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}

// RelevantMemories POST /api/users/{userId}/memories/relevant
func (h *MemoryHandler) RelevantMemories(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUser(w, r)
	if !ok {
		return
	}
	var req memory.RelevanceQuery
	if !decode(w, r, &req) {
		return
	}
	req.UserID = userID
	scored, err := h.svc.GetRelevantMemories(r.Context(), req)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"memories": scored, "count": len(scored)})
}

// Stats GET /api/users/{userId}/memories/stats
func (h *MemoryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUser(w, r)
	if !ok {
		return
	}
	out, err := h.svc.Stats(r.Context(), userID)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}

func pathUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := mux.Vars(r)["userId"]
	if err := validate.UserID(userID); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return "", false
	}
	return userID, true
}

// decode reads a JSON body of at most 1 MiB; an empty body leaves dst untouched.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return false
	}
	return true
}
