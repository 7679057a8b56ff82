package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/overlap/internal/conflict"
	"github.com/dukerupert/overlap/internal/model"
)

type ConflictHandler struct {
	store    *conflict.Store
	resolver *conflict.Resolver
	logger   *slog.Logger
}

func NewConflictHandler(s *conflict.Store, r *conflict.Resolver, logger *slog.Logger) *ConflictHandler {
	return &ConflictHandler{store: s, resolver: r, logger: logger}
}

// List handles GET /api/conflicts[?unresolved=true]
func (h *ConflictHandler) List(w http.ResponseWriter, r *http.Request) {
	unresolved := r.URL.Query().Get("unresolved") == "true"
	WriteJSON(w, http.StatusOK, h.store.List(unresolved))
}

// Get handles GET /api/conflicts/{id}
func (h *ConflictHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, c)
}

type resolveRequest struct {
	Kind     model.ResolutionKind `json:"kind"`
	NewStart string               `json:"new_start"`
}

// Resolve handles POST /api/conflicts/{id}/resolve. Move and delete act on
// the conflict's newly created event.
func (h *ConflictHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req resolveRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var res model.Resolution
	switch req.Kind {
	case model.ResolutionKeepBoth:
		res = model.KeepBoth()
	case model.ResolutionDeleteEvent:
		res = model.DeleteEvent(c.OriginalEvent)
	case model.ResolutionMoveEvent:
		start, err := time.Parse(time.RFC3339, req.NewStart)
		if err != nil {
			writeError(w, http.StatusBadRequest, "new_start must be RFC3339 format")
			return
		}
		res = model.MoveEvent(c.OriginalEvent, start)
	default:
		writeError(w, http.StatusBadRequest, "kind must be keep_both, move_event or delete_event")
		return
	}

	if err := h.resolver.Resolve(r.Context(), c, res); err != nil {
		h.writeResolveError(w, err)
		return
	}

	updated, _ := h.store.Get(c.ID)
	WriteJSON(w, http.StatusOK, updated)
}

func (h *ConflictHandler) lookup(w http.ResponseWriter, r *http.Request) (model.Conflict, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return model.Conflict{}, false
	}
	c, ok := h.store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "conflict not found")
		return model.Conflict{}, false
	}
	return c, true
}

func (h *ConflictHandler) writeResolveError(w http.ResponseWriter, err error) {
	var rerr *conflict.ResolutionError
	if !errors.As(err, &rerr) {
		h.logger.Error("resolve conflict", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to resolve conflict")
		return
	}

	status := http.StatusBadRequest
	switch rerr.Kind {
	case conflict.KindTargetNotFound, conflict.KindConflictNotFound:
		status = http.StatusNotFound
	case conflict.KindAlreadyResolved:
		status = http.StatusConflict
	case conflict.KindStoreMutationFailed:
		status = http.StatusBadGateway
		h.logger.Error("resolve conflict", "conflict_id", rerr.ConflictID, "error", err)
	}
	WriteJSON(w, status, map[string]string{
		"error":   rerr.UserMessage(),
		"kind":    string(rerr.Kind),
		"details": err.Error(),
	})
}
