package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/overlap/internal/trigger"
)

// HintHandler accepts "event created" notifications from calendar clients.
type HintHandler struct {
	coord  *trigger.Coordinator
	logger *slog.Logger
}

func NewHintHandler(coord *trigger.Coordinator, logger *slog.Logger) *HintHandler {
	return &HintHandler{coord: coord, logger: logger}
}

type hintResponse struct {
	trigger.Outcome
	Error string `json:"error,omitempty"`
}

// Create handles POST /api/hints. The body is a flat JSON object of string
// fields; form-encoded bodies are accepted too.
func (h *HintHandler) Create(w http.ResponseWriter, r *http.Request) {
	raw := make(map[string]string)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid form")
			return
		}
		for k := range r.PostForm {
			raw[k] = r.PostForm.Get(k)
		}
	} else if !decodeJSON(w, r, &raw) {
		return
	}

	// The flow owns its own deadline; a client hanging up does not abort it.
	out := h.coord.HandleHint(context.WithoutCancel(r.Context()), raw)

	resp := hintResponse{Outcome: out}
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}
	WriteJSON(w, outcomeStatus(out), resp)
}

func outcomeStatus(out trigger.Outcome) int {
	switch out.Status {
	case trigger.StatusConflictRecorded:
		return http.StatusCreated
	case trigger.StatusNoConflict:
		return http.StatusOK
	}
	switch out.Reason {
	case trigger.ReasonInvalidHint:
		return http.StatusBadRequest
	case trigger.ReasonTimeout:
		return http.StatusGatewayTimeout
	case trigger.ReasonQueryFailed, trigger.ReasonRecordFailed:
		return http.StatusInternalServerError
	default:
		// not_found, ambiguous and no_calendars are expected outcomes
		return http.StatusOK
	}
}
