package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/overlap/internal/model"
	"github.com/dukerupert/overlap/internal/store"
)

// EventBroadcaster is told about every event change made through the API.
type EventBroadcaster interface {
	EventChanged(action string, e model.CalendarEvent)
}

type CalendarEventHandler struct {
	events *store.EventStore
	hub    EventBroadcaster
	logger *slog.Logger
}

func NewCalendarEventHandler(es *store.EventStore, hub EventBroadcaster, logger *slog.Logger) *CalendarEventHandler {
	return &CalendarEventHandler{events: es, hub: hub, logger: logger}
}

type eventRequest struct {
	Title     string `json:"title"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	AllDay    bool   `json:"all_day"`
	Calendar  string `json:"calendar"`
}

func (h *CalendarEventHandler) parseAndValidate(w http.ResponseWriter, r *http.Request) (model.CalendarEvent, bool) {
	var req eventRequest
	if !decodeJSON(w, r, &req) {
		return model.CalendarEvent{}, false
	}

	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return model.CalendarEvent{}, false
	}

	startTime, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "start_time must be RFC3339 format")
		return model.CalendarEvent{}, false
	}

	endTime, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "end_time must be RFC3339 format")
		return model.CalendarEvent{}, false
	}

	if endTime.Before(startTime) {
		writeError(w, http.StatusBadRequest, "end_time must not be before start_time")
		return model.CalendarEvent{}, false
	}

	return model.CalendarEvent{
		Title:        req.Title,
		StartTime:    startTime,
		EndTime:      endTime,
		AllDay:       req.AllDay,
		CalendarName: strings.TrimSpace(req.Calendar),
	}, true
}

// Create handles POST /api/events
func (h *CalendarEventHandler) Create(w http.ResponseWriter, r *http.Request) {
	e, ok := h.parseAndValidate(w, r)
	if !ok {
		return
	}
	if e.CalendarName == "" {
		writeError(w, http.StatusBadRequest, "calendar is required")
		return
	}

	event, err := h.events.Create(r.Context(), e)
	if err != nil {
		h.logger.Error("create calendar event", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create event")
		return
	}

	h.hub.EventChanged("created", *event)
	WriteJSON(w, http.StatusCreated, event)
}

// List handles GET /api/events?start=...&end=...[&calendar=...]
func (h *CalendarEventHandler) List(w http.ResponseWriter, r *http.Request) {
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")

	if startStr == "" || endStr == "" {
		writeError(w, http.StatusBadRequest, "start and end query parameters are required")
		return
	}

	start, err := parseFlexibleTime(startStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "start must be RFC3339 or YYYY-MM-DD format")
		return
	}

	end, err := parseFlexibleTime(endStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "end must be RFC3339 or YYYY-MM-DD format")
		return
	}

	var calendars []string
	if c := r.URL.Query().Get("calendar"); c != "" {
		calendars = []string{c}
	}

	events, err := h.events.EventsOverlapping(r.Context(), start, end, calendars)
	if err != nil {
		h.logger.Error("list calendar events", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []model.CalendarEvent{}
	}

	WriteJSON(w, http.StatusOK, events)
}

// Get handles GET /api/events/{uid}
func (h *CalendarEventHandler) Get(w http.ResponseWriter, r *http.Request) {
	event, ok := h.existing(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, event)
}

// Update handles PUT /api/events/{uid}. The calendar cannot be changed.
func (h *CalendarEventHandler) Update(w http.ResponseWriter, r *http.Request) {
	existing, ok := h.existing(w, r)
	if !ok {
		return
	}

	e, ok := h.parseAndValidate(w, r)
	if !ok {
		return
	}
	existing.Title = e.Title
	existing.StartTime = e.StartTime
	existing.EndTime = e.EndTime
	existing.AllDay = e.AllDay

	if err := h.events.Save(r.Context(), existing); err != nil {
		h.mutationError(w, "update", err)
		return
	}

	h.hub.EventChanged("updated", *existing)
	WriteJSON(w, http.StatusOK, existing)
}

// Delete handles DELETE /api/events/{uid}
func (h *CalendarEventHandler) Delete(w http.ResponseWriter, r *http.Request) {
	existing, ok := h.existing(w, r)
	if !ok {
		return
	}

	if err := h.events.Delete(r.Context(), existing); err != nil {
		h.mutationError(w, "delete", err)
		return
	}

	h.hub.EventChanged("deleted", *existing)
	w.WriteHeader(http.StatusNoContent)
}

// Calendars handles GET /api/calendars
func (h *CalendarEventHandler) Calendars(w http.ResponseWriter, r *http.Request) {
	cals, err := h.events.Calendars(r.Context())
	if err != nil {
		h.logger.Error("list calendars", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list calendars")
		return
	}
	if cals == nil {
		cals = []model.Calendar{}
	}
	WriteJSON(w, http.StatusOK, cals)
}

type calendarRequest struct {
	Name string `json:"name"`
}

// CreateCalendar handles POST /api/calendars
func (h *CalendarEventHandler) CreateCalendar(w http.ResponseWriter, r *http.Request) {
	var req calendarRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	cal, err := h.events.CreateCalendar(r.Context(), name)
	if err != nil {
		h.logger.Error("create calendar", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create calendar")
		return
	}
	WriteJSON(w, http.StatusCreated, cal)
}

func (h *CalendarEventHandler) existing(w http.ResponseWriter, r *http.Request) (*model.CalendarEvent, bool) {
	event, err := h.events.Lookup(r.Context(), r.PathValue("uid"))
	if err != nil {
		h.logger.Error("get calendar event", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get event")
		return nil, false
	}
	if event == nil {
		writeError(w, http.StatusNotFound, "event not found")
		return nil, false
	}
	return event, true
}

func (h *CalendarEventHandler) mutationError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, store.ErrEventNotFound) {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	h.logger.Error(op+" calendar event", "error", err)
	writeError(w, http.StatusInternalServerError, "failed to "+op+" event")
}
