package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/overlap/internal/app"
	"github.com/dukerupert/overlap/internal/handler"
	"github.com/dukerupert/overlap/internal/middleware"
	ws "github.com/dukerupert/overlap/internal/websocket"
)

const (
	hintRateLimit  = 60
	hintRateWindow = time.Minute
)

type Server struct {
	app            *app.App
	hintH          *handler.HintHandler
	conflictH      *handler.ConflictHandler
	calendarEventH *handler.CalendarEventHandler
	pushH          *handler.PushHandler
	backupH        *handler.BackupHandler
	rateLimiter    *middleware.RateLimiter
	logger         *slog.Logger
}

func New(a *app.App, logger *slog.Logger) *Server {
	s := &Server{
		app:            a,
		hintH:          handler.NewHintHandler(a.Coordinator, logger.With("component", "hint")),
		conflictH:      handler.NewConflictHandler(a.Conflicts, a.Resolver, logger.With("component", "conflict")),
		calendarEventH: handler.NewCalendarEventHandler(a.Events, a.Hub, logger.With("component", "calendar")),
		rateLimiter:    middleware.NewRateLimiter(),
		logger:         logger,
	}
	if a.PushService != nil {
		s.pushH = handler.NewPushHandler(a.Pushes, a.PushService, a.Notifier, logger.With("component", "push_handler"))
	}
	if a.Backup.Enabled() {
		s.backupH = handler.NewBackupHandler(a.Backup, logger.With("component", "backup_handler"))
	}
	return s
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()
	requireToken := middleware.RequireToken(s.app.Config.APITokenHash, s.logger.With("component", "auth"))

	// Public routes
	outerMux.HandleFunc("GET /health", s.healthHandler)

	// Hints are rate limited ahead of the token check.
	hints := middleware.RateLimit(s.rateLimiter, middleware.ByIP, hintRateLimit, hintRateWindow)(
		requireToken(http.HandlerFunc(s.hintH.Create)))
	outerMux.Handle("POST /api/hints", hints)

	// Everything else requires the API token
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)
	outerMux.Handle("/", requireToken(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.app.Hub, s.app.Config.AllowedOrigins, s.logger.With("component", "websocket")))

	// Conflict routes
	mux.HandleFunc("GET /api/conflicts", s.conflictH.List)
	mux.HandleFunc("GET /api/conflicts/{id}", s.conflictH.Get)
	mux.HandleFunc("POST /api/conflicts/{id}/resolve", s.conflictH.Resolve)

	// Calendar routes
	mux.HandleFunc("GET /api/calendars", s.calendarEventH.Calendars)
	mux.HandleFunc("POST /api/calendars", s.calendarEventH.CreateCalendar)
	mux.HandleFunc("POST /api/events", s.calendarEventH.Create)
	mux.HandleFunc("GET /api/events", s.calendarEventH.List)
	mux.HandleFunc("GET /api/events/{uid}", s.calendarEventH.Get)
	mux.HandleFunc("PUT /api/events/{uid}", s.calendarEventH.Update)
	mux.HandleFunc("DELETE /api/events/{uid}", s.calendarEventH.Delete)

	// Push notification routes
	if s.pushH != nil {
		mux.HandleFunc("POST /api/push/subscribe", s.pushH.Subscribe)
		mux.HandleFunc("DELETE /api/push/subscriptions/{id}", s.pushH.Unsubscribe)
		mux.HandleFunc("GET /api/push/subscriptions", s.pushH.ListSubscriptions)
		mux.HandleFunc("GET /api/push/vapid-key", s.pushH.GetVAPIDKey)
		mux.HandleFunc("POST /api/push/test", s.pushH.TestNotification)
	}

	// Backup routes
	if s.backupH != nil {
		mux.HandleFunc("GET /api/backups", s.backupH.List)
		mux.HandleFunc("POST /api/backups", s.backupH.Run)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{
		"status":     "ok",
		"unresolved": len(s.app.Conflicts.List(true)),
		"clients":    s.app.Hub.ClientCount(),
		"backup":     s.app.Backup.Status(),
	}
	if err := s.app.DB.PingContext(r.Context()); err != nil {
		s.logger.Error("health check", "error", err)
		status = http.StatusServiceUnavailable
		body["status"] = "unavailable"
	}
	handler.WriteJSON(w, status, body)
}
