package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/overlap/internal/backup"
)

type BackupHandler struct {
	manager *backup.Manager
	logger  *slog.Logger
}

func NewBackupHandler(m *backup.Manager, logger *slog.Logger) *BackupHandler {
	return &BackupHandler{manager: m, logger: logger}
}

// List handles GET /api/backups
func (h *BackupHandler) List(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.manager.List(r.Context())
	if err != nil {
		h.logger.Error("list backups", "error", err)
		writeError(w, http.StatusBadGateway, "failed to list backups")
		return
	}
	if snaps == nil {
		snaps = []backup.Snapshot{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":    h.manager.Status(),
		"snapshots": snaps,
	})
}

// Run handles POST /api/backups
func (h *BackupHandler) Run(w http.ResponseWriter, r *http.Request) {
	snap, err := h.manager.Run(r.Context())
	if err != nil {
		h.logger.Error("run backup", "error", err)
		writeError(w, http.StatusBadGateway, "backup failed")
		return
	}
	WriteJSON(w, http.StatusCreated, snap)
}
