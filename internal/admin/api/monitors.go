package api

import (
	"context"
	"net/http"

	"github.com/goodtune/timekeeper/internal/monitor"
	"github.com/gorilla/mux"
)

// IdleStatusProvider reports the in-process idle state of a session.
type IdleStatusProvider interface {
	IdleStatus(ctx context.Context, accountID, sessionID string) monitor.IdleStatus
}

// MonitorsHandler exposes detector state.
type MonitorsHandler struct {
	provider IdleStatusProvider
}

// NewMonitorsHandler creates a monitors handler. A nil provider means this
// process runs no detectors.
func NewMonitorsHandler(provider IdleStatusProvider) *MonitorsHandler {
	return &MonitorsHandler{provider: provider}
}

// GetIdleStatus returns the idle detector status of a session. Sessions
// without a detector report the zero status.
func (h *MonitorsHandler) GetIdleStatus(w http.ResponseWriter, r *http.Request) {
	if h.provider == nil {
		writeError(w, http.StatusNotFound, "No detectors run in this process")
		return
	}

	vars := mux.Vars(r)
	writeJSON(w, http.StatusOK, h.provider.IdleStatus(r.Context(), vars["account"], vars["session"]))
}
