package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/goodtune/timekeeper/internal/accounting"
	"github.com/goodtune/timekeeper/internal/status"
	"github.com/goodtune/timekeeper/internal/storage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Snapshotter provides a periodically refreshed active session list.
type Snapshotter interface {
	Latest() ([]status.SessionStatus, time.Time)
}

// SessionsHandler handles session-related API requests.
type SessionsHandler struct {
	engine     *accounting.Engine
	aggregator *status.Aggregator
	snapshots  Snapshotter
	logger     zerolog.Logger
}

// NewSessionsHandler creates a new sessions handler. When snapshots is nil
// the active list is derived on every request.
func NewSessionsHandler(engine *accounting.Engine, aggregator *status.Aggregator, snapshots Snapshotter, logger zerolog.Logger) *SessionsHandler {
	return &SessionsHandler{
		engine:     engine,
		aggregator: aggregator,
		snapshots:  snapshots,
		logger:     logger.With().Str("handler", "sessions").Logger(),
	}
}

// ListActiveSessions returns every open session with its live status.
func (h *SessionsHandler) ListActiveSessions(w http.ResponseWriter, r *http.Request) {
	var (
		sessions  []status.SessionStatus
		updatedAt time.Time
	)
	if h.snapshots != nil {
		sessions, updatedAt = h.snapshots.Latest()
	} else {
		sessions = h.aggregator.ListActiveSessionsWithStatus(r.Context())
		updatedAt = h.engine.Now()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions":   sessions,
		"count":      len(sessions),
		"updated_at": updatedAt,
	})
}

// ListSessions returns the session history, optionally bounded by the
// from and to query parameters.
func (h *SessionsHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	dateRange, err := status.ParseDateRange(query.Get("from"), query.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessions := h.aggregator.ListSessions(r.Context(), dateRange)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// GetSession returns the summary of a session.
func (h *SessionsHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	summary, err := h.engine.SessionSummary(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		h.logger.Error().Err(err).Str("id", id).Msg("Failed to get session")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve session")
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// CloseSession clocks a session out at the current time.
func (h *SessionsHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	summary, err := h.engine.SessionSummary(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		h.logger.Error().Err(err).Str("id", id).Msg("Failed to get session")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve session")
		return
	}
	if !summary.Open() {
		writeError(w, http.StatusConflict, "Session is already closed")
		return
	}

	work, err := h.engine.EndSession(ctx, id, h.engine.Now())
	if err != nil {
		h.logger.Error().Err(err).Str("id", id).Msg("Failed to close session")
		writeError(w, http.StatusInternalServerError, "Failed to close session")
		return
	}

	h.logger.Info().Str("id", id).Str("account_id", summary.AccountID).Int("work_minutes", work).Msg("Session closed by admin")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":      "Session closed successfully",
		"work_minutes": work,
	})
}
