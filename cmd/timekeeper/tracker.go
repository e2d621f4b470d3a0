package main

import (
	"context"
	"sync"
	"time"

	"github.com/goodtune/timekeeper/internal/accounting"
	"github.com/goodtune/timekeeper/internal/monitor"
	"github.com/goodtune/timekeeper/internal/storage"
	"github.com/rs/zerolog"
)

// sessionTracker follows the session the agent is clocked in to and keeps
// the detectors on it.
type sessionTracker struct {
	engine        *accounting.Engine
	monitors      *monitor.Supervisor
	accountID     string
	deviceID      string
	idleThreshold time.Duration
	logger        zerolog.Logger

	mu        sync.Mutex
	sessionID string
}

func newSessionTracker(engine *accounting.Engine, monitors *monitor.Supervisor, account *storage.Account, sessionID, deviceID string, idleThreshold time.Duration, logger zerolog.Logger) *sessionTracker {
	return &sessionTracker{
		engine:        engine,
		monitors:      monitors,
		accountID:     account.ID,
		deviceID:      deviceID,
		idleThreshold: idleThreshold,
		logger:        logger.With().Str("component", "agent").Str("account_id", account.ID).Logger(),
		sessionID:     sessionID,
	}
}

// current returns the tracked session id.
func (t *sessionTracker) current() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// watch (re)starts the detectors on the tracked session.
func (t *sessionTracker) watch(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.monitors.Watch(ctx, t.accountID, t.sessionID, t.idleThreshold)
}

// sessionClosed moves the agent onto a fresh session when the tracked one
// was clocked out underneath it.
func (t *sessionTracker) sessionClosed(ctx context.Context, session storage.Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if session.AccountID != t.accountID || session.ID != t.sessionID {
		return
	}

	t.monitors.Unwatch(t.accountID, session.ID)

	next, _, err := t.engine.ClockIn(ctx, t.accountID, t.deviceID)
	if err != nil {
		t.logger.Error().Err(err).Str("closed_session_id", session.ID).Msg("Failed to clock in after auto clock-out")
		return
	}
	t.sessionID = next.ID
	t.monitors.Watch(ctx, t.accountID, next.ID, t.idleThreshold)

	t.logger.Info().
		Str("closed_session_id", session.ID).
		Str("session_id", next.ID).
		Time("clock_in", next.ClockIn).
		Msg("Clocked in to a new session after auto clock-out")
}
