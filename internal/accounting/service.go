package accounting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/timekeeper/internal/storage"
)

// ClockIn returns the account's open session if it has one, otherwise it
// starts a new session at the current time. The bool reports a resume.
func (e *Engine) ClockIn(ctx context.Context, accountID, deviceID string) (*storage.Session, bool, error) {
	existing, err := e.store.Sessions().OpenForAccount(ctx, accountID)
	switch {
	case err == nil:
		e.logger.Info().
			Str("session_id", existing.ID).
			Str("account_id", accountID).
			Msg("Resuming open session")
		return existing, true, nil
	case !errors.Is(err, storage.ErrNotFound):
		return nil, false, fmt.Errorf("failed to look up open session: %w", err)
	}

	id, err := e.StartSession(ctx, accountID, e.clock.Now(), deviceID)
	if err != nil {
		return nil, false, err
	}
	session, err := e.store.Sessions().Get(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load new session: %w", err)
	}
	return session, false, nil
}

// CloseAllOpen ends every open session of an account at clockOut and returns
// how many were closed. It stops at the first failure.
func (e *Engine) CloseAllOpen(ctx context.Context, accountID string, clockOut time.Time) (int, error) {
	sessions, err := e.store.Sessions().List(ctx, storage.SessionFilter{AccountID: accountID, OpenOnly: true})
	if err != nil {
		return 0, fmt.Errorf("failed to list open sessions: %w", err)
	}

	closed := 0
	for _, session := range sessions {
		if _, err := e.EndSession(ctx, session.ID, clockOut); err != nil {
			return closed, err
		}
		closed++
	}

	if closed > 0 {
		e.logger.Info().Str("account_id", accountID).Int("count", closed).Msg("Auto clock-out completed")
	}
	return closed, nil
}

// PurgeAccount deletes the events of the account's sessions, then the
// sessions, then the account itself.
func (e *Engine) PurgeAccount(ctx context.Context, accountID string) error {
	owned, err := e.store.Sessions().List(ctx, storage.SessionFilter{AccountID: accountID})
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	ids := make([]string, len(owned))
	for i, session := range owned {
		ids[i] = session.ID
	}

	events, err := e.store.Events().DeleteForSessions(ctx, ids...)
	if err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}

	sessions, err := e.store.Sessions().DeleteForAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to delete sessions: %w", err)
	}

	if err := e.store.Accounts().Delete(ctx, accountID); err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}

	e.logger.Info().
		Str("account_id", accountID).
		Int("events", events).
		Int("sessions", sessions).
		Msg("Account purged")
	return nil
}

// Summary is a session with its derived minutes.
type Summary struct {
	storage.Session
	IdleMinutes         int  `json:"idle_minutes"`
	TotalMinutes        int  `json:"total_minutes"`
	WorkMinutes         int  `json:"work_minutes"`
	IsIdle              bool `json:"is_idle"`
	CurrentIdleDuration int  `json:"current_idle_minutes"`
}

// SessionSummary derives the minutes of one session. Open sessions are
// measured up to now and use live sleep minutes; closed sessions report
// their stored values.
func (e *Engine) SessionSummary(ctx context.Context, sessionID string) (*Summary, error) {
	session, err := e.store.Sessions().Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	return e.Summarize(ctx, *session), nil
}

// Summarize derives the minutes of a loaded session.
func (e *Engine) Summarize(ctx context.Context, session storage.Session) *Summary {
	summary := &Summary{Session: session}
	summary.IdleMinutes = e.IdleMinutes(ctx, session.ID)

	if session.Open() {
		summary.SleepMinutes = e.SleepMinutes(ctx, session.ID)
		summary.TotalMinutes = Minutes(e.clock.Now().Sub(session.ClockIn))
		summary.WorkMinutes = WorkMinutes(session.ClockIn, e.clock.Now(), summary.SleepMinutes, summary.IdleMinutes)
		summary.IsIdle = e.IsCurrentlyIdle(ctx, session.ID)
		if summary.IsIdle {
			summary.CurrentIdleDuration = e.CurrentIdleDuration(ctx, session.ID)
		}
		return summary
	}

	summary.TotalMinutes = Minutes(session.ClockOut.Sub(session.ClockIn))
	summary.WorkMinutes = session.TotalWorkMinutes
	return summary
}
