// Package accounting derives worked, sleep and idle minutes for sessions
// from the append-only event log.
package accounting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/timekeeper/internal/clock"
	"github.com/goodtune/timekeeper/internal/metrics"
	"github.com/goodtune/timekeeper/internal/storage"
	"github.com/rs/zerolog"
)

// ErrInvalidEventType is returned when appending an event of unknown type.
var ErrInvalidEventType = errors.New("invalid event type")

// Engine computes session time accounting on top of a Store.
type Engine struct {
	store  storage.Store
	clock  clock.Clock
	logger zerolog.Logger
}

// NewEngine creates an accounting engine.
func NewEngine(store storage.Store, clk clock.Clock, logger zerolog.Logger) *Engine {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Engine{
		store:  store,
		clock:  clk,
		logger: logger.With().Str("component", "accounting").Logger(),
	}
}

// Now returns the engine's current time.
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

// StartSession opens a session for an account. It does not check for an
// existing open session; ClockIn does.
func (e *Engine) StartSession(ctx context.Context, accountID string, clockIn time.Time, deviceID string) (string, error) {
	id, err := e.store.Sessions().Create(ctx, storage.Session{
		AccountID:   accountID,
		ClockIn:     clockIn,
		SessionDate: clockIn.Format(storage.DateLayout),
		DeviceID:    deviceID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to start session: %w", err)
	}

	metrics.SessionsStarted.Inc()
	e.logger.Info().
		Str("session_id", id).
		Str("account_id", accountID).
		Str("device_id", deviceID).
		Time("clock_in", clockIn).
		Msg("Session started")

	return id, nil
}

// EndSession closes a session and returns its worked minutes. Sleep and
// worked minutes are persisted; idle minutes are derived on demand. An open
// idle interval is counted up to the engine clock, not clockOut.
func (e *Engine) EndSession(ctx context.Context, sessionID string, clockOut time.Time) (int, error) {
	session, err := e.store.Sessions().Get(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}

	sleep := e.SleepMinutes(ctx, sessionID)
	idle := e.IdleMinutes(ctx, sessionID)
	work := WorkMinutes(session.ClockIn, clockOut, sleep, idle)

	if err := e.store.Sessions().Close(ctx, sessionID, clockOut, work, sleep); err != nil {
		return 0, fmt.Errorf("failed to close session %s: %w", sessionID, err)
	}

	metrics.SessionsClosed.Inc()
	metrics.WorkMinutesRecorded.Observe(float64(work))
	e.logger.Info().
		Str("session_id", sessionID).
		Str("account_id", session.AccountID).
		Int("work_minutes", work).
		Int("sleep_minutes", sleep).
		Int("idle_minutes", idle).
		Msg("Session ended")

	return work, nil
}

// WorkMinutes is the elapsed whole minutes between clockIn and clockOut
// minus sleep and idle, floored at zero.
func WorkMinutes(clockIn, clockOut time.Time, sleep, idle int) int {
	total := Minutes(clockOut.Sub(clockIn))
	return max(0, total-sleep-idle)
}

// SleepMinutes returns the whole minutes of closed sleep intervals, or 0 if
// the events cannot be read.
func (e *Engine) SleepMinutes(ctx context.Context, sessionID string) int {
	events, err := e.store.Events().Query(ctx, sessionID, storage.EventSleep, storage.EventResume)
	if err != nil {
		e.failSoft("sleep_minutes", sessionID, err)
		return 0
	}
	return Minutes(FoldSleep(events))
}

// IdleMinutes returns the whole minutes of idle intervals including an open
// one, or 0 if the events cannot be read.
func (e *Engine) IdleMinutes(ctx context.Context, sessionID string) int {
	events, err := e.store.Events().Query(ctx, sessionID, storage.EventIdleStart, storage.EventIdleEnd)
	if err != nil {
		e.failSoft("idle_minutes", sessionID, err)
		return 0
	}
	return Minutes(FoldIdle(events, e.clock.Now()))
}

// IsCurrentlyIdle reports whether the session is open and its most recent
// idle event is an idle_start.
func (e *Engine) IsCurrentlyIdle(ctx context.Context, sessionID string) bool {
	_, idle := e.openIdleStart(ctx, sessionID, "is_idle")
	return idle
}

// CurrentIdleDuration returns the whole minutes since the open idle interval
// began, or 0 when the session is not idle.
func (e *Engine) CurrentIdleDuration(ctx context.Context, sessionID string) int {
	start, idle := e.openIdleStart(ctx, sessionID, "current_idle")
	if !idle {
		return 0
	}
	return max(0, Minutes(e.clock.Now().Sub(start)))
}

func (e *Engine) openIdleStart(ctx context.Context, sessionID, op string) (time.Time, bool) {
	session, err := e.store.Sessions().Get(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			e.failSoft(op, sessionID, err)
		}
		return time.Time{}, false
	}
	if !session.Open() {
		return time.Time{}, false
	}

	events, err := e.store.Events().Query(ctx, sessionID, storage.EventIdleStart, storage.EventIdleEnd)
	if err != nil {
		e.failSoft(op, sessionID, err)
		return time.Time{}, false
	}
	return lastIdleStart(events)
}

// AppendEvent records a sleep or idle boundary. A zero Time is stamped with
// the engine clock.
func (e *Engine) AppendEvent(ctx context.Context, event storage.Event) error {
	if !event.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidEventType, event.Type)
	}
	if event.SessionID == "" {
		return fmt.Errorf("event missing session id")
	}
	if event.Time.IsZero() {
		event.Time = e.clock.Now()
	}

	if err := e.store.Events().Append(ctx, event); err != nil {
		metrics.EventAppendErrors.WithLabelValues(string(event.Type)).Inc()
		return fmt.Errorf("failed to append %s event: %w", event.Type, err)
	}

	metrics.EventsAppended.WithLabelValues(string(event.Type), string(event.Source)).Inc()
	e.logger.Debug().
		Str("session_id", event.SessionID).
		Str("event_type", string(event.Type)).
		Str("source", string(event.Source)).
		Time("event_time", event.Time).
		Msg("Event recorded")

	return nil
}

// failSoft is the read-path policy: storage errors become zero values, but
// are logged and counted so they stay visible.
func (e *Engine) failSoft(op, sessionID string, err error) {
	metrics.FailSoft.WithLabelValues(op).Inc()
	e.logger.Warn().
		Err(err).
		Str("operation", op).
		Str("session_id", sessionID).
		Msg("Storage read failed, returning zero value")
}
