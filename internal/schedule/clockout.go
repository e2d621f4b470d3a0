// Package schedule runs the daily auto clock-out.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/timekeeper/internal/accounting"
	"github.com/goodtune/timekeeper/internal/clock"
	"github.com/goodtune/timekeeper/internal/metrics"
	"github.com/goodtune/timekeeper/internal/storage"
	"github.com/rs/zerolog"
)

// ClockOutFunc is called for each session the scheduler closed.
type ClockOutFunc func(ctx context.Context, session storage.Session)

// ClockOutScheduler closes sessions left open past a daily cutoff.
type ClockOutScheduler struct {
	sessions   storage.SessionStore
	engine     *accounting.Engine
	clock      clock.Clock
	cutoff     time.Time // Time of day to clock out (only hour and minute are used)
	onClockOut ClockOutFunc
	logger     zerolog.Logger
	stopChan   chan struct{}
	done       chan struct{}
}

// NewClockOutScheduler creates a scheduler for the HH:MM cutoff.
func NewClockOutScheduler(sessions storage.SessionStore, engine *accounting.Engine, clk clock.Clock, cutoff string, logger zerolog.Logger) (*ClockOutScheduler, error) {
	parsed, err := time.Parse("15:04", cutoff)
	if err != nil {
		return nil, fmt.Errorf("invalid clock-out time %q: %w", cutoff, err)
	}
	if clk == nil {
		clk = clock.RealClock{}
	}

	return &ClockOutScheduler{
		sessions: sessions,
		engine:   engine,
		clock:    clk,
		cutoff:   parsed,
		logger:   logger.With().Str("component", "clockout-scheduler").Logger(),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// OnClockOut registers fn to run after each auto clock-out. It must be
// called before Start.
func (s *ClockOutScheduler) OnClockOut(fn ClockOutFunc) {
	s.onClockOut = fn
}

// Start begins the scheduler
func (s *ClockOutScheduler) Start() {
	go s.run()
	s.logger.Info().
		Str("cutoff", s.cutoff.Format("15:04")).
		Msg("Daily auto clock-out scheduler started")
}

// Stop stops the scheduler and waits for a running clock-out to finish.
func (s *ClockOutScheduler) Stop() {
	close(s.stopChan)
	<-s.done
	s.logger.Info().Msg("Daily auto clock-out scheduler stopped")
}

func (s *ClockOutScheduler) run() {
	defer close(s.done)

	for {
		next := s.NextCutoff(s.clock.Now())
		wait := next.Sub(s.clock.Now())

		s.logger.Info().
			Time("next_cutoff", next).
			Dur("wait_duration", wait).
			Msg("Scheduled next auto clock-out")

		select {
		case <-time.After(wait):
			s.ClockOut(context.Background(), next)
		case <-s.stopChan:
			return
		}
	}
}

// NextCutoff returns the first cutoff strictly after now.
func (s *ClockOutScheduler) NextCutoff(now time.Time) time.Time {
	today := time.Date(
		now.Year(), now.Month(), now.Day(),
		s.cutoff.Hour(), s.cutoff.Minute(), 0, 0,
		now.Location(),
	)
	if !now.Before(today) {
		return today.AddDate(0, 0, 1)
	}
	return today
}

// ClockOut ends every session opened before cutoff, clocking it out at
// cutoff. Sessions opened after the cutoff are left alone. It returns how
// many sessions were closed.
func (s *ClockOutScheduler) ClockOut(ctx context.Context, cutoff time.Time) int {
	open, err := s.sessions.ListOpen(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list open sessions for auto clock-out")
		return 0
	}

	closed := 0
	for _, session := range open {
		if !session.ClockIn.Before(cutoff) {
			continue
		}
		work, err := s.engine.EndSession(ctx, session.ID, cutoff)
		if err != nil {
			s.logger.Error().Err(err).Str("session_id", session.ID).Msg("Auto clock-out failed")
			continue
		}
		metrics.AutoClockOuts.Inc()
		s.logger.Info().
			Str("session_id", session.ID).
			Str("account_id", session.AccountID).
			Int("work_minutes", work).
			Msg("Session auto clocked out")
		closed++

		if s.onClockOut != nil {
			clockOut := cutoff
			session.ClockOut = &clockOut
			session.TotalWorkMinutes = work
			s.onClockOut(ctx, session)
		}
	}

	s.logger.Info().Int("closed", closed).Time("cutoff", cutoff).Msg("Auto clock-out complete")
	return closed
}
