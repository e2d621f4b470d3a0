package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/timekeeper/internal/metrics"
	"github.com/goodtune/timekeeper/internal/storage"
)

// ErrInvalidDateRange is returned by ParseDateRange.
var ErrInvalidDateRange = errors.New("invalid date range")

// DateRange is an inclusive range of session dates. The zero value
// matches every session.
type DateRange struct {
	From time.Time
	To   time.Time
}

// IsZero reports whether the range is unbounded.
func (r DateRange) IsZero() bool {
	return r.From.IsZero() && r.To.IsZero()
}

func (r DateRange) filter() storage.SessionFilter {
	var filter storage.SessionFilter
	if !r.From.IsZero() {
		from := r.From
		filter.From = &from
	}
	if !r.To.IsZero() {
		to := r.To
		filter.To = &to
	}
	return filter
}

// ParseDateRange validates a from/to pair of YYYY-MM-DD dates. Both must
// be given or both left empty.
func ParseDateRange(from, to string) (DateRange, error) {
	if from == "" && to == "" {
		return DateRange{}, nil
	}
	if from == "" || to == "" {
		return DateRange{}, fmt.Errorf("%w: both from and to dates are required", ErrInvalidDateRange)
	}

	fromDate, err := time.Parse(storage.DateLayout, from)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: from date must be YYYY-MM-DD", ErrInvalidDateRange)
	}
	toDate, err := time.Parse(storage.DateLayout, to)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: to date must be YYYY-MM-DD", ErrInvalidDateRange)
	}
	if fromDate.After(toDate) {
		return DateRange{}, fmt.Errorf("%w: from date is after to date", ErrInvalidDateRange)
	}
	return DateRange{From: fromDate, To: toDate}, nil
}

// SessionReport is one row of the session history.
type SessionReport struct {
	SessionID        string     `json:"session_id"`
	AccountID        string     `json:"account_id"`
	Username         string     `json:"username"`
	DeviceID         string     `json:"device_id"`
	SessionDate      string     `json:"session_date"`
	ClockIn          time.Time  `json:"clock_in"`
	ClockOut         *time.Time `json:"clock_out,omitempty"`
	Open             bool       `json:"open"`
	TotalWorkMinutes int        `json:"total_work_minutes"`
	SleepMinutes     int        `json:"sleep_minutes"`
	IdleMinutes      int        `json:"idle_minutes"`
}

// ListSessions returns the session history within r, newest session date
// first. Open sessions report live sleep minutes. Errors yield an empty list.
func (a *Aggregator) ListSessions(ctx context.Context, r DateRange) []SessionReport {
	reports, err := a.listSessions(ctx, r)
	if err != nil {
		metrics.FailSoft.WithLabelValues("list_sessions").Inc()
		a.logger.Warn().Err(err).Msg("Failed to list sessions")
		return []SessionReport{}
	}
	return reports
}

func (a *Aggregator) listSessions(ctx context.Context, r DateRange) ([]SessionReport, error) {
	sessions, err := a.store.Sessions().List(ctx, r.filter())
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	storage.SortSessionsNewestFirst(sessions)

	reports := make([]SessionReport, 0, len(sessions))
	for _, session := range sessions {
		username, ok, err := a.username(ctx, session.AccountID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		report := SessionReport{
			SessionID:        session.ID,
			AccountID:        session.AccountID,
			Username:         username,
			DeviceID:         DeviceLabel(session.DeviceID),
			SessionDate:      session.SessionDate,
			ClockIn:          session.ClockIn,
			ClockOut:         session.ClockOut,
			Open:             session.Open(),
			TotalWorkMinutes: session.TotalWorkMinutes,
			SleepMinutes:     session.SleepMinutes,
			IdleMinutes:      a.engine.IdleMinutes(ctx, session.ID),
		}
		if report.Open {
			report.SleepMinutes = a.engine.SleepMinutes(ctx, session.ID)
		}
		reports = append(reports, report)
	}
	return reports, nil
}
