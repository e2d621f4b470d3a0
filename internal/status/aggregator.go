// Package status derives the live and historical session views shown to
// administrators.
package status

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/goodtune/timekeeper/internal/accounting"
	"github.com/goodtune/timekeeper/internal/clock"
	"github.com/goodtune/timekeeper/internal/metrics"
	"github.com/goodtune/timekeeper/internal/storage"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// UnknownDevice is shown for sessions without a device id.
const UnknownDevice = "Unknown"

const (
	defaultConcurrency     = 8
	defaultAccountCacheTTL = 30 * time.Second
	accountCacheSize       = 1024
)

// Options tunes an Aggregator.
type Options struct {
	// Concurrency bounds the per-session derivations run in parallel.
	Concurrency int
	// AccountCacheTTL is how long a username lookup is reused.
	AccountCacheTTL time.Duration
}

// SessionStatus is one open session with its live derived minutes.
type SessionStatus struct {
	SessionID           string    `json:"session_id"`
	AccountID           string    `json:"account_id"`
	Username            string    `json:"username"`
	DeviceID            string    `json:"device_id"`
	ClockIn             time.Time `json:"clock_in"`
	SessionDate         string    `json:"session_date"`
	SleepMinutes        int       `json:"sleep_minutes"`
	IdleMinutes         int       `json:"idle_minutes"`
	IsIdle              bool      `json:"is_idle"`
	CurrentIdleDuration int       `json:"current_idle_minutes"`
	TotalMinutes        int       `json:"total_minutes"`
	WorkMinutes         int       `json:"work_minutes"`
}

// Aggregator joins sessions with accounts and the accounting engine.
type Aggregator struct {
	store       storage.Store
	engine      *accounting.Engine
	clock       clock.Clock
	logger      zerolog.Logger
	concurrency int
	usernames   *expirable.LRU[string, string]
}

// NewAggregator creates an Aggregator.
func NewAggregator(store storage.Store, engine *accounting.Engine, clk clock.Clock, logger zerolog.Logger, opts Options) *Aggregator {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.AccountCacheTTL <= 0 {
		opts.AccountCacheTTL = defaultAccountCacheTTL
	}
	return &Aggregator{
		store:       store,
		engine:      engine,
		clock:       clk,
		logger:      logger.With().Str("component", "status").Logger(),
		concurrency: opts.Concurrency,
		usernames:   expirable.NewLRU[string, string](accountCacheSize, nil, opts.AccountCacheTTL),
	}
}

// ListActiveSessionsWithStatus returns every open session, newest clock-in
// first. Sessions whose account is gone are left out. Errors yield an
// empty list.
func (a *Aggregator) ListActiveSessionsWithStatus(ctx context.Context) []SessionStatus {
	statuses, err := a.listActive(ctx)
	if err != nil {
		metrics.FailSoft.WithLabelValues("list_active_sessions").Inc()
		a.logger.Warn().Err(err).Msg("Failed to list active sessions")
		return []SessionStatus{}
	}
	return statuses
}

func (a *Aggregator) listActive(ctx context.Context) ([]SessionStatus, error) {
	sessions, err := a.store.Sessions().ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("list open sessions: %w", err)
	}

	now := a.clock.Now()
	results := make([]*SessionStatus, len(sessions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, session := range sessions {
		g.Go(func() error {
			username, ok, err := a.username(gctx, session.AccountID)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			results[i] = a.derive(gctx, session, username, now)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	statuses := make([]SessionStatus, 0, len(results))
	for _, status := range results {
		if status != nil {
			statuses = append(statuses, *status)
		}
	}
	sort.SliceStable(statuses, func(i, j int) bool {
		return statuses[i].ClockIn.After(statuses[j].ClockIn)
	})
	return statuses, nil
}

func (a *Aggregator) derive(ctx context.Context, session storage.Session, username string, now time.Time) *SessionStatus {
	status := &SessionStatus{
		SessionID:   session.ID,
		AccountID:   session.AccountID,
		Username:    username,
		DeviceID:    DeviceLabel(session.DeviceID),
		ClockIn:     session.ClockIn,
		SessionDate: session.SessionDate,
	}
	status.SleepMinutes = a.engine.SleepMinutes(ctx, session.ID)
	status.IdleMinutes = a.engine.IdleMinutes(ctx, session.ID)
	status.IsIdle = a.engine.IsCurrentlyIdle(ctx, session.ID)
	if status.IsIdle {
		status.CurrentIdleDuration = a.engine.CurrentIdleDuration(ctx, session.ID)
	}
	status.TotalMinutes = max(0, accounting.Minutes(now.Sub(session.ClockIn)))
	status.WorkMinutes = accounting.WorkMinutes(session.ClockIn, now, status.SleepMinutes, status.IdleMinutes)
	return status
}

// username resolves an account's username through the cache. The bool is
// false when the account does not exist.
func (a *Aggregator) username(ctx context.Context, accountID string) (string, bool, error) {
	if name, ok := a.usernames.Get(accountID); ok {
		return name, true, nil
	}
	account, err := a.store.Accounts().Get(ctx, accountID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get account %s: %w", accountID, err)
	}
	a.usernames.Add(accountID, account.Username)
	return account.Username, true, nil
}

// Forget drops a cached username, for use after an account changes.
func (a *Aggregator) Forget(accountID string) {
	a.usernames.Remove(accountID)
}

// DeviceLabel returns the device id for display, or UnknownDevice when empty.
func DeviceLabel(id string) string {
	if id == "" {
		return UnknownDevice
	}
	return id
}
