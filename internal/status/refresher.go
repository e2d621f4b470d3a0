package status

import (
	"context"
	"sync"
	"time"

	"github.com/goodtune/timekeeper/internal/metrics"
	"github.com/rs/zerolog"
)

// DefaultRefreshInterval is how often the live status list is re-derived.
const DefaultRefreshInterval = 10 * time.Second

// Refresher periodically re-derives the active session list and keeps the
// latest snapshot for readers.
type Refresher struct {
	aggregator *Aggregator
	interval   time.Duration
	logger     zerolog.Logger
	stopChan   chan struct{}
	done       chan struct{}
	stopOnce   sync.Once

	mu        sync.RWMutex
	latest    []SessionStatus
	updatedAt time.Time
}

// NewRefresher creates a refresher. A non-positive interval uses the default.
func NewRefresher(aggregator *Aggregator, interval time.Duration, logger zerolog.Logger) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Refresher{
		aggregator: aggregator,
		interval:   interval,
		logger:     logger.With().Str("component", "status-refresher").Logger(),
		stopChan:   make(chan struct{}),
		latest:     []SessionStatus{},
	}
}

// Start refreshes once and then begins the refresh loop.
func (r *Refresher) Start(ctx context.Context) {
	r.Refresh(ctx)
	r.done = make(chan struct{})
	go r.run(ctx)
	r.logger.Info().Dur("interval", r.interval).Msg("Status refresher started")
}

// Stop ends the refresh loop and waits for it to exit.
func (r *Refresher) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopChan)
		if r.done != nil {
			<-r.done
		}
		r.logger.Info().Msg("Status refresher stopped")
	})
}

func (r *Refresher) run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Refresh(ctx)
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		}
	}
}

// Refresh re-derives the active list now and publishes it.
func (r *Refresher) Refresh(ctx context.Context) []SessionStatus {
	start := time.Now()
	statuses := r.aggregator.ListActiveSessionsWithStatus(ctx)
	metrics.StatusRefreshDuration.Observe(time.Since(start).Seconds())

	idle := 0
	for _, s := range statuses {
		if s.IsIdle {
			idle++
		}
	}
	metrics.ActiveSessions.Set(float64(len(statuses)))
	metrics.IdleSessions.Set(float64(idle))

	r.mu.Lock()
	r.latest = statuses
	r.updatedAt = r.aggregator.clock.Now()
	r.mu.Unlock()

	r.logger.Debug().Int("active", len(statuses)).Int("idle", idle).Msg("Status refreshed")
	return statuses
}

// Latest returns the most recent snapshot and when it was taken.
func (r *Refresher) Latest() ([]SessionStatus, time.Time) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest, r.updatedAt
}
