package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/timekeeper/internal/clock"
	"github.com/goodtune/timekeeper/internal/metrics"
	"github.com/goodtune/timekeeper/internal/storage"
	"github.com/rs/zerolog"
)

const (
	// DefaultIdleThreshold is the input-idle time after which a session counts as idle.
	DefaultIdleThreshold = 5 * time.Minute

	// DefaultPollInterval is how often the idle source is sampled.
	DefaultPollInterval = 10 * time.Second

	finalizeTimeout = 5 * time.Second
)

// EventSink receives the events produced by detectors.
type EventSink interface {
	AppendEvent(ctx context.Context, event storage.Event) error
}

// IdleConfig configures an IdleDetector.
type IdleConfig struct {
	Threshold    time.Duration
	PollInterval time.Duration
}

// IdleStatus is a snapshot of an idle detector.
type IdleStatus struct {
	IsIdle             bool `json:"is_idle"`
	TotalIdleMinutes   int  `json:"total_idle_minutes"`
	CurrentIdleSeconds int  `json:"current_idle_seconds"`
}

// IdleDetector tracks the Active/Idle state of one session by polling an
// IdleSource and emits idle_start and idle_end events on transitions.
type IdleDetector struct {
	accountID string
	sessionID string
	source    IdleSource
	sink      EventSink
	clock     clock.Clock
	config    IdleConfig
	logger    zerolog.Logger

	mu          sync.Mutex
	idle        bool
	idleStart   time.Time
	accumulated time.Duration

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewIdleDetector creates a detector in the Active state.
func NewIdleDetector(accountID, sessionID string, source IdleSource, sink EventSink, clk clock.Clock, cfg IdleConfig, logger zerolog.Logger) *IdleDetector {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultIdleThreshold
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &IdleDetector{
		accountID: accountID,
		sessionID: sessionID,
		source:    source,
		sink:      sink,
		clock:     clk,
		config:    cfg,
		logger: logger.With().
			Str("component", "idle-detector").
			Str("session_id", sessionID).
			Str("source", source.Name()).
			Logger(),
	}
}

// Start samples the source once and, if that works, starts the polling loop.
// A failing first sample is returned and nothing is started.
func (d *IdleDetector) Start(ctx context.Context) error {
	if err := d.Sample(ctx); err != nil {
		return fmt.Errorf("probe idle source: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})

	go d.loop(loopCtx)

	d.logger.Info().
		Dur("threshold", d.config.Threshold).
		Dur("poll_interval", d.config.PollInterval).
		Msg("Idle detector started")
	return nil
}

func (d *IdleDetector) loop(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Sample(ctx); err != nil && ctx.Err() == nil {
				metrics.IdleSampleErrors.Inc()
				d.logger.Warn().Err(err).Msg("Idle sample failed")
			}
		}
	}
}

// Sample reads the idle source once and applies any state transition.
func (d *IdleDetector) Sample(ctx context.Context) error {
	idleFor, err := d.source.IdleDuration(ctx)
	if err != nil {
		return err
	}
	d.observe(ctx, idleFor)
	return nil
}

func (d *IdleDetector) observe(ctx context.Context, idleFor time.Duration) {
	d.mu.Lock()
	now := d.clock.Now()

	var emit storage.EventType
	switch {
	case !d.idle && idleFor >= d.config.Threshold:
		d.idle = true
		d.idleStart = now
		emit = storage.EventIdleStart
	case d.idle && idleFor < d.config.Threshold:
		d.accumulated += now.Sub(d.idleStart)
		d.idle = false
		d.idleStart = time.Time{}
		emit = storage.EventIdleEnd
	}
	d.mu.Unlock()

	if emit != "" {
		d.emit(ctx, emit, now)
	}
}

// Stop halts the polling loop and waits for it to exit. An open idle
// interval is closed with an idle_end event and the source is closed.
// Stop is safe to call twice.
func (d *IdleDetector) Stop() {
	d.stopOnce.Do(func() {
		if d.cancel != nil {
			d.cancel()
			<-d.done
		}

		d.mu.Lock()
		wasIdle := d.idle
		now := d.clock.Now()
		if wasIdle {
			d.accumulated += now.Sub(d.idleStart)
			d.idle = false
			d.idleStart = time.Time{}
		}
		d.mu.Unlock()

		if wasIdle {
			ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
			d.emit(ctx, storage.EventIdleEnd, now)
			cancel()
		}

		if err := d.source.Close(); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to close idle source")
		}

		d.logger.Info().Bool("finalized_idle", wasIdle).Msg("Idle detector stopped")
	})
}

// Status returns the current state. Total idle minutes include the interval
// in progress; current idle seconds is a live sample while idle.
func (d *IdleDetector) Status(ctx context.Context) IdleStatus {
	d.mu.Lock()
	idle := d.idle
	total := d.accumulated
	if idle {
		total += d.clock.Now().Sub(d.idleStart)
	}
	d.mu.Unlock()

	status := IdleStatus{
		IsIdle:           idle,
		TotalIdleMinutes: int(total / time.Minute),
	}
	if idle {
		if current, err := d.source.IdleDuration(ctx); err == nil {
			status.CurrentIdleSeconds = int(current / time.Second)
		}
	}
	return status
}

func (d *IdleDetector) emit(ctx context.Context, typ storage.EventType, at time.Time) {
	err := d.sink.AppendEvent(ctx, storage.Event{
		AccountID: d.accountID,
		SessionID: d.sessionID,
		Type:      typ,
		Time:      at,
		Source:    storage.SourceIdle,
	})
	if err != nil {
		d.logger.Error().Err(err).Str("event_type", string(typ)).Msg("Failed to record idle event")
		return
	}
	d.logger.Debug().Str("event_type", string(typ)).Msg("Idle transition")
}
