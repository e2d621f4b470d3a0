package monitor

import (
	"context"
	"sync"

	"github.com/goodtune/timekeeper/internal/clock"
	"github.com/goodtune/timekeeper/internal/metrics"
	"github.com/goodtune/timekeeper/internal/storage"
	"github.com/rs/zerolog"
)

// classify maps a signal to the sleep event it produces. Power and lock
// signals are recorded independently; nothing is deduplicated.
func classify(kind SignalKind) (storage.EventType, storage.Source, bool) {
	switch kind {
	case SignalSuspend:
		return storage.EventSleep, storage.SourceSystem, true
	case SignalResume:
		return storage.EventResume, storage.SourceSystem, true
	case SignalLock:
		return storage.EventSleep, storage.SourceUser, true
	case SignalUnlock:
		return storage.EventResume, storage.SourceUser, true
	}
	return "", "", false
}

// SleepDetector turns signals from its sources into sleep and resume events
// for one session. Each source runs in its own goroutine.
type SleepDetector struct {
	accountID string
	sessionID string
	sources   []SignalSource
	sink      EventSink
	clock     clock.Clock
	logger    zerolog.Logger

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  int
	stopOnce sync.Once
}

// NewSleepDetector creates a detector over the given sources.
func NewSleepDetector(accountID, sessionID string, sources []SignalSource, sink EventSink, clk clock.Clock, logger zerolog.Logger) *SleepDetector {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &SleepDetector{
		accountID: accountID,
		sessionID: sessionID,
		sources:   sources,
		sink:      sink,
		clock:     clk,
		logger:    logger.With().Str("component", "sleep-detector").Str("session_id", sessionID).Logger(),
	}
}

// Start begins watching every source. Sources that cannot be watched are
// logged and skipped; Start returns the number of sources running.
func (d *SleepDetector) Start(ctx context.Context) int {
	watchCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	for _, source := range d.sources {
		signals, err := source.Watch(watchCtx)
		if err != nil {
			metrics.DetectorSetupFailures.WithLabelValues("sleep_" + source.Name()).Inc()
			d.logger.Warn().Err(err).Str("source", source.Name()).Msg("Sleep source unavailable")
			continue
		}
		d.running++
		d.wg.Add(1)
		go d.consume(watchCtx, source.Name(), signals)
	}

	d.logger.Info().Int("sources", d.running).Msg("Sleep detector started")
	return d.running
}

func (d *SleepDetector) consume(ctx context.Context, name string, signals <-chan Signal) {
	defer d.wg.Done()
	for signal := range signals {
		d.record(ctx, name, signal)
	}
}

func (d *SleepDetector) record(ctx context.Context, name string, signal Signal) {
	defer signal.Release()

	typ, source, ok := classify(signal.Kind)
	if !ok {
		return
	}
	at := signal.Time
	if at.IsZero() {
		at = d.clock.Now()
	}

	err := d.sink.AppendEvent(ctx, storage.Event{
		AccountID: d.accountID,
		SessionID: d.sessionID,
		Type:      typ,
		Time:      at,
		Source:    source,
	})
	if err != nil {
		d.logger.Error().Err(err).Str("source", name).Str("signal", signal.Kind.String()).Msg("Failed to record sleep event")
		return
	}
	d.logger.Debug().Str("source", name).Str("signal", signal.Kind.String()).Msg("Sleep transition")
}

// Stop cancels every watch and waits for the consumers to drain.
func (d *SleepDetector) Stop() {
	d.stopOnce.Do(func() {
		if d.cancel != nil {
			d.cancel()
		}
		d.wg.Wait()
		d.logger.Info().Msg("Sleep detector stopped")
	})
}
