package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/goodtune/timekeeper/internal/clock"
	"github.com/goodtune/timekeeper/internal/metrics"
	"github.com/rs/zerolog"
)

// SupervisorConfig selects the sources and tuning of the detectors a
// Supervisor starts.
type SupervisorConfig struct {
	Idle         IdleConfig
	IdleSource   string
	SleepSources []string
}

type sessionKey struct {
	accountID string
	sessionID string
}

// Supervisor owns the running detectors, keyed by account and session.
type Supervisor struct {
	sink   EventSink
	clock  clock.Clock
	config SupervisorConfig
	logger zerolog.Logger

	// Source factories; replaced in tests.
	idleSource    func(ctx context.Context) (IdleSource, error)
	signalSources func() []SignalSource

	// Detectors outlive the request that started them.
	ctx context.Context

	mu    sync.Mutex
	idle  map[sessionKey]*IdleDetector
	sleep map[sessionKey]*SleepDetector
}

// NewSupervisor creates a supervisor with no running detectors.
func NewSupervisor(sink EventSink, clk clock.Clock, cfg SupervisorConfig, logger zerolog.Logger) *Supervisor {
	if clk == nil {
		clk = clock.RealClock{}
	}
	s := &Supervisor{
		sink:   sink,
		clock:  clk,
		config: cfg,
		logger: logger.With().Str("component", "monitor").Logger(),
		ctx:    context.Background(),
		idle:   make(map[sessionKey]*IdleDetector),
		sleep:  make(map[sessionKey]*SleepDetector),
	}
	s.idleSource = func(ctx context.Context) (IdleSource, error) {
		return NewIdleSource(ctx, s.config.IdleSource)
	}
	s.signalSources = s.configuredSignalSources
	return s
}

func (s *Supervisor) configuredSignalSources() []SignalSource {
	var sources []SignalSource
	for _, kind := range s.config.SleepSources {
		source, err := NewSignalSource(kind)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Ignoring sleep source")
			continue
		}
		sources = append(sources, source)
	}
	return sources
}

// StartIdle starts idle monitoring for a session, replacing any detector
// already running for it. A non-positive threshold uses the configured one.
// If no idle source works, monitoring is skipped and nil is returned.
func (s *Supervisor) StartIdle(ctx context.Context, accountID, sessionID string, threshold time.Duration) *IdleDetector {
	key := sessionKey{accountID, sessionID}
	log := s.logger.With().Str("account_id", accountID).Str("session_id", sessionID).Logger()

	s.mu.Lock()
	old := s.idle[key]
	delete(s.idle, key)
	s.mu.Unlock()
	if old != nil {
		log.Debug().Msg("Replacing idle detector")
		old.Stop()
	}

	source, err := s.idleSource(ctx)
	if err != nil {
		metrics.DetectorSetupFailures.WithLabelValues("idle").Inc()
		log.Warn().Err(err).Msg("Idle monitoring unavailable")
		s.updateGauge()
		return nil
	}

	cfg := s.config.Idle
	if threshold > 0 {
		cfg.Threshold = threshold
	}
	detector := NewIdleDetector(accountID, sessionID, source, s.sink, s.clock, cfg, s.logger)
	if err := detector.Start(s.ctx); err != nil {
		_ = source.Close()
		metrics.DetectorSetupFailures.WithLabelValues("idle").Inc()
		log.Warn().Err(err).Msg("Idle monitoring unavailable")
		s.updateGauge()
		return nil
	}

	s.mu.Lock()
	s.idle[key] = detector
	s.mu.Unlock()
	s.updateGauge()
	return detector
}

// StopIdle stops idle monitoring for a session. Unknown sessions are ignored.
func (s *Supervisor) StopIdle(accountID, sessionID string) {
	key := sessionKey{accountID, sessionID}
	s.mu.Lock()
	detector := s.idle[key]
	delete(s.idle, key)
	s.mu.Unlock()

	if detector != nil {
		detector.Stop()
	}
	s.updateGauge()
}

// IdleStatus returns the detector status for a session, or the zero status
// when the session is not monitored.
func (s *Supervisor) IdleStatus(ctx context.Context, accountID, sessionID string) IdleStatus {
	s.mu.Lock()
	detector := s.idle[sessionKey{accountID, sessionID}]
	s.mu.Unlock()

	if detector == nil {
		return IdleStatus{}
	}
	return detector.Status(ctx)
}

// Watch starts idle and sleep monitoring for a session. The idle threshold
// is passed to StartIdle.
func (s *Supervisor) Watch(ctx context.Context, accountID, sessionID string, idleThreshold time.Duration) {
	s.StartIdle(ctx, accountID, sessionID, idleThreshold)

	key := sessionKey{accountID, sessionID}
	s.mu.Lock()
	old := s.sleep[key]
	delete(s.sleep, key)
	s.mu.Unlock()
	if old != nil {
		old.Stop()
	}

	sources := s.signalSources()
	if len(sources) == 0 {
		return
	}
	detector := NewSleepDetector(accountID, sessionID, sources, s.sink, s.clock, s.logger)
	if detector.Start(s.ctx) == 0 {
		detector.Stop()
		return
	}

	s.mu.Lock()
	s.sleep[key] = detector
	s.mu.Unlock()
	s.updateGauge()
}

// Unwatch stops every detector for a session.
func (s *Supervisor) Unwatch(accountID, sessionID string) {
	key := sessionKey{accountID, sessionID}
	s.mu.Lock()
	sleep := s.sleep[key]
	delete(s.sleep, key)
	s.mu.Unlock()

	if sleep != nil {
		sleep.Stop()
	}
	s.StopIdle(accountID, sessionID)
}

// StopAll stops every detector. The supervisor can be reused afterwards.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	idle := s.idle
	sleep := s.sleep
	s.idle = make(map[sessionKey]*IdleDetector)
	s.sleep = make(map[sessionKey]*SleepDetector)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, d := range idle {
		wg.Add(1)
		go func(d *IdleDetector) {
			defer wg.Done()
			d.Stop()
		}(d)
	}
	for _, d := range sleep {
		wg.Add(1)
		go func(d *SleepDetector) {
			defer wg.Done()
			d.Stop()
		}(d)
	}
	wg.Wait()

	s.logger.Info().Int("idle", len(idle)).Int("sleep", len(sleep)).Msg("Stopped all detectors")
	s.updateGauge()
}

// Active returns the number of sessions with a running idle detector.
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.idle)
}

func (s *Supervisor) updateGauge() {
	metrics.ActiveDetectors.Set(float64(s.Active()))
}
