package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Event log metrics
	EventsAppended = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timekeeper_events_appended_total",
			Help: "Total sleep and idle events appended to the event log",
		},
		[]string{"type", "source"},
	)

	EventAppendErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timekeeper_event_append_errors_total",
			Help: "Events that could not be persisted",
		},
		[]string{"type"},
	)

	// Session metrics
	SessionsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "timekeeper_sessions_started_total",
			Help: "Total sessions opened",
		},
	)

	SessionsClosed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "timekeeper_sessions_closed_total",
			Help: "Total sessions closed",
		},
	)

	WorkMinutesRecorded = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "timekeeper_session_work_minutes",
			Help:    "Work minutes recorded when a session closes",
			Buckets: []float64{15, 30, 60, 120, 240, 360, 480, 600, 720},
		},
	)

	AutoClockOuts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "timekeeper_auto_clock_outs_total",
			Help: "Sessions closed by the daily auto clock-out",
		},
	)

	// FailSoft counts read-path storage errors that were masked as zero values
	FailSoft = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timekeeper_accounting_failsoft_total",
			Help: "Storage read errors masked by fail-soft accounting queries",
		},
		[]string{"operation"},
	)

	// Monitor metrics
	DetectorSetupFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timekeeper_detector_setup_failures_total",
			Help: "Idle or sleep detectors that could not be started",
		},
		[]string{"detector"},
	)

	IdleSampleErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "timekeeper_idle_sample_errors_total",
			Help: "Failed idle duration samples",
		},
	)

	ActiveDetectors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "timekeeper_active_detectors",
			Help: "Number of sessions with running detectors",
		},
	)

	// Status metrics
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "timekeeper_active_sessions",
			Help: "Number of open sessions",
		},
	)

	IdleSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "timekeeper_idle_sessions",
			Help: "Number of open sessions currently idle",
		},
	)

	StatusRefreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "timekeeper_status_refresh_duration_seconds",
			Help:    "Time taken to derive the live status list",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		EventsAppended,
		EventAppendErrors,
		SessionsStarted,
		SessionsClosed,
		WorkMinutesRecorded,
		AutoClockOuts,
		FailSoft,
		DetectorSetupFailures,
		IdleSampleErrors,
		ActiveDetectors,
		ActiveSessions,
		IdleSessions,
		StatusRefreshDuration,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			// Use systemd socket-activated listener
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			// Create and bind listener ourselves
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
