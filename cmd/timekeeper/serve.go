package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/timekeeper/internal/admin"
	"github.com/goodtune/timekeeper/internal/admin/api"
	"github.com/goodtune/timekeeper/internal/metrics"
	"github.com/goodtune/timekeeper/internal/schedule"
	"github.com/goodtune/timekeeper/internal/status"
	"github.com/goodtune/timekeeper/internal/systemd"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the admin API without local monitoring",
	Long: `Start the admin API, the live status refresher, the metrics endpoint and the
daily auto clock-out. No idle or sleep detectors run; use this on a shared
redis or sqlite store that agents write to.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()
	log.Logger = a.logger

	a.logger.Info().
		Str("version", version).
		Str("config", configPath).
		Str("storage", a.cfg.Storage.Type).
		Msg("Starting Timekeeper admin service")

	svc, err := startServices(a, nil, nil)
	if err != nil {
		return err
	}

	notifyReady(a)
	stopWatchdog := startWatchdog(a)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	a.logger.Info().Msg("Shutdown signal received, gracefully stopping...")
	if err := systemd.NotifyStopping(); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	stopWatchdog()
	svc.Stop()

	a.logger.Info().Msg("Timekeeper admin service stopped")
	return nil
}

// services are the long-running components shared by agent and serve.
type services struct {
	app       *app
	cancel    context.CancelFunc
	refresher *status.Refresher
	admin     *admin.Server
	metrics   *metrics.Server
	scheduler *schedule.ClockOutScheduler
}

// startServices starts the status refresher, the admin and metrics servers
// and the auto clock-out scheduler, as configured. monitors and onClockOut
// may be nil.
func startServices(a *app, monitors api.IdleStatusProvider, onClockOut schedule.ClockOutFunc) (*services, error) {
	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return nil, fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		a.logger.Info().Msg("Running with systemd socket activation")
	}

	ctx, cancel := context.WithCancel(context.Background())
	svc := &services{app: a, cancel: cancel}

	aggregator := status.NewAggregator(a.store, a.engine, nil, a.logger, status.Options{
		Concurrency:     a.cfg.Status.Concurrency,
		AccountCacheTTL: a.cfg.Status.CacheTTL(),
	})
	svc.refresher = status.NewRefresher(aggregator, a.cfg.Status.Refresh(), a.logger)
	svc.refresher.Start(ctx)

	if a.cfg.Admin.Enabled {
		svc.admin = admin.NewServer(admin.Config{ListenAddr: a.cfg.Admin.Addr()}, admin.Dependencies{
			Engine:     a.engine,
			Accounts:   a.store.Accounts(),
			Aggregator: aggregator,
			Snapshots:  svc.refresher,
			Monitors:   monitors,
		}, a.logger)
		if sdListeners.Admin != nil {
			svc.admin.SetListener(sdListeners.Admin)
		}
		if err := svc.admin.Start(); err != nil {
			svc.Stop()
			return nil, fmt.Errorf("failed to start admin server: %w", err)
		}
	}

	if a.cfg.Metrics.Enabled {
		svc.metrics = metrics.NewServer(a.cfg.Metrics.Addr(), a.logger)
		if sdListeners.Metrics != nil {
			svc.metrics.SetListener(sdListeners.Metrics)
		}
		if err := svc.metrics.Start(); err != nil {
			svc.Stop()
			return nil, fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	if a.cfg.Schedule.AutoClockOut != "" {
		svc.scheduler, err = schedule.NewClockOutScheduler(a.store.Sessions(), a.engine, nil, a.cfg.Schedule.AutoClockOut, a.logger)
		if err != nil {
			svc.Stop()
			return nil, fmt.Errorf("failed to initialize auto clock-out: %w", err)
		}
		if onClockOut != nil {
			svc.scheduler.OnClockOut(onClockOut)
		}
		svc.scheduler.Start()
	}

	return svc, nil
}

// Stop stops every started service.
func (s *services) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}

	s.refresher.Stop()
	s.cancel()

	if s.admin != nil {
		if err := s.admin.Stop(); err != nil {
			s.app.logger.Error().Err(err).Msg("Error stopping admin server")
		}
	}

	if s.metrics != nil {
		if err := s.metrics.Stop(); err != nil {
			s.app.logger.Error().Err(err).Msg("Error stopping metrics server")
		}
	}
}

func notifyReady(a *app) {
	if err := systemd.NotifyReady(); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		a.logger.Debug().Msg("Sent systemd ready notification")
	}
}

// startWatchdog pings the systemd watchdog when the unit enables one. The
// returned function stops the pings.
func startWatchdog(a *app) func() {
	interval := systemd.WatchdogInterval()
	if interval <= 0 {
		return func() {}
	}

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := systemd.NotifyWatchdog(); err != nil {
					a.logger.Warn().Err(err).Msg("Failed to send systemd watchdog notification")
				}
			case <-stop:
				return
			}
		}
	}()
	return func() { close(stop) }
}
