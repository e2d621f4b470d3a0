package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goodtune/timekeeper/internal/accounting"
	"github.com/goodtune/timekeeper/internal/monitor"
	"github.com/goodtune/timekeeper/internal/systemd"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	agentUsername       string
	agentPassword       string
	agentClockOutOnExit bool
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Clock in and monitor idle and sleep time on this machine",
	Long: `Log in, clock in (resuming an open session if there is one) and run the idle
and sleep/lock detectors for the session until stopped. On exit every open
session of the account is clocked out. The admin API and metrics endpoint
are served as configured. When the daily auto clock-out closes the agent's
session, the agent clocks in to a new one and moves the detectors onto it.

The password may be given with TIMEKEEPER_PASSWORD instead of --password.
SIGHUP restarts the detectors.`,
	Example: `  timekeeper agent --username alice
  TIMEKEEPER_PASSWORD=secret timekeeper -c /etc/timekeeper/timekeeper.yaml agent -u alice`,
	RunE: runAgent,
}

func init() {
	agentCmd.Flags().StringVarP(&agentUsername, "username", "u", "", "Account username (required)")
	agentCmd.Flags().StringVarP(&agentPassword, "password", "p", "", "Account password")
	agentCmd.Flags().BoolVar(&agentClockOutOnExit, "clock-out-on-exit", true, "Clock out open sessions when the agent stops")
	_ = agentCmd.MarkFlagRequired("username")
	rootCmd.AddCommand(agentCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	password := agentPassword
	if password == "" {
		password = os.Getenv("TIMEKEEPER_PASSWORD")
	}
	if password == "" {
		return fmt.Errorf("password is required (--password or TIMEKEEPER_PASSWORD)")
	}

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
		Str("device_id", a.cfg.Device.ID).
		Msg("Starting Timekeeper agent")

	ctx := context.Background()

	account, err := a.engine.Authenticate(ctx, agentUsername, password, a.cfg.Device.ID)
	switch {
	case errors.Is(err, accounting.ErrInvalidCredentials):
		return fmt.Errorf("login failed: invalid username or password")
	case errors.Is(err, accounting.ErrAccountDisabled):
		return fmt.Errorf("login failed: account %s is disabled", agentUsername)
	case err != nil:
		return fmt.Errorf("login failed: %w", err)
	}

	session, resumed, err := a.engine.ClockIn(ctx, account.ID, a.cfg.Device.ID)
	if err != nil {
		return fmt.Errorf("failed to clock in: %w", err)
	}

	a.logger.Info().
		Str("username", account.Username).
		Str("session_id", session.ID).
		Time("clock_in", session.ClockIn).
		Bool("resumed", resumed).
		Msg("Clocked in")

	supervisor := monitor.NewSupervisor(a.engine, nil, monitor.SupervisorConfig{
		Idle: monitor.IdleConfig{
			Threshold:    a.cfg.Monitor.Threshold(),
			PollInterval: a.cfg.Monitor.Interval(),
		},
		IdleSource:   a.cfg.Monitor.IdleSource,
		SleepSources: a.cfg.Monitor.SleepSources,
	}, a.logger)
	idleThreshold := a.cfg.Monitor.ThresholdFor(string(account.Role))
	a.logger.Info().
		Str("role", string(account.Role)).
		Dur("idle_threshold", idleThreshold).
		Msg("Starting detectors")
	tracker := newSessionTracker(a.engine, supervisor, account, session.ID, a.cfg.Device.ID, idleThreshold, a.logger)
	tracker.watch(ctx)

	svc, err := startServices(a, supervisor, tracker.sessionClosed)
	if err != nil {
		supervisor.StopAll()
		return err
	}

	notifyReady(a)
	stopWatchdog := startWatchdog(a)

	a.logger.Info().Msg("Timekeeper agent startup complete")

	// Wait for signals (shutdown or restart monitoring)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			a.logger.Info().Msg("SIGHUP received, restarting detectors...")
			tracker.watch(ctx)
			continue
		}
		a.logger.Info().Msg("Shutdown signal received, gracefully stopping...")
		break
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}
	stopWatchdog()

	// Detectors close any open idle interval before the session is closed.
	supervisor.StopAll()

	if agentClockOutOnExit {
		closed, err := a.engine.CloseAllOpen(ctx, account.ID, a.engine.Now())
		if err != nil {
			a.logger.Error().Err(err).Int("closed", closed).Msg("Failed to clock out")
		} else {
			a.logger.Info().Int("closed", closed).Str("session_id", tracker.current()).Msg("Clocked out")
		}
	}

	svc.Stop()

	a.logger.Info().Msg("Timekeeper agent stopped")
	return nil
}
