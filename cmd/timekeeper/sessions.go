package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/timekeeper/internal/status"
	"github.com/goodtune/timekeeper/internal/storage"
	"github.com/spf13/cobra"
)

var (
	sessionsFrom string
	sessionsTo   string
	sessionsJSON bool
	closeAt      string
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and close sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List session history",
	Long:  `List every session, newest first, optionally limited to an inclusive date range.`,
	Example: `  timekeeper sessions list
  timekeeper sessions list --from 2024-03-01 --to 2024-03-31`,
	Args: cobra.NoArgs,
	RunE: runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show SESSION_ID",
	Short: "Show one session with its derived minutes",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsCloseCmd = &cobra.Command{
	Use:   "close SESSION_ID",
	Short: "Clock a session out",
	Long: `Clock a session out now, or at --at. An idle interval still open is counted
up to the current time even when --at is in the past.`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionsClose,
}

func init() {
	sessionsListCmd.Flags().StringVar(&sessionsFrom, "from", "", "First session date (YYYY-MM-DD)")
	sessionsListCmd.Flags().StringVar(&sessionsTo, "to", "", "Last session date (YYYY-MM-DD)")
	sessionsListCmd.Flags().BoolVar(&sessionsJSON, "json", false, "Print JSON instead of a table")
	sessionsShowCmd.Flags().BoolVar(&sessionsJSON, "json", false, "Print JSON")
	sessionsCloseCmd.Flags().StringVar(&closeAt, "at", "", "Clock-out time (YYYY-MM-DD HH:MM, local time); defaults to now")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsCloseCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	dateRange, err := status.ParseDateRange(sessionsFrom, sessionsTo)
	if err != nil {
		return err
	}

	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	aggregator := status.NewAggregator(a.store, a.engine, nil, a.logger, status.Options{
		Concurrency:     a.cfg.Status.Concurrency,
		AccountCacheTTL: a.cfg.Status.CacheTTL(),
	})
	reports := aggregator.ListSessions(context.Background(), dateRange)

	if sessionsJSON {
		return printJSON(reports)
	}

	printHeader("Session history")
	if len(reports) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	green := color.New(color.FgGreen, color.Bold)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSER\tDATE\tCLOCK IN\tCLOCK OUT\tWORK\tSLEEP\tIDLE\tDEVICE")
	for _, r := range reports {
		clockOut := green.Sprint("OPEN")
		if r.ClockOut != nil {
			clockOut = formatTime(*r.ClockOut)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.SessionID,
			r.Username,
			r.SessionDate,
			formatTime(r.ClockIn),
			clockOut,
			formatMinutes(r.TotalWorkMinutes),
			formatMinutes(r.SleepMinutes),
			formatMinutes(r.IdleMinutes),
			r.DeviceID,
		)
	}
	_ = w.Flush()

	fmt.Printf("\n%d session(s)\n", len(reports))
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.engine.SessionSummary(context.Background(), args[0])
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("session %s not found", args[0])
	}
	if err != nil {
		return err
	}

	if sessionsJSON {
		return printJSON(summary)
	}

	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)

	printHeader("Session " + summary.ID)
	fmt.Printf("Account:    %s\n", summary.AccountID)
	fmt.Printf("Device:     %s\n", status.DeviceLabel(summary.DeviceID))
	fmt.Printf("Clock in:   %s\n", formatTime(summary.ClockIn))
	if summary.ClockOut != nil {
		fmt.Printf("Clock out:  %s\n", formatTime(*summary.ClockOut))
	} else {
		fmt.Printf("Clock out:  (open)\n")
	}
	fmt.Println()
	fmt.Printf("Elapsed:    %s\n", formatMinutes(summary.TotalMinutes))
	fmt.Printf("Sleep:      %s\n", formatMinutes(summary.SleepMinutes))
	fmt.Printf("Idle:       %s\n", formatMinutes(summary.IdleMinutes))
	_, _ = cyan.Print("Work:       ")
	fmt.Println(formatMinutes(summary.WorkMinutes))

	if summary.Open() {
		_, _ = cyan.Print("State:      ")
		if summary.IsIdle {
			_, _ = yellow.Printf("IDLE for %s\n", formatMinutes(summary.CurrentIdleDuration))
		} else {
			_, _ = green.Println("ACTIVE")
		}
	}
	return nil
}

func runSessionsClose(cmd *cobra.Command, args []string) error {
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	clockOut := a.engine.Now()
	if closeAt != "" {
		clockOut, err = time.ParseInLocation("2006-01-02 15:04", closeAt, time.Local)
		if err != nil {
			return fmt.Errorf("invalid --at time (want YYYY-MM-DD HH:MM): %s", closeAt)
		}
	}

	ctx := context.Background()
	summary, err := a.engine.SessionSummary(ctx, args[0])
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("session %s not found", args[0])
	}
	if err != nil {
		return err
	}
	if !summary.Open() {
		return fmt.Errorf("session %s is already closed", args[0])
	}
	if clockOut.Before(summary.ClockIn) {
		return fmt.Errorf("clock-out time is before clock-in (%s)", formatTime(summary.ClockIn))
	}

	work, err := a.engine.EndSession(ctx, args[0], clockOut)
	if err != nil {
		return err
	}

	_, _ = color.New(color.FgGreen, color.Bold).Printf("✅ Session %s closed at %s, worked %s\n", args[0], formatTime(clockOut), formatMinutes(work))
	return nil
}
