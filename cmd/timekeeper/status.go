package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/goodtune/timekeeper/internal/status"
	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show open sessions with live idle and sleep time",
	Long:  `Derive and print the live status of every open session, most recent clock-in first.`,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print JSON instead of a table")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	aggregator := status.NewAggregator(a.store, a.engine, nil, a.logger, status.Options{
		Concurrency:     a.cfg.Status.Concurrency,
		AccountCacheTTL: a.cfg.Status.CacheTTL(),
	})
	sessions := aggregator.ListActiveSessionsWithStatus(context.Background())

	if statusJSON {
		return printJSON(sessions)
	}

	printActiveSessions(sessions)
	return nil
}

func printActiveSessions(sessions []status.SessionStatus) {
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)

	printHeader("Active sessions")

	if len(sessions) == 0 {
		fmt.Println("No open sessions.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tDEVICE\tCLOCK IN\tELAPSED\tSLEEP\tIDLE\tWORK\tSTATE")
	for _, s := range sessions {
		state := green.Sprint("ACTIVE")
		if s.IsIdle {
			state = yellow.Sprintf("IDLE %s", formatMinutes(s.CurrentIdleDuration))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.Username,
			s.DeviceID,
			formatTime(s.ClockIn),
			formatMinutes(s.TotalMinutes),
			formatMinutes(s.SleepMinutes),
			formatMinutes(s.IdleMinutes),
			formatMinutes(s.WorkMinutes),
			state,
		)
	}
	_ = w.Flush()

	fmt.Printf("\n%d open session(s)\n", len(sessions))
}
