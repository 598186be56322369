package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"fieldflow/agreement"
	"fieldflow/db"
	"fieldflow/order"
	"fieldflow/outbox"
	"fieldflow/renewal"
	"fieldflow/runlock"
)

func newRenewalService(e *env) *renewal.Service {
	return renewal.NewService(
		e.pool,
		agreement.NewRepository(e.pool),
		order.NewRepository(e.pool),
		outbox.NewWriter(),
		e.logger,
		renewal.Options{
			PageSize:  e.cfg.Renewal.PageSize,
			ChunkSize: e.cfg.Renewal.ChunkSize,
			MaxPerRun: e.cfg.Renewal.MaxPerRun,
		},
	)
}

func runCmd(opts *rootOptions) *cobra.Command {
	var (
		asOf   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one renewal pass and print its summary",
		Long: `Run one renewal pass against the configured database.

Every active agreement due on or before the reference time gets at most one
service order. The summary is printed even when the pass aborts.

Examples:
  renewctl run
  renewctl run --tenant 6f1c... --as-of 2025-03-01
  renewctl run --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var now time.Time
			if asOf != "" {
				t, err := time.Parse(time.DateOnly, asOf)
				if err != nil {
					return fmt.Errorf("invalid --as-of %q: %w", asOf, err)
				}
				now = t
			}

			e, err := bootstrap(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer e.Close()

			summary, runErr := newRenewalService(e).Run(cmd.Context(), renewal.RunOptions{
				TenantID: e.cfg.Renewal.TenantID,
				Now:      now,
			})
			if asJSON {
				if err := json.NewEncoder(cmd.OutOrStdout()).Encode(summary); err != nil {
					return err
				}
			} else {
				printSummary(cmd.OutOrStdout(), summary)
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&asOf, "as-of", "", "reference date (YYYY-MM-DD) instead of the current time")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "print the summary as JSON")
	return cmd
}

func scheduleCmd(opts *rootOptions) *cobra.Command {
	var skipFirst bool

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run renewal passes on the configured interval until interrupted",
		Long: `Run renewal passes on the configured interval until interrupted.

Replicas coordinate through a Redis lease so only one pass runs at a time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := bootstrap(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer e.Close()

			rdb, err := db.NewRedis(cmd.Context(), e.cfg.Redis)
			if err != nil {
				return err
			}
			defer rdb.Close()

			scheduler := renewal.NewScheduler(newRenewalService(e), runlock.NewLocker(rdb), e.logger, renewal.SchedulerConfig{
				Interval:  e.cfg.Renewal.Interval,
				LockKey:   e.cfg.Renewal.LockKey,
				LockTTL:   e.cfg.Renewal.LockTTL,
				TenantID:  e.cfg.Renewal.TenantID,
				SkipFirst: skipFirst,
			})
			return scheduler.Start(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&skipFirst, "skip-first", false, "wait one interval before the first pass")
	return cmd
}

// printSummary writes a human readable summary of a renewal pass.
func printSummary(w io.Writer, s renewal.Summary) {
	status := color.New(color.FgHiGreen).Sprint("OK")
	if !s.OK {
		status = color.New(color.FgRed).Sprint("FAILED")
	}

	fmt.Fprintf(w, "%s %s\n", status, s.Message)
	fmt.Fprintf(w, "  generated  %s\n", colorCount(s.Generated, color.FgHiGreen))
	fmt.Fprintf(w, "  skipped    %s\n", colorCount(s.Skipped, color.FgYellow))
	fmt.Fprintf(w, "  conflicts  %s\n", colorCount(s.Conflicts, color.FgCyan))
	fmt.Fprintf(w, "  failed     %s\n", colorCount(s.Failed, color.FgRed))
	if !s.StartedAt.IsZero() && !s.FinishedAt.IsZero() {
		fmt.Fprintf(w, "  elapsed    %s\n", s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	}
}

func colorCount(n int, attr color.Attribute) string {
	if n == 0 {
		return color.New(color.FgHiBlack).Sprint(n)
	}
	return color.New(attr).Sprint(n)
}
