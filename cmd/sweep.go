package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/revsla/internal/clock"
	"github.com/joescharf/revsla/internal/engine"
	"github.com/joescharf/revsla/internal/store"
)

var sweepAt string

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one SLA sweep now",
	Long: `Run a single sweep over every open request: assign pending requests,
advance SLA bands, redistribute stalled reviews, and issue compensations.

Use --at to evaluate the sweep as if it ran at another time (RFC 3339).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sweepRun()
	},
}

func init() {
	sweepCmd.Flags().StringVar(&sweepAt, "at", "", "Evaluate the sweep at this time (RFC 3339)")
	rootCmd.AddCommand(sweepCmd)
}

func sweepRun() error {
	var extra []engine.Option
	if sweepAt != "" {
		at, err := time.Parse(time.RFC3339, sweepAt)
		if err != nil {
			return fmt.Errorf("invalid --at: %w", err)
		}
		extra = append(extra, engine.WithClock(clock.NewFake(at.UTC())))
	}
	if dryRun {
		ui.DryRunMsg("Would sweep open requests")
		return nil
	}

	return withEngine(func(ctx context.Context, _ store.Store, e *engine.Engine) error {
		report, err := e.Sweep(ctx)
		if err != nil {
			return err
		}
		printSweepReport(report)
		return nil
	}, extra...)
}

func printSweepReport(r *engine.SweepReport) {
	ui.Success("Swept %d open requests at %s", r.Scanned, r.At.Format(time.RFC3339))
	table := ui.Table([]string{"Assigned", "No capacity", "Band changes", "Redistributed", "Timed out", "Compensations", "Conflicts", "Errors"})
	table.Append([]string{
		fmt.Sprint(r.Assigned),
		fmt.Sprint(r.NoCapacity),
		fmt.Sprint(r.BandChanges),
		fmt.Sprint(r.Redistributed),
		fmt.Sprint(r.TimedOut),
		fmt.Sprint(r.Compensations),
		fmt.Sprint(r.Conflicts),
		fmt.Sprint(r.Errors),
	})
	table.Render()
	if r.Errors > 0 {
		ui.Warning("%d requests failed; see the log for details", r.Errors)
	}
}
