package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/revsla/internal/models"
	"github.com/joescharf/revsla/internal/output"
	"github.com/joescharf/revsla/internal/store"
)

var (
	reviewerMax         int
	reviewerTimezone    string
	reviewerHours       string
	reviewerSpecialties []string
	reviewerActiveOnly  bool
)

var reviewerCmd = &cobra.Command{
	Use:     "reviewer",
	Aliases: []string{"rev"},
	Short:   "Manage the reviewer pool",
	Long:    "Add, list, show, activate, and deactivate reviewers.",
}

var reviewerAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a reviewer to the pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewerAddRun(args[0])
	},
}

var reviewerListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List reviewers with load and SLA score",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewerListRun()
	},
}

var reviewerShowCmd = &cobra.Command{
	Use:   "show <name-or-id>",
	Short: "Show reviewer details and history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewerShowRun(args[0])
	},
}

var reviewerActivateCmd = &cobra.Command{
	Use:   "activate <name-or-id>",
	Short: "Make a reviewer eligible for new assignments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewerSetActiveRun(args[0], true)
	},
}

var reviewerDeactivateCmd = &cobra.Command{
	Use:   "deactivate <name-or-id>",
	Short: "Stop assigning new requests to a reviewer",
	Long:  "Stop assigning new requests to a reviewer. Reviews they already hold are unaffected.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewerSetActiveRun(args[0], false)
	},
}

func init() {
	reviewerAddCmd.Flags().IntVar(&reviewerMax, "max", 3, "Maximum concurrent reviews")
	reviewerAddCmd.Flags().StringVar(&reviewerTimezone, "tz", "", "IANA timezone (default UTC)")
	reviewerAddCmd.Flags().StringVar(&reviewerHours, "hours", "", "Preferred working hours, e.g. 9-17")
	reviewerAddCmd.Flags().StringSliceVar(&reviewerSpecialties, "specialty", nil, "Specialty categories (repeatable)")

	reviewerListCmd.Flags().BoolVar(&reviewerActiveOnly, "active", false, "Only show active reviewers")

	reviewerCmd.AddCommand(reviewerAddCmd)
	reviewerCmd.AddCommand(reviewerListCmd)
	reviewerCmd.AddCommand(reviewerShowCmd)
	reviewerCmd.AddCommand(reviewerActivateCmd)
	reviewerCmd.AddCommand(reviewerDeactivateCmd)
	rootCmd.AddCommand(reviewerCmd)
}

// parseHours parses "start-end" local hours.
func parseHours(raw string) (int, int, error) {
	if raw == "" {
		return 0, 0, nil
	}
	var start, end int
	if _, err := fmt.Sscanf(raw, "%d-%d", &start, &end); err != nil {
		return 0, 0, fmt.Errorf("invalid hours %q: want start-end, e.g. 9-17", raw)
	}
	if start < 0 || start > 23 || end < 0 || end > 23 {
		return 0, 0, fmt.Errorf("invalid hours %q: hours must be 0-23", raw)
	}
	return start, end, nil
}

func reviewerAddRun(name string) error {
	if reviewerMax <= 0 {
		return fmt.Errorf("--max must be positive")
	}
	start, end, err := parseHours(reviewerHours)
	if err != nil {
		return err
	}

	r := &models.Reviewer{
		Name:               name,
		Active:             true,
		MaxConcurrent:      reviewerMax,
		Timezone:           reviewerTimezone,
		PreferredStartHour: start,
		PreferredEndHour:   end,
		Specialties:        reviewerSpecialties,
		SLAScore:           models.DefaultSLAScore,
	}

	if dryRun {
		ui.DryRunMsg("Would add reviewer: %s (max %d)", name, reviewerMax)
		return nil
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	if err := s.CreateReviewer(context.Background(), r); err != nil {
		return fmt.Errorf("add reviewer: %w", err)
	}

	ui.Success("Added reviewer: %s (%s)", output.Cyan(name), r.ID)
	ui.VerboseLog("Capacity: %d, specialties: %s", r.MaxConcurrent, strings.Join(r.Specialties, ", "))
	return nil
}

func reviewerListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	reviewers, err := s.ListReviewers(context.Background(), store.ReviewerListFilter{ActiveOnly: reviewerActiveOnly})
	if err != nil {
		return err
	}
	if len(reviewers) == 0 {
		ui.Info("No reviewers yet. Use 'revsla reviewer add <name>' to get started.")
		return nil
	}

	table := ui.Table([]string{"Name", "ID", "Active", "Load", "SLA", "Avg (h)", "Streak", "Done", "Timeouts"})
	for _, r := range reviewers {
		active := output.Green("yes")
		if !r.Active {
			active = output.Red("no")
		}
		table.Append([]string{
			output.Cyan(r.Name),
			r.ID,
			active,
			output.LoadColor(r.Current, r.MaxConcurrent),
			output.ScoreColor(r.SLAScore),
			fmt.Sprintf("%.1f", r.AverageResponseHours),
			fmt.Sprintf("%d", r.CurrentStreak),
			fmt.Sprintf("%d", r.CompletedCount()),
			fmt.Sprintf("%d", r.TimeoutCount),
		})
	}
	table.Render()
	return nil
}

func reviewerShowRun(key string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	r, err := resolveReviewer(ctx, s, key)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s\n", output.Cyan(r.Name))
	fmt.Fprintf(ui.Out, "  ID:         %s\n", r.ID)
	fmt.Fprintf(ui.Out, "  Active:     %t\n", r.Active)
	fmt.Fprintf(ui.Out, "  Load:       %s\n", output.LoadColor(r.Current, r.MaxConcurrent))
	if r.Timezone != "" {
		fmt.Fprintf(ui.Out, "  Timezone:   %s\n", r.Timezone)
	}
	if r.PreferredStartHour != r.PreferredEndHour {
		fmt.Fprintf(ui.Out, "  Hours:      %02d:00-%02d:00\n", r.PreferredStartHour, r.PreferredEndHour)
	}
	if len(r.Specialties) > 0 {
		fmt.Fprintf(ui.Out, "  Specialty:  %s\n", strings.Join(r.Specialties, ", "))
	}
	fmt.Fprintln(ui.Out)
	fmt.Fprintf(ui.Out, "  SLA score:  %s\n", output.ScoreColor(r.SLAScore))
	fmt.Fprintf(ui.Out, "  Avg hours:  %.1f\n", r.AverageResponseHours)
	fmt.Fprintf(ui.Out, "  Streak:     %d\n", r.CurrentStreak)
	fmt.Fprintf(ui.Out, "  Completed:  %d optimal, %d standard, %d delayed, %d critical\n",
		r.OptimalCount, r.StandardCount, r.DelayedCount, r.CriticalCount)
	fmt.Fprintf(ui.Out, "  Timeouts:   %d\n", r.TimeoutCount)
	if r.LastActivity != nil {
		fmt.Fprintf(ui.Out, "  Activity:   %s\n", timeAgo(*r.LastActivity))
	}

	held, err := s.ListRequests(ctx, store.RequestListFilter{
		ReviewerID: r.ID,
		Statuses:   []models.RequestStatus{models.RequestStatusAssigned, models.RequestStatusInReview},
	})
	if err == nil && len(held) > 0 {
		fmt.Fprintln(ui.Out)
		fmt.Fprintf(ui.Out, "  Holding:\n")
		for _, req := range held {
			fmt.Fprintf(ui.Out, "    %s  %s  %s\n", req.ID, output.StatusColor(string(req.Status)), output.BandColor(string(req.CurrentBand)))
		}
	}
	return nil
}

func reviewerSetActiveRun(key string, active bool) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	r, err := resolveReviewer(ctx, s, key)
	if err != nil {
		return err
	}

	verb := "Activated"
	if !active {
		verb = "Deactivated"
	}
	if r.Active == active {
		ui.Info("%s is already %s", r.Name, strings.ToLower(verb))
		return nil
	}
	if dryRun {
		ui.DryRunMsg("Would set %s active=%t", r.Name, active)
		return nil
	}

	r.Active = active
	if err := s.UpdateReviewer(ctx, r); err != nil {
		return fmt.Errorf("update reviewer: %w", err)
	}
	ui.Success("%s reviewer: %s", verb, output.Cyan(r.Name))
	return nil
}

// resolveReviewer finds a reviewer by name or id.
func resolveReviewer(ctx context.Context, s store.Store, key string) (*models.Reviewer, error) {
	// Try by name first
	if r, err := s.GetReviewerByName(ctx, key); err == nil {
		return r, nil
	}
	r, err := s.GetReviewer(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("reviewer not found: %s", key)
	}
	return r, err
}
