package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/revsla/internal/dispatch"
	"github.com/joescharf/revsla/internal/engine"
	"github.com/joescharf/revsla/internal/models"
	"github.com/joescharf/revsla/internal/output"
	"github.com/joescharf/revsla/internal/store"
)

var (
	requestRequester string
	requestTitle     string
	requestCategory  string
	requestReviewer  string
	requestStatus    string
	requestAll       bool
	requestLimit     int
)

var requestCmd = &cobra.Command{
	Use:     "request",
	Aliases: []string{"req"},
	Short:   "Submit and track review requests",
}

var requestSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new review request",
	Long:  "Submit a review request. It is assigned immediately when a reviewer has capacity, otherwise it waits for the next sweep.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return requestSubmitRun()
	},
}

var requestListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List review requests (open ones by default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return requestListRun()
	},
}

var requestShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a request with its escalation history and compensations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return requestShowRun(args[0])
	},
}

var requestStartCmd = &cobra.Command{
	Use:   "start <id>",
	Short: "Mark an assigned request as in review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return requestStartRun(args[0])
	},
}

var requestCompleteCmd = &cobra.Command{
	Use:   "complete <id>",
	Short: "Complete a request as its assigned reviewer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return requestCompleteRun(args[0])
	},
}

func init() {
	requestSubmitCmd.Flags().StringVar(&requestRequester, "requester", "", "Requester ID (required)")
	requestSubmitCmd.Flags().StringVar(&requestTitle, "title", "", "What needs review")
	requestSubmitCmd.Flags().StringVar(&requestCategory, "category", "", "Category, matched against reviewer specialties")
	_ = requestSubmitCmd.MarkFlagRequired("requester")

	requestListCmd.Flags().StringVar(&requestStatus, "status", "", "Comma-separated statuses to show")
	requestListCmd.Flags().StringVar(&requestRequester, "requester", "", "Filter by requester")
	requestListCmd.Flags().StringVar(&requestReviewer, "reviewer", "", "Filter by assigned reviewer (name or id)")
	requestListCmd.Flags().BoolVar(&requestAll, "all", false, "Include completed and timed out requests")
	requestListCmd.Flags().IntVar(&requestLimit, "limit", 0, "Maximum number of requests")

	for _, c := range []*cobra.Command{requestStartCmd, requestCompleteCmd} {
		c.Flags().StringVar(&requestReviewer, "reviewer", "", "Assigned reviewer (name or id, required)")
		_ = c.MarkFlagRequired("reviewer")
	}

	requestCmd.AddCommand(requestSubmitCmd)
	requestCmd.AddCommand(requestListCmd)
	requestCmd.AddCommand(requestShowCmd)
	requestCmd.AddCommand(requestStartCmd)
	requestCmd.AddCommand(requestCompleteCmd)
	rootCmd.AddCommand(requestCmd)
}

// withEngine runs fn against an engine and flushes queued port calls afterwards.
func withEngine(fn func(ctx context.Context, s store.Store, e *engine.Engine) error, extra ...engine.Option) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	e, d := buildEngine(s, newLogger(), extra...)
	defer flushDispatcher(d)
	return fn(context.Background(), s, e)
}

func flushDispatcher(d *dispatch.Dispatcher) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		ui.Warning("Some port calls were not delivered: %v", err)
	}
}

func requestSubmitRun() error {
	if dryRun {
		ui.DryRunMsg("Would submit request for %s", requestRequester)
		return nil
	}
	return withEngine(func(ctx context.Context, _ store.Store, e *engine.Engine) error {
		req := &models.Request{RequesterID: requestRequester, Title: requestTitle, Category: requestCategory}
		if err := e.Submit(ctx, req); err != nil {
			return fmt.Errorf("submit request: %w", err)
		}
		if req.Status == models.RequestStatusAssigned {
			ui.Success("Submitted %s, assigned to %s", output.Cyan(req.ID), req.AssignedReviewerID)
		} else {
			ui.Warning("Submitted %s, no reviewer available yet", output.Cyan(req.ID))
		}
		return nil
	})
}

func requestListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	filter := store.RequestListFilter{RequesterID: requestRequester, Limit: requestLimit}
	switch {
	case requestStatus != "":
		for _, st := range strings.Split(requestStatus, ",") {
			filter.Statuses = append(filter.Statuses, models.RequestStatus(strings.TrimSpace(st)))
		}
	case !requestAll:
		filter.Statuses = models.OpenStatuses
	}
	if requestReviewer != "" {
		r, err := resolveReviewer(ctx, s, requestReviewer)
		if err != nil {
			return err
		}
		filter.ReviewerID = r.ID
	}

	requests, err := s.ListRequests(ctx, filter)
	if err != nil {
		return err
	}
	if len(requests) == 0 {
		ui.Info("No matching requests.")
		return nil
	}

	table := ui.Table([]string{"ID", "Requester", "Title", "Status", "Band", "Reviewer", "Hops", "Age"})
	for _, req := range requests {
		table.Append([]string{
			output.Cyan(req.ID),
			req.RequesterID,
			req.Title,
			output.StatusColor(string(req.Status)),
			output.BandColor(string(req.CurrentBand)),
			req.AssignedReviewerID,
			fmt.Sprintf("%d", req.EscalationLevel),
			timeAgo(req.CreatedAt),
		})
	}
	table.Render()
	return nil
}

func requestShowRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	req, err := s.GetRequest(ctx, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s\n", output.Cyan(req.ID))
	if req.Title != "" {
		fmt.Fprintf(ui.Out, "  Title:      %s\n", req.Title)
	}
	fmt.Fprintf(ui.Out, "  Requester:  %s\n", req.RequesterID)
	if req.Category != "" {
		fmt.Fprintf(ui.Out, "  Category:   %s\n", req.Category)
	}
	fmt.Fprintf(ui.Out, "  Status:     %s\n", output.StatusColor(string(req.Status)))
	fmt.Fprintf(ui.Out, "  Band:       %s\n", output.BandColor(string(req.CurrentBand)))
	fmt.Fprintf(ui.Out, "  Created:    %s (%s)\n", req.CreatedAt.Format(time.RFC3339), timeAgo(req.CreatedAt))
	if req.AssignedReviewerID != "" {
		fmt.Fprintf(ui.Out, "  Reviewer:   %s\n", req.AssignedReviewerID)
	}
	if req.AssignedAt != nil {
		fmt.Fprintf(ui.Out, "  Assigned:   %s\n", req.AssignedAt.Format(time.RFC3339))
	}
	if req.CompletedAt != nil {
		fmt.Fprintf(ui.Out, "  Completed:  %s\n", req.CompletedAt.Format(time.RFC3339))
	}
	if req.EscalationLevel > 0 {
		fmt.Fprintf(ui.Out, "  Hops:       %d (previously %s)\n", req.EscalationLevel, strings.Join(req.Backups, ", "))
	}

	comps, err := s.ListCompensations(ctx, req.ID)
	if err == nil && len(comps) > 0 {
		fmt.Fprintln(ui.Out)
		fmt.Fprintf(ui.Out, "  Compensations:\n")
		for _, c := range comps {
			label := fmt.Sprintf("%dh", c.ThresholdHours)
			if c.ThresholdHours == models.TimeoutThreshold {
				label = "timeout"
			}
			fmt.Fprintf(ui.Out, "    %-8s %-12s %4d  %s\n", label, c.Kind, c.Amount, c.GrantedAt.Format(time.RFC3339))
		}
	}
	return nil
}

func requestStartRun(id string) error {
	if dryRun {
		ui.DryRunMsg("Would start review of %s", id)
		return nil
	}
	return withEngine(func(ctx context.Context, s store.Store, e *engine.Engine) error {
		r, err := resolveReviewer(ctx, s, requestReviewer)
		if err != nil {
			return err
		}
		if _, err := e.StartReview(ctx, id, r.ID); err != nil {
			return err
		}
		ui.Success("%s started reviewing %s", output.Cyan(r.Name), id)
		return nil
	})
}

func requestCompleteRun(id string) error {
	if dryRun {
		ui.DryRunMsg("Would complete %s", id)
		return nil
	}
	return withEngine(func(ctx context.Context, s store.Store, e *engine.Engine) error {
		r, err := resolveReviewer(ctx, s, requestReviewer)
		if err != nil {
			return err
		}
		req, err := e.Complete(ctx, id, r.ID)
		if err != nil {
			return err
		}
		ui.Success("Completed %s (%s)", output.Cyan(req.ID), output.BandColor(string(req.CurrentBand)))
		return nil
	})
}

// timeAgo returns a human-readable age for t.
func timeAgo(t time.Time) string {
	return output.Age(time.Since(t))
}
