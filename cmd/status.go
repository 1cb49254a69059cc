package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/revsla/internal/engine"
	"github.com/joescharf/revsla/internal/models"
	"github.com/joescharf/revsla/internal/output"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the SLA dashboard",
	Long:  "Show request counts by status and SLA band, and the load of every reviewer.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusRun()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func statusRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	e := engine.New(s, engine.WithConfig(engineConfig()), engine.WithLogger(newLogger()))

	st, err := e.Status(context.Background())
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s\n", output.Cyan("Requests"))
	table := ui.Table([]string{"Status", "Count"})
	for _, status := range []models.RequestStatus{
		models.RequestStatusPending,
		models.RequestStatusAssigned,
		models.RequestStatusInReview,
		models.RequestStatusCompleted,
		models.RequestStatusTimedOut,
	} {
		table.Append([]string{output.StatusColor(string(status)), fmt.Sprint(st.ByStatus[status])})
	}
	table.Render()

	fmt.Fprintln(ui.Out)
	fmt.Fprintf(ui.Out, "%s\n", output.Cyan("Open requests by band"))
	table = ui.Table([]string{"Band", "Limit", "Count"})
	for _, b := range models.Bands {
		limit := fmt.Sprintf("<= %gh", b.MaxHours)
		if b.MaxHours == 0 {
			limit = "longer"
		}
		table.Append([]string{output.BandColor(string(b.Band)), limit, fmt.Sprint(st.OpenByBand[b.Band])})
	}
	table.Render()

	if st.OldestOpen != nil {
		ui.Info("Oldest open request: %s (%s)", st.OldestOpen.ID, timeAgo(st.OldestOpen.CreatedAt))
	}
	ui.Info("Compensations granted: %d", st.Compensated)

	if len(st.Reviewers) == 0 {
		return nil
	}
	fmt.Fprintln(ui.Out)
	fmt.Fprintf(ui.Out, "%s (%d free slots)\n", output.Cyan("Reviewers"), st.FreeSlots)
	table = ui.Table([]string{"Name", "Active", "Load", "SLA"})
	for _, r := range st.Reviewers {
		active := output.Green("yes")
		if !r.Active {
			active = output.Red("no")
		}
		table.Append([]string{r.Name, active, output.LoadColor(r.Current, r.MaxConcurrent), output.ScoreColor(r.SLAScore)})
	}
	table.Render()
	return nil
}
