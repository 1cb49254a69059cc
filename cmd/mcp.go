package cmd

import (
	"context"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/joescharf/revsla/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets MCP clients submit, complete, and inspect review requests and run
sweeps. Configure a client with:

  {
    "mcpServers": {
      "revsla": { "command": "revsla", "args": ["mcp"] }
    }
  }

Available tools: revsla_list_requests, revsla_submit_request,
revsla_complete_request, revsla_list_reviewers, revsla_sweep, revsla_status`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func mcpRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	e, d := buildEngine(s, newLogger())
	defer flushDispatcher(d)

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	defer stop()
	return mcp.NewServer(s, e, buildVersion).ServeStdio(ctx)
}
