package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/revsla/internal/engine"
	"github.com/joescharf/revsla/internal/models"
	"github.com/joescharf/revsla/internal/store"
)

// Server wraps the SLA engine and exposes it as MCP tools.
type Server struct {
	store   store.Store
	engine  *engine.Engine
	version string
}

// NewServer creates the MCP server wrapper.
func NewServer(s store.Store, e *engine.Engine, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{store: s, engine: e, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("revsla", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.listRequestsTool())
	srv.AddTool(s.submitRequestTool())
	srv.AddTool(s.completeRequestTool())
	srv.AddTool(s.listReviewersTool())
	srv.AddTool(s.sweepTool())
	srv.AddTool(s.statusTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

type requestOut struct {
	ID              string `json:"id"`
	RequesterID     string `json:"requester_id"`
	Title           string `json:"title,omitempty"`
	Category        string `json:"category,omitempty"`
	Status          string `json:"status"`
	Band            string `json:"band"`
	Reviewer        string `json:"reviewer,omitempty"`
	EscalationLevel int    `json:"escalation_level"`
	CreatedAt       string `json:"created_at"`
}

func toRequestOut(r *models.Request) requestOut {
	return requestOut{
		ID:              r.ID,
		RequesterID:     r.RequesterID,
		Title:           r.Title,
		Category:        r.Category,
		Status:          string(r.Status),
		Band:            string(r.CurrentBand),
		Reviewer:        r.AssignedReviewerID,
		EscalationLevel: r.EscalationLevel,
		CreatedAt:       r.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// revsla_list_requests
func (s *Server) listRequestsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("revsla_list_requests",
		mcp.WithDescription("List review requests with their status, SLA band, and assigned reviewer. Returns a JSON array."),
		mcp.WithString("status", mcp.Description("Comma-separated statuses: pending, assigned, in_review, completed, timed_out (default: open requests)")),
		mcp.WithString("requester", mcp.Description("Filter by requester ID")),
		mcp.WithString("reviewer", mcp.Description("Filter by assigned reviewer ID")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of requests to return")),
	)
	return tool, s.handleListRequests
}

func (s *Server) handleListRequests(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.RequestListFilter{
		RequesterID: request.GetString("requester", ""),
		ReviewerID:  request.GetString("reviewer", ""),
		Limit:       request.GetInt("limit", 0),
	}
	if raw := request.GetString("status", ""); raw != "" {
		for _, st := range strings.Split(raw, ",") {
			filter.Statuses = append(filter.Statuses, models.RequestStatus(strings.TrimSpace(st)))
		}
	} else {
		filter.Statuses = models.OpenStatuses
	}

	requests, err := s.store.ListRequests(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list requests: %v", err)), nil
	}
	out := make([]requestOut, len(requests))
	for i, r := range requests {
		out[i] = toRequestOut(r)
	}
	return jsonResult(out)
}

// revsla_submit_request
func (s *Server) submitRequestTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("revsla_submit_request",
		mcp.WithDescription("Submit a new review request. It is assigned to the best available reviewer right away, or left pending until capacity frees up."),
		mcp.WithString("requester", mcp.Required(), mcp.Description("Requester ID")),
		mcp.WithString("title", mcp.Description("Short description of what needs review")),
		mcp.WithString("category", mcp.Description("Category, matched against reviewer specialties")),
	)
	return tool, s.handleSubmitRequest
}

func (s *Server) handleSubmitRequest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	requester, err := request.RequireString("requester")
	if err != nil || requester == "" {
		return mcp.NewToolResultError("missing required parameter: requester"), nil
	}

	req := &models.Request{
		RequesterID: requester,
		Title:       request.GetString("title", ""),
		Category:    request.GetString("category", ""),
	}
	if err := s.engine.Submit(ctx, req); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to submit request: %v", err)), nil
	}
	return jsonResult(toRequestOut(req))
}

// revsla_complete_request
func (s *Server) completeRequestTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("revsla_complete_request",
		mcp.WithDescription("Mark a review request as completed by its assigned reviewer."),
		mcp.WithString("request", mcp.Required(), mcp.Description("Request ID")),
		mcp.WithString("reviewer", mcp.Required(), mcp.Description("ID or name of the assigned reviewer")),
	)
	return tool, s.handleCompleteRequest
}

func (s *Server) handleCompleteRequest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	requestID, err := request.RequireString("request")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: request"), nil
	}
	reviewerKey, err := request.RequireString("reviewer")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: reviewer"), nil
	}

	reviewerID := reviewerKey
	if r, err := s.store.GetReviewerByName(ctx, reviewerKey); err == nil {
		reviewerID = r.ID
	}

	done, err := s.engine.Complete(ctx, requestID, reviewerID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return mcp.NewToolResultError(fmt.Sprintf("request not found: %s", requestID)), nil
	case errors.Is(err, engine.ErrNotAssignee):
		return mcp.NewToolResultError(fmt.Sprintf("%s is not the assigned reviewer of %s", reviewerKey, requestID)), nil
	case err != nil:
		return mcp.NewToolResultError(fmt.Sprintf("failed to complete request: %v", err)), nil
	}
	return jsonResult(toRequestOut(done))
}

// revsla_list_reviewers
func (s *Server) listReviewersTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("revsla_list_reviewers",
		mcp.WithDescription("List reviewers with their load, SLA score, and completion history. Returns a JSON array."),
		mcp.WithBoolean("active_only", mcp.Description("Only include active reviewers")),
		mcp.WithBoolean("available", mcp.Description("Only include reviewers with spare capacity")),
	)
	return tool, s.handleListReviewers
}

func (s *Server) handleListReviewers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reviewers, err := s.store.ListReviewers(ctx, store.ReviewerListFilter{
		ActiveOnly:   request.GetBool("active_only", false),
		WithCapacity: request.GetBool("available", false),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list reviewers: %v", err)), nil
	}

	type reviewerOut struct {
		ID          string   `json:"id"`
		Name        string   `json:"name"`
		Active      bool     `json:"active"`
		Load        string   `json:"load"`
		SLAScore    float64  `json:"sla_score"`
		AvgHours    float64  `json:"avg_response_hours"`
		Streak      int      `json:"streak"`
		Completed   int      `json:"completed"`
		Timeouts    int      `json:"timeouts"`
		Specialties []string `json:"specialties,omitempty"`
	}

	out := make([]reviewerOut, len(reviewers))
	for i, r := range reviewers {
		out[i] = reviewerOut{
			ID:          r.ID,
			Name:        r.Name,
			Active:      r.Active,
			Load:        fmt.Sprintf("%d/%d", r.Current, r.MaxConcurrent),
			SLAScore:    r.SLAScore,
			AvgHours:    r.AverageResponseHours,
			Streak:      r.CurrentStreak,
			Completed:   r.CompletedCount(),
			Timeouts:    r.TimeoutCount,
			Specialties: r.Specialties,
		}
	}
	return jsonResult(out)
}

// revsla_sweep
func (s *Server) sweepTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("revsla_sweep",
		mcp.WithDescription("Run one SLA sweep now: assign pending requests, advance bands, redistribute stalled reviews, and issue compensations. Returns the sweep report."),
	)
	return tool, s.handleSweep
}

func (s *Server) handleSweep(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := s.engine.Sweep(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("sweep failed: %v", err)), nil
	}
	return jsonResult(report)
}

// revsla_status
func (s *Server) statusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("revsla_status",
		mcp.WithDescription("Summarise requests by status and SLA band, and reviewer load."),
	)
	return tool, s.handleStatus
}

func (s *Server) handleStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := s.engine.Status(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load status: %v", err)), nil
	}
	return jsonResult(st)
}
