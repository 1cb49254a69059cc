package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joescharf/revsla/internal/metrics"
	"github.com/joescharf/revsla/internal/models"
)

// CompensationLog is the subset of store.Store the gate needs.
type CompensationLog interface {
	GrantCompensation(ctx context.Context, c *models.Compensation) (bool, error)
}

// CompensationGate makes each (request, threshold) compensation fire at most once.
type CompensationGate struct {
	log     CompensationLog
	rewards Rewards
	logger  *slog.Logger
}

// NewCompensationGate creates a gate that records grants in log and pays them through rewards.
func NewCompensationGate(log CompensationLog, rewards Rewards, logger *slog.Logger) *CompensationGate {
	return &CompensationGate{log: log, rewards: rewards, logger: logger}
}

// TryGrant records c if no record exists for its key, then calls the rewards
// port. Only the caller whose insert succeeded pays; everyone else gets false.
// A failing rewards port is logged and does not undo the record, since the
// port is responsible for redelivery under the same idempotency key.
func (g *CompensationGate) TryGrant(ctx context.Context, c *models.Compensation) (bool, error) {
	if c.IdempotencyKey == "" {
		c.IdempotencyKey = models.CompensationKey(c.RequestID, c.ThresholdHours)
	}

	granted, err := g.log.GrantCompensation(ctx, c)
	if err != nil {
		return false, fmt.Errorf("record compensation %s: %w", c.IdempotencyKey, err)
	}
	if !granted {
		return false, nil
	}
	metrics.ObserveCompensation(c.Kind)

	if err := g.rewards.GrantCompensation(ctx, c.RecipientID, c.Kind, c.Amount, c.IdempotencyKey); err != nil {
		g.logger.Warn("rewards port failed", "key", c.IdempotencyKey, "recipient", c.RecipientID, "error", err)
	}
	g.logger.Info("compensation granted",
		"request", c.RequestID, "threshold_hours", c.ThresholdHours, "amount", c.Amount)
	return true, nil
}
