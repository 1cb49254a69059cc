package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/joescharf/revsla/internal/metrics"
	"github.com/joescharf/revsla/internal/models"
	"github.com/joescharf/revsla/internal/store"
)

// Redistribute moves a stalled request from its current reviewer to the most
// reliable reviewer that has not held it before. When the hop bound is reached
// or no active reviewer is left untried, the request times out and
// ErrExhausted is returned. When every untried reviewer is at capacity the
// request stays with its holder and ErrNoCapacity is returned.
// On success req is updated in place.
func (e *Engine) Redistribute(ctx context.Context, req *models.Request) (*models.Reviewer, error) {
	if !req.Status.Held() {
		e.log.Debug("redistribute skipped", "request", req.ID, "status", req.Status)
		return nil, fmt.Errorf("redistribute %s in status %s: %w", req.ID, req.Status, ErrInvalidTransition)
	}

	old, err := e.store.GetReviewer(ctx, req.AssignedReviewerID)
	if err != nil {
		return nil, fmt.Errorf("load assigned reviewer: %w", err)
	}

	if req.EscalationLevel >= e.cfg.MaxHops {
		return nil, e.expire(ctx, req, old, "hop limit reached")
	}

	active, err := e.store.ListReviewers(ctx, store.ReviewerListFilter{ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	var untried, pool []*models.Reviewer
	for _, c := range active {
		if req.Tried(c.ID) {
			continue
		}
		untried = append(untried, c)
		if c.HasCapacity() {
			pool = append(pool, c)
		}
	}
	if len(untried) == 0 {
		return nil, e.expire(ctx, req, old, "no candidates left")
	}
	if len(pool) == 0 {
		// Untried reviewers exist but are all busy; keep the holder and retry next sweep.
		metrics.ObserveRedistribution(metrics.OutcomeNoCapacity)
		e.log.Debug("redistribution deferred", "request", req.ID, "busy_candidates", len(untried))
		return nil, fmt.Errorf("redistribute %s: %w", req.ID, ErrNoCapacity)
	}

	sort.Slice(pool, func(i, j int) bool {
		a, b := pool[i], pool[j]
		if a.SLAScore != b.SLAScore {
			return a.SLAScore > b.SLAScore
		}
		if a.AverageResponseHours != b.AverageResponseHours {
			return a.AverageResponseHours < b.AverageResponseHours
		}
		return a.ID < b.ID
	})
	best := pool[0]

	now := e.clock.Now()
	next := cloneRequest(req)
	next.Backups = append(next.Backups, old.ID)
	next.AssignedReviewerID = best.ID
	next.AssignedAt = &now
	next.Status = models.RequestStatusAssigned
	next.EscalationLevel++
	next.Redistributed = true

	prev := cloneReviewer(old)
	e.releaseWithPenalty(prev)

	incoming := cloneReviewer(best)
	incoming.Current++

	if err := e.store.Commit(ctx, store.Batch{
		Requests:  []*models.Request{next},
		Reviewers: []*models.Reviewer{prev, incoming},
	}); err != nil {
		return nil, fmt.Errorf("redistribute %s: %w", req.ID, err)
	}
	*req = *next
	metrics.ObserveRedistribution(metrics.OutcomeReassigned)

	e.log.Info("request redistributed",
		"request", req.ID, "from", old.ID, "to", incoming.ID, "escalation_level", req.EscalationLevel)

	e.penalize(ctx, old.ID, "sla_redistributed")
	e.notify(ctx, TemplateRedistributed, RoleRequester, req.RequesterID, req)
	e.notify(ctx, TemplateReassignedAway, RoleReviewer, old.ID, req)
	e.notify(ctx, TemplateAssignedEscalated, RoleReviewer, incoming.ID, req)
	return incoming, nil
}

// expire moves req to timed_out, frees the holder's slot, and issues the
// terminal compensation. It returns ErrExhausted once the transition is
// committed, or the commit error.
func (e *Engine) expire(ctx context.Context, req *models.Request, holder *models.Reviewer, reason string) error {
	next := cloneRequest(req)
	next.Status = models.RequestStatusTimedOut

	prev := cloneReviewer(holder)
	e.releaseWithPenalty(prev)

	if err := e.store.Commit(ctx, store.Batch{
		Requests:  []*models.Request{next},
		Reviewers: []*models.Reviewer{prev},
	}); err != nil {
		return fmt.Errorf("expire %s: %w", req.ID, err)
	}
	*req = *next
	metrics.ObserveRedistribution(metrics.OutcomeExhausted)

	e.log.Warn("request timed out", "request", req.ID, "reviewer", holder.ID,
		"escalation_level", req.EscalationLevel, "reason", reason)

	if _, err := e.gate.TryGrant(ctx, &models.Compensation{
		RequestID:      req.ID,
		ThresholdHours: models.TimeoutThreshold,
		RecipientID:    req.RequesterID,
		Kind:           "sla_timeout",
		Amount:         e.cfg.TimeoutCompensation,
		GrantedAt:      e.clock.Now(),
	}); err != nil {
		e.log.Error("timeout compensation failed", "request", req.ID, "error", err)
	}

	e.penalize(ctx, holder.ID, "sla_timeout")
	e.notify(ctx, TemplateTimedOut, RoleRequester, req.RequesterID, req)
	e.notify(ctx, TemplateReassignedAway, RoleReviewer, holder.ID, req)
	return ErrExhausted
}

// releaseWithPenalty frees one slot and applies the stall penalty.
func (e *Engine) releaseWithPenalty(r *models.Reviewer) {
	if r.Current > 0 {
		r.Current--
	}
	r.SLAScore = clampScore(r.SLAScore - e.cfg.RedistributionPenalty)
	r.CurrentStreak = 0
	r.TimeoutCount++
}
