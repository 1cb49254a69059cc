package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/joescharf/revsla/internal/metrics"
	"github.com/joescharf/revsla/internal/models"
	"github.com/joescharf/revsla/internal/store"
)

// SLA score adjustments applied when a reviewer completes a review, by the
// band of the time they held it.
var completionAdjustment = map[models.Band]float64{
	models.BandOptimal:  2,
	models.BandStandard: 1,
	models.BandDelayed:  -2,
	models.BandCritical: -5,
}

const streakLimit = 24 * time.Hour

// StartReview moves an assigned request into review. Only the assignee may start it.
func (e *Engine) StartReview(ctx context.Context, requestID, reviewerID string) (*models.Request, error) {
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != models.RequestStatusAssigned {
		return nil, fmt.Errorf("start %s in status %s: %w", req.ID, req.Status, ErrInvalidTransition)
	}
	if req.AssignedReviewerID != reviewerID {
		return nil, fmt.Errorf("start %s by %s: %w", req.ID, reviewerID, ErrNotAssignee)
	}

	next := cloneRequest(req)
	next.Status = models.RequestStatusInReview
	if err := e.store.UpdateRequest(ctx, next); err != nil {
		return nil, fmt.Errorf("start %s: %w", req.ID, err)
	}
	e.log.Info("review started", "request", req.ID, "reviewer", reviewerID)
	return next, nil
}

// Complete finishes a held request on behalf of its assignee, frees the
// reviewer's slot, and folds the review into the reviewer's statistics. A
// completion that loses a race with the sweeper returns store.ErrConflict.
func (e *Engine) Complete(ctx context.Context, requestID, reviewerID string) (*models.Request, error) {
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !req.Status.Held() {
		return nil, fmt.Errorf("complete %s in status %s: %w", req.ID, req.Status, ErrInvalidTransition)
	}
	if req.AssignedReviewerID != reviewerID {
		return nil, fmt.Errorf("complete %s by %s: %w", req.ID, reviewerID, ErrNotAssignee)
	}

	reviewer, err := e.store.GetReviewer(ctx, reviewerID)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	next := cloneRequest(req)
	next.Status = models.RequestStatusCompleted
	next.CompletedAt = &now
	if b := models.BandFor(req.Elapsed(now)); b.Later(next.CurrentBand) {
		next.CurrentBand = b
	}

	held := req.Elapsed(now)
	if req.AssignedAt != nil && !now.Before(*req.AssignedAt) {
		held = now.Sub(*req.AssignedAt)
	}
	band := models.BandFor(held)

	stats := cloneReviewer(reviewer)
	recordCompletion(stats, held, band, now)

	if err := e.store.Commit(ctx, store.Batch{
		Requests:  []*models.Request{next},
		Reviewers: []*models.Reviewer{stats},
	}); err != nil {
		return nil, fmt.Errorf("complete %s: %w", req.ID, err)
	}
	metrics.ObserveCompletion(string(band))

	e.log.Info("review completed", "request", next.ID, "reviewer", reviewerID,
		"held_hours", held.Hours(), "band", band)

	if reward := band.Info().Reward; reward > 0 {
		if err := e.rewards.GrantCompensation(ctx, reviewerID, "review_reward", reward, "review:"+next.ID); err != nil {
			e.log.Warn("reviewer reward failed", "request", next.ID, "reviewer", reviewerID, "error", err)
		}
	}
	if band == models.BandOptimal || band == models.BandStandard {
		if err := e.reputation.RewardReviewer(ctx, reviewerID, "sla_"+string(band)); err != nil {
			e.log.Warn("reputation reward failed", "reviewer", reviewerID, "error", err)
		}
	}
	e.notify(ctx, TemplateCompleted, RoleRequester, next.RequesterID, next)
	return next, nil
}

// recordCompletion updates reviewer statistics for one finished review.
func recordCompletion(r *models.Reviewer, held time.Duration, band models.Band, now time.Time) {
	n := float64(r.CompletedCount())
	r.AverageResponseHours = (r.AverageResponseHours*n + held.Hours()) / (n + 1)

	if held < streakLimit {
		r.CurrentStreak++
	} else {
		r.CurrentStreak = 0
	}

	switch band {
	case models.BandOptimal:
		r.OptimalCount++
	case models.BandStandard:
		r.StandardCount++
	case models.BandDelayed:
		r.DelayedCount++
	default:
		r.CriticalCount++
	}

	r.SLAScore = clampScore(r.SLAScore + completionAdjustment[band])
	if r.Current > 0 {
		r.Current--
	}
	r.LastActivity = &now
}
