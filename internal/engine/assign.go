package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/joescharf/revsla/internal/metrics"
	"github.com/joescharf/revsla/internal/models"
	"github.com/joescharf/revsla/internal/store"
)

// Submit records a new pending request and tries to assign it right away.
// Running out of capacity is not an error; the sweeper retries later.
func (e *Engine) Submit(ctx context.Context, req *models.Request) error {
	if req.RequesterID == "" {
		return fmt.Errorf("submit request: requester is required")
	}
	req.Status = models.RequestStatusPending
	req.CurrentBand = models.BandOptimal
	req.AssignedReviewerID = ""
	req.Backups = nil
	req.EscalationLevel = 0
	req.Redistributed = false
	req.CreatedAt = e.clock.Now()

	if err := e.store.CreateRequest(ctx, req); err != nil {
		return err
	}

	_, err := e.Assign(ctx, req)
	switch {
	case err == nil, errors.Is(err, ErrNoCapacity), errors.Is(err, store.ErrConflict):
		return nil
	default:
		return err
	}
}

// Assign picks the best reviewer with spare capacity for a pending request
// and commits the reviewer's slot together with the request's transition.
// On success req is updated in place.
func (e *Engine) Assign(ctx context.Context, req *models.Request) (*models.Reviewer, error) {
	if req.Status != models.RequestStatusPending {
		return nil, fmt.Errorf("assign %s in status %s: %w", req.ID, req.Status, ErrInvalidTransition)
	}

	candidates, err := e.store.ListReviewers(ctx, store.ReviewerListFilter{WithCapacity: true})
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	if len(candidates) == 0 {
		metrics.ObserveAssignment(metrics.OutcomeNoCapacity)
		return nil, ErrNoCapacity
	}

	now := e.clock.Now()
	best := bestMatch(candidates, req, now)

	next := cloneRequest(req)
	next.Status = models.RequestStatusAssigned
	next.AssignedReviewerID = best.ID
	next.AssignedAt = &now

	reviewer := cloneReviewer(best)
	reviewer.Current++

	if err := e.store.Commit(ctx, store.Batch{
		Requests:  []*models.Request{next},
		Reviewers: []*models.Reviewer{reviewer},
	}); err != nil {
		if errors.Is(err, store.ErrConflict) {
			metrics.ObserveAssignment(metrics.OutcomeConflict)
		}
		return nil, fmt.Errorf("assign %s: %w", req.ID, err)
	}
	*req = *next
	metrics.ObserveAssignment(metrics.OutcomeAssigned)

	e.log.Info("request assigned", "request", req.ID, "reviewer", reviewer.ID, "score", Score(best, req, now))
	e.notify(ctx, TemplateAssigned, RoleRequester, req.RequesterID, req)
	e.notify(ctx, TemplateAssigned, RoleReviewer, reviewer.ID, req)
	return reviewer, nil
}

// bestMatch returns the highest scoring candidate. Ties go to the lower
// average response time, then to the lower id.
func bestMatch(candidates []*models.Reviewer, req *models.Request, now time.Time) *models.Reviewer {
	type scored struct {
		r     *models.Reviewer
		score float64
	}
	ranked := make([]scored, len(candidates))
	for i, c := range candidates {
		ranked[i] = scored{r: c, score: Score(c, req, now)}
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.r.AverageResponseHours != b.r.AverageResponseHours {
			return a.r.AverageResponseHours < b.r.AverageResponseHours
		}
		return a.r.ID < b.r.ID
	})
	return ranked[0].r
}
