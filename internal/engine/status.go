package engine

import (
	"context"
	"fmt"

	"github.com/joescharf/revsla/internal/models"
	"github.com/joescharf/revsla/internal/store"
)

// ReviewerLoad is one reviewer's slot usage.
type ReviewerLoad struct {
	ID            string
	Name          string
	Active        bool
	Current       int
	MaxConcurrent int
	SLAScore      float64
}

// Status summarises the pool and the open queue.
type Status struct {
	ByStatus    map[models.RequestStatus]int
	OpenByBand  map[models.Band]int
	Reviewers   []ReviewerLoad
	FreeSlots   int
	OldestOpen  *models.Request
	Compensated int
}

// Status counts requests by status and open requests by band, and reports
// per-reviewer load.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	requests, err := e.store.ListRequests(ctx, store.RequestListFilter{})
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	reviewers, err := e.store.ListReviewers(ctx, store.ReviewerListFilter{})
	if err != nil {
		return nil, fmt.Errorf("list reviewers: %w", err)
	}
	comps, err := e.store.ListCompensations(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list compensations: %w", err)
	}

	st := &Status{
		ByStatus:    make(map[models.RequestStatus]int),
		OpenByBand:  make(map[models.Band]int),
		Compensated: len(comps),
	}
	for _, req := range requests {
		st.ByStatus[req.Status]++
		if req.Status.Terminal() {
			continue
		}
		st.OpenByBand[req.CurrentBand]++
		if st.OldestOpen == nil || req.CreatedAt.Before(st.OldestOpen.CreatedAt) {
			st.OldestOpen = req
		}
	}
	for _, r := range reviewers {
		st.Reviewers = append(st.Reviewers, ReviewerLoad{
			ID: r.ID, Name: r.Name, Active: r.Active,
			Current: r.Current, MaxConcurrent: r.MaxConcurrent, SLAScore: r.SLAScore,
		})
		if r.HasCapacity() {
			st.FreeSlots += r.MaxConcurrent - r.Current
		}
	}
	return st, nil
}
