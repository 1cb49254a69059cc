package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/revsla/internal/models"
)

func TestAssign_NoCapacity(t *testing.T) {
	h := newHarness(t)
	req := h.submit(t, "user-1")

	assert.Equal(t, models.RequestStatusPending, req.Status)
	assert.Empty(t, req.AssignedReviewerID)

	_, err := h.engine.Assign(context.Background(), req)
	assert.ErrorIs(t, err, ErrNoCapacity)
}

func TestAssign_SkipsInactiveAndFull(t *testing.T) {
	h := newHarness(t)
	h.addReviewer(t, "rev-off", 3, func(r *models.Reviewer) { r.Active = false; r.SLAScore = 100 })
	h.addReviewer(t, "rev-full", 1, func(r *models.Reviewer) { r.Current = 1; r.SLAScore = 100 })
	h.addReviewer(t, "rev-ok", 1)

	req := h.submit(t, "user-1")
	assert.Equal(t, models.RequestStatusAssigned, req.Status)
	assert.Equal(t, "rev-ok", req.AssignedReviewerID)
}

func TestAssign_PicksHighestScore(t *testing.T) {
	h := newHarness(t)
	h.addReviewer(t, "rev-a", 2, func(r *models.Reviewer) { r.SLAScore = 60 })
	h.addReviewer(t, "rev-b", 2, func(r *models.Reviewer) { r.SLAScore = 90 })

	req := h.submit(t, "user-1")
	assert.Equal(t, "rev-b", req.AssignedReviewerID)
	require.NotNil(t, req.AssignedAt)
	assert.True(t, req.AssignedAt.Equal(t0))

	assert.Equal(t, 1, h.reviewer(t, "rev-b").Current)
	assert.Equal(t, 0, h.reviewer(t, "rev-a").Current)
	assert.Contains(t, h.ports.templates("rev-b"), TemplateAssigned)
	assert.Contains(t, h.ports.templates("user-1"), TemplateAssigned)
}

func TestAssign_TieBreaks(t *testing.T) {
	// Responsiveness bottoms out at 50h, so both score the same.
	h := newHarness(t)
	h.addReviewer(t, "rev-a", 2, func(r *models.Reviewer) { r.AverageResponseHours = 60 })
	h.addReviewer(t, "rev-b", 2, func(r *models.Reviewer) { r.AverageResponseHours = 55 })

	req := h.submit(t, "user-1")
	assert.Equal(t, "rev-b", req.AssignedReviewerID, "equal score goes to the faster reviewer")

	h2 := newHarness(t)
	h2.addReviewer(t, "rev-z", 2)
	h2.addReviewer(t, "rev-m", 2)
	req2 := h2.submit(t, "user-1")
	assert.Equal(t, "rev-m", req2.AssignedReviewerID, "full tie goes to the lower id")
}

func TestAssign_RejectsNonPending(t *testing.T) {
	h := newHarness(t)
	h.addReviewer(t, "rev-a", 2)
	req := h.submit(t, "user-1")
	require.Equal(t, models.RequestStatusAssigned, req.Status)

	_, err := h.engine.Assign(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSubmit_RequiresRequester(t *testing.T) {
	h := newHarness(t)
	err := h.engine.Submit(context.Background(), &models.Request{})
	assert.Error(t, err)
}

func TestAssign_CapacityNeverExceeded(t *testing.T) {
	h := newHarness(t)
	h.addReviewer(t, "rev-a", 2)
	h.addReviewer(t, "rev-b", 2)

	for i := 0; i < 6; i++ {
		h.submit(t, "user-1")
	}
	h.requireCapacityConsistent(t)

	pending, err := h.store.ListRequests(context.Background(), openFilter(models.RequestStatusPending))
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	h.sweepAt(t, time.Hour)
	h.requireCapacityConsistent(t)
}
