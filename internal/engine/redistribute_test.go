package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/revsla/internal/models"
	"github.com/joescharf/revsla/internal/store"
)

func TestRedistribute_MovesToMostReliable(t *testing.T) {
	h := newHarness(t)
	h.addReviewer(t, "rev-a", 2, func(r *models.Reviewer) { r.SLAScore = 95; r.CurrentStreak = 4 })
	h.addReviewer(t, "rev-b", 2, func(r *models.Reviewer) { r.SLAScore = 60 })
	h.addReviewer(t, "rev-c", 2, func(r *models.Reviewer) { r.SLAScore = 80 })

	req := h.submit(t, "user-1")
	require.Equal(t, "rev-a", req.AssignedReviewerID)

	h.clock.Set(t0.Add(49 * time.Hour))
	next, err := h.engine.Redistribute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "rev-c", next.ID)

	assert.Equal(t, "rev-c", req.AssignedReviewerID)
	assert.Equal(t, []string{"rev-a"}, req.Backups)
	assert.Equal(t, 1, req.EscalationLevel)
	assert.True(t, req.Redistributed)
	assert.Equal(t, models.RequestStatusAssigned, req.Status)

	old := h.reviewer(t, "rev-a")
	assert.Equal(t, 0, old.Current)
	assert.InDelta(t, 85.0, old.SLAScore, 0.001)
	assert.Equal(t, 0, old.CurrentStreak)
	assert.Equal(t, 1, old.TimeoutCount)
	assert.Equal(t, 1, h.reviewer(t, "rev-c").Current)

	assert.Contains(t, h.ports.penalties, "rev-a:sla_redistributed")
	assert.Contains(t, h.ports.templates("user-1"), TemplateRedistributed)
	assert.Contains(t, h.ports.templates("rev-a"), TemplateReassignedAway)
	assert.Contains(t, h.ports.templates("rev-c"), TemplateAssignedEscalated)
	h.requireCapacityConsistent(t)
}

func TestRedistribute_NeverReturnsToTriedReviewers(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxHops = 10 })
	for _, id := range []string{"rev-a", "rev-b", "rev-c", "rev-d"} {
		h.addReviewer(t, id, 3)
	}
	req := h.submit(t, "user-1")

	seen := map[string]bool{req.AssignedReviewerID: true}
	for i := 0; i < 3; i++ {
		prevHolder := req.AssignedReviewerID
		backups := append([]string(nil), req.Backups...)

		next, err := h.engine.Redistribute(context.Background(), req)
		require.NoError(t, err)
		assert.NotEqual(t, prevHolder, next.ID)
		assert.NotContains(t, backups, next.ID)
		assert.False(t, seen[next.ID], "reviewer %s reused", next.ID)
		seen[next.ID] = true
	}

	_, err := h.engine.Redistribute(context.Background(), req)
	assert.ErrorIs(t, err, ErrExhausted, "all four reviewers tried")
	assert.Equal(t, models.RequestStatusTimedOut, h.request(t, req.ID).Status)
	h.requireCapacityConsistent(t)
}

func TestRedistribute_HopBound(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxHops = 1 })
	for _, id := range []string{"rev-a", "rev-b", "rev-c"} {
		h.addReviewer(t, id, 3)
	}
	req := h.submit(t, "user-1")

	_, err := h.engine.Redistribute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, req.EscalationLevel)

	_, err = h.engine.Redistribute(context.Background(), req)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, models.RequestStatusTimedOut, req.Status)
	assert.Equal(t, 1, req.EscalationLevel, "exhaustion does not count as a hop")

	comps, err := h.store.ListCompensations(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, comps, 1)
	assert.Equal(t, models.TimeoutThreshold, comps[0].ThresholdHours)
	assert.Len(t, h.ports.grantsOf("sla_timeout"), 1)
	assert.Contains(t, h.ports.templates("user-1"), TemplateTimedOut)
}

func TestRedistribute_NoCandidatesTimesOut(t *testing.T) {
	h := newHarness(t)
	h.addReviewer(t, "rev-a", 1)
	req := h.submit(t, "user-1")

	_, err := h.engine.Redistribute(context.Background(), req)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 0, h.reviewer(t, "rev-a").Current)
}

func TestRedistribute_BusyCandidatesDefer(t *testing.T) {
	h := newHarness(t)
	h.addReviewer(t, "rev-a", 1)
	h.addReviewer(t, "rev-b", 1)
	first := h.submit(t, "user-1")
	require.Equal(t, "rev-a", first.AssignedReviewerID)
	second := h.submit(t, "user-2")
	require.Equal(t, "rev-b", second.AssignedReviewerID)

	_, err := h.engine.Redistribute(context.Background(), first)
	assert.ErrorIs(t, err, ErrNoCapacity)
	assert.NotErrorIs(t, err, ErrExhausted)

	got := h.request(t, first.ID)
	assert.Equal(t, models.RequestStatusAssigned, got.Status)
	assert.Equal(t, "rev-a", got.AssignedReviewerID)
	assert.Equal(t, 0, got.EscalationLevel)
	assert.Empty(t, got.Backups)
	assert.InDelta(t, float64(models.DefaultSLAScore), h.reviewer(t, "rev-a").SLAScore, 0.001)
	assert.Empty(t, h.ports.grantsOf("sla_timeout"))
	h.requireCapacityConsistent(t)
}

func TestRedistribute_IgnoresInactiveReviewers(t *testing.T) {
	h := newHarness(t)
	h.addReviewer(t, "rev-a", 1)
	h.addReviewer(t, "rev-b", 1, func(r *models.Reviewer) { r.Active = false })
	req := h.submit(t, "user-1")

	_, err := h.engine.Redistribute(context.Background(), req)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, models.RequestStatusTimedOut, req.Status)
}

func TestRedistribute_InvalidStatus(t *testing.T) {
	h := newHarness(t)
	req := h.submit(t, "user-1")

	_, err := h.engine.Redistribute(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRedistribute_LosesToCompletion(t *testing.T) {
	h := newHarness(t)
	h.addReviewer(t, "rev-a", 1)
	h.addReviewer(t, "rev-b", 1)
	req := h.submit(t, "user-1")

	stale := h.request(t, req.ID)
	_, err := h.engine.Complete(context.Background(), req.ID, req.AssignedReviewerID)
	require.NoError(t, err)

	_, err = h.engine.Redistribute(context.Background(), stale)
	assert.ErrorIs(t, err, store.ErrConflict)

	got := h.request(t, req.ID)
	assert.Equal(t, models.RequestStatusCompleted, got.Status)
	assert.Equal(t, 0, got.EscalationLevel)
	h.requireCapacityConsistent(t)
}
