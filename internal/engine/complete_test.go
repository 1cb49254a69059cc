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

func TestComplete_UpdatesReviewerStats(t *testing.T) {
	h := newHarness(t)
	h.addReviewer(t, "rev-a", 2)
	req := h.submit(t, "user-1")

	h.clock.Set(t0.Add(3 * time.Hour))
	done, err := h.engine.Complete(context.Background(), req.ID, "rev-a")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, t0.Add(3*time.Hour), *done.CompletedAt)

	r := h.reviewer(t, "rev-a")
	assert.Equal(t, 0, r.Current)
	assert.InDelta(t, 72.0, r.SLAScore, 0.001)
	assert.Equal(t, 1, r.CurrentStreak)
	assert.InDelta(t, 3.0, r.AverageResponseHours, 0.001)
	assert.Equal(t, 1, r.OptimalCount)
	require.NotNil(t, r.LastActivity)

	rewards := h.ports.grantsOf("review_reward")
	require.Len(t, rewards, 1)
	assert.Equal(t, grant{UserID: "rev-a", Kind: "review_reward", Amount: 15, Key: "review:" + req.ID}, rewards[0])
	assert.Contains(t, h.ports.rewards, "rev-a:sla_optimal")
	assert.Contains(t, h.ports.templates("user-1"), TemplateCompleted)
}

func TestComplete_SlowReviewResetsStreak(t *testing.T) {
	h := newHarness(t)
	h.addReviewer(t, "rev-a", 2, func(r *models.Reviewer) {
		r.CurrentStreak = 5
		r.OptimalCount = 1
		r.AverageResponseHours = 2
	})
	req := h.submit(t, "user-1")

	h.clock.Set(t0.Add(30 * time.Hour))
	_, err := h.engine.Complete(context.Background(), req.ID, "rev-a")
	require.NoError(t, err)

	r := h.reviewer(t, "rev-a")
	assert.Equal(t, 0, r.CurrentStreak)
	assert.Equal(t, 1, r.DelayedCount)
	assert.InDelta(t, 16.0, r.AverageResponseHours, 0.001)
	assert.InDelta(t, 68.0, r.SLAScore, 0.001)
	assert.Len(t, h.ports.grantsOf("review_reward"), 1)
	assert.Empty(t, h.ports.rewards)
}

func TestComplete_CriticalReviewCountedSeparately(t *testing.T) {
	h := newHarness(t)
	h.addReviewer(t, "rev-a", 2, func(r *models.Reviewer) { r.DelayedCount = 1; r.AverageResponseHours = 30 })
	req := h.submit(t, "user-1")

	h.clock.Set(t0.Add(60 * time.Hour))
	_, err := h.engine.Complete(context.Background(), req.ID, "rev-a")
	require.NoError(t, err)

	r := h.reviewer(t, "rev-a")
	assert.Equal(t, 1, r.CriticalCount)
	assert.Equal(t, 1, r.DelayedCount)
	assert.Equal(t, 2, r.CompletedCount())
	assert.InDelta(t, 45.0, r.AverageResponseHours, 0.001)
	assert.InDelta(t, 65.0, r.SLAScore, 0.001)
	assert.Empty(t, h.ports.grantsOf("review_reward"))
}

func TestComplete_UsesHoldTimeAfterRedistribution(t *testing.T) {
	h := newHarness(t)
	h.addReviewer(t, "rev-a", 1)
	h.addReviewer(t, "rev-b", 1)
	req := h.submit(t, "user-1")

	h.sweepAt(t, 49*time.Hour)
	require.Equal(t, "rev-b", h.request(t, req.ID).AssignedReviewerID)

	h.clock.Set(t0.Add(51 * time.Hour))
	done, err := h.engine.Complete(context.Background(), req.ID, "rev-b")
	require.NoError(t, err)
	assert.Equal(t, models.BandCritical, done.CurrentBand)

	r := h.reviewer(t, "rev-b")
	assert.Equal(t, 1, r.OptimalCount)
	assert.Equal(t, 1, r.CurrentStreak)
	h.requireCapacityConsistent(t)
}

func TestComplete_RejectsOtherReviewer(t *testing.T) {
	h := newHarness(t)
	h.addReviewer(t, "rev-a", 1)
	req := h.submit(t, "user-1")

	_, err := h.engine.Complete(context.Background(), req.ID, "rev-z")
	assert.ErrorIs(t, err, ErrNotAssignee)
	assert.Equal(t, models.RequestStatusAssigned, h.request(t, req.ID).Status)
}

func TestComplete_InvalidTransitions(t *testing.T) {
	h := newHarness(t)
	req := h.submit(t, "user-1")

	_, err := h.engine.Complete(context.Background(), req.ID, "rev-a")
	assert.ErrorIs(t, err, ErrInvalidTransition, "pending request")

	h.addReviewer(t, "rev-a", 1)
	h.sweepAt(t, time.Minute)
	_, err = h.engine.Complete(context.Background(), req.ID, "rev-a")
	require.NoError(t, err)

	_, err = h.engine.Complete(context.Background(), req.ID, "rev-a")
	assert.ErrorIs(t, err, ErrInvalidTransition, "already completed")

	_, err = h.engine.Complete(context.Background(), "missing", "rev-a")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStartReview(t *testing.T) {
	h := newHarness(t)
	h.addReviewer(t, "rev-a", 1)
	req := h.submit(t, "user-1")

	_, err := h.engine.StartReview(context.Background(), req.ID, "rev-b")
	assert.ErrorIs(t, err, ErrNotAssignee)

	started, err := h.engine.StartReview(context.Background(), req.ID, "rev-a")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusInReview, started.Status)

	_, err = h.engine.StartReview(context.Background(), req.ID, "rev-a")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	h.clock.Set(t0.Add(2 * time.Hour))
	_, err = h.engine.Complete(context.Background(), req.ID, "rev-a")
	require.NoError(t, err)
	h.requireCapacityConsistent(t)
}
