package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/revsla/internal/models"
)

func TestStatus(t *testing.T) {
	h := newHarness(t)
	h.addReviewer(t, "rev-a", 2)
	h.addReviewer(t, "rev-b", 1, func(r *models.Reviewer) { r.Active = false })

	first := h.submit(t, "user-1")
	h.clock.Set(t0.Add(time.Hour))
	h.submit(t, "user-2")
	h.clock.Set(t0.Add(2 * time.Hour))
	h.submit(t, "user-3")

	st, err := h.engine.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, st.ByStatus[models.RequestStatusAssigned])
	assert.Equal(t, 1, st.ByStatus[models.RequestStatusPending])
	assert.Equal(t, 3, st.OpenByBand[models.BandOptimal])
	assert.Equal(t, 0, st.FreeSlots)
	require.Len(t, st.Reviewers, 2)
	assert.Equal(t, 2, st.Reviewers[0].Current)
	require.NotNil(t, st.OldestOpen)
	assert.Equal(t, first.ID, st.OldestOpen.ID)
	assert.Zero(t, st.Compensated)
}
