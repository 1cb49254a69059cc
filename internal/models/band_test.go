package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBandFor(t *testing.T) {
	tests := []struct {
		elapsed time.Duration
		want    Band
	}{
		{0, BandOptimal},
		{6 * time.Hour, BandOptimal},
		{6*time.Hour + time.Second, BandStandard},
		{24 * time.Hour, BandStandard},
		{25 * time.Hour, BandDelayed},
		{48 * time.Hour, BandDelayed},
		{48*time.Hour + time.Minute, BandCritical},
		{500 * time.Hour, BandCritical},
	}
	for _, tt := range tests {
		t.Run(tt.elapsed.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, BandFor(tt.elapsed))
		})
	}
}

func TestBandOrder(t *testing.T) {
	assert.True(t, BandCritical.Later(BandDelayed))
	assert.True(t, BandStandard.Later(BandOptimal))
	assert.False(t, BandOptimal.Later(BandOptimal))
	assert.False(t, BandOptimal.Later(BandCritical))
	assert.Equal(t, "sla_delayed_warning", BandDelayed.Info().Template)
	assert.Equal(t, BandCritical, Band("bogus").Info().Band)
}

func TestRequestHelpers(t *testing.T) {
	created := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	req := &Request{CreatedAt: created, AssignedReviewerID: "rev-b", Backups: []string{"rev-a"}}

	assert.Equal(t, time.Duration(0), req.Elapsed(created.Add(-time.Hour)))
	assert.Equal(t, 2*time.Hour, req.Elapsed(created.Add(2*time.Hour)))
	assert.True(t, req.Tried("rev-a"))
	assert.True(t, req.Tried("rev-b"))
	assert.False(t, req.Tried("rev-c"))
	assert.True(t, RequestStatusInReview.Held())
	assert.False(t, RequestStatusPending.Held())
	assert.Equal(t, "sla:req-1:48", CompensationKey("req-1", 48))
}
