package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/joescharf/revsla/internal/models"
)

func TestScore_Maximum(t *testing.T) {
	r := &models.Reviewer{SLAScore: 100, AverageResponseHours: 0, CurrentStreak: 10}
	b := Breakdown(r, &models.Request{}, t0)

	assert.InDelta(t, 40.0, b.Reliability, 0.001)
	assert.InDelta(t, 30.0, b.Responsiveness, 0.001)
	assert.InDelta(t, 20.0, b.Consistency, 0.001)
	assert.InDelta(t, 10.0, b.Availability, 0.001)
	assert.InDelta(t, 100.0, b.Total, 0.001)
}

func TestScore_Weighted(t *testing.T) {
	r := &models.Reviewer{
		SLAScore:             70,
		AverageResponseHours: 10,
		CurrentStreak:        3,
		PreferredStartHour:   9,
		PreferredEndHour:     17,
	}
	now := time.Date(2026, 1, 5, 20, 0, 0, 0, time.UTC)

	// 70*0.4 + (50-10)*2*0.3 + 6*5*0.2 + 0
	assert.InDelta(t, 58.0, Score(r, &models.Request{}, now), 0.001)
}

func TestScore_Floors(t *testing.T) {
	r := &models.Reviewer{
		SLAScore:             -5,
		AverageResponseHours: 80,
		CurrentStreak:        0,
		PreferredStartHour:   9,
		PreferredEndHour:     10,
	}
	now := time.Date(2026, 1, 5, 20, 0, 0, 0, time.UTC)
	assert.InDelta(t, 0.0, Score(r, nil, now), 0.001)
}

func TestScore_StreakCapped(t *testing.T) {
	a := &models.Reviewer{CurrentStreak: 10}
	b := &models.Reviewer{CurrentStreak: 50}
	assert.Equal(t, Breakdown(a, nil, t0).Consistency, Breakdown(b, nil, t0).Consistency)
}

func TestScore_SpecialtyCountsAsAvailability(t *testing.T) {
	r := &models.Reviewer{PreferredStartHour: 1, PreferredEndHour: 2, Specialties: []string{"Essays"}}
	now := time.Date(2026, 1, 5, 20, 0, 0, 0, time.UTC)

	assert.InDelta(t, 0.0, Breakdown(r, &models.Request{Category: "code"}, now).Availability, 0.001)
	assert.InDelta(t, 10.0, Breakdown(r, &models.Request{Category: "essays"}, now).Availability, 0.001)
}

func TestInPreferredHours(t *testing.T) {
	at := func(hour int) time.Time { return time.Date(2026, 1, 5, hour, 30, 0, 0, time.UTC) }

	tests := []struct {
		name     string
		tz       string
		start    int
		end      int
		now      time.Time
		expected bool
	}{
		{"any hour", "", 0, 0, at(3), true},
		{"inside day window", "", 9, 17, at(10), true},
		{"end is exclusive", "", 9, 17, at(17), false},
		{"wrapping window late", "", 22, 6, at(23), true},
		{"wrapping window early", "", 22, 6, at(5), true},
		{"wrapping window midday", "", 22, 6, at(12), false},
		{"timezone shifts hour", "Asia/Tokyo", 9, 17, at(1), true},
		{"timezone outside", "Asia/Tokyo", 9, 17, at(12), false},
		{"unknown timezone is UTC", "Nowhere/Land", 9, 17, at(10), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &models.Reviewer{Timezone: tt.tz, PreferredStartHour: tt.start, PreferredEndHour: tt.end}
			assert.Equal(t, tt.expected, InPreferredHours(r, tt.now))
		})
	}
}
