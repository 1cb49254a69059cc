package engine

import (
	"slices"
	"strings"
	"time"

	"github.com/joescharf/revsla/internal/models"
)

// Score weights. Every component is normalised to 0-100 before weighting,
// so the total is also 0-100.
const (
	weightReliability    = 0.4
	weightResponsiveness = 0.3
	weightConsistency    = 0.2
	weightAvailability   = 0.1

	responseCeilingHours = 50 // responsiveness reaches zero at this average
	streakCap            = 20 // streak*2 is capped here
	availabilityBonus    = 10
)

// ScoreBreakdown holds the weighted components of a match score.
type ScoreBreakdown struct {
	Reliability    float64
	Responsiveness float64
	Consistency    float64
	Availability   float64
	Total          float64
}

// Score computes how well reviewer r fits request req at time now.
func Score(r *models.Reviewer, req *models.Request, now time.Time) float64 {
	return Breakdown(r, req, now).Total
}

// Breakdown computes the score and its components.
func Breakdown(r *models.Reviewer, req *models.Request, now time.Time) ScoreBreakdown {
	b := ScoreBreakdown{}

	// Reliability (40%)
	b.Reliability = clampScore(r.SLAScore) * weightReliability

	// Responsiveness (30%): 0-50 bonus scaled to 0-100
	b.Responsiveness = max(0, responseCeilingHours-r.AverageResponseHours) * 2 * weightResponsiveness

	// Consistency (20%): 0-20 bonus scaled to 0-100
	b.Consistency = float64(min(r.CurrentStreak*2, streakCap)) * 5 * weightConsistency

	// Availability (10%): 0-10 bonus scaled to 0-100
	if InPreferredHours(r, now) || specialtyMatch(r, req) {
		b.Availability = availabilityBonus * 10 * weightAvailability
	}

	b.Total = b.Reliability + b.Responsiveness + b.Consistency + b.Availability
	return b
}

// InPreferredHours reports whether now falls inside the reviewer's preferred
// local hours. Equal start and end hours mean any hour. An unknown timezone
// is treated as UTC.
func InPreferredHours(r *models.Reviewer, now time.Time) bool {
	start, end := r.PreferredStartHour, r.PreferredEndHour
	if start == end {
		return true
	}

	loc := time.UTC
	if r.Timezone != "" {
		if l, err := time.LoadLocation(r.Timezone); err == nil {
			loc = l
		}
	}
	hour := now.In(loc).Hour()

	if start < end {
		return hour >= start && hour < end
	}
	// Window wraps midnight, e.g. 22-06.
	return hour >= start || hour < end
}

func specialtyMatch(r *models.Reviewer, req *models.Request) bool {
	if req == nil || req.Category == "" {
		return false
	}
	return slices.ContainsFunc(r.Specialties, func(s string) bool {
		return strings.EqualFold(s, req.Category)
	})
}
