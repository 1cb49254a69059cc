package models

import "time"

// DefaultSLAScore is assigned to reviewers without any history.
const DefaultSLAScore = 70

// Reviewer is a member of the review pool with capacity and performance history.
type Reviewer struct {
	ID     string
	Name   string
	Active bool

	MaxConcurrent int
	Current       int

	Timezone           string // IANA name, empty means UTC
	PreferredStartHour int    // local hour, 0-23
	PreferredEndHour   int    // local hour, exclusive; equal to start means any hour
	Specialties        []string

	SLAScore             float64 // 0-100
	AverageResponseHours float64
	CurrentStreak        int // consecutive reviews completed in under 24h
	OptimalCount         int
	StandardCount        int
	DelayedCount         int
	CriticalCount        int
	TimeoutCount         int
	LastActivity         *time.Time

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasCapacity reports whether the reviewer can take another request.
func (r *Reviewer) HasCapacity() bool {
	return r.Active && r.Current < r.MaxConcurrent
}

// CompletedCount is the number of reviews finished inside any band.
func (r *Reviewer) CompletedCount() int {
	return r.OptimalCount + r.StandardCount + r.DelayedCount + r.CriticalCount
}
