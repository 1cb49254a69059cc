package models

import "time"

// Band is a service-level classification of time elapsed since a request was created.
type Band string

const (
	BandOptimal  Band = "optimal"
	BandStandard Band = "standard"
	BandDelayed  Band = "delayed"
	BandCritical Band = "critical"
)

// BandInfo describes the limit, reviewer reward, and notification template of a band.
type BandInfo struct {
	Band     Band
	MaxHours float64 // upper bound, inclusive; 0 means unbounded
	Reward   int
	Template string
}

// Bands lists every band in order, earliest first.
var Bands = []BandInfo{
	{Band: BandOptimal, MaxHours: 6, Reward: 15, Template: "sla_optimal"},
	{Band: BandStandard, MaxHours: 24, Reward: 10, Template: "sla_standard_reminder"},
	{Band: BandDelayed, MaxHours: 48, Reward: 5, Template: "sla_delayed_warning"},
	{Band: BandCritical, MaxHours: 0, Reward: 0, Template: "sla_critical_escalation"},
}

// BandFor maps an elapsed duration to exactly one band.
func BandFor(elapsed time.Duration) Band {
	hours := elapsed.Hours()
	for _, b := range Bands {
		if b.MaxHours == 0 || hours <= b.MaxHours {
			return b.Band
		}
	}
	return BandCritical
}

// Rank returns the position of b in the band order, or -1 for an unknown band.
func (b Band) Rank() int {
	for i, info := range Bands {
		if info.Band == b {
			return i
		}
	}
	return -1
}

// Later reports whether b comes strictly after other in the band order.
func (b Band) Later(other Band) bool {
	return b.Rank() > other.Rank()
}

// Info returns the table entry for b. Unknown bands map to critical.
func (b Band) Info() BandInfo {
	if r := b.Rank(); r >= 0 {
		return Bands[r]
	}
	return Bands[len(Bands)-1]
}
