package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels.
const (
	OutcomeAssigned   = "assigned"
	OutcomeNoCapacity = "no_capacity"
	OutcomeConflict   = "conflict"
	OutcomeReassigned = "reassigned"
	OutcomeExhausted  = "exhausted"
)

var (
	sweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "revsla",
			Name:      "sweeps_total",
			Help:      "Total number of completed sweeps.",
		},
	)

	sweepDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "revsla",
			Name:      "sweep_seconds",
			Help:      "Sweep latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	openRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "revsla",
			Name:      "open_requests",
			Help:      "Open requests seen by the last sweep.",
		},
	)

	conflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "revsla",
			Name:      "sweep_conflicts_total",
			Help:      "Writes abandoned by the sweeper because a request changed underneath it.",
		},
	)

	assignmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "revsla",
			Name:      "assignments_total",
			Help:      "Assignment attempts, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	redistributionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "revsla",
			Name:      "redistributions_total",
			Help:      "Redistributions, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	bandChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "revsla",
			Name:      "band_changes_total",
			Help:      "Service-level band transitions, partitioned by target band.",
		},
		[]string{"band"},
	)

	compensationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "revsla",
			Name:      "compensations_total",
			Help:      "Compensations granted, partitioned by kind.",
		},
		[]string{"kind"},
	)

	completionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "revsla",
			Name:      "completions_total",
			Help:      "Completed reviews, partitioned by the band of the reviewer's hold time.",
		},
		[]string{"band"},
	)

	dispatchDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "revsla",
			Name:      "dispatch_dropped_total",
			Help:      "Port calls dropped because the dispatch queue was full.",
		},
	)

	dispatchFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "revsla",
			Name:      "dispatch_failed_total",
			Help:      "Port calls that failed after all retries, partitioned by event type.",
		},
		[]string{"type"},
	)
)

// Register attaches revsla collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		sweepsTotal,
		sweepDurationSeconds,
		openRequests,
		conflictsTotal,
		assignmentsTotal,
		redistributionsTotal,
		bandChangesTotal,
		compensationsTotal,
		completionsTotal,
		dispatchDroppedTotal,
		dispatchFailedTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveSweep records one sweep.
func ObserveSweep(duration time.Duration, scanned, conflicts int) {
	sweepsTotal.Inc()
	if duration < 0 {
		duration = 0
	}
	sweepDurationSeconds.Observe(duration.Seconds())
	openRequests.Set(float64(scanned))
	conflictsTotal.Add(float64(conflicts))
}

func ObserveAssignment(outcome string)     { assignmentsTotal.WithLabelValues(outcome).Inc() }
func ObserveRedistribution(outcome string) { redistributionsTotal.WithLabelValues(outcome).Inc() }
func ObserveBandChange(band string)        { bandChangesTotal.WithLabelValues(band).Inc() }
func ObserveCompensation(kind string)      { compensationsTotal.WithLabelValues(kind).Inc() }
func ObserveCompletion(band string)        { completionsTotal.WithLabelValues(band).Inc() }
func ObserveDispatchDropped()              { dispatchDroppedTotal.Inc() }
func ObserveDispatchFailed(kind string)    { dispatchFailedTotal.WithLabelValues(kind).Inc() }
