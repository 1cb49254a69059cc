package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joescharf/revsla/internal/metrics"
	"github.com/joescharf/revsla/internal/models"
	"github.com/joescharf/revsla/internal/store"
)

// SweepReport summarises one pass over the open requests.
type SweepReport struct {
	At            time.Time `json:"at"`
	Scanned       int       `json:"scanned"`
	Assigned      int       `json:"assigned"`
	NoCapacity    int       `json:"no_capacity"`
	BandChanges   int       `json:"band_changes"`
	Redistributed int       `json:"redistributed"`
	TimedOut      int       `json:"timed_out"`
	Compensations int       `json:"compensations"`
	Conflicts     int       `json:"conflicts"`
	Errors        int       `json:"errors"`
}

// Run sweeps once immediately and then on every tick of the configured
// interval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.cfg.SweepInterval
	if interval <= 0 {
		interval = DefaultConfig().SweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.log.Info("sweeper started", "interval", interval)
	for {
		if _, err := e.Sweep(ctx); err != nil {
			e.log.Error("sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			e.log.Info("sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep makes one pass over every open request. Conflicting writes are
// abandoned until the next sweep; per-request failures are counted, not returned.
func (e *Engine) Sweep(ctx context.Context) (*SweepReport, error) {
	start := time.Now()
	now := e.clock.Now()
	report := &SweepReport{At: now}

	requests, err := e.store.ListRequests(ctx, store.RequestListFilter{Statuses: models.OpenStatuses})
	if err != nil {
		return nil, fmt.Errorf("list open requests: %w", err)
	}

	for _, req := range requests {
		if ctx.Err() != nil {
			break
		}
		report.Scanned++
		e.sweepRequest(ctx, req, now, report)
	}

	metrics.ObserveSweep(time.Since(start), report.Scanned, report.Conflicts)
	e.log.Debug("sweep finished", "scanned", report.Scanned, "assigned", report.Assigned,
		"band_changes", report.BandChanges, "redistributed", report.Redistributed,
		"timed_out", report.TimedOut, "compensations", report.Compensations, "conflicts", report.Conflicts)
	return report, nil
}

func (e *Engine) sweepRequest(ctx context.Context, req *models.Request, now time.Time, report *SweepReport) {
	if req.Status == models.RequestStatusPending {
		_, err := e.Assign(ctx, req)
		switch {
		case err == nil:
			report.Assigned++
		case errors.Is(err, ErrNoCapacity):
			report.NoCapacity++
			if !e.noticeDelay(ctx, req, now, report) {
				return
			}
		default:
			e.tally(req, err, report)
			return
		}
	}

	if !e.advanceBand(ctx, req, now, report) {
		return
	}

	if e.shouldRedistribute(req, now) {
		_, err := e.Redistribute(ctx, req)
		switch {
		case err == nil:
			report.Redistributed++
		case errors.Is(err, ErrExhausted):
			report.TimedOut++
		case errors.Is(err, ErrNoCapacity):
			report.NoCapacity++
		default:
			e.tally(req, err, report)
			return
		}
	}

	e.compensate(ctx, req, now, report)
}

// tally records a failed mutation. The request is left for the next sweep.
func (e *Engine) tally(req *models.Request, err error, report *SweepReport) {
	if errors.Is(err, store.ErrConflict) {
		report.Conflicts++
		e.log.Debug("request changed during sweep", "request", req.ID)
		return
	}
	report.Errors++
	e.log.Warn("sweep step failed", "request", req.ID, "error", err)
}

// noticeDelay tells the requester once that no reviewer is available. It
// reports whether the sweep should keep processing the request.
func (e *Engine) noticeDelay(ctx context.Context, req *models.Request, now time.Time, report *SweepReport) bool {
	if req.DelayNotified || req.Elapsed(now) < e.cfg.MaxPendingWait {
		return true
	}
	next := cloneRequest(req)
	next.DelayNotified = true
	if err := e.store.UpdateRequest(ctx, next); err != nil {
		e.tally(req, err, report)
		return false
	}
	*req = *next
	e.notify(ctx, TemplateDelayed, RoleRequester, req.RequesterID, req)
	return true
}

// advanceBand moves the request to the band its age calls for. Bands only
// move forward. It reports whether the sweep should keep processing the request.
func (e *Engine) advanceBand(ctx context.Context, req *models.Request, now time.Time, report *SweepReport) bool {
	target := models.BandFor(req.Elapsed(now))
	if !target.Later(req.CurrentBand) {
		return true
	}

	next := cloneRequest(req)
	next.CurrentBand = target
	if err := e.store.UpdateRequest(ctx, next); err != nil {
		e.tally(req, err, report)
		return false
	}
	*req = *next
	report.BandChanges++
	metrics.ObserveBandChange(string(target))

	template := target.Info().Template
	e.notify(ctx, template, RoleRequester, req.RequesterID, req)
	if req.Status.Held() {
		e.notify(ctx, template, RoleReviewer, req.AssignedReviewerID, req)
		if target == models.BandDelayed || target == models.BandCritical {
			e.penalize(ctx, req.AssignedReviewerID, "sla_band_"+string(target))
		}
	}
	return true
}

// shouldRedistribute reports whether a held request has stalled: it is past
// the redistribution age and either has never been moved or its current
// reviewer has held it for the full stall window.
func (e *Engine) shouldRedistribute(req *models.Request, now time.Time) bool {
	if !req.Status.Held() || req.Elapsed(now) < e.cfg.RedistributeAfter {
		return false
	}
	if !req.Redistributed {
		return true
	}
	return req.AssignedAt != nil && now.Sub(*req.AssignedAt) >= e.cfg.RedistributeAfter
}

// compensate grants every compensation tier the request has crossed.
func (e *Engine) compensate(ctx context.Context, req *models.Request, now time.Time, report *SweepReport) {
	elapsed := req.Elapsed(now)
	for _, tier := range e.cfg.Compensation {
		if elapsed < time.Duration(tier.Hours)*time.Hour {
			continue
		}
		granted, err := e.gate.TryGrant(ctx, &models.Compensation{
			RequestID:      req.ID,
			ThresholdHours: tier.Hours,
			RecipientID:    req.RequesterID,
			Kind:           "sla_missed",
			Amount:         tier.Amount,
			GrantedAt:      now,
		})
		if err != nil {
			report.Errors++
			e.log.Warn("compensation failed", "request", req.ID, "threshold_hours", tier.Hours, "error", err)
			continue
		}
		if granted {
			report.Compensations++
			e.notify(ctx, TemplateCompensationIssued, RoleRequester, req.RequesterID, req)
		}
	}
}
