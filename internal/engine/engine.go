package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/joescharf/revsla/internal/clock"
	"github.com/joescharf/revsla/internal/models"
	"github.com/joescharf/revsla/internal/store"
)

// CompensationTier is a requester compensation paid once when a request
// is still open this many hours after creation.
type CompensationTier struct {
	Hours  int
	Amount int
}

// Config holds the service-level policy.
type Config struct {
	SweepInterval         time.Duration
	MaxHops               int           // maximum redistributions per request
	RedistributeAfter     time.Duration // stall time before a request is moved to another reviewer
	MaxPendingWait        time.Duration // unassigned wait before the requester gets a delay notice
	RedistributionPenalty float64       // SLA score points taken from a reviewer who stalls
	Compensation          []CompensationTier
	TimeoutCompensation   int
}

// DefaultConfig returns the standard policy.
func DefaultConfig() Config {
	return Config{
		SweepInterval:         5 * time.Minute,
		MaxHops:               2,
		RedistributeAfter:     48 * time.Hour,
		MaxPendingWait:        12 * time.Hour,
		RedistributionPenalty: 10,
		Compensation: []CompensationTier{
			{Hours: 48, Amount: 10},
			{Hours: 72, Amount: 20},
			{Hours: 96, Amount: 30},
		},
		TimeoutCompensation: 50,
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the default policy.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithRewards sets the rewards port.
func WithRewards(r Rewards) Option {
	return func(e *Engine) { e.rewards = r }
}

// WithNotifier sets the notification port.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithReputation sets the reputation port.
func WithReputation(r Reputation) Option {
	return func(e *Engine) { e.reputation = r }
}

// Engine assigns review requests, sweeps them for service-level changes,
// redistributes stalled ones, and issues compensations.
type Engine struct {
	store      store.Store
	clock      clock.Clock
	log        *slog.Logger
	cfg        Config
	rewards    Rewards
	notifier   Notifier
	reputation Reputation
	gate       *CompensationGate
}

// New creates an Engine over s. Ports default to no-ops.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:      s,
		clock:      clock.Real{},
		log:        slog.Default(),
		cfg:        DefaultConfig(),
		rewards:    NopPorts{},
		notifier:   NopPorts{},
		reputation: NopPorts{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.gate = NewCompensationGate(s, e.rewards, e.log)
	return e
}

// Config returns the active policy.
func (e *Engine) Config() Config { return e.cfg }

// Now returns the engine's current time.
func (e *Engine) Now() time.Time { return e.clock.Now() }

// Gate returns the compensation gate.
func (e *Engine) Gate() *CompensationGate { return e.gate }

func (e *Engine) notify(ctx context.Context, template, role, recipientID string, req *models.Request) {
	if recipientID == "" {
		return
	}
	n := Notification{
		TemplateID:    template,
		RecipientRole: role,
		RecipientID:   recipientID,
		Payload: map[string]string{
			"request_id": req.ID,
			"title":      req.Title,
			"band":       string(req.CurrentBand),
			"status":     string(req.Status),
		},
	}
	if err := e.notifier.Notify(ctx, n); err != nil {
		e.log.Warn("notify failed", "template", template, "recipient", recipientID, "error", err)
	}
}

func (e *Engine) penalize(ctx context.Context, reviewerID, reason string) {
	if err := e.reputation.PenalizeReviewer(ctx, reviewerID, reason); err != nil {
		e.log.Warn("penalize reviewer failed", "reviewer", reviewerID, "reason", reason, "error", err)
	}
}

// cloneRequest copies req so a failed commit leaves the caller's copy untouched.
func cloneRequest(req *models.Request) *models.Request {
	next := *req
	next.Backups = append([]string(nil), req.Backups...)
	return &next
}

func cloneReviewer(r *models.Reviewer) *models.Reviewer {
	next := *r
	next.Specialties = append([]string(nil), r.Specialties...)
	return &next
}

func clampScore(v float64) float64 {
	return max(0, min(100, v))
}
