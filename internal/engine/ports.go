package engine

import "context"

// Recipient roles used in notifications.
const (
	RoleRequester = "requester"
	RoleReviewer  = "reviewer"
)

// Notification templates emitted by the engine, besides the per-band templates.
const (
	TemplateAssigned           = "review_assigned"
	TemplateAssignedEscalated  = "review_assigned_escalated"
	TemplateReassignedAway     = "review_reassigned_away"
	TemplateRedistributed      = "review_redistributed"
	TemplateDelayed            = "review_delayed"
	TemplateTimedOut           = "review_timed_out"
	TemplateCompleted          = "review_completed"
	TemplateCompensationIssued = "compensation_issued"
)

// Rewards grants currency to users. Implementations must not double-grant
// when called again with the same idempotency key.
type Rewards interface {
	GrantCompensation(ctx context.Context, userID, kind string, amount int, idempotencyKey string) error
}

// Notification is a templated message for one recipient.
type Notification struct {
	TemplateID    string            `json:"template_id"`
	RecipientRole string            `json:"recipient_role"`
	RecipientID   string            `json:"recipient_id"`
	Payload       map[string]string `json:"payload,omitempty"`
}

// Notifier delivers notifications. The engine does not depend on the outcome.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Reputation records reviewer reliability events.
type Reputation interface {
	PenalizeReviewer(ctx context.Context, reviewerID, reason string) error
	RewardReviewer(ctx context.Context, reviewerID, reason string) error
}

// NopPorts discards every call.
type NopPorts struct{}

func (NopPorts) GrantCompensation(context.Context, string, string, int, string) error { return nil }
func (NopPorts) Notify(context.Context, Notification) error                           { return nil }
func (NopPorts) PenalizeReviewer(context.Context, string, string) error               { return nil }
func (NopPorts) RewardReviewer(context.Context, string, string) error                 { return nil }
