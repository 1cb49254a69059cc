package models

import (
	"fmt"
	"time"
)

// TimeoutThreshold is the threshold key reserved for the terminal timeout compensation.
const TimeoutThreshold = 0

// Compensation records a once-only grant to a requester for a missed service level.
// (RequestID, ThresholdHours) is unique.
type Compensation struct {
	RequestID      string
	ThresholdHours int
	RecipientID    string
	Kind           string
	Amount         int
	IdempotencyKey string
	GrantedAt      time.Time
}

// CompensationKey builds the idempotency key passed to the rewards port.
func CompensationKey(requestID string, thresholdHours int) string {
	return fmt.Sprintf("sla:%s:%d", requestID, thresholdHours)
}
