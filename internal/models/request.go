package models

import (
	"slices"
	"time"
)

// RequestStatus represents the lifecycle state of a review request.
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusAssigned  RequestStatus = "assigned"
	RequestStatusInReview  RequestStatus = "in_review"
	RequestStatusCompleted RequestStatus = "completed"
	RequestStatusTimedOut  RequestStatus = "timed_out"
)

// OpenStatuses are the statuses the sweeper scans.
var OpenStatuses = []RequestStatus{RequestStatusPending, RequestStatusAssigned, RequestStatusInReview}

// Terminal reports whether no further transitions are possible.
func (s RequestStatus) Terminal() bool {
	return s == RequestStatusCompleted || s == RequestStatusTimedOut
}

// Held reports whether a reviewer currently holds the request.
func (s RequestStatus) Held() bool {
	return s == RequestStatusAssigned || s == RequestStatusInReview
}

// Request is a time-bound review task.
type Request struct {
	ID                 string
	RequesterID        string
	Title              string
	Category           string
	AssignedReviewerID string   // empty when unassigned
	Backups            []string // reviewers that previously held the request, oldest first
	CurrentBand        Band
	EscalationLevel    int
	Redistributed      bool
	DelayNotified      bool
	Status             RequestStatus
	CreatedAt          time.Time
	AssignedAt         *time.Time
	CompletedAt        *time.Time
	Version            int64
}

// Elapsed returns the time since creation as seen at now.
func (r *Request) Elapsed(now time.Time) time.Duration {
	if now.Before(r.CreatedAt) {
		return 0
	}
	return now.Sub(r.CreatedAt)
}

// Tried reports whether reviewerID already held the request.
func (r *Request) Tried(reviewerID string) bool {
	return r.AssignedReviewerID == reviewerID || slices.Contains(r.Backups, reviewerID)
}
