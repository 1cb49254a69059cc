package store

import (
	"context"
	"errors"

	"github.com/joescharf/revsla/internal/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a versioned write lost to a concurrent writer.
	ErrConflict = errors.New("version conflict")
)

// ReviewerListFilter specifies filters for listing reviewers.
type ReviewerListFilter struct {
	ActiveOnly   bool
	WithCapacity bool
}

// RequestListFilter specifies filters for listing review requests.
type RequestListFilter struct {
	Statuses    []models.RequestStatus
	RequesterID string
	ReviewerID  string
	Limit       int
}

// Batch is a set of versioned writes applied in one transaction.
// Every record carries the version it was read at; if any of them has
// moved on, nothing is written and Commit returns ErrConflict.
type Batch struct {
	Requests  []*models.Request
	Reviewers []*models.Reviewer
}

// Store defines the persistence interface for revsla.
type Store interface {
	// Reviewers
	CreateReviewer(ctx context.Context, r *models.Reviewer) error
	GetReviewer(ctx context.Context, id string) (*models.Reviewer, error)
	GetReviewerByName(ctx context.Context, name string) (*models.Reviewer, error)
	ListReviewers(ctx context.Context, filter ReviewerListFilter) ([]*models.Reviewer, error)
	UpdateReviewer(ctx context.Context, r *models.Reviewer) error

	// Requests
	CreateRequest(ctx context.Context, req *models.Request) error
	GetRequest(ctx context.Context, id string) (*models.Request, error)
	ListRequests(ctx context.Context, filter RequestListFilter) ([]*models.Request, error)
	UpdateRequest(ctx context.Context, req *models.Request) error

	// Commit applies a Batch atomically.
	Commit(ctx context.Context, b Batch) error

	// Compensations
	GrantCompensation(ctx context.Context, c *models.Compensation) (bool, error)
	ListCompensations(ctx context.Context, requestID string) ([]*models.Compensation, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
