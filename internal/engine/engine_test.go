package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joescharf/revsla/internal/clock"
	"github.com/joescharf/revsla/internal/models"
	"github.com/joescharf/revsla/internal/store"
)

var t0 = time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)

// recorder captures every port call.
type recorder struct {
	mu        sync.Mutex
	grants    []grant
	notes     []Notification
	penalties []string
	rewards   []string
}

type grant struct {
	UserID string
	Kind   string
	Amount int
	Key    string
}

func (r *recorder) GrantCompensation(_ context.Context, userID, kind string, amount int, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grants = append(r.grants, grant{UserID: userID, Kind: kind, Amount: amount, Key: key})
	return nil
}

func (r *recorder) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return nil
}

func (r *recorder) PenalizeReviewer(_ context.Context, reviewerID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.penalties = append(r.penalties, reviewerID+":"+reason)
	return nil
}

func (r *recorder) RewardReviewer(_ context.Context, reviewerID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rewards = append(r.rewards, reviewerID+":"+reason)
	return nil
}

func (r *recorder) templates(recipientID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, n := range r.notes {
		if n.RecipientID == recipientID {
			out = append(out, n.TemplateID)
		}
	}
	return out
}

func (r *recorder) grantsOf(kind string) []grant {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []grant
	for _, g := range r.grants {
		if g.Kind == kind {
			out = append(out, g)
		}
	}
	return out
}

type harness struct {
	engine *Engine
	store  *store.SQLiteStore
	clock  *clock.Fake
	ports  *recorder
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	cfg := DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	c := clock.NewFake(t0)
	rec := &recorder{}
	e := New(s,
		WithConfig(cfg),
		WithClock(c),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithRewards(rec),
		WithNotifier(rec),
		WithReputation(rec),
	)
	return &harness{engine: e, store: s, clock: c, ports: rec}
}

func (h *harness) addReviewer(t *testing.T, id string, max int, mutate ...func(*models.Reviewer)) *models.Reviewer {
	t.Helper()
	r := &models.Reviewer{ID: id, Name: id, Active: true, MaxConcurrent: max, SLAScore: models.DefaultSLAScore}
	for _, m := range mutate {
		m(r)
	}
	require.NoError(t, h.store.CreateReviewer(context.Background(), r))
	return r
}

func (h *harness) submit(t *testing.T, requester string) *models.Request {
	t.Helper()
	req := &models.Request{RequesterID: requester, Title: "review for " + requester}
	require.NoError(t, h.engine.Submit(context.Background(), req))
	return req
}

func (h *harness) sweepAt(t *testing.T, offset time.Duration) *SweepReport {
	t.Helper()
	h.clock.Set(t0.Add(offset))
	report, err := h.engine.Sweep(context.Background())
	require.NoError(t, err)
	return report
}

func (h *harness) request(t *testing.T, id string) *models.Request {
	t.Helper()
	req, err := h.store.GetRequest(context.Background(), id)
	require.NoError(t, err)
	return req
}

func (h *harness) reviewer(t *testing.T, id string) *models.Reviewer {
	t.Helper()
	r, err := h.store.GetReviewer(context.Background(), id)
	require.NoError(t, err)
	return r
}

// requireCapacityConsistent checks that every reviewer's slot count matches
// the requests it holds and never exceeds its limit.
func (h *harness) requireCapacityConsistent(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	reviewers, err := h.store.ListReviewers(ctx, store.ReviewerListFilter{})
	require.NoError(t, err)
	for _, r := range reviewers {
		held, err := h.store.ListRequests(ctx, store.RequestListFilter{
			ReviewerID: r.ID,
			Statuses:   []models.RequestStatus{models.RequestStatusAssigned, models.RequestStatusInReview},
		})
		require.NoError(t, err)
		require.Equal(t, len(held), r.Current, "reviewer %s slot count", r.ID)
		require.LessOrEqual(t, r.Current, r.MaxConcurrent, "reviewer %s over capacity", r.ID)
	}
}

func openFilter(statuses ...models.RequestStatus) store.RequestListFilter {
	return store.RequestListFilter{Statuses: statuses}
}
