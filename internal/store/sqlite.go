package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/revsla/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single connection
	// serializes the sweeper and API handlers through Go's pool.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", strings.ToLower(pragma), err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

func encodeList(v []string) string {
	if len(v) == 0 {
		return "[]"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeList(s string) []string {
	var v []string
	_ = json.Unmarshal([]byte(s), &v)
	return v
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// --- Reviewers ---

const reviewerColumns = `id, name, active, max_concurrent, current, timezone, preferred_start_hour, preferred_end_hour,
	specialties, sla_score, average_response_hours, current_streak, optimal_count, standard_count, delayed_count,
	timeout_count, last_activity, version, created_at, updated_at, critical_count`

func scanReviewer(row rowScanner) (*models.Reviewer, error) {
	r := &models.Reviewer{}
	var specialties string
	var lastActivity sql.NullTime
	err := row.Scan(&r.ID, &r.Name, &r.Active, &r.MaxConcurrent, &r.Current, &r.Timezone,
		&r.PreferredStartHour, &r.PreferredEndHour, &specialties, &r.SLAScore, &r.AverageResponseHours,
		&r.CurrentStreak, &r.OptimalCount, &r.StandardCount, &r.DelayedCount, &r.TimeoutCount,
		&lastActivity, &r.Version, &r.CreatedAt, &r.UpdatedAt, &r.CriticalCount)
	if err != nil {
		return nil, err
	}
	r.Specialties = decodeList(specialties)
	if lastActivity.Valid {
		r.LastActivity = &lastActivity.Time
	}
	return r, nil
}

func (s *SQLiteStore) CreateReviewer(ctx context.Context, r *models.Reviewer) error {
	if r.ID == "" {
		r.ID = newULID()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	r.Version = 1

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reviewers (`+reviewerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, boolToInt(r.Active), r.MaxConcurrent, r.Current, r.Timezone,
		r.PreferredStartHour, r.PreferredEndHour, encodeList(r.Specialties), r.SLAScore, r.AverageResponseHours,
		r.CurrentStreak, r.OptimalCount, r.StandardCount, r.DelayedCount, r.TimeoutCount,
		r.LastActivity, r.Version, r.CreatedAt, r.UpdatedAt, r.CriticalCount,
	)
	if err != nil {
		return fmt.Errorf("create reviewer: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetReviewer(ctx context.Context, id string) (*models.Reviewer, error) {
	r, err := scanReviewer(s.db.QueryRowContext(ctx, `SELECT `+reviewerColumns+` FROM reviewers WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reviewer %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get reviewer: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) GetReviewerByName(ctx context.Context, name string) (*models.Reviewer, error) {
	r, err := scanReviewer(s.db.QueryRowContext(ctx, `SELECT `+reviewerColumns+` FROM reviewers WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reviewer %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get reviewer by name: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) ListReviewers(ctx context.Context, filter ReviewerListFilter) ([]*models.Reviewer, error) {
	query := `SELECT ` + reviewerColumns + ` FROM reviewers`
	var conditions []string
	if filter.ActiveOnly || filter.WithCapacity {
		conditions = append(conditions, "active = 1")
	}
	if filter.WithCapacity {
		conditions = append(conditions, "current < max_concurrent")
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list reviewers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var reviewers []*models.Reviewer
	for rows.Next() {
		r, err := scanReviewer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reviewer: %w", err)
		}
		reviewers = append(reviewers, r)
	}
	return reviewers, rows.Err()
}

func (s *SQLiteStore) UpdateReviewer(ctx context.Context, r *models.Reviewer) error {
	return s.Commit(ctx, Batch{Reviewers: []*models.Reviewer{r}})
}

func updateReviewerTx(ctx context.Context, tx *sql.Tx, r *models.Reviewer, now time.Time) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE reviewers SET name=?, active=?, max_concurrent=?, current=?, timezone=?, preferred_start_hour=?,
		preferred_end_hour=?, specialties=?, sla_score=?, average_response_hours=?, current_streak=?,
		optimal_count=?, standard_count=?, delayed_count=?, critical_count=?, timeout_count=?, last_activity=?,
		version=version+1, updated_at=?
		WHERE id=? AND version=?`,
		r.Name, boolToInt(r.Active), r.MaxConcurrent, r.Current, r.Timezone, r.PreferredStartHour,
		r.PreferredEndHour, encodeList(r.Specialties), r.SLAScore, r.AverageResponseHours, r.CurrentStreak,
		r.OptimalCount, r.StandardCount, r.DelayedCount, r.CriticalCount, r.TimeoutCount, r.LastActivity,
		now, r.ID, r.Version,
	)
	if err != nil {
		return fmt.Errorf("update reviewer %s: %w", r.ID, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("reviewer %s at version %d: %w", r.ID, r.Version, ErrConflict)
	}
	return nil
}

// --- Requests ---

const requestColumns = `id, requester_id, title, category, assigned_reviewer_id, backups, current_band,
	escalation_level, redistributed, delay_notified, status, created_at, assigned_at, completed_at, version`

func scanRequest(row rowScanner) (*models.Request, error) {
	req := &models.Request{}
	var backups, band, status string
	var assignedAt, completedAt sql.NullTime
	err := row.Scan(&req.ID, &req.RequesterID, &req.Title, &req.Category, &req.AssignedReviewerID, &backups,
		&band, &req.EscalationLevel, &req.Redistributed, &req.DelayNotified, &status,
		&req.CreatedAt, &assignedAt, &completedAt, &req.Version)
	if err != nil {
		return nil, err
	}
	req.Backups = decodeList(backups)
	req.CurrentBand = models.Band(band)
	req.Status = models.RequestStatus(status)
	if assignedAt.Valid {
		req.AssignedAt = &assignedAt.Time
	}
	if completedAt.Valid {
		req.CompletedAt = &completedAt.Time
	}
	return req, nil
}

func (s *SQLiteStore) CreateRequest(ctx context.Context, req *models.Request) error {
	if req.ID == "" {
		req.ID = newULID()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	if req.Status == "" {
		req.Status = models.RequestStatusPending
	}
	if req.CurrentBand == "" {
		req.CurrentBand = models.BandOptimal
	}
	req.Version = 1

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO review_requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.RequesterID, req.Title, req.Category, req.AssignedReviewerID, encodeList(req.Backups),
		string(req.CurrentBand), req.EscalationLevel, boolToInt(req.Redistributed), boolToInt(req.DelayNotified),
		string(req.Status), req.CreatedAt, req.AssignedAt, req.CompletedAt, req.Version,
	)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRequest(ctx context.Context, id string) (*models.Request, error) {
	req, err := scanRequest(s.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM review_requests WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("request %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	return req, nil
}

func (s *SQLiteStore) ListRequests(ctx context.Context, filter RequestListFilter) ([]*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM review_requests`
	var conditions []string
	var args []any

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.RequesterID != "" {
		conditions = append(conditions, "requester_id = ?")
		args = append(args, filter.RequesterID)
	}
	if filter.ReviewerID != "" {
		conditions = append(conditions, "assigned_reviewer_id = ?")
		args = append(args, filter.ReviewerID)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var requests []*models.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

func (s *SQLiteStore) UpdateRequest(ctx context.Context, req *models.Request) error {
	return s.Commit(ctx, Batch{Requests: []*models.Request{req}})
}

func updateRequestTx(ctx context.Context, tx *sql.Tx, req *models.Request) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE review_requests SET requester_id=?, title=?, category=?, assigned_reviewer_id=?, backups=?,
		current_band=?, escalation_level=?, redistributed=?, delay_notified=?, status=?, assigned_at=?,
		completed_at=?, version=version+1
		WHERE id=? AND version=?`,
		req.RequesterID, req.Title, req.Category, req.AssignedReviewerID, encodeList(req.Backups),
		string(req.CurrentBand), req.EscalationLevel, boolToInt(req.Redistributed), boolToInt(req.DelayNotified),
		string(req.Status), req.AssignedAt, req.CompletedAt,
		req.ID, req.Version,
	)
	if err != nil {
		return fmt.Errorf("update request %s: %w", req.ID, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("request %s at version %d: %w", req.ID, req.Version, ErrConflict)
	}
	return nil
}

// Commit writes every record in b inside one transaction. On success the
// in-memory versions are advanced to match the stored rows.
func (s *SQLiteStore) Commit(ctx context.Context, b Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for _, req := range b.Requests {
		if err := updateRequestTx(ctx, tx, req); err != nil {
			return err
		}
	}
	for _, r := range b.Reviewers {
		if err := updateReviewerTx(ctx, tx, r, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	for _, req := range b.Requests {
		req.Version++
	}
	for _, r := range b.Reviewers {
		r.Version++
		r.UpdatedAt = now
	}
	return nil
}

// --- Compensations ---

// GrantCompensation inserts c unless a record for (RequestID, ThresholdHours)
// already exists or the request has been completed. It reports whether this
// call inserted the record.
func (s *SQLiteStore) GrantCompensation(ctx context.Context, c *models.Compensation) (bool, error) {
	if c.IdempotencyKey == "" {
		c.IdempotencyKey = models.CompensationKey(c.RequestID, c.ThresholdHours)
	}
	if c.GrantedAt.IsZero() {
		c.GrantedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO compensations (request_id, threshold_hours, recipient_id, kind, amount, idempotency_key, granted_at)
		SELECT ?, ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM review_requests WHERE id = ? AND status != 'completed')
		ON CONFLICT(request_id, threshold_hours) DO NOTHING`,
		c.RequestID, c.ThresholdHours, c.RecipientID, c.Kind, c.Amount, c.IdempotencyKey, c.GrantedAt,
		c.RequestID,
	)
	if err != nil {
		return false, fmt.Errorf("grant compensation: %w", err)
	}
	n, _ := result.RowsAffected()
	return n == 1, nil
}

func (s *SQLiteStore) ListCompensations(ctx context.Context, requestID string) ([]*models.Compensation, error) {
	query := `SELECT request_id, threshold_hours, recipient_id, kind, amount, idempotency_key, granted_at FROM compensations`
	var args []any
	if requestID != "" {
		query += " WHERE request_id = ?"
		args = append(args, requestID)
	}
	query += " ORDER BY granted_at, threshold_hours"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list compensations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Compensation
	for rows.Next() {
		c := &models.Compensation{}
		if err := rows.Scan(&c.RequestID, &c.ThresholdHours, &c.RecipientID, &c.Kind, &c.Amount,
			&c.IdempotencyKey, &c.GrantedAt); err != nil {
			return nil, fmt.Errorf("scan compensation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
