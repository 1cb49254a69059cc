package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/joescharf/revsla/internal/engine"
	"github.com/joescharf/revsla/internal/models"
	"github.com/joescharf/revsla/internal/store"
)

// Server provides the REST API handlers.
type Server struct {
	store  store.Store
	engine *engine.Engine
	log    *slog.Logger
}

// NewServer creates a new API server. A nil logger uses slog.Default.
func NewServer(s store.Store, e *engine.Engine, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{store: s, engine: e, log: log}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/reviewers", s.listReviewers)
	mux.HandleFunc("POST /api/v1/reviewers", s.createReviewer)
	mux.HandleFunc("GET /api/v1/reviewers/{id}", s.getReviewer)
	mux.HandleFunc("PUT /api/v1/reviewers/{id}/active", s.setReviewerActive)

	mux.HandleFunc("GET /api/v1/requests", s.listRequests)
	mux.HandleFunc("POST /api/v1/requests", s.submitRequest)
	mux.HandleFunc("GET /api/v1/requests/{id}", s.getRequest)
	mux.HandleFunc("POST /api/v1/requests/{id}/start", s.startReview)
	mux.HandleFunc("POST /api/v1/requests/{id}/complete", s.completeRequest)
	mux.HandleFunc("GET /api/v1/requests/{id}/compensations", s.listCompensations)

	mux.HandleFunc("POST /api/v1/sweep", s.sweep)
	mux.HandleFunc("GET /api/v1/status", s.status)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeErr maps engine and store errors to status codes.
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrInvalidTransition), errors.Is(err, engine.ErrNotAssignee):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.log.Error("api request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// --- Reviewers ---

type reviewerInput struct {
	Name               string
	MaxConcurrent      int
	Timezone           string
	PreferredStartHour int
	PreferredEndHour   int
	Specialties        []string
}

func (s *Server) listReviewers(w http.ResponseWriter, r *http.Request) {
	filter := store.ReviewerListFilter{
		ActiveOnly:   r.URL.Query().Get("active") == "true",
		WithCapacity: r.URL.Query().Get("available") == "true",
	}
	reviewers, err := s.store.ListReviewers(r.Context(), filter)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reviewers)
}

func (s *Server) createReviewer(w http.ResponseWriter, r *http.Request) {
	var in reviewerInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if in.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if in.MaxConcurrent <= 0 {
		writeError(w, http.StatusBadRequest, "max concurrent must be positive")
		return
	}

	rev := &models.Reviewer{
		Name:               in.Name,
		Active:             true,
		MaxConcurrent:      in.MaxConcurrent,
		Timezone:           in.Timezone,
		PreferredStartHour: in.PreferredStartHour,
		PreferredEndHour:   in.PreferredEndHour,
		Specialties:        in.Specialties,
		SLAScore:           models.DefaultSLAScore,
	}
	if err := s.store.CreateReviewer(r.Context(), rev); err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rev)
}

// lookupReviewer resolves a path value as an id first, then as a name.
func (s *Server) lookupReviewer(r *http.Request) (*models.Reviewer, error) {
	return s.resolveReviewer(r.Context(), r.PathValue("id"))
}

func (s *Server) resolveReviewer(ctx context.Context, key string) (*models.Reviewer, error) {
	rev, err := s.store.GetReviewer(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return s.store.GetReviewerByName(ctx, key)
	}
	return rev, err
}

func (s *Server) getReviewer(w http.ResponseWriter, r *http.Request) {
	rev, err := s.lookupReviewer(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rev)
}

func (s *Server) setReviewerActive(w http.ResponseWriter, r *http.Request) {
	rev, err := s.lookupReviewer(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	var body struct{ Active *bool }
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Active == nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	rev.Active = *body.Active
	if err := s.store.UpdateReviewer(r.Context(), rev); err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rev)
}

// --- Requests ---

func (s *Server) listRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RequestListFilter{
		RequesterID: q.Get("requester"),
		ReviewerID:  q.Get("reviewer"),
	}
	if raw := q.Get("status"); raw != "" {
		for _, st := range strings.Split(raw, ",") {
			filter.Statuses = append(filter.Statuses, models.RequestStatus(strings.TrimSpace(st)))
		}
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}

	requests, err := s.store.ListRequests(r.Context(), filter)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requests)
}

func (s *Server) submitRequest(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RequesterID string
		Title       string
		Category    string
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if in.RequesterID == "" {
		writeError(w, http.StatusBadRequest, "requester is required")
		return
	}

	req := &models.Request{RequesterID: in.RequesterID, Title: in.Title, Category: in.Category}
	if err := s.engine.Submit(r.Context(), req); err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) getRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.store.GetRequest(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func decodeReviewerKey(r *http.Request) (string, bool) {
	var body struct{ ReviewerID string }
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ReviewerID == "" {
		return "", false
	}
	return body.ReviewerID, true
}

// actingReviewer decodes the body's reviewer id or name and resolves it,
// writing the error response itself when that fails.
func (s *Server) actingReviewer(w http.ResponseWriter, r *http.Request) (*models.Reviewer, bool) {
	key, ok := decodeReviewerKey(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid JSON: reviewer id is required")
		return nil, false
	}
	rev, err := s.resolveReviewer(r.Context(), key)
	if err != nil {
		s.writeErr(w, err)
		return nil, false
	}
	return rev, true
}

func (s *Server) startReview(w http.ResponseWriter, r *http.Request) {
	rev, ok := s.actingReviewer(w, r)
	if !ok {
		return
	}
	req, err := s.engine.StartReview(r.Context(), r.PathValue("id"), rev.ID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) completeRequest(w http.ResponseWriter, r *http.Request) {
	rev, ok := s.actingReviewer(w, r)
	if !ok {
		return
	}
	req, err := s.engine.Complete(r.Context(), r.PathValue("id"), rev.ID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) listCompensations(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetRequest(r.Context(), id); err != nil {
		s.writeErr(w, err)
		return
	}
	comps, err := s.store.ListCompensations(r.Context(), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, comps)
}

// --- Sweep & status ---

func (s *Server) sweep(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Sweep(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Status(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
