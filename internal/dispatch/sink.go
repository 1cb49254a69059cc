package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Event types sent to sinks.
const (
	EventCompensation = "compensation"
	EventNotification = "notification"
	EventPenalty      = "reviewer_penalty"
	EventReward       = "reviewer_reward"
)

// Event is one port call queued for delivery.
type Event struct {
	Type string `json:"type"`
	Key  string `json:"key,omitempty"`
	Data any    `json:"data"`
}

// CompensationData is the payload of an EventCompensation.
type CompensationData struct {
	UserID         string `json:"user_id"`
	Kind           string `json:"kind"`
	Amount         int    `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
}

// ReputationData is the payload of EventPenalty and EventReward.
type ReputationData struct {
	ReviewerID string `json:"reviewer_id"`
	Reason     string `json:"reason"`
}

// Sink delivers a single event.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// permanentError marks a failure that retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func isPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// WebhookSink POSTs each event as JSON to a fixed URL.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a sink for url. A nil client gets a 10s timeout client.
func NewWebhookSink(url string, client *http.Client) *WebhookSink {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookSink{url: url, client: client}
}

// Send posts ev. 4xx responses are permanent failures; 5xx and transport
// errors can be retried.
func (s *WebhookSink) Send(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return &permanentError{fmt.Errorf("encode %s event: %w", ev.Type, err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return &permanentError{fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if ev.Key != "" {
		req.Header.Set("Idempotency-Key", ev.Key)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s event: %w", ev.Type, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return &permanentError{fmt.Errorf("post %s event: status %d", ev.Type, resp.StatusCode)}
	default:
		return fmt.Errorf("post %s event: status %d", ev.Type, resp.StatusCode)
	}
}

// LogSink writes events to a structured logger.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink creates a sink that logs every event at info level.
func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Send(_ context.Context, ev Event) error {
	s.log.Info("port event", "type", ev.Type, "key", ev.Key, "data", ev.Data)
	return nil
}
