// Package dispatch delivers engine port calls asynchronously so the sweep
// never blocks on an external system.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"github.com/joescharf/revsla/internal/engine"
	"github.com/joescharf/revsla/internal/metrics"
)

const (
	defaultWorkers       = 2
	defaultQueueSize     = 256
	defaultRetryAttempts = 5
	defaultRetryDelay    = 500 * time.Millisecond
	maxRetryDelay        = 30 * time.Second
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithWorkers sets the number of delivery goroutines.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithQueueSize sets how many events may wait for delivery before new ones are dropped.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithRetry sets the attempts per event and the initial backoff delay.
func WithRetry(attempts uint, delay time.Duration) Option {
	return func(d *Dispatcher) {
		if attempts > 0 {
			d.attempts = attempts
		}
		if delay > 0 {
			d.delay = delay
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// Dispatcher implements the engine's Rewards, Notifier, and Reputation ports
// by queueing each call for a Sink. Enqueueing never blocks; when the queue
// is full the event is dropped and logged.
type Dispatcher struct {
	sink      Sink
	log       *slog.Logger
	workers   int
	queueSize int
	attempts  uint
	delay     time.Duration

	queue  chan Event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

var (
	_ engine.Rewards    = (*Dispatcher)(nil)
	_ engine.Notifier   = (*Dispatcher)(nil)
	_ engine.Reputation = (*Dispatcher)(nil)
)

// New creates a dispatcher and starts its workers.
func New(sink Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sink:      sink,
		log:       slog.Default(),
		workers:   defaultWorkers,
		queueSize: defaultQueueSize,
		attempts:  defaultRetryAttempts,
		delay:     defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queue = make(chan Event, d.queueSize)
	d.ctx, d.cancel = context.WithCancel(context.Background())

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

// Enqueue queues ev for delivery and reports whether it was accepted.
func (d *Dispatcher) Enqueue(ev Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warn("dispatcher closed, event dropped", "type", ev.Type, "key", ev.Key)
		metrics.ObserveDispatchDropped()
		return false
	}
	select {
	case d.queue <- ev:
		return true
	default:
		d.log.Warn("dispatch queue full, event dropped", "type", ev.Type, "key", ev.Key)
		metrics.ObserveDispatchDropped()
		return false
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
// If ctx ends first, in-flight retries are abandoned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for ev := range d.queue {
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev Event) {
	err := retry.Do(
		func() error {
			return d.sink.Send(d.ctx, ev)
		},
		retry.Context(d.ctx),
		retry.Attempts(d.attempts),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(d.delay),
		retry.MaxDelay(maxRetryDelay),
		retry.OnRetry(func(n uint, err error) {
			d.log.Debug("retrying port event", "type", ev.Type, "key", ev.Key, "attempt", n+1, "error", err)
		}),
		retry.RetryIf(func(err error) bool {
			return !isPermanent(err)
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		metrics.ObserveDispatchFailed(ev.Type)
		d.log.Error("port event failed", "type", ev.Type, "key", ev.Key, "error", err)
	}
}

// GrantCompensation queues a compensation payment.
func (d *Dispatcher) GrantCompensation(_ context.Context, userID, kind string, amount int, idempotencyKey string) error {
	d.Enqueue(Event{
		Type: EventCompensation,
		Key:  idempotencyKey,
		Data: CompensationData{UserID: userID, Kind: kind, Amount: amount, IdempotencyKey: idempotencyKey},
	})
	return nil
}

// Notify queues a notification.
func (d *Dispatcher) Notify(_ context.Context, n engine.Notification) error {
	d.Enqueue(Event{Type: EventNotification, Data: n})
	return nil
}

// PenalizeReviewer queues a reputation penalty.
func (d *Dispatcher) PenalizeReviewer(_ context.Context, reviewerID, reason string) error {
	d.Enqueue(Event{Type: EventPenalty, Data: ReputationData{ReviewerID: reviewerID, Reason: reason}})
	return nil
}

// RewardReviewer queues a reputation reward.
func (d *Dispatcher) RewardReviewer(_ context.Context, reviewerID, reason string) error {
	d.Enqueue(Event{Type: EventReward, Data: ReputationData{ReviewerID: reviewerID, Reason: reason}})
	return nil
}
