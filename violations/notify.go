package violations

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/liamcoop/salesaudit/internal/logger"
	"github.com/liamcoop/salesaudit/rules"
)

// Notification announces one persisted violation
type Notification struct {
	ID        string           `json:"id"`
	RunID     string           `json:"runId"`
	RuleName  string           `json:"ruleName"`
	Violation *rules.Violation `json:"violation"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Notifier delivers a notification to one channel
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to the Notifier interface
type NotifierFunc func(ctx context.Context, n Notification) error

// Notify calls f
func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// Dispatcher is an at-most-once, best-effort notification queue. Enqueue
// never blocks: when the buffer is full the notification is dropped. A
// single worker delivers to every notifier; failures are logged and never
// retried.
type Dispatcher struct {
	queue     chan Notification
	notifiers []Notifier
	timeout   time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewDispatcher creates a dispatcher and starts its worker
func NewDispatcher(queueSize int, notifiers ...Notifier) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	d := &Dispatcher{
		queue:     make(chan Notification, queueSize),
		notifiers: notifiers,
		timeout:   10 * time.Second,
		done:      make(chan struct{}),
	}
	go d.run()
	return d
}

// Enqueue hands a notification to the worker. It reports whether the
// notification was accepted.
func (d *Dispatcher) Enqueue(n Notification) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		logger.NotificationsDropped.Add(1)
		return false
	}

	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	select {
	case d.queue <- n:
		return true
	default:
		logger.NotificationsDropped.Add(1)
		logger.Warn("notification queue full, dropping", "id", n.ID, "rule", n.Violation.RuleCode)
		return false
	}
}

// Close stops accepting notifications and waits until the queued ones are
// delivered or ctx ends.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for n := range d.queue {
		d.deliver(n)
	}
}

func (d *Dispatcher) deliver(n Notification) {
	for _, notifier := range d.notifiers {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := safeNotify(ctx, notifier, n)
		cancel()
		if err != nil {
			logger.NotificationsFailed.Add(1)
			logger.Error("notification delivery failed", "id", n.ID, "rule", n.Violation.RuleCode,
				"order_id", n.Violation.OrderID, "error", err)
			continue
		}
		logger.NotificationsDelivered.Add(1)
	}
}

func safeNotify(ctx context.Context, notifier Notifier, n Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("notifier panicked")
		}
	}()
	return notifier.Notify(ctx, n)
}

// LogNotifier writes notifications to the structured log
type LogNotifier struct{}

// Notify logs the violation
func (LogNotifier) Notify(_ context.Context, n Notification) error {
	v := n.Violation
	logger.Info("violation detected",
		"id", n.ID,
		"run_id", n.RunID,
		"rule", v.RuleCode,
		"order_id", v.OrderID,
		"manager_id", v.ManagerID,
		"severity", v.Severity,
		"points", v.Points,
		"violation_time", v.ViolationTime,
	)
	return nil
}
