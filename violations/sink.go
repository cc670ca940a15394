package violations

import (
	"context"

	"github.com/liamcoop/salesaudit/rules"
)

// Sink persists one rule's violations as a single batch and then queues
// notifications for them when the rule asks for it.
type Sink struct {
	store      Store
	dispatcher *Dispatcher
}

// NewSink creates a sink. A nil dispatcher disables notifications.
func NewSink(store Store, dispatcher *Dispatcher) *Sink {
	return &Sink{store: store, dispatcher: dispatcher}
}

// Persist upserts the batch. Notifications are queued only after a
// successful write and their fate never affects the result.
func (s *Sink) Persist(ctx context.Context, runID string, rule *rules.Definition, batch []*rules.Violation) (int, error) {
	batch = Dedupe(batch)
	if len(batch) == 0 {
		return 0, nil
	}

	n, err := s.store.Upsert(ctx, batch)
	if err != nil {
		return 0, err
	}

	if rule.Notify && s.dispatcher != nil {
		for _, v := range batch {
			s.dispatcher.Enqueue(Notification{RunID: runID, RuleName: rule.Name, Violation: v})
		}
	}
	return n, nil
}

// Store returns the underlying store
func (s *Sink) Store() Store {
	return s.store
}
