package crm

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used by tests and the CLI dry-run
// against fixture data. It counts calls per method so that callers can
// assert which lookups were issued.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]Order
	calls  map[string]Call
	links  []CallLink
	events []Event
	nextID int64

	countMu sync.Mutex
	counts  map[string]int
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]Order),
		calls:  make(map[string]Call),
		counts: make(map[string]int),
	}
}

// AddOrder inserts or replaces an order
func (s *MemoryStore) AddOrder(o Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
}

// AddCall inserts or replaces a call
func (s *MemoryStore) AddCall(c Call) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[c.ID] = c
}

// Link attaches a call to an order
func (s *MemoryStore) Link(callID, orderID string, confidence float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links = append(s.links, CallLink{CallID: callID, OrderID: orderID, Confidence: confidence})
}

// AddEvent appends a history row, assigning an id when unset
func (s *MemoryStore) AddEvent(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	if e.ID == 0 {
		e.ID = s.nextID
	}
	s.events = append(s.events, e)
}

// CallCount returns how many times the named method was invoked
func (s *MemoryStore) CallCount(method string) int {
	s.countMu.Lock()
	defer s.countMu.Unlock()
	return s.counts[method]
}

func (s *MemoryStore) record(method string) {
	s.countMu.Lock()
	s.counts[method]++
	s.countMu.Unlock()
}

// ListOrders returns orders matching the filter, ordered by id
func (s *MemoryStore) ListOrders(_ context.Context, filter OrderFilter) ([]Order, error) {
	s.record("ListOrders")
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[string]bool, len(filter.Statuses))
	for _, st := range filter.Statuses {
		want[st] = true
	}

	var out []Order
	for _, o := range s.orders {
		if len(want) > 0 && !want[o.Status] {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// OrderContexts returns contexts for the known ids
func (s *MemoryStore) OrderContexts(_ context.Context, ids []string) (map[string]OrderContext, error) {
	s.record("OrderContexts")
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]OrderContext, len(ids))
	for _, id := range ids {
		o, ok := s.orders[id]
		if !ok {
			continue
		}
		out[id] = OrderContext{
			OrderID:   o.ID,
			Status:    o.Status,
			ManagerID: o.ManagerID,
			Fields:    o.CustomFields.Merge(nil),
		}
	}
	return out, nil
}

// ListCalls returns calls started in [from, to], oldest first
func (s *MemoryStore) ListCalls(_ context.Context, from, to time.Time) ([]Call, error) {
	s.record("ListCalls")
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Call
	for _, c := range s.calls {
		if within(c.StartedAt, from, to) {
			out = append(out, c)
		}
	}
	sortCalls(out)
	return out, nil
}

// CallsForOrder returns linked calls started in [from, to], oldest first
func (s *MemoryStore) CallsForOrder(_ context.Context, orderID string, from, to time.Time) ([]Call, error) {
	s.record("CallsForOrder")
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var out []Call
	for _, l := range s.links {
		if l.OrderID != orderID || seen[l.CallID] {
			continue
		}
		c, ok := s.calls[l.CallID]
		if !ok || !within(c.StartedAt, from, to) {
			continue
		}
		seen[l.CallID] = true
		out = append(out, c)
	}
	sortCalls(out)
	return out, nil
}

// LinksForCalls returns links keyed by call id, highest confidence first
func (s *MemoryStore) LinksForCalls(_ context.Context, callIDs []string) (map[string][]CallLink, error) {
	s.record("LinksForCalls")
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[string]bool, len(callIDs))
	for _, id := range callIDs {
		want[id] = true
	}
	out := make(map[string][]CallLink)
	for _, l := range s.links {
		if want[l.CallID] {
			out[l.CallID] = append(out[l.CallID], l)
		}
	}
	for id := range out {
		links := out[id]
		sort.SliceStable(links, func(i, j int) bool { return links[i].Confidence > links[j].Confidence })
	}
	return out, nil
}

// ListEvents returns events matching the filter, oldest first
func (s *MemoryStore) ListEvents(_ context.Context, filter EventFilter) ([]Event, error) {
	s.record("ListEvents")
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for _, e := range s.events {
		if filter.Field != "" && e.Field != filter.Field {
			continue
		}
		if within(e.OccurredAt, filter.From, filter.To) {
			out = append(out, e)
		}
	}
	sortEvents(out)
	return out, nil
}

// LastTransitionInto returns the latest transition of field into value
func (s *MemoryStore) LastTransitionInto(_ context.Context, orderID, field, value string) (*Event, error) {
	s.record("LastTransitionInto")
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last *Event
	for i := range s.events {
		e := s.events[i]
		if e.OrderID != orderID || e.Field != field || CodeOf(e.NewValue) != value {
			continue
		}
		if last == nil || e.OccurredAt.After(last.OccurredAt) {
			found := e
			last = &found
		}
	}
	return last, nil
}

// History returns rows of one order in [from, to], oldest first
func (s *MemoryStore) History(_ context.Context, orderID string, from, to time.Time) ([]Event, error) {
	s.record("History")
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for _, e := range s.events {
		if e.OrderID == orderID && within(e.OccurredAt, from, to) {
			out = append(out, e)
		}
	}
	sortEvents(out)
	return out, nil
}

// within reports whether t lies in [from, to]. A zero bound is open.
func within(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && t.After(to) {
		return false
	}
	return true
}

func sortCalls(calls []Call) {
	sort.Slice(calls, func(i, j int) bool {
		if calls[i].StartedAt.Equal(calls[j].StartedAt) {
			return calls[i].ID < calls[j].ID
		}
		return calls[i].StartedAt.Before(calls[j].StartedAt)
	})
}

func sortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].OccurredAt.Before(events[j].OccurredAt)
	})
}
