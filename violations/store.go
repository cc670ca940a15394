// Package violations persists detected violations and hands them to the
// notification side channel.
package violations

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/liamcoop/salesaudit/rules"
)

// Query selects stored violations. Zero fields do not filter.
type Query struct {
	RuleCode string
	OrderID  string
	From     time.Time
	To       time.Time
	Limit    int
}

// Store is an upsert-only violation table keyed by (rule, order, time, call)
type Store interface {
	// Upsert writes a batch in one operation and returns the number of rows written
	Upsert(ctx context.Context, batch []*rules.Violation) (int, error)

	// List returns violations ordered by violation time, newest first
	List(ctx context.Context, q Query) ([]*rules.Violation, error)
}

// Dedupe collapses violations sharing a key. The last occurrence wins and
// keeps the position of the first.
func Dedupe(batch []*rules.Violation) []*rules.Violation {
	index := make(map[rules.ViolationKey]int, len(batch))
	out := make([]*rules.Violation, 0, len(batch))
	for _, v := range batch {
		if v == nil {
			continue
		}
		k := v.Key()
		if i, ok := index[k]; ok {
			out[i] = v
			continue
		}
		index[k] = len(out)
		out = append(out, v)
	}
	return out
}

// MemoryStore is an in-memory Store
type MemoryStore struct {
	mu      sync.RWMutex
	rows    map[rules.ViolationKey]*rules.Violation
	upserts int
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[rules.ViolationKey]*rules.Violation)}
}

// Upsert stores the batch, overwriting rows with the same key
func (s *MemoryStore) Upsert(_ context.Context, batch []*rules.Violation) (int, error) {
	batch = Dedupe(batch)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	for _, v := range batch {
		cp := *v
		s.rows[v.Key()] = &cp
	}
	return len(batch), nil
}

// List returns matching violations, newest first
func (s *MemoryStore) List(_ context.Context, q Query) ([]*rules.Violation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*rules.Violation
	for _, v := range s.rows {
		if q.RuleCode != "" && v.RuleCode != q.RuleCode {
			continue
		}
		if q.OrderID != "" && v.OrderID != q.OrderID {
			continue
		}
		if !q.From.IsZero() && v.ViolationTime.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && v.ViolationTime.After(q.To) {
			continue
		}
		cp := *v
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ViolationTime.Equal(out[j].ViolationTime) {
			return out[i].RuleCode < out[j].RuleCode
		}
		return out[i].ViolationTime.After(out[j].ViolationTime)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Len returns the number of stored rows
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// UpsertCalls returns how many batches were written
func (s *MemoryStore) UpsertCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.upserts
}
