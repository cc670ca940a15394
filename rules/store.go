package rules

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrRuleNotFound is returned when a rule code does not exist in the store
var ErrRuleNotFound = errors.New("rule not found")

// RuleStore manages rule definition persistence and retrieval
type RuleStore interface {
	// Get a rule by code
	Get(ctx context.Context, code string) (*Definition, error)

	// List all rules ordered by code
	List(ctx context.Context) ([]*Definition, error)

	// ListActive returns active rules ordered by code
	ListActive(ctx context.Context) ([]*Definition, error)

	// Upsert inserts or replaces a rule keyed by code
	Upsert(ctx context.Context, def *Definition) error

	// SetActive toggles the active flag
	SetActive(ctx context.Context, code string, active bool) error

	// Delete removes a rule
	Delete(ctx context.Context, code string) error
}

// InMemoryRuleStore implements RuleStore using an in-memory map
type InMemoryRuleStore struct {
	rules map[string]*Definition
	mu    sync.RWMutex
}

// NewInMemoryRuleStore creates a new in-memory rule store
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		rules: make(map[string]*Definition),
	}
}

// Get retrieves a rule by code
func (s *InMemoryRuleStore) Get(_ context.Context, code string) (*Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, exists := s.rules[code]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, code)
	}
	return def, nil
}

// List returns every stored rule
func (s *InMemoryRuleStore) List(_ context.Context) ([]*Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Definition, 0, len(s.rules))
	for _, def := range s.rules {
		out = append(out, def)
	}
	sortByCode(out)
	return out, nil
}

// ListActive returns all active rules
func (s *InMemoryRuleStore) ListActive(_ context.Context) ([]*Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*Definition
	for _, def := range s.rules {
		if def.Active {
			active = append(active, def)
		}
	}
	sortByCode(active)
	return active, nil
}

// Upsert stores a rule, preserving CreatedAt of an existing rule with the same code
func (s *InMemoryRuleStore) Upsert(_ context.Context, def *Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	stored := *def
	if existing, ok := s.rules[def.Code]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.rules[def.Code] = &stored
	return nil
}

// SetActive toggles the active flag of a rule
func (s *InMemoryRuleStore) SetActive(_ context.Context, code string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.rules[code]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, code)
	}
	updated := *existing
	updated.Active = active
	updated.UpdatedAt = time.Now()
	s.rules[code] = &updated
	return nil
}

// Delete removes a rule from the store
func (s *InMemoryRuleStore) Delete(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[code]; !exists {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, code)
	}

	delete(s.rules, code)
	return nil
}

func sortByCode(defs []*Definition) {
	sort.Slice(defs, func(i, j int) bool { return defs[i].Code < defs[j].Code })
}
