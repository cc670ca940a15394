package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/liamcoop/salesaudit/crm"
	"github.com/liamcoop/salesaudit/rules"
)

// Candidate is one entity checked against a rule. OccurredAt is filled by
// the resolver; until then it holds the row's own timestamp.
type Candidate struct {
	Kind       rules.EntityType
	ID         string
	OrderID    string
	ManagerID  string
	CallID     string
	Status     string
	Transcript string
	Payload    crm.Payload
	Context    crm.OrderContext
	RowTime    time.Time
	OccurredAt time.Time
}

// ContextPayload returns the flattened order context
func (c *Candidate) ContextPayload() crm.Payload {
	return c.Context.Payload()
}

// Fetcher selects candidates per entity type and attaches order context
// loaded with one extra query per rule.
type Fetcher struct {
	store       crm.Store
	statusField string
}

// NewFetcher creates a fetcher. statusField names the history field that
// records status transitions.
func NewFetcher(store crm.Store, statusField string) *Fetcher {
	return &Fetcher{store: store, statusField: statusField}
}

// Fetch returns the candidates of rule inside [from, to]. Order and stage
// snapshots ignore the window and are narrowed by the trigger's target status.
func (f *Fetcher) Fetch(ctx context.Context, rule *rules.Compiled, from, to time.Time) ([]*Candidate, error) {
	var (
		candidates []*Candidate
		err        error
	)
	switch rule.Definition.EntityType {
	case rules.EntityCall:
		candidates, err = f.fetchCalls(ctx, from, to)
	case rules.EntityOrder, rules.EntityStage:
		candidates, err = f.fetchOrders(ctx, rule)
	case rules.EntityEvent:
		candidates, err = f.fetchEvents(ctx, rule, from, to)
	default:
		return nil, fmt.Errorf("unsupported entity type %q", rule.Definition.EntityType)
	}
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		c.Kind = rule.Definition.EntityType
	}
	if err := f.attachContext(ctx, candidates); err != nil {
		return nil, err
	}
	return candidates, nil
}

func (f *Fetcher) fetchCalls(ctx context.Context, from, to time.Time) ([]*Candidate, error) {
	calls, err := f.store.ListCalls(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if len(calls) == 0 {
		return nil, nil
	}

	ids := make([]string, len(calls))
	for i, c := range calls {
		ids[i] = c.ID
	}
	links, err := f.store.LinksForCalls(ctx, ids)
	if err != nil {
		return nil, err
	}

	var out []*Candidate
	for _, call := range calls {
		best, ok := bestLink(links[call.ID])
		if !ok {
			continue
		}
		p := call.Payload()
		p["order_id"] = best.OrderID
		p["link_confidence"] = best.Confidence
		out = append(out, &Candidate{
			ID:         call.ID,
			OrderID:    best.OrderID,
			ManagerID:  call.ManagerID,
			CallID:     call.ID,
			Transcript: call.Transcript,
			Payload:    p,
			RowTime:    call.StartedAt,
			OccurredAt: call.StartedAt,
		})
	}
	return out, nil
}

func bestLink(links []crm.CallLink) (crm.CallLink, bool) {
	if len(links) == 0 {
		return crm.CallLink{}, false
	}
	best := links[0]
	for _, l := range links[1:] {
		if l.Confidence > best.Confidence {
			best = l
		}
	}
	return best, true
}

func (f *Fetcher) fetchOrders(ctx context.Context, rule *rules.Compiled) ([]*Candidate, error) {
	var filter crm.OrderFilter
	if sc, ok := rule.StatusTrigger(); ok && sc.Direction == rules.DirectionTo {
		filter.Statuses = []string{sc.Target}
	}
	orders, err := f.store.ListOrders(ctx, filter)
	if err != nil {
		return nil, err
	}

	out := make([]*Candidate, 0, len(orders))
	for _, o := range orders {
		rowTime := o.UpdatedAt
		if rowTime.IsZero() {
			rowTime = o.CreatedAt
		}
		out = append(out, &Candidate{
			ID:         o.ID,
			OrderID:    o.ID,
			ManagerID:  o.ManagerID,
			Status:     o.Status,
			Payload:    o.Payload(),
			RowTime:    rowTime,
			OccurredAt: rowTime,
		})
	}
	return out, nil
}

func (f *Fetcher) fetchEvents(ctx context.Context, rule *rules.Compiled, from, to time.Time) ([]*Candidate, error) {
	filter := crm.EventFilter{From: from, To: to}
	if _, ok := rule.StatusTrigger(); ok {
		filter.Field = f.statusField
	}
	events, err := f.store.ListEvents(ctx, filter)
	if err != nil {
		return nil, err
	}

	out := make([]*Candidate, 0, len(events))
	for _, e := range events {
		out = append(out, &Candidate{
			ID:         strconv.FormatInt(e.ID, 10),
			OrderID:    e.OrderID,
			ManagerID:  e.ManagerID,
			Status:     crm.CodeOf(e.NewValue),
			Payload:    e.Payload(),
			RowTime:    e.OccurredAt,
			OccurredAt: e.OccurredAt,
		})
	}
	return out, nil
}

func (f *Fetcher) attachContext(ctx context.Context, candidates []*Candidate) error {
	if len(candidates) == 0 {
		return nil
	}
	seen := make(map[string]bool)
	var ids []string
	for _, c := range candidates {
		if c.OrderID != "" && !seen[c.OrderID] {
			seen[c.OrderID] = true
			ids = append(ids, c.OrderID)
		}
	}

	contexts, err := f.store.OrderContexts(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to load order context: %w", err)
	}
	for _, c := range candidates {
		oc, ok := contexts[c.OrderID]
		if !ok {
			oc = crm.OrderContext{OrderID: c.OrderID, Fields: crm.Payload{}}
		}
		c.Context = oc
		if c.ManagerID == "" {
			c.ManagerID = oc.ManagerID
		}
	}
	return nil
}

// Resolver determines the authoritative occurrence time of state-based
// candidates. Lookups run per candidate because each one filters on that
// candidate's own status.
type Resolver struct {
	events      crm.EventStore
	statusField string
}

// NewResolver creates a resolver
func NewResolver(events crm.EventStore, statusField string) *Resolver {
	return &Resolver{events: events, statusField: statusField}
}

// Resolve sets c.OccurredAt to the latest transition into the current
// status, falling back to the row timestamp when none was recorded.
func (r *Resolver) Resolve(ctx context.Context, c *Candidate) error {
	if !c.Kind.StateBased() {
		return nil
	}
	ev, err := r.events.LastTransitionInto(ctx, c.OrderID, r.statusField, c.Status)
	if err != nil {
		return fmt.Errorf("failed to resolve occurrence time of order %s: %w", c.OrderID, err)
	}
	if ev != nil {
		c.OccurredAt = ev.OccurredAt
		return nil
	}
	c.OccurredAt = c.RowTime
	return nil
}
