// Package crm models the collaborator data the audit engine reads: order
// snapshots, calls with their order links, and the lifecycle history log.
package crm

import (
	"context"
	"time"
)

// Order is a snapshot of a CRM deal
type Order struct {
	ID           string
	Status       string
	ManagerID    string
	Amount       float64
	CustomFields Payload
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Payload flattens the order into the key space used by rule blocks.
// Columns win over custom fields of the same name.
func (o Order) Payload() Payload {
	return o.CustomFields.Merge(Payload{
		"id":         o.ID,
		"order_id":   o.ID,
		"status":     o.Status,
		"manager_id": o.ManagerID,
		"amount":     o.Amount,
		"created_at": o.CreatedAt,
		"updated_at": o.UpdatedAt,
	})
}

// OrderContext is the denormalized per-order view shared by every candidate
// that refers to the order.
type OrderContext struct {
	OrderID   string
	Status    string
	ManagerID string
	Fields    Payload
}

// Payload returns the custom fields with status and manager layered on top
func (c OrderContext) Payload() Payload {
	return c.Fields.Merge(Payload{
		"order_id":   c.OrderID,
		"status":     c.Status,
		"manager_id": c.ManagerID,
	})
}

// Call is a telephony record
type Call struct {
	ID          string
	StartedAt   time.Time
	Direction   string
	DurationSec int
	ManagerID   string
	Transcript  string
}

// HasTranscript reports whether the call carries transcribed content
func (c Call) HasTranscript() bool {
	return !IsEmpty(c.Transcript)
}

// Payload flattens the call for rule blocks
func (c Call) Payload() Payload {
	return Payload{
		"id":           c.ID,
		"call_id":      c.ID,
		"started_at":   c.StartedAt,
		"direction":    c.Direction,
		"duration_sec": float64(c.DurationSec),
		"manager_id":   c.ManagerID,
		"transcript":   c.Transcript,
	}
}

// CallLink associates a call with an order. Links are produced by an
// external matching heuristic and carry its confidence.
type CallLink struct {
	CallID     string
	OrderID    string
	Confidence float64
}

// Event is one field transition from the order history log
type Event struct {
	ID         int64
	OrderID    string
	Field      string
	OldValue   any
	NewValue   any
	ManagerID  string
	OccurredAt time.Time
}

// Payload exposes the event delta for rule blocks
func (e Event) Payload() Payload {
	return Payload{
		"order_id":    e.OrderID,
		"field":       e.Field,
		"oldValue":    e.OldValue,
		"newValue":    e.NewValue,
		"manager_id":  e.ManagerID,
		"occurred_at": e.OccurredAt,
	}
}

// OrderFilter narrows order selection. Empty Statuses selects every order.
type OrderFilter struct {
	Statuses []string
}

// EventFilter selects history rows by occurrence time and optionally field
type EventFilter struct {
	From  time.Time
	To    time.Time
	Field string
}

// OrderStore reads order snapshots
type OrderStore interface {
	ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error)

	// OrderContexts returns the context of every known order in ids, keyed by order id
	OrderContexts(ctx context.Context, ids []string) (map[string]OrderContext, error)
}

// CallStore reads calls and their order links
type CallStore interface {
	// ListCalls returns calls started in [from, to]
	ListCalls(ctx context.Context, from, to time.Time) ([]Call, error)

	// CallsForOrder returns calls linked to the order and started in [from, to]
	CallsForOrder(ctx context.Context, orderID string, from, to time.Time) ([]Call, error)

	// LinksForCalls returns order links keyed by call id, highest confidence first
	LinksForCalls(ctx context.Context, callIDs []string) (map[string][]CallLink, error)
}

// EventStore reads the order history log
type EventStore interface {
	ListEvents(ctx context.Context, filter EventFilter) ([]Event, error)

	// LastTransitionInto returns the most recent transition of field into value,
	// or nil when the order never made one.
	LastTransitionInto(ctx context.Context, orderID, field, value string) (*Event, error)

	// History returns history rows of an order in [from, to], oldest first
	History(ctx context.Context, orderID string, from, to time.Time) ([]Event, error)
}

// Store is the full collaborator surface
type Store interface {
	OrderStore
	CallStore
	EventStore
}
