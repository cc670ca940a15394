package crm

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store over the CRM replica tables
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed Store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// ListOrders returns orders, optionally restricted to a set of statuses
func (s *PostgresStore) ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error) {
	q := `SELECT id, status, manager_id, amount, custom_fields, created_at, updated_at FROM orders`
	var args []any
	if len(filter.Statuses) > 0 {
		q += ` WHERE status = ANY($1)`
		args = append(args, pq.Array(filter.Statuses))
	}
	q += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		var (
			o      Order
			fields []byte
		)
		if err := rows.Scan(&o.ID, &o.Status, &o.ManagerID, &o.Amount, &fields, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		if o.CustomFields, err = decodeFields(fields); err != nil {
			return nil, fmt.Errorf("order %s: %w", o.ID, err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}
	return orders, nil
}

// OrderContexts loads the context of all ids in one query
func (s *PostgresStore) OrderContexts(ctx context.Context, ids []string) (map[string]OrderContext, error) {
	out := make(map[string]OrderContext, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, manager_id, custom_fields
		FROM orders
		WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to load order contexts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c      OrderContext
			fields []byte
		)
		if err := rows.Scan(&c.OrderID, &c.Status, &c.ManagerID, &fields); err != nil {
			return nil, fmt.Errorf("failed to scan order context: %w", err)
		}
		if c.Fields, err = decodeFields(fields); err != nil {
			return nil, fmt.Errorf("order %s: %w", c.OrderID, err)
		}
		out[c.OrderID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order contexts: %w", err)
	}
	return out, nil
}

const selectCallColumns = `SELECT c.id, c.started_at, c.direction, c.duration_sec, c.manager_id, c.transcript FROM calls c`

// ListCalls returns calls started in [from, to]
func (s *PostgresStore) ListCalls(ctx context.Context, from, to time.Time) ([]Call, error) {
	return s.queryCalls(ctx, selectCallColumns+`
		WHERE ($1::timestamptz IS NULL OR c.started_at >= $1)
		  AND ($2::timestamptz IS NULL OR c.started_at <= $2)
		ORDER BY c.started_at ASC, c.id ASC
	`, nullTime(from), nullTime(to))
}

// CallsForOrder returns calls linked to the order started in [from, to]
func (s *PostgresStore) CallsForOrder(ctx context.Context, orderID string, from, to time.Time) ([]Call, error) {
	return s.queryCalls(ctx, selectCallColumns+`
		JOIN call_order_links l ON l.call_id = c.id
		WHERE l.order_id = $1
		  AND ($2::timestamptz IS NULL OR c.started_at >= $2)
		  AND ($3::timestamptz IS NULL OR c.started_at <= $3)
		ORDER BY c.started_at ASC, c.id ASC
	`, orderID, nullTime(from), nullTime(to))
}

func (s *PostgresStore) queryCalls(ctx context.Context, q string, args ...any) ([]Call, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list calls: %w", err)
	}
	defer rows.Close()

	var calls []Call
	for rows.Next() {
		var (
			c          Call
			transcript sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.StartedAt, &c.Direction, &c.DurationSec, &c.ManagerID, &transcript); err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		c.Transcript = transcript.String
		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating calls: %w", err)
	}
	return calls, nil
}

// LinksForCalls returns links keyed by call id, highest confidence first
func (s *PostgresStore) LinksForCalls(ctx context.Context, callIDs []string) (map[string][]CallLink, error) {
	out := make(map[string][]CallLink)
	if len(callIDs) == 0 {
		return out, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT call_id, order_id, confidence
		FROM call_order_links
		WHERE call_id = ANY($1)
		ORDER BY call_id, confidence DESC, order_id
	`, pq.Array(callIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to load call links: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l CallLink
		if err := rows.Scan(&l.CallID, &l.OrderID, &l.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan call link: %w", err)
		}
		out[l.CallID] = append(out[l.CallID], l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating call links: %w", err)
	}
	return out, nil
}

const selectEventColumns = `SELECT id, order_id, field, old_value, new_value, manager_id, occurred_at FROM order_history`

// ListEvents returns history rows in the filter window
func (s *PostgresStore) ListEvents(ctx context.Context, filter EventFilter) ([]Event, error) {
	return s.queryEvents(ctx, selectEventColumns+`
		WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
		  AND ($2::timestamptz IS NULL OR occurred_at <= $2)
		  AND ($3 = '' OR field = $3)
		ORDER BY occurred_at ASC, id ASC
	`, nullTime(filter.From), nullTime(filter.To), filter.Field)
}

// LastTransitionInto matches new_value either as a plain JSON scalar or as
// an object carrying a code.
func (s *PostgresStore) LastTransitionInto(ctx context.Context, orderID, field, value string) (*Event, error) {
	row := s.db.QueryRowContext(ctx, selectEventColumns+`
		WHERE order_id = $1
		  AND field = $2
		  AND (new_value #>> '{}' = $3 OR new_value ->> 'code' = $3)
		ORDER BY occurred_at DESC
		LIMIT 1
	`, orderID, field, value)

	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve transition: %w", err)
	}
	return e, nil
}

// History returns rows of one order in [from, to], oldest first
func (s *PostgresStore) History(ctx context.Context, orderID string, from, to time.Time) ([]Event, error) {
	return s.queryEvents(ctx, selectEventColumns+`
		WHERE order_id = $1
		  AND ($2::timestamptz IS NULL OR occurred_at >= $2)
		  AND ($3::timestamptz IS NULL OR occurred_at <= $3)
		ORDER BY occurred_at ASC, id ASC
	`, orderID, nullTime(from), nullTime(to))
}

func (s *PostgresStore) queryEvents(ctx context.Context, q string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}
	return events, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var (
		e        Event
		oldValue []byte
		newValue []byte
	)
	if err := row.Scan(&e.ID, &e.OrderID, &e.Field, &oldValue, &newValue, &e.ManagerID, &e.OccurredAt); err != nil {
		return nil, err
	}
	e.OldValue = decodeJSONValue(oldValue)
	e.NewValue = decodeJSONValue(newValue)
	return &e, nil
}

func decodeFields(data []byte) (Payload, error) {
	p := Payload{}
	if len(data) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode custom fields: %w", err)
	}
	return p, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
