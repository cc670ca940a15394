package violations

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/liamcoop/salesaudit/rules"
)

// PostgresStore implements Store backed by PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed violation store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// upsertQuery sends one array per column so the parameter count stays
// fixed whatever the batch size
const upsertQuery = `INSERT INTO violations (rule_code, order_id, manager_id, violation_time, call_id, severity, points, details, evidence_text, checklist_result)
	SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::timestamptz[], $5::text[], $6::text[], $7::integer[], $8::text[], $9::text[], $10::jsonb[])
	ON CONFLICT (rule_code, order_id, violation_time, call_id) DO UPDATE SET
	manager_id = EXCLUDED.manager_id,
	severity = EXCLUDED.severity,
	points = EXCLUDED.points,
	details = EXCLUDED.details,
	evidence_text = EXCLUDED.evidence_text,
	checklist_result = EXCLUDED.checklist_result,
	updated_at = NOW()`

// Upsert writes the whole batch with a single statement. Keys repeated in
// the batch are collapsed first since Postgres rejects a statement that
// touches the same conflict target twice.
func (s *PostgresStore) Upsert(ctx context.Context, batch []*rules.Violation) (int, error) {
	batch = Dedupe(batch)
	if len(batch) == 0 {
		return 0, nil
	}

	var (
		ruleCodes  = make([]string, len(batch))
		orderIDs   = make([]string, len(batch))
		managerIDs = make([]string, len(batch))
		times      = make([]string, len(batch))
		callIDs    = make([]string, len(batch))
		severities = make([]string, len(batch))
		points     = make([]int64, len(batch))
		details    = make([]string, len(batch))
		evidence   = make([]sql.NullString, len(batch))
		checklists = make([]sql.NullString, len(batch))
	)
	for i, v := range batch {
		checklist, err := encodeChecklist(v.ChecklistResult)
		if err != nil {
			return 0, fmt.Errorf("failed to encode checklist result of %s/%s: %w", v.RuleCode, v.OrderID, err)
		}
		ruleCodes[i] = v.RuleCode
		orderIDs[i] = v.OrderID
		managerIDs[i] = v.ManagerID
		times[i] = v.ViolationTime.UTC().Format(time.RFC3339Nano)
		callIDs[i] = v.CallID
		severities[i] = string(v.Severity)
		points[i] = int64(v.Points)
		details[i] = v.Details
		evidence[i] = nullString(v.EvidenceText)
		checklists[i] = checklist
	}

	result, err := s.db.ExecContext(ctx, upsertQuery,
		pq.Array(ruleCodes),
		pq.Array(orderIDs),
		pq.Array(managerIDs),
		pq.Array(times),
		pq.Array(callIDs),
		pq.Array(severities),
		pq.Array(points),
		pq.Array(details),
		pq.Array(evidence),
		pq.Array(checklists),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert violations: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

const selectViolationColumns = `SELECT rule_code, order_id, manager_id, violation_time, call_id, severity, points, details, evidence_text, checklist_result FROM violations`

// List returns matching violations, newest first
func (s *PostgresStore) List(ctx context.Context, q Query) ([]*rules.Violation, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if q.RuleCode != "" {
		add("rule_code = $%d", q.RuleCode)
	}
	if q.OrderID != "" {
		add("order_id = $%d", q.OrderID)
	}
	if !q.From.IsZero() {
		add("violation_time >= $%d", q.From)
	}
	if !q.To.IsZero() {
		add("violation_time <= $%d", q.To)
	}

	query := selectViolationColumns
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY violation_time DESC, rule_code ASC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list violations: %w", err)
	}
	defer rows.Close()

	var out []*rules.Violation
	for rows.Next() {
		var (
			v         rules.Violation
			evidence  sql.NullString
			checklist []byte
		)
		if err := rows.Scan(&v.RuleCode, &v.OrderID, &v.ManagerID, &v.ViolationTime, &v.CallID,
			&v.Severity, &v.Points, &v.Details, &evidence, &checklist); err != nil {
			return nil, fmt.Errorf("failed to scan violation: %w", err)
		}
		v.EvidenceText = evidence.String
		if len(checklist) > 0 && string(checklist) != "null" {
			v.ChecklistResult = &rules.ChecklistResult{}
			if err := json.Unmarshal(checklist, v.ChecklistResult); err != nil {
				return nil, fmt.Errorf("failed to decode checklist result: %w", err)
			}
		}
		out = append(out, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating violations: %w", err)
	}
	return out, nil
}

func encodeChecklist(r *rules.ChecklistResult) (sql.NullString, error) {
	if r == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
