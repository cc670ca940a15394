package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresRuleStore implements RuleStore backed by PostgreSQL
type PostgresRuleStore struct {
	db *sql.DB
}

// NewPostgresRuleStore creates a new PostgreSQL-backed RuleStore
func NewPostgresRuleStore(db *sql.DB) *PostgresRuleStore {
	return &PostgresRuleStore{db: db}
}

const selectRuleColumns = `
	SELECT code, name, entity_type, logic, checklist, severity, points, notify, is_active, created_at, updated_at
	FROM audit_rules`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*Definition, error) {
	var (
		def       Definition
		logicJSON []byte
		listJSON  []byte
	)
	if err := row.Scan(
		&def.Code,
		&def.Name,
		&def.EntityType,
		&logicJSON,
		&listJSON,
		&def.Severity,
		&def.Points,
		&def.Notify,
		&def.Active,
		&def.CreatedAt,
		&def.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(logicJSON) > 0 {
		if err := json.Unmarshal(logicJSON, &def.Logic); err != nil {
			return nil, fmt.Errorf("failed to decode logic of rule %s: %w", def.Code, err)
		}
	}
	if len(listJSON) > 0 && string(listJSON) != "null" {
		if err := json.Unmarshal(listJSON, &def.Checklist); err != nil {
			return nil, fmt.Errorf("failed to decode checklist of rule %s: %w", def.Code, err)
		}
	}
	return &def, nil
}

// Get retrieves a rule by code
func (s *PostgresRuleStore) Get(ctx context.Context, code string) (*Definition, error) {
	row := s.db.QueryRowContext(ctx, selectRuleColumns+` WHERE code = $1`, code)
	def, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, code)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return def, nil
}

// List returns all rules
func (s *PostgresRuleStore) List(ctx context.Context) ([]*Definition, error) {
	return s.query(ctx, selectRuleColumns+` ORDER BY code ASC`)
}

// ListActive returns all active rules
func (s *PostgresRuleStore) ListActive(ctx context.Context) ([]*Definition, error) {
	return s.query(ctx, selectRuleColumns+` WHERE is_active = true ORDER BY code ASC`)
}

func (s *PostgresRuleStore) query(ctx context.Context, q string) ([]*Definition, error) {
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var defs []*Definition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		defs = append(defs, def)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return defs, nil
}

// Upsert inserts a rule or replaces the existing rule with the same code
func (s *PostgresRuleStore) Upsert(ctx context.Context, def *Definition) error {
	logicJSON, err := json.Marshal(def.Logic)
	if err != nil {
		return fmt.Errorf("failed to encode logic: %w", err)
	}
	listJSON, err := json.Marshal(def.Checklist)
	if err != nil {
		return fmt.Errorf("failed to encode checklist: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_rules (code, name, entity_type, logic, checklist, severity, points, notify, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			entity_type = EXCLUDED.entity_type,
			logic = EXCLUDED.logic,
			checklist = EXCLUDED.checklist,
			severity = EXCLUDED.severity,
			points = EXCLUDED.points,
			notify = EXCLUDED.notify,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()
	`, def.Code, def.Name, string(def.EntityType), string(logicJSON), string(listJSON),
		string(def.Severity), def.Points, def.Notify, def.Active)
	if err != nil {
		return fmt.Errorf("failed to upsert rule: %w", err)
	}
	return nil
}

// SetActive toggles the active flag of a rule
func (s *PostgresRuleStore) SetActive(ctx context.Context, code string, active bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE audit_rules
		SET is_active = $1, updated_at = NOW()
		WHERE code = $2
	`, active, code)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return expectOneRow(result, code)
}

// Delete removes a rule from the database
func (s *PostgresRuleStore) Delete(ctx context.Context, code string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM audit_rules WHERE code = $1`, code)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return expectOneRow(result, code)
}

func expectOneRow(result sql.Result, code string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, code)
	}
	return nil
}
