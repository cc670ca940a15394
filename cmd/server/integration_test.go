//go:build integration

package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/liamcoop/salesaudit/crm"
	"github.com/liamcoop/salesaudit/engine"
	"github.com/liamcoop/salesaudit/rules"
	"github.com/liamcoop/salesaudit/violations"
)

// setupTestDB creates a PostgreSQL testcontainer and runs migrations
func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	connStr := fmt.Sprintf("postgres://postgres:password@%s:%s/testdb?sslmode=disable", host, port.Port())
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	for i := 0; i < 30; i++ {
		if err := db.Ping(); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	migrationSQL, err := os.ReadFile("../../migrations/000001_initial_schema.up.sql")
	if err != nil {
		t.Fatalf("Failed to read migration file: %v", err)
	}
	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		db.Close()
		postgres.Terminate(ctx)
	}
	return db, cleanup
}

func seedCRM(t *testing.T, db *sql.DB) {
	t.Helper()
	stmts := []string{
		`INSERT INTO orders (id, status, manager_id, custom_fields, updated_at) VALUES
			('o1', 'cancel', 'm1', '{"comments": ""}', '2024-01-16T12:00:00Z'),
			('o2', 'cancel', 'm2', '{"comments": "client went with a competitor"}', '2024-01-16T12:00:00Z'),
			('o3', 'proposal_sent', 'm1', '{}', '2024-01-15T09:00:00Z')`,
		`INSERT INTO order_history (order_id, field, old_value, new_value, occurred_at) VALUES
			('o1', 'status', '"new"', '"cancel"', '2024-01-15T10:00:00Z'),
			('o2', 'status', '"new"', '{"code": "cancel"}', '2024-01-15T11:00:00Z'),
			('o3', 'status', '"new"', '"proposal_sent"', '2024-01-15T09:00:00Z')`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("Failed to seed CRM data: %v", err)
		}
	}
}

// TestEndToEnd_PassPersistsOnce runs the full stack against Postgres:
// rules are stored over HTTP, a pass reads the CRM tables and violations
// survive a second pass without duplicates.
func TestEndToEnd_PassPersistsOnce(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	seedCRM(t, db)

	catalog := rules.NewCatalog(rules.NewPostgresRuleStore(db))
	store := violations.NewPostgresStore(db)
	eng := engine.New(engine.Deps{
		Rules:  catalog,
		Store:  crm.NewPostgresStore(db),
		Sink:   violations.NewSink(store, nil),
		Config: engine.DefaultConfig(),
		Now:    func() time.Time { return time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC) },
	})

	ts := httptest.NewServer(NewServer(db.PingContext, catalog, eng, store))
	defer ts.Close()
	baseURL := ts.URL + "/api/v1"

	followUp := map[string]any{
		"name":       "No follow-up call",
		"entityType": "event",
		"logic": map[string]any{
			"trigger": map[string]any{"block": "status_change", "params": map[string]any{"target": "proposal_sent"}},
			"conditions": []any{
				map[string]any{"block": "time_elapsed", "params": map[string]any{"hours": 24}},
				map[string]any{"block": "call_exists", "params": map[string]any{"within_hours": 24, "expect": false}},
			},
		},
		"severity": "medium",
		"points":   5,
		"isActive": true,
	}
	for code, body := range map[string]any{"CANCEL_NO_COMMENT": cancelRule, "NO_FOLLOWUP_CALL": followUp} {
		if status := do(t, http.MethodPut, baseURL+"/rules/"+code, body, nil); status != http.StatusOK {
			t.Fatalf("PUT %s status = %d", code, status)
		}
	}

	window := map[string]any{"from": "2024-01-15T00:00:00Z", "to": "2024-01-16T00:00:00Z"}
	for i := 0; i < 2; i++ {
		var result engine.PassResult
		if status := do(t, http.MethodPost, baseURL+"/passes", window, &result); status != http.StatusOK {
			t.Fatalf("pass %d status = %d", i, status)
		}
		if result.Count != 2 || result.Persisted != 2 {
			t.Errorf("pass %d = count %d persisted %d, want 2/2 (%+v)", i, result.Count, result.Persisted, result.Rules)
		}
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM violations`).Scan(&count); err != nil {
		t.Fatalf("Failed to count violations: %v", err)
	}
	if count != 2 {
		t.Errorf("violations table has %d rows, want 2", count)
	}

	var list ViolationsListResponse
	do(t, http.MethodGet, baseURL+"/violations?rule=CANCEL_NO_COMMENT", nil, &list)
	if list.Count != 1 {
		t.Fatalf("violations = %+v", list)
	}
	want := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	if got := list.Violations[0]; got.OrderID != "o1" || !got.ViolationTime.Equal(want) {
		t.Errorf("violation = %+v, want o1 at %v", got, want)
	}
}
