package rules

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ruleColumns = []string{"code", "name", "entity_type", "logic", "checklist", "severity", "points", "notify", "is_active", "created_at", "updated_at"}

func TestPostgresRuleStore_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresRuleStore(db)
	ctx := context.Background()
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(ruleColumns).AddRow(
		"CALL_SCRIPT", "Script", "call",
		[]byte(`{"trigger":null,"conditions":[{"block":"time_elapsed","params":{"hours":2}}]}`),
		[]byte(`[{"section":"Opening","items":[{"description":"Greeting","weight":10}]}]`),
		"low", 2, true, true, now, now,
	)
	mock.ExpectQuery(regexp.QuoteMeta(selectRuleColumns + ` WHERE code = $1`)).
		WithArgs("CALL_SCRIPT").
		WillReturnRows(rows)

	def, err := store.Get(ctx, "CALL_SCRIPT")
	require.NoError(t, err)
	assert.Equal(t, EntityCall, def.EntityType)
	assert.Equal(t, SeverityLow, def.Severity)
	assert.Nil(t, def.Logic.Trigger)
	require.Len(t, def.Logic.Conditions, 1)
	assert.Equal(t, BlockTimeElapsed, def.Logic.Conditions[0].Block)
	require.Len(t, def.Checklist, 1)
	assert.Equal(t, 10.0, def.Checklist[0].Items[0].Weight)
	assert.True(t, def.Notify)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRuleStore_GetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(selectRuleColumns + ` WHERE code = $1`)).
		WithArgs("MISSING").
		WillReturnError(sql.ErrNoRows)

	_, err = NewPostgresRuleStore(db).Get(context.Background(), "MISSING")
	assert.ErrorIs(t, err, ErrRuleNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRuleStore_ListActive(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows(ruleColumns).
		AddRow("A", "a", "order", []byte(`{"trigger":null,"conditions":[]}`), []byte(`null`), "high", 10, false, true, now, now).
		AddRow("B", "b", "event", []byte(`{"trigger":null,"conditions":[]}`), nil, "medium", 5, false, true, now, now)
	mock.ExpectQuery(regexp.QuoteMeta(selectRuleColumns + ` WHERE is_active = true ORDER BY code ASC`)).
		WillReturnRows(rows)

	defs, err := NewPostgresRuleStore(db).ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "A", defs[0].Code)
	assert.Empty(t, defs[0].Checklist)
	assert.Equal(t, EntityEvent, defs[1].EntityType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRuleStore_Upsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	def := orderRule("CANCEL", true)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_rules")).
		WithArgs("CANCEL", "Rule CANCEL", "order", sqlmock.AnyArg(), "null", "high", 10, false, true).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = NewPostgresRuleStore(db).Upsert(context.Background(), def)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRuleStore_SetActiveAndDelete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresRuleStore(db)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE audit_rules")).
		WithArgs(false, "R1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	assert.NoError(t, store.SetActive(ctx, "R1", false))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE audit_rules")).
		WithArgs(true, "GONE").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, store.SetActive(ctx, "GONE", true), ErrRuleNotFound)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM audit_rules WHERE code = $1")).
		WithArgs("R1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	assert.NoError(t, store.Delete(ctx, "R1"))

	assert.NoError(t, mock.ExpectationsWereMet())
}
