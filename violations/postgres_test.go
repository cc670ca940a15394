package violations

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/salesaudit/rules"
)

func TestPostgresStore_UpsertSingleStatement(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	scored := violation("CALL_SCRIPT", "o2", at, "score 10 of 20")
	scored.CallID = "c9"
	scored.EvidenceText = "hello"
	scored.ChecklistResult = &rules.ChecklistResult{TotalScore: 10, MaxScore: 20, Percent: 50, IsViolation: true}

	batch := []*rules.Violation{
		violation("CANCEL", "o1", at, "first"),
		scored,
		violation("CANCEL", "o1", at, "duplicate wins"),
	}

	mock.ExpectExec(regexp.QuoteMeta(upsertQuery)).
		WithArgs(
			`{"CANCEL","CALL_SCRIPT"}`,
			`{"o1","o2"}`,
			`{"m1","m1"}`,
			`{"2024-01-15T10:00:00Z","2024-01-15T10:00:00Z"}`,
			`{"","c9"}`,
			`{"high","high"}`,
			`{10,10}`,
			`{"duplicate wins","score 10 of 20"}`,
			`{NULL,"hello"}`,
			sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := NewPostgresStore(db).Upsert(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertLargeBatchKeepsTenParameters(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// more rows than a VALUES list could bind under the 65535 parameter cap
	batch := make([]*rules.Violation, 7000)
	for i := range batch {
		batch[i] = violation("ORDER_RULE", fmt.Sprintf("o%d", i), at, "")
	}

	args := make([]driver.Value, 10)
	for i := range args {
		args[i] = sqlmock.AnyArg()
	}
	mock.ExpectExec(regexp.QuoteMeta(upsertQuery)).
		WithArgs(args...).
		WillReturnResult(sqlmock.NewResult(0, 7000))

	n, err := NewPostgresStore(db).Upsert(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, 7000, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertEmptyBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	n, err := NewPostgresStore(db).Upsert(context.Background(), nil)
	assert.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(upsertQuery)).WillReturnError(errors.New("connection refused"))

	_, err = NewPostgresStore(db).Upsert(context.Background(), []*rules.Violation{violation("R", "o", at, "")})
	assert.ErrorContains(t, err, "failed to upsert violations")
}

func TestPostgresStore_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cols := []string{"rule_code", "order_id", "manager_id", "violation_time", "call_id", "severity", "points", "details", "evidence_text", "checklist_result"}
	mock.ExpectQuery(regexp.QuoteMeta(selectViolationColumns + " WHERE rule_code = $1 AND violation_time >= $2 ORDER BY violation_time DESC, rule_code ASC LIMIT $3")).
		WithArgs("CALL_SCRIPT", at, 50).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("CALL_SCRIPT", "o2", "m1", at, "c9", "low", 2, "score", nil, []byte(`{"totalScore":10,"maxScore":20,"percent":50,"isViolation":true}`)).
			AddRow("CALL_SCRIPT", "o3", "m1", at, "", "low", 2, "score", "text", nil))

	list, err := NewPostgresStore(db).List(context.Background(), Query{RuleCode: "CALL_SCRIPT", From: at, Limit: 50})
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.NotNil(t, list[0].ChecklistResult)
	assert.Equal(t, 10.0, list[0].ChecklistResult.TotalScore)
	assert.Equal(t, rules.SeverityLow, list[0].Severity)
	assert.Nil(t, list[1].ChecklistResult)
	assert.Equal(t, "text", list[1].EvidenceText)
	assert.NoError(t, mock.ExpectationsWereMet())
}
