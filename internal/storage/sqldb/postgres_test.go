package sqldb

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/completion-gateway/internal/types"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewWithDB(db, DriverPostgres, testLogger()), mock
}

var interactionColumns = []string{
	"id", "request_id", "user_id", "feature", "message", "response", "provider_used",
	"succeeded", "status", "attempts", "prompt_tokens", "response_tokens", "latency_ms", "created_at",
}

func TestPostgresStore_InsertUsesDollarPlaceholders(t *testing.T) {
	store, mock := newMockStore(t)
	rec := sampleRecord("What is 2+2?", time.Now().UTC())

	insertPattern := `(?s)` + regexp.QuoteMeta("INSERT INTO interactions") + `.*VALUES \(\$1, \$2, .*\$14\)`

	mock.ExpectBegin()
	mock.ExpectExec(insertPattern).
		WithArgs(
			rec.ID.String(), "req-1", "student-42", "exam-generation", "What is 2+2?",
			"Here are five questions.", "anthropic", true, "completed", 1, 12, 6, int64(850),
			sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, store.Insert(context.Background(), []*types.InteractionRecord{rec}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO interactions").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})
	mock.ExpectRollback()

	err := store.Insert(context.Background(), []*types.InteractionRecord{sampleRecord("q", time.Now())})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "23505")
	assert.Contains(t, err.Error(), "unique_violation")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Recent(t *testing.T) {
	store, mock := newMockStore(t)
	rec := sampleRecord("Explain photosynthesis", time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	rows := sqlmock.NewRows(interactionColumns).AddRow(
		rec.ID.String(), rec.RequestID, rec.UserID, rec.Feature, rec.Message, rec.Response,
		rec.ProviderUsed, rec.Succeeded, string(rec.Status), rec.Attempts, rec.PromptTokens,
		rec.ResponseTokens, rec.LatencyMs, rec.Timestamp,
	)
	mock.ExpectQuery(regexp.QuoteMeta("FROM interactions ORDER BY created_at DESC LIMIT $1")).
		WithArgs(5).
		WillReturnRows(rows)

	recent, err := store.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, rec.ID, recent[0].ID)
	assert.Equal(t, types.RecordCompleted, recent[0].Status)
	assert.True(t, rec.Timestamp.Equal(recent[0].Timestamp))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecentRejectsBadID(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows(interactionColumns).AddRow(
		"not-a-uuid", "", "", "general", "m", "r", "openai", true, "completed", 1, 0, 0, int64(0), time.Now(),
	)
	mock.ExpectQuery("FROM interactions").WithArgs(50).WillReturnRows(rows)

	_, err := store.Recent(context.Background(), 0)
	assert.Error(t, err)
}

func TestPostgresStore_InsertKeepsLongCallerValues(t *testing.T) {
	store, mock := newMockStore(t)

	long := sampleRecord("Explain fractions", time.Now().UTC())
	long.Feature = strings.Repeat("f", 500)
	long.UserID = strings.Repeat("u", 1000)
	long.RequestID = strings.Repeat("r", 300)
	other := sampleRecord("What is 2+2?", time.Now().UTC())

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO interactions")).
		WithArgs(
			long.ID.String(), long.RequestID, long.UserID, long.Feature, "Explain fractions",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO interactions")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, store.Insert(context.Background(), []*types.InteractionRecord{long, other}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSchema_CallerSuppliedColumnsAreUnbounded(t *testing.T) {
	table := postgresSchema[0]
	for _, column := range []string{"request_id", "user_id", "feature", "message", "response"} {
		assert.Regexp(t, `(?m)^\s*`+column+` TEXT NOT NULL`, table, column)
	}
}

func TestPostgresStore_EnsureSchema(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS interactions")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	for i := 0; i < len(postgresSchema)-1; i++ {
		mock.ExpectExec("CREATE INDEX IF NOT EXISTS").
			WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
