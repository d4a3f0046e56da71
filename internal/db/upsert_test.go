package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(nil, nil, UpsertConfig{
		Table:        "research_sessions",
		Columns:      []string{"id", "user_id"},
		ConflictKeys: []string{"id"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(nil, nil, UpsertConfig{
		Table:        "research_sessions",
		ConflictKeys: []string{"id"},
	}, [][]any{{"s1", "u1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(nil, nil, UpsertConfig{
		Table:   "research_sessions",
		Columns: []string{"id", "user_id"},
	}, [][]any{{"s1", "u1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_MergesViaStaging(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"id", "user_id", "outcome"}
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_stage_research_sessions"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_stage_research_sessions"}, cols).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "research_sessions"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "research_sessions",
		Columns:      cols,
		ConflictKeys: []string{"id"},
	}, [][]any{
		{"s1", "u1", "contacted"},
		{"s2", "u1", "skipped"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateColumns_DefaultsToNonKeys(t *testing.T) {
	cols := updateColumns(UpsertConfig{
		Columns:      []string{"id", "user_id", "outcome"},
		ConflictKeys: []string{"id"},
	})
	assert.Equal(t, []string{"user_id", "outcome"}, cols)

	explicit := updateColumns(UpsertConfig{
		Columns:      []string{"id", "user_id", "outcome"},
		ConflictKeys: []string{"id"},
		UpdateCols:   []string{"outcome"},
	})
	assert.Equal(t, []string{"outcome"}, explicit)
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"id", "user_id", "outcome"})
	assert.Equal(t, `"id", "user_id", "outcome"`, result)
}
