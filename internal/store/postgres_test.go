package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/subsidy-match/internal/eval"
	"github.com/sells-group/subsidy-match/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_SaveRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	run := sampleRun("run-1", "u1", created)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO match_runs`).
		WithArgs("run-1", "u1", "abc123def456", 3, 1, "CROP-01", created).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"match_items"}, itemColumns).WillReturnResult(3)
	mock.ExpectCommit()

	require.NoError(t, s.SaveRun(context.Background(), run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRun_InsertFailsRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO match_runs`).WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	err := s.SaveRun(context.Background(), sampleRun("run-1", "u1", time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert run run-1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRun_CopyFailsRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO match_runs`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"match_items"}, itemColumns).WillReturnError(errors.New("conn reset"))
	mock.ExpectRollback()

	err := s.SaveRun(context.Background(), sampleRun("run-1", "u1", time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert items for run run-1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRun_BeginFails(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin().WillReturnError(errors.New("db down"))

	err := s.SaveRun(context.Background(), sampleRun("run-1", "u1", time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin tx")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, user_id, catalog_version, created_at FROM match_runs WHERE id = \$1`).
		WithArgs("run-1").
		WillReturnRows(mock.NewRows([]string{"id", "user_id", "catalog_version", "created_at"}).
			AddRow("run-1", "u1", "abc123def456", created))
	mock.ExpectQuery(`FROM match_items WHERE run_id = \$1 ORDER BY position`).
		WithArgs("run-1").
		WillReturnRows(mock.NewRows([]string{
			"subsidy_code", "title", "status", "eligible", "hard_failed", "score", "band",
			"explanation", "missing", "ai_signal", "error",
		}).
			AddRow("CROP-01", "Cereal support", "open", true, false, 100.0, "green",
				[]byte(`{"kind":"LEAF","label":"crop","outcome":"pass","contribution":100,"weight":100}`),
				[]byte(nil), ptr(0.72), "").
			AddRow("FARM-A", "Farm modernisation", "closed", false, false, 60.0, "yellow",
				[]byte(nil), []byte(`["region"]`), (*float64)(nil), ""))

	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "u1", run.UserID)
	assert.Equal(t, created, run.CreatedAt)
	require.Len(t, run.Items, 2)

	crop := run.Items[0]
	assert.Equal(t, model.SubsidyOpen, crop.Status)
	require.NotNil(t, crop.Explanation)
	assert.Equal(t, eval.Pass, crop.Explanation.Outcome)
	require.NotNil(t, crop.AISignal)
	assert.InDelta(t, 0.72, *crop.AISignal, 1e-9)

	farm := run.Items[1]
	assert.Equal(t, []string{"region"}, farm.Missing)
	assert.Nil(t, farm.AISignal)
	assert.Nil(t, farm.Explanation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM match_runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "get run")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM match_runs WHERE true AND user_id = \$1 ORDER BY created_at DESC, id LIMIT \$2 OFFSET \$3`).
		WithArgs("u1", 10, 20).
		WillReturnRows(mock.NewRows([]string{
			"id", "user_id", "catalog_version", "item_count", "eligible_count", "top_subsidy", "created_at",
		}).AddRow("run-1", "u1", "abc123def456", 3, 1, "CROP-01", created))

	runs, err := s.ListRuns(context.Background(), RunFilter{UserID: "u1", Limit: 10, Offset: 20})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
	assert.Equal(t, 3, runs[0].ItemCount)
	assert.Equal(t, "CROP-01", runs[0].TopSubsidy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_CreatedAfter(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	after := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM match_runs WHERE true AND created_at >= \$1 ORDER BY created_at DESC, id LIMIT \$2`).
		WithArgs(after, 100).
		WillReturnRows(mock.NewRows([]string{
			"id", "user_id", "catalog_version", "item_count", "eligible_count", "top_subsidy", "created_at",
		}))

	runs, err := s.ListRuns(context.Background(), RunFilter{CreatedAfter: after})
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_DefaultLimit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM match_runs WHERE true ORDER BY created_at DESC, id LIMIT \$1`).
		WithArgs(100).
		WillReturnRows(mock.NewRows([]string{
			"id", "user_id", "catalog_version", "item_count", "eligible_count", "top_subsidy", "created_at",
		}))

	runs, err := s.ListRuns(context.Background(), RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS match_runs`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
