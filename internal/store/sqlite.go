package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/subsidy-match/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS match_runs (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	catalog_version TEXT NOT NULL DEFAULT '',
	item_count      INTEGER NOT NULL DEFAULT 0,
	eligible_count  INTEGER NOT NULL DEFAULT 0,
	top_subsidy     TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS match_items (
	run_id       TEXT NOT NULL REFERENCES match_runs(id),
	position     INTEGER NOT NULL,
	subsidy_code TEXT NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT '',
	eligible     INTEGER NOT NULL,
	hard_failed  INTEGER NOT NULL DEFAULT 0,
	score        REAL NOT NULL,
	band         TEXT NOT NULL DEFAULT '',
	explanation  TEXT,
	missing      TEXT,
	ai_signal    REAL,
	error        TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, position)
);

CREATE INDEX IF NOT EXISTS idx_match_runs_user ON match_runs(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_match_items_code ON match_items(subsidy_code);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run *model.MatchRun) error {
	sum, err := prepareRun(run)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO match_runs (id, user_id, catalog_version, item_count, eligible_count, top_subsidy, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sum.ID, sum.UserID, sum.CatalogVersion, sum.ItemCount, sum.EligibleCount, sum.TopSubsidy, sum.CreatedAt.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert run %s", run.ID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO match_items (run_id, position, subsidy_code, title, status, eligible, hard_failed, score, band,
		 explanation, missing, ai_signal, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare item insert")
	}
	defer stmt.Close() //nolint:errcheck

	for i, it := range run.Items {
		row, err := itemRow(run.ID, i, it)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return eris.Wrapf(err, "sqlite: insert item %s for run %s", it.SubsidyCode, run.ID)
		}
	}

	return eris.Wrapf(tx.Commit(), "sqlite: commit run %s", run.ID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.MatchRun, error) {
	run := &model.MatchRun{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, catalog_version, created_at FROM match_runs WHERE id = ?`, runID,
	).Scan(&run.ID, &run.UserID, &run.CatalogVersion, &run.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT subsidy_code, title, status, eligible, hard_failed, score, band, explanation, missing, ai_signal, error
		 FROM match_items WHERE run_id = ? ORDER BY position`, runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list items for run %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	run.Items = []model.MatchItem{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		run.Items = append(run.Items, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list items iterate")
	}
	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunSummary, error) {
	query := `SELECT id, user_id, catalog_version, item_count, eligible_count, top_subsidy, created_at
		FROM match_runs WHERE 1=1`
	var args []any

	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, filter.limit())

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	runs := []model.RunSummary{}
	for rows.Next() {
		var r model.RunSummary
		if err := rows.Scan(&r.ID, &r.UserID, &r.CatalogVersion, &r.ItemCount, &r.EligibleCount, &r.TopSubsidy, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run summary")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanItem(row scannable) (*model.MatchItem, error) {
	var it model.MatchItem
	var status string
	var explanation, missing sql.NullString
	var signal sql.NullFloat64

	err := row.Scan(&it.SubsidyCode, &it.Title, &status, &it.Eligible, &it.HardFailed, &it.Score, &it.Band,
		&explanation, &missing, &signal, &it.Error)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan item")
	}
	it.Status = model.SubsidyStatus(status)
	if signal.Valid {
		v := signal.Float64
		it.AISignal = &v
	}
	if err := decodeItemJSON(&it, []byte(explanation.String), []byte(missing.String)); err != nil {
		return nil, err
	}
	return &it, nil
}
