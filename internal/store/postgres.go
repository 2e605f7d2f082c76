package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/subsidy-match/internal/db"
	"github.com/sells-group/subsidy-match/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	insertRunSQL = `INSERT INTO match_runs (id, user_id, catalog_version, item_count, eligible_count, top_subsidy, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	getRunSQL    = `SELECT id, user_id, catalog_version, created_at FROM match_runs WHERE id = $1`
	getItemsSQL  = `SELECT subsidy_code, title, status, eligible, hard_failed, score, band, explanation, missing, ai_signal, error FROM match_items WHERE run_id = $1 ORDER BY position`
)

// preparedStatements are prepared on each new connection.
var preparedStatements = map[string]string{
	"insert_run": insertRunSQL,
	"get_run":    getRunSQL,
	"get_items":  getItemsSQL,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS match_runs (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	catalog_version TEXT NOT NULL DEFAULT '',
	item_count      INTEGER NOT NULL DEFAULT 0,
	eligible_count  INTEGER NOT NULL DEFAULT 0,
	top_subsidy     TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS match_items (
	run_id       TEXT NOT NULL REFERENCES match_runs(id),
	position     INTEGER NOT NULL,
	subsidy_code TEXT NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT '',
	eligible     BOOLEAN NOT NULL,
	hard_failed  BOOLEAN NOT NULL DEFAULT false,
	score        DOUBLE PRECISION NOT NULL,
	band         TEXT NOT NULL DEFAULT '',
	explanation  JSONB,
	missing      JSONB,
	ai_signal    DOUBLE PRECISION,
	error        TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, position)
);

CREATE INDEX IF NOT EXISTS idx_match_runs_user ON match_runs(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_match_items_code ON match_items(subsidy_code);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveRun(ctx context.Context, run *model.MatchRun) error {
	sum, err := prepareRun(run)
	if err != nil {
		return err
	}

	rows := make([][]any, 0, len(run.Items))
	for i, it := range run.Items {
		row, err := itemRow(run.ID, i, it)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, insertRunSQL,
		sum.ID, sum.UserID, sum.CatalogVersion, sum.ItemCount, sum.EligibleCount, sum.TopSubsidy, sum.CreatedAt.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert run %s", run.ID)
	}
	if _, err := db.CopyFrom(ctx, tx, "match_items", itemColumns, rows); err != nil {
		return eris.Wrapf(err, "postgres: insert items for run %s", run.ID)
	}
	return eris.Wrapf(tx.Commit(ctx), "postgres: commit run %s", run.ID)
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.MatchRun, error) {
	run := &model.MatchRun{}
	err := s.pool.QueryRow(ctx, getRunSQL, runID).Scan(&run.ID, &run.UserID, &run.CatalogVersion, &run.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	rows, err := s.pool.Query(ctx, getItemsSQL, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list items for run %s", runID)
	}
	defer rows.Close()

	run.Items = []model.MatchItem{}
	for rows.Next() {
		var it model.MatchItem
		var status string
		var explanation, missing []byte
		if err := rows.Scan(&it.SubsidyCode, &it.Title, &status, &it.Eligible, &it.HardFailed, &it.Score, &it.Band,
			&explanation, &missing, &it.AISignal, &it.Error); err != nil {
			return nil, eris.Wrap(err, "postgres: scan item")
		}
		it.Status = model.SubsidyStatus(status)
		if err := decodeItemJSON(&it, explanation, missing); err != nil {
			return nil, err
		}
		run.Items = append(run.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list items iterate")
	}
	return run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunSummary, error) {
	query := `SELECT id, user_id, catalog_version, item_count, eligible_count, top_subsidy, created_at FROM match_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(` AND user_id = $%d`, argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.CreatedAfter.UTC())
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d`, argIdx)
	args = append(args, filter.limit())
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	runs := []model.RunSummary{}
	for rows.Next() {
		var r model.RunSummary
		if err := rows.Scan(&r.ID, &r.UserID, &r.CatalogVersion, &r.ItemCount, &r.EligibleCount, &r.TopSubsidy, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run summary")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}
