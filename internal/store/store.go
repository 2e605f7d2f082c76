// Package store persists match runs. Runs are insert-only: a run and its
// items are written in one transaction and never updated afterwards.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/subsidy-match/internal/model"
)

// ErrNotFound is returned by GetRun for an unknown run ID.
var ErrNotFound = eris.New("store: run not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	UserID       string    `json:"user_id,omitempty"`
	CreatedAfter time.Time `json:"created_after,omitempty"`
	Limit        int       `json:"limit,omitempty"`
	Offset       int       `json:"offset,omitempty"`
}

// Store defines the persistence interface for match runs.
type Store interface {
	// SaveRun stores the run and all its items atomically. Saving an ID that
	// already exists fails and leaves the stored run untouched.
	SaveRun(ctx context.Context, run *model.MatchRun) error
	GetRun(ctx context.Context, runID string) (*model.MatchRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.RunSummary, error)

	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

func (f RunFilter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
