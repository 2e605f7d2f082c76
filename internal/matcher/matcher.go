// Package matcher runs every catalog subsidy against one applicant's dataset,
// ranks the results and persists the run.
package matcher

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/subsidy-match/internal/aiscore"
	"github.com/sells-group/subsidy-match/internal/catalog"
	"github.com/sells-group/subsidy-match/internal/eval"
	"github.com/sells-group/subsidy-match/internal/model"
	"github.com/sells-group/subsidy-match/internal/rules"
	"github.com/sells-group/subsidy-match/internal/scoring"
)

// ErrPersistence is matched (via errors.Is) by the error returned when the
// run was computed but could not be saved.
var ErrPersistence = eris.New("matcher: persistence failed")

// PersistenceError carries the sink's error for a run that was not saved.
type PersistenceError struct {
	RunID string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("matcher: persist run %s: %v", e.RunID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Is reports ErrPersistence as a match.
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// CatalogSource provides the current catalog snapshot.
type CatalogSource interface {
	Snapshot(ctx context.Context) (*catalog.Snapshot, error)
}

// DatasetSource provides an applicant's dataset.
type DatasetSource interface {
	Dataset(ctx context.Context, userID string) (eval.Dataset, error)
}

// Sink persists a completed run. SaveRun must be atomic: either the run and
// all its items are stored or nothing is.
type Sink interface {
	SaveRun(ctx context.Context, run *model.MatchRun) error
}

// Config tunes the orchestrator.
type Config struct {
	// Concurrency bounds parallel subsidy evaluations. Default 8.
	Concurrency int
	// AITimeout bounds each AI signal call. Default 10s.
	AITimeout time.Duration
	// AIEligibleOnly skips the AI signal for ineligible items.
	AIEligibleOnly bool
	// Recommendations is how many eligible items to recommend. Default 3.
	Recommendations int
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.AITimeout <= 0 {
		c.AITimeout = 10 * time.Second
	}
	if c.Recommendations <= 0 {
		c.Recommendations = 3
	}
	return c
}

// Result is a ranked run plus derived views.
type Result struct {
	Run             *model.MatchRun   `json:"run"`
	Persisted       bool              `json:"persisted"`
	Recommendations []model.MatchItem `json:"recommendations"`
}

// Matcher orchestrates match runs.
type Matcher struct {
	catalog  CatalogSource
	datasets DatasetSource
	sink     Sink
	ai       aiscore.Adapter
	cfg      Config

	now   func() time.Time
	newID func() string
}

// New creates a Matcher. datasets, sink and ai may be nil: without datasets
// only MatchDataset works, without a sink runs are not persisted, and
// without an adapter no AI signal is attached.
func New(cat CatalogSource, datasets DatasetSource, sink Sink, ai aiscore.Adapter, cfg Config) *Matcher {
	return &Matcher{
		catalog:  cat,
		datasets: datasets,
		sink:     sink,
		ai:       ai,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Match loads the user's dataset and runs MatchDataset.
func (m *Matcher) Match(ctx context.Context, userID string) (*Result, error) {
	if m.datasets == nil {
		return nil, eris.New("matcher: no dataset source configured")
	}
	ds, err := m.datasets.Dataset(ctx, userID)
	if err != nil {
		return nil, eris.Wrapf(err, "matcher: load dataset for %s", userID)
	}
	return m.MatchDataset(ctx, userID, ds)
}

// MatchDataset evaluates every catalog subsidy against ds, ranks the items,
// persists the run once and returns it. On a persistence failure the ranked
// result is still returned together with a *PersistenceError. A cancelled
// context aborts the run and nothing is persisted.
func (m *Matcher) MatchDataset(ctx context.Context, userID string, ds eval.Dataset) (*Result, error) {
	if userID == "" {
		return nil, eris.New("matcher: user id is required")
	}
	snap, err := m.catalog.Snapshot(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "matcher: load catalog")
	}
	if ds == nil {
		ds = eval.Dataset{}
	}

	run := &model.MatchRun{
		ID:             m.newID(),
		UserID:         userID,
		CreatedAt:      m.now().UTC(),
		CatalogVersion: snap.Version(),
	}
	log := zap.L().With(
		zap.String("run_id", run.ID),
		zap.String("user_id", userID),
		zap.String("catalog_version", run.CatalogVersion),
	)
	log.Debug("match run state", zap.String("state", string(model.RunStatePending)))

	entries := snap.Entries()
	items := make([]model.MatchItem, len(entries))

	log.Debug("match run state",
		zap.String("state", string(model.RunStateEvaluating)),
		zap.Int("subsidies", len(entries)),
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Concurrency)
	for i, e := range entries {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			items[i] = m.assess(gctx, e, ds)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "matcher: evaluate")
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "matcher: run cancelled")
	}

	log.Debug("match run state", zap.String("state", string(model.RunStateRanking)))
	Rank(items)
	run.Items = items

	res := &Result{Run: run, Recommendations: Recommend(items, m.cfg.Recommendations)}

	if m.sink == nil {
		log.Info("match run complete (not persisted)", zap.Int("items", len(items)), zap.Int("eligible", run.EligibleCount()))
		return res, nil
	}
	if err := m.sink.SaveRun(ctx, run); err != nil {
		log.Error("match run persistence failed", zap.Error(err))
		return res, &PersistenceError{RunID: run.ID, Err: err}
	}
	res.Persisted = true
	log.Info("match run complete",
		zap.String("state", string(model.RunStatePersisted)),
		zap.Int("items", len(items)),
		zap.Int("eligible", run.EligibleCount()),
	)
	return res, nil
}

// assess evaluates one subsidy. Failures become error items and never abort
// the run.
func (m *Matcher) assess(ctx context.Context, e *catalog.Entry, ds eval.Dataset) (item model.MatchItem) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("subsidy evaluation panicked",
				zap.String("subsidy", e.Code),
				zap.Any("panic", r),
			)
			item = errorItem(e, fmt.Sprintf("evaluation failed: %v", r))
		}
	}()

	if !e.Valid() {
		note := "invalid rule set"
		if len(e.Errors) > 0 {
			note += ": " + rules.JoinErrors(e.Errors)
		}
		return errorItem(e, note)
	}

	verdict, res := scoring.Assess(e.RuleSet, e.TotalWeight, ds)
	item = model.MatchItem{
		SubsidyCode: e.Code,
		Title:       e.Title,
		Status:      e.Status,
		Eligible:    res.Eligible,
		HardFailed:  res.HardFailed,
		Score:       res.Score,
		Band:        string(res.Band),
		Explanation: verdict,
		Missing:     res.Missing,
	}

	if m.ai != nil && (!m.cfg.AIEligibleOnly || res.Eligible) {
		item.AISignal = m.signal(ctx, e, ds, res)
	}
	return item
}

// signal asks the adapter for an advisory value. Any failure, including a
// panicking adapter, yields nil and leaves the deterministic result intact.
func (m *Matcher) signal(ctx context.Context, e *catalog.Entry, ds eval.Dataset, res scoring.Result) (out *float64) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("ai adapter panicked",
				zap.String("subsidy", e.Code),
				zap.Any("panic", r),
			)
			out = nil
		}
	}()

	actx, cancel := context.WithTimeout(ctx, m.cfg.AITimeout)
	defer cancel()

	v, err := m.ai.Refine(actx, aiscore.Request{
		SubsidyCode:        e.Code,
		Title:              e.Title,
		Summary:            e.Summary,
		Dataset:            ds,
		DeterministicScore: res.Score,
		Eligible:           res.Eligible,
	})
	if err != nil {
		zap.L().Debug("no ai signal", zap.String("subsidy", e.Code), zap.Error(err))
		return nil
	}
	return &v
}

func errorItem(e *catalog.Entry, note string) model.MatchItem {
	return model.MatchItem{
		SubsidyCode: e.Code,
		Title:       e.Title,
		Status:      e.Status,
		Eligible:    false,
		Score:       0,
		Band:        string(scoring.BandRed),
		Error:       note,
	}
}

// Rank orders items by eligibility, then score, then subsidy code.
func Rank(items []model.MatchItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Eligible != b.Eligible {
			return a.Eligible
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.SubsidyCode < b.SubsidyCode
	})
}

// Recommend returns the first n eligible items of a ranked slice.
func Recommend(ranked []model.MatchItem, n int) []model.MatchItem {
	out := make([]model.MatchItem, 0, n)
	for _, it := range ranked {
		if len(out) == n {
			break
		}
		if it.Eligible {
			out = append(out, it)
		}
	}
	return out
}
