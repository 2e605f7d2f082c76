package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/subsidy-match/internal/model"
	"github.com/sells-group/subsidy-match/internal/store"
)

// mockRuns implements RunLister for testing.
type mockRuns struct {
	runs    []model.RunSummary
	listErr error
	filter  store.RunFilter
}

func (m *mockRuns) ListRuns(_ context.Context, filter store.RunFilter) ([]model.RunSummary, error) {
	m.filter = filter
	if m.listErr != nil {
		return nil, m.listErr
	}
	var filtered []model.RunSummary
	for _, r := range m.runs {
		if !filter.CreatedAfter.IsZero() && r.CreatedAt.Before(filter.CreatedAfter) {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered, nil
}

func TestCollector_Collect(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	runs := &mockRuns{runs: []model.RunSummary{
		{ID: "1", UserID: "u1", CatalogVersion: "v1", ItemCount: 4, EligibleCount: 2, TopSubsidy: "CROP-01", CreatedAt: now.Add(-time.Hour)},
		{ID: "2", UserID: "u2", CatalogVersion: "v1", ItemCount: 4, EligibleCount: 1, TopSubsidy: "CROP-01", CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "3", UserID: "u2", CatalogVersion: "v2", ItemCount: 4, EligibleCount: 1, TopSubsidy: "VINE-02", CreatedAt: now.Add(-3 * time.Hour)},
		{ID: "4", UserID: "u3", CatalogVersion: "v2", ItemCount: 4, EligibleCount: 0, TopSubsidy: "YOUNG-03", CreatedAt: now.Add(-4 * time.Hour)},
		// outside the window
		{ID: "5", UserID: "u9", CatalogVersion: "v0", ItemCount: 9, EligibleCount: 9, TopSubsidy: "OLD", CreatedAt: now.Add(-48 * time.Hour)},
	}}

	c := NewCollector(runs)
	c.now = func() time.Time { return now }

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, now.Add(-24*time.Hour), runs.filter.CreatedAfter)
	assert.Equal(t, maxRuns, runs.filter.Limit)

	assert.Equal(t, 4, snap.Runs)
	assert.Equal(t, 3, snap.Users)
	assert.Equal(t, 16, snap.Items)
	assert.Equal(t, 4, snap.EligibleItems)
	assert.InDelta(t, 0.25, snap.EligibleRate, 1e-9)
	assert.InDelta(t, 1.0, snap.AvgEligible, 1e-9)
	assert.Equal(t, 1, snap.RunsWithNoMatch)
	assert.Equal(t, 2, snap.CatalogVersions)
	assert.Equal(t, []SubsidyCount{{Code: "CROP-01", Count: 2}, {Code: "VINE-02", Count: 1}}, snap.TopSubsidies)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.False(t, snap.Truncated)
	assert.Equal(t, now, snap.CollectedAt)
}

func TestCollector_Empty(t *testing.T) {
	snap, err := NewCollector(&mockRuns{}).Collect(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, snap.Runs)
	assert.Zero(t, snap.EligibleRate)
	assert.NotNil(t, snap.TopSubsidies)
}

func TestCollector_Errors(t *testing.T) {
	_, err := NewCollector(&mockRuns{}).Collect(context.Background(), 0)
	assert.Error(t, err)

	_, err = NewCollector(&mockRuns{listErr: errors.New("db down")}).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list runs")
}
