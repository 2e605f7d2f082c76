// Package monitoring summarizes recent match activity from the run history.
package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/subsidy-match/internal/model"
	"github.com/sells-group/subsidy-match/internal/store"
)

// maxRuns caps how many runs one snapshot reads.
const maxRuns = 10000

// RunLister is the part of store.Store the collector needs.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.RunSummary, error)
}

// SubsidyCount is how often a subsidy ranked first.
type SubsidyCount struct {
	Code  string `json:"code"`
	Count int    `json:"count"`
}

// MetricsSnapshot holds a point-in-time view of match activity.
type MetricsSnapshot struct {
	Runs            int            `json:"runs"`
	Users           int            `json:"users"`
	Items           int            `json:"items"`
	EligibleItems   int            `json:"eligible_items"`
	EligibleRate    float64        `json:"eligible_rate"`
	AvgEligible     float64        `json:"avg_eligible_per_run"`
	RunsWithNoMatch int            `json:"runs_with_no_match"`
	CatalogVersions int            `json:"catalog_versions"`
	TopSubsidies    []SubsidyCount `json:"top_subsidies"`
	LookbackHours   int            `json:"lookback_hours"`
	Truncated       bool           `json:"truncated,omitempty"`
	CollectedAt     time.Time      `json:"collected_at"`
}

// Collector gathers metrics from the run store.
type Collector struct {
	runs RunLister
	now  func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs, now: time.Now}
}

// Collect gathers a snapshot of match activity over the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	if lookbackHours <= 0 {
		return nil, eris.New("monitoring: lookback must be positive")
	}
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
		TopSubsidies:  []SubsidyCount{},
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	runs, err := c.runs.ListRuns(ctx, store.RunFilter{
		CreatedAfter: cutoff,
		Limit:        maxRuns,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.Runs = len(runs)
	snap.Truncated = len(runs) == maxRuns

	users := make(map[string]struct{})
	versions := make(map[string]struct{})
	top := make(map[string]int)
	for _, r := range runs {
		users[r.UserID] = struct{}{}
		versions[r.CatalogVersion] = struct{}{}
		snap.Items += r.ItemCount
		snap.EligibleItems += r.EligibleCount
		if r.EligibleCount == 0 {
			snap.RunsWithNoMatch++
		} else if r.TopSubsidy != "" {
			top[r.TopSubsidy]++
		}
	}
	snap.Users = len(users)
	snap.CatalogVersions = len(versions)

	if snap.Items > 0 {
		snap.EligibleRate = float64(snap.EligibleItems) / float64(snap.Items)
	}
	if snap.Runs > 0 {
		snap.AvgEligible = float64(snap.EligibleItems) / float64(snap.Runs)
	}

	for code, n := range top {
		snap.TopSubsidies = append(snap.TopSubsidies, SubsidyCount{Code: code, Count: n})
	}
	sort.Slice(snap.TopSubsidies, func(i, j int) bool {
		a, b := snap.TopSubsidies[i], snap.TopSubsidies[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Code < b.Code
	})

	return snap, nil
}
