package model

import (
	"time"

	"github.com/sells-group/subsidy-match/internal/eval"
)

// RunState is the orchestrator's progress through a match run.
type RunState string

const (
	RunStatePending    RunState = "pending"
	RunStateEvaluating RunState = "evaluating"
	RunStateRanking    RunState = "ranking"
	RunStatePersisted  RunState = "persisted"
)

// SubsidyStatus tells whether a program currently accepts applications.
type SubsidyStatus string

const (
	SubsidyOpen   SubsidyStatus = "open"
	SubsidyClosed SubsidyStatus = "closed"
)

// MatchItem is one subsidy's result within a run.
type MatchItem struct {
	SubsidyCode string        `json:"subsidy_code"`
	Title       string        `json:"title,omitempty"`
	Status      SubsidyStatus `json:"status,omitempty"`
	Eligible    bool          `json:"eligible"`
	HardFailed  bool          `json:"hard_failed"`
	Score       float64       `json:"score"`
	Band        string        `json:"band"`
	Explanation *eval.Verdict `json:"explanation,omitempty"`
	Missing     []string      `json:"missing,omitempty"`
	AISignal    *float64      `json:"ai_signal,omitempty"` // supplementary only, never folded into Score or Eligible
	Error       string        `json:"error,omitempty"`
}

// MatchRun is one immutable execution of the matcher for one applicant.
type MatchRun struct {
	ID             string      `json:"run_id"`
	UserID         string      `json:"user_id"`
	CreatedAt      time.Time   `json:"created_at"`
	CatalogVersion string      `json:"catalog_version,omitempty"`
	Items          []MatchItem `json:"items"`
}

// EligibleCount returns how many items are eligible.
func (r *MatchRun) EligibleCount() int {
	n := 0
	for _, it := range r.Items {
		if it.Eligible {
			n++
		}
	}
	return n
}

// Summary returns the list view of the run.
func (r *MatchRun) Summary() RunSummary {
	s := RunSummary{
		ID:             r.ID,
		UserID:         r.UserID,
		CreatedAt:      r.CreatedAt,
		CatalogVersion: r.CatalogVersion,
		ItemCount:      len(r.Items),
		EligibleCount:  r.EligibleCount(),
	}
	if len(r.Items) > 0 {
		s.TopSubsidy = r.Items[0].SubsidyCode
	}
	return s
}

// RunSummary is a match run without its items.
type RunSummary struct {
	ID             string    `json:"run_id"`
	UserID         string    `json:"user_id"`
	CreatedAt      time.Time `json:"created_at"`
	CatalogVersion string    `json:"catalog_version,omitempty"`
	ItemCount      int       `json:"item_count"`
	EligibleCount  int       `json:"eligible_count"`
	TopSubsidy     string    `json:"top_subsidy,omitempty"`
}
