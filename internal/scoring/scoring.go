// Package scoring turns a verdict tree into a 0-100 score and an eligibility
// decision.
package scoring

import (
	"math"

	"github.com/sells-group/subsidy-match/internal/eval"
	"github.com/sells-group/subsidy-match/internal/rules"
)

// Band is a traffic-light bucket derived from the deterministic score.
type Band string

const (
	BandGreen  Band = "green"
	BandYellow Band = "yellow"
	BandRed    Band = "red"
)

// Band thresholds.
const (
	GreenMin  = 80.0
	YellowMin = 50.0
)

// BandFor buckets a score.
func BandFor(score float64) Band {
	switch {
	case score >= GreenMin:
		return BandGreen
	case score >= YellowMin:
		return BandYellow
	default:
		return BandRed
	}
}

// Contribution is one leaf's line in the score breakdown.
type Contribution struct {
	Label        string       `json:"label"`
	Field        string       `json:"field"`
	Outcome      eval.Outcome `json:"outcome"`
	Weight       float64      `json:"weight"`
	Contribution float64      `json:"contribution"`
	Hard         bool         `json:"hard,omitempty"`
}

// Result is the scored form of a verdict.
type Result struct {
	Score      float64      `json:"score"`
	Eligible   bool         `json:"eligible"`
	HardFailed bool         `json:"hard_failed"`
	Outcome    eval.Outcome `json:"outcome"`
	Band       Band         `json:"band"`

	// Earned is the weight the applicant collected; Possible is the total
	// weight minus the weight of leaves that could not be decided.
	Earned   float64 `json:"earned"`
	Possible float64 `json:"possible"`

	// Missing lists dataset fields that were absent; Unresolved lists leaves
	// whose values could not be compared.
	Missing    []string       `json:"missing,omitempty"`
	Unresolved []string       `json:"unresolved,omitempty"`
	Breakdown  []Contribution `json:"breakdown"`
}

// Score aggregates a verdict. totalWeight is the rule set's precomputed
// rules.TotalWeight. Unknown leaves are dropped from the denominator, so
// missing data lowers confidence rather than the score. A hard failure
// vetoes eligibility whatever the logical outcome.
func Score(root *eval.Verdict, totalWeight float64) Result {
	res := Result{}
	if root == nil {
		res.Outcome = eval.Unknown
		res.Band = BandRed
		return res
	}

	res.Outcome = root.Outcome
	res.HardFailed = root.HardFailed
	res.Earned = root.Contribution

	var unknownWeight float64
	seen := make(map[string]bool)
	for _, leaf := range root.Leaves() {
		res.Breakdown = append(res.Breakdown, Contribution{
			Label:        leaf.Label,
			Field:        leaf.Field,
			Outcome:      leaf.Outcome,
			Weight:       leaf.Weight,
			Contribution: leaf.Contribution,
			Hard:         leaf.Hard,
		})
		if leaf.Outcome != eval.Unknown {
			continue
		}
		unknownWeight += leaf.Weight
		switch {
		case leaf.Missing && !seen[leaf.Field]:
			seen[leaf.Field] = true
			res.Missing = append(res.Missing, leaf.Field)
		case !leaf.Missing:
			res.Unresolved = append(res.Unresolved, leaf.Label)
		}
	}

	res.Possible = totalWeight - unknownWeight
	if res.Possible > 0 {
		res.Score = clamp(100 * res.Earned / res.Possible)
	}
	res.Eligible = root.Outcome == eval.Pass && !root.HardFailed
	res.Band = BandFor(res.Score)
	return res
}

// Assess evaluates node against ds and scores the verdict.
func Assess(node rules.Node, totalWeight float64, ds eval.Dataset) (*eval.Verdict, Result) {
	v := eval.Evaluate(node, ds)
	return v, Score(v, totalWeight)
}

func clamp(score float64) float64 {
	if math.IsNaN(score) {
		return 0
	}
	return math.Round(math.Max(0, math.Min(100, score))*100) / 100
}
