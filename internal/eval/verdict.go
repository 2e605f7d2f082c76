package eval

import "fmt"

// Outcome is the three-valued result of evaluating a node.
type Outcome string

const (
	Pass    Outcome = "pass"
	Fail    Outcome = "fail"
	Unknown Outcome = "unknown"
)

// Verdict kinds.
const (
	KindLeaf = "leaf"
	KindAnd  = "AND"
	KindOr   = "OR"
	KindNot  = "NOT"
)

// EvaluationError kinds.
const (
	ErrKindTypeMismatch = "type_mismatch"
	ErrKindBadValue     = "bad_value"
	ErrKindUnsupported  = "unsupported"
	ErrKindMalformed    = "malformed"
)

// EvaluationError annotates a leaf whose value had an unexpected shape. It is
// recorded in the trace and turns the leaf unknown; it never aborts a run.
type EvaluationError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Verdict is the evaluation result of one node. The tree mirrors the rule set
// 1:1. Verdicts are built fresh per evaluation and must not be modified once
// returned.
type Verdict struct {
	Kind    string  `json:"kind"`
	Label   string  `json:"label"`
	Outcome Outcome `json:"outcome"`

	// Contribution is the effective weight this node earns toward the score.
	// Weight is the effective weight at stake: the leaf weight times its
	// ancestors' multipliers, or the subtree total for combinators.
	Contribution float64 `json:"contribution"`
	Weight       float64 `json:"weight"`

	Field    string `json:"field,omitempty"`
	Operator string `json:"operator,omitempty"`
	Expected any    `json:"expected,omitempty"`
	Actual   any    `json:"actual,omitempty"`
	Missing  bool   `json:"missing,omitempty"`
	Hard     bool   `json:"hard,omitempty"`

	// HardFailed is set on a failing hard leaf and on every ancestor of one.
	HardFailed bool             `json:"hard_failed,omitempty"`
	Error      *EvaluationError `json:"error,omitempty"`
	Children   []*Verdict       `json:"children,omitempty"`
}

// Walk visits every verdict depth-first, parents before children.
func (v *Verdict) Walk(fn func(*Verdict)) {
	if v == nil {
		return
	}
	fn(v)
	for _, c := range v.Children {
		c.Walk(fn)
	}
}

// Leaves returns the leaf verdicts in tree order.
func (v *Verdict) Leaves() []*Verdict {
	var out []*Verdict
	v.Walk(func(n *Verdict) {
		if n.Kind == KindLeaf {
			out = append(out, n)
		}
	})
	return out
}
