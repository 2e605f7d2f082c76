// Package aiscore supplies the optional AI signal attached to match items.
// The signal is advisory: it is stored next to the deterministic score and
// never changes score or eligibility.
package aiscore

import (
	"context"
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/subsidy-match/internal/eval"
)

// ErrAdapterUnavailable means no signal could be produced. Callers treat it
// as "no signal" and carry on.
var ErrAdapterUnavailable = eris.New("aiscore: adapter unavailable")

// Request is what an adapter sees for one subsidy.
type Request struct {
	SubsidyCode        string
	Title              string
	Summary            string
	Dataset            eval.Dataset
	DeterministicScore float64
	Eligible           bool
}

// Adapter produces a confidence signal in [0,1] for one subsidy.
type Adapter interface {
	Refine(ctx context.Context, req Request) (float64, error)
}

// Func adapts a plain function to Adapter.
type Func func(ctx context.Context, req Request) (float64, error)

func (f Func) Refine(ctx context.Context, req Request) (float64, error) { return f(ctx, req) }

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
