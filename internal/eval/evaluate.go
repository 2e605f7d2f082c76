// Package eval walks a rule set against an applicant dataset and produces an
// explainable verdict tree.
package eval

import (
	"fmt"

	"github.com/sells-group/subsidy-match/internal/rules"
)

// Evaluate runs node against ds. It is a pure function of its inputs: it never
// panics on unexpected data, and every node is visited so the trace is
// complete even when the outcome is already decided.
func Evaluate(node rules.Node, ds Dataset) *Verdict {
	if ds == nil {
		ds = Dataset{}
	}
	return evaluate(node, ds, 1)
}

// evaluate threads the product of ancestor multipliers (scale). A leaf earns
// its scaled weight exactly when it passes, however many NOTs sit above it.
func evaluate(node rules.Node, ds Dataset, scale float64) *Verdict {
	switch n := node.(type) {
	case *rules.Leaf:
		return evalLeaf(n, ds, scale)
	case *rules.Combinator:
		return evalCombinator(n, ds, scale)
	}
	return &Verdict{
		Kind:    KindLeaf,
		Label:   "invalid",
		Outcome: Unknown,
		Error:   &EvaluationError{Kind: ErrKindMalformed, Message: fmt.Sprintf("unsupported node %T", node)},
	}
}

func evalCombinator(c *rules.Combinator, ds Dataset, scale float64) *Verdict {
	v := &Verdict{Kind: string(c.Logic), Label: c.Label()}

	childScale := scale * c.Multiplier()

	var pass, fail, unknown int
	for _, child := range c.Children {
		cv := evaluate(child, ds, childScale)
		v.Children = append(v.Children, cv)
		v.Contribution += cv.Contribution
		v.Weight += cv.Weight
		if cv.HardFailed {
			v.HardFailed = true
		}
		switch cv.Outcome {
		case Pass:
			pass++
		case Fail:
			fail++
		default:
			unknown++
		}
	}

	switch c.Logic {
	case rules.LogicAnd:
		switch {
		case fail > 0:
			v.Outcome = Fail
		case unknown > 0 || pass == 0:
			v.Outcome = Unknown
		default:
			v.Outcome = Pass
		}
	case rules.LogicOr:
		switch {
		case pass > 0:
			v.Outcome = Pass
		case unknown > 0 || fail == 0:
			v.Outcome = Unknown
		default:
			v.Outcome = Fail
		}
	case rules.LogicNot:
		if len(v.Children) != 1 {
			v.Outcome = Unknown
			v.Error = &EvaluationError{Kind: ErrKindMalformed, Message: fmt.Sprintf("NOT has %d children", len(v.Children))}
			break
		}
		switch v.Children[0].Outcome {
		case Pass:
			v.Outcome = Fail
		case Fail:
			v.Outcome = Pass
		default:
			v.Outcome = Unknown
		}
	default:
		v.Outcome = Unknown
		v.Error = &EvaluationError{Kind: ErrKindMalformed, Message: fmt.Sprintf("unknown combinator %q", c.Logic)}
	}

	return v
}

func evalLeaf(l *rules.Leaf, ds Dataset, scale float64) *Verdict {
	v := &Verdict{
		Kind:     KindLeaf,
		Label:    l.Label(),
		Field:    l.Field,
		Operator: string(l.Operator),
		Expected: l.Value,
		Weight:   l.Weight * scale,
		Hard:     l.Hard,
	}

	switch {
	case l.Operator == rules.OpExists:
		v.Outcome, v.Actual = exists(l, ds)
	default:
		r, ok := ds.resolve(l.Field)
		if !ok {
			v.Outcome = Unknown
			v.Missing = true
			break
		}
		v.Outcome, v.Actual, v.Error = compareResolved(l, r)
	}

	if v.Outcome == Pass {
		v.Contribution = v.Weight
	}
	if l.Hard && v.Outcome == Fail {
		v.HardFailed = true
	}
	return v
}

// exists is the only operator defined on missing fields. Value false asserts
// the field is absent.
func exists(l *rules.Leaf, ds Dataset) (Outcome, any) {
	want := true
	if b, ok := l.Value.(bool); ok {
		want = b
	}
	has := ds.Has(l.Field)
	if has == want {
		return Pass, has
	}
	return Fail, has
}

func compareResolved(l *rules.Leaf, r resolved) (Outcome, any, *EvaluationError) {
	var actual any = r.values[0]
	if r.many {
		actual = r.values
	}

	items, isColl := []any(nil), false
	switch {
	case r.many && (l.Operator != rules.OpContains || l.Quantifier != ""):
		items, isColl = r.values, true
	case !r.many && l.Quantifier != "" && l.Operator != rules.OpContains:
		items, isColl = isList(actual)
	}

	if !isColl {
		ok, err := apply(l.Operator, actual, l.Value)
		if err != nil {
			return Unknown, actual, err
		}
		return outcomeOf(ok), actual, nil
	}

	out := quantify(l, items)
	if out == Unknown {
		return out, actual, firstError(l, items)
	}
	return out, actual, nil
}

// quantify applies the leaf operator to every collected value. Values that
// cannot be compared make the result unknown unless the decision is already
// certain without them.
func quantify(l *rules.Leaf, items []any) Outcome {
	var pass, fail, bad int
	for _, item := range items {
		ok, err := apply(l.Operator, item, l.Value)
		switch {
		case err != nil:
			bad++
		case ok:
			pass++
		default:
			fail++
		}
	}

	switch l.Quantifier {
	case rules.QuantAll:
		switch {
		case fail > 0:
			return Fail
		case bad > 0:
			return Unknown
		}
		return Pass
	case rules.QuantCount:
		need := l.MinCount
		if need < 1 {
			need = 1
		}
		switch {
		case pass >= need:
			return Pass
		case pass+bad >= need:
			return Unknown
		}
		return Fail
	default:
		switch {
		case pass > 0:
			return Pass
		case bad > 0:
			return Unknown
		}
		return Fail
	}
}

func firstError(l *rules.Leaf, items []any) *EvaluationError {
	for _, item := range items {
		if _, err := apply(l.Operator, item, l.Value); err != nil {
			return err
		}
	}
	return nil
}

func outcomeOf(ok bool) Outcome {
	if ok {
		return Pass
	}
	return Fail
}
