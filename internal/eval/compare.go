package eval

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/sells-group/subsidy-match/internal/rules"
)

// dateLayouts are the date spellings accepted for ordered comparisons.
var dateLayouts = []string{"2006-01-02", "02.01.2006", "02/01/2006", "2006/01/02", time.RFC3339}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, finite(n)
	case float32:
		return float64(n), finite(float64(n))
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil && finite(f)
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(n), " ", "")
		if s == "" {
			return 0, false
		}
		s = strings.ReplaceAll(s, ",", ".")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || !finite(f) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// finite rejects NaN and the infinities ParseFloat accepts ("NaN", "Inf").
func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

func isList(v any) ([]any, bool) {
	return rules.AsSet(v)
}

// equal compares two scalars: numerically when both are numbers, by date
// when both are dates, case-insensitively for strings.
func equal(a, b any) bool {
	if ab, ok := a.(bool); ok {
		bb, ok := b.(bool)
		return ok && ab == bb
	}
	if _, isStr := a.(string); !isStr {
		if an, ok := toNumber(a); ok {
			bn, ok := toNumber(b)
			return ok && an == bn
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return fold(as) == fold(bs)
		}
		if bn, ok := toNumber(b); ok {
			an, ok := toNumber(as)
			return ok && an == bn
		}
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := toTime(b)
		return ok && at.Equal(bt)
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func inSet(actual any, set []any) bool {
	for _, want := range set {
		if equal(actual, want) {
			return true
		}
	}
	return false
}

// apply evaluates one operator against one resolved value.
func apply(op rules.Operator, actual, expected any) (bool, *EvaluationError) {
	switch op {
	case rules.OpEq, rules.OpNeq:
		if _, ok := isList(actual); ok {
			return false, mismatch("list value compared with %s", op)
		}
		eq := equal(actual, expected)
		if op == rules.OpNeq {
			return !eq, nil
		}
		return eq, nil

	case rules.OpGt, rules.OpGte, rules.OpLt, rules.OpLte:
		return ordered(op, actual, expected)

	case rules.OpIn, rules.OpNotIn:
		set, ok := isList(expected)
		if !ok {
			return false, &EvaluationError{Kind: ErrKindBadValue, Message: fmt.Sprintf("%s expects a list value", op)}
		}
		var hit bool
		if items, ok := isList(actual); ok {
			for _, item := range items {
				if inSet(item, set) {
					hit = true
					break
				}
			}
		} else {
			hit = inSet(actual, set)
		}
		if op == rules.OpNotIn {
			return !hit, nil
		}
		return hit, nil

	case rules.OpContains:
		if items, ok := isList(actual); ok {
			return inSet(expected, items), nil
		}
		s, ok := actual.(string)
		if !ok {
			return false, mismatch("contains needs a list or string, got %T", actual)
		}
		return strings.Contains(fold(s), fold(fmt.Sprint(expected))), nil
	}

	return false, &EvaluationError{Kind: ErrKindUnsupported, Message: fmt.Sprintf("unsupported operator %q", op)}
}

func ordered(op rules.Operator, actual, expected any) (bool, *EvaluationError) {
	var cmp int
	if a, ok := toNumber(actual); ok {
		e, ok := toNumber(expected)
		if !ok {
			return false, &EvaluationError{Kind: ErrKindBadValue, Message: fmt.Sprintf("expected value %v is not numeric", expected)}
		}
		cmp = compareFloat(a, e)
	} else if a, ok := toTime(actual); ok {
		e, ok := toTime(expected)
		if !ok {
			return false, &EvaluationError{Kind: ErrKindBadValue, Message: fmt.Sprintf("expected value %v is not a date", expected)}
		}
		cmp = a.Compare(e)
	} else {
		return false, mismatch("%s needs a numeric or date value, got %T", op, actual)
	}

	switch op {
	case rules.OpGt:
		return cmp > 0, nil
	case rules.OpGte:
		return cmp >= 0, nil
	case rules.OpLt:
		return cmp < 0, nil
	default:
		return cmp <= 0, nil
	}
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func mismatch(format string, args ...any) *EvaluationError {
	return &EvaluationError{
		Kind:    ErrKindTypeMismatch,
		Message: fmt.Sprintf(format, args...),
	}
}
