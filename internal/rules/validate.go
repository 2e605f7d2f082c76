package rules

import (
	"fmt"
	"strings"
)

// FieldType is the declared type of a dataset attribute.
type FieldType string

const (
	TypeNumber FieldType = "number"
	TypeString FieldType = "string"
	TypeBool   FieldType = "bool"
	TypeDate   FieldType = "date"
	TypeList   FieldType = "list"
)

// Schema maps dotted dataset paths to their declared type.
type Schema map[string]FieldType

// SchemaError codes.
const (
	CodeUnknownField      = "unknown_field"
	CodeUnknownOperator   = "unknown_operator"
	CodeTypeIncompatible  = "type_incompatible"
	CodeEmptySet          = "empty_set"
	CodeNotASet           = "not_a_set"
	CodeBadArity          = "bad_arity"
	CodeNegativeWeight    = "negative_weight"
	CodeUnknownLogic      = "unknown_logic"
	CodeUnknownQuantifier = "unknown_quantifier"
	CodeHardUnderNot      = "hard_under_not"
	CodeEmptyField        = "empty_field"
)

// SchemaError describes one problem found while validating a rule set.
type SchemaError struct {
	Path    string `json:"path"`
	Field   string `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e SchemaError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s (%s): %s", e.Path, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// JoinErrors renders a list of schema errors on one line.
func JoinErrors(errs []SchemaError) string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

// Validate checks a rule set against a schema. A nil schema skips the field
// resolution and type checks but still enforces structural rules.
func Validate(n Node, schema Schema) []SchemaError {
	v := &validator{schema: schema}
	v.visit(n, "root", false)
	return v.errs
}

type validator struct {
	schema Schema
	errs   []SchemaError
}

func (v *validator) add(path, field, code, format string, args ...any) {
	v.errs = append(v.errs, SchemaError{
		Path:    path,
		Field:   field,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	})
}

func (v *validator) visit(n Node, path string, negated bool) {
	switch node := n.(type) {
	case *Leaf:
		v.leaf(node, path, negated)
	case *Combinator:
		v.combinator(node, path, negated)
	case nil:
		v.add(path, "", CodeBadArity, "missing node")
	}
}

func (v *validator) combinator(c *Combinator, path string, negated bool) {
	if !c.Logic.Valid() {
		v.add(path, "", CodeUnknownLogic, "unknown combinator %q", c.Logic)
	}
	if c.Weight != nil && *c.Weight < 0 {
		v.add(path, "", CodeNegativeWeight, "weight must be >= 0, got %g", *c.Weight)
	}
	switch {
	case c.Logic == LogicNot && len(c.Children) != 1:
		v.add(path, "", CodeBadArity, "NOT takes exactly one child, got %d", len(c.Children))
	case len(c.Children) == 0:
		v.add(path, "", CodeBadArity, "%s needs at least one child", c.Logic)
	}

	childNegated := negated
	if c.Logic == LogicNot {
		childNegated = !negated
	}
	for i, child := range c.Children {
		v.visit(child, fmt.Sprintf("%s.children[%d]", path, i), childNegated)
	}
}

func (v *validator) leaf(l *Leaf, path string, negated bool) {
	if strings.TrimSpace(l.Field) == "" {
		v.add(path, "", CodeEmptyField, "leaf has no field")
		return
	}
	if l.Weight < 0 {
		v.add(path, l.Field, CodeNegativeWeight, "weight must be >= 0, got %g", l.Weight)
	}
	if !l.Quantifier.Valid() {
		v.add(path, l.Field, CodeUnknownQuantifier, "unknown quantifier %q", l.Quantifier)
	}
	if l.Hard && negated {
		v.add(path, l.Field, CodeHardUnderNot, "hard conditions cannot sit under NOT")
	}
	if !l.Operator.Valid() {
		v.add(path, l.Field, CodeUnknownOperator, "unknown operator %q", l.Operator)
		return
	}

	if l.Operator == OpIn || l.Operator == OpNotIn {
		set, ok := AsSet(l.Value)
		switch {
		case !ok:
			v.add(path, l.Field, CodeNotASet, "%s expects a list value", l.Operator)
		case len(set) == 0:
			v.add(path, l.Field, CodeEmptySet, "%s expects a non-empty set", l.Operator)
		}
	}

	if v.schema == nil {
		return
	}
	ft, ok := v.schema[l.Field]
	if !ok {
		v.add(path, l.Field, CodeUnknownField, "field is not declared in the dataset schema")
		return
	}
	if !compatible(l.Operator, ft) {
		v.add(path, l.Field, CodeTypeIncompatible, "operator %s is not valid on %s fields", l.Operator, ft)
	}
}

func compatible(op Operator, ft FieldType) bool {
	switch {
	case op.Ordered():
		return ft == TypeNumber || ft == TypeDate
	case op == OpContains:
		return ft == TypeList || ft == TypeString
	}
	return true
}

// AsSet returns v as a slice when it is list-shaped.
func AsSet(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out, true
	case []float64:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out, true
	case []int:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out, true
	}
	return nil, false
}
