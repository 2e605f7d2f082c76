// Package rules defines the condition tree that describes a subsidy's
// eligibility requirements, plus load-time validation against a dataset schema.
package rules

// Operator is a leaf comparison operator.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNeq      Operator = "neq"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpIn       Operator = "in"
	OpNotIn    Operator = "not_in"
	OpContains Operator = "contains"
	OpExists   Operator = "exists"
)

// Operators returns every supported leaf operator.
func Operators() []Operator {
	return []Operator{OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpIn, OpNotIn, OpContains, OpExists}
}

// Valid reports whether o is one of the supported operators.
func (o Operator) Valid() bool {
	for _, known := range Operators() {
		if o == known {
			return true
		}
	}
	return false
}

// Ordered reports whether o compares magnitudes (numbers or dates).
func (o Operator) Ordered() bool {
	switch o {
	case OpGt, OpGte, OpLt, OpLte:
		return true
	}
	return false
}

// Logic is a combinator kind.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
	LogicNot Logic = "NOT"
)

// Valid reports whether l is AND, OR or NOT.
func (l Logic) Valid() bool {
	return l == LogicAnd || l == LogicOr || l == LogicNot
}

// Quantifier controls how a leaf treats a field that resolves to several
// values (e.g. one crop type per field record).
type Quantifier string

const (
	QuantAny   Quantifier = "any"
	QuantAll   Quantifier = "all"
	QuantCount Quantifier = "count"
)

// Valid reports whether q is empty or a known quantifier.
func (q Quantifier) Valid() bool {
	return q == "" || q == QuantAny || q == QuantAll || q == QuantCount
}

// Node is one rule-set node. The set of implementations is closed: *Leaf and
// *Combinator.
type Node interface {
	isNode()
	// Label is a human-readable identifier used in explanation traces.
	Label() string
}

// Leaf compares one dataset field against an expected value.
type Leaf struct {
	ID          string
	Description string
	Field       string
	Operator    Operator
	Value       any
	Weight      float64
	Hard        bool
	Quantifier  Quantifier
	MinCount    int
}

func (*Leaf) isNode() {}

func (l *Leaf) Label() string {
	if l.ID != "" {
		return l.ID
	}
	return l.Field + " " + string(l.Operator)
}

// Combinator joins child nodes with AND, OR or NOT. Weight, when set,
// multiplies the contribution of the whole subtree.
type Combinator struct {
	ID       string
	Logic    Logic
	Children []Node
	Weight   *float64
}

func (*Combinator) isNode() {}

func (c *Combinator) Label() string {
	if c.ID != "" {
		return c.ID
	}
	return string(c.Logic)
}

// Multiplier returns the combinator weight, defaulting to 1.
func (c *Combinator) Multiplier() float64 {
	if c.Weight == nil {
		return 1
	}
	return *c.Weight
}

// TotalWeight sums effective leaf weights: each leaf weight multiplied by the
// multipliers of every ancestor combinator.
func TotalWeight(n Node) float64 {
	return totalWeight(n, 1)
}

func totalWeight(n Node, scale float64) float64 {
	switch v := n.(type) {
	case *Leaf:
		return v.Weight * scale
	case *Combinator:
		var sum float64
		for _, c := range v.Children {
			sum += totalWeight(c, scale*v.Multiplier())
		}
		return sum
	}
	return 0
}

// Walk visits every node depth-first, parents before children.
func Walk(n Node, fn func(Node)) {
	if n == nil {
		return
	}
	fn(n)
	if c, ok := n.(*Combinator); ok {
		for _, child := range c.Children {
			Walk(child, fn)
		}
	}
}

// Fields returns the distinct dataset paths referenced by the tree, in
// first-seen order.
func Fields(n Node) []string {
	seen := make(map[string]bool)
	var out []string
	Walk(n, func(node Node) {
		if l, ok := node.(*Leaf); ok && !seen[l.Field] {
			seen[l.Field] = true
			out = append(out, l.Field)
		}
	})
	return out
}

// And, Or, Not and NewLeaf are constructors used by tests and by callers that
// build rule sets in code.
func And(children ...Node) *Combinator { return &Combinator{Logic: LogicAnd, Children: children} }
func Or(children ...Node) *Combinator  { return &Combinator{Logic: LogicOr, Children: children} }
func Not(child Node) *Combinator       { return &Combinator{Logic: LogicNot, Children: []Node{child}} }

func NewLeaf(field string, op Operator, value any, weight float64) *Leaf {
	return &Leaf{Field: field, Operator: op, Value: value, Weight: weight}
}
