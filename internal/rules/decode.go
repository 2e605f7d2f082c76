package rules

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Document is the wire shape of a rule-set node as it appears in catalog
// files and API payloads. Either Field (leaf) or Op/All/Any/Not (combinator)
// is set.
type Document struct {
	ID          string      `json:"id,omitempty" yaml:"id,omitempty"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Field       string      `json:"field,omitempty" yaml:"field,omitempty"`
	Operator    string      `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value       any         `json:"value,omitempty" yaml:"value,omitempty"`
	Weight      *float64    `json:"weight,omitempty" yaml:"weight,omitempty"`
	Hard        bool        `json:"hard,omitempty" yaml:"hard,omitempty"`
	Required    bool        `json:"required,omitempty" yaml:"required,omitempty"`
	Quantifier  string      `json:"quantifier,omitempty" yaml:"quantifier,omitempty"`
	Aggregate   string      `json:"aggregate,omitempty" yaml:"aggregate,omitempty"`
	MinCount    int         `json:"min_count,omitempty" yaml:"min_count,omitempty"`
	Min         int         `json:"min,omitempty" yaml:"min,omitempty"`
	Op          string      `json:"op,omitempty" yaml:"op,omitempty"`
	Children    []*Document `json:"children,omitempty" yaml:"children,omitempty"`
	All         []*Document `json:"all,omitempty" yaml:"all,omitempty"`
	Any         []*Document `json:"any,omitempty" yaml:"any,omitempty"`
	Not         *Document   `json:"not,omitempty" yaml:"not,omitempty"`
}

// operatorAliases maps the symbolic operators used by older rule files to
// their canonical names.
var operatorAliases = map[string]Operator{
	"==":     OpEq,
	"=":      OpEq,
	"!=":     OpNeq,
	">":      OpGt,
	">=":     OpGte,
	"<":      OpLt,
	"<=":     OpLte,
	"any_in": OpIn,
}

// ParseJSON decodes a JSON rule set.
func ParseJSON(data []byte) (Node, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "rules: unmarshal json")
	}
	return doc.Node()
}

// ParseYAML decodes a YAML rule set.
func ParseYAML(data []byte) (Node, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "rules: unmarshal yaml")
	}
	return doc.Node()
}

// Node converts the wire document into a typed tree.
func (d *Document) Node() (Node, error) {
	return d.node("root")
}

func (d *Document) node(path string) (Node, error) {
	if d == nil {
		return nil, eris.Errorf("rules: %s: empty node", path)
	}

	isLeaf := d.Field != ""
	if isLeaf && d.Operator == "" && d.Op != "" && len(d.Children) == 0 {
		// legacy rule files spell the leaf operator "op"
		d.Operator, d.Op = d.Op, ""
	}
	isComb := d.Op != "" || len(d.Children) > 0 || len(d.All) > 0 || len(d.Any) > 0 || d.Not != nil
	switch {
	case isLeaf && isComb:
		return nil, eris.Errorf("rules: %s: node has both field and combinator keys", path)
	case isLeaf:
		return d.leaf(), nil
	case isComb:
		return d.combinator(path)
	default:
		return nil, eris.Errorf("rules: %s: node is neither a leaf nor a combinator", path)
	}
}

func (d *Document) leaf() *Leaf {
	op := Operator(strings.ToLower(strings.TrimSpace(d.Operator)))
	if alias, ok := operatorAliases[d.Operator]; ok {
		op = alias
	}

	weight := 1.0
	if d.Weight != nil {
		weight = *d.Weight
	}

	quant := Quantifier(strings.ToLower(d.Quantifier))
	minCount := d.MinCount
	switch strings.ToLower(d.Aggregate) {
	case "any":
		quant = QuantAny
	case "all":
		quant = QuantAll
	case "count>=", "count":
		quant = QuantCount
		if minCount == 0 {
			minCount = d.Min
		}
	}
	if quant == QuantCount && minCount == 0 {
		minCount = 1
	}

	return &Leaf{
		ID:          d.ID,
		Description: d.Description,
		Field:       d.Field,
		Operator:    op,
		Value:       d.Value,
		Weight:      weight,
		Hard:        d.Hard || d.Required,
		Quantifier:  quant,
		MinCount:    minCount,
	}
}

func (d *Document) combinator(path string) (*Combinator, error) {
	logic := Logic(strings.ToUpper(strings.TrimSpace(d.Op)))
	children := d.Children

	// all / any / not shorthands
	switch {
	case len(d.All) > 0:
		if logic == "" {
			logic = LogicAnd
		}
		children = append(children, d.All...)
	case len(d.Any) > 0:
		if logic == "" {
			logic = LogicOr
		}
		children = append(children, d.Any...)
	case d.Not != nil:
		if logic == "" {
			logic = LogicNot
		}
		children = append(children, d.Not)
	}

	c := &Combinator{ID: d.ID, Logic: logic, Weight: d.Weight}
	for i, child := range children {
		n, err := child.node(fmt.Sprintf("%s.children[%d]", path, i))
		if err != nil {
			return nil, err
		}
		c.Children = append(c.Children, n)
	}
	return c, nil
}

// ToDocument converts a typed tree back to its wire form.
func ToDocument(n Node) *Document {
	switch v := n.(type) {
	case *Leaf:
		w := v.Weight
		return &Document{
			ID:          v.ID,
			Description: v.Description,
			Field:       v.Field,
			Operator:    string(v.Operator),
			Value:       v.Value,
			Weight:      &w,
			Hard:        v.Hard,
			Quantifier:  string(v.Quantifier),
			MinCount:    v.MinCount,
		}
	case *Combinator:
		doc := &Document{ID: v.ID, Op: string(v.Logic), Weight: v.Weight}
		for _, c := range v.Children {
			doc.Children = append(doc.Children, ToDocument(c))
		}
		return doc
	}
	return nil
}
