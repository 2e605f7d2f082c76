package eval

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// Dataset is an applicant's attribute snapshot. Keys are either flat dotted
// paths ("farm.size_ha") or nested maps; lists of records are traversed and
// their values collected. A Dataset is read-only during evaluation.
type Dataset map[string]any

// ParseDataset decodes a JSON object into a Dataset. Numbers are kept as
// json.Number so large integers survive unchanged.
func ParseDataset(data []byte) (Dataset, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var ds Dataset
	if err := dec.Decode(&ds); err != nil {
		return nil, eris.Wrap(err, "eval: decode dataset")
	}
	if ds == nil {
		return nil, eris.New("eval: dataset must be a JSON object")
	}
	return ds, nil
}

// resolved is the outcome of looking up a dotted path.
type resolved struct {
	values []any
	// many is set when the path crossed a list of records, so values holds
	// one entry per record rather than a single attribute.
	many bool
}

// Lookup returns the single value stored at path. Paths that traverse a
// record list return the collected values as a []any.
func (d Dataset) Lookup(path string) (any, bool) {
	r, ok := d.resolve(path)
	if !ok {
		return nil, false
	}
	if r.many {
		return r.values, true
	}
	return r.values[0], true
}

// Number returns the value at path as a float when it is numeric.
func (d Dataset) Number(path string) (float64, bool) {
	v, ok := d.Lookup(path)
	if !ok {
		return 0, false
	}
	return toNumber(v)
}

// Bool returns the value at path when it is a boolean.
func (d Dataset) Bool(path string) bool {
	v, _ := d.Lookup(path)
	b, _ := v.(bool)
	return b
}

// Has reports whether path resolves to a non-nil value.
func (d Dataset) Has(path string) bool {
	_, ok := d.resolve(path)
	return ok
}

func (d Dataset) resolve(path string) (resolved, bool) {
	if v, ok := d[path]; ok {
		if v == nil {
			return resolved{}, false
		}
		return resolved{values: []any{v}}, true
	}

	segments := strings.Split(path, ".")
	current := []any{map[string]any(d)}
	many := false

	for _, seg := range segments {
		var next []any
		for _, item := range current {
			switch node := item.(type) {
			case map[string]any:
				if v, ok := node[seg]; ok && v != nil {
					next = append(next, v)
				}
			case Dataset:
				if v, ok := node[seg]; ok && v != nil {
					next = append(next, v)
				}
			case []any:
				many = true
				for _, elem := range node {
					if m, ok := elem.(map[string]any); ok {
						if v, ok := m[seg]; ok && v != nil {
							next = append(next, v)
						}
					}
				}
			case []map[string]any:
				many = true
				for _, m := range node {
					if v, ok := m[seg]; ok && v != nil {
						next = append(next, v)
					}
				}
			}
		}
		if len(next) == 0 {
			return resolved{}, false
		}
		current = next
	}

	return resolved{values: current, many: many}, true
}
