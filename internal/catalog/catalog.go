// Package catalog loads the subsidy catalog into immutable, validated
// snapshots.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/subsidy-match/internal/model"
	"github.com/sells-group/subsidy-match/internal/rules"
)

// Entry-level error codes, in addition to the rules.Code* values.
const (
	CodeMalformed    = "malformed"
	CodeMissingRules = "missing_rule_set"
	CodeDuplicate    = "duplicate_code"
	CodeBadStatus    = "bad_status"
)

// Entry is one subsidy program with its compiled rule set.
type Entry struct {
	Code        string
	Title       string
	Summary     string
	Status      model.SubsidyStatus
	RuleSet     rules.Node
	TotalWeight float64

	// Errors holds load-time problems. An entry with errors is kept so the
	// matcher can report it, but it is never evaluated.
	Errors []rules.SchemaError
}

// Valid reports whether the entry can be evaluated.
func (e *Entry) Valid() bool { return len(e.Errors) == 0 && e.RuleSet != nil }

// Snapshot is an immutable view of the catalog. Reloading builds a new
// snapshot; an existing one is never patched.
type Snapshot struct {
	version  string
	loadedAt time.Time
	schema   rules.Schema
	entries  []*Entry
	byCode   map[string]*Entry
}

// Version identifies the catalog content (a hash of the source bytes).
func (s *Snapshot) Version() string { return s.version }

// LoadedAt is when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Schema returns a copy of the declared dataset schema.
func (s *Snapshot) Schema() rules.Schema {
	if s.schema == nil {
		return nil
	}
	out := make(rules.Schema, len(s.schema))
	for k, v := range s.schema {
		out[k] = v
	}
	return out
}

// Entries returns the entries ordered by code. The slice is a copy; entries
// must be treated as read-only.
func (s *Snapshot) Entries() []*Entry {
	out := make([]*Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Get looks up an entry by subsidy code.
func (s *Snapshot) Get(code string) (*Entry, bool) {
	e, ok := s.byCode[code]
	return e, ok
}

// Len returns the number of entries.
func (s *Snapshot) Len() int { return len(s.entries) }

// Invalid returns the entries that failed validation.
func (s *Snapshot) Invalid() []*Entry {
	var out []*Entry
	for _, e := range s.entries {
		if !e.Valid() {
			out = append(out, e)
		}
	}
	return out
}

// Options control catalog parsing.
type Options struct {
	// Strict rejects the whole catalog when any entry is invalid.
	Strict bool
}

type fileDoc struct {
	Schema    map[string]string `json:"schema" yaml:"schema"`
	Subsidies []subsidyDoc      `json:"subsidies" yaml:"subsidies"`
}

type subsidyDoc struct {
	Code    string          `json:"code" yaml:"code"`
	Title   string          `json:"title" yaml:"title"`
	Status  string          `json:"status" yaml:"status"`
	Summary string          `json:"summary" yaml:"summary"`
	RuleSet *rules.Document `json:"rule_set" yaml:"rule_set"`
}

// LoadFile reads a catalog from disk. Files ending in .json are decoded as
// JSON; everything else as YAML.
func LoadFile(path string, opts Options) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read %s", path)
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	return Parse(data, format, opts)
}

// Parse builds a snapshot from raw catalog bytes.
func Parse(data []byte, format string, opts Options) (*Snapshot, error) {
	var doc fileDoc
	switch format {
	case "json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, eris.Wrap(err, "catalog: unmarshal json")
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, eris.Wrap(err, "catalog: unmarshal yaml")
		}
	default:
		return nil, eris.Errorf("catalog: unsupported format %q", format)
	}

	schema, err := parseSchema(doc.Schema)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)
	snap := &Snapshot{
		version:  hex.EncodeToString(sum[:])[:12],
		loadedAt: time.Now().UTC(),
		schema:   schema,
		byCode:   make(map[string]*Entry, len(doc.Subsidies)),
	}

	for i, sd := range doc.Subsidies {
		e := compile(sd, schema)
		if e.Code == "" {
			e.Code = fmt.Sprintf("#%d", i)
			e.Errors = append(e.Errors, rules.SchemaError{Path: "code", Code: CodeMalformed, Message: "subsidy has no code"})
		}
		if prev, dup := snap.byCode[e.Code]; dup {
			prev.Errors = append(prev.Errors, rules.SchemaError{
				Path: "code", Code: CodeDuplicate, Message: fmt.Sprintf("code %s appears more than once", e.Code),
			})
			continue
		}
		snap.byCode[e.Code] = e
		snap.entries = append(snap.entries, e)
	}

	sort.Slice(snap.entries, func(i, j int) bool { return snap.entries[i].Code < snap.entries[j].Code })

	if opts.Strict {
		if bad := snap.Invalid(); len(bad) > 0 {
			return nil, eris.Errorf("catalog: %d invalid subsidies, first %s: %s",
				len(bad), bad[0].Code, rules.JoinErrors(bad[0].Errors))
		}
	}
	return snap, nil
}

func parseSchema(raw map[string]string) (rules.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	schema := make(rules.Schema, len(raw))
	for field, typ := range raw {
		ft := rules.FieldType(strings.ToLower(strings.TrimSpace(typ)))
		switch ft {
		case rules.TypeNumber, rules.TypeString, rules.TypeBool, rules.TypeDate, rules.TypeList:
			schema[field] = ft
		default:
			return nil, eris.Errorf("catalog: schema field %s has unknown type %q", field, typ)
		}
	}
	return schema, nil
}

func compile(sd subsidyDoc, schema rules.Schema) *Entry {
	e := &Entry{
		Code:    strings.TrimSpace(sd.Code),
		Title:   sd.Title,
		Summary: sd.Summary,
		Status:  model.SubsidyOpen,
	}

	switch strings.ToLower(strings.TrimSpace(sd.Status)) {
	case "", string(model.SubsidyOpen):
	case string(model.SubsidyClosed):
		e.Status = model.SubsidyClosed
	default:
		e.Errors = append(e.Errors, rules.SchemaError{
			Path: "status", Code: CodeBadStatus, Message: fmt.Sprintf("unknown status %q", sd.Status),
		})
	}

	if sd.RuleSet == nil {
		e.Errors = append(e.Errors, rules.SchemaError{Path: "rule_set", Code: CodeMissingRules, Message: "subsidy has no rule set"})
		return e
	}

	node, err := sd.RuleSet.Node()
	if err != nil {
		e.Errors = append(e.Errors, rules.SchemaError{Path: "rule_set", Code: CodeMalformed, Message: err.Error()})
		return e
	}
	e.Errors = append(e.Errors, rules.Validate(node, schema)...)
	e.RuleSet = node
	e.TotalWeight = rules.TotalWeight(node)
	return e
}
