package dataset

import (
	"fmt"
	"strings"
	"time"
)

// Kind is the attribute type tag resolved once per collection.
type Kind int

const (
	Numeric Kind = iota
	Categorical
	Boolean
	Timestamp
	Text
)

func (k Kind) String() string {
	switch k {
	case Numeric:
		return "numeric"
	case Categorical:
		return "categorical"
	case Boolean:
		return "boolean"
	case Timestamp:
		return "timestamp"
	case Text:
		return "text"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind by name so results and schemas read well as JSON.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Attribute describes one column of a collection.
type Attribute struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
	// Identifier marks columns such as names, phone numbers or record IDs.
	Identifier bool `json:"identifier,omitempty"`
}

// Schema is the ordered attribute list shared by every record of a collection.
type Schema struct {
	Attributes []Attribute `json:"attributes"`
	index      map[string]int
}

// NewSchema builds a schema and its name index. Names are matched case-insensitively.
func NewSchema(attrs ...Attribute) (*Schema, error) {
	s := &Schema{Attributes: attrs, index: make(map[string]int, len(attrs))}
	for i, a := range attrs {
		key := strings.ToLower(strings.TrimSpace(a.Name))
		if key == "" {
			return nil, fmt.Errorf("attribute %d has no name", i)
		}
		if _, dup := s.index[key]; dup {
			return nil, fmt.Errorf("duplicate attribute %q", a.Name)
		}
		s.index[key] = i
	}
	return s, nil
}

// Lookup returns the column index of name.
func (s *Schema) Lookup(name string) (int, bool) {
	if s == nil {
		return 0, false
	}
	i, ok := s.index[strings.ToLower(strings.TrimSpace(name))]
	return i, ok
}

// Attribute returns the attribute called name.
func (s *Schema) Attribute(name string) (Attribute, bool) {
	i, ok := s.Lookup(name)
	if !ok {
		return Attribute{}, false
	}
	return s.Attributes[i], true
}

// Len reports the number of attributes.
func (s *Schema) Len() int { return len(s.Attributes) }

// Value is a single cell. Which field is meaningful depends on the attribute kind.
type Value struct {
	Num     float64
	Str     string
	Bool    bool
	Time    time.Time
	Missing bool
}

// Null is the missing value.
var Null = Value{Missing: true}

func Num(v float64) Value    { return Value{Num: v} }
func Str(v string) Value     { return Value{Str: v} }
func Bool(v bool) Value      { return Value{Bool: v} }
func Time(v time.Time) Value { return Value{Time: v} }

// Float returns the numeric reading of v for the given kind.
// Booleans read as 0/1 and timestamps as Unix seconds.
func (v Value) Float(k Kind) (float64, bool) {
	if v.Missing {
		return 0, false
	}
	switch k {
	case Numeric:
		return v.Num, true
	case Boolean:
		if v.Bool {
			return 1, true
		}
		return 0, true
	case Timestamp:
		return float64(v.Time.Unix()), true
	default:
		return 0, false
	}
}

// Label returns the textual reading of v for the given kind.
func (v Value) Label(k Kind) string {
	if v.Missing {
		return ""
	}
	switch k {
	case Numeric:
		return fmt.Sprintf("%g", v.Num)
	case Boolean:
		if v.Bool {
			return "true"
		}
		return "false"
	case Timestamp:
		return v.Time.Format(time.RFC3339)
	default:
		return v.Str
	}
}

// Record is one row, aligned with the collection schema.
type Record []Value

// Collection is an ordered, homogeneous set of records. Analyzers treat it as read-only.
type Collection struct {
	Schema  *Schema
	Records []Record
}

// New validates that every record matches the schema arity.
func New(schema *Schema, records []Record) (*Collection, error) {
	if schema == nil {
		return nil, fmt.Errorf("nil schema")
	}
	for i, r := range records {
		if len(r) != schema.Len() {
			return nil, fmt.Errorf("record %d has %d values, schema has %d attributes", i, len(r), schema.Len())
		}
	}
	return &Collection{Schema: schema, Records: records}, nil
}

// Len reports the number of records.
func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Records)
}

// Column returns the values of attribute name in record order.
func (c *Collection) Column(name string) (Attribute, []Value, error) {
	idx, ok := c.Schema.Lookup(name)
	if !ok {
		return Attribute{}, nil, &InsufficientDataError{Reason: fmt.Sprintf("attribute %q does not exist", name)}
	}
	out := make([]Value, len(c.Records))
	for i, r := range c.Records {
		out[i] = r[idx]
	}
	return c.Schema.Attributes[idx], out, nil
}

// RequireNonEmpty returns ErrEmptyCollection for nil or zero-record collections.
func (c *Collection) RequireNonEmpty() error {
	if c == nil || len(c.Records) == 0 {
		return ErrEmptyCollection
	}
	return nil
}
