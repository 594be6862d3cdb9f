// Package features turns a record collection into a numeric feature matrix.
package features

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"

	"github.com/KaramelBytes/shelter-analytics/internal/dataset"
)

// UnknownCategory fills missing categorical values.
const UnknownCategory = "Unknown"

// Options controls feature preparation.
type Options struct {
	// Target is kept unscaled in Matrix.Target and excluded from the feature columns.
	Target string
	// Attributes explicitly requests columns. Empty means every eligible attribute.
	// Requested identifiers, timestamps and free text are included as well.
	Attributes []string
	// MaxOneHot is the distinct-category ceiling for one-hot encoding; above it
	// categories become integer codes. 0 selects the default of 10.
	MaxOneHot int
	// Rows restricts preparation to these record indices. Nil means all records.
	Rows []int
}

// Column describes one matrix column.
type Column struct {
	Name      string       `json:"name"`
	Attribute string       `json:"attribute"`
	Kind      dataset.Kind `json:"kind"`
	// Center and Scale invert standardization: raw = v*Scale + Center.
	Center float64 `json:"center"`
	Scale  float64 `json:"scale"`
	// Encoded is true for one-hot and integer-coded categorical columns.
	Encoded bool `json:"encoded,omitempty"`
	// Level is the category a one-hot column indicates.
	Level string `json:"level,omitempty"`
	// Levels is the sorted vocabulary of an integer-coded column.
	Levels []string `json:"levels,omitempty"`
	// Fill is the raw value imputed for missing numeric and boolean inputs.
	Fill float64 `json:"fill,omitempty"`
}

// Matrix is the rectangular numeric table produced for one analysis call.
type Matrix struct {
	Columns []Column
	Data    [][]float64
	// Rows maps matrix rows back to record indices.
	Rows []int

	TargetName string
	TargetKind dataset.Kind
	// Target holds raw values for numeric/boolean targets and class codes for categorical ones.
	Target []float64
	// Classes lists categorical target labels, indexed by code.
	Classes []string
}

// NumRows reports the number of matrix rows.
func (m *Matrix) NumRows() int { return len(m.Data) }

// NumCols reports the number of feature columns.
func (m *Matrix) NumCols() int { return len(m.Columns) }

// Names returns the column names in order.
func (m *Matrix) Names() []string {
	out := make([]string, len(m.Columns))
	for i, c := range m.Columns {
		out[i] = c.Name
	}
	return out
}

// Dense copies the data into a gonum matrix.
func (m *Matrix) Dense() *mat.Dense {
	r, c := m.NumRows(), m.NumCols()
	if r == 0 || c == 0 {
		return &mat.Dense{}
	}
	d := mat.NewDense(r, c, nil)
	for i, row := range m.Data {
		d.SetRow(i, row)
	}
	return d
}

// Unscale maps a value of column j back to original units.
func (m *Matrix) Unscale(j int, v float64) float64 {
	c := m.Columns[j]
	return v*c.Scale + c.Center
}

// Encode maps raw input values, keyed by attribute name, onto one matrix row
// using the centering, scaling and category levels learned by Prepare.
// Attributes absent from input get the training fill value or the Unknown
// category. A category never seen in training sets no one-hot column.
func (m *Matrix) Encode(input map[string]string) ([]float64, error) {
	known := map[string]bool{}
	for _, c := range m.Columns {
		known[c.Attribute] = true
	}
	for name := range input {
		if !known[name] {
			return nil, &dataset.InvalidParameterError{Param: "input", Value: name, Reason: "not a model feature"}
		}
	}
	row := make([]float64, len(m.Columns))
	for j, c := range m.Columns {
		raw, present := input[c.Attribute]
		raw = strings.TrimSpace(raw)
		if present && dataset.IsMissing(raw) {
			present = false
		}
		switch {
		case c.Kind == dataset.Categorical:
			label := UnknownCategory
			if present {
				label = raw
			}
			if c.Levels == nil {
				if c.Level == label {
					row[j] = 1
				}
				continue
			}
			code := sort.SearchStrings(c.Levels, label)
			if code == len(c.Levels) || c.Levels[code] != label {
				return nil, &dataset.InvalidParameterError{Param: c.Attribute, Value: raw, Reason: "category not seen in training"}
			}
			row[j] = float64(code)
		default:
			v := c.Fill
			if present {
				f, err := parseInput(raw, c.Kind)
				if err != nil {
					return nil, &dataset.InvalidParameterError{Param: c.Attribute, Value: raw, Reason: err.Error()}
				}
				v = f
			}
			row[j] = (v - c.Center) / c.Scale
		}
	}
	return row, nil
}

func parseInput(raw string, kind dataset.Kind) (float64, error) {
	switch kind {
	case dataset.Boolean:
		if b, ok := dataset.ParseBool(raw); ok {
			if b {
				return 1, nil
			}
			return 0, nil
		}
		return 0, fmt.Errorf("expected a boolean")
	case dataset.Timestamp:
		if t, ok := dataset.ParseTime(raw); ok {
			return float64(t.Unix()), nil
		}
		return 0, fmt.Errorf("expected a date")
	}
	if f, ok := dataset.ParseNumber(raw, dataset.ParseOptions{}); ok {
		return f, nil
	}
	return 0, fmt.Errorf("expected a number")
}

// UsableColumns counts columns with non-zero spread.
func (m *Matrix) UsableColumns() int {
	n := 0
	for j := range m.Columns {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, row := range m.Data {
			lo = math.Min(lo, row[j])
			hi = math.Max(hi, row[j])
		}
		if hi > lo {
			n++
		}
	}
	return n
}

// Prepare builds the feature matrix. It never mutates coll.
func Prepare(coll *dataset.Collection, opt Options) (*Matrix, error) {
	if err := coll.RequireNonEmpty(); err != nil {
		return nil, err
	}
	if opt.MaxOneHot <= 0 {
		opt.MaxOneHot = 10
	}
	rows := opt.Rows
	if rows == nil {
		rows = make([]int, coll.Len())
		for i := range rows {
			rows[i] = i
		}
	}
	if len(rows) == 0 {
		return nil, dataset.ErrEmptyCollection
	}

	targetIdx := -1
	if opt.Target != "" {
		idx, ok := coll.Schema.Lookup(opt.Target)
		if !ok {
			return nil, &dataset.InsufficientDataError{Reason: fmt.Sprintf("target attribute %q does not exist", opt.Target)}
		}
		targetIdx = idx
	}
	selected, err := selectAttributes(coll.Schema, opt, targetIdx)
	if err != nil {
		return nil, err
	}

	m := &Matrix{Rows: append([]int(nil), rows...), Data: make([][]float64, len(rows))}
	var cols [][]float64
	for _, idx := range selected {
		attr := coll.Schema.Attributes[idx]
		values := make([]dataset.Value, len(rows))
		for i, r := range rows {
			values[i] = coll.Records[r][idx]
		}
		kind := attr.Kind
		if kind == dataset.Text {
			kind = dataset.Categorical
		}
		switch kind {
		case dataset.Categorical:
			c, data := encodeCategorical(attr, values, opt.MaxOneHot)
			m.Columns = append(m.Columns, c...)
			cols = append(cols, data...)
		default:
			c, data := numericColumn(attr, kind, values)
			m.Columns = append(m.Columns, c)
			cols = append(cols, data)
		}
	}
	for i := range m.Data {
		row := make([]float64, len(cols))
		for j := range cols {
			row[j] = cols[j][i]
		}
		m.Data[i] = row
	}

	if targetIdx >= 0 {
		attr := coll.Schema.Attributes[targetIdx]
		m.TargetName = attr.Name
		m.TargetKind = attr.Kind
		values := make([]dataset.Value, len(rows))
		for i, r := range rows {
			values[i] = coll.Records[r][targetIdx]
		}
		m.Target, m.Classes = encodeTarget(attr, values)
	}
	return m, nil
}

// Selected returns the schema indices Prepare encodes for opt, in encoding order.
func Selected(s *dataset.Schema, opt Options) ([]int, error) {
	targetIdx := -1
	if opt.Target != "" {
		idx, ok := s.Lookup(opt.Target)
		if !ok {
			return nil, &dataset.InsufficientDataError{Reason: fmt.Sprintf("target attribute %q does not exist", opt.Target)}
		}
		targetIdx = idx
	}
	return selectAttributes(s, opt, targetIdx)
}

func selectAttributes(s *dataset.Schema, opt Options, targetIdx int) ([]int, error) {
	if len(opt.Attributes) > 0 {
		out := make([]int, 0, len(opt.Attributes))
		seen := map[int]bool{}
		for _, name := range opt.Attributes {
			idx, ok := s.Lookup(name)
			if !ok {
				return nil, &dataset.InsufficientDataError{Reason: fmt.Sprintf("attribute %q does not exist", name)}
			}
			if idx == targetIdx || seen[idx] {
				continue
			}
			seen[idx] = true
			out = append(out, idx)
		}
		return out, nil
	}
	var out []int
	for i, a := range s.Attributes {
		if i == targetIdx || a.Identifier || a.Kind == dataset.Text || a.Kind == dataset.Timestamp {
			continue
		}
		out = append(out, i)
	}
	return out, nil
}

// numericColumn imputes the median and standardizes numeric attributes.
// Booleans read as 0/1 and are not scaled.
func numericColumn(attr dataset.Attribute, kind dataset.Kind, values []dataset.Value) (Column, []float64) {
	raw := make([]float64, len(values))
	present := make([]float64, 0, len(values))
	for i, v := range values {
		if f, ok := v.Float(kind); ok {
			raw[i] = f
			present = append(present, f)
		} else {
			raw[i] = math.NaN()
		}
	}
	fill := 0.0
	if len(present) > 0 {
		fill, _ = stats.Median(present)
	}
	for i := range raw {
		if math.IsNaN(raw[i]) {
			raw[i] = fill
		}
	}
	col := Column{Name: attr.Name, Attribute: attr.Name, Kind: kind, Scale: 1, Fill: fill}
	if kind == dataset.Boolean {
		return col, raw
	}
	mean, _ := stats.Mean(raw)
	std, _ := stats.StandardDeviationPopulation(raw)
	col.Center = mean
	if std > 0 {
		col.Scale = std
	}
	for i := range raw {
		raw[i] = (raw[i] - col.Center) / col.Scale
	}
	return col, raw
}

func categoryLevels(values []dataset.Value, kind dataset.Kind) []string {
	set := map[string]struct{}{}
	for _, v := range values {
		set[categoryOf(v, kind)] = struct{}{}
	}
	levels := make([]string, 0, len(set))
	for k := range set {
		levels = append(levels, k)
	}
	sort.Strings(levels)
	return levels
}

func categoryOf(v dataset.Value, kind dataset.Kind) string {
	if v.Missing {
		return UnknownCategory
	}
	s := v.Label(kind)
	if s == "" {
		return UnknownCategory
	}
	return s
}

// encodeCategorical one-hot encodes small vocabularies and integer-codes large ones.
func encodeCategorical(attr dataset.Attribute, values []dataset.Value, maxOneHot int) ([]Column, [][]float64) {
	levels := categoryLevels(values, attr.Kind)
	code := make(map[string]int, len(levels))
	for i, l := range levels {
		code[l] = i
	}
	if len(levels) > maxOneHot {
		data := make([]float64, len(values))
		for i, v := range values {
			data[i] = float64(code[categoryOf(v, attr.Kind)])
		}
		return []Column{{Name: attr.Name, Attribute: attr.Name, Kind: dataset.Categorical, Scale: 1, Encoded: true, Levels: levels}}, [][]float64{data}
	}
	cols := make([]Column, len(levels))
	data := make([][]float64, len(levels))
	for j, l := range levels {
		cols[j] = Column{Name: attr.Name + "=" + l, Attribute: attr.Name, Kind: dataset.Categorical, Scale: 1, Encoded: true, Level: l}
		data[j] = make([]float64, len(values))
	}
	for i, v := range values {
		data[code[categoryOf(v, attr.Kind)]][i] = 1
	}
	return cols, data
}

// encodeTarget keeps numeric and boolean targets raw (NaN when missing) and
// codes categorical targets over their sorted labels (-1 when missing).
func encodeTarget(attr dataset.Attribute, values []dataset.Value) ([]float64, []string) {
	out := make([]float64, len(values))
	switch attr.Kind {
	case dataset.Numeric, dataset.Boolean, dataset.Timestamp:
		for i, v := range values {
			if f, ok := v.Float(attr.Kind); ok {
				out[i] = f
			} else {
				out[i] = math.NaN()
			}
		}
		return out, nil
	}
	set := map[string]struct{}{}
	for _, v := range values {
		if !v.Missing && v.Str != "" {
			set[v.Str] = struct{}{}
		}
	}
	classes := make([]string, 0, len(set))
	for k := range set {
		classes = append(classes, k)
	}
	sort.Strings(classes)
	code := make(map[string]int, len(classes))
	for i, c := range classes {
		code[c] = i
	}
	for i, v := range values {
		if c, ok := code[v.Str]; ok && !v.Missing {
			out[i] = float64(c)
		} else {
			out[i] = -1
		}
	}
	return out, classes
}
