// Package anomaly flags unusual records with three independent detectors and
// reports each detector's flags side by side.
package anomaly

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/KaramelBytes/shelter-analytics/internal/dataset"
	"github.com/KaramelBytes/shelter-analytics/internal/logging"
	"github.com/KaramelBytes/shelter-analytics/internal/features"
)

// Method names, in run order.
const (
	IsolationForest  = "isolation_forest"
	EllipticEnvelope = "elliptic_envelope"
	LocalOutlier     = "local_outlier_factor"
)

// Options configures one detection call.
type Options struct {
	Features []string
	// Contamination is the expected outlier share, in (0, 0.5]. 0 selects 0.1.
	Contamination float64
	Seed          uint64
	// Trees and SampleSize parameterize the isolation forest.
	Trees      int
	SampleSize int
	// Neighbors is the local outlier factor neighborhood size.
	Neighbors int
	MaxOneHot int
	Logger    *slog.Logger
}

// DefaultOptions mirrors the dashboard defaults.
func DefaultOptions() Options {
	return Options{Contamination: 0.1, Seed: 42, Trees: 100, SampleSize: 256, Neighbors: 20}
}

// Method is one detector's outcome. Scores are higher for more anomalous rows.
type Method struct {
	Name    string                     `json:"name"`
	Flags   []bool                     `json:"flags,omitempty"`
	Scores  []float64                  `json:"scores,omitempty"`
	Count   int                        `json:"count"`
	Percent float64                    `json:"percent"`
	Err     *dataset.CandidateFitError `json:"error,omitempty"`
}

// Failed reports whether the detector could not run.
func (m Method) Failed() bool { return m.Err != nil }

// Result is the outcome of a detection call.
type Result struct {
	Methods []Method `json:"methods"`
	// Default names the first method that ran without error.
	Default       string   `json:"default,omitempty"`
	Rows          []int    `json:"rows"`
	Features      []string `json:"features"`
	Contamination float64  `json:"contamination"`
}

// Succeeded counts methods that produced flags.
func (r *Result) Succeeded() int {
	n := 0
	for _, m := range r.Methods {
		if !m.Failed() {
			n++
		}
	}
	return n
}

// Method returns the named detector outcome.
func (r *Result) Method(name string) (Method, bool) {
	for _, m := range r.Methods {
		if m.Name == name {
			return m, true
		}
	}
	return Method{}, false
}

// Outliers returns record indices flagged by the named method.
func (r *Result) Outliers(name string) []int {
	m, ok := r.Method(name)
	if !ok || m.Failed() {
		return nil
	}
	var out []int
	for i, f := range m.Flags {
		if f {
			out = append(out, r.Rows[i])
		}
	}
	return out
}

type detector struct {
	name  string
	score func(X [][]float64, opt Options) ([]float64, error)
}

func detectors() []detector {
	return []detector{
		{IsolationForest, isolationScores},
		{EllipticEnvelope, envelopeScores},
		{LocalOutlier, lofScores},
	}
}

// Run scores every record with each detector and flags the top share.
func Run(ctx context.Context, coll *dataset.Collection, opt Options) (*Result, error) {
	if err := coll.RequireNonEmpty(); err != nil {
		return nil, err
	}
	opt = withDefaults(opt)
	if !(opt.Contamination > 0 && opt.Contamination <= 0.5) {
		return nil, &dataset.InvalidParameterError{Param: "contamination", Value: opt.Contamination, Reason: "must be in (0, 0.5]"}
	}
	if opt.Trees < 1 || opt.SampleSize < 2 || opt.Neighbors < 1 {
		return nil, &dataset.InvalidParameterError{Param: "detector", Reason: "trees, sample size and neighbors must be positive"}
	}
	attrs := opt.Features
	if len(attrs) == 0 {
		attrs = numericAttributes(coll.Schema)
		if len(attrs) == 0 {
			return nil, &dataset.InsufficientFeaturesError{Usable: 0, Need: 1}
		}
	}
	m, err := features.Prepare(coll, features.Options{Attributes: attrs, MaxOneHot: opt.MaxOneHot})
	if err != nil {
		return nil, err
	}
	X, names := usableColumns(m)
	if numeric := countNumeric(m, names); numeric == 0 {
		return nil, &dataset.InsufficientFeaturesError{Usable: 0, Need: 1}
	}

	res := &Result{Rows: m.Rows, Features: names, Contamination: opt.Contamination}
	n := len(X)
	flagged := int(math.Ceil(opt.Contamination * float64(n)))
	for _, d := range detectors() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("anomaly: %w", err)
		}
		meth := runDetector(d, X, opt)
		if !meth.Failed() {
			meth.Flags = topFlags(meth.Scores, flagged)
			meth.Count = flagged
			meth.Percent = 100 * float64(flagged) / float64(n)
			if res.Default == "" {
				res.Default = meth.Name
			}
			opt.Logger.Debug("detector finished", "method", meth.Name, "flagged", flagged)
		} else {
			opt.Logger.Warn("detector failed", "method", meth.Name, "error", meth.Err.Err)
		}
		res.Methods = append(res.Methods, meth)
	}
	return res, nil
}

func withDefaults(opt Options) Options {
	d := DefaultOptions()
	if opt.Contamination == 0 {
		opt.Contamination = d.Contamination
	}
	if opt.Seed == 0 {
		opt.Seed = d.Seed
	}
	if opt.Trees == 0 {
		opt.Trees = d.Trees
	}
	if opt.SampleSize == 0 {
		opt.SampleSize = d.SampleSize
	}
	if opt.Neighbors == 0 {
		opt.Neighbors = d.Neighbors
	}
	if opt.Logger == nil {
		opt.Logger = logging.Discard()
	}
	return opt
}

func runDetector(d detector, X [][]float64, opt Options) (m Method) {
	m.Name = d.name
	defer func() {
		if r := recover(); r != nil {
			m = Method{Name: d.name, Err: &dataset.CandidateFitError{Candidate: d.name, Err: fmt.Errorf("panic: %v", r)}}
		}
	}()
	scores, err := d.score(X, opt)
	if err != nil {
		return Method{Name: d.name, Err: &dataset.CandidateFitError{Candidate: d.name, Err: err}}
	}
	m.Scores = scores
	return m
}

// topFlags marks the k highest scores. Equal scores favor the earlier row,
// so the flagged set only grows with k.
func topFlags(scores []float64, k int) []bool {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })
	flags := make([]bool, len(scores))
	for _, i := range order[:min(k, len(order))] {
		flags[i] = true
	}
	return flags
}

func numericAttributes(s *dataset.Schema) []string {
	var out []string
	for _, a := range s.Attributes {
		if !a.Identifier && (a.Kind == dataset.Numeric || a.Kind == dataset.Boolean) {
			out = append(out, a.Name)
		}
	}
	return out
}

// usableColumns drops constant columns, which carry no outlier signal.
func usableColumns(m *features.Matrix) ([][]float64, []string) {
	var keep []int
	for j := range m.Columns {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, row := range m.Data {
			lo, hi = math.Min(lo, row[j]), math.Max(hi, row[j])
		}
		if hi > lo {
			keep = append(keep, j)
		}
	}
	X := make([][]float64, len(m.Data))
	for i, row := range m.Data {
		X[i] = make([]float64, len(keep))
		for c, j := range keep {
			X[i][c] = row[j]
		}
	}
	names := make([]string, len(keep))
	for c, j := range keep {
		names[c] = m.Columns[j].Name
	}
	return X, names
}

func countNumeric(m *features.Matrix, names []string) int {
	kept := map[string]bool{}
	for _, n := range names {
		kept[n] = true
	}
	count := 0
	for _, c := range m.Columns {
		if kept[c.Name] && !c.Encoded {
			count++
		}
	}
	return count
}
