// Package cluster groups records with centroid, hierarchical and density methods
// and scores each grouping by silhouette.
package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/KaramelBytes/shelter-analytics/internal/dataset"
	"github.com/KaramelBytes/shelter-analytics/internal/features"
	"github.com/KaramelBytes/shelter-analytics/internal/logging"
)

// Algorithm names, in tie-break priority order.
const (
	KMeans       = "kmeans"
	Hierarchical = "hierarchical"
	DBSCAN       = "dbscan"
	All          = "all"
)

var priority = []string{KMeans, Hierarchical, DBSCAN}

// Noise labels records a density method left unassigned.
const Noise = -1

// Options configures one clustering call.
type Options struct {
	Features  []string
	Algorithm string
	// K is the group count for kmeans and hierarchical. 0 selects 3.
	K int
	// Eps and MinSamples parameterize DBSCAN.
	Eps        float64
	MinSamples int
	Seed       uint64
	// MaxHierarchicalRows caps the quadratic-memory linkage; larger inputs fail that candidate.
	MaxHierarchicalRows int
	MaxOneHot           int
	Logger              *slog.Logger
}

// DefaultOptions mirrors the dashboard defaults.
func DefaultOptions() Options {
	return Options{
		Algorithm:           All,
		K:                   3,
		Eps:                 0.5,
		MinSamples:          5,
		Seed:                42,
		MaxHierarchicalRows: 3000,
	}
}

// Group summarizes one cluster.
type Group struct {
	Label int `json:"label"`
	Size  int `json:"size"`
	// Means holds per-feature means in original units.
	Means map[string]float64 `json:"means"`
}

// Candidate is one algorithm's outcome.
type Candidate struct {
	Algorithm  string                     `json:"algorithm"`
	Labels     []int                      `json:"labels,omitempty"`
	Groups     []Group                    `json:"groups,omitempty"`
	Clusters   int                        `json:"clusters"`
	Noise      int                        `json:"noise"`
	Silhouette float64                    `json:"silhouette"`
	Warnings   []string                   `json:"warnings,omitempty"`
	Err        *dataset.CandidateFitError `json:"error,omitempty"`
}

// Failed reports whether the candidate could not be fitted.
func (c Candidate) Failed() bool { return c.Err != nil }

// Projection is a principal-component view of the feature matrix for plotting.
type Projection struct {
	Components        int         `json:"components"`
	Points            [][]float64 `json:"points"`
	ExplainedVariance []float64   `json:"explained_variance"`
}

// Result is the ClusterResult variant.
type Result struct {
	Requested  string      `json:"requested"`
	Best       string      `json:"best,omitempty"`
	Silhouette float64     `json:"silhouette"`
	Labels     []int       `json:"labels,omitempty"`
	Groups     []Group     `json:"groups,omitempty"`
	Candidates []Candidate `json:"candidates"`
	// Rows maps Labels back to record indices.
	Rows       []int       `json:"rows"`
	Features   []string    `json:"features"`
	Projection *Projection `json:"projection,omitempty"`
	Warnings   []string    `json:"warnings,omitempty"`
}

// Succeeded counts candidates that produced labels.
func (r *Result) Succeeded() int {
	n := 0
	for _, c := range r.Candidates {
		if !c.Failed() {
			n++
		}
	}
	return n
}

// NormalizeAlgorithm maps accepted aliases onto canonical names.
func NormalizeAlgorithm(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", All:
		return All, nil
	case KMeans, "k-means", "centroid":
		return KMeans, nil
	case Hierarchical, "agglomerative", "ward", "linkage":
		return Hierarchical, nil
	case DBSCAN, "density":
		return DBSCAN, nil
	}
	return "", &dataset.InvalidParameterError{Param: "algorithm", Value: name, Reason: "use kmeans, hierarchical, dbscan or all"}
}

// ValidateK checks k against [2, min(10, rows-1)].
func ValidateK(k, rows int) error {
	hi := min(10, rows-1)
	if k < 2 || k > hi {
		return &dataset.InvalidParameterError{Param: "k", Value: k, Reason: fmt.Sprintf("must be in [2, %d] for %d rows", max(hi, 2), rows)}
	}
	return nil
}

// Run clusters coll. Fatal problems are returned before any fitting starts;
// a failing algorithm is recorded on its candidate instead.
func Run(ctx context.Context, coll *dataset.Collection, opt Options) (*Result, error) {
	if err := coll.RequireNonEmpty(); err != nil {
		return nil, err
	}
	def := DefaultOptions()
	if opt.K == 0 {
		opt.K = def.K
	}
	if opt.Eps == 0 {
		opt.Eps = def.Eps
	}
	if opt.MinSamples == 0 {
		opt.MinSamples = def.MinSamples
	}
	if opt.MaxHierarchicalRows == 0 {
		opt.MaxHierarchicalRows = def.MaxHierarchicalRows
	}
	if opt.Seed == 0 {
		opt.Seed = def.Seed
	}
	log := opt.Logger
	if log == nil {
		log = logging.Discard()
	}
	algo, err := NormalizeAlgorithm(opt.Algorithm)
	if err != nil {
		return nil, err
	}
	if algo != DBSCAN {
		if err := ValidateK(opt.K, coll.Len()); err != nil {
			return nil, err
		}
	}
	if algo == DBSCAN || algo == All {
		if opt.Eps <= 0 {
			return nil, &dataset.InvalidParameterError{Param: "eps", Value: opt.Eps, Reason: "must be positive"}
		}
		if opt.MinSamples < 1 {
			return nil, &dataset.InvalidParameterError{Param: "min_samples", Value: opt.MinSamples, Reason: "must be at least 1"}
		}
	}

	m, err := features.Prepare(coll, features.Options{Attributes: opt.Features, MaxOneHot: opt.MaxOneHot})
	if err != nil {
		return nil, err
	}
	if usable := m.UsableColumns(); usable < 2 {
		return nil, &dataset.InsufficientFeaturesError{Usable: usable, Need: 2}
	}

	res := &Result{Requested: algo, Rows: m.Rows, Features: m.Names(), Silhouette: -1}
	run := priority
	if algo != All {
		run = []string{algo}
	}
	for _, name := range run {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("cluster: %w", err)
		}
		log.Debug("fitting clustering candidate", "algorithm", name, "rows", m.NumRows())
		cand := fit(name, m, opt)
		if cand.Failed() {
			log.Warn("clustering candidate failed", "algorithm", name, "error", cand.Err)
		}
		for _, w := range cand.Warnings {
			res.Warnings = append(res.Warnings, name+": "+w)
		}
		res.Candidates = append(res.Candidates, cand)
	}
	rank(res)
	if proj, err := project(m); err == nil {
		res.Projection = proj
	} else {
		res.Warnings = append(res.Warnings, fmt.Sprintf("projection unavailable: %v", err))
	}
	return res, nil
}

func fit(name string, m *features.Matrix, opt Options) (c Candidate) {
	c = Candidate{Algorithm: name, Silhouette: -1}
	defer func() {
		if r := recover(); r != nil {
			c = Candidate{Algorithm: name, Silhouette: -1, Err: &dataset.CandidateFitError{Candidate: name, Err: fmt.Errorf("panic: %v", r)}}
		}
	}()
	var labels []int
	switch name {
	case KMeans:
		var split bool
		labels, _, split = kmeans(m.Data, opt.K, opt.Seed, 10, 300)
		if split {
			c.Warnings = append(c.Warnings, fmt.Sprintf("fewer distinct points than k=%d; identical points were split across clusters", opt.K))
		}
	case Hierarchical:
		if m.NumRows() > opt.MaxHierarchicalRows {
			c.Err = &dataset.CandidateFitError{Candidate: name, Err: fmt.Errorf("%d rows exceed the linkage limit of %d", m.NumRows(), opt.MaxHierarchicalRows)}
			return c
		}
		labels = ward(m.Data, opt.K)
	case DBSCAN:
		labels = dbscan(m.Data, opt.Eps, opt.MinSamples)
	}
	c.Labels = labels
	c.Silhouette = Silhouette(m.Data, labels)
	c.Groups = summarize(m, labels)
	for _, g := range c.Groups {
		if g.Label == Noise {
			c.Noise = g.Size
		} else {
			c.Clusters++
		}
	}
	return c
}

// rank picks the best candidate: silhouette descending, ties by priority order.
func rank(res *Result) {
	order := map[string]int{}
	for i, p := range priority {
		order[p] = i
	}
	ok := make([]Candidate, 0, len(res.Candidates))
	for _, c := range res.Candidates {
		if !c.Failed() {
			ok = append(ok, c)
		}
	}
	if len(ok) == 0 {
		return
	}
	sort.SliceStable(ok, func(i, j int) bool {
		if ok[i].Silhouette != ok[j].Silhouette {
			return ok[i].Silhouette > ok[j].Silhouette
		}
		return order[ok[i].Algorithm] < order[ok[j].Algorithm]
	})
	best := ok[0]
	res.Best = best.Algorithm
	res.Silhouette = best.Silhouette
	res.Labels = best.Labels
	res.Groups = best.Groups
}

// summarize reports group sizes and per-feature means in original units.
// The noise group, if any, comes last.
func summarize(m *features.Matrix, labels []int) []Group {
	sums := map[int][]float64{}
	sizes := map[int]int{}
	for i, l := range labels {
		s, ok := sums[l]
		if !ok {
			s = make([]float64, m.NumCols())
			sums[l] = s
		}
		for j, v := range m.Data[i] {
			s[j] += v
		}
		sizes[l]++
	}
	keys := make([]int, 0, len(sizes))
	for l := range sizes {
		keys = append(keys, l)
	}
	sort.Slice(keys, func(i, j int) bool {
		if (keys[i] == Noise) != (keys[j] == Noise) {
			return keys[j] == Noise
		}
		return keys[i] < keys[j]
	})
	out := make([]Group, 0, len(keys))
	for _, l := range keys {
		g := Group{Label: l, Size: sizes[l], Means: make(map[string]float64, m.NumCols())}
		for j, c := range m.Columns {
			g.Means[c.Name] = m.Unscale(j, sums[l][j]/float64(sizes[l]))
		}
		out = append(out, g)
	}
	return out
}
