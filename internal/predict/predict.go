// Package predict trains a battery of regression or classification models on
// a target attribute and ranks them on held-out rows.
package predict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/KaramelBytes/shelter-analytics/internal/dataset"
	"github.com/KaramelBytes/shelter-analytics/internal/features"
	"github.com/KaramelBytes/shelter-analytics/internal/logging"
)

// Task is the kind of supervised problem.
type Task string

const (
	Regression     Task = "regression"
	Classification Task = "classification"
)

// MinRows is the smallest number of usable rows a model run accepts.
const MinRows = 10

// Options configures one modeling call.
type Options struct {
	Target   string
	Features []string
	Seed     uint64
	// TestFraction is the held-out share. 0 selects 0.3.
	TestFraction float64
	// Folds is the cross-validation fold count for classification. 0 selects 5.
	Folds            int
	CandidateTimeout time.Duration
	Workers          int
	MaxOneHot        int
	// Progress is called after each candidate finishes. Calls are serialized.
	Progress func(done, total int)
	Logger   *slog.Logger
}

// DefaultOptions mirrors the dashboard defaults.
func DefaultOptions() Options {
	return Options{Seed: 42, TestFraction: 0.3, Folds: 5, CandidateTimeout: 30 * time.Second}
}

// Candidate is one trained model and its scores.
type Candidate struct {
	Name           string                     `json:"name"`
	Regression     *RegressionMetrics         `json:"regression,omitempty"`
	Classification *ClassificationMetrics     `json:"classification,omitempty"`
	FitTime        time.Duration              `json:"fit_time_ns"`
	Err            *dataset.CandidateFitError `json:"error,omitempty"`

	model Estimator
}

// Failed reports whether the candidate could not be fitted or scored.
func (c Candidate) Failed() bool { return c.Err != nil }

// Score is R² for regression and held-out accuracy for classification.
func (c Candidate) Score() float64 {
	switch {
	case c.Regression != nil:
		return c.Regression.R2
	case c.Classification != nil:
		return c.Classification.Accuracy
	}
	return 0
}

// FeatureWeight is one entry of the best model's importance ranking.
type FeatureWeight struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// Result is the outcome of a modeling call.
type Result struct {
	Task        Task            `json:"task"`
	Target      string          `json:"target"`
	Best        string          `json:"best,omitempty"`
	Score       float64         `json:"score"`
	Candidates  []Candidate     `json:"candidates"`
	Importances []FeatureWeight `json:"importances,omitempty"`
	Features    []string        `json:"features"`
	Classes     []string        `json:"classes,omitempty"`
	// Rows, TrainRows and TestRows are record indices.
	Rows      []int    `json:"rows"`
	TrainRows []int    `json:"train_rows"`
	TestRows  []int    `json:"test_rows"`
	Warnings  []string `json:"warnings,omitempty"`

	matrix *features.Matrix
}

// Prediction is a trained model's output for one input row.
type Prediction struct {
	Model string            `json:"model"`
	Input map[string]string `json:"input"`
	Value float64           `json:"value"`
	// Class is the predicted label for classification.
	Class string `json:"class,omitempty"`
}

// Predict runs the best candidate on raw input values keyed by attribute
// name. Missing attributes take the values imputed during training.
func (r *Result) Predict(input map[string]string) (*Prediction, error) {
	if r.Best == "" {
		return nil, errors.New("predict: no candidate was fitted")
	}
	return r.PredictWith(r.Best, input)
}

// PredictWith is Predict for the named candidate.
func (r *Result) PredictWith(name string, input map[string]string) (*Prediction, error) {
	c, ok := r.Candidate(name)
	if !ok || c.Failed() || c.model == nil || r.matrix == nil {
		return nil, &dataset.InvalidParameterError{Param: "model", Value: name, Reason: "no fitted candidate with this name"}
	}
	row, err := r.matrix.Encode(input)
	if err != nil {
		return nil, err
	}
	out, err := c.model.Predict([][]float64{row})
	if err != nil {
		return nil, fmt.Errorf("predict %s: %w", name, err)
	}
	p := &Prediction{Model: name, Input: input, Value: out[0]}
	if r.Task == Classification {
		if k := int(math.Round(out[0])); k >= 0 && k < len(r.Classes) {
			p.Class = r.Classes[k]
		}
	}
	return p, nil
}

// Succeeded counts candidates that produced scores.
func (r *Result) Succeeded() int {
	n := 0
	for _, c := range r.Candidates {
		if !c.Failed() {
			n++
		}
	}
	return n
}

// Candidate returns the named candidate, if present.
func (r *Result) Candidate(name string) (Candidate, bool) {
	for _, c := range r.Candidates {
		if c.Name == name {
			return c, true
		}
	}
	return Candidate{}, false
}

// Run trains every candidate of the battery matching the target and ranks them.
func Run(ctx context.Context, coll *dataset.Collection, opt Options) (*Result, error) {
	if err := coll.RequireNonEmpty(); err != nil {
		return nil, err
	}
	opt = withDefaults(opt)
	if opt.Target == "" {
		return nil, &dataset.InvalidParameterError{Param: "target", Reason: "a target attribute is required"}
	}
	if opt.TestFraction <= 0 || opt.TestFraction >= 1 {
		return nil, &dataset.InvalidParameterError{Param: "test_fraction", Value: opt.TestFraction, Reason: "must be in (0, 1)"}
	}
	targetIdx, ok := coll.Schema.Lookup(opt.Target)
	if !ok {
		return nil, &dataset.InsufficientDataError{Reason: fmt.Sprintf("target attribute %q does not exist", opt.Target)}
	}
	if k := coll.Schema.Attributes[targetIdx].Kind; k == dataset.Timestamp {
		return nil, &dataset.InvalidParameterError{Param: "target", Value: opt.Target, Reason: "timestamp targets are not supported"}
	}
	fopt := features.Options{Target: opt.Target, Attributes: opt.Features, MaxOneHot: opt.MaxOneHot}
	selected, err := features.Selected(coll.Schema, fopt)
	if err != nil {
		return nil, err
	}
	usable := completeRows(coll, targetIdx, selected)
	if len(usable) < MinRows {
		return nil, &dataset.InsufficientDataError{Reason: "too few rows with the target and every feature present", Rows: len(usable), Need: MinRows}
	}
	fopt.Rows = usable
	m, err := features.Prepare(coll, fopt)
	if err != nil {
		return nil, err
	}
	if m.NumCols() == 0 {
		return nil, &dataset.InsufficientFeaturesError{Usable: 0, Need: 1}
	}

	res := &Result{Target: m.TargetName, Features: m.Names(), Rows: m.Rows, matrix: m}
	if dropped := coll.Len() - len(usable); dropped > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("dropped %d rows with a missing target or feature value", dropped))
	}
	y := m.Target
	battery := regressionBattery()
	res.Task = taskFor(m)
	if res.Task == Classification {
		y, res.Classes = classCodes(m)
		if len(res.Classes) < 2 {
			return nil, &dataset.InsufficientDataError{Reason: "target has a single class", Rows: len(usable), Need: MinRows}
		}
		battery = classificationBattery()
	}

	train, test := trainTestSplit(len(y), opt.TestFraction, opt.Seed)
	j := &job{task: res.Task, X: m.Data, y: y, train: train, test: test, classes: len(res.Classes), seed: opt.Seed}
	if res.Task == Classification {
		j.folds = kFolds(len(y), opt.Folds, opt.Seed)
	}
	for _, p := range train {
		res.TrainRows = append(res.TrainRows, m.Rows[p])
	}
	for _, p := range test {
		res.TestRows = append(res.TestRows, m.Rows[p])
	}

	opt.Logger.Debug("fitting candidates", "task", res.Task, "target", res.Target,
		"rows", len(y), "features", m.NumCols(), "candidates", len(battery))
	cands, err := runBattery(ctx, battery, j, opt)
	if err != nil {
		return nil, err
	}
	res.Candidates = cands
	if best := rank(cands); best >= 0 {
		res.Best = cands[best].Name
		res.Score = cands[best].Score()
		res.Importances = importances(cands[best].model, res.Features)
	} else {
		res.Warnings = append(res.Warnings, "every candidate failed to fit")
	}
	return res, nil
}

func withDefaults(opt Options) Options {
	d := DefaultOptions()
	if opt.Seed == 0 {
		opt.Seed = d.Seed
	}
	if opt.TestFraction == 0 {
		opt.TestFraction = d.TestFraction
	}
	if opt.Folds <= 0 {
		opt.Folds = d.Folds
	}
	if opt.CandidateTimeout <= 0 {
		opt.CandidateTimeout = d.CandidateTimeout
	}
	if opt.Workers <= 0 {
		opt.Workers = runtime.GOMAXPROCS(0)
	}
	if opt.Logger == nil {
		opt.Logger = logging.Discard()
	}
	return opt
}

// completeRows keeps record indices whose target and selected attributes are all present.
func completeRows(coll *dataset.Collection, target int, selected []int) []int {
	var out []int
	tk := coll.Schema.Attributes[target].Kind
	for i, rec := range coll.Records {
		if rec[target].Missing || ((tk == dataset.Categorical || tk == dataset.Text) && rec[target].Str == "") {
			continue
		}
		ok := true
		for _, idx := range selected {
			if rec[idx].Missing {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, i)
		}
	}
	return out
}

// taskFor picks regression only for numeric targets with more than 10 distinct values.
func taskFor(m *features.Matrix) Task {
	if m.TargetKind != dataset.Numeric {
		return Classification
	}
	distinct := map[float64]struct{}{}
	for _, v := range m.Target {
		distinct[v] = struct{}{}
		if len(distinct) > 10 {
			return Regression
		}
	}
	return Classification
}

// classCodes maps the target onto dense codes 0..C-1 with printable labels.
func classCodes(m *features.Matrix) ([]float64, []string) {
	if m.Classes != nil {
		return m.Target, m.Classes
	}
	set := map[float64]struct{}{}
	for _, v := range m.Target {
		set[v] = struct{}{}
	}
	values := make([]float64, 0, len(set))
	for v := range set {
		values = append(values, v)
	}
	sort.Float64s(values)
	code := make(map[float64]float64, len(values))
	labels := make([]string, len(values))
	for i, v := range values {
		code[v] = float64(i)
		switch {
		case m.TargetKind == dataset.Boolean && v == 0:
			labels[i] = "false"
		case m.TargetKind == dataset.Boolean:
			labels[i] = "true"
		default:
			labels[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
	}
	y := make([]float64, len(m.Target))
	for i, v := range m.Target {
		y[i] = code[v]
	}
	return y, labels
}

// job is the shared read-only training context for one call.
type job struct {
	task    Task
	X       [][]float64
	y       []float64
	train   []int
	test    []int
	folds   [][]int
	classes int
	seed    uint64
}

// evaluate fits one candidate on the training rows and scores it.
func (j *job) evaluate(ctx context.Context, s recipe) (Candidate, error) {
	c := Candidate{Name: s.name}
	Xtr, ytr := take(j.X, j.y, j.train)
	Xte, yte := take(j.X, j.y, j.test)
	est := s.build(j.seed, j.classes)
	start := time.Now()
	if err := est.Fit(ctx, Xtr, ytr); err != nil {
		return c, err
	}
	c.FitTime = time.Since(start)
	pred, err := est.Predict(Xte)
	if err != nil {
		return c, err
	}
	c.model = est
	if j.task == Regression {
		m, ok := regressionMetrics(pred, yte)
		if !ok {
			return c, errors.New("non-finite regression metrics")
		}
		c.Regression = &m
		return c, nil
	}
	cm := &ClassificationMetrics{Accuracy: accuracy(pred, yte), Folds: len(j.folds)}
	scores := make([]float64, 0, len(j.folds))
	for _, fold := range j.folds {
		if err := ctx.Err(); err != nil {
			return c, err
		}
		Xf, yf := take(j.X, j.y, complement(len(j.y), fold))
		Xv, yv := take(j.X, j.y, fold)
		fe := s.build(j.seed, j.classes)
		if err := fe.Fit(ctx, Xf, yf); err != nil {
			return c, fmt.Errorf("cross-validation: %w", err)
		}
		fp, err := fe.Predict(Xv)
		if err != nil {
			return c, fmt.Errorf("cross-validation: %w", err)
		}
		scores = append(scores, accuracy(fp, yv))
	}
	cm.CVMean, cm.CVStd = stat.PopMeanStdDev(scores, nil)
	c.Classification = cm
	return c, nil
}

// runBattery fits candidates concurrently, bounded by opt.Workers. A
// candidate failure is recorded on that candidate only; cancellation of ctx
// aborts the whole call.
func runBattery(ctx context.Context, battery []recipe, j *job, opt Options) ([]Candidate, error) {
	out := make([]Candidate, len(battery))
	var g errgroup.Group
	g.SetLimit(opt.Workers)
	var mu sync.Mutex
	done := 0
	for i, s := range battery {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out[i] = runCandidate(ctx, s, j, opt.CandidateTimeout)
			mu.Lock()
			done++
			if opt.Progress != nil {
				opt.Progress(done, len(battery))
			}
			mu.Unlock()
			if c := out[i]; c.Failed() {
				opt.Logger.Warn("candidate failed", "candidate", c.Name, "timed_out", c.Err.TimedOut, "error", c.Err.Err)
			} else {
				opt.Logger.Debug("candidate fitted", "candidate", c.Name, "score", c.Score(), "fit_time", c.FitTime)
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	return out, nil
}

// runCandidate isolates one fit behind a timeout and panic recovery.
func runCandidate(ctx context.Context, s recipe, j *job, timeout time.Duration) Candidate {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	type outcome struct {
		c   Candidate
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{c: Candidate{Name: s.name}, err: fmt.Errorf("panic: %v", r)}
			}
		}()
		c, err := j.evaluate(cctx, s)
		ch <- outcome{c, err}
	}()
	var o outcome
	select {
	case o = <-ch:
	case <-cctx.Done():
		o = outcome{c: Candidate{Name: s.name}, err: cctx.Err()}
	}
	if o.err == nil {
		return o.c
	}
	timedOut := errors.Is(o.err, context.DeadlineExceeded) && ctx.Err() == nil
	return Candidate{Name: s.name, FitTime: o.c.FitTime, Err: &dataset.CandidateFitError{Candidate: s.name, TimedOut: timedOut, Err: o.err}}
}

// rank returns the index of the best successful candidate, or -1. Ties keep
// the earlier candidate in battery order.
func rank(cands []Candidate) int {
	best := -1
	for i, c := range cands {
		if c.Failed() {
			continue
		}
		if best < 0 || c.Score() > cands[best].Score() {
			best = i
		}
	}
	return best
}

func importances(est Estimator, names []string) []FeatureWeight {
	imp, ok := est.(Importancer)
	if !ok {
		return nil
	}
	w := imp.Importances()
	if len(w) != len(names) {
		return nil
	}
	out := make([]FeatureWeight, len(w))
	for i := range w {
		out[i] = FeatureWeight{Name: names[i], Weight: w[i]}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Weight > out[b].Weight })
	return out
}
