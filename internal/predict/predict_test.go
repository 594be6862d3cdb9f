package predict

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/shelter-analytics/internal/dataset"
)

// adoptions builds n shelter records where young, vaccinated animals get adopted.
func adoptions(t *testing.T, n int) *dataset.Collection {
	t.Helper()
	s, err := dataset.NewSchema(
		dataset.Attribute{Name: "pet_id", Kind: dataset.Text, Identifier: true},
		dataset.Attribute{Name: "age", Kind: dataset.Numeric},
		dataset.Attribute{Name: "weight", Kind: dataset.Numeric},
		dataset.Attribute{Name: "species", Kind: dataset.Categorical},
		dataset.Attribute{Name: "vaccinated", Kind: dataset.Boolean},
		dataset.Attribute{Name: "days_in_shelter", Kind: dataset.Numeric},
		dataset.Attribute{Name: "adopted", Kind: dataset.Boolean},
	)
	require.NoError(t, err)
	rng := rand.New(rand.NewPCG(3, 5))
	species := []string{"dog", "cat", "rabbit"}
	recs := make([]dataset.Record, n)
	for i := range recs {
		age := float64(i%10) + rng.Float64()
		recs[i] = dataset.Record{
			dataset.Str("p" + string(rune('A'+i%26)) + string(rune('a'+i/26))),
			dataset.Num(age),
			dataset.Num(5 + rng.Float64()*20),
			dataset.Str(species[i%3]),
			dataset.Bool(i%4 != 0),
			dataset.Num(float64(10 + rng.IntN(90))),
			dataset.Bool(age < 5),
		}
	}
	coll, err := dataset.New(s, recs)
	require.NoError(t, err)
	return coll
}

// linearRows builds records with cost = 3x + 1 plus small noise.
func linearRows(t *testing.T, n int) *dataset.Collection {
	t.Helper()
	s, err := dataset.NewSchema(
		dataset.Attribute{Name: "x", Kind: dataset.Numeric},
		dataset.Attribute{Name: "noise", Kind: dataset.Numeric},
		dataset.Attribute{Name: "cost", Kind: dataset.Numeric},
	)
	require.NoError(t, err)
	rng := rand.New(rand.NewPCG(11, 13))
	recs := make([]dataset.Record, n)
	for i := range recs {
		x := float64(i)
		recs[i] = dataset.Record{dataset.Num(x), dataset.Num(rng.Float64()), dataset.Num(3*x + 1 + rng.NormFloat64()*0.5)}
	}
	coll, err := dataset.New(s, recs)
	require.NoError(t, err)
	return coll
}

func TestClassificationScenario(t *testing.T) {
	res, err := Run(context.Background(), adoptions(t, 30), Options{
		Target:   "adopted",
		Features: []string{"age", "weight", "species", "vaccinated", "days_in_shelter"},
	})
	require.NoError(t, err)
	assert.Equal(t, Classification, res.Task)
	assert.Equal(t, []string{"false", "true"}, res.Classes)
	require.Len(t, res.Candidates, 6)
	names := make([]string, len(res.Candidates))
	for i, c := range res.Candidates {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"logistic_regression", "random_forest", "decision_tree", "gaussian_nb", "knn", "kernel_ridge"}, names)
	assert.GreaterOrEqual(t, res.Succeeded(), 1)
	require.NotEmpty(t, res.Best)
	assert.GreaterOrEqual(t, res.Score, 0.0)
	assert.LessOrEqual(t, res.Score, 1.0)
	for _, c := range res.Candidates {
		if c.Failed() {
			continue
		}
		require.NotNil(t, c.Classification, c.Name)
		assert.Nil(t, c.Regression)
		assert.Equal(t, 5, c.Classification.Folds)
		assert.LessOrEqual(t, c.Score(), res.Score, c.Name)
	}
	assert.Len(t, res.TestRows, 9)
	assert.Len(t, res.TrainRows, 21)
}

func TestTreeFindsThresholdTarget(t *testing.T) {
	res, err := Run(context.Background(), adoptions(t, 60), Options{Target: "adopted"})
	require.NoError(t, err)
	dt, ok := res.Candidate("decision_tree")
	require.True(t, ok)
	require.False(t, dt.Failed())
	assert.GreaterOrEqual(t, dt.Classification.Accuracy, 0.8)
	assert.NotContains(t, res.Features, "pet_id")
}

func TestRegressionScenario(t *testing.T) {
	res, err := Run(context.Background(), linearRows(t, 40), Options{Target: "cost"})
	require.NoError(t, err)
	assert.Equal(t, Regression, res.Task)
	require.Len(t, res.Candidates, 6)
	lin, ok := res.Candidate("linear_regression")
	require.True(t, ok)
	require.False(t, lin.Failed(), "%v", lin.Err)
	assert.Greater(t, lin.Regression.R2, 0.95)
	assert.Greater(t, res.Score, 0.95)
	if res.Best != "kernel_ridge" {
		require.NotEmpty(t, res.Importances)
		assert.Equal(t, "x", res.Importances[0].Name)
		var sum float64
		for _, w := range res.Importances {
			sum += w.Weight
		}
		assert.InDelta(t, 1, sum, 1e-9)
	}
}

func TestSplitIsReproducible(t *testing.T) {
	coll := adoptions(t, 30)
	a, err := Run(context.Background(), coll, Options{Target: "adopted", Seed: 7})
	require.NoError(t, err)
	b, err := Run(context.Background(), coll, Options{Target: "adopted", Seed: 7})
	require.NoError(t, err)
	assert.Equal(t, a.TestRows, b.TestRows)
	assert.Equal(t, a.Best, b.Best)
	assert.Equal(t, a.Score, b.Score)

	train, test := trainTestSplit(30, 0.3, 7)
	assert.Len(t, test, 9)
	assert.Len(t, train, 21)
	seen := map[int]bool{}
	for _, p := range append(train, test...) {
		assert.False(t, seen[p])
		seen[p] = true
	}
}

func TestFoldsPartitionRows(t *testing.T) {
	folds := kFolds(23, 5, 42)
	require.Len(t, folds, 5)
	total := 0
	for _, f := range folds {
		total += len(f)
		assert.Len(t, complement(23, f), 23-len(f))
	}
	assert.Equal(t, 23, total)
}

func TestTooFewUsableRows(t *testing.T) {
	coll := adoptions(t, 12)
	for i := 0; i < 3; i++ {
		coll.Records[i][6] = dataset.Null
	}
	_, err := Run(context.Background(), coll, Options{Target: "adopted"})
	var ide *dataset.InsufficientDataError
	require.True(t, errors.As(err, &ide))
	assert.Equal(t, 9, ide.Rows)
	assert.Equal(t, MinRows, ide.Need)
}

func TestMissingRowsDroppedWithWarning(t *testing.T) {
	coll := adoptions(t, 30)
	coll.Records[0][1] = dataset.Null
	res, err := Run(context.Background(), coll, Options{Target: "adopted"})
	require.NoError(t, err)
	assert.Len(t, res.Rows, 29)
	assert.NotContains(t, res.Rows, 0)
	assert.NotEmpty(t, res.Warnings)
}

func TestParameterErrors(t *testing.T) {
	coll := adoptions(t, 20)
	_, err := Run(context.Background(), coll, Options{})
	var ipe *dataset.InvalidParameterError
	assert.True(t, errors.As(err, &ipe))

	_, err = Run(context.Background(), coll, Options{Target: "nope"})
	var ide *dataset.InsufficientDataError
	assert.True(t, errors.As(err, &ide))

	empty, err := dataset.New(coll.Schema, nil)
	require.NoError(t, err)
	_, err = Run(context.Background(), empty, Options{Target: "adopted"})
	assert.ErrorIs(t, err, dataset.ErrEmptyCollection)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, adoptions(t, 30), Options{Target: "adopted"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProgressReportsEveryCandidate(t *testing.T) {
	var calls []int
	_, err := Run(context.Background(), adoptions(t, 30), Options{
		Target:   "adopted",
		Workers:  2,
		Progress: func(done, total int) {
			calls = append(calls, done)
			assert.Equal(t, 6, total)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, calls)
}

type blockingEstimator struct{}

func (blockingEstimator) Fit(ctx context.Context, _ [][]float64, _ []float64) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingEstimator) Predict(X [][]float64) ([]float64, error) { return make([]float64, len(X)), nil }

type panickingEstimator struct{}

func (panickingEstimator) Fit(context.Context, [][]float64, []float64) error { panic("boom") }

func (panickingEstimator) Predict(X [][]float64) ([]float64, error) { return nil, nil }

func testJob() *job {
	X := [][]float64{{0}, {1}, {2}, {3}}
	return &job{task: Regression, X: X, y: []float64{0, 1, 2, 3}, train: []int{0, 1, 2}, test: []int{3}}
}

func TestCandidateTimeoutIsIsolated(t *testing.T) {
	s := recipe{name: "slow", build: func(uint64, int) Estimator { return blockingEstimator{} }}
	c := runCandidate(context.Background(), s, testJob(), 20*time.Millisecond)
	require.True(t, c.Failed())
	assert.True(t, c.Err.TimedOut)
	assert.Equal(t, "slow", c.Err.Candidate)
}

func TestCandidatePanicIsRecovered(t *testing.T) {
	s := recipe{name: "broken", build: func(uint64, int) Estimator { return panickingEstimator{} }}
	c := runCandidate(context.Background(), s, testJob(), time.Second)
	require.True(t, c.Failed())
	assert.False(t, c.Err.TimedOut)
	assert.Contains(t, c.Err.Error(), "panic")
}

func TestRankSkipsFailuresAndKeepsOrderOnTies(t *testing.T) {
	cands := []Candidate{
		{Name: "a", Err: &dataset.CandidateFitError{Candidate: "a", Err: errors.New("x")}},
		{Name: "b", Regression: &RegressionMetrics{R2: 0.8}},
		{Name: "c", Regression: &RegressionMetrics{R2: 0.8}},
	}
	assert.Equal(t, 1, rank(cands))
	assert.Equal(t, -1, rank(cands[:1]))
}

func TestEstimatorsOnSeparableData(t *testing.T) {
	var X [][]float64
	var y []float64
	for i := 0; i < 40; i++ {
		c := float64(i % 2)
		X = append(X, []float64{c*4 + float64(i%5)*0.1, -c*3 + float64(i%3)*0.1})
		y = append(y, c)
	}
	for _, s := range classificationBattery() {
		est := s.build(1, 2)
		require.NoError(t, est.Fit(context.Background(), X, y), s.name)
		pred, err := est.Predict(X)
		require.NoError(t, err)
		assert.Equal(t, 1.0, accuracy(pred, y), s.name)
	}
}

func TestLassoShrinksIrrelevantFeature(t *testing.T) {
	var X [][]float64
	var y []float64
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 50; i++ {
		a, b := rng.NormFloat64(), rng.NormFloat64()
		X = append(X, []float64{a, b})
		y = append(y, 2*a)
	}
	l := &lasso{alpha: 0.1, maxIter: 1000, tol: 1e-8}
	require.NoError(t, l.Fit(context.Background(), X, y))
	assert.InDelta(t, 1.9, l.coef[0], 0.1)
	assert.Less(t, math.Abs(l.coef[1]), 0.05)

	r := &ridge{lambda: 1e-6}
	require.NoError(t, r.Fit(context.Background(), X, y))
	assert.InDelta(t, 2, r.coef[0], 1e-3)
}

func TestUnfittedEstimatorsRefusePredict(t *testing.T) {
	for _, s := range append(regressionBattery(), classificationBattery()...) {
		_, err := s.build(1, 2).Predict([][]float64{{1}})
		assert.ErrorIs(t, err, errNotFitted, s.name)
	}
}

// pricedRows builds records with fee = 3·age + 2·weight − 4·vaccinated + 5 exactly.
func pricedRows(t *testing.T, n int) *dataset.Collection {
	t.Helper()
	s, err := dataset.NewSchema(
		dataset.Attribute{Name: "age", Kind: dataset.Numeric},
		dataset.Attribute{Name: "weight", Kind: dataset.Numeric},
		dataset.Attribute{Name: "vaccinated", Kind: dataset.Boolean},
		dataset.Attribute{Name: "fee", Kind: dataset.Numeric},
	)
	require.NoError(t, err)
	recs := make([]dataset.Record, n)
	for i := range recs {
		age := float64((i * 3) % 11)
		weight := float64(5 + i)
		vacc := i%3 != 0
		fee := 3*age + 2*weight + 5
		if vacc {
			fee -= 4
		}
		recs[i] = dataset.Record{dataset.Num(age), dataset.Num(weight), dataset.Bool(vacc), dataset.Num(fee)}
	}
	coll, err := dataset.New(s, recs)
	require.NoError(t, err)
	return coll
}

func TestPredictRecoversLinearTarget(t *testing.T) {
	res, err := Run(context.Background(), pricedRows(t, 40), Options{Target: "fee"})
	require.NoError(t, err)
	require.Equal(t, Regression, res.Task)

	p, err := res.PredictWith("linear_regression", map[string]string{"age": "4", "weight": "10", "vaccinated": "yes"})
	require.NoError(t, err)
	assert.Equal(t, "linear_regression", p.Model)
	assert.InDelta(t, 3*4+2*10-4+5, p.Value, 1e-6)
	assert.Empty(t, p.Class)

	// weight is imputed with its training median, 5 + 19.5
	p, err = res.PredictWith("linear_regression", map[string]string{"age": "4", "vaccinated": "no"})
	require.NoError(t, err)
	assert.InDelta(t, 3*4+2*24.5+5, p.Value, 1e-6)

	best, err := res.Predict(map[string]string{"age": "4", "weight": "10", "vaccinated": "yes"})
	require.NoError(t, err)
	assert.Equal(t, res.Best, best.Model)
}

func TestPredictClassifiesByThreshold(t *testing.T) {
	res, err := Run(context.Background(), adoptions(t, 60), Options{Target: "adopted"})
	require.NoError(t, err)

	young, err := res.PredictWith("decision_tree", map[string]string{"age": "0.5", "species": "dog"})
	require.NoError(t, err)
	assert.Equal(t, "true", young.Class)
	old, err := res.PredictWith("decision_tree", map[string]string{"age": "9.5", "species": "cat"})
	require.NoError(t, err)
	assert.Equal(t, "false", old.Class)
}

func TestPredictRejectsBadInput(t *testing.T) {
	res, err := Run(context.Background(), pricedRows(t, 30), Options{Target: "fee"})
	require.NoError(t, err)

	cases := []struct {
		name  string
		model string
		input map[string]string
		param string
	}{
		{"unknown attribute", "linear_regression", map[string]string{"color": "brown"}, "input"},
		{"target is not an input", "linear_regression", map[string]string{"fee": "10"}, "input"},
		{"not a number", "linear_regression", map[string]string{"age": "old"}, "age"},
		{"not a boolean", "linear_regression", map[string]string{"vaccinated": "maybe"}, "vaccinated"},
		{"unknown model", "svm", map[string]string{"age": "3"}, "model"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := res.PredictWith(tc.model, tc.input)
			var ipe *dataset.InvalidParameterError
			require.True(t, errors.As(err, &ipe), "%v", err)
			assert.Equal(t, tc.param, ipe.Param)
		})
	}
}
