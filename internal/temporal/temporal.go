// Package temporal resamples a timestamped measure into regular buckets,
// decomposes it and forecasts ahead.
package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/KaramelBytes/shelter-analytics/internal/dataset"
	"github.com/KaramelBytes/shelter-analytics/internal/logging"
)

// Stage names the steps of one temporal analysis, in order.
type Stage string

const (
	StageValidating  Stage = "validating"
	StageResampling  Stage = "resampling"
	StageDecomposing Stage = "decomposing"
	StageForecasting Stage = "forecasting"
	StageDone        Stage = "done"
)

// MinPoints is the resampled length below which decomposition and forecasting are skipped.
const MinPoints = 4

// Options configures one temporal analysis.
type Options struct {
	Timestamp string
	Value     string
	// Frequency is a code or long name accepted by ParseFrequency. Empty selects monthly.
	Frequency string
	Horizon   int
	Logger    *slog.Logger
}

// DefaultOptions mirrors the dashboard defaults.
func DefaultOptions() Options {
	return Options{Frequency: string(Monthly), Horizon: 12}
}

// Result is the outcome of a temporal analysis. Decomposition, Trend and
// Forecast are nil when the series is too short or the model failed.
type Result struct {
	Timestamp     string         `json:"timestamp"`
	Value         string         `json:"value"`
	Frequency     Frequency      `json:"frequency"`
	Observations  int            `json:"observations"`
	Series        []Point        `json:"series"`
	Decomposition *Decomposition `json:"decomposition,omitempty"`
	Trend         *TrendSummary  `json:"trend,omitempty"`
	Forecast      *Forecast      `json:"forecast,omitempty"`
	Stages        []Stage        `json:"stages"`
	Warnings      []string       `json:"warnings,omitempty"`
}

func (r *Result) enter(s Stage) { r.Stages = append(r.Stages, s) }

func (r *Result) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Run executes validating, resampling, decomposing and forecasting in order.
// Later stages are skipped with a warning rather than failing the call.
func Run(ctx context.Context, coll *dataset.Collection, opt Options) (*Result, error) {
	if opt.Logger == nil {
		opt.Logger = logging.Discard()
	}
	res := &Result{Timestamp: opt.Timestamp, Value: opt.Value}
	res.enter(StageValidating)
	obs, freq, err := validate(coll, &opt)
	if err != nil {
		return nil, err
	}
	res.Frequency = freq
	res.Observations = len(obs)
	if dropped := coll.Len() - len(obs); dropped > 0 {
		res.warn("dropped %d rows with a missing timestamp or value", dropped)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("temporal: %w", err)
	}
	res.enter(StageResampling)
	series, ok := resample(obs, freq)
	if !ok {
		return nil, &dataset.InvalidParameterError{Param: "frequency", Value: string(freq), Reason: "too fine for the time span of the data"}
	}
	res.Series = series
	opt.Logger.Debug("resampled series", "frequency", freq, "observations", len(obs), "points", len(series))
	if len(series) < MinPoints {
		res.warn("only %d resampled points; decomposition and forecast need at least %d", len(series), MinPoints)
		res.enter(StageDone)
		return res, nil
	}
	values := make([]float64, len(series))
	for i, p := range series {
		values[i] = p.Value
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("temporal: %w", err)
	}
	res.enter(StageDecomposing)
	period := freq.Period()
	if len(values) < 2*period {
		reduced := len(values) / 2
		res.warn("series of %d points is shorter than two %d-period cycles; using period %d", len(values), period, reduced)
		period = reduced
	}
	res.Decomposition = decompose(values, period)
	res.Trend = summarizeTrend(res.Decomposition.Trend)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("temporal: %w", err)
	}
	res.enter(StageForecasting)
	res.Forecast = forecast(values, period, opt.Horizon, series[len(series)-1].Time, freq, res, opt.Logger)
	res.enter(StageDone)
	return res, nil
}

// validate checks attributes and parameters and returns sorted observations.
func validate(coll *dataset.Collection, opt *Options) ([]observation, Frequency, error) {
	if err := coll.RequireNonEmpty(); err != nil {
		return nil, "", err
	}
	if opt.Frequency == "" {
		opt.Frequency = DefaultOptions().Frequency
	}
	freq, ok := ParseFrequency(opt.Frequency)
	if !ok {
		return nil, "", &dataset.InvalidParameterError{Param: "frequency", Value: opt.Frequency, Reason: "expected one of D, W, M, Q, Y"}
	}
	if opt.Horizon <= 0 {
		return nil, "", &dataset.InvalidParameterError{Param: "horizon", Value: opt.Horizon, Reason: "must be positive"}
	}
	tsAttr, tsVals, err := coll.Column(opt.Timestamp)
	if err != nil {
		return nil, "", err
	}
	if tsAttr.Kind != dataset.Timestamp {
		return nil, "", &dataset.InvalidParameterError{Param: "timestamp", Value: opt.Timestamp, Reason: fmt.Sprintf("attribute is %s, not timestamp", tsAttr.Kind)}
	}
	valAttr, vals, err := coll.Column(opt.Value)
	if err != nil {
		return nil, "", err
	}
	if valAttr.Kind != dataset.Numeric && valAttr.Kind != dataset.Boolean {
		return nil, "", &dataset.InvalidParameterError{Param: "value", Value: opt.Value, Reason: fmt.Sprintf("attribute is %s, not numeric", valAttr.Kind)}
	}
	var obs []observation
	for i := range tsVals {
		if tsVals[i].Missing {
			continue
		}
		v, ok := vals[i].Float(valAttr.Kind)
		if !ok {
			continue
		}
		obs = append(obs, observation{t: tsVals[i].Time.UTC(), v: v})
	}
	if len(obs) == 0 {
		return nil, "", &dataset.InsufficientDataError{Reason: "no rows with both a timestamp and a value", Need: 1}
	}
	sort.SliceStable(obs, func(a, b int) bool { return obs[a].t.Before(obs[b].t) })
	return obs, freq, nil
}

// forecast tries Holt-Winters first and falls back to simple exponential
// smoothing. It returns nil with a warning when both fail.
func forecast(values []float64, period, horizon int, last time.Time, freq Frequency, res *Result, log *slog.Logger) *Forecast {
	fc := &Forecast{Model: HoltWinters}
	proj, params, sse, err := holtWinters(values, period, horizon)
	if err != nil {
		log.Debug("holt-winters unavailable, falling back", "error", err)
		res.warn("holt-winters forecast failed (%v); using simple exponential smoothing", err)
		fc.Model = SimpleExponential
		proj, params, sse, err = simpleSmoothing(values, horizon)
	}
	if err != nil {
		res.warn("forecast unavailable: %v", err)
		return nil
	}
	fc.Params, fc.SSE = params, sse
	fc.Points = make([]Point, len(proj))
	t := last
	for i, v := range proj {
		t = freq.next(t)
		fc.Points[i] = Point{Time: t, Value: v}
	}
	return fc
}
