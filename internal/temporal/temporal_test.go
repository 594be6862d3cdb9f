package temporal

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/shelter-analytics/internal/dataset"
)

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func intakes(t *testing.T, times []time.Time, values []float64) *dataset.Collection {
	t.Helper()
	s, err := dataset.NewSchema(
		dataset.Attribute{Name: "intake_date", Kind: dataset.Timestamp},
		dataset.Attribute{Name: "animals", Kind: dataset.Numeric},
		dataset.Attribute{Name: "shelter", Kind: dataset.Categorical},
	)
	require.NoError(t, err)
	recs := make([]dataset.Record, len(times))
	for i := range times {
		recs[i] = dataset.Record{dataset.Time(times[i]), dataset.Num(values[i]), dataset.Str("north")}
	}
	coll, err := dataset.New(s, recs)
	require.NoError(t, err)
	return coll
}

// monthly returns n mid-month observations with a linear trend and a yearly cycle.
func monthly(n int) ([]time.Time, []float64) {
	times := make([]time.Time, n)
	values := make([]float64, n)
	for i := range times {
		times[i] = day(2021, time.January, 15).AddDate(0, i, 0)
		values[i] = 50 + 0.5*float64(i) + 10*math.Sin(2*math.Pi*float64(i)/12)
	}
	return times, values
}

func TestShortSeriesDegradesGracefully(t *testing.T) {
	times, values := monthly(3)
	res, err := Run(context.Background(), intakes(t, times, values), Options{Timestamp: "intake_date", Value: "animals", Frequency: "M", Horizon: 6})
	require.NoError(t, err)
	assert.Len(t, res.Series, 3)
	assert.Nil(t, res.Decomposition)
	assert.Nil(t, res.Forecast)
	assert.Nil(t, res.Trend)
	assert.Equal(t, []Stage{StageValidating, StageResampling, StageDone}, res.Stages)
	assert.NotEmpty(t, res.Warnings)
}

func TestSeasonalSeriesDecomposesAndForecasts(t *testing.T) {
	times, values := monthly(36)
	res, err := Run(context.Background(), intakes(t, times, values), Options{Timestamp: "intake_date", Value: "animals", Frequency: "monthly", Horizon: 6})
	require.NoError(t, err)
	require.Len(t, res.Series, 36)
	assert.Equal(t, day(2021, time.January, 31), res.Series[0].Time)
	assert.Equal(t, []Stage{StageValidating, StageResampling, StageDecomposing, StageForecasting, StageDone}, res.Stages)

	require.NotNil(t, res.Decomposition)
	assert.Equal(t, 12, res.Decomposition.Period)
	assert.True(t, math.IsNaN(res.Decomposition.Trend[0]))
	assert.InDelta(t, 50+0.5*18, res.Decomposition.Trend[18], 0.5)
	for i := 6; i < 30; i++ {
		sum := res.Decomposition.Trend[i] + res.Decomposition.Seasonal[i] + res.Decomposition.Residual[i]
		assert.InDelta(t, values[i], sum, 1e-9)
	}
	require.NotNil(t, res.Trend)
	assert.Equal(t, "increasing", res.Trend.Direction)
	assert.InDelta(t, 0.5, res.Trend.Slope, 0.05)

	require.NotNil(t, res.Forecast)
	assert.Equal(t, HoltWinters, res.Forecast.Model)
	require.Len(t, res.Forecast.Points, 6)
	assert.Equal(t, day(2024, time.January, 31), res.Forecast.Points[0].Time)
	assert.Equal(t, day(2024, time.June, 30), res.Forecast.Points[5].Time)
	expected := 50 + 0.5*36 + 10*math.Sin(2*math.Pi*36/12)
	assert.InDelta(t, expected, res.Forecast.Points[0].Value, 3)
}

func TestShortSeriesReducesPeriod(t *testing.T) {
	times, values := monthly(10)
	res, err := Run(context.Background(), intakes(t, times, values), Options{Timestamp: "intake_date", Value: "animals", Horizon: 2})
	require.NoError(t, err)
	require.NotNil(t, res.Decomposition)
	assert.Equal(t, 5, res.Decomposition.Period)
	assert.NotEmpty(t, res.Warnings)
	require.NotNil(t, res.Forecast)
	assert.Len(t, res.Forecast.Points, 2)
}

func TestResampleMeansAndForwardFill(t *testing.T) {
	times := []time.Time{day(2024, 3, 4), day(2024, 3, 1), day(2024, 3, 1), day(2024, 3, 2)}
	values := []float64{9, 2, 4, 5}
	res, err := Run(context.Background(), intakes(t, times, values), Options{Timestamp: "intake_date", Value: "animals", Frequency: "D", Horizon: 1})
	require.NoError(t, err)
	require.Len(t, res.Series, 4)
	assert.Equal(t, Point{Time: day(2024, 3, 1), Value: 3}, res.Series[0])
	assert.Equal(t, Point{Time: day(2024, 3, 2), Value: 5}, res.Series[1])
	assert.Equal(t, Point{Time: day(2024, 3, 3), Value: 5, Filled: true}, res.Series[2])
	assert.Equal(t, Point{Time: day(2024, 3, 4), Value: 9}, res.Series[3])
}

func TestBucketLabels(t *testing.T) {
	wed := day(2024, time.January, 3)
	assert.Equal(t, day(2024, time.January, 7), Weekly.bucket(wed))
	assert.Equal(t, day(2024, time.January, 7), Weekly.bucket(day(2024, time.January, 7)))
	assert.Equal(t, day(2024, time.February, 29), Monthly.bucket(day(2024, time.February, 10)))
	assert.Equal(t, day(2024, time.March, 31), Quarterly.bucket(day(2024, time.February, 10)))
	assert.Equal(t, day(2024, time.December, 31), Yearly.bucket(wed))
	assert.Equal(t, day(2025, time.January, 31), Monthly.next(day(2024, time.December, 31)))
	assert.Equal(t, day(2025, time.March, 31), Quarterly.next(day(2024, time.December, 31)))
	assert.Equal(t, day(2024, time.March, 31), Monthly.next(day(2024, time.February, 29)))
}

func TestParameterValidation(t *testing.T) {
	times, values := monthly(12)
	coll := intakes(t, times, values)
	cases := []Options{
		{Timestamp: "intake_date", Value: "animals", Frequency: "H", Horizon: 3},
		{Timestamp: "intake_date", Value: "animals", Horizon: 0},
		{Timestamp: "animals", Value: "animals", Horizon: 3},
		{Timestamp: "intake_date", Value: "shelter", Horizon: 3},
	}
	for _, opt := range cases {
		_, err := Run(context.Background(), coll, opt)
		var ipe *dataset.InvalidParameterError
		assert.True(t, errors.As(err, &ipe), "%+v", opt)
	}
	_, err := Run(context.Background(), coll, Options{Timestamp: "released_at", Value: "animals", Horizon: 3})
	var ide *dataset.InsufficientDataError
	assert.True(t, errors.As(err, &ide))
}

func TestNoUsableRows(t *testing.T) {
	times, values := monthly(4)
	coll := intakes(t, times, values)
	for i := range coll.Records {
		coll.Records[i][1] = dataset.Null
	}
	_, err := Run(context.Background(), coll, Options{Timestamp: "intake_date", Value: "animals", Horizon: 3})
	var ide *dataset.InsufficientDataError
	assert.True(t, errors.As(err, &ide))
}

func TestEmptyCollection(t *testing.T) {
	empty, err := dataset.New(intakes(t, nil, nil).Schema, nil)
	require.NoError(t, err)
	_, err = Run(context.Background(), empty, Options{Timestamp: "intake_date", Value: "animals", Horizon: 3})
	assert.ErrorIs(t, err, dataset.ErrEmptyCollection)
}

func TestSeriesEncodesNaNAsNull(t *testing.T) {
	b, err := json.Marshal(Series{math.NaN(), 1.5, 2})
	require.NoError(t, err)
	assert.JSONEq(t, `[null,1.5,2]`, string(b))

	var back Series
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, math.IsNaN(back[0]))
	assert.Equal(t, 1.5, back[1])
}

func TestSimpleSmoothingFallback(t *testing.T) {
	proj, params, _, err := simpleSmoothing([]float64{4, 4, 4, 4}, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 4, 4}, proj)
	assert.Contains(t, params, "alpha")

	_, _, _, err = holtWinters([]float64{1, 2, 3}, 2, 1)
	assert.Error(t, err)
}
