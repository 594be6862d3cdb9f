package cluster

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/shelter-analytics/internal/dataset"
)

// blobs builds n records with numeric age and weight drawn around three centers.
func blobs(t *testing.T, n int) *dataset.Collection {
	t.Helper()
	s, err := dataset.NewSchema(
		dataset.Attribute{Name: "age", Kind: dataset.Numeric},
		dataset.Attribute{Name: "weight", Kind: dataset.Numeric},
		dataset.Attribute{Name: "name", Kind: dataset.Text, Identifier: true},
	)
	require.NoError(t, err)
	rng := rand.New(rand.NewPCG(7, 7))
	centers := [][2]float64{{1, 4}, {6, 25}, {12, 10}}
	recs := make([]dataset.Record, n)
	for i := range recs {
		c := centers[i%3]
		recs[i] = dataset.Record{
			dataset.Num(c[0] + rng.NormFloat64()*0.4),
			dataset.Num(c[1] + rng.NormFloat64()*1.0),
			dataset.Str("pet"),
		}
	}
	coll, err := dataset.New(s, recs)
	require.NoError(t, err)
	return coll
}

func TestKMeansScenarioThreeGroups(t *testing.T) {
	res, err := Run(context.Background(), blobs(t, 50), Options{Algorithm: "centroid", K: 3, Features: []string{"age", "weight"}})
	require.NoError(t, err)
	require.Equal(t, KMeans, res.Best)
	require.Len(t, res.Groups, 3)
	total := 0
	for _, g := range res.Groups {
		total += g.Size
		assert.NotEqual(t, Noise, g.Label)
	}
	assert.Equal(t, 50, total)
	assert.Len(t, res.Labels, 50)
	assert.Greater(t, res.Silhouette, 0.5)
	assert.Equal(t, []string{"age", "weight"}, res.Features)
	require.NotNil(t, res.Projection)
	assert.Equal(t, 2, res.Projection.Components)
	assert.Len(t, res.Projection.Points, 50)
}

func TestGroupMeansUseOriginalUnits(t *testing.T) {
	res, err := Run(context.Background(), blobs(t, 60), Options{Algorithm: KMeans, K: 3})
	require.NoError(t, err)
	var heavy float64
	for _, g := range res.Groups {
		heavy = max(heavy, g.Means["weight"])
	}
	assert.InDelta(t, 25, heavy, 2)
}

func TestAllAlgorithmsRankedBySilhouette(t *testing.T) {
	res, err := Run(context.Background(), blobs(t, 60), Options{Algorithm: All, K: 3, Eps: 0.5, MinSamples: 3})
	require.NoError(t, err)
	require.Len(t, res.Candidates, 3)
	assert.Equal(t, 3, res.Succeeded())
	for _, c := range res.Candidates {
		assert.GreaterOrEqual(t, c.Silhouette, -1.0)
		assert.LessOrEqual(t, c.Silhouette, 1.0)
		if c.Silhouette > res.Silhouette {
			t.Fatalf("candidate %s scored %.3f above best %.3f", c.Algorithm, c.Silhouette, res.Silhouette)
		}
	}
}

func TestHierarchicalMatchesWellSeparatedBlobs(t *testing.T) {
	res, err := Run(context.Background(), blobs(t, 30), Options{Algorithm: Hierarchical, K: 3})
	require.NoError(t, err)
	require.Len(t, res.Groups, 3)
	for _, g := range res.Groups {
		assert.Equal(t, 10, g.Size)
	}
}

func TestHierarchicalRowCapFailsCandidateOnly(t *testing.T) {
	res, err := Run(context.Background(), blobs(t, 30), Options{Algorithm: All, K: 3, MaxHierarchicalRows: 10})
	require.NoError(t, err)
	var failed []string
	for _, c := range res.Candidates {
		if c.Failed() {
			failed = append(failed, c.Algorithm)
		}
	}
	assert.Equal(t, []string{Hierarchical}, failed)
	assert.NotEmpty(t, res.Best)
}

func TestDBSCANSingleGroupScoresSentinel(t *testing.T) {
	res, err := Run(context.Background(), blobs(t, 30), Options{Algorithm: DBSCAN, Eps: 100, MinSamples: 2})
	require.NoError(t, err)
	require.Len(t, res.Groups, 1)
	assert.Equal(t, -1.0, res.Silhouette)
}

func TestDBSCANMarksNoise(t *testing.T) {
	labels := dbscan([][]float64{{0, 0}, {0, 0.1}, {0.1, 0}, {9, 9}}, 0.5, 2)
	assert.Equal(t, []int{0, 0, 0, Noise}, labels)
}

func TestSilhouetteBounds(t *testing.T) {
	X := [][]float64{{0, 0}, {0, 1}, {5, 5}, {5, 6}, {10, 0}}
	for _, labels := range [][]int{{0, 0, 1, 1, 1}, {0, 1, 0, 1, 0}, {0, 0, 1, 1, 2}} {
		s := Silhouette(X, labels)
		assert.GreaterOrEqual(t, s, -1.0)
		assert.LessOrEqual(t, s, 1.0)
	}
	assert.Equal(t, -1.0, Silhouette(X, []int{0, 0, 0, 0, 0}))
	assert.Equal(t, -1.0, Silhouette(X, []int{0, 1, 2, 3, 4}))
}

func TestKValidation(t *testing.T) {
	coll := blobs(t, 8)
	for _, k := range []int{1, 8, 11} {
		_, err := Run(context.Background(), coll, Options{Algorithm: KMeans, K: k})
		var ipe *dataset.InvalidParameterError
		assert.True(t, errors.As(err, &ipe), "k=%d", k)
	}
	_, err := Run(context.Background(), coll, Options{Algorithm: KMeans, K: 7})
	assert.NoError(t, err)
}

func TestUnknownAlgorithm(t *testing.T) {
	_, err := Run(context.Background(), blobs(t, 10), Options{Algorithm: "spectral"})
	var ipe *dataset.InvalidParameterError
	assert.True(t, errors.As(err, &ipe))
}

func TestEmptyCollection(t *testing.T) {
	empty, err := dataset.New(blobs(t, 3).Schema, nil)
	require.NoError(t, err)
	_, err = Run(context.Background(), empty, Options{Algorithm: KMeans, K: 3})
	assert.ErrorIs(t, err, dataset.ErrEmptyCollection)
}

func TestInsufficientFeatures(t *testing.T) {
	_, err := Run(context.Background(), blobs(t, 20), Options{Algorithm: KMeans, K: 2, Features: []string{"age"}})
	var ife *dataset.InsufficientFeaturesError
	require.True(t, errors.As(err, &ife))
	assert.Equal(t, 1, ife.Usable)
}

func TestKMeansDeterministic(t *testing.T) {
	coll := blobs(t, 40)
	a, err := Run(context.Background(), coll, Options{Algorithm: KMeans, K: 4})
	require.NoError(t, err)
	b, err := Run(context.Background(), coll, Options{Algorithm: KMeans, K: 4})
	require.NoError(t, err)
	assert.Equal(t, a.Labels, b.Labels)
}

func TestCancelledBeforeFitting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, blobs(t, 20), Options{Algorithm: All, K: 3})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKMeansWarnsWhenIdenticalPointsAreSplit(t *testing.T) {
	s, err := dataset.NewSchema(
		dataset.Attribute{Name: "age", Kind: dataset.Numeric},
		dataset.Attribute{Name: "weight", Kind: dataset.Numeric},
	)
	require.NoError(t, err)
	recs := make([]dataset.Record, 20)
	for i := range recs {
		if i%2 == 0 {
			recs[i] = dataset.Record{dataset.Num(1), dataset.Num(1)}
		} else {
			recs[i] = dataset.Record{dataset.Num(5), dataset.Num(9)}
		}
	}
	coll, err := dataset.New(s, recs)
	require.NoError(t, err)

	res, err := Run(context.Background(), coll, Options{Algorithm: KMeans, K: 3})
	require.NoError(t, err)
	km := res.Candidates[0]
	require.False(t, km.Failed())
	require.Len(t, km.Warnings, 1)
	assert.Contains(t, km.Warnings[0], "identical points were split")
	assert.Contains(t, res.Warnings, "kmeans: "+km.Warnings[0])

	res, err = Run(context.Background(), blobs(t, 30), Options{Algorithm: KMeans, K: 3})
	require.NoError(t, err)
	assert.Empty(t, res.Candidates[0].Warnings)
}
