package cluster

import (
	"errors"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/KaramelBytes/shelter-analytics/internal/features"
)

// project computes a 3-component view when there are at least three columns, else 2.
func project(m *features.Matrix) (*Projection, error) {
	r, c := m.NumRows(), m.NumCols()
	if r < 2 || c < 2 {
		return nil, errors.New("need at least 2 rows and 2 columns")
	}
	k := 2
	if c >= 3 {
		k = 3
	}
	X := m.Dense()
	var pc stat.PC
	if ok := pc.PrincipalComponents(X, nil); !ok {
		return nil, errors.New("principal component decomposition failed")
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	vars := pc.VarsTo(nil)
	_, avail := vecs.Dims()
	k = min(k, avail)

	centered := mat.DenseCopyOf(X)
	for j := 0; j < c; j++ {
		col := mat.Col(nil, j, centered)
		mean := stat.Mean(col, nil)
		floats.AddConst(-mean, col)
		centered.SetCol(j, col)
	}
	var proj mat.Dense
	proj.Mul(centered, vecs.Slice(0, c, 0, k))

	total := floats.Sum(vars)
	explained := make([]float64, k)
	for i := 0; i < k; i++ {
		if total > 0 {
			explained[i] = vars[i] / total
		}
	}
	points := make([][]float64, r)
	for i := range points {
		points[i] = mat.Row(nil, i, &proj)
	}
	return &Projection{Components: k, Points: points, ExplainedVariance: explained}, nil
}
