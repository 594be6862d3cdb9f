package features

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/shelter-analytics/internal/dataset"
)

func petCollection(t *testing.T) *dataset.Collection {
	t.Helper()
	s, err := dataset.NewSchema(
		dataset.Attribute{Name: "id", Kind: dataset.Numeric, Identifier: true},
		dataset.Attribute{Name: "nome", Kind: dataset.Text, Identifier: true},
		dataset.Attribute{Name: "tipo_pet", Kind: dataset.Categorical},
		dataset.Attribute{Name: "idade", Kind: dataset.Numeric},
		dataset.Attribute{Name: "peso", Kind: dataset.Numeric},
		dataset.Attribute{Name: "adotado", Kind: dataset.Boolean},
		dataset.Attribute{Name: "data_registro", Kind: dataset.Timestamp},
	)
	require.NoError(t, err)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []dataset.Record{
		{dataset.Num(1), dataset.Str("Rex"), dataset.Str("cachorro"), dataset.Num(3), dataset.Num(12), dataset.Bool(true), dataset.Time(base)},
		{dataset.Num(2), dataset.Str("Mia"), dataset.Str("gato"), dataset.Num(2), dataset.Num(4), dataset.Bool(false), dataset.Time(base.AddDate(0, 0, 3))},
		{dataset.Num(3), dataset.Str("Bob"), dataset.Null, dataset.Null, dataset.Num(20), dataset.Bool(true), dataset.Time(base.AddDate(0, 1, 0))},
		{dataset.Num(4), dataset.Str("Luna"), dataset.Str("gato"), dataset.Num(5), dataset.Null, dataset.Null, dataset.Time(base.AddDate(0, 2, 0))},
	}
	coll, err := dataset.New(s, rows)
	require.NoError(t, err)
	return coll
}

func column(t *testing.T, m *Matrix, name string) []float64 {
	t.Helper()
	for j, c := range m.Columns {
		if c.Name == name {
			out := make([]float64, m.NumRows())
			for i := range m.Data {
				out[i] = m.Data[i][j]
			}
			return out
		}
	}
	t.Fatalf("column %q not found in %v", name, m.Names())
	return nil
}

func TestPrepareDropsIdentifiersAndTimestamps(t *testing.T) {
	m, err := Prepare(petCollection(t), Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"tipo_pet=Unknown", "tipo_pet=cachorro", "tipo_pet=gato", "idade", "peso", "adotado"}, m.Names())
	assert.Equal(t, []int{0, 1, 2, 3}, m.Rows)
}

func TestPrepareImputesAndScales(t *testing.T) {
	m, err := Prepare(petCollection(t), Options{})
	require.NoError(t, err)

	idade := column(t, m, "idade")
	// median of {3,2,5} fills the gap, then the column is standardized
	var mean float64
	for _, v := range idade {
		mean += v
	}
	assert.InDelta(t, 0, mean/float64(len(idade)), 1e-9)
	j := indexOf(m, "idade")
	assert.InDelta(t, 3, m.Unscale(j, idade[2]), 1e-9)

	unknown := column(t, m, "tipo_pet=Unknown")
	assert.Equal(t, []float64{0, 0, 1, 0}, unknown)

	adotado := column(t, m, "adotado")
	assert.Equal(t, []float64{1, 0, 1, 1}, adotado)
}

func TestPrepareKeepsTargetUnscaled(t *testing.T) {
	m, err := Prepare(petCollection(t), Options{Target: "peso"})
	require.NoError(t, err)
	assert.NotContains(t, m.Names(), "peso")
	assert.Equal(t, "peso", m.TargetName)
	assert.Equal(t, 12.0, m.Target[0])
	assert.True(t, math.IsNaN(m.Target[3]))
}

func TestPrepareExplicitTimestamp(t *testing.T) {
	m, err := Prepare(petCollection(t), Options{Attributes: []string{"data_registro", "idade"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"data_registro", "idade"}, m.Names())
}

func TestPrepareIntegerCodesLargeVocabularies(t *testing.T) {
	m, err := Prepare(petCollection(t), Options{Attributes: []string{"nome"}, MaxOneHot: 2})
	require.NoError(t, err)
	require.Equal(t, []string{"nome"}, m.Names())
	// sorted levels: Bob, Luna, Mia, Rex
	assert.Equal(t, []float64{3, 2, 0, 1}, column(t, m, "nome"))
}

func TestPrepareErrors(t *testing.T) {
	empty, err := dataset.New(petCollection(t).Schema, nil)
	require.NoError(t, err)
	_, err = Prepare(empty, Options{})
	assert.ErrorIs(t, err, dataset.ErrEmptyCollection)

	_, err = Prepare(petCollection(t), Options{Attributes: []string{"cor"}})
	var ide *dataset.InsufficientDataError
	assert.True(t, errors.As(err, &ide))

	_, err = Prepare(petCollection(t), Options{Target: "raca"})
	assert.True(t, errors.As(err, &ide))
}

func TestPrepareIsDeterministic(t *testing.T) {
	coll := petCollection(t)
	first, err := Prepare(coll, Options{Target: "adotado"})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Prepare(coll, Options{Target: "adotado"})
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprint(first.Data), fmt.Sprint(again.Data))
		assert.Equal(t, first.Columns, again.Columns)
	}
}

func indexOf(m *Matrix, name string) int {
	for j, c := range m.Columns {
		if c.Name == name {
			return j
		}
	}
	return -1
}

func TestEncodeMatchesPreparedRows(t *testing.T) {
	m, err := Prepare(petCollection(t), Options{})
	require.NoError(t, err)

	row, err := m.Encode(map[string]string{"tipo_pet": "gato", "idade": "2", "peso": "4", "adotado": "no"})
	require.NoError(t, err)
	assert.InDeltaSlice(t, m.Data[1], row, 1e-9)

	// peso falls back to its median, 12, which row 0 holds
	row, err = m.Encode(map[string]string{"idade": "3", "adotado": "yes"})
	require.NoError(t, err)
	p := indexOf(m, "peso")
	assert.InDelta(t, m.Data[0][p], row[p], 1e-9)
	assert.Equal(t, 1.0, row[indexOf(m, "tipo_pet=Unknown")])
	assert.Equal(t, 0.0, row[indexOf(m, "tipo_pet=gato")])

	// an unseen category sets no indicator
	row, err = m.Encode(map[string]string{"tipo_pet": "coelho"})
	require.NoError(t, err)
	for _, name := range []string{"tipo_pet=Unknown", "tipo_pet=cachorro", "tipo_pet=gato"} {
		assert.Equal(t, 0.0, row[indexOf(m, name)], name)
	}
}

func TestEncodeIntegerCodesAndErrors(t *testing.T) {
	m, err := Prepare(petCollection(t), Options{Attributes: []string{"nome", "data_registro"}, MaxOneHot: 2})
	require.NoError(t, err)

	row, err := m.Encode(map[string]string{"nome": "Mia", "data_registro": "2024-01-04"})
	require.NoError(t, err)
	assert.Equal(t, 2.0, row[0])
	assert.InDelta(t, m.Data[1][1], row[1], 1e-9)

	cases := map[string]map[string]string{
		"nome":          {"nome": "Zed"},
		"data_registro": {"data_registro": "someday"},
		"input":         {"peso": "4"},
	}
	for param, input := range cases {
		_, err := m.Encode(input)
		var ipe *dataset.InvalidParameterError
		require.True(t, errors.As(err, &ipe), param)
		assert.Equal(t, param, ipe.Param)
	}
}
