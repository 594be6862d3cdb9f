package dataset

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var shelterRows = []string{
	"id;nome;tipo_pet;idade;peso;adotado;data_registro;descricao",
	"1;Rex;cachorro;3;12,5;sim;2024-01-05;brincalhão e dócil",
	"2;Mia;gato;2;4,1;não;2024-01-09;gosta de colo",
	"3;Bob;cachorro;;20,0;sim;2024-02-11;",
	"4;Luna;gato;5;3,9;não;2024-02-20;tímida",
	"5;Thor;cachorro;7;30,2;NA;2024-03-02;protetor",
	"6;Nina;gato;1;2,8;sim;2024-03-15;filhote",
}

func TestLoadCSVInfersKinds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pets.csv")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(shelterRows, "\n")), 0o644))

	coll, err := LoadCSV(path, LoadOptions{Delimiter: ';', ParseOptions: DefaultParseOptions()})
	require.NoError(t, err)
	require.Equal(t, 6, coll.Len())

	kinds := map[string]Kind{}
	for _, a := range coll.Schema.Attributes {
		kinds[a.Name] = a.Kind
	}
	assert.Equal(t, Numeric, kinds["idade"])
	assert.Equal(t, Numeric, kinds["peso"])
	assert.Equal(t, Categorical, kinds["tipo_pet"])
	assert.Equal(t, Boolean, kinds["adotado"])
	assert.Equal(t, Timestamp, kinds["data_registro"])

	id, _ := coll.Schema.Attribute("id")
	assert.True(t, id.Identifier)
	nome, _ := coll.Schema.Attribute("nome")
	assert.True(t, nome.Identifier)

	_, idade, err := coll.Column("idade")
	require.NoError(t, err)
	assert.True(t, idade[2].Missing)
	_, peso, err := coll.Column("peso")
	require.NoError(t, err)
	assert.InDelta(t, 12.5, peso[0].Num, 1e-9)
	_, adotado, err := coll.Column("adotado")
	require.NoError(t, err)
	assert.True(t, adotado[4].Missing)
	assert.True(t, adotado[0].Bool)
}

func TestColumnUnknownAttribute(t *testing.T) {
	s, err := NewSchema(Attribute{Name: "age", Kind: Numeric})
	require.NoError(t, err)
	coll, err := New(s, []Record{{Num(1)}})
	require.NoError(t, err)

	_, _, err = coll.Column("weight")
	var ide *InsufficientDataError
	require.True(t, errors.As(err, &ide))
	assert.True(t, IsFatal(err))
}

func TestNewRejectsRaggedRecords(t *testing.T) {
	s, err := NewSchema(Attribute{Name: "a"}, Attribute{Name: "b"})
	require.NoError(t, err)
	_, err = New(s, []Record{{Num(1)}})
	require.Error(t, err)
}

func TestNewSchemaRejectsDuplicates(t *testing.T) {
	_, err := NewSchema(Attribute{Name: "Age"}, Attribute{Name: "age"})
	require.Error(t, err)
}

func TestParseNumberLocales(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"1.000,5", 1000.5},
		{"1,000.5", 1000.5},
		{"12%", 12},
		{"3,25", 3.25},
		{"-7", -7},
	}
	for _, tc := range cases {
		got, ok := ParseNumber(tc.in, ParseOptions{})
		require.True(t, ok, tc.in)
		assert.InDelta(t, tc.want, got, 1e-9, tc.in)
	}
	_, ok := ParseNumber("2024-01-05", ParseOptions{})
	assert.False(t, ok)
}

func TestReadCSVEmpty(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""), ',', LoadOptions{})
	assert.ErrorIs(t, err, ErrEmptyCollection)
}

func TestCandidateFitErrorUnwraps(t *testing.T) {
	base := errors.New("singular matrix")
	err := &CandidateFitError{Candidate: "ridge", Err: base}
	assert.ErrorIs(t, err, base)
	assert.False(t, IsFatal(err))
	assert.Contains(t, err.Error(), "ridge")
}

func buildWorkbook(t *testing.T, sheet string) []byte {
	t.Helper()
	files := map[string]string{
		"xl/workbook.xml": `<workbook><sheets><sheet name="Intakes" sheetId="1" r:id="rId1"/></sheets></workbook>`,
		"xl/_rels/workbook.xml.rels": `<Relationships><Relationship Id="rId1" Target="worksheets/sheet1.xml"/></Relationships>`,
		"xl/sharedStrings.xml": `<sst><si><t>species</t></si><si><t>age</t></si><si><t>dog</t></si><si><t>cat</t></si><si><t>adopted</t></si></sst>`,
		"xl/worksheets/sheet1.xml": sheet,
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestReadXLSX(t *testing.T) {
	sheet := `<worksheet><sheetData>
<row r="1"><c r="A1" t="s"><v>0</v></c><c r="B1" t="s"><v>1</v></c><c r="C1" t="s"><v>4</v></c></row>
<row r="2"><c r="A2" t="s"><v>2</v></c><c r="B2"><v>3</v></c><c r="C2" t="inlineStr"><is><t>yes</t></is></c></row>
<row r="3"><c r="A3" t="s"><v>3</v></c><c r="C3" t="inlineStr"><is><t>no</t></is></c></row>
<row r="4"><c r="A4" t="s"><v>2</v></c><c r="B4"><v>7.5</v></c><c r="C4" t="inlineStr"><is><t>yes</t></is></c></row>
</sheetData></worksheet>`
	b := buildWorkbook(t, sheet)

	coll, err := ReadXLSX(b, LoadOptions{ParseOptions: DefaultParseOptions()})
	require.NoError(t, err)
	require.Equal(t, 3, coll.Len())
	attr, vals, err := coll.Column("age")
	require.NoError(t, err)
	assert.Equal(t, Numeric, attr.Kind)
	assert.True(t, vals[1].Missing)
	assert.Equal(t, 7.5, vals[2].Num)
	attr, _, err = coll.Column("adopted")
	require.NoError(t, err)
	assert.Equal(t, Boolean, attr.Kind)

	_, err = ReadXLSX(b, LoadOptions{Sheet: "intakes"})
	assert.NoError(t, err)
	_, err = ReadXLSX(b, LoadOptions{Sheet: "Outcomes"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Intakes")

	path := filepath.Join(t.TempDir(), "intakes.xlsx")
	require.NoError(t, os.WriteFile(path, b, 0o644))
	coll, err = Load(path, LoadOptions{ParseOptions: DefaultParseOptions()})
	require.NoError(t, err)
	assert.Equal(t, 3, coll.Len())
}

func TestReadXLSXEmptySheet(t *testing.T) {
	b := buildWorkbook(t, `<worksheet><sheetData></sheetData></worksheet>`)
	_, err := ReadXLSX(b, LoadOptions{})
	assert.ErrorIs(t, err, ErrEmptyCollection)
}
