package analysis

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"

	"github.com/KaramelBytes/shelter-analytics/internal/dataset"
)

// ProfileOptions controls the dataset profile.
type ProfileOptions struct {
	// SampleRows determines how many example rows to include in the report.
	SampleRows int
	// GroupBy computes per-group summaries for the given attribute names.
	GroupBy []string
	// OutlierThreshold is the robust |z| above which a numeric value counts as
	// an outlier. 0 selects 3.5.
	OutlierThreshold float64
	// TopPairs is the number of strongest correlations fitted with a line. 0 selects 5.
	TopPairs int
	// ZThreshold is the classic |z| (sample std) above which a value is
	// counted. 0 selects 3.
	ZThreshold float64
	// IQRFactor widens the [P25, P75] fence for the IQR count. 0 selects 1.5.
	IQRFactor float64
}

// DefaultProfileOptions returns reasonable defaults for dataset profiling.
func DefaultProfileOptions() ProfileOptions {
	return ProfileOptions{SampleRows: 5, OutlierThreshold: 3.5, TopPairs: 5, ZThreshold: 3, IQRFactor: 1.5}
}

// Profile describes a collection column by column.
type Profile struct {
	Rows     int             `json:"rows"`
	Cols     []ColumnSummary `json:"columns"`
	Samples  [][]string      `json:"samples,omitempty"`
	Groups   []GroupResult   `json:"groups,omitempty"`
	Corr     *CorrMatrix     `json:"correlations,omitempty"`
	Pairs    []PairFit       `json:"pairs,omitempty"`
	Warnings []string        `json:"warnings,omitempty"`
}

// ColumnSummary captures the kind and statistics of one attribute.
type ColumnSummary struct {
	Name       string       `json:"name"`
	Kind       dataset.Kind `json:"kind"`
	Identifier bool         `json:"identifier,omitempty"`
	NonNull    int          `json:"non_null"`
	Missing    int          `json:"missing"`
	Unique     int          `json:"unique,omitempty"`
	// Numeric stats
	Min    float64 `json:"min,omitempty"`
	Max    float64 `json:"max,omitempty"`
	Mean   float64 `json:"mean,omitempty"`
	Std    float64 `json:"std,omitempty"`
	Median float64 `json:"median,omitempty"`
	P25    float64 `json:"p25,omitempty"`
	P75    float64 `json:"p75,omitempty"`
	// Outliers (robust Z via MAD)
	OutliersCount    int     `json:"outliers,omitempty"`
	OutliersMaxAbsZ  float64 `json:"outliers_max_abs_z,omitempty"`
	OutlierThreshold float64 `json:"outlier_threshold,omitempty"`
	// Univariate Z-score and IQR counts, for columns with at least 10 values
	ZOutliers   int     `json:"z_outliers,omitempty"`
	ZThreshold  float64 `json:"z_threshold,omitempty"`
	IQROutliers int     `json:"iqr_outliers,omitempty"`
	IQRFactor   float64 `json:"iqr_factor,omitempty"`
	IQRLower    float64 `json:"iqr_lower,omitempty"`
	IQRUpper    float64 `json:"iqr_upper,omitempty"`
	// Timestamp range
	First *time.Time `json:"first,omitempty"`
	Last  *time.Time `json:"last,omitempty"`
	// Categorical and boolean top values
	TopValues    []CategoryCount `json:"top_values,omitempty"`
	ExampleTexts []string        `json:"examples,omitempty"`
	Text         *TextSummary    `json:"text,omitempty"`
}

// TextSummary describes the words of a free-text column. Only values longer
// than 5 characters are counted.
type TextSummary struct {
	Texts         int             `json:"texts"`
	Words         int             `json:"words"`
	UniqueWords   int             `json:"unique_words"`
	AvgWordLength float64         `json:"avg_word_length"`
	TopWords      []CategoryCount `json:"top_words,omitempty"`
}

type CategoryCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// GroupResult captures aggregated metrics per group key.
type GroupResult struct {
	Key     string                `json:"key"`
	Size    int                   `json:"size"`
	Metrics map[string]NumSummary `json:"metrics"`
}

type NumSummary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
}

// CorrMatrix holds a symmetric Pearson correlation matrix across numeric columns.
// Each entry uses the rows where both columns are present.
type CorrMatrix struct {
	Columns []string    `json:"columns"`
	Values  [][]float64 `json:"values"`
}

// PairFit is a correlated pair with the least-squares line B = Intercept + Slope*A.
type PairFit struct {
	A         string  `json:"a"`
	B         string  `json:"b"`
	R         float64 `json:"r"`
	N         int     `json:"n"`
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
	R2        float64 `json:"r2"`
}

// colAcc accumulates one attribute in a single pass.
type colAcc struct {
	attr dataset.Attribute
	miss int

	// numeric stats via Welford
	n    int
	mean float64
	m2   float64
	min  float64
	max  float64
	vals []float64

	first, last time.Time
	cats        map[string]int
	exText      []string
	texts       []string
}

// BuildProfile summarizes every attribute of coll.
func BuildProfile(coll *dataset.Collection, opt ProfileOptions) (*Profile, error) {
	if err := coll.RequireNonEmpty(); err != nil {
		return nil, err
	}
	if opt.SampleRows < 0 {
		opt.SampleRows = 0
	}
	if opt.OutlierThreshold <= 0 {
		opt.OutlierThreshold = 3.5
	}
	if opt.TopPairs <= 0 {
		opt.TopPairs = 5
	}
	if opt.ZThreshold <= 0 {
		opt.ZThreshold = 3
	}
	if opt.IQRFactor <= 0 {
		opt.IQRFactor = 1.5
	}
	schema := coll.Schema
	ncol := schema.Len()
	gbIdx := make([]int, 0, len(opt.GroupBy))
	for _, name := range opt.GroupBy {
		idx, ok := schema.Lookup(name)
		if !ok {
			return nil, &dataset.InsufficientDataError{Reason: fmt.Sprintf("group-by attribute %q does not exist", name)}
		}
		if k := schema.Attributes[idx].Kind; k != dataset.Categorical && k != dataset.Boolean {
			return nil, &dataset.InvalidParameterError{Param: "group_by", Value: name, Reason: fmt.Sprintf("attribute is %s, not categorical", k)}
		}
		gbIdx = append(gbIdx, idx)
	}

	cols := make([]*colAcc, ncol)
	for j, a := range schema.Attributes {
		cols[j] = &colAcc{attr: a, min: math.Inf(1), max: math.Inf(-1), cats: map[string]int{}}
	}
	// numeric columns keep a row-aligned copy with NaN for missing values
	// so correlations can use pairwise-complete rows.
	aligned := make([][]float64, ncol)
	for j, c := range cols {
		if c.attr.Kind == dataset.Numeric {
			aligned[j] = make([]float64, coll.Len())
		}
	}

	type gAcc struct {
		size int
		sum  map[int]float64
		cnt  map[int]int
		min  map[int]float64
		max  map[int]float64
	}
	groups := map[string]*gAcc{}

	p := &Profile{Rows: coll.Len()}
	for i, rec := range coll.Records {
		if len(p.Samples) < opt.SampleRows {
			row := make([]string, ncol)
			for j, v := range rec {
				row[j] = v.Label(cols[j].attr.Kind)
			}
			p.Samples = append(p.Samples, row)
		}
		var ga *gAcc
		if len(gbIdx) > 0 {
			parts := make([]string, len(gbIdx))
			for g, idx := range gbIdx {
				val := rec[idx].Label(cols[idx].attr.Kind)
				if val == "" {
					val = "Unknown"
				}
				parts[g] = fmt.Sprintf("%s=%s", cols[idx].attr.Name, safeVal(val))
			}
			key := strings.Join(parts, " | ")
			ga = groups[key]
			if ga == nil {
				ga = &gAcc{sum: map[int]float64{}, cnt: map[int]int{}, min: map[int]float64{}, max: map[int]float64{}}
				groups[key] = ga
			}
			ga.size++
		}
		for j, v := range rec {
			c := cols[j]
			if v.Missing {
				c.miss++
				if aligned[j] != nil {
					aligned[j][i] = math.NaN()
				}
				continue
			}
			switch c.attr.Kind {
			case dataset.Numeric:
				x := v.Num
				aligned[j][i] = x
				// Welford update
				c.n++
				c.min = math.Min(c.min, x)
				c.max = math.Max(c.max, x)
				delta := x - c.mean
				c.mean += delta / float64(c.n)
				c.m2 += delta * (x - c.mean)
				c.vals = append(c.vals, x)
				if ga != nil {
					ga.sum[j] += x
					ga.cnt[j]++
					if m, ok := ga.min[j]; !ok || x < m {
						ga.min[j] = x
					}
					if m, ok := ga.max[j]; !ok || x > m {
						ga.max[j] = x
					}
				}
			case dataset.Timestamp:
				c.n++
				if c.first.IsZero() || v.Time.Before(c.first) {
					c.first = v.Time
				}
				if v.Time.After(c.last) {
					c.last = v.Time
				}
			case dataset.Categorical, dataset.Boolean:
				c.n++
				c.cats[v.Label(c.attr.Kind)]++
			default:
				c.n++
				c.cats[v.Str]++
				if len(c.exText) < 3 {
					c.exText = append(c.exText, v.Str)
				}
				if !c.attr.Identifier && utf8.RuneCountInString(v.Str) > 5 {
					c.texts = append(c.texts, v.Str)
				}
			}
		}
	}

	p.Cols = make([]ColumnSummary, ncol)
	var numCols []int
	for j, c := range cols {
		s := ColumnSummary{Name: c.attr.Name, Kind: c.attr.Kind, Identifier: c.attr.Identifier, NonNull: c.n, Missing: c.miss}
		switch c.attr.Kind {
		case dataset.Numeric:
			if c.n == 0 {
				break
			}
			s.Min, s.Max, s.Mean = c.min, c.max, c.mean
			if c.n > 1 {
				s.Std = math.Sqrt(c.m2 / float64(c.n-1))
			}
			s.Median, _ = stats.Median(c.vals)
			s.P25, _ = stats.Percentile(c.vals, 25)
			s.P75, _ = stats.Percentile(c.vals, 75)
			if !c.attr.Identifier {
				numCols = append(numCols, j)
			}
			if len(c.vals) >= 8 {
				s.OutliersCount, s.OutliersMaxAbsZ = robustOutliers(c.vals, s.Median, opt.OutlierThreshold)
				s.OutlierThreshold = opt.OutlierThreshold
			}
			if len(c.vals) >= 10 {
				s.ZOutliers = zOutliers(c.vals, s.Mean, s.Std, opt.ZThreshold)
				s.ZThreshold = opt.ZThreshold
				s.IQROutliers, s.IQRLower, s.IQRUpper = iqrOutliers(c.vals, s.P25, s.P75, opt.IQRFactor)
				s.IQRFactor = opt.IQRFactor
			}
		case dataset.Timestamp:
			if c.n > 0 {
				first, last := c.first, c.last
				s.First, s.Last = &first, &last
			}
		case dataset.Categorical, dataset.Boolean:
			s.TopValues, s.Unique = topValues(c.cats, 8)
		default:
			_, s.Unique = topValues(c.cats, 0)
			s.ExampleTexts = c.exText
			if c.attr.Identifier {
				break
			}
			if len(c.texts) >= 5 {
				s.Text = summarizeText(c.texts, 20)
			} else {
				p.Warnings = append(p.Warnings, fmt.Sprintf("attribute %q has fewer than 5 texts longer than 5 characters; no text summary", c.attr.Name))
			}
		}
		if c.n == 0 {
			p.Warnings = append(p.Warnings, fmt.Sprintf("attribute %q has no values", c.attr.Name))
		}
		p.Cols[j] = s
	}

	if len(groups) > 0 {
		out := make([]GroupResult, 0, len(groups))
		for k, ga := range groups {
			gr := GroupResult{Key: k, Size: ga.size, Metrics: map[string]NumSummary{}}
			for _, idx := range numCols {
				if ga.cnt[idx] == 0 {
					continue
				}
				gr.Metrics[cols[idx].attr.Name] = NumSummary{Count: ga.cnt[idx], Min: ga.min[idx], Max: ga.max[idx], Mean: ga.sum[idx] / float64(ga.cnt[idx])}
			}
			out = append(out, gr)
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].Size == out[j].Size {
				return out[i].Key < out[j].Key
			}
			return out[i].Size > out[j].Size
		})
		if len(out) > 20 {
			p.Warnings = append(p.Warnings, fmt.Sprintf("showing 20 of %d groups", len(out)))
			out = out[:20]
		}
		p.Groups = out
	}

	if len(numCols) >= 2 {
		p.Corr, p.Pairs = correlate(cols, aligned, numCols, opt.TopPairs)
	}
	return p, nil
}

// robustOutliers counts values whose modified z-score exceeds thr.
func robustOutliers(vals []float64, median, thr float64) (int, float64) {
	mad, _ := stats.MedianAbsoluteDeviation(vals)
	if mad == 0 {
		return 0, 0
	}
	var cnt int
	maxAbsZ := 0.0
	for _, v := range vals {
		az := math.Abs(0.6745 * (v - median) / mad)
		if az > thr {
			cnt++
		}
		maxAbsZ = math.Max(maxAbsZ, az)
	}
	return cnt, maxAbsZ
}

// zOutliers counts values more than thr sample standard deviations from the mean.
func zOutliers(vals []float64, mean, std, thr float64) int {
	if std == 0 {
		return 0
	}
	var cnt int
	for _, v := range vals {
		if math.Abs(v-mean)/std > thr {
			cnt++
		}
	}
	return cnt
}

// iqrOutliers counts values outside [q1 - f*IQR, q3 + f*IQR] and returns the fence.
func iqrOutliers(vals []float64, q1, q3, f float64) (int, float64, float64) {
	iqr := q3 - q1
	lo, hi := q1-f*iqr, q3+f*iqr
	var cnt int
	for _, v := range vals {
		if v < lo || v > hi {
			cnt++
		}
	}
	return cnt, lo, hi
}

// summarizeText counts the words of texts and keeps the top most frequent
// lowercase words longer than 3 characters.
func summarizeText(texts []string, top int) *TextSummary {
	ts := &TextSummary{Texts: len(texts)}
	unique := map[string]struct{}{}
	freq := map[string]int{}
	var letters int
	for _, t := range texts {
		for _, w := range strings.Fields(t) {
			ts.Words++
			n := utf8.RuneCountInString(w)
			letters += n
			unique[w] = struct{}{}
			if n > 3 {
				freq[strings.ToLower(w)]++
			}
		}
	}
	ts.UniqueWords = len(unique)
	if ts.Words > 0 {
		ts.AvgWordLength = float64(letters) / float64(ts.Words)
	}
	ts.TopWords, _ = topValues(freq, top)
	return ts
}

// topValues returns up to limit categories by descending count and the distinct count.
func topValues(cats map[string]int, limit int) ([]CategoryCount, int) {
	if limit <= 0 {
		return nil, len(cats)
	}
	tops := make([]CategoryCount, 0, len(cats))
	for k, v := range cats {
		tops = append(tops, CategoryCount{Value: k, Count: v})
	}
	sort.Slice(tops, func(i, j int) bool {
		if tops[i].Count == tops[j].Count {
			return tops[i].Value < tops[j].Value
		}
		return tops[i].Count > tops[j].Count
	})
	if len(tops) > limit {
		tops = tops[:limit]
	}
	return tops, len(cats)
}

// correlate builds the Pearson matrix over numCols and fits a line through
// the topN strongest pairs.
func correlate(cols []*colAcc, aligned [][]float64, numCols []int, topN int) (*CorrMatrix, []PairFit) {
	n := len(numCols)
	names := make([]string, n)
	for i, idx := range numCols {
		names[i] = cols[idx].attr.Name
	}
	vals := make([][]float64, n)
	for i := range vals {
		vals[i] = make([]float64, n)
		vals[i][i] = 1
	}
	var pairs []PairFit
	for a := 0; a < n; a++ {
		for b := a + 1; b < n; b++ {
			xs, ys := complete(aligned[numCols[a]], aligned[numCols[b]])
			r := 0.0
			if len(xs) >= 2 {
				r = stat.Correlation(xs, ys, nil)
			}
			if math.IsNaN(r) || math.IsInf(r, 0) {
				r = 0
			}
			r = math.Max(-1, math.Min(1, r))
			vals[a][b], vals[b][a] = r, r
			if r != 0 {
				pairs = append(pairs, PairFit{A: names[a], B: names[b], R: r, N: len(xs)})
			}
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		return math.Abs(pairs[i].R) > math.Abs(pairs[j].R)
	})
	if len(pairs) > topN {
		pairs = pairs[:topN]
	}
	index := map[string]int{}
	for i, name := range names {
		index[name] = numCols[i]
	}
	for i := range pairs {
		xs, ys := complete(aligned[index[pairs[i].A]], aligned[index[pairs[i].B]])
		alpha, beta := stat.LinearRegression(xs, ys, nil, false)
		pairs[i].Intercept, pairs[i].Slope = alpha, beta
		pairs[i].R2 = stat.RSquared(xs, ys, nil, alpha, beta)
	}
	return &CorrMatrix{Columns: names, Values: vals}, pairs
}

// complete keeps the positions where both x and y are present.
func complete(x, y []float64) ([]float64, []float64) {
	xs := make([]float64, 0, len(x))
	ys := make([]float64, 0, len(y))
	for i := range x {
		if math.IsNaN(x[i]) || math.IsNaN(y[i]) {
			continue
		}
		xs = append(xs, x[i])
		ys = append(ys, y[i])
	}
	return xs, ys
}

func safeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "(unnamed)"
	}
	return s
}
func safeVal(s string) string { return strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "|", "/") }
