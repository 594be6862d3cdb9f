package analysis

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/KaramelBytes/shelter-analytics/internal/anomaly"
	"github.com/KaramelBytes/shelter-analytics/internal/cluster"
	"github.com/KaramelBytes/shelter-analytics/internal/dataset"
	"github.com/KaramelBytes/shelter-analytics/internal/predict"
	"github.com/KaramelBytes/shelter-analytics/internal/temporal"
)

// Markdown renders a compact sectioned report of whichever variant r carries.
func (r *Result) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[ANALYSIS]\nID: %s\nKind: %s\nCreated: %s\n\n", r.ID, r.Kind, r.CreatedAt.Format("2006-01-02 15:04:05Z07:00"))
	switch {
	case r.Profile != nil:
		b.WriteString(r.Profile.Markdown())
	case r.Cluster != nil:
		writeCluster(&b, r.Cluster)
	case r.Model != nil:
		writeModel(&b, r.Model)
		if r.Prediction != nil {
			writePrediction(&b, r.Prediction)
		}
	case r.Anomaly != nil:
		writeAnomaly(&b, r.Anomaly)
	case r.Temporal != nil:
		writeTemporal(&b, r.Temporal)
	default:
		b.WriteString(Unavailable(r.Kind, fmt.Errorf("no result")))
		b.WriteString("\n")
	}
	return b.String()
}

// Markdown renders the profile sections.
func (p *Profile) Markdown() string {
	var b strings.Builder
	b.WriteString("[DATASET SUMMARY]\n")
	fmt.Fprintf(&b, "Rows: %d\nColumns: %d\n\n", p.Rows, len(p.Cols))

	b.WriteString("[SCHEMA]\n")
	for _, c := range p.Cols {
		total := c.NonNull + c.Missing
		missPct := 0.0
		if total > 0 {
			missPct = float64(c.Missing) * 100.0 / float64(total)
		}
		name := safeName(c.Name)
		if c.Identifier {
			name += " (id)"
		}
		fmt.Fprintf(&b, "- %s: %s (non-null %d, missing %.1f%%)", name, c.Kind, c.NonNull, missPct)
		switch {
		case c.Kind == dataset.Numeric && c.NonNull > 0:
			fmt.Fprintf(&b, ": min %.4g, max %.4g, mean %.4g, std %.4g, median %.4g", c.Min, c.Max, c.Mean, c.Std, c.Median)
			if c.OutlierThreshold > 0 {
				fmt.Fprintf(&b, "; outliers: %d above |z|>%.1f", c.OutliersCount, c.OutlierThreshold)
				if c.OutliersMaxAbsZ > 0 {
					fmt.Fprintf(&b, " (max |z|≈%.2f)", c.OutliersMaxAbsZ)
				}
			}
			if c.ZThreshold > 0 {
				fmt.Fprintf(&b, "; z-score: %d above %.1f; iqr: %d outside [%.4g, %.4g] (factor %.1f)",
					c.ZOutliers, c.ZThreshold, c.IQROutliers, c.IQRLower, c.IQRUpper, c.IQRFactor)
			}
		case c.First != nil:
			fmt.Fprintf(&b, ": %s to %s", c.First.Format("2006-01-02"), c.Last.Format("2006-01-02"))
		case len(c.TopValues) > 0:
			b.WriteString(": top ")
			for i, kv := range c.TopValues {
				if i > 0 {
					b.WriteString(", ")
				}
				fmt.Fprintf(&b, "%s(%d)", safeVal(kv.Value), kv.Count)
			}
			if c.Unique > len(c.TopValues) {
				fmt.Fprintf(&b, "; unique=%d", c.Unique)
			}
		case len(c.ExampleTexts) > 0:
			b.WriteString(": e.g., ")
			for i, ex := range c.ExampleTexts {
				if i > 0 {
					b.WriteString(" | ")
				}
				b.WriteString(safeVal(ex))
			}
			if t := c.Text; t != nil {
				fmt.Fprintf(&b, "\n  text: %d texts, %d words (%d unique), avg word length %.1f",
					t.Texts, t.Words, t.UniqueWords, t.AvgWordLength)
				if len(t.TopWords) > 0 {
					b.WriteString("; top words ")
					for i, kv := range t.TopWords {
						if i > 0 {
							b.WriteString(", ")
						}
						fmt.Fprintf(&b, "%s(%d)", safeVal(kv.Value), kv.Count)
					}
				}
			}
		}
		b.WriteString("\n")
	}
	if len(p.Groups) > 0 {
		b.WriteString("\n[GROUP-BY SUMMARY]\n")
		for _, g := range p.Groups {
			fmt.Fprintf(&b, "- %s (n=%d)\n", g.Key, g.Size)
			keys := make([]string, 0, len(g.Metrics))
			for k := range g.Metrics {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys[:min(6, len(keys))] {
				m := g.Metrics[k]
				fmt.Fprintf(&b, "  • %s: mean %.4g (min %.4g, max %.4g)\n", k, m.Mean, m.Min, m.Max)
			}
		}
	}
	if len(p.Pairs) > 0 {
		b.WriteString("\n[CORRELATIONS]\n")
		for _, pr := range p.Pairs {
			fmt.Fprintf(&b, "- %s ~ %s: r=%.3f (n=%d); %s ≈ %.4g + %.4g·%s, R²=%.3f\n",
				pr.A, pr.B, pr.R, pr.N, pr.B, pr.Intercept, pr.Slope, pr.A, pr.R2)
		}
	}
	if len(p.Samples) > 0 {
		b.WriteString("\n[HEAD AND SAMPLE ROWS]\n")
		names := make([]string, len(p.Cols))
		seps := make([]string, len(p.Cols))
		for i, c := range p.Cols {
			names[i] = safeVal(safeName(c.Name))
			seps[i] = "---"
		}
		writeRow(&b, names)
		writeRow(&b, seps)
		for _, row := range p.Samples {
			cells := make([]string, len(p.Cols))
			for i := range cells {
				if i < len(row) {
					cells[i] = truncate(safeVal(row[i]), 80)
				}
			}
			writeRow(&b, cells)
		}
	}
	writeNotes(&b, p.Warnings)
	return b.String()
}

func writeCluster(b *strings.Builder, r *cluster.Result) {
	b.WriteString("[CLUSTERS]\n")
	fmt.Fprintf(b, "Requested: %s\n", r.Requested)
	fmt.Fprintf(b, "Rows: %d\nFeatures: %s\n", len(r.Rows), strings.Join(r.Features, ", "))
	writeSucceeded(b, r.Succeeded(), len(r.Candidates), "algorithms")
	if r.Best != "" {
		fmt.Fprintf(b, "Best: %s (silhouette %.3f)\n", r.Best, r.Silhouette)
	}
	b.WriteString("\n[CANDIDATES]\n")
	for _, c := range r.Candidates {
		if c.Failed() {
			fmt.Fprintf(b, "- %s: failed: %v\n", c.Algorithm, c.Err)
			continue
		}
		fmt.Fprintf(b, "- %s: %d clusters, %d noise, silhouette %.3f\n", c.Algorithm, c.Clusters, c.Noise, c.Silhouette)
	}
	if len(r.Groups) > 0 {
		b.WriteString("\n[GROUPS]\n")
		for _, g := range r.Groups {
			label := fmt.Sprintf("cluster %d", g.Label)
			if g.Label == cluster.Noise {
				label = "noise"
			}
			fmt.Fprintf(b, "- %s (n=%d)", label, g.Size)
			keys := make([]string, 0, len(g.Means))
			for k := range g.Means {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for i, k := range keys[:min(6, len(keys))] {
				sep := ", "
				if i == 0 {
					sep = ": "
				}
				fmt.Fprintf(b, "%s%s %.4g", sep, k, g.Means[k])
			}
			b.WriteString("\n")
		}
	}
	if r.Projection != nil {
		b.WriteString("\n[PROJECTION]\n")
		for i, v := range r.Projection.ExplainedVariance {
			fmt.Fprintf(b, "- PC%d explains %.1f%%\n", i+1, 100*v)
		}
	}
	writeNotes(b, r.Warnings)
}

func writeModel(b *strings.Builder, r *predict.Result) {
	b.WriteString("[MODEL]\n")
	fmt.Fprintf(b, "Target: %s (%s)\n", r.Target, r.Task)
	fmt.Fprintf(b, "Rows: %d (train %d, test %d)\n", len(r.Rows), len(r.TrainRows), len(r.TestRows))
	if len(r.Classes) > 0 {
		fmt.Fprintf(b, "Classes: %s\n", strings.Join(r.Classes, ", "))
	}
	writeSucceeded(b, r.Succeeded(), len(r.Candidates), "models")
	if r.Best != "" {
		fmt.Fprintf(b, "Best: %s (score %.3f)\n", r.Best, r.Score)
	}
	b.WriteString("\n[CANDIDATES]\n")
	for _, c := range r.Candidates {
		switch {
		case c.Failed():
			fmt.Fprintf(b, "- %s: failed: %v\n", c.Name, c.Err)
		case c.Regression != nil:
			m := c.Regression
			fmt.Fprintf(b, "- %s: R²=%.3f, RMSE %.4g, MAE %.4g (%s)\n", c.Name, m.R2, m.RMSE, m.MAE, c.FitTime.Round(time.Millisecond))
		case c.Classification != nil:
			m := c.Classification
			fmt.Fprintf(b, "- %s: accuracy %.3f, CV %.3f ± %.3f over %d folds (%s)\n", c.Name, m.Accuracy, m.CVMean, m.CVStd, m.Folds, c.FitTime.Round(time.Millisecond))
		}
	}
	if len(r.Importances) > 0 {
		b.WriteString("\n[FEATURE IMPORTANCE]\n")
		for _, w := range r.Importances[:min(10, len(r.Importances))] {
			fmt.Fprintf(b, "- %s: %.3f\n", w.Name, w.Weight)
		}
	}
	writeNotes(b, r.Warnings)
}

func writePrediction(b *strings.Builder, p *predict.Prediction) {
	b.WriteString("\n[PREDICTION]\n")
	keys := make([]string, 0, len(p.Input))
	for k := range p.Input {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "- %s = %s\n", k, p.Input[k])
	}
	if p.Class != "" {
		fmt.Fprintf(b, "Predicted by %s: %s\n", p.Model, p.Class)
		return
	}
	fmt.Fprintf(b, "Predicted by %s: %.4g\n", p.Model, p.Value)
}

func writeAnomaly(b *strings.Builder, r *anomaly.Result) {
	b.WriteString("[ANOMALIES]\n")
	fmt.Fprintf(b, "Rows: %d\nFeatures: %s\nContamination: %.3g\n", len(r.Rows), strings.Join(r.Features, ", "), r.Contamination)
	writeSucceeded(b, r.Succeeded(), len(r.Methods), "methods")
	if r.Default != "" {
		fmt.Fprintf(b, "Default: %s\n", r.Default)
	}
	b.WriteString("\n[METHODS]\n")
	for _, m := range r.Methods {
		if m.Failed() {
			fmt.Fprintf(b, "- %s: failed: %v\n", m.Name, m.Err)
			continue
		}
		fmt.Fprintf(b, "- %s: %d outliers (%.1f%%)", m.Name, m.Count, m.Percent)
		if idx := r.Outliers(m.Name); len(idx) > 0 {
			shown := make([]string, 0, 10)
			for _, i := range idx[:min(10, len(idx))] {
				shown = append(shown, fmt.Sprint(i))
			}
			fmt.Fprintf(b, ": rows %s", strings.Join(shown, ", "))
			if len(idx) > len(shown) {
				b.WriteString(", ...")
			}
		}
		b.WriteString("\n")
	}
}

func writeTemporal(b *strings.Builder, r *temporal.Result) {
	b.WriteString("[TIME SERIES]\n")
	fmt.Fprintf(b, "Timestamp: %s\nValue: %s\nFrequency: %s\n", r.Timestamp, r.Value, r.Frequency)
	fmt.Fprintf(b, "Observations: %d\nBuckets: %d\n", r.Observations, len(r.Series))
	if len(r.Series) > 0 {
		fmt.Fprintf(b, "Span: %s to %s\n", r.Series[0].Time.Format("2006-01-02"), r.Series[len(r.Series)-1].Time.Format("2006-01-02"))
	}
	if d := r.Decomposition; d != nil {
		b.WriteString("\n[DECOMPOSITION]\n")
		fmt.Fprintf(b, "Period: %d\n", d.Period)
		amp := 0.0
		for _, v := range d.Seasonal {
			if !math.IsNaN(v) {
				amp = math.Max(amp, math.Abs(v))
			}
		}
		fmt.Fprintf(b, "Seasonal amplitude: %.4g\n", amp)
	}
	if t := r.Trend; t != nil {
		fmt.Fprintf(b, "Trend: %s (%.4g per %s)\n", t.Direction, t.Slope, r.Frequency.Unit())
	}
	b.WriteString("\n[FORECAST]\n")
	if f := r.Forecast; f != nil {
		keys := make([]string, 0, len(f.Params))
		for k := range f.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		params := make([]string, len(keys))
		for i, k := range keys {
			params[i] = fmt.Sprintf("%s=%.2g", k, f.Params[k])
		}
		fmt.Fprintf(b, "Model: %s (%s)\n", f.Model, strings.Join(params, ", "))
		for _, pt := range f.Points {
			fmt.Fprintf(b, "- %s: %.4g\n", pt.Time.Format("2006-01-02"), pt.Value)
		}
	} else {
		b.WriteString("this forecast is unavailable\n")
	}
	writeNotes(b, r.Warnings)
}

func writeSucceeded(b *strings.Builder, ok, total int, noun string) {
	fmt.Fprintf(b, "%d of %d %s succeeded\n", ok, total, noun)
}

func writeNotes(b *strings.Builder, notes []string) {
	if len(notes) == 0 {
		return
	}
	b.WriteString("\n[NOTES]\n")
	for _, w := range notes {
		b.WriteString("- ")
		b.WriteString(w)
		b.WriteString("\n")
	}
}

func writeRow(b *strings.Builder, cells []string) {
	b.WriteString("| ")
	b.WriteString(strings.Join(cells, " | "))
	b.WriteString(" |\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
