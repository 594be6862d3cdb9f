package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/KaramelBytes/shelter-analytics/internal/analysis"
	"github.com/KaramelBytes/shelter-analytics/internal/utils"
)

var (
	bKind          string
	bOutDir        string
	bJSON          bool
	bQuiet         bool
	bKeepGoing     bool
	bGroupBy       []string
	bSampleRows    int
	bZThreshold    float64
	bIQRFactor     float64
	bAlgorithm     string
	bK             int
	bTarget        string
	bContamination float64
	bFeatures      []string
	bTimestamp     string
	bValue         string
	bFrequency     string
	bHorizon       int
	bLoad          loadFlags
)

var batchCmd = &cobra.Command{
	Use:   "batch <files...>",
	Short: "Run one analysis over many CSV/TSV/XLSX files and write a report per file",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files := expandInputs(args)
		if len(files) == 0 {
			return fmt.Errorf("no input files matched")
		}
		kind, err := analysis.ParseKind(bKind)
		if err != nil {
			return err
		}
		req := analysis.Request{
			Kind:          kind,
			GroupBy:       bGroupBy,
			SampleRows:    sampleRows(bSampleRows),
			ZThreshold:    bZThreshold,
			IQRFactor:     bIQRFactor,
			Algorithm:     bAlgorithm,
			K:             bK,
			Target:        bTarget,
			Contamination: bContamination,
			Features:      bFeatures,
			Timestamp:     bTimestamp,
			Value:         bValue,
			Frequency:     bFrequency,
			Horizon:       bHorizon,
		}
		if err := req.Validate(); err != nil {
			return err
		}
		if err := os.MkdirAll(bOutDir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
		ext := ".md"
		if bJSON {
			ext = ".json"
		}

		var bar *progressbar.ProgressBar
		if !bQuiet && interactive(cmd) {
			bar = progressbar.NewOptions(len(files),
				progressbar.OptionSetDescription(fmt.Sprintf("%s analysis", kind)),
				progressbar.OptionSetWidth(30),
				progressbar.OptionShowCount(),
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionOnCompletion(func() {
					fmt.Fprintln(cmd.ErrOrStderr())
				}),
			)
		}
		a := analyzer()
		var failed []string
		for _, path := range files {
			of := &outputFlags{json: bJSON, quiet: bQuiet, output: uniqueOutput(bOutDir, path, string(kind), ext)}
			if err := runRequest(cmd, a, path, req, &bLoad, of); err != nil {
				if !bKeepGoing {
					return fmt.Errorf("%s: %w", filepath.Base(path), err)
				}
				failed = append(failed, fmt.Sprintf("%s: %v", filepath.Base(path), err))
			}
			if bar != nil {
				_ = bar.Add(1)
			}
		}
		if len(failed) > 0 {
			return fmt.Errorf("%d of %d files failed:\n  %s", len(failed), len(files), strings.Join(failed, "\n  "))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(batchCmd)
	f := batchCmd.Flags()
	f.StringVar(&bKind, "kind", "profile", "profile | cluster | model | anomaly | temporal")
	f.StringVar(&bOutDir, "out-dir", "reports", "directory for the per-file reports")
	f.BoolVar(&bJSON, "json", false, "write JSON reports instead of Markdown")
	f.BoolVar(&bQuiet, "quiet", false, "suppress progress and non-essential output")
	f.BoolVar(&bKeepGoing, "keep-going", false, "continue with the remaining files after a failure")
	f.StringSliceVar(&bGroupBy, "group-by", nil, "profile: categorical columns to group by")
	f.IntVar(&bSampleRows, "sample-rows", 5, "profile: head and sample rows per report (0 to disable)")
	f.Float64Var(&bZThreshold, "z-threshold", 3, "profile: |z| above which a value counts as a z-score outlier, in [1.5, 5]")
	f.Float64Var(&bIQRFactor, "iqr-factor", 1.5, "profile: IQR multiplier for the outlier fence, in [1, 3]")
	f.StringVar(&bAlgorithm, "algorithm", "all", "cluster: kmeans | hierarchical | dbscan | all")
	f.IntVar(&bK, "k", 0, "cluster: number of groups")
	f.StringVar(&bTarget, "target", "", "model: column to predict")
	f.Float64Var(&bContamination, "contamination", 0, "anomaly: expected outlier share in (0, 0.5]")
	f.StringSliceVar(&bFeatures, "features", nil, "cluster, model, anomaly: columns to use")
	f.StringVar(&bTimestamp, "timestamp", "", "temporal: timestamp column")
	f.StringVar(&bValue, "value", "", "temporal: numeric column to aggregate")
	f.StringVar(&bFrequency, "frequency", "", "temporal: D | W | M | Q | Y")
	f.IntVar(&bHorizon, "horizon", 0, "temporal: forecast steps")
	bLoad.register(batchCmd)
}

// expandInputs resolves globs (including ** across directories), keeps literal
// paths that exist, and returns a sorted list without duplicates.
func expandInputs(args []string) []string {
	var files []string
	seen := map[string]struct{}{}
	for _, arg := range args {
		matches, _ := doublestar.FilepathGlob(arg)
		if len(matches) == 0 {
			if _, err := os.Stat(arg); err == nil {
				matches = []string{arg}
			}
		}
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			files = append(files, m)
		}
	}
	sort.Strings(files)
	return files
}

// uniqueOutput names the report for path inside dir, adding a numeric suffix
// when a report with the same name already exists.
func uniqueOutput(dir, path, kind, ext string) string {
	base := filepath.Base(path)
	safe := strings.TrimSuffix(base, filepath.Ext(base))
	out := filepath.Join(dir, safe+"."+kind+ext)
	if !utils.Exists(out) {
		return out
	}
	for idx := 2; ; idx++ {
		cand := filepath.Join(dir, fmt.Sprintf("%s__%d.%s%s", safe, idx, kind, ext))
		if !utils.Exists(cand) {
			return cand
		}
	}
}
