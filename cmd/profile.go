package cmd

import (
	"github.com/spf13/cobra"

	"github.com/KaramelBytes/shelter-analytics/internal/analysis"
)

var (
	profGroupBy    []string
	profSampleRows int
	profZThreshold float64
	profIQRFactor  float64
	profLoad       loadFlags
	profOut        outputFlags
)

var profileCmd = &cobra.Command{
	Use:   "profile <file>",
	Short: "Summarize a CSV/TSV/XLSX: column kinds, statistics, outliers and correlations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := analysis.Request{
			Kind:       analysis.KindProfile,
			GroupBy:    profGroupBy,
			SampleRows: sampleRows(profSampleRows),
			ZThreshold: profZThreshold,
			IQRFactor:  profIQRFactor,
		}
		return runRequest(cmd, analyzer(), args[0], req, &profLoad, &profOut)
	},
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.Flags().StringSliceVar(&profGroupBy, "group-by", nil, "comma-separated categorical columns to group by (repeatable)")
	profileCmd.Flags().IntVar(&profSampleRows, "sample-rows", 5, "number of head and sample rows to include (0 to disable)")
	profileCmd.Flags().Float64Var(&profZThreshold, "z-threshold", 3, "|z| above which a numeric value counts as a z-score outlier, in [1.5, 5]")
	profileCmd.Flags().Float64Var(&profIQRFactor, "iqr-factor", 1.5, "IQR multiplier for the outlier fence, in [1, 3]")
	profLoad.register(profileCmd)
	profOut.register(profileCmd)
}

// sampleRows maps the --sample-rows flag onto Request.SampleRows, where zero
// means the default.
func sampleRows(n int) int {
	if n <= 0 {
		return -1
	}
	return n
}
