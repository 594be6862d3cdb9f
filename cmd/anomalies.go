package cmd

import (
	"github.com/spf13/cobra"

	"github.com/KaramelBytes/shelter-analytics/internal/analysis"
)

var (
	anContamination float64
	anFeatures      []string
	anLoad          loadFlags
	anOut           outputFlags
)

var anomaliesCmd = &cobra.Command{
	Use:   "anomalies <file>",
	Short: "Flag unusual records with isolation forest, elliptic envelope and local outlier factor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := analysis.Request{Kind: analysis.KindAnomaly, Contamination: anContamination, Features: anFeatures}
		return runRequest(cmd, analyzer(), args[0], req, &anLoad, &anOut)
	},
}

func init() {
	rootCmd.AddCommand(anomaliesCmd)
	anomaliesCmd.Flags().Float64VarP(&anContamination, "contamination", "c", 0, "expected outlier share in (0, 0.5] (0 = config contamination)")
	anomaliesCmd.Flags().StringSliceVarP(&anFeatures, "features", "f", nil, "comma-separated columns to score (default numeric and boolean columns)")
	anLoad.register(anomaliesCmd)
	anOut.register(anomaliesCmd)
}
