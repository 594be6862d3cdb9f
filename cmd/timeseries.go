package cmd

import (
	"github.com/spf13/cobra"

	"github.com/KaramelBytes/shelter-analytics/internal/analysis"
)

var (
	tsTimestamp string
	tsValue     string
	tsFrequency string
	tsHorizon   int
	tsLoad      loadFlags
	tsOut       outputFlags
)

var timeseriesCmd = &cobra.Command{
	Use:   "timeseries <file>",
	Short: "Resample a timestamped measure, decompose it and forecast ahead",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := analysis.Request{
			Kind:      analysis.KindTemporal,
			Timestamp: tsTimestamp,
			Value:     tsValue,
			Frequency: tsFrequency,
			Horizon:   tsHorizon,
		}
		return runRequest(cmd, analyzer(), args[0], req, &tsLoad, &tsOut)
	},
}

func init() {
	rootCmd.AddCommand(timeseriesCmd)
	timeseriesCmd.Flags().StringVarP(&tsTimestamp, "timestamp", "t", "", "timestamp column")
	timeseriesCmd.Flags().StringVarP(&tsValue, "value", "v", "", "numeric column to aggregate")
	timeseriesCmd.Flags().StringVar(&tsFrequency, "frequency", "", "D | W | M | Q | Y (default config frequency)")
	timeseriesCmd.Flags().IntVar(&tsHorizon, "horizon", 0, "forecast steps (0 = config forecast_horizon)")
	_ = timeseriesCmd.MarkFlagRequired("timestamp")
	_ = timeseriesCmd.MarkFlagRequired("value")
	tsLoad.register(timeseriesCmd)
	tsOut.register(timeseriesCmd)
}
