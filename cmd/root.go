package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	cfgpkg "github.com/KaramelBytes/shelter-analytics/internal/config"
	"github.com/KaramelBytes/shelter-analytics/internal/logging"
)

var (
	cfgFile   string
	debug     bool
	logFormat string

	// Loaded configuration and logger
	cfg    *cfgpkg.Global
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "shelter",
	Short: "Shelter analytics: profile, cluster, model, and forecast animal shelter records",
	Long: `shelter analyzes animal shelter exports (CSV, TSV or XLSX). It profiles the data,
groups similar animals, trains and ranks predictive models, flags unusual records,
and decomposes and forecasts time series.`,
	SilenceUsage: true,
}

// Execute is the entry point called by main.main()
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "✗ Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(loadConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.shelter/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text | json (overrides config)")
}

func loadConfig() {
	c, err := cfgpkg.Load(cfgFile)
	if err != nil {
		// Non-fatal: fall back to built-in defaults
		fmt.Fprintf(os.Stderr, "⚠ Warning: failed to load config: %v\n", err)
		c = cfgpkg.Default()
	}
	cfg = c

	level, format := cfg.LogLevel, cfg.LogFormat
	if debug {
		level = "debug"
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		format = logFormat
	}
	l, err := logging.New(os.Stderr, level, format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠ Warning: %v; using text logs\n", err)
		l, _ = logging.New(os.Stderr, "info", "text")
	}
	logger = l
}
