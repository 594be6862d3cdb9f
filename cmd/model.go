package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/KaramelBytes/shelter-analytics/internal/analysis"
)

var (
	mdTarget     string
	mdFeatures   []string
	mdNoProgress bool
	mdPredict    []string
	mdLoad       loadFlags
	mdOut        outputFlags
)

var modelCmd = &cobra.Command{
	Use:   "model <file>",
	Short: "Train and rank predictive models for a target column",
	Long: `Train every candidate model for the target and rank them on held-out data.
Numeric targets with many distinct values are treated as regression (ranked by R²);
anything else is classification (ranked by accuracy, with cross-validation).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := analyzer()
		if !mdNoProgress && interactive(cmd) {
			bar := newCandidateBar(cmd.ErrOrStderr())
			a = a.WithProgress(bar.update)
			defer bar.finish()
		}
		input, err := parseInputs(mdPredict)
		if err != nil {
			return err
		}
		req := analysis.Request{Kind: analysis.KindModel, Target: mdTarget, Features: mdFeatures, Predict: input}
		return runRequest(cmd, a, args[0], req, &mdLoad, &mdOut)
	},
}

func init() {
	rootCmd.AddCommand(modelCmd)
	modelCmd.Flags().StringVarP(&mdTarget, "target", "t", "", "column to predict")
	modelCmd.Flags().StringSliceVarP(&mdFeatures, "features", "f", nil, "comma-separated predictor columns (default all eligible)")
	modelCmd.Flags().StringSliceVar(&mdPredict, "predict", nil, "predict the target for input values with the best model, e.g. age=3,weight=12")
	modelCmd.Flags().BoolVar(&mdNoProgress, "no-progress", false, "disable the progress bar")
	_ = modelCmd.MarkFlagRequired("target")
	mdLoad.register(modelCmd)
	mdOut.register(modelCmd)
}

// parseInputs reads name=value pairs into a map.
func parseInputs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		name, val, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --predict value %q (use name=value)", p)
		}
		out[name] = strings.TrimSpace(val)
	}
	return out, nil
}

// candidateBar renders model fitting progress. The bar is created on the first
// update, once the battery size is known.
type candidateBar struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

func newCandidateBar(w io.Writer) *candidateBar { return &candidateBar{w: w} }

func (c *candidateBar) update(done, total int) {
	if c.bar == nil {
		c.bar = progressbar.NewOptions(total,
			progressbar.OptionSetDescription("Fitting models"),
			progressbar.OptionSetWidth(30),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWriter(c.w),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprintln(c.w)
			}),
		)
	}
	_ = c.bar.Set(done)
}

func (c *candidateBar) finish() {
	if c.bar != nil {
		_ = c.bar.Finish()
	}
}
