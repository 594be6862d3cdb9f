package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/KaramelBytes/shelter-analytics/internal/analysis"
	"github.com/KaramelBytes/shelter-analytics/internal/dataset"
	"github.com/KaramelBytes/shelter-analytics/internal/utils"
)

// loadFlags are the dataset parsing flags shared by every analysis command.
type loadFlags struct {
	delimiter string
	decimal   string
	thousands string
	sheet     string
	maxRows   int
	maxCats   int
}

func (l *loadFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&l.delimiter, "delimiter", "", "CSV delimiter: ',' | ';' | 'tab'")
	cmd.Flags().StringVar(&l.decimal, "decimal", "", "decimal separator for numbers: '.'|'comma' (auto-detect if omitted)")
	cmd.Flags().StringVar(&l.thousands, "thousands", "", "thousands separator for numbers: ','|'.'|'space' (auto-detect if omitted)")
	cmd.Flags().StringVar(&l.sheet, "sheet-name", "", "XLSX: sheet name to analyze (default first sheet)")
	cmd.Flags().IntVar(&l.maxRows, "max-rows", 0, "maximum rows to load (0 = config max_rows, unlimited if unset)")
	cmd.Flags().IntVar(&l.maxCats, "max-categories", 30, "distinct values above which a text column is free text")
}

func (l *loadFlags) options() (dataset.LoadOptions, error) {
	opt := dataset.LoadOptions{ParseOptions: dataset.DefaultParseOptions(), Sheet: l.sheet}
	if l.maxCats > 0 {
		opt.MaxCategories = l.maxCats
	}
	opt.MaxRows = l.maxRows
	if opt.MaxRows == 0 && cfg != nil {
		opt.MaxRows = cfg.MaxRows
	}
	switch l.delimiter {
	case "":
	case ",":
		opt.Delimiter = ','
	case "\t", "tab":
		opt.Delimiter = '\t'
	case ";":
		opt.Delimiter = ';'
	default:
		return opt, fmt.Errorf("unsupported --delimiter: %s", l.delimiter)
	}
	switch strings.ToLower(strings.TrimSpace(l.decimal)) {
	case ",", "comma":
		opt.DecimalSeparator = ','
	case ".", "dot":
		opt.DecimalSeparator = '.'
	case "":
	default:
		return opt, fmt.Errorf("unsupported --decimal: %s (use '.'|'comma')", l.decimal)
	}
	switch strings.ToLower(strings.TrimSpace(l.thousands)) {
	case ",":
		opt.ThousandsSeparator = ','
	case ".":
		opt.ThousandsSeparator = '.'
	case "space", " ":
		opt.ThousandsSeparator = ' '
	case "":
	default:
		return opt, fmt.Errorf("unsupported --thousands: %s (use ','|'.'|'space')", l.thousands)
	}
	return opt, nil
}

func (l *loadFlags) load(path string) (*dataset.Collection, error) {
	opt, err := l.options()
	if err != nil {
		return nil, err
	}
	return dataset.Load(path, opt)
}

// outputFlags select the rendering and destination of a result.
type outputFlags struct {
	json   bool
	output string
	quiet  bool
}

func (o *outputFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.json, "json", false, "print the result as JSON instead of Markdown")
	cmd.Flags().StringVarP(&o.output, "output", "o", "", "optional path to write the result")
}

func render(res *analysis.Result, asJSON bool) ([]byte, error) {
	if asJSON {
		return utils.PrettyJSON(res)
	}
	return []byte(res.Markdown()), nil
}

func (o *outputFlags) write(cmd *cobra.Command, res *analysis.Result) error {
	b, err := render(res, o.json)
	if err != nil {
		return err
	}
	if o.output != "" {
		if err := utils.SafeWriteFile(o.output, b); err != nil {
			return err
		}
		if o.quiet {
			return nil
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "✓ Wrote %s analysis to %s\n", res.Kind, o.output)
		return nil
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}

// interactive reports whether stderr is a terminal, so progress bars do not
// pollute redirected output.
func interactive(cmd *cobra.Command) bool {
	if f, ok := cmd.ErrOrStderr().(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}

// analyzer builds an Analyzer from the loaded configuration and logger.
func analyzer() *analysis.Analyzer {
	return analysis.New(cfg, logger)
}

// runRequest loads path, runs req and writes the result. Whole-analysis
// failures are reported as unavailable.
func runRequest(cmd *cobra.Command, a *analysis.Analyzer, path string, req analysis.Request, lf *loadFlags, of *outputFlags) error {
	coll, err := lf.load(path)
	if err != nil && !errors.Is(err, dataset.ErrEmptyCollection) {
		return err
	}
	if coll == nil {
		coll = &dataset.Collection{Schema: &dataset.Schema{}}
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := a.Run(ctx, coll, req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return errors.New(analysis.Unavailable(req.Kind, err))
	}
	return of.write(cmd, res)
}
