package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/wudi/splitpdf/config"
	"github.com/wudi/splitpdf/imposition"
	"github.com/wudi/splitpdf/observability"
	"github.com/wudi/splitpdf/split"
)

type globalFlags struct {
	configPath    string
	order         imposition.Order
	logLevel      string
	logFormat     string
	compression   int
	deterministic bool
	strict        bool
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "splitpdf [--order natural|booklet] <input> [output]",
		Short:         "split every page of a PDF into two halves",
		Long:          "splitpdf cuts each page of a PDF in half (left/right for landscape pages, top/bottom otherwise) and writes the halves as separate pages.",
		Args:          cobra.MaximumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Usage()
			}
			cfg, logger, err := flags.load(cmd, stderr)
			if err != nil {
				return err
			}
			output := ""
			if len(args) == 2 {
				output = args[1]
			}
			res, err := split.File(cmd.Context(), args[0], output, cfg.SplitOptions(logger))
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "%s: %d pages written\n", res.Output, res.OutputPages)
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	pf := cmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "YAML configuration file")
	pf.VarP(&flags.order, "order", "o", "page order: natural or booklet")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&flags.logFormat, "log-format", "", "log format (text or json)")
	pf.IntVar(&flags.compression, "compression", 0, "Flate level for rewritten content: 1-9, 0 default, negative stores")
	pf.BoolVar(&flags.deterministic, "deterministic", false, "omit timestamps and derive the file ID from the content")
	pf.BoolVar(&flags.strict, "strict", false, "fail on damaged page tree entries instead of skipping them")

	cmd.AddCommand(newPlanCommand(flags, stdout, stderr))
	cmd.AddCommand(newServeCommand(flags, stderr))
	cmd.AddCommand(newVersionCommand(stdout))
	return cmd
}

// load reads the configuration file and environment, then applies flags
// that were set explicitly.
func (f *globalFlags) load(cmd *cobra.Command, stderr io.Writer) (config.Config, observability.Logger, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return cfg, nil, err
	}
	changed := cmd.Flags().Changed
	if changed("order") {
		cfg.Order = f.order
	}
	if changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	if changed("compression") {
		cfg.Compression = f.compression
	}
	if changed("deterministic") {
		cfg.Deterministic = f.deterministic
	}
	if changed("strict") {
		cfg.Strict = f.strict
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}
	l, err := observability.NewLogger(stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, observability.NewLogrus(l), nil
}
