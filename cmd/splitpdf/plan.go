package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wudi/splitpdf/imposition"
	"github.com/wudi/splitpdf/parser"
	"github.com/wudi/splitpdf/split"
)

func newPlanCommand(flags *globalFlags, stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "plan <input>",
		Short: "print the page assignment without writing output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.load(cmd, stderr)
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("%w: %w", split.ErrInvalidInput, err)
			}
			defer f.Close()
			doc, err := split.Open(cmd.Context(), f, cfg.SplitOptions(logger))
			if err != nil {
				return err
			}
			defer doc.Close()
			return printPlan(stdout, imposition.Steps[*parser.Page](doc, cfg.Order))
		},
	}
}

func printPlan(w io.Writer, steps []imposition.Step) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OUTPUT\tINPUT\tHALF\tBOX\tTRANSLATE")
	for _, st := range steps {
		half := "second"
		if st.Assignment.First {
			half = "first"
		}
		if st.Err != nil {
			fmt.Fprintf(tw, "%d\t%d\t%s\tskipped: %v\t\n", st.Output+1, st.Assignment.Input+1, half, st.Err)
			continue
		}
		t := st.Placement.Translation
		fmt.Fprintf(tw, "%d\t%d\t%s\t%gx%g\t%g,%g\n", st.Output+1, st.Assignment.Input+1, half,
			st.Placement.Box.Width, st.Placement.Box.Height, t.X, t.Y)
	}
	return tw.Flush()
}
