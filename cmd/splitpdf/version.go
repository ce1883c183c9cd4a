package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var version = "dev"

func newVersionCommand(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the splitpdf version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(stdout, "splitpdf %s\n", version)
		},
	}
}
