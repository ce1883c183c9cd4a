package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/wudi/splitpdf/split"
)

const (
	exitInvalidInput  = 1
	exitInvalidOutput = 2
	exitFailure       = 255
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCommand(stdout, stderr)
	cmd.SetArgs(normalizeArgs(args))
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "splitpdf: %v\n", err)
		return exitCode(err)
	}
	return 0
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, split.ErrInvalidInput):
		return exitInvalidInput
	case errors.Is(err, split.ErrInvalidOutput):
		return exitInvalidOutput
	default:
		return exitFailure
	}
}

// normalizeArgs accepts the single-dash "-order" spelling of older releases.
func normalizeArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i, a := range args {
		if a == "--" {
			return append(out, args[i:]...)
		}
		if a == "-order" || strings.HasPrefix(a, "-order=") {
			a = "-" + a
		}
		out = append(out, a)
	}
	return out
}
