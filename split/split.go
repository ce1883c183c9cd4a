// Package split turns every page of a PDF into two half-size pages.
package split

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/wudi/splitpdf/imposition"
	"github.com/wudi/splitpdf/observability"
	"github.com/wudi/splitpdf/parser"
	"github.com/wudi/splitpdf/recovery"
	"github.com/wudi/splitpdf/security"
	"github.com/wudi/splitpdf/writer"
)

var (
	// ErrInvalidInput reports an input that cannot be opened or read as a PDF.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidOutput reports an output that cannot be created or written.
	ErrInvalidOutput = errors.New("invalid output")
)

const DefaultSuffix = "-split"

type Options struct {
	Order imposition.Order
	// Suffix is appended to the input base name when no output path is
	// given. Empty means DefaultSuffix.
	Suffix string
	Writer writer.Config
	Limits security.Limits
	// Strict fails the open on a damaged page tree entry instead of
	// skipping its output pages.
	Strict bool
	Logger observability.Logger
}

type Result struct {
	imposition.Stats
	Output string
}

func (o Options) logger() observability.Logger {
	if o.Logger == nil {
		return observability.NopLogger{}
	}
	return o.Logger
}

// DefaultOutputPath places the output next to input, named after its base
// name without extension plus suffix and ".pdf".
func DefaultOutputPath(input, suffix string) string {
	if suffix == "" {
		suffix = DefaultSuffix
	}
	base := filepath.Base(input)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(input), base+suffix+".pdf")
}

// File splits the document at input into output. An empty output selects
// DefaultOutputPath. The output file is removed if the run fails.
func File(ctx context.Context, input, output string, opts Options) (res Result, err error) {
	if output == "" {
		output = DefaultOutputPath(input, opts.Suffix)
	}
	res.Output = output
	log := opts.logger().With(observability.String("input", input), observability.String("output", output))

	in, err := os.Open(input)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	doc, err := Open(ctx, in, opts)
	in.Close()
	if err != nil {
		return res, err
	}
	defer doc.Close()

	out, err := os.Create(output)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrInvalidOutput, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: %w", ErrInvalidOutput, cerr)
		}
		if err != nil {
			if rerr := os.Remove(output); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
				log.Warn("removing partial output failed", observability.Error("error", rerr))
			}
		}
	}()

	bw := bufio.NewWriter(out)
	res.Stats, err = Run(ctx, doc, bw, opts)
	if err != nil {
		return res, err
	}
	if err := bw.Flush(); err != nil {
		return res, fmt.Errorf("%w: %w", ErrInvalidOutput, err)
	}
	log.Info("split complete",
		observability.Int("input_pages", res.InputPages),
		observability.Int("output_pages", res.OutputPages),
		observability.Int("skipped", res.Skipped))
	return res, nil
}

// Stream splits the document read from r into w.
func Stream(ctx context.Context, r io.ReaderAt, w io.Writer, opts Options) (imposition.Stats, error) {
	doc, err := Open(ctx, r, opts)
	if err != nil {
		return imposition.Stats{}, err
	}
	defer doc.Close()
	return Run(ctx, doc, w, opts)
}

// Open parses r with opts' limits, tagging failures as invalid input.
func Open(ctx context.Context, r io.ReaderAt, opts Options) (*parser.Document, error) {
	p := parser.NewDocumentParser(parser.Config{
		Limits:   opts.Limits,
		Logger:   opts.logger(),
		Recovery: recovery.New(opts.Strict),
	})
	doc, err := p.Parse(ctx, r)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return doc, nil
}

// Run composites doc into w. The writer is closed on every path.
func Run(ctx context.Context, doc *parser.Document, w io.Writer, opts Options) (stats imposition.Stats, err error) {
	log := opts.logger()
	cfg := opts.Writer
	if cfg.Info == (parser.Info{}) {
		cfg.Info = doc.Info()
	}
	if cfg.Logger == nil {
		cfg.Logger = log
	}

	wr, err := writer.Create(ctx, w, cfg)
	if err != nil {
		return stats, fmt.Errorf("%w: %w", ErrInvalidOutput, err)
	}
	defer func() {
		if cerr := wr.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: %w", ErrInvalidOutput, cerr)
		}
	}()

	log.Debug("compositing",
		observability.Int("pages", doc.NumPages()),
		observability.String("order", opts.Order.String()))
	stats, err = imposition.Composite[*parser.Page](ctx, doc, wr, opts.Order, log)
	if err != nil {
		return stats, classify(err)
	}
	return stats, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, writer.ErrSource):
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	default:
		return fmt.Errorf("%w: %w", ErrInvalidOutput, err)
	}
}
