package imposition

import (
	"context"
	"fmt"

	"github.com/wudi/splitpdf/geo"
	"github.com/wudi/splitpdf/observability"
)

// Page is the view of a source page the compositor needs.
type Page interface {
	MediaBox() geo.Rect
}

// Source is a read-only, indexable document.
type Source[P Page] interface {
	NumPages() int
	Page(i int) (P, error)
}

// Canvas receives output pages. Every BeginPage is followed by exactly one
// EndPage.
type Canvas[P Page] interface {
	BeginPage(box geo.Rect) error
	Transform(m geo.Matrix) error
	DrawPage(page P) error
	EndPage() error
}

type Stats struct {
	InputPages  int
	OutputPages int
	Skipped     int
}

// Composite writes 2*N output pages to dst in the given order. An input
// page that cannot be fetched skips its output page; the output index
// still advances. ctx is checked between output pages.
func Composite[P Page](ctx context.Context, src Source[P], dst Canvas[P], order Order, logger observability.Logger) (Stats, error) {
	if logger == nil {
		logger = observability.NopLogger{}
	}
	n := src.NumPages()
	stats := Stats{InputPages: n}
	for out := 0; out < 2*n; out++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		a := Resolve(out, n, order)
		page, err := src.Page(a.Input)
		if err != nil {
			logger.Warn("skipping output page",
				observability.Int("output", out),
				observability.Int("input", a.Input),
				observability.Error("error", err))
			stats.Skipped++
			continue
		}
		pl := Place(page.MediaBox(), a.First)
		if err := drawOne(dst, page, pl); err != nil {
			return stats, fmt.Errorf("output page %d: %w", out, err)
		}
		stats.OutputPages++
		logger.Debug("output page written",
			observability.Int("output", out),
			observability.Int("input", a.Input),
			observability.Bool("first", a.First))
	}
	return stats, nil
}

func drawOne[P Page](dst Canvas[P], page P, pl Placement) (err error) {
	if err := dst.BeginPage(pl.Box); err != nil {
		return err
	}
	defer func() {
		if endErr := dst.EndPage(); err == nil {
			err = endErr
		}
	}()
	if err := dst.Transform(pl.Matrix()); err != nil {
		return err
	}
	return dst.DrawPage(page)
}

// Step describes one output page without drawing it.
type Step struct {
	Output     int
	Assignment Assignment
	Placement  Placement
	Err        error
}

// Steps lays out every output page of src; Err is set on steps whose input
// page cannot be fetched.
func Steps[P Page](src Source[P], order Order) []Step {
	n := src.NumPages()
	steps := make([]Step, 0, 2*n)
	for out := 0; out < 2*n; out++ {
		a := Resolve(out, n, order)
		st := Step{Output: out, Assignment: a}
		page, err := src.Page(a.Input)
		if err != nil {
			st.Err = err
		} else {
			st.Placement = Place(page.MediaBox(), a.First)
		}
		steps = append(steps, st)
	}
	return steps
}
