package geo

import (
	"errors"
	"fmt"
	"math"
)

// Point is a position or displacement in page space.
type Point struct{ X, Y float64 }

// Rect is a rectangle in page space given by its lower-left origin and size.
type Rect struct {
	X, Y          float64
	Width, Height float64
}

// FromCorners builds a Rect from two opposite corners in any order,
// as found in PDF rectangle arrays.
func FromCorners(x1, y1, x2, y2 float64) Rect {
	return Rect{
		X:      math.Min(x1, x2),
		Y:      math.Min(y1, y2),
		Width:  math.Abs(x2 - x1),
		Height: math.Abs(y2 - y1),
	}
}

// Corners returns [llx lly urx ury].
func (r Rect) Corners() [4]float64 {
	return [4]float64{r.X, r.Y, r.X + r.Width, r.Y + r.Height}
}

func (r Rect) Origin() Point { return Point{X: r.X, Y: r.Y} }

// Landscape reports whether the rectangle is strictly wider than tall.
func (r Rect) Landscape() bool { return r.Width > r.Height }

// Union returns the smallest rectangle containing r and o.
func (r Rect) Union(o Rect) Rect {
	llx := math.Min(r.X, o.X)
	lly := math.Min(r.Y, o.Y)
	urx := math.Max(r.X+r.Width, o.X+o.Width)
	ury := math.Max(r.Y+r.Height, o.Y+o.Height)
	return Rect{X: llx, Y: lly, Width: urx - llx, Height: ury - lly}
}

func (r Rect) String() string {
	return fmt.Sprintf("(%g,%g %gx%g)", r.X, r.Y, r.Width, r.Height)
}

// Matrix is a PDF transformation matrix [a b c d e f].
type Matrix [6]float64

func Identity() Matrix { return Matrix{1, 0, 0, 1, 0, 0} }

func Translate(tx, ty float64) Matrix { return Matrix{1, 0, 0, 1, tx, ty} }

// Multiply returns m followed by o.
func (m Matrix) Multiply(o Matrix) Matrix {
	return Matrix{
		m[0]*o[0] + m[1]*o[2],
		m[0]*o[1] + m[1]*o[3],
		m[2]*o[0] + m[3]*o[2],
		m[2]*o[1] + m[3]*o[3],
		m[4]*o[0] + m[5]*o[2] + o[4],
		m[4]*o[1] + m[5]*o[3] + o[5],
	}
}

func (m Matrix) Transform(p Point) Point {
	return Point{X: m[0]*p.X + m[2]*p.Y + m[4], Y: m[1]*p.X + m[3]*p.Y + m[5]}
}

// Inverse fails for singular matrices.
func (m Matrix) Inverse() (Matrix, error) {
	det := m[0]*m[3] - m[1]*m[2]
	if math.Abs(det) < 1e-10 {
		return Matrix{}, errors.New("matrix singular")
	}
	return Matrix{
		m[3] / det,
		-m[1] / det,
		-m[2] / det,
		m[0] / det,
		(m[2]*m[5] - m[3]*m[4]) / det,
		(m[1]*m[4] - m[0]*m[5]) / det,
	}, nil
}
