package imposition

import "github.com/wudi/splitpdf/geo"

// Placement is where a source page lands on one output page: the output
// media box and the translation applied before the source is drawn.
type Placement struct {
	Box         geo.Rect
	Translation geo.Point
}

// Place halves media along its longer side; a square page is split across
// its height. The first half keeps the source origin, the second half is
// shifted so the far half of the source lands on the output page.
func Place(media geo.Rect, first bool) Placement {
	w, h := media.Width, media.Height
	box := geo.Rect{Width: w, Height: h / 2}
	if media.Landscape() {
		box = geo.Rect{Width: w / 2, Height: h}
	}
	t := geo.Point{X: media.X, Y: media.Y}
	if !first {
		t = geo.Point{
			X: media.X - (w - box.Width),
			Y: media.Y - (h - box.Height),
		}
	}
	return Placement{Box: box, Translation: t}
}

// Matrix maps source space onto the output page.
func (p Placement) Matrix() geo.Matrix {
	return geo.Translate(p.Translation.X, p.Translation.Y)
}

// Visible is the region of source space shown on the output page: the
// output box mapped back through the inverse of Matrix.
func (p Placement) Visible() geo.Rect {
	inv, err := p.Matrix().Inverse()
	if err != nil {
		return geo.Rect{}
	}
	ll := inv.Transform(p.Box.Origin())
	ur := inv.Transform(geo.Point{X: p.Box.X + p.Box.Width, Y: p.Box.Y + p.Box.Height})
	return geo.FromCorners(ll.X, ll.Y, ur.X, ur.Y)
}

// Merge joins the regions shown by two halves of the same source page.
func Merge(a, b Placement) geo.Rect {
	return a.Visible().Union(b.Visible())
}
