package geo

import "testing"

func TestFromCornersNormalizes(t *testing.T) {
	tests := []struct {
		name           string
		x1, y1, x2, y2 float64
		want           Rect
	}{
		{"ordered", 0, 0, 612, 792, Rect{0, 0, 612, 792}},
		{"swapped", 612, 792, 0, 0, Rect{0, 0, 612, 792}},
		{"offset", 10, 20, 210, 120, Rect{10, 20, 200, 100}},
		{"mixed", 210, 20, 10, 120, Rect{10, 20, 200, 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromCorners(tt.x1, tt.y1, tt.x2, tt.y2); got != tt.want {
				t.Fatalf("FromCorners = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRectUnion(t *testing.T) {
	a := Rect{0, 0, 100, 100}
	b := Rect{100, 0, 100, 100}
	if got := a.Union(b); got != (Rect{0, 0, 200, 100}) {
		t.Fatalf("union = %v", got)
	}
	if got := a.Origin(); got != (Point{}) {
		t.Fatalf("origin = %v", got)
	}
	if !(Rect{0, 0, 2, 1}).Landscape() || (Rect{0, 0, 1, 1}).Landscape() {
		t.Fatalf("landscape must be strict")
	}
}

func TestMatrixInverseRoundTrip(t *testing.T) {
	m := Translate(-90, 20).Multiply(Matrix{2, 0, 0, 2, 0, 0})
	inv, err := m.Inverse()
	if err != nil {
		t.Fatalf("inverse: %v", err)
	}
	p := Point{13, 17}
	if got := inv.Transform(m.Transform(p)); got != p {
		t.Fatalf("round trip = %v, want %v", got, p)
	}
	if _, err := (Matrix{}).Inverse(); err == nil {
		t.Fatalf("expected singular matrix error")
	}
}
