package imposition

import (
	"fmt"
	"strings"
)

// Order selects how the two halves of every input page are sequenced.
type Order int

const (
	// Natural keeps each page's halves adjacent.
	Natural Order = iota
	// Booklet interleaves front and back halves so folded printed sheets
	// read in order.
	Booklet
)

func (o Order) String() string {
	switch o {
	case Natural:
		return "natural"
	case Booklet:
		return "booklet"
	default:
		return fmt.Sprintf("Order(%d)", int(o))
	}
}

// ParseOrder accepts "natural" or "booklet" in any case.
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "natural":
		return Natural, nil
	case "booklet":
		return Booklet, nil
	}
	return Natural, fmt.Errorf("unknown page order %q (want natural or booklet)", s)
}

func (o Order) MarshalText() ([]byte, error) {
	if o != Natural && o != Booklet {
		return nil, fmt.Errorf("invalid page order %d", int(o))
	}
	return []byte(o.String()), nil
}

func (o *Order) UnmarshalText(b []byte) error {
	v, err := ParseOrder(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}

// Set and Type let an *Order serve directly as a command-line flag value.
func (o *Order) Set(s string) error { return o.UnmarshalText([]byte(s)) }

func (o *Order) Type() string { return "order" }
