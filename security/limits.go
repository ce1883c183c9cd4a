package security

import (
	"github.com/wudi/splitpdf/filters"
	"github.com/wudi/splitpdf/scanner"
)

// Limits defines security boundaries for parsing PDFs.
// These limits help prevent resource exhaustion attacks (e.g., zip bombs, stack overflows).
type Limits struct {
	// Maximum decompressed stream size (prevent zip bombs). Default: 100 MB.
	MaxDecompressedSize int64 `yaml:"max_decompressed_size"`

	// Maximum indirect reference depth (prevent stack overflow). Default: 100.
	MaxIndirectDepth int `yaml:"max_indirect_depth"`

	// Maximum XRef chain depth (Prev entries). Default: 50.
	MaxXRefDepth int `yaml:"max_xref_depth"`

	// Maximum page tree depth. Default: 64.
	MaxPageTreeDepth int `yaml:"max_page_tree_depth"`

	// Maximum number of pages. Default: 100,000.
	MaxPages int `yaml:"max_pages"`

	// Maximum string length (bytes). Default: 10 MB.
	MaxStringLength int64 `yaml:"max_string_length"`

	// Maximum raw stream length (bytes). Default: 50 MB.
	MaxStreamLength int64 `yaml:"max_stream_length"`
}

// DefaultLimits returns a Limits struct with safe default values.
func DefaultLimits() Limits {
	return Limits{
		MaxDecompressedSize: 100 * 1024 * 1024, // 100 MB
		MaxIndirectDepth:    100,
		MaxXRefDepth:        50,
		MaxPageTreeDepth:    64,
		MaxPages:            100000,
		MaxStringLength:     10 * 1024 * 1024, // 10 MB
		MaxStreamLength:     50 * 1024 * 1024, // 50 MB
	}
}

// WithDefaults fills every zero field from DefaultLimits.
func (l Limits) WithDefaults() Limits {
	d := DefaultLimits()
	if l.MaxDecompressedSize <= 0 {
		l.MaxDecompressedSize = d.MaxDecompressedSize
	}
	if l.MaxIndirectDepth <= 0 {
		l.MaxIndirectDepth = d.MaxIndirectDepth
	}
	if l.MaxXRefDepth <= 0 {
		l.MaxXRefDepth = d.MaxXRefDepth
	}
	if l.MaxPageTreeDepth <= 0 {
		l.MaxPageTreeDepth = d.MaxPageTreeDepth
	}
	if l.MaxPages <= 0 {
		l.MaxPages = d.MaxPages
	}
	if l.MaxStringLength <= 0 {
		l.MaxStringLength = d.MaxStringLength
	}
	if l.MaxStreamLength <= 0 {
		l.MaxStreamLength = d.MaxStreamLength
	}
	return l
}

func (l Limits) Scanner() scanner.Config {
	return scanner.Config{MaxStringLength: l.MaxStringLength, MaxStreamLength: l.MaxStreamLength}
}

func (l Limits) Filters() filters.Limits {
	return filters.Limits{MaxDecompressedSize: l.MaxDecompressedSize}
}
