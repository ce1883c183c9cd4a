package xref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/wudi/splitpdf/filters"
	"github.com/wudi/splitpdf/ir/raw"
	"github.com/wudi/splitpdf/scanner"
)

var (
	ErrStartXRefNotFound = errors.New("startxref not found")
	ErrTooDeep           = errors.New("xref chain too deep")
)

type EntryKind int

const (
	Free EntryKind = iota
	InUse
	Compressed
)

// Entry locates one object. InUse entries carry a file offset; Compressed
// entries name the object stream holding the object and its index there.
type Entry struct {
	Kind   EntryKind
	Offset int64
	Gen    int
	Stream int
	Index  int
}

// Table is the merged view over every cross-reference section of a file.
type Table struct {
	entries  map[int]Entry
	trailer  *raw.DictObj
	sections int
	streams  bool
}

// Lookup returns the newest entry for objNum. Free entries are reported as
// not found.
func (t *Table) Lookup(objNum int) (Entry, bool) {
	e, ok := t.entries[objNum]
	if !ok || e.Kind == Free {
		return Entry{}, false
	}
	return e, true
}

// Objects lists the object numbers of all live entries in ascending order.
func (t *Table) Objects() []int {
	out := make([]int, 0, len(t.entries))
	for num, e := range t.entries {
		if e.Kind != Free {
			out = append(out, num)
		}
	}
	sort.Ints(out)
	return out
}

// Trailer is the merged trailer; keys from newer sections win.
func (t *Table) Trailer() *raw.DictObj { return t.trailer }

// Sections is the number of cross-reference sections that were read.
func (t *Table) Sections() int { return t.sections }

// HasStreams reports whether any section was a cross-reference stream.
func (t *Table) HasStreams() bool { return t.streams }

// add records e unless a newer section already described num. With
// replaceFree set, a free entry from the newer section gives way; hybrid
// files mark objects held in object streams free in the classic table.
func (t *Table) add(num int, e Entry, replaceFree bool) {
	old, seen := t.entries[num]
	if !seen || (replaceFree && old.Kind == Free) {
		t.entries[num] = e
	}
}

// Trailer keys carried over from section dictionaries.
var trailerKeys = []string{"Size", "Root", "Info", "ID", "Encrypt"}

func (t *Table) mergeTrailer(d *raw.DictObj) {
	for _, k := range trailerKeys {
		if v, ok := d.Get(k); ok {
			if _, exists := t.trailer.Get(k); !exists {
				t.trailer.Set(k, v)
			}
		}
	}
}

type Config struct {
	MaxDepth int
	Limits   filters.Limits
	Scanner  scanner.Config
}

// Resolver locates and merges the cross-reference sections of a file.
type Resolver struct {
	cfg      Config
	pipeline *filters.Pipeline
}

func NewResolver(cfg Config) *Resolver {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 50
	}
	return &Resolver{cfg: cfg, pipeline: filters.NewDefaultPipeline(cfg.Limits)}
}

// Resolve starts at the last startxref and walks /XRefStm and /Prev links.
func (r *Resolver) Resolve(ctx context.Context, data []byte) (*Table, error) {
	offset, err := findStartXRef(data, r.cfg.Scanner)
	if err != nil {
		return nil, err
	}
	t := &Table{entries: make(map[int]Entry), trailer: raw.Dict()}
	w := walker{r: r, data: data, table: t, visited: make(map[int64]bool)}
	if err := w.visit(ctx, offset, 0, true); err != nil {
		return nil, err
	}
	return t, nil
}

func findStartXRef(data []byte, cfg scanner.Config) (int64, error) {
	idx := bytes.LastIndex(data, []byte("startxref"))
	if idx < 0 {
		return 0, ErrStartXRefNotFound
	}
	s := scanner.New(data, cfg)
	if err := s.SeekTo(int64(idx + len("startxref"))); err != nil {
		return 0, err
	}
	tok, err := s.Next()
	if err != nil || tok.Type != scanner.TokenNumber || !tok.IsInt {
		return 0, fmt.Errorf("parse startxref: %w", ErrStartXRefNotFound)
	}
	if tok.Int < 0 || tok.Int >= int64(len(data)) {
		return 0, fmt.Errorf("xref offset out of range: %d", tok.Int)
	}
	return tok.Int, nil
}

type walker struct {
	r       *Resolver
	data    []byte
	table   *Table
	visited map[int64]bool
	hybrid  bool
}

// visit reads the section at offset. Sections are visited newest first and
// entries are only added when absent, so newer sections win.
func (w *walker) visit(ctx context.Context, offset int64, depth int, followPrev bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if depth > w.r.cfg.MaxDepth {
		return ErrTooDeep
	}
	if w.visited[offset] {
		return nil
	}
	w.visited[offset] = true

	s := scanner.New(w.data, w.r.cfg.Scanner)
	if err := s.SeekTo(offset); err != nil {
		return fmt.Errorf("xref offset %d: %w", offset, err)
	}
	tok, err := s.Next()
	if err != nil {
		return fmt.Errorf("xref at %d: %w", offset, err)
	}

	var dict *raw.DictObj
	if tok.Type == scanner.TokenKeyword && tok.Str == "xref" {
		dict, err = w.readTable(s)
	} else {
		if err := s.SeekTo(offset); err != nil {
			return err
		}
		dict, err = w.readStream(ctx, s)
	}
	if err != nil {
		return fmt.Errorf("xref at %d: %w", offset, err)
	}
	w.table.sections++
	w.table.mergeTrailer(dict)

	// Hybrid files: the stream named by /XRefStm sits between this table
	// and the previous section.
	if stm, ok := dict.Int("XRefStm"); ok {
		w.hybrid = true
		err := w.visit(ctx, stm, depth+1, false)
		w.hybrid = false
		if err != nil {
			return err
		}
	}
	if !followPrev {
		return nil
	}
	if prev, ok := dict.Int("Prev"); ok {
		return w.visit(ctx, prev, depth+1, true)
	}
	return nil
}

func (w *walker) readTable(s *scanner.Scanner) (*raw.DictObj, error) {
	for {
		tok, err := s.Next()
		if err != nil {
			return nil, fmt.Errorf("read subsection: %w", err)
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "trailer" {
			break
		}
		if tok.Type != scanner.TokenNumber || !tok.IsInt {
			return nil, fmt.Errorf("invalid subsection header at offset %d", tok.Pos)
		}
		countTok, err := s.Next()
		if err != nil || countTok.Type != scanner.TokenNumber || !countTok.IsInt {
			return nil, fmt.Errorf("invalid subsection count at offset %d", tok.Pos)
		}
		start := int(tok.Int)
		for i := 0; i < int(countTok.Int); i++ {
			e, err := readTableEntry(s)
			if err != nil {
				return nil, err
			}
			w.table.add(start+i, e, w.hybrid)
		}
	}
	obj, err := s.ReadObject()
	if err != nil {
		return nil, fmt.Errorf("read trailer: %w", err)
	}
	dict, ok := obj.(*raw.DictObj)
	if !ok {
		return nil, errors.New("trailer is not a dictionary")
	}
	return dict, nil
}

func readTableEntry(s *scanner.Scanner) (Entry, error) {
	off, err := s.Next()
	if err != nil {
		return Entry{}, fmt.Errorf("unexpected end of xref section: %w", err)
	}
	gen, err := s.Next()
	if err != nil {
		return Entry{}, fmt.Errorf("unexpected end of xref section: %w", err)
	}
	kind, err := s.Next()
	if err != nil {
		return Entry{}, fmt.Errorf("unexpected end of xref section: %w", err)
	}
	if off.Type != scanner.TokenNumber || gen.Type != scanner.TokenNumber || kind.Type != scanner.TokenKeyword {
		return Entry{}, fmt.Errorf("invalid xref entry at offset %d", off.Pos)
	}
	switch kind.Str {
	case "n":
		return Entry{Kind: InUse, Offset: off.Int, Gen: int(gen.Int)}, nil
	case "f":
		return Entry{Kind: Free, Gen: int(gen.Int)}, nil
	default:
		return Entry{}, fmt.Errorf("invalid xref entry type %q", kind.Str)
	}
}

func (w *walker) readStream(ctx context.Context, s *scanner.Scanner) (*raw.DictObj, error) {
	_, obj, err := s.ReadIndirect(nil)
	if err != nil {
		return nil, err
	}
	stm, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, errors.New("expected xref table or stream")
	}
	if typ, _ := stm.Dict.Name("Type"); typ != "XRef" {
		return nil, fmt.Errorf("stream type %q is not XRef", typ)
	}
	data, err := w.r.pipeline.DecodeStream(ctx, stm)
	if err != nil {
		return nil, fmt.Errorf("decode xref stream: %w", err)
	}
	widths, err := fieldWidths(stm.Dict)
	if err != nil {
		return nil, err
	}
	index, err := subsections(stm.Dict)
	if err != nil {
		return nil, err
	}

	rowLen := widths[0] + widths[1] + widths[2]
	pos := 0
	for i := 0; i+1 < len(index); i += 2 {
		start, count := index[i], index[i+1]
		for j := 0; j < count; j++ {
			if pos+rowLen > len(data) {
				return nil, errors.New("xref stream data truncated")
			}
			row := data[pos : pos+rowLen]
			pos += rowLen
			typ := int64(1)
			if widths[0] > 0 {
				typ = readField(row[:widths[0]])
			}
			f2 := readField(row[widths[0] : widths[0]+widths[1]])
			f3 := readField(row[widths[0]+widths[1]:])
			switch typ {
			case 0:
				w.table.add(start+j, Entry{Kind: Free, Gen: int(f3)}, w.hybrid)
			case 1:
				w.table.add(start+j, Entry{Kind: InUse, Offset: f2, Gen: int(f3)}, w.hybrid)
			case 2:
				w.table.add(start+j, Entry{Kind: Compressed, Stream: int(f2), Index: int(f3)}, w.hybrid)
			}
		}
	}
	w.table.streams = true
	return stm.Dict, nil
}

func fieldWidths(d *raw.DictObj) ([3]int, error) {
	var widths [3]int
	obj, _ := d.Get("W")
	arr, ok := obj.(*raw.ArrayObj)
	if !ok || arr.Len() != 3 {
		return widths, errors.New("xref stream /W must have three entries")
	}
	for i, it := range arr.Items {
		n, ok := it.(raw.NumberObj)
		if !ok || n.Int() < 0 || n.Int() > 8 {
			return widths, fmt.Errorf("invalid /W entry %v", it)
		}
		widths[i] = int(n.Int())
	}
	if widths[1] == 0 {
		return widths, errors.New("xref stream offset field has zero width")
	}
	return widths, nil
}

func subsections(d *raw.DictObj) ([]int, error) {
	obj, ok := d.Get("Index")
	if !ok {
		size, ok := d.Int("Size")
		if !ok {
			return nil, errors.New("xref stream without /Size")
		}
		return []int{0, int(size)}, nil
	}
	arr, ok := obj.(*raw.ArrayObj)
	if !ok || arr.Len()%2 != 0 {
		return nil, errors.New("invalid /Index")
	}
	out := make([]int, 0, arr.Len())
	for _, it := range arr.Items {
		n, ok := it.(raw.NumberObj)
		if !ok || n.Int() < 0 {
			return nil, errors.New("invalid /Index")
		}
		out = append(out, int(n.Int()))
	}
	return out, nil
}

func readField(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}
