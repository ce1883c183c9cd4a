package writer

import (
	"bytes"
	"compress/flate"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/wudi/splitpdf/geo"
	"github.com/wudi/splitpdf/ir/raw"
	"github.com/wudi/splitpdf/observability"
	"github.com/wudi/splitpdf/parser"
)

type PDFVersion string

const (
	PDF17 PDFVersion = "1.7"
)

var (
	ErrClosed   = errors.New("writer closed")
	ErrPageOpen = errors.New("page already open")
	ErrNoPage   = errors.New("no page open")
	// ErrSource marks failures reading the source page being drawn, as
	// opposed to failures writing the output.
	ErrSource = errors.New("source page unreadable")
)

type Config struct {
	Version PDFVersion
	// Compression is the Flate level for content the writer re-encodes:
	// 1-9 select a level, 0 the default level, negative values store.
	Compression   int
	Deterministic bool
	// Info is copied into the output information dictionary; Producer is
	// always set by the writer.
	Info   parser.Info
	Logger observability.Logger
}

// Writer produces a PDF one page at a time. Objects are written to the
// underlying stream as soon as they are complete; Close writes the page
// tree, catalog, cross-reference table and trailer.
type Writer struct {
	ctx    context.Context
	out    *countingWriter
	cfg    Config
	logger observability.Logger

	offsets  map[int]int64
	nextNum  int
	pagesRef raw.ObjectRef
	pageRefs []raw.ObjectRef

	forms  map[sourceKey]raw.ObjectRef
	copied map[sourceKey]raw.ObjectRef

	page   *openPage
	closed bool
	err    error
}

// sourceKey identifies an object of a particular source document.
type sourceKey struct {
	doc *parser.Document
	ref raw.ObjectRef
}

type openPage struct {
	box      geo.Rect
	ctm      geo.Matrix
	content  bytes.Buffer
	xobjects *raw.DictObj
	names    map[raw.ObjectRef]string
}

// countingWriter tracks the output offset and a digest of everything
// written, from which a deterministic file ID is derived.
type countingWriter struct {
	w      io.Writer
	n      int64
	digest hash.Hash
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.digest.Write(p[:n])
	return n, err
}

// Create writes the file header to out and returns a writer ready for the
// first page. ctx bounds source reads made while drawing pages.
func Create(ctx context.Context, out io.Writer, cfg Config) (*Writer, error) {
	if cfg.Version == "" {
		cfg.Version = PDF17
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	w := &Writer{
		ctx:     ctx,
		out:     &countingWriter{w: out, digest: sha256.New()},
		cfg:     cfg,
		logger:  cfg.Logger,
		offsets: make(map[int]int64),
		nextNum: 1,
		forms:   make(map[sourceKey]raw.ObjectRef),
		copied:  make(map[sourceKey]raw.ObjectRef),
	}
	w.pagesRef = w.allocRef()
	if _, err := fmt.Fprintf(w.out, "%%PDF-%s\n%%\xE2\xE3\xCF\xD3\n", cfg.Version); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	return w, nil
}

func (w *Writer) usable() error {
	if w.closed {
		return ErrClosed
	}
	return w.err
}

// BeginPage starts an output page with the given media box.
func (w *Writer) BeginPage(box geo.Rect) error {
	if err := w.usable(); err != nil {
		return err
	}
	if w.page != nil {
		return ErrPageOpen
	}
	w.page = &openPage{box: box, ctm: geo.Identity(), xobjects: raw.Dict(), names: make(map[raw.ObjectRef]string)}
	return nil
}

// Transform concatenates m to the matrix applied to everything drawn
// afterwards on the open page.
func (w *Writer) Transform(m geo.Matrix) error {
	if err := w.usable(); err != nil {
		return err
	}
	if w.page == nil {
		return ErrNoPage
	}
	w.page.ctm = m.Multiply(w.page.ctm)
	return nil
}

// DrawPage draws a source page under the current matrix. Each distinct
// source page becomes one Form XObject shared by every output page that
// draws it.
func (w *Writer) DrawPage(p *parser.Page) error {
	if err := w.usable(); err != nil {
		return err
	}
	if w.page == nil {
		return ErrNoPage
	}
	form, err := w.formFor(p)
	if err != nil {
		return err
	}
	name, ok := w.page.names[form]
	if !ok {
		name = fmt.Sprintf("Pg%d", len(w.page.names)+1)
		w.page.names[form] = name
		w.page.xobjects.Set(name, raw.Ref(form.Num, form.Gen))
	}
	m := w.page.ctm
	fmt.Fprintf(&w.page.content, "q %s %s %s %s %s %s cm /%s Do Q\n",
		formatNumber(m[0]), formatNumber(m[1]), formatNumber(m[2]),
		formatNumber(m[3]), formatNumber(m[4]), formatNumber(m[5]), name)
	return nil
}

// EndPage writes the open page's content stream and page object.
func (w *Writer) EndPage() error {
	if w.closed {
		return ErrClosed
	}
	if w.page == nil {
		return ErrNoPage
	}
	pg := w.page
	w.page = nil
	if w.err != nil {
		return w.err
	}

	contentRef := w.allocRef()
	cdict := raw.Dict()
	data := pg.content.Bytes()
	if w.cfg.Compression >= 0 {
		enc, err := w.flate(data)
		if err != nil {
			return w.fail(err)
		}
		data = enc
		cdict.Set("Filter", raw.NameLiteral("FlateDecode"))
	}
	if err := w.writeObject(contentRef, raw.NewStream(cdict, data)); err != nil {
		return err
	}

	resources := raw.Dict()
	if pg.xobjects.Len() > 0 {
		resources.Set("XObject", pg.xobjects)
	}
	pageDict := raw.Dict()
	pageDict.Set("Type", raw.NameLiteral("Page"))
	pageDict.Set("Parent", raw.Ref(w.pagesRef.Num, w.pagesRef.Gen))
	pageDict.Set("MediaBox", rectArray(pg.box))
	pageDict.Set("Resources", resources)
	pageDict.Set("Contents", raw.Ref(contentRef.Num, contentRef.Gen))

	pageRef := w.allocRef()
	if err := w.writeObject(pageRef, pageDict); err != nil {
		return err
	}
	w.pageRefs = append(w.pageRefs, pageRef)
	return nil
}

// Close finishes the document. It ends a page left open and is safe to
// call more than once; later calls return nil.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	var pageErr error
	if w.page != nil {
		pageErr = w.EndPage()
	}
	w.closed = true
	if w.err != nil {
		return w.err
	}
	if pageErr != nil {
		return pageErr
	}
	return w.finish()
}

func (w *Writer) finish() error {
	kids := raw.NewArray()
	for _, r := range w.pageRefs {
		kids.Append(raw.Ref(r.Num, r.Gen))
	}
	pages := raw.Dict()
	pages.Set("Type", raw.NameLiteral("Pages"))
	pages.Set("Kids", kids)
	pages.Set("Count", raw.NumberInt(int64(len(w.pageRefs))))
	if err := w.writeObject(w.pagesRef, pages); err != nil {
		return err
	}

	catalogRef := w.allocRef()
	catalog := raw.Dict()
	catalog.Set("Type", raw.NameLiteral("Catalog"))
	catalog.Set("Pages", raw.Ref(w.pagesRef.Num, w.pagesRef.Gen))
	if err := w.writeObject(catalogRef, catalog); err != nil {
		return err
	}

	infoRef := w.allocRef()
	if err := w.writeObject(infoRef, w.infoDict()); err != nil {
		return err
	}

	xrefOffset := w.out.n
	var buf bytes.Buffer
	size := w.nextNum
	fmt.Fprintf(&buf, "xref\n0 %d\n", size)
	buf.WriteString("0000000000 65535 f \n")
	for i := 1; i < size; i++ {
		if off, ok := w.offsets[i]; ok {
			fmt.Fprintf(&buf, "%010d 00000 n \n", off)
		} else {
			buf.WriteString("0000000000 65535 f \n")
		}
	}
	ids := fileID(w.cfg.Deterministic, w.out.digest.Sum(nil))
	trailer := raw.Dict()
	trailer.Set("Size", raw.NumberInt(int64(size)))
	trailer.Set("Root", raw.Ref(catalogRef.Num, catalogRef.Gen))
	trailer.Set("Info", raw.Ref(infoRef.Num, infoRef.Gen))
	trailer.Set("ID", raw.NewArray(raw.HexStr(ids[0]), raw.HexStr(ids[1])))
	buf.WriteString("trailer\n")
	buf.Write(serializePrimitive(trailer))
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)
	if _, err := w.out.Write(buf.Bytes()); err != nil {
		return w.fail(fmt.Errorf("write trailer: %w", err))
	}
	w.logger.Debug("output closed",
		observability.Int("pages", len(w.pageRefs)),
		observability.Int("objects", size-1),
		observability.Int64("bytes", w.out.n))
	return nil
}

// PageCount is the number of pages ended so far.
func (w *Writer) PageCount() int { return len(w.pageRefs) }

func (w *Writer) allocRef() raw.ObjectRef {
	ref := raw.ObjectRef{Num: w.nextNum}
	w.nextNum++
	return ref
}

// fail records err as the writer's sticky error.
func (w *Writer) fail(err error) error {
	if w.err == nil {
		w.err = err
	}
	return w.err
}

func (w *Writer) writeObject(ref raw.ObjectRef, obj raw.Object) error {
	if w.err != nil {
		return w.err
	}
	w.offsets[ref.Num] = w.out.n
	if _, err := w.out.Write(serializeObject(ref, obj)); err != nil {
		delete(w.offsets, ref.Num)
		return w.fail(fmt.Errorf("write object %s: %w", ref, err))
	}
	return nil
}

func (w *Writer) flate(data []byte) ([]byte, error) {
	level := w.cfg.Compression
	if level == 0 {
		level = flate.DefaultCompression
	}
	if level > flate.BestCompression {
		level = flate.BestCompression
	}
	return flateEncode(data, level)
}
