package parser

import (
	"context"
	"errors"
	"fmt"

	"github.com/wudi/splitpdf/geo"
	"github.com/wudi/splitpdf/ir/raw"
	"github.com/wudi/splitpdf/observability"
	"github.com/wudi/splitpdf/recovery"
)

var ErrPageNotFound = errors.New("page not found")

// Letter is the media box assumed for pages that do not declare one.
var Letter = geo.Rect{Width: 612, Height: 792}

// Document is an opened, read-only PDF.
type Document struct {
	version  string
	trailer  *raw.Trailer
	loader   *objectLoader
	pages    []pageSlot
	info     Info
	logger   observability.Logger
	recovery recovery.Strategy
}

// pageSlot is a leaf of the page tree. err is set when the leaf could not
// be loaded; the slot still occupies its position in page order.
type pageSlot struct {
	page *Page
	err  error
}

// Info holds the document information dictionary as text.
type Info struct {
	Title    string
	Author   string
	Subject  string
	Keywords string
	Creator  string
	Producer string
}

func (d *Document) NumPages() int { return len(d.pages) }

// Page returns the zero-based page i.
func (d *Document) Page(i int) (*Page, error) {
	if i < 0 || i >= len(d.pages) {
		return nil, fmt.Errorf("%w: index %d of %d", ErrPageNotFound, i, len(d.pages))
	}
	slot := d.pages[i]
	if slot.err != nil {
		return nil, fmt.Errorf("%w: index %d: %v", ErrPageNotFound, i, slot.err)
	}
	return slot.page, nil
}

func (d *Document) Version() string { return d.version }

func (d *Document) Trailer() *raw.Trailer { return d.trailer }

func (d *Document) Info() Info { return d.info }

// Load returns the object ref points to.
func (d *Document) Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error) {
	return d.loader.Load(ctx, ref)
}

// Resolve follows references until a direct object is reached; references
// to objects the file does not define resolve to null.
func (d *Document) Resolve(ctx context.Context, obj raw.Object) (raw.Object, error) {
	return d.loader.resolve(ctx, obj)
}

// DecodeStream applies the stream's filters.
func (d *Document) DecodeStream(ctx context.Context, s *raw.StreamObj) ([]byte, error) {
	return d.loader.pipeline.DecodeStream(ctx, s)
}

// Close releases the document. Pages must not be used afterwards.
func (d *Document) Close() error {
	d.pages = nil
	d.loader = nil
	return nil
}

func (d *Document) readInfo(ctx context.Context) Info {
	ref, ok := d.trailer.Dict.Get("Info")
	if !ok {
		return Info{}
	}
	obj, err := d.Resolve(ctx, ref)
	if err != nil {
		d.logger.Warn("info dictionary unreadable", observability.Error("error", err))
		return Info{}
	}
	dict, ok := obj.(*raw.DictObj)
	if !ok {
		return Info{}
	}
	text := func(key string) string {
		v, ok := dict.Get(key)
		if !ok {
			return ""
		}
		v, err := d.Resolve(ctx, v)
		if err != nil {
			return ""
		}
		s, ok := v.(raw.StringObj)
		if !ok {
			return ""
		}
		return raw.DecodeText(s.Bytes)
	}
	return Info{
		Title:    text("Title"),
		Author:   text("Author"),
		Subject:  text("Subject"),
		Keywords: text("Keywords"),
		Creator:  text("Creator"),
		Producer: text("Producer"),
	}
}

// Page is one leaf of the page tree with its inherited attributes applied.
type Page struct {
	doc       *Document
	index     int
	ref       raw.ObjectRef
	dict      *raw.DictObj
	mediaBox  geo.Rect
	cropBox   geo.Rect
	hasCrop   bool
	rotate    int
	resources raw.Object
}

func (p *Page) Index() int { return p.index }

func (p *Page) Ref() raw.ObjectRef { return p.ref }

func (p *Page) Dict() *raw.DictObj { return p.dict }

func (p *Page) Document() *Document { return p.doc }

// MediaBox is the page's media box with corners normalized.
func (p *Page) MediaBox() geo.Rect { return p.mediaBox }

// CropBox defaults to the media box.
func (p *Page) CropBox() geo.Rect {
	if p.hasCrop {
		return p.cropBox
	}
	return p.mediaBox
}

func (p *Page) Rotate() int { return p.rotate }

// Resources may be nil, a dictionary or a reference to one.
func (p *Page) Resources() raw.Object { return p.resources }

// Contents returns the page's content streams in drawing order.
func (p *Page) Contents(ctx context.Context) ([]*raw.StreamObj, error) {
	c, ok := p.dict.Get("Contents")
	if !ok {
		return nil, nil
	}
	obj, err := p.doc.Resolve(ctx, c)
	if err != nil {
		return nil, err
	}
	switch v := obj.(type) {
	case *raw.StreamObj:
		return []*raw.StreamObj{v}, nil
	case *raw.ArrayObj:
		out := make([]*raw.StreamObj, 0, v.Len())
		for _, it := range v.Items {
			o, err := p.doc.Resolve(ctx, it)
			if err != nil {
				return nil, err
			}
			if s, ok := o.(*raw.StreamObj); ok {
				out = append(out, s)
			}
		}
		return out, nil
	case raw.NullObj:
		return nil, nil
	default:
		return nil, fmt.Errorf("page contents of type %s", obj.Type())
	}
}
