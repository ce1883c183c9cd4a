package writer

import (
	"errors"
	"fmt"

	"github.com/wudi/splitpdf/ir/raw"
	"github.com/wudi/splitpdf/parser"
)

// formFor returns the Form XObject wrapping p, writing it on first use.
// The form's BBox is the source media box, so the page is drawn in its own
// coordinate space.
func (w *Writer) formFor(p *parser.Page) (raw.ObjectRef, error) {
	key := sourceKey{doc: p.Document(), ref: p.Ref()}
	if ref, ok := w.forms[key]; ok {
		return ref, nil
	}

	data, filter, err := w.formContent(p)
	if err != nil {
		return raw.ObjectRef{}, err
	}

	dict := raw.Dict()
	dict.Set("Type", raw.NameLiteral("XObject"))
	dict.Set("Subtype", raw.NameLiteral("Form"))
	dict.Set("FormType", raw.NumberInt(1))
	dict.Set("BBox", rectArray(p.MediaBox()))
	for k, v := range filter {
		dict.Set(k, v)
	}

	resources := raw.Object(raw.Dict())
	if src := p.Resources(); src != nil {
		resources, err = w.copyObject(p.Document(), src)
		if err != nil {
			return raw.ObjectRef{}, err
		}
	}
	dict.Set("Resources", resources)

	ref := w.allocRef()
	if err := w.writeObject(ref, raw.NewStream(dict, data)); err != nil {
		return raw.ObjectRef{}, err
	}
	w.forms[key] = ref
	return ref, nil
}

// formContent returns the page's content bytes with the filter entries that
// describe them. A single stream is copied still encoded; several streams
// are decoded, joined and re-encoded.
func (w *Writer) formContent(p *parser.Page) ([]byte, map[string]raw.Object, error) {
	streams, err := p.Contents(w.ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: page %d contents: %v", ErrSource, p.Index(), err)
	}
	switch len(streams) {
	case 0:
		return nil, nil, nil
	case 1:
		entries := make(map[string]raw.Object)
		for _, k := range []string{"Filter", "DecodeParms"} {
			v, ok := streams[0].Dict.Get(k)
			if !ok {
				continue
			}
			cp, err := w.copyObject(p.Document(), v)
			if err != nil {
				return nil, nil, err
			}
			entries[k] = cp
		}
		return streams[0].Data, entries, nil
	}

	var joined []byte
	for i, s := range streams {
		dec, err := p.Document().DecodeStream(w.ctx, s)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: page %d content stream %d: %v", ErrSource, p.Index(), i, err)
		}
		if i > 0 {
			joined = append(joined, '\n')
		}
		joined = append(joined, dec...)
	}
	if w.cfg.Compression < 0 {
		return joined, nil, nil
	}
	enc, err := w.flate(joined)
	if err != nil {
		return nil, nil, w.fail(err)
	}
	return enc, map[string]raw.Object{"Filter": raw.NameLiteral("FlateDecode")}, nil
}

// copyObject deep-copies a source object into the output. Indirect objects
// are written once under fresh numbers; /Parent links are dropped so a
// resource never drags in the source page tree.
func (w *Writer) copyObject(doc *parser.Document, obj raw.Object) (raw.Object, error) {
	switch v := obj.(type) {
	case raw.RefObj:
		ref, err := w.copyIndirect(doc, v.R)
		if err != nil {
			return nil, err
		}
		if ref == nil {
			return raw.NullObj{}, nil
		}
		return raw.Ref(ref.Num, ref.Gen), nil
	case *raw.DictObj:
		return w.copyDict(doc, v)
	case *raw.ArrayObj:
		out := &raw.ArrayObj{Items: make([]raw.Object, 0, len(v.Items))}
		for _, it := range v.Items {
			cp, err := w.copyObject(doc, it)
			if err != nil {
				return nil, err
			}
			out.Append(cp)
		}
		return out, nil
	case *raw.StreamObj:
		d, err := w.copyDict(doc, v.Dict)
		if err != nil {
			return nil, err
		}
		d.Delete("Length")
		return raw.NewStream(d, v.Data), nil
	default:
		return obj, nil
	}
}

func (w *Writer) copyDict(doc *parser.Document, d *raw.DictObj) (*raw.DictObj, error) {
	out := raw.Dict()
	for _, k := range d.Keys() {
		if k == "Parent" {
			continue
		}
		cp, err := w.copyObject(doc, d.KV[k])
		if err != nil {
			return nil, err
		}
		out.Set(k, cp)
	}
	return out, nil
}

// copyIndirect returns nil for references the source does not define.
func (w *Writer) copyIndirect(doc *parser.Document, src raw.ObjectRef) (*raw.ObjectRef, error) {
	key := sourceKey{doc: doc, ref: src}
	if ref, ok := w.copied[key]; ok {
		return &ref, nil
	}
	obj, err := doc.Load(w.ctx, src)
	if errors.Is(err, parser.ErrObjectNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: object %s: %v", ErrSource, src, err)
	}
	// Number first so cycles through this object terminate.
	ref := w.allocRef()
	w.copied[key] = ref
	cp, err := w.copyObject(doc, obj)
	if err != nil {
		return nil, err
	}
	if err := w.writeObject(ref, cp); err != nil {
		return nil, err
	}
	return &ref, nil
}
