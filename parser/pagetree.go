package parser

import (
	"context"
	"errors"
	"fmt"

	"github.com/wudi/splitpdf/geo"
	"github.com/wudi/splitpdf/ir/raw"
	"github.com/wudi/splitpdf/observability"
	"github.com/wudi/splitpdf/recovery"
	"github.com/wudi/splitpdf/security"
)

// inherited carries the page attributes a /Pages node passes to its kids.
type inherited struct {
	mediaBox  *geo.Rect
	cropBox   *geo.Rect
	rotate    *int
	resources raw.Object
}

type treeWalker struct {
	doc     *Document
	limits  security.Limits
	visited map[raw.ObjectRef]bool
}

func (d *Document) walkPages(ctx context.Context, root raw.Object, limits security.Limits) error {
	w := treeWalker{doc: d, limits: limits, visited: make(map[raw.ObjectRef]bool)}
	ref, ok := root.(raw.RefObj)
	if !ok {
		return fmt.Errorf("%w: /Pages is not a reference", ErrNoPageTree)
	}
	node, err := d.loader.Load(ctx, ref.R)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoPageTree, err)
	}
	dict, ok := node.(*raw.DictObj)
	if !ok {
		return ErrNoPageTree
	}
	w.visited[ref.R] = true
	return w.walkNode(ctx, ref.R, dict, inherited{}, 0)
}

func (w *treeWalker) walkNode(ctx context.Context, ref raw.ObjectRef, node *raw.DictObj, inh inherited, depth int) error {
	if depth > w.limits.MaxPageTreeDepth {
		return fmt.Errorf("page tree deeper than %d", w.limits.MaxPageTreeDepth)
	}
	inh, err := w.inherit(ctx, ref, node, inh)
	if err != nil {
		return err
	}

	kidsObj, hasKids := node.Get("Kids")
	typ, _ := node.Name("Type")
	if typ == "Page" || (!hasKids && typ != "Pages") {
		return w.addLeaf(ref, node, inh)
	}

	kidsObj, err = w.doc.Resolve(ctx, kidsObj)
	if err != nil {
		return err
	}
	kids, ok := kidsObj.(*raw.ArrayObj)
	if !ok {
		return nil
	}
	for _, kid := range kids.Items {
		if err := ctx.Err(); err != nil {
			return err
		}
		kidRef, ok := kid.(raw.RefObj)
		if !ok {
			if err := w.addBroken(ctx, ref, fmt.Errorf("page tree kid is a direct %s", kid.Type())); err != nil {
				return err
			}
			continue
		}
		if w.visited[kidRef.R] {
			return fmt.Errorf("%w at %s", ErrPageTreeLoop, kidRef.R)
		}
		w.visited[kidRef.R] = true
		obj, err := w.doc.loader.Load(ctx, kidRef.R)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if err := w.addBroken(ctx, kidRef.R, err); err != nil {
				return err
			}
			continue
		}
		dict, ok := obj.(*raw.DictObj)
		if !ok {
			if err := w.addBroken(ctx, kidRef.R, fmt.Errorf("page tree kid %s is a %s", kidRef.R, obj.Type())); err != nil {
				return err
			}
			continue
		}
		if err := w.walkNode(ctx, kidRef.R, dict, inh, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (w *treeWalker) addLeaf(ref raw.ObjectRef, dict *raw.DictObj, inh inherited) error {
	if len(w.doc.pages) >= w.limits.MaxPages {
		return fmt.Errorf("more than %d pages", w.limits.MaxPages)
	}
	p := &Page{
		doc:       w.doc,
		index:     len(w.doc.pages),
		ref:       ref,
		dict:      dict,
		mediaBox:  Letter,
		resources: inh.resources,
	}
	if inh.mediaBox != nil {
		p.mediaBox = *inh.mediaBox
	}
	if inh.cropBox != nil {
		p.cropBox, p.hasCrop = *inh.cropBox, true
	}
	if inh.rotate != nil {
		p.rotate = *inh.rotate
	}
	w.doc.pages = append(w.doc.pages, pageSlot{page: p})
	return nil
}

// addBroken records an unreadable page slot, or fails the walk when the
// recovery strategy says so.
func (w *treeWalker) addBroken(ctx context.Context, ref raw.ObjectRef, err error) error {
	loc := recovery.Location{Ref: ref, Component: "page tree"}
	if w.doc.recovery.OnError(ctx, err, loc) == recovery.ActionFail {
		return fmt.Errorf("%s: %w", loc, err)
	}
	w.doc.logger.Warn("page tree entry unreadable",
		observability.Int("index", len(w.doc.pages)),
		observability.Error("error", err))
	w.doc.pages = append(w.doc.pages, pageSlot{err: err})
	return nil
}

// inherit overlays node's own attributes on the ones passed down.
func (w *treeWalker) inherit(ctx context.Context, ref raw.ObjectRef, node *raw.DictObj, inh inherited) (inherited, error) {
	for _, key := range []string{"MediaBox", "CropBox"} {
		r, ok, err := w.rect(ctx, ref, node, key)
		if err != nil {
			return inh, err
		}
		if !ok {
			continue
		}
		if key == "MediaBox" {
			inh.mediaBox = &r
		} else {
			inh.cropBox = &r
		}
	}
	if v, ok := node.Get("Rotate"); ok {
		if v, err := w.doc.Resolve(ctx, v); err == nil {
			if n, ok := v.(raw.NumberObj); ok {
				rot := int(n.Int())
				inh.rotate = &rot
			}
		}
	}
	if v, ok := node.Get("Resources"); ok {
		inh.resources = v
	}
	return inh, nil
}

// rect reads a rectangle attribute. A malformed one is ignored unless the
// recovery strategy fails it.
func (w *treeWalker) rect(ctx context.Context, ref raw.ObjectRef, node *raw.DictObj, key string) (geo.Rect, bool, error) {
	v, ok := node.Get(key)
	if !ok {
		return geo.Rect{}, false, nil
	}
	r, err := parseRect(ctx, w.doc, v)
	if err != nil {
		loc := recovery.Location{Ref: ref, Component: "/" + key}
		if w.doc.recovery.OnError(ctx, err, loc) == recovery.ActionFail {
			return geo.Rect{}, false, fmt.Errorf("%s: %w", loc, err)
		}
		w.doc.logger.Warn("ignoring malformed rectangle",
			observability.String("key", key),
			observability.Error("error", err))
		return geo.Rect{}, false, nil
	}
	return r, true, nil
}

func parseRect(ctx context.Context, d *Document, obj raw.Object) (geo.Rect, error) {
	obj, err := d.Resolve(ctx, obj)
	if err != nil {
		return geo.Rect{}, err
	}
	arr, ok := obj.(*raw.ArrayObj)
	if !ok || arr.Len() != 4 {
		return geo.Rect{}, errors.New("rectangle must be an array of four numbers")
	}
	var c [4]float64
	for i, it := range arr.Items {
		it, err := d.Resolve(ctx, it)
		if err != nil {
			return geo.Rect{}, err
		}
		f, ok := raw.Number(it)
		if !ok {
			return geo.Rect{}, fmt.Errorf("rectangle entry %d is a %s", i, it.Type())
		}
		c[i] = f
	}
	return geo.FromCorners(c[0], c[1], c[2], c[3]), nil
}
