package parser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wudi/splitpdf/filters"
	"github.com/wudi/splitpdf/ir/raw"
	"github.com/wudi/splitpdf/scanner"
	"github.com/wudi/splitpdf/security"
	"github.com/wudi/splitpdf/xref"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrTooDeep        = errors.New("max depth exceeded")
)

type Cache interface {
	Get(ref raw.ObjectRef) (raw.Object, bool)
	Put(ref raw.ObjectRef, obj raw.Object)
}

type ObjectLoader interface {
	Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error)
}

type ObjectLoaderBuilder struct {
	data      []byte
	xrefTable *xref.Table
	limits    security.Limits
	cache     Cache
}

func (b *ObjectLoaderBuilder) WithData(data []byte) *ObjectLoaderBuilder {
	b.data = data
	return b
}
func (b *ObjectLoaderBuilder) WithXRef(table *xref.Table) *ObjectLoaderBuilder {
	b.xrefTable = table
	return b
}
func (b *ObjectLoaderBuilder) WithLimits(l security.Limits) *ObjectLoaderBuilder {
	b.limits = l
	return b
}
func (b *ObjectLoaderBuilder) WithCache(c Cache) *ObjectLoaderBuilder { b.cache = c; return b }

func (b *ObjectLoaderBuilder) Build() (ObjectLoader, error) {
	return b.build()
}

func (b *ObjectLoaderBuilder) build() (*objectLoader, error) {
	if b.data == nil || b.xrefTable == nil {
		return nil, errors.New("data and xrefTable required")
	}
	limits := b.limits.WithDefaults()
	cache := b.cache
	if cache == nil {
		cache = newMapCache()
	}
	return &objectLoader{
		data:      b.data,
		xrefTable: b.xrefTable,
		limits:    limits,
		cache:     cache,
		pipeline:  filters.NewDefaultPipeline(limits.Filters()),
		objstm:    make(map[int]map[int]raw.Object),
	}, nil
}

type mapCache struct {
	m map[raw.ObjectRef]raw.Object
}

func newMapCache() *mapCache { return &mapCache{m: make(map[raw.ObjectRef]raw.Object)} }

func (c *mapCache) Get(ref raw.ObjectRef) (raw.Object, bool) {
	v, ok := c.m[ref]
	return v, ok
}

func (c *mapCache) Put(ref raw.ObjectRef, obj raw.Object) { c.m[ref] = obj }

type objectLoader struct {
	data      []byte
	xrefTable *xref.Table
	limits    security.Limits
	cache     Cache
	pipeline  *filters.Pipeline
	mu        sync.Mutex
	objstm    map[int]map[int]raw.Object
}

func (o *objectLoader) Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loadLocked(ctx, ref, 0)
}

// loadLocked assumes the caller holds the loader mutex. depth counts nested
// loads triggered by indirect stream lengths.
func (o *objectLoader) loadLocked(ctx context.Context, ref raw.ObjectRef, depth int) (raw.Object, error) {
	if depth > o.limits.MaxIndirectDepth {
		return nil, ErrTooDeep
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if obj, ok := o.cache.Get(ref); ok {
		return obj, nil
	}

	e, found := o.xrefTable.Lookup(ref.Num)
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, ref)
	}
	var (
		obj raw.Object
		err error
	)
	switch e.Kind {
	case xref.InUse:
		if e.Gen != ref.Gen {
			return nil, fmt.Errorf("%w: %s (generation %d in xref)", ErrObjectNotFound, ref, e.Gen)
		}
		obj, err = o.loadAtOffset(ctx, ref, e.Offset, depth)
	case xref.Compressed:
		if ref.Gen != 0 {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, ref)
		}
		obj, err = o.loadFromObjectStream(ctx, ref, e.Stream, e.Index, depth)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ref, err)
	}
	o.cache.Put(ref, obj)
	return obj, nil
}

func (o *objectLoader) loadAtOffset(ctx context.Context, ref raw.ObjectRef, offset int64, depth int) (raw.Object, error) {
	s := scanner.New(o.data, o.limits.Scanner())
	if err := s.SeekTo(offset); err != nil {
		return nil, err
	}
	got, obj, err := s.ReadIndirect(func(lenRef raw.ObjectRef) (int64, bool) {
		v, err := o.loadLocked(ctx, lenRef, depth+1)
		if err != nil {
			return 0, false
		}
		n, ok := v.(raw.NumberObj)
		return n.Int(), ok
	})
	if err != nil {
		return nil, err
	}
	if got.Num != ref.Num {
		return nil, fmt.Errorf("object header number mismatch: found %s at offset %d", got, offset)
	}
	return obj, nil
}

func (o *objectLoader) loadFromObjectStream(ctx context.Context, ref raw.ObjectRef, streamNum, idx, depth int) (raw.Object, error) {
	objs, ok := o.objstm[streamNum]
	if !ok {
		var err error
		objs, err = o.parseObjectStream(ctx, streamNum, depth)
		if err != nil {
			return nil, fmt.Errorf("object stream %d: %w", streamNum, err)
		}
		o.objstm[streamNum] = objs
	}
	obj, ok := objs[ref.Num]
	if !ok {
		return nil, fmt.Errorf("%w: %s not in object stream %d (index %d)", ErrObjectNotFound, ref, streamNum, idx)
	}
	return obj, nil
}

func (o *objectLoader) parseObjectStream(ctx context.Context, streamNum, depth int) (map[int]raw.Object, error) {
	e, ok := o.xrefTable.Lookup(streamNum)
	if !ok || e.Kind != xref.InUse {
		return nil, errors.New("object stream entry missing")
	}
	streamObj, err := o.loadLocked(ctx, raw.ObjectRef{Num: streamNum, Gen: e.Gen}, depth+1)
	if err != nil {
		return nil, err
	}
	st, ok := streamObj.(*raw.StreamObj)
	if !ok {
		return nil, errors.New("object stream is not a stream")
	}
	n, _ := st.Dict.Int("N")
	first, _ := st.Dict.Int("First")
	data, err := o.pipeline.DecodeStream(ctx, st)
	if err != nil {
		return nil, err
	}
	if first < 0 || first > int64(len(data)) {
		return nil, errors.New("object stream First exceeds length")
	}
	// Each entry needs two integers separated by whitespace.
	if n < 0 || n > first/2 {
		return nil, fmt.Errorf("object stream N %d does not fit a %d byte header", n, first)
	}

	header := scanner.New(data[:first], o.limits.Scanner())
	pairs := make([]int64, 0, 2*n)
	for int64(len(pairs)) < 2*n {
		tok, err := header.Next()
		if err != nil {
			return nil, fmt.Errorf("object stream header: %w", err)
		}
		if tok.Type != scanner.TokenNumber || !tok.IsInt {
			return nil, errors.New("object stream header must hold integer pairs")
		}
		pairs = append(pairs, tok.Int)
	}

	body := data[first:]
	objs := make(map[int]raw.Object, n)
	for i := 0; i+1 < len(pairs); i += 2 {
		num, off := int(pairs[i]), pairs[i+1]
		s := scanner.New(body, o.limits.Scanner())
		if err := s.SeekTo(off); err != nil {
			return nil, fmt.Errorf("object %d offset %d: %w", num, off, err)
		}
		obj, err := s.ReadObject()
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", num, err)
		}
		if _, dup := objs[num]; !dup {
			objs[num] = obj
		}
	}
	return objs, nil
}

// resolve follows references until a direct object is reached. Missing
// objects resolve to null.
func (o *objectLoader) resolve(ctx context.Context, obj raw.Object) (raw.Object, error) {
	for depth := 0; ; depth++ {
		ref, ok := obj.(raw.RefObj)
		if !ok {
			return obj, nil
		}
		if depth > o.limits.MaxIndirectDepth {
			return nil, ErrTooDeep
		}
		next, err := o.Load(ctx, ref.R)
		if errors.Is(err, ErrObjectNotFound) {
			return raw.NullObj{}, nil
		}
		if err != nil {
			return nil, err
		}
		obj = next
	}
}
