package raw

import (
	"fmt"
	"sort"
)

// ObjectRef uniquely identifies an indirect PDF object.
type ObjectRef struct {
	Num int
	Gen int
}

func (r ObjectRef) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }

// Object is the base interface for all raw PDF objects.
type Object interface {
	Type() string
}

// DictObj is a PDF dictionary. Keys are stored without the leading slash.
type DictObj struct{ KV map[string]Object }

func (d *DictObj) Type() string { return "dict" }

func (d *DictObj) Get(key string) (Object, bool) {
	if d == nil {
		return nil, false
	}
	o, ok := d.KV[key]
	return o, ok
}

func (d *DictObj) Set(key string, value Object) {
	if d.KV == nil {
		d.KV = make(map[string]Object)
	}
	d.KV[key] = value
}

func (d *DictObj) Delete(key string) { delete(d.KV, key) }

// Keys returns the keys in sorted order so serialization is stable.
func (d *DictObj) Keys() []string {
	keys := make([]string, 0, len(d.KV))
	for k := range d.KV {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (d *DictObj) Len() int { return len(d.KV) }

// Name returns the value of key when it is a direct name.
func (d *DictObj) Name(key string) (string, bool) {
	o, ok := d.Get(key)
	if !ok {
		return "", false
	}
	n, ok := o.(NameObj)
	return n.Val, ok
}

// Int returns the value of key when it is a direct number.
func (d *DictObj) Int(key string) (int64, bool) {
	o, ok := d.Get(key)
	if !ok {
		return 0, false
	}
	n, ok := o.(NumberObj)
	return n.Int(), ok
}

// ArrayObj is a PDF array.
type ArrayObj struct{ Items []Object }

func (a *ArrayObj) Type() string { return "array" }

func (a *ArrayObj) Get(i int) (Object, bool) {
	if a == nil || i < 0 || i >= len(a.Items) {
		return nil, false
	}
	return a.Items[i], true
}

func (a *ArrayObj) Len() int {
	if a == nil {
		return 0
	}
	return len(a.Items)
}

func (a *ArrayObj) Append(o Object) { a.Items = append(a.Items, o) }

// StreamObj holds a stream dictionary and its still-encoded payload.
type StreamObj struct {
	Dict *DictObj
	Data []byte
}

func (s *StreamObj) Type() string    { return "stream" }
func (s *StreamObj) RawData() []byte { return s.Data }
func (s *StreamObj) Length() int64   { return int64(len(s.Data)) }

// Trailer is the merged trailer dictionary of a document together with the
// header version.
type Trailer struct {
	Dict    *DictObj
	Version string
}
