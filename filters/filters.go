package filters

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"context"
	stdascii85 "encoding/ascii85"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/wudi/splitpdf/ir/raw"
)

var (
	ErrUnknownFilter = errors.New("unknown filter")
	ErrTooLarge      = errors.New("decoded data exceeds size limit")
)

type Decoder interface {
	Name() string
	Decode(ctx context.Context, input []byte, params *raw.DictObj) ([]byte, error)
}

type Limits struct {
	MaxDecompressedSize int64
}

type Pipeline struct {
	decoders []Decoder
	limits   Limits
}

// NewPipeline constructs a pipeline with provided decoders and limits.
func NewPipeline(decoders []Decoder, limits Limits) *Pipeline {
	return &Pipeline{decoders: decoders, limits: limits}
}

// NewDefaultPipeline registers every decoder a page content stream or a
// cross-reference/object stream can use.
func NewDefaultPipeline(limits Limits) *Pipeline {
	return NewPipeline([]Decoder{
		NewFlateDecoder(limits),
		NewLZWDecoder(),
		NewASCII85Decoder(),
		NewASCIIHexDecoder(),
		NewRunLengthDecoder(),
	}, limits)
}

func (p *Pipeline) findDecoder(name string) Decoder {
	for _, d := range p.decoders {
		if d.Name() == name || abbreviations[name] == d.Name() {
			return d
		}
	}
	return nil
}

// Abbreviated filter names are only legal in inline images, but some
// producers use them in stream dictionaries too.
var abbreviations = map[string]string{
	"Fl":  "FlateDecode",
	"LZW": "LZWDecode",
	"A85": "ASCII85Decode",
	"AHx": "ASCIIHexDecode",
	"RL":  "RunLengthDecode",
}

// Decode applies filterNames in order; params[i] belongs to filterNames[i].
func (p *Pipeline) Decode(ctx context.Context, input []byte, filterNames []string, params []*raw.DictObj) ([]byte, error) {
	data := input
	for i, name := range filterNames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dec := p.findDecoder(name)
		if dec == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownFilter, name)
		}
		var param *raw.DictObj
		if i < len(params) {
			param = params[i]
		}
		out, err := dec.Decode(ctx, data, param)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if p.limits.MaxDecompressedSize > 0 && int64(len(out)) > p.limits.MaxDecompressedSize {
			return nil, ErrTooLarge
		}
		data = out
	}
	return data, nil
}

// DecodeStream decodes a stream object with the filters its dictionary names.
func (p *Pipeline) DecodeStream(ctx context.Context, s *raw.StreamObj) ([]byte, error) {
	names, params := ForStream(s.Dict)
	if len(names) == 0 {
		return s.Data, nil
	}
	return p.Decode(ctx, s.Data, names, params)
}

// ForStream reads Filter and DecodeParms entries from a stream dictionary.
// Params are aligned with names; missing or null entries stay nil.
func ForStream(d *raw.DictObj) ([]string, []*raw.DictObj) {
	fObj, ok := d.Get("Filter")
	if !ok {
		return nil, nil
	}
	var names []string
	switch v := fObj.(type) {
	case raw.NameObj:
		names = []string{v.Val}
	case *raw.ArrayObj:
		for _, it := range v.Items {
			if n, ok := it.(raw.NameObj); ok {
				names = append(names, n.Val)
			}
		}
	}
	params := make([]*raw.DictObj, len(names))
	if dp, ok := d.Get("DecodeParms"); ok {
		switch p := dp.(type) {
		case *raw.DictObj:
			if len(params) > 0 {
				params[0] = p
			}
		case *raw.ArrayObj:
			for i, it := range p.Items {
				if dd, ok := it.(*raw.DictObj); ok && i < len(params) {
					params[i] = dd
				}
			}
		}
	}
	return names, params
}

type flateDecoder struct{ limits Limits }

func (flateDecoder) Name() string { return "FlateDecode" }

func NewFlateDecoder(limits Limits) Decoder { return flateDecoder{limits: limits} }

// Decode accepts zlib-wrapped data as the format requires, and bare deflate
// data as some producers emit.
func (d flateDecoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	var r io.ReadCloser
	zr, err := zlib.NewReader(bytes.NewReader(in))
	if err != nil {
		r = flate.NewReader(bytes.NewReader(in))
	} else {
		r = zr
	}
	defer r.Close()

	out, err := d.readLimited(r)
	if err != nil {
		return nil, err
	}
	return applyPredictor(out, params)
}

func (d flateDecoder) readLimited(r io.Reader) ([]byte, error) {
	var out bytes.Buffer
	if d.limits.MaxDecompressedSize > 0 {
		r = io.LimitReader(r, d.limits.MaxDecompressedSize+1)
	}
	_, err := io.Copy(&out, r)
	// Truncated streams are common; keep what was inflated.
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		if out.Len() == 0 {
			return nil, err
		}
	}
	if d.limits.MaxDecompressedSize > 0 && int64(out.Len()) > d.limits.MaxDecompressedSize {
		return nil, ErrTooLarge
	}
	return out.Bytes(), nil
}

type ascii85Decoder struct{}

func (ascii85Decoder) Name() string { return "ASCII85Decode" }

func (ascii85Decoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	trimmed := bytes.TrimSpace(in)
	trimmed = bytes.TrimPrefix(trimmed, []byte("<~"))
	if i := bytes.Index(trimmed, []byte("~>")); i >= 0 {
		trimmed = trimmed[:i]
	}
	out := make([]byte, 4*len(trimmed)+4)
	n, _, err := stdascii85.Decode(out, trimmed, true)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

func NewASCII85Decoder() Decoder { return ascii85Decoder{} }

type asciiHexDecoder struct{}

func (asciiHexDecoder) Name() string { return "ASCIIHexDecode" }

func (asciiHexDecoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	digits := make([]byte, 0, len(in))
	for _, c := range in {
		if c == '>' {
			break
		}
		switch c {
		case ' ', '\t', '\r', '\n', '\f', 0:
			continue
		}
		digits = append(digits, c)
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, hex.DecodedLen(len(digits)))
	n, err := hex.Decode(out, digits)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

func NewASCIIHexDecoder() Decoder { return asciiHexDecoder{} }

type runLengthDecoder struct{}

func (runLengthDecoder) Name() string { return "RunLengthDecode" }

func (runLengthDecoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	var out bytes.Buffer
	for i := 0; i < len(in); {
		l := int(in[i])
		i++
		switch {
		case l == 128:
			return out.Bytes(), nil
		case l < 128:
			end := i + l + 1
			if end > len(in) {
				return nil, errors.New("run length literal overruns input")
			}
			out.Write(in[i:end])
			i = end
		default:
			if i >= len(in) {
				return nil, errors.New("run length repeat missing byte")
			}
			out.Write(bytes.Repeat(in[i:i+1], 257-l))
			i++
		}
	}
	return out.Bytes(), nil
}

func NewRunLengthDecoder() Decoder { return runLengthDecoder{} }
