package filters

import (
	"bytes"
	"compress/flate"
	"compress/lzw"
	"context"
	"encoding/ascii85"
	"errors"
	"testing"

	"github.com/wudi/splitpdf/ir/raw"
)

func decodeParms(predictor, columns int64) *raw.DictObj {
	d := raw.Dict()
	d.Set("Predictor", raw.NumberInt(predictor))
	d.Set("Columns", raw.NumberInt(columns))
	return d
}

func TestFlateDecodeZlib(t *testing.T) {
	enc, err := FlateEncode([]byte("hello world"), flate.BestSpeed)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := NewFlateDecoder(Limits{}).Decode(context.Background(), enc, nil)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if string(out) != "hello world" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestFlateDecodeRawDeflate(t *testing.T) {
	var buf bytes.Buffer
	w, _ := flate.NewWriter(&buf, flate.BestSpeed)
	w.Write([]byte("bare deflate"))
	w.Close()

	out, err := NewFlateDecoder(Limits{}).Decode(context.Background(), buf.Bytes(), nil)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if string(out) != "bare deflate" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestFlateDecodeWithPNGPredictor(t *testing.T) {
	// Two rows of two columns, encoded with the Up filter.
	enc, _ := FlateEncode([]byte{2, 1, 2, 2, 1, 1}, flate.DefaultCompression)
	out, err := NewFlateDecoder(Limits{}).Decode(context.Background(), enc, decodeParms(12, 2))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if !bytes.Equal(out, []byte{1, 2, 2, 3}) {
		t.Fatalf("unexpected output: %v", out)
	}
}

func TestPNGPredictors(t *testing.T) {
	tests := []struct {
		name    string
		in      []byte
		columns int64
		want    []byte
	}{
		{"none", []byte{0, 5, 6, 7}, 3, []byte{5, 6, 7}},
		{"sub", []byte{1, 10, 12, 20}, 3, []byte{10, 22, 42}},
		{"up", []byte{0, 1, 2, 2, 1, 1}, 2, []byte{1, 2, 2, 3}},
		{"average", []byte{0, 4, 8, 3, 2, 2}, 2, []byte{4, 8, 4, 8}},
		{"paeth", []byte{0, 1, 2, 4, 0, 0}, 2, []byte{1, 2, 1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := applyPredictor(tt.in, decodeParms(15, tt.columns))
			if err != nil {
				t.Fatalf("predictor: %v", err)
			}
			if !bytes.Equal(out, tt.want) {
				t.Fatalf("got %v want %v", out, tt.want)
			}
		})
	}
}

func TestPNGPredictorRejectsBadFilter(t *testing.T) {
	if _, err := applyPredictor([]byte{9, 1, 1}, decodeParms(12, 2)); err == nil {
		t.Fatalf("expected error for filter type 9")
	}
}

func TestPredictorRejectsOversizedRow(t *testing.T) {
	tests := []struct {
		name    string
		pred    int64
		columns int64
	}{
		{"png huge columns", 15, 1 << 40},
		{"png row longer than data", 12, 64},
		{"tiff huge columns", 2, 1 << 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := applyPredictor([]byte{0, 1, 2, 3}, decodeParms(tt.pred, tt.columns)); err == nil {
				t.Fatalf("expected error for /Columns %d", tt.columns)
			}
		})
	}
}

func TestTIFFPredictor(t *testing.T) {
	out, err := applyPredictor([]byte{1, 1, 1, 5, 1, 1}, decodeParms(2, 3))
	if err != nil {
		t.Fatalf("predictor: %v", err)
	}
	if !bytes.Equal(out, []byte{1, 2, 3, 5, 6, 7}) {
		t.Fatalf("unexpected output: %v", out)
	}
}

func TestLZWDecode(t *testing.T) {
	for _, input := range []string{"TOBEORNOTTOBEORTOBEORNOT", "aaaaaaaaaaaaaa", "x"} {
		var buf bytes.Buffer
		w := lzw.NewWriter(&buf, lzw.MSB, 8)
		w.Write([]byte(input))
		w.Close()

		out, err := NewLZWDecoder().Decode(context.Background(), buf.Bytes(), nil)
		if err != nil {
			t.Fatalf("%q: decode error: %v", input, err)
		}
		if string(out) != input {
			t.Fatalf("got %q want %q", out, input)
		}
	}
}

func TestLZWDecodeRejectsUndefinedCode(t *testing.T) {
	// 9-bit code 300 with an empty table.
	in := []byte{300 >> 1, (300 & 1) << 7}
	if _, err := NewLZWDecoder().Decode(context.Background(), in, nil); err == nil {
		t.Fatalf("expected invalid code error")
	}
}

func TestASCII85Decode(t *testing.T) {
	src := []byte("splitting pages")
	enc := make([]byte, ascii85.MaxEncodedLen(len(src)))
	n := ascii85.Encode(enc, src)
	in := append(enc[:n], []byte("~>")...)

	out, err := NewASCII85Decoder().Decode(context.Background(), in, nil)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if !bytes.Equal(out, src) {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestASCIIHexDecode(t *testing.T) {
	out, err := NewASCIIHexDecoder().Decode(context.Background(), []byte("48 65\n6c6C 6>"), nil)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if string(out) != "Hell`" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestRunLengthDecode(t *testing.T) {
	in := []byte{2, 'a', 'b', 'c', 254, 'x', 128, 'z'}
	out, err := NewRunLengthDecoder().Decode(context.Background(), in, nil)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if string(out) != "abcxxx" {
		t.Fatalf("unexpected output: %q", out)
	}
	if _, err := NewRunLengthDecoder().Decode(context.Background(), []byte{5, 'a'}, nil); err == nil {
		t.Fatalf("expected overrun error")
	}
}

func TestPipelineChainsFilters(t *testing.T) {
	flated, _ := FlateEncode([]byte("chained"), flate.DefaultCompression)
	enc := make([]byte, ascii85.MaxEncodedLen(len(flated)))
	enc = enc[:ascii85.Encode(enc, flated)]

	dict := raw.Dict()
	dict.Set("Filter", raw.NewArray(raw.NameLiteral("A85"), raw.NameLiteral("FlateDecode")))
	p := NewDefaultPipeline(Limits{})
	out, err := p.DecodeStream(context.Background(), raw.NewStream(dict, enc))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if string(out) != "chained" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestPipelineUnknownFilter(t *testing.T) {
	p := NewDefaultPipeline(Limits{})
	_, err := p.Decode(context.Background(), []byte("x"), []string{"JBIG2Decode"}, nil)
	if !errors.Is(err, ErrUnknownFilter) {
		t.Fatalf("expected ErrUnknownFilter, got %v", err)
	}
}

func TestPipelineSizeLimit(t *testing.T) {
	enc, _ := FlateEncode(bytes.Repeat([]byte("a"), 64), flate.DefaultCompression)
	p := NewDefaultPipeline(Limits{MaxDecompressedSize: 16})
	_, err := p.Decode(context.Background(), enc, []string{"FlateDecode"}, nil)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestPipelineHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewDefaultPipeline(Limits{}).Decode(ctx, []byte("41>"), []string{"ASCIIHexDecode"}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestForStreamAlignsParams(t *testing.T) {
	dict := raw.Dict()
	dict.Set("Filter", raw.NewArray(raw.NameLiteral("ASCII85Decode"), raw.NameLiteral("FlateDecode")))
	dict.Set("DecodeParms", raw.NewArray(raw.NullObj{}, decodeParms(12, 4)))

	names, params := ForStream(dict)
	if len(names) != 2 || names[1] != "FlateDecode" {
		t.Fatalf("unexpected names: %v", names)
	}
	if params[0] != nil || params[1] == nil {
		t.Fatalf("params not aligned: %v", params)
	}
	if v, _ := params[1].Int("Columns"); v != 4 {
		t.Fatalf("unexpected columns %d", v)
	}
}
