package filters

import (
	"context"
	"errors"

	"github.com/wudi/splitpdf/ir/raw"
)

const (
	lzwClear    = 256
	lzwEOD      = 257
	lzwMaxCodes = 4096
)

type lzwDecoder struct{}

func (lzwDecoder) Name() string { return "LZWDecode" }

func NewLZWDecoder() Decoder { return lzwDecoder{} }

// Decode implements the variable-width (9 to 12 bit, MSB first) LZW of
// ISO 32000 7.4.4, honouring EarlyChange (default 1).
func (lzwDecoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	early := 1
	if params != nil {
		if v, ok := params.Int("EarlyChange"); ok {
			early = int(v)
		}
	}

	table := make([][]byte, 258, lzwMaxCodes)
	for i := 0; i < 256; i++ {
		table[i] = []byte{byte(i)}
	}
	br := bitReader{data: in}
	width := 9
	var out []byte
	var prev []byte
	for {
		code, ok := br.read(width)
		if !ok {
			break
		}
		if code == lzwClear {
			table = table[:258]
			width = 9
			prev = nil
			continue
		}
		if code == lzwEOD {
			break
		}
		var entry []byte
		switch {
		case code < len(table) && table[code] != nil:
			entry = table[code]
		case code == len(table) && prev != nil:
			entry = append(append([]byte(nil), prev...), prev[0])
		default:
			return nil, errors.New("lzw: invalid code")
		}
		out = append(out, entry...)
		if prev != nil && len(table) < lzwMaxCodes {
			table = append(table, append(append([]byte(nil), prev...), entry[0]))
		}
		prev = entry

		next := len(table) + early
		switch {
		case next >= 2048:
			width = 12
		case next >= 1024:
			width = 11
		case next >= 512:
			width = 10
		default:
			width = 9
		}
	}
	return applyPredictor(out, params)
}

type bitReader struct {
	data []byte
	pos  int // bit offset
}

func (b *bitReader) read(n int) (int, bool) {
	if b.pos+n > len(b.data)*8 {
		return 0, false
	}
	v := 0
	for i := 0; i < n; i++ {
		byteIdx := (b.pos + i) / 8
		bit := 7 - (b.pos+i)%8
		v = v<<1 | int(b.data[byteIdx]>>uint(bit)&1)
	}
	b.pos += n
	return v, true
}
