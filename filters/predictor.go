package filters

import (
	"errors"
	"fmt"

	"github.com/wudi/splitpdf/ir/raw"
)

const (
	maxColors           = 32
	maxBitsPerComponent = 16
)

type predictorParams struct {
	predictor int
	colors    int
	bpc       int
	columns   int
}

func readPredictorParams(params *raw.DictObj) predictorParams {
	p := predictorParams{predictor: 1, colors: 1, bpc: 8, columns: 1}
	if params == nil {
		return p
	}
	if v, ok := params.Int("Predictor"); ok {
		p.predictor = int(v)
	}
	if v, ok := params.Int("Colors"); ok && v > 0 {
		p.colors = int(v)
	}
	if v, ok := params.Int("BitsPerComponent"); ok && v > 0 {
		p.bpc = int(v)
	}
	if v, ok := params.Int("Columns"); ok && v > 0 {
		p.columns = int(v)
	}
	return p
}

// applyPredictor undoes the PNG (10-15) or TIFF (2) predictor named in params.
func applyPredictor(data []byte, params *raw.DictObj) ([]byte, error) {
	p := readPredictorParams(params)
	if p.predictor <= 1 || len(data) == 0 {
		return data, nil
	}
	if p.colors > maxColors || p.bpc > maxBitsPerComponent || p.columns > len(data)*8 {
		return nil, fmt.Errorf("predictor parameters out of range: colors %d bpc %d columns %d", p.colors, p.bpc, p.columns)
	}
	if rowLen := p.rowBytes(); rowLen > len(data) {
		return nil, fmt.Errorf("predictor row length %d exceeds %d bytes of data", rowLen, len(data))
	}
	switch {
	case p.predictor == 2:
		return tiffPredict(data, p)
	case p.predictor >= 10:
		return pngPredict(data, p)
	default:
		return nil, fmt.Errorf("unsupported predictor %d", p.predictor)
	}
}

func (p predictorParams) rowBytes() int { return (p.colors*p.bpc*p.columns + 7) / 8 }

func (p predictorParams) pixelBytes() int {
	bpp := p.colors * p.bpc / 8
	if bpp < 1 {
		return 1
	}
	return bpp
}

func pngPredict(data []byte, p predictorParams) ([]byte, error) {
	rowLen := p.rowBytes()
	if rowLen <= 0 {
		return nil, errors.New("invalid predictor row length")
	}
	bpp := p.pixelBytes()
	stride := rowLen + 1
	out := make([]byte, 0, len(data)/stride*rowLen)
	prev := make([]byte, rowLen)
	for off := 0; off+stride <= len(data); off += stride {
		filter := data[off]
		row := make([]byte, rowLen)
		copy(row, data[off+1:off+stride])
		for i := 0; i < rowLen; i++ {
			var left, upLeft byte
			if i >= bpp {
				left = row[i-bpp]
				upLeft = prev[i-bpp]
			}
			up := prev[i]
			switch filter {
			case 0:
			case 1:
				row[i] += left
			case 2:
				row[i] += up
			case 3:
				row[i] += byte((int(left) + int(up)) / 2)
			case 4:
				row[i] += paeth(left, up, upLeft)
			default:
				return nil, fmt.Errorf("invalid png filter type %d", filter)
			}
		}
		out = append(out, row...)
		prev = row
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	switch {
	case pa <= pb && pa <= pc:
		return a
	case pb <= pc:
		return b
	default:
		return c
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// tiffPredict handles 8-bit components only, which covers the streams the
// reader decodes.
func tiffPredict(data []byte, p predictorParams) ([]byte, error) {
	if p.bpc != 8 {
		return nil, fmt.Errorf("tiff predictor with %d bits per component", p.bpc)
	}
	rowLen := p.rowBytes()
	out := append([]byte(nil), data...)
	for off := 0; off+rowLen <= len(out); off += rowLen {
		for i := p.colors; i < rowLen; i++ {
			out[off+i] += out[off+i-p.colors]
		}
	}
	return out, nil
}
