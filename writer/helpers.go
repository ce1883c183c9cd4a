package writer

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"time"

	"github.com/wudi/splitpdf/filters"
	"github.com/wudi/splitpdf/geo"
	"github.com/wudi/splitpdf/ir/raw"
)

const producer = "splitpdf"

func rectArray(r geo.Rect) *raw.ArrayObj {
	c := r.Corners()
	return raw.NewArray(number(c[0]), number(c[1]), number(c[2]), number(c[3]))
}

// number keeps integral values integers so boxes read back exactly.
func number(f float64) raw.NumberObj {
	if f == float64(int64(f)) {
		return raw.NumberInt(int64(f))
	}
	return raw.NumberFloat(f)
}

func formatNumber(f float64) string {
	if f == 0 {
		return "0"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func flateEncode(data []byte, level int) ([]byte, error) {
	return filters.FlateEncode(data, level)
}

func (w *Writer) infoDict() *raw.DictObj {
	info := raw.Dict()
	set := func(key, val string) {
		if val != "" {
			info.Set(key, raw.EncodeText(val))
		}
	}
	set("Title", w.cfg.Info.Title)
	set("Author", w.cfg.Info.Author)
	set("Subject", w.cfg.Info.Subject)
	set("Keywords", w.cfg.Info.Keywords)
	set("Creator", w.cfg.Info.Creator)
	set("Producer", producer)
	if !w.cfg.Deterministic {
		set("CreationDate", formatDate(time.Now()))
	}
	return info
}

func formatDate(t time.Time) string {
	_, offset := t.Zone()
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	return fmt.Sprintf("D:%s%s%02d'%02d'", t.Format("20060102150405"), sign, offset/3600, (offset%3600)/60)
}

// fileID returns the trailer /ID pair. Deterministic output uses the digest
// of the bytes written before the trailer; otherwise both halves are random.
func fileID(deterministic bool, digest []byte) [2][]byte {
	seed := digest[:16]
	if deterministic {
		return [2][]byte{seed, seed}
	}
	id := make([]byte, 16)
	if _, err := rand.Read(id); err != nil {
		id = seed
	}
	idB := make([]byte, len(id))
	copy(idB, id)
	return [2][]byte{id, idB}
}
