package writer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/wudi/splitpdf/geo"
	"github.com/wudi/splitpdf/ir/raw"
	"github.com/wudi/splitpdf/parser"
)

// buildSourcePDF writes objs as objects 1..n followed by a classic xref.
func buildSourcePDF(objs ...string) []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, body := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xrefOffset := buf.Len()
	fmt.Fprintf(buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xrefOffset)
	return buf.Bytes()
}

func openSource(t *testing.T) *parser.Document {
	t.Helper()
	data := buildSourcePDF(
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 /MediaBox [0 0 800 400] >>",
		"<< /Type /Page /Parent 2 0 R /Resources << /Font << /F1 4 0 R >> /ExtGState << /G1 5 0 R >> >> /Contents [6 0 R 7 0 R] >>",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Self 4 0 R >>",
		"<< /Type /ExtGState /CA 0.5 /Parent 2 0 R /Missing 40 0 R >>",
		"<< /Length 3 >>\nstream\nq 1\nendstream",
		"<< /Length 12 >>\nstream\nBT (Hi) Tj Q\nendstream",
	)
	doc, err := parser.NewDocumentParser(parser.Config{}).ParseBytes(context.Background(), data)
	if err != nil {
		t.Fatalf("parse source: %v", err)
	}
	return doc
}

func splitInHalves(t *testing.T, src *parser.Document, cfg Config) []byte {
	t.Helper()
	var out bytes.Buffer
	w, err := Create(context.Background(), &out, cfg)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	page, err := src.Page(0)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	for _, tx := range []float64{0, -400} {
		if err := w.BeginPage(geo.Rect{Width: 400, Height: 400}); err != nil {
			t.Fatalf("begin: %v", err)
		}
		if err := w.Transform(geo.Translate(tx, 0)); err != nil {
			t.Fatalf("transform: %v", err)
		}
		if err := w.DrawPage(page); err != nil {
			t.Fatalf("draw: %v", err)
		}
		if err := w.EndPage(); err != nil {
			t.Fatalf("end: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return out.Bytes()
}

func resolveDict(t *testing.T, doc *parser.Document, obj raw.Object) *raw.DictObj {
	t.Helper()
	v, err := doc.Resolve(context.Background(), obj)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	switch d := v.(type) {
	case *raw.DictObj:
		return d
	case *raw.StreamObj:
		return d.Dict
	}
	t.Fatalf("expected dictionary, got %T", v)
	return nil
}

func TestWriterOutputReparses(t *testing.T) {
	src := openSource(t)
	data := splitInHalves(t, src, Config{Deterministic: true, Info: parser.Info{Title: "Report ✓"}})

	out, err := parser.NewDocumentParser(parser.Config{}).ParseBytes(context.Background(), data)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if out.NumPages() != 2 {
		t.Fatalf("expected 2 pages, got %d", out.NumPages())
	}
	if out.Info().Producer != "splitpdf" || out.Info().Title != "Report ✓" {
		t.Fatalf("info = %+v", out.Info())
	}

	var forms []raw.Object
	for i := 0; i < 2; i++ {
		p, err := out.Page(i)
		if err != nil {
			t.Fatalf("page %d: %v", i, err)
		}
		if p.MediaBox() != (geo.Rect{Width: 400, Height: 400}) {
			t.Fatalf("page %d media box %v", i, p.MediaBox())
		}
		contents, err := p.Contents(context.Background())
		if err != nil || len(contents) != 1 {
			t.Fatalf("page %d contents: %v %v", i, contents, err)
		}
		text, err := out.DecodeStream(context.Background(), contents[0])
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		want := []string{"q 1 0 0 1 0 0 cm /Pg1 Do Q\n", "q 1 0 0 1 -400 0 cm /Pg1 Do Q\n"}[i]
		if string(text) != want {
			t.Fatalf("page %d content %q, want %q", i, text, want)
		}
		res := resolveDict(t, out, p.Resources())
		xobjs := resolveDict(t, out, res.KV["XObject"])
		forms = append(forms, xobjs.KV["Pg1"])
	}
	if forms[0].(raw.RefObj).R != forms[1].(raw.RefObj).R {
		t.Fatalf("both halves must share one form: %v", forms)
	}

	formObj, _ := out.Resolve(context.Background(), forms[0])
	form := formObj.(*raw.StreamObj)
	if sub, _ := form.Dict.Name("Subtype"); sub != "Form" {
		t.Fatalf("subtype %q", sub)
	}
	bbox, _ := form.Dict.Get("BBox")
	if got := bbox.(*raw.ArrayObj); got.Len() != 4 || got.Items[2].(raw.NumberObj).Int() != 800 {
		t.Fatalf("bbox %v", bbox)
	}
	body, err := out.DecodeStream(context.Background(), form)
	if err != nil || string(body) != "q 1\nBT (Hi) Tj Q" {
		t.Fatalf("form content %q %v", body, err)
	}

	res := resolveDict(t, out, form.Dict.KV["Resources"])
	fontRef := resolveDict(t, out, res.KV["Font"]).KV["F1"].(raw.RefObj)
	font := resolveDict(t, out, fontRef)
	if base, _ := font.Name("BaseFont"); base != "Helvetica" {
		t.Fatalf("font not copied: %v", font.KV)
	}
	if self := font.KV["Self"].(raw.RefObj); self.R != fontRef.R {
		t.Fatalf("self reference should point at the copy, got %v want %v", self.R, fontRef.R)
	}
	gs := resolveDict(t, out, resolveDict(t, out, res.KV["ExtGState"]).KV["G1"])
	if _, ok := gs.Get("Parent"); ok {
		t.Fatalf("/Parent must not be copied")
	}
	if _, ok := gs.Get("Missing"); ok {
		t.Fatalf("dangling references must become null")
	}
	if ca, _ := raw.Number(gs.KV["CA"]); ca != 0.5 {
		t.Fatalf("CA = %v", ca)
	}
}

func TestWriterSingleStreamCopiedEncoded(t *testing.T) {
	data := buildSourcePDF(
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /Contents 4 0 R >>",
		"<< /Length 9 /Filter /ASCIIHexDecode >>\nstream\n42542045>\nendstream",
	)
	src, err := parser.NewDocumentParser(parser.Config{}).ParseBytes(context.Background(), data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	p, _ := src.Page(0)

	var buf bytes.Buffer
	w, _ := Create(context.Background(), &buf, Config{Compression: -1, Deterministic: true})
	w.BeginPage(geo.Rect{Width: 612, Height: 396})
	if err := w.DrawPage(p); err != nil {
		t.Fatalf("draw: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("42542045>")) || !bytes.Contains(buf.Bytes(), []byte("/Filter /ASCIIHexDecode")) {
		t.Fatalf("single content stream should be copied encoded:\n%s", buf.Bytes())
	}
	if !bytes.Contains(buf.Bytes(), []byte("q 1 0 0 1 0 0 cm /Pg1 Do Q")) {
		t.Fatalf("stored page content expected uncompressed")
	}
}

func TestWriterStateErrors(t *testing.T) {
	var buf bytes.Buffer
	w, err := Create(context.Background(), &buf, Config{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := w.Transform(geo.Translate(1, 1)); !errors.Is(err, ErrNoPage) {
		t.Fatalf("transform without page: %v", err)
	}
	if err := w.EndPage(); !errors.Is(err, ErrNoPage) {
		t.Fatalf("end without page: %v", err)
	}
	if err := w.BeginPage(geo.Rect{Width: 1, Height: 1}); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := w.BeginPage(geo.Rect{Width: 1, Height: 1}); !errors.Is(err, ErrPageOpen) {
		t.Fatalf("nested begin: %v", err)
	}
	// Close ends the open page.
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if w.PageCount() != 1 {
		t.Fatalf("expected the open page to be ended, got %d pages", w.PageCount())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second close must be a no-op: %v", err)
	}
	if err := w.BeginPage(geo.Rect{Width: 1, Height: 1}); !errors.Is(err, ErrClosed) {
		t.Fatalf("begin after close: %v", err)
	}
	if !strings.HasSuffix(buf.String(), "%%EOF\n") {
		t.Fatalf("missing EOF marker")
	}
}

type failingWriter struct{ after int }

func (f *failingWriter) Write(p []byte) (int, error) {
	if f.after <= 0 {
		return 0, errors.New("disk full")
	}
	f.after--
	return len(p), nil
}

func TestWriterErrorsAreSticky(t *testing.T) {
	if _, err := Create(context.Background(), &failingWriter{}, Config{}); err == nil {
		t.Fatalf("expected header write error")
	}
	w, err := Create(context.Background(), &failingWriter{after: 1}, Config{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	w.BeginPage(geo.Rect{Width: 10, Height: 10})
	if err := w.EndPage(); err == nil {
		t.Fatalf("expected write error")
	}
	if err := w.BeginPage(geo.Rect{Width: 10, Height: 10}); err == nil {
		t.Fatalf("error must be sticky")
	}
	if err := w.Close(); err == nil {
		t.Fatalf("close must report the failure")
	}
}

func TestWriterDeterministicID(t *testing.T) {
	src := openSource(t)
	a := splitInHalves(t, src, Config{Deterministic: true})
	b := splitInHalves(t, src, Config{Deterministic: true})
	if !bytes.Equal(a, b) {
		t.Fatalf("deterministic output differs")
	}
	if bytes.Contains(a, []byte("CreationDate")) {
		t.Fatalf("deterministic output must not carry a creation date")
	}
}

func TestWriterDeterministicIDFollowsContent(t *testing.T) {
	open := func(text string) *parser.Document {
		data := buildSourcePDF(
			"<< /Type /Catalog /Pages 2 0 R >>",
			"<< /Type /Pages /Kids [3 0 R] /Count 1 /MediaBox [0 0 800 400] >>",
			"<< /Type /Page /Parent 2 0 R /Contents 4 0 R >>",
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(text), text),
		)
		doc, err := parser.NewDocumentParser(parser.Config{}).ParseBytes(context.Background(), data)
		if err != nil {
			t.Fatalf("parse source: %v", err)
		}
		return doc
	}
	id := func(out []byte) string {
		i := bytes.Index(out, []byte("/ID"))
		if i < 0 {
			t.Fatalf("output has no /ID")
		}
		return string(out[i : i+bytes.IndexByte(out[i:], ']')])
	}

	cfg := Config{Deterministic: true, Compression: -1}
	a := id(splitInHalves(t, open("(A) Tj"), cfg))
	b := id(splitInHalves(t, open("(B) Tj"), cfg))
	if a == b {
		t.Fatalf("same boxes with different content share %s", a)
	}
	if again := id(splitInHalves(t, open("(A) Tj"), cfg)); again != a {
		t.Fatalf("id changed between identical runs: %s vs %s", a, again)
	}
}

func TestSerializePrimitive(t *testing.T) {
	tests := []struct {
		name string
		in   raw.Object
		want string
	}{
		{"name escaped", raw.NameLiteral("A B#"), "/A#20B#23"},
		{"float", raw.NumberFloat(0.25), "0.25"},
		{"negative float", raw.NumberFloat(-306.5), "-306.5"},
		{"int", raw.NumberInt(-7), "-7"},
		{"literal", raw.Str([]byte("a(b)\\\n\x01")), `(a\(b\)\\\n\001)`},
		{"hex", raw.HexStr([]byte{0xFE, 0xFF}), "<FEFF>"},
		{"array", raw.NewArray(raw.Bool(true), raw.NullObj{}, raw.Ref(3, 0)), "[true null 3 0 R]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(serializePrimitive(tt.in)); got != tt.want {
				t.Fatalf("got %q want %q", got, tt.want)
			}
		})
	}
}

func TestNumberFormatting(t *testing.T) {
	if got := formatNumber(-0.0); got != "0" {
		t.Fatalf("negative zero formatted as %q", got)
	}
	if got := rectArray(geo.Rect{X: 1.5, Width: 2, Height: 3}); string(serializePrimitive(got)) != "[1.5 0 3.5 3]" {
		t.Fatalf("rect array %s", serializePrimitive(got))
	}
}
