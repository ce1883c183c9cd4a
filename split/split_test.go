package split_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/wudi/splitpdf/geo"
	"github.com/wudi/splitpdf/imposition"
	"github.com/wudi/splitpdf/ir/raw"
	"github.com/wudi/splitpdf/parser"
	"github.com/wudi/splitpdf/split"
	"github.com/wudi/splitpdf/writer"
)

func buildPDF(objs ...string) []byte {
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

// twoLandscapePages has pages A and B, each 800x400.
func twoLandscapePages() []byte {
	return buildPDF(
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R 4 0 R] /Count 2 /MediaBox [0 0 800 400] >>",
		"<< /Type /Page /Parent 2 0 R /Contents 5 0 R >>",
		"<< /Type /Page /Parent 2 0 R /Contents 6 0 R >>",
		"<< /Length 8 >>\nstream\n(A) Tj Q\nendstream",
		"<< /Length 8 >>\nstream\n(B) Tj Q\nendstream",
	)
}

func reparse(t *testing.T, data []byte) *parser.Document {
	t.Helper()
	doc, err := parser.NewDocumentParser(parser.Config{}).ParseBytes(context.Background(), data)
	if err != nil {
		t.Fatalf("reparse output: %v", err)
	}
	return doc
}

func resolveDict(t *testing.T, doc *parser.Document, obj raw.Object) *raw.DictObj {
	t.Helper()
	v, err := doc.Resolve(context.Background(), obj)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	d, ok := v.(*raw.DictObj)
	if !ok {
		t.Fatalf("expected dictionary, got %T", v)
	}
	return d
}

// describePage renders output page i as "<translation> <form content>".
func describePage(t *testing.T, doc *parser.Document, i int) string {
	t.Helper()
	ctx := context.Background()
	p, err := doc.Page(i)
	if err != nil {
		t.Fatalf("page %d: %v", i, err)
	}
	if p.MediaBox() != (geo.Rect{Width: 400, Height: 400}) {
		t.Fatalf("page %d media box %v", i, p.MediaBox())
	}
	contents, err := p.Contents(ctx)
	if err != nil || len(contents) != 1 {
		t.Fatalf("page %d contents: %v %v", i, contents, err)
	}
	ops, err := doc.DecodeStream(ctx, contents[0])
	if err != nil {
		t.Fatalf("page %d decode: %v", i, err)
	}
	var tx, ty float64
	if _, err := fmt.Sscanf(string(ops), "q 1 0 0 1 %g %g cm /Pg1 Do Q", &tx, &ty); err != nil {
		t.Fatalf("page %d content %q: %v", i, ops, err)
	}

	xobjs := resolveDict(t, doc, resolveDict(t, doc, p.Resources()).KV["XObject"])
	formObj, err := doc.Resolve(ctx, xobjs.KV["Pg1"])
	if err != nil {
		t.Fatalf("page %d form: %v", i, err)
	}
	form, ok := formObj.(*raw.StreamObj)
	if !ok {
		t.Fatalf("page %d form is %T", i, formObj)
	}
	body, err := doc.DecodeStream(ctx, form)
	if err != nil {
		t.Fatalf("page %d form body: %v", i, err)
	}
	return fmt.Sprintf("%g,%g %s", tx, ty, body)
}

func TestStreamOrders(t *testing.T) {
	tests := []struct {
		order imposition.Order
		want  []string
	}{
		{imposition.Natural, []string{"0,0 (A) Tj Q", "-400,0 (A) Tj Q", "0,0 (B) Tj Q", "-400,0 (B) Tj Q"}},
		{imposition.Booklet, []string{"-400,0 (A) Tj Q", "0,0 (B) Tj Q", "-400,0 (B) Tj Q", "0,0 (A) Tj Q"}},
	}
	for _, tt := range tests {
		t.Run(tt.order.String(), func(t *testing.T) {
			var out bytes.Buffer
			stats, err := split.Stream(context.Background(), bytes.NewReader(twoLandscapePages()), &out, split.Options{Order: tt.order})
			if err != nil {
				t.Fatalf("Stream: %v", err)
			}
			if stats != (imposition.Stats{InputPages: 2, OutputPages: 4}) {
				t.Fatalf("stats = %+v", stats)
			}
			doc := reparse(t, out.Bytes())
			if doc.NumPages() != 4 {
				t.Fatalf("output has %d pages", doc.NumPages())
			}
			for i, want := range tt.want {
				if got := describePage(t, doc, i); got != want {
					t.Fatalf("page %d = %q, want %q", i, got, want)
				}
			}
		})
	}
}

func TestStreamSkipsBrokenPages(t *testing.T) {
	data := buildPDF(
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R 9 0 R] /Count 2 /MediaBox [0 0 800 400] >>",
		"<< /Type /Page /Parent 2 0 R /Contents 4 0 R >>",
		"<< /Length 8 >>\nstream\n(A) Tj Q\nendstream",
	)
	var out bytes.Buffer
	stats, err := split.Stream(context.Background(), bytes.NewReader(data), &out, split.Options{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if stats != (imposition.Stats{InputPages: 2, OutputPages: 2, Skipped: 2}) {
		t.Fatalf("stats = %+v", stats)
	}
	if n := reparse(t, out.Bytes()).NumPages(); n != 2 {
		t.Fatalf("output has %d pages", n)
	}
}

func TestStreamStrictRejectsBrokenPages(t *testing.T) {
	data := buildPDF(
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R 9 0 R] /Count 2 /MediaBox [0 0 800 400] >>",
		"<< /Type /Page /Parent 2 0 R >>",
	)
	var out bytes.Buffer
	_, err := split.Stream(context.Background(), bytes.NewReader(data), &out, split.Options{Strict: true})
	if !errors.Is(err, split.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestStreamEmptyDocument(t *testing.T) {
	data := buildPDF(
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [] /Count 0 >>",
	)
	var out bytes.Buffer
	stats, err := split.Stream(context.Background(), bytes.NewReader(data), &out, split.Options{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if stats != (imposition.Stats{}) {
		t.Fatalf("stats = %+v", stats)
	}
	if n := reparse(t, out.Bytes()).NumPages(); n != 0 {
		t.Fatalf("output has %d pages", n)
	}
}

func TestStreamInvalidInput(t *testing.T) {
	var out bytes.Buffer
	_, err := split.Stream(context.Background(), bytes.NewReader([]byte("not a pdf")), &out, split.Options{})
	if !errors.Is(err, split.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if !errors.Is(err, parser.ErrNoHeader) {
		t.Fatalf("cause should be kept: %v", err)
	}
}

func TestStreamUndecodableContentIsInvalidInput(t *testing.T) {
	data := buildPDF(
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /Contents [4 0 R 5 0 R] >>",
		"<< /Length 3 /Filter /BogusDecode >>\nstream\nxyz\nendstream",
		"<< /Length 1 >>\nstream\nQ\nendstream",
	)
	var out bytes.Buffer
	_, err := split.Stream(context.Background(), bytes.NewReader(data), &out, split.Options{})
	if !errors.Is(err, split.ErrInvalidInput) || !errors.Is(err, writer.ErrSource) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

type failingWriter struct{ left int }

func (f *failingWriter) Write(p []byte) (int, error) {
	if len(p) > f.left {
		n := f.left
		f.left = 0
		return n, errors.New("disk full")
	}
	f.left -= len(p)
	return len(p), nil
}

func TestStreamWriteFailureIsInvalidOutput(t *testing.T) {
	for _, budget := range []int{0, 200} {
		_, err := split.Stream(context.Background(), bytes.NewReader(twoLandscapePages()), &failingWriter{left: budget}, split.Options{})
		if !errors.Is(err, split.ErrInvalidOutput) {
			t.Fatalf("budget %d: expected ErrInvalidOutput, got %v", budget, err)
		}
	}
}

func TestStreamCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer
	_, err := split.Stream(ctx, bytes.NewReader(twoLandscapePages()), &out, split.Options{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if errors.Is(err, split.ErrInvalidOutput) {
		t.Fatalf("cancellation must not be reported as invalid output: %v", err)
	}
}

func TestDefaultOutputPath(t *testing.T) {
	tests := []struct {
		in, suffix, want string
	}{
		{"/docs/scan.pdf", "", "/docs/scan-split.pdf"},
		{"/docs/scan", "", "/docs/scan-split.pdf"},
		{"/docs/archive.tar.pdf", "", "/docs/archive.tar-split.pdf"},
		{"scan.PDF", "-halves", "scan-halves.pdf"},
	}
	for _, tt := range tests {
		if got := split.DefaultOutputPath(tt.in, tt.suffix); got != filepath.FromSlash(tt.want) {
			t.Fatalf("DefaultOutputPath(%q, %q) = %q, want %q", tt.in, tt.suffix, got, tt.want)
		}
	}
}

func TestFile(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "pages.pdf")
	if err := os.WriteFile(input, twoLandscapePages(), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := split.File(context.Background(), input, "", split.Options{Order: imposition.Booklet})
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if res.Output != filepath.Join(dir, "pages-split.pdf") || res.OutputPages != 4 {
		t.Fatalf("result = %+v", res)
	}
	data, err := os.ReadFile(res.Output)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if n := reparse(t, data).NumPages(); n != 4 {
		t.Fatalf("output has %d pages", n)
	}
}

func TestFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := split.File(context.Background(), filepath.Join(dir, "missing.pdf"), "", split.Options{})
	if !errors.Is(err, split.ErrInvalidInput) {
		t.Fatalf("missing input: %v", err)
	}

	bad := filepath.Join(dir, "bad.pdf")
	if err := os.WriteFile(bad, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := split.File(context.Background(), bad, "", split.Options{}); !errors.Is(err, split.ErrInvalidInput) {
		t.Fatalf("garbage input: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "bad-split.pdf")); !os.IsNotExist(err) {
		t.Fatalf("no output may be left behind: %v", err)
	}

	good := filepath.Join(dir, "good.pdf")
	if err := os.WriteFile(good, twoLandscapePages(), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = split.File(context.Background(), good, filepath.Join(dir, "no", "such", "dir.pdf"), split.Options{})
	if !errors.Is(err, split.ErrInvalidOutput) {
		t.Fatalf("unwritable output: %v", err)
	}
}

func TestFileRemovesPartialOutput(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.pdf")
	data := buildPDF(
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /Contents [4 0 R 4 0 R] >>",
		"<< /Length 3 /Filter /BogusDecode >>\nstream\nxyz\nendstream",
	)
	if err := os.WriteFile(input, data, 0o644); err != nil {
		t.Fatal(err)
	}
	output := filepath.Join(dir, "out.pdf")
	if _, err := split.File(context.Background(), input, output, split.Options{}); !errors.Is(err, split.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := os.Stat(output); !os.IsNotExist(err) {
		t.Fatalf("partial output left behind: %v", err)
	}
}
