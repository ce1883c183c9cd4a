package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/wudi/splitpdf/ir/raw"
	"github.com/wudi/splitpdf/observability"
	"github.com/wudi/splitpdf/recovery"
	"github.com/wudi/splitpdf/security"
	"github.com/wudi/splitpdf/xref"
)

var (
	ErrNoHeader     = errors.New("missing %PDF header")
	ErrEncrypted    = errors.New("document is encrypted")
	ErrNoCatalog    = errors.New("document catalog missing")
	ErrNoPageTree   = errors.New("page tree missing")
	ErrPageTreeLoop = errors.New("page tree contains a cycle")
)

// Config controls high-level PDF parsing (xref resolution + object loading).
type Config struct {
	Limits security.Limits
	Cache  Cache
	Logger observability.Logger
	// Recovery decides whether damaged page tree entries are skipped or
	// fail the open. Nil means a new lenient strategy per document.
	Recovery recovery.Strategy
}

// DocumentParser opens documents for page-level access.
type DocumentParser struct {
	cfg Config
}

func NewDocumentParser(cfg Config) *DocumentParser {
	cfg.Limits = cfg.Limits.WithDefaults()
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	return &DocumentParser{cfg: cfg}
}

// Parse reads the whole of r and opens it.
func (p *DocumentParser) Parse(ctx context.Context, r io.ReaderAt) (*Document, error) {
	return p.ParseBytes(ctx, readAll(r))
}

// ParseBytes opens a document held in memory. The slice must not be
// modified while the document is in use.
func (p *DocumentParser) ParseBytes(ctx context.Context, data []byte) (*Document, error) {
	version, err := detectHeaderVersion(data)
	if err != nil {
		return nil, err
	}

	resolver := xref.NewResolver(xref.Config{
		MaxDepth: p.cfg.Limits.MaxXRefDepth,
		Limits:   p.cfg.Limits.Filters(),
		Scanner:  p.cfg.Limits.Scanner(),
	})
	table, err := resolver.Resolve(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("resolve xref: %w", err)
	}
	trailer := table.Trailer()
	if _, ok := trailer.Get("Encrypt"); ok {
		return nil, ErrEncrypted
	}

	loader, err := (&ObjectLoaderBuilder{}).
		WithData(data).
		WithXRef(table).
		WithLimits(p.cfg.Limits).
		WithCache(p.cfg.Cache).
		build()
	if err != nil {
		return nil, err
	}

	doc := &Document{
		version:  version,
		trailer:  &raw.Trailer{Dict: trailer, Version: version},
		loader:   loader,
		logger:   p.cfg.Logger,
		recovery: p.cfg.Recovery,
	}
	if doc.recovery == nil {
		doc.recovery = recovery.NewLenientStrategy()
	}

	rootRef, ok := trailer.Get("Root")
	if !ok {
		return nil, ErrNoCatalog
	}
	catalogObj, err := loader.resolve(ctx, rootRef)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	catalog, ok := catalogObj.(*raw.DictObj)
	if !ok {
		return nil, ErrNoCatalog
	}
	if v, ok := catalog.Name("Version"); ok && v > doc.version {
		doc.version = v
	}

	pagesRef, ok := catalog.Get("Pages")
	if !ok {
		return nil, ErrNoPageTree
	}
	if err := doc.walkPages(ctx, pagesRef, p.cfg.Limits); err != nil {
		return nil, err
	}
	doc.info = doc.readInfo(ctx)

	p.cfg.Logger.Debug("document opened",
		observability.String("version", doc.version),
		observability.Int("pages", len(doc.pages)),
		observability.Int("xref_sections", table.Sections()))
	return doc, nil
}

func detectHeaderVersion(data []byte) (string, error) {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	idx := bytes.Index(head, []byte("%PDF-"))
	if idx < 0 {
		return "", ErrNoHeader
	}
	rest := head[idx+len("%PDF-"):]
	end := 0
	for end < len(rest) && (rest[end] == '.' || (rest[end] >= '0' && rest[end] <= '9')) {
		end++
	}
	if end == 0 {
		return "", ErrNoHeader
	}
	return string(rest[:end]), nil
}

func readAll(r io.ReaderAt) []byte {
	var buf bytes.Buffer
	const chunk = int64(32 * 1024)
	for off := int64(0); ; off += chunk {
		tmp := make([]byte, chunk)
		n, err := r.ReadAt(tmp, off)
		if n > 0 {
			buf.Write(tmp[:n])
		}
		if err != nil || int64(n) < chunk {
			break
		}
	}
	return buf.Bytes()
}
