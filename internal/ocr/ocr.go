// Package ocr turns PDFs and scanned images into plain text, reading a PDF's
// text layer first and falling back to rasterise-and-OCR.
package ocr

import (
	"context"
	"log/slog"
	"os/exec"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/joseph-ayodele/docintake/constants"
	"github.com/joseph-ayodele/docintake/internal/common"
)

type Config struct {
	Enabled bool // OCR fallback; direct PDF text extraction is always attempted

	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	Language    string // default "por"
	TessdataDir string
	DPI         int // rasterization DPI for scanned PDFs, default 300
	MaxPages    int // pages read per PDF, default 20
}

// ConfigFrom maps application configuration onto the extractor's.
func ConfigFrom(c common.OCRConfig) Config {
	return Config{
		Enabled:     c.Enabled,
		Pdftotext:   c.Pdftotext,
		Pdftoppm:    c.Pdftoppm,
		Tesseract:   c.Tesseract,
		Language:    c.Language,
		TessdataDir: c.TessdataDir,
		DPI:         c.DPI,
		MaxPages:    c.MaxPages,
	}
}

type Result struct {
	Text     string
	Pages    int
	Method   string // "pdf-text" | "pdf-ocr" | "image-ocr" | "none"
	Duration time.Duration
	Warnings []string
}

// PageCounter reports how many pages a PDF has.
type PageCounter interface {
	PageCount(path string) (int, error)
}

type pdfcpuCounter struct{}

func (pdfcpuCounter) PageCount(path string) (int, error) {
	return api.PageCountFile(path)
}

// Availability reports which external tools were found at construction.
type Availability struct {
	Pdftotext bool
	Pdftoppm  bool
	Tesseract bool
}

// OCR reports whether the rasterise-and-OCR path can run.
func (a Availability) OCR() bool { return a.Pdftoppm && a.Tesseract }

type Option func(*Extractor)

func WithRunner(r Runner) Option { return func(e *Extractor) { e.runner = r } }

func WithPageCounter(p PageCounter) Option { return func(e *Extractor) { e.pages = p } }

func WithLookPath(fn LookPath) Option { return func(e *Extractor) { e.lookPath = fn } }

type Extractor struct {
	cfg      Config
	runner   Runner
	pages    PageCounter
	lookPath LookPath
	avail    Availability
	logger   *slog.Logger
}

func NewExtractor(cfg Config, logger *slog.Logger, opts ...Option) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Language == "" {
		cfg.Language = "por"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 20
	}
	e := &Extractor{
		cfg:      cfg,
		runner:   execRunner{logger: logger},
		pages:    pdfcpuCounter{},
		lookPath: exec.LookPath,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.avail = e.probe()
	return e
}

func (e *Extractor) probe() Availability {
	found := func(bin string) bool {
		_, err := e.lookPath(bin)
		return err == nil
	}
	a := Availability{
		Pdftotext: found(e.cfg.Pdftotext),
		Pdftoppm:  found(e.cfg.Pdftoppm),
		Tesseract: found(e.cfg.Tesseract),
	}
	if e.cfg.Enabled && !a.OCR() {
		e.logger.Warn("ocr enabled but tools are missing, scanned documents will yield empty text",
			"pdftoppm", a.Pdftoppm, "tesseract", a.Tesseract)
	}
	if !a.Pdftotext {
		e.logger.Warn("pdftotext not found, pdf text layers cannot be read", "binary", e.cfg.Pdftotext)
	}
	return a
}

// Available returns the tool availability probed at construction.
func (e *Extractor) Available() Availability { return e.avail }

func (e *Extractor) ocrReady() bool { return e.cfg.Enabled && e.avail.OCR() }

// Extract returns the normalised text of the document at path. A document
// that simply has no text yields "" without error. Unsupported kinds return
// ErrUnsupportedType and unreadable PDFs ErrUnreadableDocument.
func (e *Extractor) Extract(ctx context.Context, path string, kind constants.DocumentKind) (Result, error) {
	start := time.Now()
	e.logger.Debug("starting extraction", "path", path, "kind", kind)

	var (
		res Result
		err error
	)
	switch kind {
	case constants.KindPDF:
		res, err = e.extractPDF(ctx, path)
	case constants.KindImage:
		res = e.extractImage(ctx, path)
	default:
		e.logger.Error("unsupported document kind", "path", path)
		return Result{}, common.ErrUnsupportedType
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, ctxErr
	}
	res.Text = Normalize(res.Text)
	res.Duration = time.Since(start)
	if err == nil {
		e.logger.Info("extraction finished", "path", path, "method", res.Method, "pages", res.Pages,
			"chars", len(res.Text), "duration_ms", res.Duration.Milliseconds(), "warnings", len(res.Warnings))
	}
	return res, err
}
