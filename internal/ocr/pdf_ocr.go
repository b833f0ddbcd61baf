package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/docintake/internal/common"
)

func (e *Extractor) extractPDF(ctx context.Context, path string) (Result, error) {
	limit := e.cfg.MaxPages
	pages, countErr := e.pages.PageCount(path)
	if countErr == nil && pages < limit {
		limit = pages
	}
	if countErr != nil {
		e.logger.Warn("pdf page count failed", "path", path, "error", countErr)
	}

	var (
		text    string
		warns   []string
		readErr error
	)
	if e.avail.Pdftotext {
		text, warns, readErr = e.pdfToText(ctx, path, limit)
	} else {
		readErr = fmt.Errorf("%s not available", e.cfg.Pdftotext)
	}
	if readErr != nil && countErr != nil {
		return Result{Method: "pdf-text", Warnings: warns},
			common.NewAppError("UNREADABLE_DOCUMENT", fmt.Sprintf("cannot read %s", filepath.Base(path)), common.ErrUnreadableDocument)
	}
	if readErr != nil {
		warns = append(warns, "pdftotext: "+readErr.Error())
	}

	if strings.TrimSpace(text) != "" {
		return Result{Text: text, Pages: limit, Method: "pdf-text", Warnings: warns}, nil
	}
	if !e.ocrReady() {
		e.logger.Info("pdf has no text layer and ocr is off", "path", path)
		return Result{Pages: limit, Method: "none", Warnings: warns}, nil
	}

	ocrText, ocrPages, w := e.pdfToOCR(ctx, path, limit)
	return Result{Text: ocrText, Pages: ocrPages, Method: "pdf-ocr", Warnings: append(warns, w...)}, nil
}

func (e *Extractor) pdfToText(ctx context.Context, path string, limit int) (string, []string, error) {
	// pdftotext -enc UTF-8 -eol unix -f 1 -l N <path> -
	out, errb, err := e.runner.Run(ctx, e.cfg.Pdftotext,
		"-enc", "UTF-8", "-eol", "unix", "-f", "1", "-l", strconv.Itoa(limit), path, "-")
	if err != nil {
		return "", []string{string(errb)}, err
	}
	return string(out), nil, nil
}

// pdfToOCR rasterises pages 1..limit and OCRs each one. Failures degrade to
// empty text plus warnings.
func (e *Extractor) pdfToOCR(ctx context.Context, path string, limit int) (string, int, []string) {
	tmpDir, err := os.MkdirTemp("", "intake-pp-*")
	if err != nil {
		return "", 0, []string{err.Error()}
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			e.logger.Warn("failed to remove temp dir", "dir", tmpDir, "error", err)
		}
	}()

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r 300 -f 1 -l N -png <in.pdf> <tmp/page>
	_, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm,
		"-r", strconv.Itoa(e.cfg.DPI), "-f", "1", "-l", strconv.Itoa(limit), "-png", path, prefix)
	if err != nil {
		e.logger.Warn("pdf rasterisation failed", "path", path, "error", err)
		return "", 0, []string{"pdftoppm: " + strings.TrimSpace(string(errb))}
	}

	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Slice(matches, func(i, j int) bool { return pageNumber(matches[i]) < pageNumber(matches[j]) })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	if len(matches) == 0 {
		return "", 0, []string{"pdftoppm produced no images"}
	}

	var (
		b     strings.Builder
		warns []string
	)
	for _, img := range matches {
		txt, err := e.tesseractOCR(ctx, img)
		if err != nil {
			warns = append(warns, err.Error())
			continue
		}
		b.WriteString(txt)
		b.WriteString("\n")
	}
	return b.String(), len(matches), warns
}

// pageNumber extracts N from ".../page-N.png"; pdftoppm zero-pads only for
// long documents, so lexical order is not page order.
func pageNumber(p string) int {
	base := strings.TrimSuffix(filepath.Base(p), ".png")
	i := strings.LastIndexByte(base, '-')
	n, err := strconv.Atoi(base[i+1:])
	if err != nil {
		return 0
	}
	return n
}
