package ocr

import (
	"context"
	"fmt"
	"strings"
)

func (e *Extractor) extractImage(ctx context.Context, path string) Result {
	if !e.ocrReady() {
		e.logger.Info("image skipped, ocr is off", "path", path)
		return Result{Method: "none"}
	}
	txt, err := e.tesseractOCR(ctx, path)
	if err != nil {
		e.logger.Warn("image ocr failed", "path", path, "error", err)
		return Result{Method: "image-ocr", Warnings: []string{err.Error()}}
	}
	return Result{Text: txt, Pages: 1, Method: "image-ocr"}
}

func (e *Extractor) tesseractOCR(ctx context.Context, path string) (string, error) {
	args := []string{path, "stdout", "-l", e.cfg.Language}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}

	// tesseract <file> stdout -l <lang>
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, strings.TrimSpace(truncate(string(errb), 512)))
	}
	return reBoxNoise.ReplaceAllString(string(out), ""), nil
}
