package server

import (
	"io"
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/docintake/internal/common"
)

// NewLogger builds the process logger. Unknown levels fall back to info.
func NewLogger(w io.Writer, cfg common.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.Level))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
