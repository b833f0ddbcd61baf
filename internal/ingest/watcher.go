package ingest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

type WatchConfig struct {
	Roots       []string // directories to watch (recursive)
	OwnerID     string   // owner recorded on every submitted job
	InitialScan bool     // submit files already present at start
	Debounce    time.Duration
}

// Watcher submits documents dropped into watched folders. A file is
// submitted once its events have been quiet for the debounce period, and
// is removed from the drop folder after a successful submit.
type Watcher struct {
	submitter *Submitter
	cfg       WatchConfig
	logger    *slog.Logger
}

func NewWatcher(submitter *Submitter, cfg WatchConfig, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	return &Watcher{submitter: submitter, cfg: cfg, logger: logger}
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if len(w.cfg.Roots) == 0 {
		w.logger.Error("watcher start failed: no roots provided")
		return errors.New("no roots provided")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Error("failed to create fsnotify watcher", "error", err)
		return err
	}
	defer func() {
		if err := fw.Close(); err != nil {
			w.logger.Warn("closing watcher", "error", err)
		}
	}()

	seen := map[string]time.Time{}
	for _, root := range w.cfg.Roots {
		if err := w.addTree(fw, root, seen); err != nil {
			w.logger.Error("failed to add root directory", "root", root, "error", err)
			return err
		}
	}
	w.logger.Info("watching drop folders", "roots", w.cfg.Roots)

	tick := time.NewTicker(w.cfg.Debounce / 2)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if e.Has(fsnotify.Create) {
				if info, err := os.Stat(e.Name); err == nil && info.IsDir() {
					if err := w.addTree(fw, e.Name, seen); err != nil {
						w.logger.Warn("failed to watch new directory", "path", e.Name, "error", err)
					}
					continue
				}
			}
			if accepted(e.Name) && !isHidden(e.Name) && (e.Has(fsnotify.Create) || e.Has(fsnotify.Write)) {
				seen[e.Name] = time.Now()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "error", err)
		case now := <-tick.C:
			for path, last := range seen {
				if now.Sub(last) < w.cfg.Debounce {
					continue
				}
				delete(seen, path)
				w.submit(ctx, path)
			}
		}
	}
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, root string, seen map[string]time.Time) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		if w.cfg.InitialScan && accepted(path) && !isHidden(path) {
			seen[path] = time.Time{}
		}
		return nil
	})
}

func (w *Watcher) submit(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	sub, err := w.submitter.Submit(ctx, Request{Path: path, OwnerID: w.cfg.OwnerID, Move: true})
	if err != nil {
		w.logger.Error("drop folder submit failed", "path", path, "error", err)
		return
	}
	w.logger.Info("drop folder file submitted", "path", path, "job_id", sub.JobID)
}
