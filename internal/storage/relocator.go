// Package storage moves documents through the local folder lifecycle and,
// when enabled, into object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joseph-ayodele/docintake/internal/common"
	"github.com/joseph-ayodele/docintake/internal/entity"
)

// Folders are the local directories of the document lifecycle.
type Folders struct {
	Pending    string
	Processing string
	Completed  string
	Failed     string
}

func FoldersFrom(c common.StorageConfig) Folders {
	return Folders{Pending: c.PendingDir, Processing: c.ProcessingDir, Completed: c.CompletedDir, Failed: c.FailedDir}
}

// RemoteFlag reports, at call time, whether uploads are enabled.
type RemoteFlag interface {
	RemoteStorageEnabled() bool
}

type Relocator struct {
	folders Folders
	store   ObjectStore
	flag    RemoteFlag
	log     *slog.Logger
}

// NewRelocator wires the folder lifecycle. store may be nil when object
// storage is not configured; remote placement then fails with ErrUpload.
func NewRelocator(folders Folders, store ObjectStore, flag RemoteFlag, logger *slog.Logger) *Relocator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relocator{folders: folders, store: store, flag: flag, log: logger}
}

// EnsureFolders creates every lifecycle directory.
func (r *Relocator) EnsureFolders() error {
	for _, dir := range r.Dirs() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Folders returns the configured lifecycle directories.
func (r *Relocator) Folders() Folders { return r.folders }

// Dirs lists the configured lifecycle directories.
func (r *Relocator) Dirs() []string {
	var dirs []string
	for _, dir := range []string{r.folders.Pending, r.folders.Processing, r.folders.Completed, r.folders.Failed} {
		if dir != "" {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

// RemoteEnabled reads the live flag. Callers resolve it once per job.
func (r *Relocator) RemoteEnabled() bool {
	return r.flag != nil && r.flag.RemoteStorageEnabled()
}

// HasStore reports whether an object store is wired.
func (r *Relocator) HasStore() bool { return r.store != nil }

// Ping checks the object store, if any.
func (r *Relocator) Ping(ctx context.Context) error {
	if r.store == nil {
		return errors.New("object storage not configured")
	}
	return r.store.Ping(ctx)
}

// Claim moves the job's file into the processing folder and returns the new
// path. A file already there (a redelivered task) is left in place.
func (r *Relocator) Claim(job *entity.Job) (string, error) {
	if r.folders.Processing == "" {
		return job.Filepath, nil
	}
	dst := filepath.Join(r.folders.Processing, job.Filename)
	if sameFile(job.Filepath, dst) {
		return dst, nil
	}
	if err := os.Rename(job.Filepath, dst); err != nil {
		if _, statErr := os.Stat(dst); statErr == nil {
			return dst, nil
		}
		return job.Filepath, common.NewAppError("RELOCATE_FAILED", "move to processing", errors.Join(common.ErrRelocate, err))
	}
	r.log.Debug("file moved to processing", "job_id", job.ID, "path", dst)
	return dst, nil
}

// Complete places a finished, non-duplicate document. Remote placement
// uploads under the job's filename, then removes the local copy; local
// placement renames into the completed folder. It returns the new location.
func (r *Relocator) Complete(ctx context.Context, job *entity.Job, remote bool) (string, error) {
	if remote {
		return r.upload(ctx, job)
	}
	dst := filepath.Join(r.folders.Completed, job.Filename)
	if err := os.Rename(job.Filepath, dst); err != nil {
		r.log.Error("move to completed failed", "job_id", job.ID, "src", job.Filepath, "error", err)
		return job.Filepath, common.NewAppError("RELOCATE_FAILED", "move to completed", errors.Join(common.ErrRelocate, err))
	}
	r.log.Info("file moved to completed", "job_id", job.ID, "path", dst)
	return dst, nil
}

func (r *Relocator) upload(ctx context.Context, job *entity.Job) (string, error) {
	if r.store == nil {
		return job.Filepath, common.NewAppError("UPLOAD_FAILED", "object storage not configured", common.ErrUpload)
	}
	f, err := os.Open(job.Filepath)
	if err != nil {
		return job.Filepath, common.NewAppError("UPLOAD_FAILED", "open for upload", errors.Join(common.ErrUpload, err))
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return job.Filepath, common.NewAppError("UPLOAD_FAILED", "stat for upload", errors.Join(common.ErrUpload, err))
	}
	url, err := r.store.Put(ctx, job.Filename, f, info.Size())
	_ = f.Close()
	if err != nil {
		r.log.Error("upload failed", "job_id", job.ID, "key", job.Filename, "error", err)
		return job.Filepath, common.NewAppError("UPLOAD_FAILED", "upload to object storage", errors.Join(common.ErrUpload, err))
	}

	if err := os.Remove(job.Filepath); err != nil {
		r.log.Warn("uploaded but local copy not removed", "job_id", job.ID, "path", job.Filepath, "error", err)
	}
	r.log.Info("file uploaded", "job_id", job.ID, "url", url)
	return url, nil
}

// Fail moves the job's file into the failed folder. A missing source file is
// logged and the current path returned.
func (r *Relocator) Fail(job *entity.Job) (string, error) {
	if r.folders.Failed == "" {
		return job.Filepath, nil
	}
	dst := filepath.Join(r.folders.Failed, job.Filename)
	if sameFile(job.Filepath, dst) {
		return dst, nil
	}
	if err := os.Rename(job.Filepath, dst); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			r.log.Warn("failed file already gone", "job_id", job.ID, "path", job.Filepath)
			return job.Filepath, nil
		}
		return job.Filepath, common.NewAppError("RELOCATE_FAILED", "move to failed", errors.Join(common.ErrRelocate, err))
	}
	r.log.Info("file moved to failed", "job_id", job.ID, "path", dst)
	return dst, nil
}

func sameFile(a, b string) bool {
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	return err1 == nil && err2 == nil && aa == bb
}
