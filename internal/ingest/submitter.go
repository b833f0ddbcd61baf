package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docintake/constants"
	"github.com/joseph-ayodele/docintake/internal/common"
	"github.com/joseph-ayodele/docintake/internal/entity"
	"github.com/joseph-ayodele/docintake/internal/queue"
)

type Submitter struct {
	jobs       JobCreator
	tasks      TaskPublisher
	pendingDir string
	logger     *slog.Logger
}

func NewSubmitter(jobs JobCreator, tasks TaskPublisher, pendingDir string, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{jobs: jobs, tasks: tasks, pendingDir: pendingDir, logger: logger}
}

// Submit copies the document into the pending folder under a fresh name,
// records the job as pending and only then publishes its task.
func (s *Submitter) Submit(ctx context.Context, req Request) (Submission, error) {
	if req.OriginalFilename == "" {
		req.OriginalFilename = filepath.Base(req.Path)
	}
	v := common.NewValidator().
		Field("path", req.Path, common.Required).
		Field("original_filename", req.OriginalFilename, common.Required, common.MaxLength(255), common.AllowedFileType).
		Field("owner_id", req.OwnerID, common.Required, common.UUID).
		Field("group_id", req.GroupID, common.OptionalUUID)
	if err := v.Err(); err != nil {
		return Submission{}, err
	}
	owner := uuid.MustParse(req.OwnerID)
	var group *uuid.UUID
	if req.GroupID != "" {
		g := uuid.MustParse(req.GroupID)
		group = &g
	}

	ext := constants.NormalizeExt(filepath.Ext(req.OriginalFilename))
	filename := uuid.NewString() + "." + ext
	dst := filepath.Join(s.pendingDir, filename)
	if err := copyFile(req.Path, dst); err != nil {
		s.logger.Error("copy into pending folder failed", "src", req.Path, "error", err)
		return Submission{}, common.NewAppError("SUBMIT_FAILED", "copy into pending folder", err)
	}

	job, err := s.jobs.Create(ctx, &entity.Job{
		Filename:         filename,
		OriginalFilename: req.OriginalFilename,
		Filepath:         dst,
		OwnerID:          owner,
		GroupID:          group,
	})
	if err != nil {
		_ = os.Remove(dst)
		return Submission{}, err
	}
	// the task goes out only after the record exists
	if err := s.tasks.Publish(ctx, queue.NewTask(job.ID, job.Filepath, job.Retries)); err != nil {
		s.logger.Error("task publish failed, job stays pending until recovery", "job_id", job.ID, "error", err)
		return Submission{}, common.WrapError(err, "publish task")
	}

	if req.Move {
		if err := os.Remove(req.Path); err != nil {
			s.logger.Warn("submitted source not removed", "path", req.Path, "error", err)
		}
	}
	s.logger.Info("document submitted", "job_id", job.ID, "filename", filename, "original_filename", req.OriginalFilename)
	return Submission{JobID: job.ID, Filename: filename, Filepath: dst}, nil
}

// SubmitDirectory walks root and submits every file with an accepted
// extension. Per-file errors are collected, not returned.
func (s *Submitter) SubmitDirectory(ctx context.Context, ownerID, root string, skipHidden, move bool) ([]Result, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root path is required")
	}

	var results []Result
	var stats DirStats

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, Result{SourcePath: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if skipHidden && isHidden(path) && path != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !accepted(path) {
			return nil
		}
		stats.Matched++

		sub, err := s.Submit(ctx, Request{Path: path, OwnerID: ownerID, Move: move})
		if err != nil {
			results = append(results, Result{SourcePath: path, Err: err.Error()})
			stats.Failed++
			return nil
		}
		results = append(results, Result{SourcePath: path, Submission: sub})
		stats.Succeeded++
		return nil
	})
	if err != nil {
		return results, stats, fmt.Errorf("walk: %w", err)
	}
	return results, stats, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}

func accepted(path string) bool {
	return constants.KindForExt(filepath.Ext(path)) != constants.KindUnsupported
}

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
