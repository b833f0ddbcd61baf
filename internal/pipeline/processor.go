// Package pipeline runs intake jobs: workers claim tasks and process them,
// a single consumer applies results and owns retries, and the manager sizes
// the worker pool from queue depth.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/joseph-ayodele/docintake/constants"
	"github.com/joseph-ayodele/docintake/internal/checksum"
	"github.com/joseph-ayodele/docintake/internal/common"
	"github.com/joseph-ayodele/docintake/internal/entity"
	"github.com/joseph-ayodele/docintake/internal/ocr"
	"github.com/joseph-ayodele/docintake/internal/queue"
	"github.com/joseph-ayodele/docintake/internal/repository"
)

// DuplicateChecker decides whether a job's content is already owned.
type DuplicateChecker interface {
	Check(ctx context.Context, jobID int64, path string) (checksum.Verdict, error)
}

// TextExtractor turns a document into text.
type TextExtractor interface {
	Extract(ctx context.Context, path string, kind constants.DocumentKind) (ocr.Result, error)
}

// FieldParser pulls structured fields out of text.
type FieldParser interface {
	Parse(text string) entity.Fields
}

// Placer moves a document through the storage lifecycle.
type Placer interface {
	Claim(job *entity.Job) (string, error)
	Complete(ctx context.Context, job *entity.Job, remote bool) (string, error)
	Fail(job *entity.Job) (string, error)
	RemoteEnabled() bool
}

// ResultPublisher sends finished attempts to the result consumer.
type ResultPublisher interface {
	Publish(ctx context.Context, msg queue.ResultMessage) error
}

// commitTimeout bounds the final commit and publish, which run even after the
// attempt's context was cancelled.
const commitTimeout = 10 * time.Second

// Processor runs one attempt of one job end to end.
type Processor struct {
	jobs       repository.JobRepository
	gate       DuplicateChecker
	extractor  TextExtractor
	parser     FieldParser
	placer     Placer
	results    ResultPublisher
	maxRetries int
	logger     *slog.Logger
}

func NewProcessor(
	jobs repository.JobRepository,
	gate DuplicateChecker,
	extractor TextExtractor,
	parser FieldParser,
	placer Placer,
	results ResultPublisher,
	maxRetries int,
	logger *slog.Logger,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		jobs:       jobs,
		gate:       gate,
		extractor:  extractor,
		parser:     parser,
		placer:     placer,
		results:    results,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// Process claims the task's job, runs the attempt, commits its final state
// and publishes exactly one result. A job that is no longer pending is
// skipped without a result. A returned error means nothing was committed.
func (p *Processor) Process(ctx context.Context, task queue.TaskMessage) error {
	ctx = common.WithJobID(common.WithMessageID(ctx, task.MessageID), task.JobID)
	log := common.LoggerFrom(ctx, p.logger)

	job, claimed, err := p.jobs.Claim(ctx, task.JobID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			log.Warn("task for unknown job dropped")
			return nil
		}
		return err
	}
	if !claimed {
		log.Info("task skipped, job not pending", "status", job.Status)
		return nil
	}
	log.Info("job claimed", "retries", job.Retries, "filename", job.Filename)

	start := time.Now()
	out, diagnostic := p.attempt(ctx, job, log)

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	if err := p.jobs.Save(commitCtx, out); err != nil {
		if errors.Is(err, common.ErrStaleResult) {
			return nil
		}
		return err
	}
	if err := p.results.Publish(commitCtx, queue.NewResult(out, diagnostic)); err != nil {
		return common.WrapError(err, "publish result")
	}
	log.Info("job attempt finished", "status", out.Status, "retries", out.Retries,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// attempt never fails: every error, panic included, becomes a failed outcome.
func (p *Processor) attempt(ctx context.Context, job *entity.Job, log *slog.Logger) (out entity.Outcome, diagnostic string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing job", "panic", r, "stack", string(debug.Stack()))
			out, diagnostic = p.failed(job, fmt.Errorf("internal error: %v", r), log)
		}
	}()

	kind := job.Kind()
	if kind == constants.KindUnsupported {
		return p.failed(job, common.NewAppError("UNSUPPORTED_TYPE", "unsupported file type: "+job.Filename, common.ErrUnsupportedType), log)
	}

	verdict, err := p.gate.Check(ctx, job.ID, job.Filepath)
	if err != nil {
		return p.failed(job, err, log)
	}
	if verdict.Duplicate {
		note := constants.DuplicateNote
		return entity.Outcome{
			JobID:          job.ID,
			Status:         constants.JobStatusDuplicate,
			Filepath:       job.Filepath,
			Retries:        job.Retries,
			ClaimedRetries: job.Retries,
			ExtractedText:  &note,
		}, ""
	}

	path, err := p.placer.Claim(job)
	if err != nil {
		return p.failed(job, err, log)
	}
	job.Filepath = path

	res, err := p.extractor.Extract(ctx, job.Filepath, kind)
	if err != nil {
		return p.failed(job, err, log)
	}
	text := res.Text
	fields := p.parser.Parse(text)

	remote := p.placer.RemoteEnabled()
	loc, err := p.placer.Complete(ctx, job, remote)
	if err != nil {
		out, diagnostic := p.failed(job, err, log)
		if errors.Is(err, common.ErrUpload) {
			withNote := text + "\n" + constants.UploadFailureNote
			out.ExtractedText = &withNote
			out.Fields = &fields
		}
		return out, diagnostic
	}

	return entity.Outcome{
		JobID:          job.ID,
		Status:         constants.JobStatusCompleted,
		Filepath:       loc,
		Retries:        job.Retries,
		ClaimedRetries: job.Retries,
		ExtractedText:  &text,
		Fields:         &fields,
	}, ""
}

// failed moves the file aside and builds a failed outcome carrying a readable
// diagnostic. Retries grow by one per attempt up to the cap.
func (p *Processor) failed(job *entity.Job, cause error, log *slog.Logger) (entity.Outcome, string) {
	diagnostic := common.Diagnostic(cause)
	log.Error("job attempt failed", "error", cause)

	loc, err := p.placer.Fail(job)
	if err != nil {
		log.Warn("could not move file to failed folder", "error", err)
	}
	retries := job.Retries + 1
	if retries > p.maxRetries {
		retries = job.Retries
	}
	return entity.Outcome{
		JobID:          job.ID,
		Status:         constants.JobStatusFailed,
		Filepath:       loc,
		Retries:        retries,
		ClaimedRetries: job.Retries,
		ExtractedText:  &diagnostic,
	}, diagnostic
}
