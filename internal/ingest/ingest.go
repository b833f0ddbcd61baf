// Package ingest turns documents on disk into pending jobs and queued tasks.
package ingest

import (
	"context"

	"github.com/joseph-ayodele/docintake/internal/entity"
	"github.com/joseph-ayodele/docintake/internal/queue"
)

// Request is one document to submit.
type Request struct {
	Path             string
	OriginalFilename string // defaults to the base name of Path
	OwnerID          string
	GroupID          string // optional
	Move             bool   // remove the source after it is copied into the pending folder
}

// Submission is the created job.
type Submission struct {
	JobID    int64
	Filename string
	Filepath string
}

// Result is the per-file outcome of a directory submit.
type Result struct {
	SourcePath string
	Submission Submission
	Err        string
}

// DirStats summarizes a directory submit.
type DirStats struct {
	Scanned   uint32
	Matched   uint32
	Succeeded uint32
	Failed    uint32
}

// JobCreator stores new job records.
type JobCreator interface {
	Create(ctx context.Context, job *entity.Job) (*entity.Job, error)
}

// TaskPublisher enqueues tasks.
type TaskPublisher interface {
	Publish(ctx context.Context, msg queue.TaskMessage) error
}
