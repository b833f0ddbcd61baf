package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docintake/constants"
	"github.com/joseph-ayodele/docintake/internal/entity"
)

// TaskMessage asks a worker to process one job.
type TaskMessage struct {
	MessageID  string    `json:"message_id"`
	JobID      int64     `json:"job_id"`
	Filepath   string    `json:"filepath"`
	Retries    int       `json:"retries"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func NewTask(jobID int64, filepath string, retries int) TaskMessage {
	return TaskMessage{
		MessageID:  uuid.NewString(),
		JobID:      jobID,
		Filepath:   filepath,
		Retries:    retries,
		EnqueuedAt: time.Now().UTC(),
	}
}

// ResultMessage reports the final state of one attempt.
type ResultMessage struct {
	MessageID        string         `json:"message_id"`
	JobID            int64          `json:"job_id"`
	Status           string         `json:"status"`
	ExtractedText    *string        `json:"extracted_text"`
	StructuredFields *entity.Fields `json:"structured_fields"`
	Filepath         string         `json:"filepath"`
	Retries          int            `json:"retries"`
	ClaimedRetries   int            `json:"claimed_retries"`
	Error            string         `json:"error,omitempty"`
	FinishedAt       time.Time      `json:"finished_at"`
}

func NewResult(out entity.Outcome, diagnostic string) ResultMessage {
	return ResultMessage{
		MessageID:        uuid.NewString(),
		JobID:            out.JobID,
		Status:           string(out.Status),
		ExtractedText:    out.ExtractedText,
		StructuredFields: out.Fields,
		Filepath:         out.Filepath,
		Retries:          out.Retries,
		ClaimedRetries:   out.ClaimedRetries,
		Error:            diagnostic,
		FinishedAt:       time.Now().UTC(),
	}
}

// Outcome converts the message back into the store's representation. The
// status has already been checked against the schema enum.
func (r ResultMessage) Outcome() entity.Outcome {
	st, _ := constants.ParseJobStatus(r.Status)
	return entity.Outcome{
		JobID:          r.JobID,
		Status:         st,
		Filepath:       r.Filepath,
		Retries:        r.Retries,
		ClaimedRetries: r.ClaimedRetries,
		ExtractedText:  r.ExtractedText,
		Fields:         r.StructuredFields,
	}
}
