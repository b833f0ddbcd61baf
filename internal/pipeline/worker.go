package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/docintake/internal/common"
	"github.com/joseph-ayodele/docintake/internal/queue"
)

// TaskSource is the task side of the transport as seen by workers and the
// manager.
type TaskSource interface {
	Receive(ctx context.Context, timeout time.Duration) (queue.Delivery[queue.TaskMessage], error)
	Publish(ctx context.Context, msg queue.TaskMessage) error
	Depth(ctx context.Context) int
}

// TaskProcessor runs one task to completion.
type TaskProcessor interface {
	Process(ctx context.Context, task queue.TaskMessage) error
}

type worker struct {
	id          int
	tasks       TaskSource
	proc        TaskProcessor
	pollTimeout time.Duration
	taskTimeout time.Duration
	logger      *slog.Logger
}

// run takes tasks until the queue is empty or soft is cancelled. hard bounds
// the task in flight.
func (w *worker) run(soft, hard context.Context) int {
	log := w.logger.With("worker_id", w.id)
	log.Info("worker started")
	processed := 0
	for {
		// Receive drains the local fallback even after cancellation
		if err := soft.Err(); err != nil {
			log.Info("worker stopped", "processed", processed, "reason", err)
			return processed
		}
		d, err := w.tasks.Receive(soft, w.pollTimeout)
		if err != nil {
			if errors.Is(err, common.ErrEmpty) {
				log.Info("worker stopped, queue empty", "processed", processed)
			} else {
				log.Info("worker stopped", "processed", processed, "reason", err)
			}
			return processed
		}
		w.handle(hard, d, log)
		processed++
	}
}

func (w *worker) handle(hard context.Context, d queue.Delivery[queue.TaskMessage], log *slog.Logger) {
	ctx, cancel := context.WithTimeout(common.WithWorkerID(hard, w.id), w.taskTimeout)
	defer cancel()

	if err := w.proc.Process(ctx, d.Msg); err != nil {
		log.Error("task processing failed", "job_id", d.Msg.JobID, "source", d.Source, "error", err)
		if nackErr := d.Nack(); nackErr != nil {
			log.Warn("nack failed", "job_id", d.Msg.JobID, "error", nackErr)
		}
		return
	}
	if err := d.Ack(); err != nil {
		log.Warn("ack failed", "job_id", d.Msg.JobID, "error", err)
	}
}
