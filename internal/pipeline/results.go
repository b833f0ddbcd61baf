package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/docintake/constants"
	"github.com/joseph-ayodele/docintake/internal/common"
	"github.com/joseph-ayodele/docintake/internal/queue"
	"github.com/joseph-ayodele/docintake/internal/repository"
)

// ResultSource is the result side of the transport.
type ResultSource interface {
	Receive(ctx context.Context, timeout time.Duration) (queue.Delivery[queue.ResultMessage], error)
}

// TaskPublisher enqueues tasks.
type TaskPublisher interface {
	Publish(ctx context.Context, msg queue.TaskMessage) error
}

// ResultConsumer applies finished attempts to the store and is the only
// component that re-enqueues failed jobs.
type ResultConsumer struct {
	jobs       repository.JobRepository
	results    ResultSource
	tasks      TaskPublisher
	maxRetries int
	poll       time.Duration
	attempts   int
	backoff    time.Duration
	logger     *slog.Logger
}

func NewResultConsumer(
	jobs repository.JobRepository,
	results ResultSource,
	tasks TaskPublisher,
	maxRetries int,
	logger *slog.Logger,
) *ResultConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultConsumer{
		jobs:       jobs,
		results:    results,
		tasks:      tasks,
		maxRetries: maxRetries,
		poll:       5 * time.Second,
		attempts:   5,
		backoff:    200 * time.Millisecond,
		logger:     logger.With("component", "result_consumer"),
	}
}

// Run consumes results until ctx is cancelled.
func (c *ResultConsumer) Run(ctx context.Context) error {
	c.logger.Info("result consumer started")
	for {
		if ctx.Err() != nil {
			c.drain()
			c.logger.Info("result consumer stopped")
			return nil
		}
		d, err := c.results.Receive(ctx, c.poll)
		if err != nil {
			if errors.Is(err, common.ErrEmpty) || ctx.Err() != nil {
				continue
			}
			return err
		}
		c.handle(ctx, d)
	}
}

// drain applies whatever is already waiting without blocking.
func (c *ResultConsumer) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for {
		d, err := c.results.Receive(ctx, 0)
		if err != nil {
			return
		}
		c.handle(ctx, d)
	}
}

func (c *ResultConsumer) handle(ctx context.Context, d queue.Delivery[queue.ResultMessage]) {
	if err := c.handleWithRetry(ctx, d.Msg); err != nil {
		c.logger.Error("result handling failed", "job_id", d.Msg.JobID, "error", err)
		if nackErr := d.Nack(); nackErr != nil {
			c.logger.Warn("nack failed", "job_id", d.Msg.JobID, "error", nackErr)
		}
		return
	}
	if err := d.Ack(); err != nil {
		c.logger.Warn("ack failed", "job_id", d.Msg.JobID, "error", err)
	}
}

// handleWithRetry re-runs Handle on store errors. Handle is idempotent, so a
// partial earlier run is safe to repeat. A result that still fails is left to
// Manager.Recover on the next start.
func (c *ResultConsumer) handleWithRetry(ctx context.Context, res queue.ResultMessage) error {
	delay := c.backoff
	for attempt := 1; ; attempt++ {
		err := c.Handle(ctx, res)
		if err == nil || attempt >= c.attempts {
			return err
		}
		c.logger.Warn("result handling failed, retrying", "job_id", res.JobID, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// Handle applies one result. Applying the same result twice leaves the store
// as applying it once; a failed job under the cap is flipped back to pending
// and re-enqueued at most once per attempt.
func (c *ResultConsumer) Handle(ctx context.Context, res queue.ResultMessage) error {
	out := res.Outcome()
	log := c.logger.With("job_id", out.JobID, "status", out.Status, "retries", out.Retries)

	applied, err := c.jobs.ApplyResult(ctx, out)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}
	log.Debug("result applied")

	if out.Status != constants.JobStatusFailed {
		return nil
	}
	if out.Retries >= c.maxRetries {
		log.Warn("job failed permanently", "error", res.Error)
		return nil
	}
	flipped, err := c.jobs.RequeueFailed(ctx, out.JobID, out.Retries, c.maxRetries)
	if err != nil {
		return err
	}
	if !flipped {
		return nil
	}
	if err := c.tasks.Publish(ctx, queue.NewTask(out.JobID, out.Filepath, out.Retries)); err != nil {
		return common.WrapError(err, "re-enqueue task")
	}
	log.Info("job re-enqueued", "max_retries", c.maxRetries)
	return nil
}
