package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/joseph-ayodele/docintake/constants"
	"github.com/joseph-ayodele/docintake/internal/common"
	"github.com/joseph-ayodele/docintake/internal/entity"
	"github.com/joseph-ayodele/docintake/internal/queue"
	"github.com/joseph-ayodele/docintake/internal/repository"
)

// RecoveryStore finds jobs whose task may have been lost with a previous
// process and flips retryable failures back to pending.
type RecoveryStore interface {
	ListPending(ctx context.Context, limit int) ([]*entity.Job, error)
	List(ctx context.Context, filter repository.ListFilter) ([]*entity.Job, error)
	RequeueFailed(ctx context.Context, jobID int64, retries, maxRetries int) (bool, error)
}

type Option func(*Manager)

func WithMaxWorkers(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxWorkers = n
		}
	}
}

func WithScanInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.scanInterval = d
		}
	}
}

// WithPollTimeout sets how long an idle worker waits for a task before exiting.
func WithPollTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.pollTimeout = d
		}
	}
}

func WithTaskTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.taskTimeout = d
		}
	}
}

// WithMaxRetries sets the cap under which Recover re-enqueues failed jobs.
func WithMaxRetries(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.maxRetries = n
		}
	}
}

func WithShutdownGrace(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.shutdownGrace = d
		}
	}
}

// Manager sizes the worker pool from queue depth on a fixed schedule.
type Manager struct {
	tasks   TaskSource
	proc    TaskProcessor
	store   RecoveryStore
	logger  *slog.Logger

	maxWorkers    int
	maxRetries    int
	scanInterval  time.Duration
	pollTimeout   time.Duration
	taskTimeout   time.Duration
	shutdownGrace time.Duration

	cron *cron.Cron

	mu       sync.Mutex
	workers  map[int]chan struct{}
	nextID   int
	started  bool
	stopping bool
	soft     context.Context
	stopSoft context.CancelFunc
	hard     context.Context
	stopHard context.CancelFunc
	wg       sync.WaitGroup
}

func NewManager(tasks TaskSource, proc TaskProcessor, store RecoveryStore, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		tasks:         tasks,
		proc:          proc,
		store:         store,
		logger:        logger.With("component", "manager"),
		maxWorkers:    common.DefaultMaxWorkers(),
		maxRetries:    3,
		scanInterval:  5 * time.Second,
		pollTimeout:   2 * time.Second,
		taskTimeout:   10 * time.Minute,
		shutdownGrace: 5 * time.Second,
		workers:       map[int]chan struct{}{},
	}
	for _, o := range opts {
		o(m)
	}
	m.soft, m.stopSoft = context.WithCancel(context.Background())
	m.hard, m.stopHard = context.WithCancel(context.Background())
	return m
}

// SpawnCount is the number of workers to start for the observed depth.
func SpawnCount(depth, alive, max int) int {
	if depth <= 0 || alive >= max {
		return 0
	}
	return min(depth, max-alive)
}

// Start schedules Scan every scan interval and runs one scan immediately.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	m.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	schedule := fmt.Sprintf("@every %s", m.scanInterval)
	if _, err := m.cron.AddFunc(schedule, func() { m.Scan() }); err != nil {
		return common.WrapError(err, "schedule scan")
	}
	m.cron.Start()
	m.logger.Info("manager started", "max_workers", m.maxWorkers, "scan_interval", m.scanInterval)
	m.Scan()
	return nil
}

// Scan reaps finished workers and spawns new ones for the current depth. It
// returns the number of workers started.
func (m *Manager) Scan() int {
	// depth may hit the broker, so it is sampled outside the lock
	depth := m.tasks.Depth(m.soft)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopping {
		return 0
	}
	m.reapLocked()

	alive := len(m.workers)
	n := SpawnCount(depth, alive, m.maxWorkers)
	for i := 0; i < n; i++ {
		m.spawnLocked()
	}
	if n > 0 {
		m.logger.Info("workers spawned", "spawned", n, "alive", alive+n, "depth", depth)
	}
	return n
}

func (m *Manager) reapLocked() {
	for id, done := range m.workers {
		select {
		case <-done:
			delete(m.workers, id)
		default:
		}
	}
}

func (m *Manager) spawnLocked() {
	m.nextID++
	w := &worker{
		id:          m.nextID,
		tasks:       m.tasks,
		proc:        m.proc,
		pollTimeout: m.pollTimeout,
		taskTimeout: m.taskTimeout,
		logger:      m.logger,
	}
	done := make(chan struct{})
	m.workers[w.id] = done
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(done)
		w.run(m.soft, m.hard)
	}()
}

// Alive is the number of workers that have not exited yet.
func (m *Manager) Alive() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reapLocked()
	return len(m.workers)
}

// Recover re-publishes a task for every job still pending and re-enqueues
// failed jobs under the retry cap whose result was never acted on. Tasks held
// only in a previous process's local fallback are lost, so this runs at
// startup.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	pending, err := m.store.ListPending(ctx, 0)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, job := range pending {
		if err := m.tasks.Publish(ctx, queue.NewTask(job.ID, job.Filepath, job.Retries)); err != nil {
			return n, common.WrapError(err, "republish pending job")
		}
		n++
	}

	failed, err := m.store.List(ctx, repository.ListFilter{Status: constants.JobStatusFailed})
	if err != nil {
		return n, err
	}
	requeued := 0
	for _, job := range failed {
		if job.Retries >= m.maxRetries {
			continue
		}
		flipped, err := m.store.RequeueFailed(ctx, job.ID, job.Retries, m.maxRetries)
		if err != nil {
			return n, err
		}
		if !flipped {
			continue
		}
		if err := m.tasks.Publish(ctx, queue.NewTask(job.ID, job.Filepath, job.Retries)); err != nil {
			return n, common.WrapError(err, "re-enqueue failed job")
		}
		n++
		requeued++
	}

	if n > 0 {
		m.logger.Info("jobs re-enqueued", "pending", len(pending), "failed", requeued)
	}
	return n, nil
}

// Shutdown stops spawning and lets workers finish their current task. After
// the grace period in-flight work is cancelled; ctx bounds the total wait.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return
	}
	m.stopping = true
	m.mu.Unlock()

	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
	m.stopSoft()

	done := make(chan struct{})
	go func() { defer close(done); m.wg.Wait() }()

	grace := time.NewTimer(m.shutdownGrace)
	defer grace.Stop()
	select {
	case <-done:
		m.stopHard()
		m.logger.Info("workers drained, shutdown complete")
		return
	case <-grace.C:
		m.logger.Warn("grace period elapsed, cancelling in-flight tasks")
	case <-ctx.Done():
		m.logger.Warn("shutdown interrupted by context, cancelling in-flight tasks")
	}
	m.stopHard()

	select {
	case <-done:
		m.logger.Info("workers stopped")
	case <-ctx.Done():
		m.logger.Warn("shutdown returned before all workers stopped")
	}
}
