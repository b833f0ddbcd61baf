package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docintake/constants"
	"github.com/joseph-ayodele/docintake/internal/entity"
	"github.com/joseph-ayodele/docintake/internal/queue"
	"github.com/joseph-ayodele/docintake/internal/repository"
	"github.com/joseph-ayodele/docintake/internal/repository/repotest"
)

// gateProc blocks each task until release is closed or ctx ends.
type gateProc struct {
	release   chan struct{}
	running   atomic.Int32
	peak      atomic.Int32
	done      atomic.Int32
	cancelled atomic.Int32
}

func newGateProc() *gateProc { return &gateProc{release: make(chan struct{})} }

func (p *gateProc) Process(ctx context.Context, _ queue.TaskMessage) error {
	n := p.running.Add(1)
	defer p.running.Add(-1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	select {
	case <-p.release:
		p.done.Add(1)
		return nil
	case <-ctx.Done():
		p.cancelled.Add(1)
		return ctx.Err()
	}
}

func fill(t *testing.T, tasks *queue.Channel[queue.TaskMessage], n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, tasks.Publish(context.Background(), queue.NewTask(int64(i+1), "/p.pdf", 0)))
	}
}

func TestSpawnCount(t *testing.T) {
	cases := []struct {
		depth, alive, max, want int
	}{
		{0, 0, 4, 0},
		{3, 0, 4, 3},
		{10, 0, 4, 4},
		{10, 3, 4, 1},
		{10, 4, 4, 0},
		{1, 5, 4, 0},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, SpawnCount(c.depth, c.alive, c.max), "depth=%d alive=%d max=%d", c.depth, c.alive, c.max)
	}
}

func TestScanSpawnsNothingAtZeroDepth(t *testing.T) {
	m := NewManager(newTaskChannel(t), newGateProc(), nil, repotest.Logger(), WithMaxWorkers(3))
	assert.Zero(t, m.Scan())
	assert.Zero(t, m.Alive())
}

func TestManagerNeverExceedsMaxWorkers(t *testing.T) {
	tasks := newTaskChannel(t)
	fill(t, tasks, 10)
	proc := newGateProc()
	m := NewManager(tasks, proc, nil, repotest.Logger(),
		WithMaxWorkers(2), WithPollTimeout(20*time.Millisecond), WithShutdownGrace(time.Second))

	assert.Equal(t, 2, m.Scan())
	require.Eventually(t, func() bool { return proc.running.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, m.Scan())
	assert.Equal(t, 2, m.Alive())

	close(proc.release)
	require.Eventually(t, func() bool { return m.Alive() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 10, proc.done.Load())
	assert.LessOrEqual(t, proc.peak.Load(), int32(2))
	m.Shutdown(context.Background())
}

func TestShutdownCancelsInFlightAfterGrace(t *testing.T) {
	tasks := newTaskChannel(t)
	fill(t, tasks, 1)
	proc := newGateProc()
	m := NewManager(tasks, proc, nil, repotest.Logger(),
		WithMaxWorkers(1), WithShutdownGrace(50*time.Millisecond))

	require.Equal(t, 1, m.Scan())
	require.Eventually(t, func() bool { return proc.running.Load() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m.Shutdown(ctx)

	assert.EqualValues(t, 1, proc.cancelled.Load())
	assert.Zero(t, m.Alive())
	assert.Zero(t, m.Scan())
}

func TestStartSchedulesScans(t *testing.T) {
	tasks := newTaskChannel(t)
	proc := newGateProc()
	close(proc.release)
	m := NewManager(tasks, proc, nil, repotest.Logger(),
		WithMaxWorkers(2), WithScanInterval(time.Second), WithPollTimeout(10*time.Millisecond))
	require.NoError(t, m.Start())
	defer m.Shutdown(context.Background())

	fill(t, tasks, 3)
	require.Eventually(t, func() bool { return proc.done.Load() == 3 }, 5*time.Second, 20*time.Millisecond)
}

// slowDepth blocks Depth until release is closed, like a broker round trip.
type slowDepth struct {
	*queue.Channel[queue.TaskMessage]
	entered chan struct{}
	release chan struct{}
}

func (s *slowDepth) Depth(ctx context.Context) int {
	close(s.entered)
	<-s.release
	return s.Channel.Depth(ctx)
}

func TestAliveDoesNotWaitForDepth(t *testing.T) {
	tasks := &slowDepth{Channel: newTaskChannel(t), entered: make(chan struct{}), release: make(chan struct{})}
	m := NewManager(tasks, newGateProc(), nil, repotest.Logger(), WithMaxWorkers(2))

	scanned := make(chan int, 1)
	go func() { scanned <- m.Scan() }()
	<-tasks.entered

	alive := make(chan int, 1)
	go func() { alive <- m.Alive() }()
	select {
	case n := <-alive:
		assert.Zero(t, n)
	case <-time.After(time.Second):
		t.Fatal("Alive blocked behind a depth read")
	}
	close(tasks.release)
	assert.Zero(t, <-scanned)
}

func TestRecoverRepublishesPendingJobs(t *testing.T) {
	jobs, _ := repotest.Jobs(t)
	ctx := context.Background()
	var ids []int64
	for _, name := range []string{"a.pdf", "b.pdf"} {
		job, err := jobs.Create(ctx, &entity.Job{Filename: name, OriginalFilename: name, Filepath: "/pending/" + name, OwnerID: uuid.New()})
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	_, claimed, err := jobs.Claim(ctx, ids[1])
	require.NoError(t, err)
	require.True(t, claimed)

	tasks := newTaskChannel(t)
	m := NewManager(tasks, newGateProc(), jobs, repotest.Logger())
	n, err := m.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	d, err := tasks.Receive(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, ids[0], d.Msg.JobID)
	assert.Equal(t, "/pending/a.pdf", d.Msg.Filepath)
}

// failJob commits a failed attempt the way a worker does, leaving the
// requeue to whoever acts on the result.
func failJob(t *testing.T, jobs repository.JobRepository, name string, retries int) int64 {
	t.Helper()
	ctx := context.Background()
	job, err := jobs.Create(ctx, &entity.Job{Filename: name, OriginalFilename: name, Filepath: "/pending/" + name, OwnerID: uuid.New(), Retries: retries - 1})
	require.NoError(t, err)
	_, claimed, err := jobs.Claim(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, claimed)
	diag := "tesseract crashed"
	require.NoError(t, jobs.Save(ctx, entity.Outcome{
		JobID: job.ID, Status: constants.JobStatusFailed, Filepath: "/failed/" + name,
		Retries: retries, ClaimedRetries: retries - 1, ExtractedText: &diag,
	}))
	return job.ID
}

func TestRecoverRequeuesFailedJobsUnderCap(t *testing.T) {
	jobs, _ := repotest.Jobs(t)
	ctx := context.Background()
	retryable := failJob(t, jobs, "a.pdf", 1)
	exhausted := failJob(t, jobs, "b.pdf", 3)

	tasks := newTaskChannel(t)
	m := NewManager(tasks, newGateProc(), jobs, repotest.Logger(), WithMaxRetries(3))
	n, err := m.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	d, err := tasks.Receive(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, retryable, d.Msg.JobID)
	assert.Equal(t, "/failed/a.pdf", d.Msg.Filepath)
	assert.Equal(t, 1, d.Msg.Retries)

	got, err := jobs.Get(ctx, retryable)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusPending, got.Status)
	got, err = jobs.Get(ctx, exhausted)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, got.Status)

	// a second start publishes nothing new for the failed job
	n, err = NewManager(newTaskChannel(t), newGateProc(), jobs, repotest.Logger(), WithMaxRetries(3)).Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the now-pending job is republished")
}

func TestWorkerAcksAndStopsOnEmptyQueue(t *testing.T) {
	tasks := newTaskChannel(t)
	fill(t, tasks, 2)
	proc := newGateProc()
	close(proc.release)
	w := &worker{id: 1, tasks: tasks, proc: proc, pollTimeout: 10 * time.Millisecond, taskTimeout: time.Second, logger: repotest.Logger()}

	var wg sync.WaitGroup
	wg.Add(1)
	var processed int
	go func() {
		defer wg.Done()
		processed = w.run(context.Background(), context.Background())
	}()
	wg.Wait()
	assert.Equal(t, 2, processed)
	assert.Zero(t, tasks.Depth(context.Background()))
}
