package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docintake/constants"
	"github.com/joseph-ayodele/docintake/internal/common"
	"github.com/joseph-ayodele/docintake/internal/queue"
	"github.com/joseph-ayodele/docintake/internal/repository"
	"github.com/joseph-ayodele/docintake/internal/repository/repotest"
)

type env struct {
	jobs    repository.JobRepository
	tasks   *queue.Channel[queue.TaskMessage]
	pending string
	sub     *Submitter
}

func newEnv(t *testing.T) *env {
	t.Helper()
	jobs, _ := repotest.Jobs(t)
	codec, err := queue.TaskCodec()
	require.NoError(t, err)
	tasks := queue.NewChannel(constants.TaskQueue, nil, codec, 10*time.Millisecond, repotest.Logger())
	pending := t.TempDir()
	return &env{jobs: jobs, tasks: tasks, pending: pending, sub: NewSubmitter(jobs, tasks, pending, repotest.Logger())}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSubmitCreatesPendingJobThenTask(t *testing.T) {
	e := newEnv(t)
	src := writeFile(t, t.TempDir(), "Termo.PDF", "pdf bytes")
	owner := uuid.NewString()

	sub, err := e.sub.Submit(context.Background(), Request{Path: src, OwnerID: owner})
	require.NoError(t, err)
	assert.Equal(t, ".pdf", filepath.Ext(sub.Filename))
	assert.Equal(t, filepath.Join(e.pending, sub.Filename), sub.Filepath)
	assert.FileExists(t, sub.Filepath)
	assert.FileExists(t, src)

	job, err := e.jobs.Get(context.Background(), sub.JobID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusPending, job.Status)
	assert.Equal(t, "Termo.PDF", job.OriginalFilename)
	assert.Equal(t, owner, job.OwnerID.String())

	d, err := e.tasks.Receive(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, sub.JobID, d.Msg.JobID)
	assert.Equal(t, sub.Filepath, d.Msg.Filepath)
	assert.Zero(t, d.Msg.Retries)
}

func TestSubmitValidates(t *testing.T) {
	e := newEnv(t)
	src := writeFile(t, t.TempDir(), "notes.docx", "x")

	_, err := e.sub.Submit(context.Background(), Request{Path: src, OwnerID: "not-a-uuid", GroupID: "also-bad"})
	require.ErrorIs(t, err, common.ErrInvalidInput)
	assert.Contains(t, err.Error(), "owner_id")
	assert.Contains(t, err.Error(), "group_id")
	assert.Contains(t, err.Error(), "original_filename")
	assert.Zero(t, e.tasks.Depth(context.Background()))
}

func TestSubmitMoveRemovesSource(t *testing.T) {
	e := newEnv(t)
	src := writeFile(t, t.TempDir(), "scan.png", "png")
	_, err := e.sub.Submit(context.Background(), Request{Path: src, OwnerID: uuid.NewString(), Move: true})
	require.NoError(t, err)
	assert.NoFileExists(t, src)
}

func TestSubmitDirectory(t *testing.T) {
	e := newEnv(t)
	root := t.TempDir()
	writeFile(t, root, "a.pdf", "a")
	writeFile(t, root, "sub/b.jpg", "b")
	writeFile(t, root, "readme.txt", "c")
	writeFile(t, root, ".hidden/d.pdf", "d")

	results, stats, err := e.sub.SubmitDirectory(context.Background(), uuid.NewString(), root, true, false)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.Matched)
	assert.EqualValues(t, 2, stats.Succeeded)
	assert.Zero(t, stats.Failed)
	assert.Len(t, results, 2)
	assert.Equal(t, 2, e.tasks.Depth(context.Background()))
}

func TestWatcherSubmitsDroppedFile(t *testing.T) {
	e := newEnv(t)
	drop := t.TempDir()
	writeFile(t, drop, "existing.pdf", "old")

	w := NewWatcher(e.sub, WatchConfig{
		Roots:       []string{drop},
		OwnerID:     uuid.NewString(),
		InitialScan: true,
		Debounce:    50 * time.Millisecond,
	}, repotest.Logger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return e.tasks.Depth(ctx) == 1 }, 3*time.Second, 20*time.Millisecond)
	dropped := writeFile(t, drop, "new.jpg", "new")
	require.Eventually(t, func() bool { return e.tasks.Depth(ctx) == 2 }, 3*time.Second, 20*time.Millisecond)
	assert.NoFileExists(t, dropped)

	cancel()
	require.NoError(t, <-done)
}
