package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docintake/constants"
	"github.com/joseph-ayodele/docintake/internal/checksum"
	"github.com/joseph-ayodele/docintake/internal/common"
	"github.com/joseph-ayodele/docintake/internal/entity"
	"github.com/joseph-ayodele/docintake/internal/fields"
	"github.com/joseph-ayodele/docintake/internal/ocr"
	"github.com/joseph-ayodele/docintake/internal/queue"
	"github.com/joseph-ayodele/docintake/internal/repository"
	"github.com/joseph-ayodele/docintake/internal/repository/repotest"
	"github.com/joseph-ayodele/docintake/internal/storage"
)

const fixture = "Empregado: Jane Roe Matricula: 555\nFuncao: Tester\nEquipamento: Drill IMEI: 123 Patrimonio: P9\n"

type stubExtractor struct {
	text  string
	err   error
	panic bool
	calls int
}

func (s *stubExtractor) Extract(_ context.Context, _ string, _ constants.DocumentKind) (ocr.Result, error) {
	s.calls++
	if s.panic {
		panic("boom")
	}
	if s.err != nil {
		return ocr.Result{}, s.err
	}
	return ocr.Result{Text: s.text, Method: "pdf-text"}, nil
}

type recorder struct {
	mu      sync.Mutex
	results []queue.ResultMessage
}

func (r *recorder) Publish(_ context.Context, msg queue.ResultMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, msg)
	return nil
}

func (r *recorder) all() []queue.ResultMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]queue.ResultMessage(nil), r.results...)
}

type remoteFlag bool

func (f remoteFlag) RemoteStorageEnabled() bool { return bool(f) }

type harness struct {
	jobs    repository.JobRepository
	folders storage.Folders
	ext     *stubExtractor
	results *recorder
	proc    *Processor
}

func newHarness(t *testing.T, remote bool) *harness {
	t.Helper()
	root := t.TempDir()
	folders := storage.Folders{
		Pending:    filepath.Join(root, "pending"),
		Processing: filepath.Join(root, "processing"),
		Completed:  filepath.Join(root, "completed"),
		Failed:     filepath.Join(root, "failed"),
	}
	placer := storage.NewRelocator(folders, nil, remoteFlag(remote), repotest.Logger())
	require.NoError(t, placer.EnsureFolders())

	jobs, _ := repotest.Jobs(t)
	h := &harness{jobs: jobs, folders: folders, ext: &stubExtractor{text: fixture}, results: &recorder{}}
	h.proc = NewProcessor(jobs, checksum.NewGate(jobs, repotest.Logger()), h.ext,
		fields.NewParser(repotest.Logger()), placer, h.results, 3, repotest.Logger())
	return h
}

func (h *harness) submit(t *testing.T, name, content string, retries int) *entity.Job {
	t.Helper()
	path := filepath.Join(h.folders.Pending, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	job, err := h.jobs.Create(context.Background(), &entity.Job{
		Filename:         name,
		OriginalFilename: name,
		Filepath:         path,
		Retries:          retries,
		OwnerID:          uuid.New(),
	})
	require.NoError(t, err)
	return job
}

func (h *harness) process(t *testing.T, job *entity.Job) *entity.Job {
	t.Helper()
	require.NoError(t, h.proc.Process(context.Background(), queue.NewTask(job.ID, job.Filepath, job.Retries)))
	got, err := h.jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	return got
}

func TestProcessCompletesAndRelocates(t *testing.T) {
	h := newHarness(t, false)
	job := h.process(t, h.submit(t, "a.pdf", "content-a", 0))

	assert.Equal(t, constants.JobStatusCompleted, job.Status)
	assert.Equal(t, filepath.Join(h.folders.Completed, "a.pdf"), job.Filepath)
	assert.FileExists(t, job.Filepath)
	require.NotNil(t, job.Checksum)
	require.NotNil(t, job.Fields.Name)
	assert.Equal(t, "Jane Roe", *job.Fields.Name)
	assert.Equal(t, 0, job.Retries)

	res := h.results.all()
	require.Len(t, res, 1)
	assert.Equal(t, "completed", res[0].Status)
	assert.Equal(t, job.Filepath, res[0].Filepath)
}

func TestDuplicateIsNotRelocated(t *testing.T) {
	h := newHarness(t, false)
	first := h.process(t, h.submit(t, "a.pdf", "same bytes", 0))
	require.Equal(t, constants.JobStatusCompleted, first.Status)

	submitted := h.submit(t, "b.pdf", "same bytes", 0)
	extractCalls := h.ext.calls
	dup := h.process(t, submitted)

	assert.Equal(t, constants.JobStatusDuplicate, dup.Status)
	assert.Equal(t, submitted.Filepath, dup.Filepath)
	assert.FileExists(t, submitted.Filepath)
	require.NotNil(t, dup.ExtractedText)
	assert.Equal(t, constants.DuplicateNote, *dup.ExtractedText)
	assert.Equal(t, 0, dup.Retries)
	assert.Equal(t, extractCalls, h.ext.calls)
}

func TestFailureAtCapIsTerminal(t *testing.T) {
	h := newHarness(t, false)
	h.ext.err = common.ErrUnreadableDocument
	job := h.process(t, h.submit(t, "a.pdf", "x", 3))

	assert.Equal(t, constants.JobStatusFailed, job.Status)
	assert.Equal(t, 3, job.Retries)
	assert.Equal(t, filepath.Join(h.folders.Failed, "a.pdf"), job.Filepath)
	require.NotNil(t, job.ExtractedText)
	assert.NotEmpty(t, *job.ExtractedText)

	tasks := newTaskChannel(t)
	consumer := NewResultConsumer(h.jobs, nil, tasks, 3, repotest.Logger())
	require.NoError(t, consumer.Handle(context.Background(), h.results.all()[0]))
	assert.Zero(t, tasks.Depth(context.Background()))

	got, err := h.jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, got.Status)
}

func TestFailureUnderCapRequeuedOnce(t *testing.T) {
	h := newHarness(t, false)
	h.ext.err = errors.New("tesseract crashed")
	job := h.process(t, h.submit(t, "a.pdf", "x", 0))
	require.Equal(t, constants.JobStatusFailed, job.Status)
	assert.Equal(t, 1, job.Retries)

	tasks := newTaskChannel(t)
	consumer := NewResultConsumer(h.jobs, nil, tasks, 3, repotest.Logger())
	res := h.results.all()[0]
	require.NoError(t, consumer.Handle(context.Background(), res))
	require.NoError(t, consumer.Handle(context.Background(), res))
	assert.Equal(t, 1, tasks.Depth(context.Background()))

	got, err := h.jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusPending, got.Status)

	h.ext.err = nil
	d, err := tasks.Receive(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Msg.Retries)
	require.NoError(t, h.proc.Process(context.Background(), d.Msg))
	got, err = h.jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCompleted, got.Status)
	assert.Equal(t, 1, got.Retries)
}

func TestTaskForNonPendingJobIsSkipped(t *testing.T) {
	h := newHarness(t, false)
	job := h.submit(t, "a.pdf", "x", 0)
	h.process(t, job)
	require.Len(t, h.results.all(), 1)

	// redelivery of the same task
	require.NoError(t, h.proc.Process(context.Background(), queue.NewTask(job.ID, job.Filepath, 0)))
	assert.Len(t, h.results.all(), 1)
}

func TestUnknownJobIsDropped(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.proc.Process(context.Background(), queue.NewTask(999, "/nowhere.pdf", 0)))
	assert.Empty(t, h.results.all())
}

func TestUnsupportedTypeFails(t *testing.T) {
	h := newHarness(t, false)
	job := h.process(t, h.submit(t, "notes.docx", "x", 0))
	assert.Equal(t, constants.JobStatusFailed, job.Status)
	assert.Zero(t, h.ext.calls)
	assert.Contains(t, *job.ExtractedText, "unsupported")
}

func TestPanicBecomesFailedResult(t *testing.T) {
	h := newHarness(t, false)
	h.ext.panic = true
	job := h.process(t, h.submit(t, "a.pdf", "x", 0))

	assert.Equal(t, constants.JobStatusFailed, job.Status)
	assert.Equal(t, 1, job.Retries)
	assert.NotContains(t, *job.ExtractedText, "goroutine")
	require.Len(t, h.results.all(), 1)
}

func TestUploadFailureKeepsTextWithNote(t *testing.T) {
	h := newHarness(t, true)
	job := h.process(t, h.submit(t, "a.pdf", "x", 0))

	assert.Equal(t, constants.JobStatusFailed, job.Status)
	require.NotNil(t, job.ExtractedText)
	assert.Contains(t, *job.ExtractedText, "Jane Roe")
	assert.Contains(t, *job.ExtractedText, constants.UploadFailureNote)
	assert.Equal(t, filepath.Join(h.folders.Failed, "a.pdf"), job.Filepath)
}

type scriptedRunner struct{ text string }

func (r scriptedRunner) Run(_ context.Context, name string, _ ...string) ([]byte, []byte, error) {
	if name == "pdftotext" {
		return []byte(r.text), nil, nil
	}
	return nil, nil, errors.New("unexpected " + name)
}

type twoPages struct{}

func (twoPages) PageCount(string) (int, error) { return 2, nil }

func TestWhitespaceTextLayerWithOCRDisabledCompletes(t *testing.T) {
	h := newHarness(t, false)
	h.proc.extractor = ocr.NewExtractor(ocr.Config{Enabled: false}, repotest.Logger(),
		ocr.WithRunner(scriptedRunner{text: "  \n\t \f  \n"}),
		ocr.WithPageCounter(twoPages{}),
		ocr.WithLookPath(func(string) (string, error) { return "/usr/bin/x", nil }),
	)
	job := h.process(t, h.submit(t, "scan.pdf", "scanned", 0))

	assert.Equal(t, constants.JobStatusCompleted, job.Status)
	require.NotNil(t, job.ExtractedText)
	assert.Equal(t, "", *job.ExtractedText)
	assert.Nil(t, job.Fields.Name)
	assert.Nil(t, job.Fields.RegistrationID)
	assert.Nil(t, job.Fields.DocumentDate)
	assert.Empty(t, job.Fields.Equipment)
	assert.Empty(t, job.Fields.AssetTags)
}

func newTaskChannel(t *testing.T) *queue.Channel[queue.TaskMessage] {
	t.Helper()
	codec, err := queue.TaskCodec()
	require.NoError(t, err)
	return queue.NewChannel(constants.TaskQueue, nil, codec, 10*time.Millisecond, repotest.Logger())
}

func TestResultConsumerRunAppliesAndDrainsOnStop(t *testing.T) {
	h := newHarness(t, false)
	codec, err := queue.ResultCodec()
	require.NoError(t, err)
	results := queue.NewChannel(constants.ResultQueue, nil, codec, 10*time.Millisecond, repotest.Logger())
	h.proc.results = results

	first := h.submit(t, "a.pdf", "first", 0)
	second := h.submit(t, "b.pdf", "second", 0)
	require.NoError(t, h.proc.Process(context.Background(), queue.NewTask(first.ID, first.Filepath, 0)))

	tasks := newTaskChannel(t)
	consumer := NewResultConsumer(h.jobs, results, tasks, 3, repotest.Logger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	require.Eventually(t, func() bool { return results.LocalLen() == 0 }, time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	// published after the consumer stopped; a new run drains it at stop
	require.NoError(t, h.proc.Process(context.Background(), queue.NewTask(second.ID, second.Filepath, 0)))
	stopped, stop := context.WithCancel(context.Background())
	stop()
	require.NoError(t, consumer.Run(stopped))
	assert.Zero(t, results.LocalLen())
}

// flakyJobs fails the first applyFailures ApplyResult calls with a store error.
type flakyJobs struct {
	repository.JobRepository
	mu            sync.Mutex
	applyFailures int
	applyCalls    int
}

func (f *flakyJobs) ApplyResult(ctx context.Context, out entity.Outcome) (bool, error) {
	f.mu.Lock()
	f.applyCalls++
	fail := f.applyCalls <= f.applyFailures
	f.mu.Unlock()
	if fail {
		return false, errors.New("connection reset by peer")
	}
	return f.JobRepository.ApplyResult(ctx, out)
}

func TestResultConsumerRetriesTransientStoreErrors(t *testing.T) {
	h := newHarness(t, false)
	codec, err := queue.ResultCodec()
	require.NoError(t, err)
	results := queue.NewChannel(constants.ResultQueue, nil, codec, 10*time.Millisecond, repotest.Logger())
	h.proc.results = results
	h.ext.err = errors.New("tesseract crashed")

	job := h.submit(t, "a.pdf", "x", 0)
	require.NoError(t, h.proc.Process(context.Background(), queue.NewTask(job.ID, job.Filepath, 0)))

	store := &flakyJobs{JobRepository: h.jobs, applyFailures: 1}
	tasks := newTaskChannel(t)
	consumer := NewResultConsumer(store, results, tasks, 3, repotest.Logger())
	consumer.backoff = time.Millisecond

	stopped, stop := context.WithCancel(context.Background())
	stop()
	require.NoError(t, consumer.Run(stopped))

	assert.Equal(t, 2, store.applyCalls)
	assert.Equal(t, 1, tasks.Depth(context.Background()))
	got, err := h.jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusPending, got.Status)
	assert.Equal(t, 1, got.Retries)
}
