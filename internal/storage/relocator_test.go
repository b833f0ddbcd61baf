package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docintake/internal/common"
	"github.com/joseph-ayodele/docintake/internal/entity"
)

type fakeStore struct {
	objects map[string][]byte
	err     error
}

func (f *fakeStore) Put(_ context.Context, key string, body io.Reader, _ int64) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[key] = b
	return "https://files.example.com/" + key, nil
}

func (f *fakeStore) Ping(context.Context) error { return f.err }

type flag bool

func (f flag) RemoteStorageEnabled() bool { return bool(f) }

func setup(t *testing.T, store ObjectStore, remote bool) (*Relocator, *entity.Job) {
	t.Helper()
	root := t.TempDir()
	folders := Folders{
		Pending:    filepath.Join(root, "pending"),
		Processing: filepath.Join(root, "processing"),
		Completed:  filepath.Join(root, "completed"),
		Failed:     filepath.Join(root, "failed"),
	}
	r := NewRelocator(folders, store, flag(remote), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, r.EnsureFolders())

	src := filepath.Join(folders.Pending, "abc.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF"), 0o644))
	return r, &entity.Job{ID: 1, Filename: "abc.pdf", Filepath: src}
}

func TestClaimMovesToProcessing(t *testing.T) {
	r, job := setup(t, nil, false)

	p, err := r.Claim(job)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(r.Folders().Processing, "abc.pdf"), p)
	assert.FileExists(t, p)
	assert.NoFileExists(t, job.Filepath)

	// a redelivered task finds the file already moved
	p2, err := r.Claim(job)
	require.NoError(t, err)
	assert.Equal(t, p, p2)
}

func TestCompleteLocal(t *testing.T) {
	r, job := setup(t, nil, false)
	p, err := r.Claim(job)
	require.NoError(t, err)
	job.Filepath = p

	dst, err := r.Complete(context.Background(), job, r.RemoteEnabled())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(r.Folders().Completed, "abc.pdf"), dst)
	assert.FileExists(t, dst)
}

func TestCompleteLocalMissingFileIsFatal(t *testing.T) {
	r, job := setup(t, nil, false)
	job.Filepath = filepath.Join(t.TempDir(), "gone.pdf")

	_, err := r.Complete(context.Background(), job, false)
	assert.ErrorIs(t, err, common.ErrRelocate)
}

func TestCompleteRemote(t *testing.T) {
	store := &fakeStore{}
	r, job := setup(t, store, true)
	require.True(t, r.RemoteEnabled())

	url, err := r.Complete(context.Background(), job, true)
	require.NoError(t, err)
	assert.Equal(t, "https://files.example.com/abc.pdf", url)
	assert.Equal(t, []byte("%PDF"), store.objects["abc.pdf"])
	assert.NoFileExists(t, job.Filepath)
}

func TestCompleteRemoteFailureKeepsLocalCopy(t *testing.T) {
	r, job := setup(t, &fakeStore{err: errors.New("503")}, true)

	loc, err := r.Complete(context.Background(), job, true)
	assert.ErrorIs(t, err, common.ErrUpload)
	assert.Equal(t, job.Filepath, loc)
	assert.FileExists(t, job.Filepath)
}

func TestCompleteRemoteWithoutStore(t *testing.T) {
	r, job := setup(t, nil, true)
	_, err := r.Complete(context.Background(), job, true)
	assert.ErrorIs(t, err, common.ErrUpload)
}

func TestFail(t *testing.T) {
	r, job := setup(t, nil, false)

	p, err := r.Fail(job)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(r.Folders().Failed, "abc.pdf"), p)
	assert.FileExists(t, p)

	job.Filepath = filepath.Join(t.TempDir(), "missing.pdf")
	p, err = r.Fail(job)
	require.NoError(t, err)
	assert.Equal(t, job.Filepath, p)
}

func TestS3ObjectURL(t *testing.T) {
	assert.Equal(t, "https://cdn.example.com/k.pdf", (&S3Store{bucket: "b", publicURL: "https://cdn.example.com"}).ObjectURL("k.pdf"))
	assert.Equal(t, "https://r2.example.com/b/k.pdf", (&S3Store{bucket: "b", endpoint: "https://r2.example.com"}).ObjectURL("k.pdf"))
	assert.Equal(t, "s3://b/k.pdf", (&S3Store{bucket: "b"}).ObjectURL("k.pdf"))
}
