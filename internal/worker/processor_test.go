package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/mindflow/internal/blob"
	"github.com/dharsanguruparan/mindflow/internal/library"
	"github.com/dharsanguruparan/mindflow/internal/model"
	"github.com/dharsanguruparan/mindflow/internal/processing"
	"github.com/dharsanguruparan/mindflow/internal/queue"
	"github.com/dharsanguruparan/mindflow/internal/storage"
)

type extractorFunc func(context.Context, model.SourceFile) (*model.ProcessingResult, error)

func (f extractorFunc) Extract(ctx context.Context, file model.SourceFile) (*model.ProcessingResult, error) {
	return f(ctx, file)
}

func setup(t *testing.T, extract extractorFunc) (*Processor, *library.Store, *processing.JobStore) {
	t.Helper()
	store := library.New(blob.NewRegistry(storage.NewMemoryBackend(0)))
	jobs := processing.NewJobStore(time.Minute)
	runner := processing.NewRunner(processing.NewIngestor(extract, store, nil), jobs, nil)
	return NewProcessor(runner, nil), store, jobs
}

func stagedTask(t *testing.T, jobs *processing.JobStore) (*asynq.Task, processing.Job) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload")
	require.NoError(t, os.WriteFile(path, []byte("plain text"), 0o600))
	job := processing.Job{ID: "job-1", Path: path, FileName: "notes.txt", ContentType: "text/plain"}
	jobs.Create(job.ID, job.FileName)
	task, err := queue.NewIngestTask(job)
	require.NoError(t, err)
	return task, job
}

func TestProcessor_IngestSuccess(t *testing.T) {
	p, store, jobs := setup(t, func(context.Context, model.SourceFile) (*model.ProcessingResult, error) {
		return &model.ProcessingResult{ID: "d1", Title: "Notes"}, nil
	})
	task, job := stagedTask(t, jobs)

	require.NoError(t, p.handleIngest(context.Background(), task))
	doc, ok := store.Get("d1")
	require.True(t, ok)
	assert.Equal(t, "Notes", doc.Title)
	assert.NoFileExists(t, job.Path)

	rec, err := jobs.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, processing.JobComplete, rec.Status)
}

func TestProcessor_MissingFileSkipsRetry(t *testing.T) {
	p, _, jobs := setup(t, func(context.Context, model.SourceFile) (*model.ProcessingResult, error) {
		return &model.ProcessingResult{ID: "d1"}, nil
	})
	task, job := stagedTask(t, jobs)
	require.NoError(t, os.Remove(job.Path))

	err := p.handleIngest(context.Background(), task)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	assert.ErrorIs(t, err, processing.ErrStagedFileMissing)
}

func TestProcessor_BadPayloadSkipsRetry(t *testing.T) {
	p, _, _ := setup(t, nil)
	err := p.handleIngest(context.Background(), asynq.NewTask(queue.IngestDocumentTask, []byte("nope")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestProcessor_TransientFailureOutsideAsynqDiscards(t *testing.T) {
	p, store, jobs := setup(t, func(context.Context, model.SourceFile) (*model.ProcessingResult, error) {
		return nil, &processing.Error{StatusCode: 503, Message: "busy"}
	})
	task, job := stagedTask(t, jobs)

	err := p.handleIngest(context.Background(), task)
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
	assert.NoFileExists(t, job.Path)
	assert.Zero(t, store.Len())
}
