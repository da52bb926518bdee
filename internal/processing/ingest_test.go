package processing

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/mindflow/internal/blob"
	"github.com/dharsanguruparan/mindflow/internal/library"
	"github.com/dharsanguruparan/mindflow/internal/model"
	"github.com/dharsanguruparan/mindflow/internal/storage"
)

type stubExtractor struct {
	result *model.ProcessingResult
	err    error
	calls  int
}

func (s *stubExtractor) Extract(_ context.Context, _ model.SourceFile) (*model.ProcessingResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	r := *s.result
	return &r, nil
}

func newLibrary() (*library.Store, *blob.Registry) {
	registry := blob.NewRegistry(storage.NewMemoryBackend(0))
	return library.New(registry), registry
}

func pdfFile(name string) model.SourceFile {
	return model.SourceFile{Name: name, ContentType: "application/pdf", Data: []byte("%PDF-1.4 fake")}
}

func TestIngestor_AddsDocumentWithPages(t *testing.T) {
	store, registry := newLibrary()
	ing := NewIngestor(&stubExtractor{result: &model.ProcessingResult{ID: "d1", Title: "Flow"}}, store, nil)
	ing.pages = func([]byte) ([]string, error) { return []string{"page one", "page two"}, nil }

	doc, err := ing.Ingest(context.Background(), pdfFile("flow.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "d1", doc.ID)
	assert.Equal(t, []string{"page one", "page two"}, doc.Content)

	stored, ok := store.Get("d1")
	require.True(t, ok)
	assert.Equal(t, doc.Content, stored.Content)
	h, ok := registry.Lookup("d1")
	require.True(t, ok)
	assert.Equal(t, h.Ref, stored.BlobURL)
}

func TestIngestor_PageFailureKeepsDocument(t *testing.T) {
	store, _ := newLibrary()
	ing := NewIngestor(&stubExtractor{result: &model.ProcessingResult{ID: "d1"}}, store, nil)
	ing.pages = func([]byte) ([]string, error) { return nil, errors.New("broken xref") }

	doc, err := ing.Ingest(context.Background(), pdfFile("flow.pdf"))
	require.NoError(t, err)
	assert.Empty(t, doc.Content)
	assert.Equal(t, 1, store.Len())
}

func TestIngestor_NonPDFSkipsPages(t *testing.T) {
	store, _ := newLibrary()
	ing := NewIngestor(&stubExtractor{result: &model.ProcessingResult{ID: "t1"}}, store, nil)
	ing.pages = func([]byte) ([]string, error) {
		t.Fatal("page extraction should not run")
		return nil, nil
	}

	_, err := ing.Ingest(context.Background(), model.SourceFile{Name: "a.txt", ContentType: "text/plain", Data: []byte("hello")})
	require.NoError(t, err)
}

func TestIngestor_Errors(t *testing.T) {
	t.Run("duplicate", func(t *testing.T) {
		store, _ := newLibrary()
		ing := NewIngestor(&stubExtractor{result: &model.ProcessingResult{ID: "d1"}}, store, nil)
		ing.pages = func([]byte) ([]string, error) { return nil, nil }

		_, err := ing.Ingest(context.Background(), pdfFile("a.pdf"))
		require.NoError(t, err)
		_, err = ing.Ingest(context.Background(), pdfFile("b.pdf"))
		assert.ErrorIs(t, err, ErrDuplicate)
		assert.True(t, Permanent(err))
		assert.Equal(t, 1, store.Len())
	})

	t.Run("missing id", func(t *testing.T) {
		store, registry := newLibrary()
		ing := NewIngestor(&stubExtractor{result: &model.ProcessingResult{Title: "x"}}, store, nil)
		_, err := ing.Ingest(context.Background(), pdfFile("a.pdf"))
		assert.ErrorIs(t, err, ErrRejected)
		assert.Zero(t, store.Len())
		assert.Zero(t, registry.Len())
	})

	t.Run("extract failure", func(t *testing.T) {
		store, _ := newLibrary()
		ing := NewIngestor(&stubExtractor{err: &Error{StatusCode: 500, Message: "boom", Op: "Extract"}}, store, nil)
		_, err := ing.Ingest(context.Background(), pdfFile("a.pdf"))
		require.Error(t, err)
		assert.False(t, Permanent(err))
		assert.Zero(t, store.Len())
	})
}

func stage(t *testing.T, content string) Job {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return Job{ID: "job-" + filepath.Base(filepath.Dir(path)), Path: path, FileName: "flow.pdf", ContentType: "application/pdf", Size: int64(len(content))}
}

func TestRunner_Success(t *testing.T) {
	store, _ := newLibrary()
	ing := NewIngestor(&stubExtractor{result: &model.ProcessingResult{ID: "d1"}}, store, nil)
	ing.pages = func([]byte) ([]string, error) { return nil, nil }
	jobs := NewJobStore(time.Minute)
	runner := NewRunner(ing, jobs, nil)

	job := stage(t, "%PDF-1.4")
	jobs.Create(job.ID, job.FileName)
	require.NoError(t, runner.Run(context.Background(), job))

	rec, err := jobs.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobComplete, rec.Status)
	assert.Equal(t, "d1", rec.DocumentID)
	assert.NoFileExists(t, job.Path)

	doc, ok := store.Get("d1")
	require.True(t, ok)
	assert.Equal(t, int64(len("%PDF-1.4")), doc.FileSize)
}

func TestRunner_TransientFailureKeepsStagedFile(t *testing.T) {
	store, _ := newLibrary()
	ing := NewIngestor(&stubExtractor{err: &Error{StatusCode: 503, Message: "busy"}}, store, nil)
	jobs := NewJobStore(time.Minute)
	runner := NewRunner(ing, jobs, nil)

	job := stage(t, "%PDF-1.4")
	jobs.Create(job.ID, job.FileName)
	require.Error(t, runner.Run(context.Background(), job))
	assert.FileExists(t, job.Path)

	rec, _ := jobs.Get(job.ID)
	assert.Equal(t, JobFailed, rec.Status)

	runner.Discard(job)
	assert.NoFileExists(t, job.Path)
}

func TestRunner_MissingStagedFile(t *testing.T) {
	store, _ := newLibrary()
	extractor := &stubExtractor{result: &model.ProcessingResult{ID: "d1"}}
	jobs := NewJobStore(time.Minute)
	runner := NewRunner(NewIngestor(extractor, store, nil), jobs, nil)

	job := Job{ID: "j", Path: filepath.Join(t.TempDir(), "gone")}
	jobs.Create(job.ID, "gone.pdf")
	err := runner.Run(context.Background(), job)
	assert.ErrorIs(t, err, ErrStagedFileMissing)
	assert.True(t, Permanent(err))
	assert.Zero(t, extractor.calls)
}

func TestPool_RunsJobs(t *testing.T) {
	store, _ := newLibrary()
	ing := NewIngestor(&stubExtractor{result: &model.ProcessingResult{ID: "d1"}}, store, nil)
	ing.pages = func([]byte) ([]string, error) { return nil, nil }
	jobs := NewJobStore(time.Minute)
	pool := NewPool(NewRunner(ing, jobs, nil), 2, nil)

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	job := stage(t, "%PDF-1.4")
	jobs.Create(job.ID, job.FileName)
	require.NoError(t, pool.Submit(ctx, job))

	require.Eventually(t, func() bool {
		rec, err := jobs.Get(job.ID)
		return err == nil && rec.Status == JobComplete
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	pool.Wait()
}

func TestPool_QueueFull(t *testing.T) {
	store, _ := newLibrary()
	jobs := NewJobStore(time.Minute)
	pool := NewPool(NewRunner(NewIngestor(&stubExtractor{}, store, nil), jobs, nil), 1, nil)

	// Not started, so the buffer of four fills up.
	for i := 0; i < 4; i++ {
		require.NoError(t, pool.Submit(context.Background(), Job{ID: "queued"}))
	}
	overflow := stage(t, "%PDF-1.4")
	jobs.Create(overflow.ID, overflow.FileName)
	assert.ErrorIs(t, pool.Submit(context.Background(), overflow), ErrQueueFull)

	rec, err := jobs.Get(overflow.ID)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, rec.Status)
	assert.NoFileExists(t, overflow.Path)
}

func TestJobStore(t *testing.T) {
	jobs := NewJobStore(time.Minute)
	rec := jobs.Create("j1", "a.pdf")
	assert.Equal(t, JobQueued, rec.Status)

	require.NoError(t, jobs.Update("j1", JobProcessing, "started", ""))
	require.NoError(t, jobs.Update("j1", JobComplete, "done", "d1"))
	require.NoError(t, jobs.Update("j1", JobComplete, "done again", ""))

	got, err := jobs.Get("j1")
	require.NoError(t, err)
	assert.Equal(t, "d1", got.DocumentID)
	assert.Equal(t, "done again", got.Message)
	assert.Equal(t, 1, jobs.Len())

	assert.ErrorIs(t, jobs.Update("nope", JobFailed, "", ""), ErrJobNotFound)
	_, err = jobs.Get("nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestStage(t *testing.T) {
	dir := t.TempDir()
	staged, err := Stage(dir, "job-1", strings.NewReader("hello"), 5)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "job-1"), staged.Path)
	assert.Equal(t, int64(5), staged.Size)
	assert.Equal(t, []byte("hello"), staged.Head)
	data, err := os.ReadFile(staged.Path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = Stage(dir, "job-1", strings.NewReader("again"), 0)
	assert.Error(t, err, "existing staged file must not be overwritten")
}

func TestStage_LimitAndHead(t *testing.T) {
	dir := t.TempDir()
	_, err := Stage(dir, "big", strings.NewReader("123456"), 5)
	assert.ErrorIs(t, err, ErrTooLarge)
	_, statErr := os.Stat(filepath.Join(dir, "big"))
	assert.True(t, os.IsNotExist(statErr))

	long := strings.Repeat("a", 2000)
	staged, err := Stage(dir, "long", strings.NewReader(long), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), staged.Size)
	assert.Len(t, staged.Head, 512)
}
