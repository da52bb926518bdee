package processing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/mindflow/internal/model"
)

// ErrStagedFileMissing is returned when a job's staged upload is gone.
var ErrStagedFileMissing = errors.New("staged upload missing")

// Job is one staged upload waiting to be ingested. It is small enough to travel
// through a channel or a task queue payload.
type Job struct {
	ID          string `json:"job_id"`
	Path        string `json:"path"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Runner executes jobs against an Ingestor and records their status.
type Runner struct {
	ingestor *Ingestor
	jobs     *JobStore
	log      *zap.Logger
}

// NewRunner creates a Runner.
func NewRunner(ingestor *Ingestor, jobs *JobStore, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{ingestor: ingestor, jobs: jobs, log: log.Named("runner")}
}

// Jobs exposes the job store for status lookups.
func (r *Runner) Jobs() *JobStore {
	return r.jobs
}

// Run ingests the staged file of job. The staged file is removed on success
// and on permanent failures; transient failures keep it for a retry.
func (r *Runner) Run(ctx context.Context, job Job) error {
	r.setStatus(job.ID, JobProcessing, "processing started", "")
	data, err := os.ReadFile(job.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = fmt.Errorf("%s: %w", job.Path, ErrStagedFileMissing)
		}
		r.setStatus(job.ID, JobFailed, err.Error(), "")
		return err
	}
	file := model.SourceFile{
		Name:        job.FileName,
		ContentType: job.ContentType,
		Size:        job.Size,
		Data:        data,
	}
	doc, err := r.ingestor.Ingest(ctx, file)
	if err != nil {
		r.log.Warn("ingest failed", zap.String("job_id", job.ID), zap.String("file_name", job.FileName), zap.Error(err))
		r.setStatus(job.ID, JobFailed, err.Error(), "")
		if Permanent(err) {
			r.Discard(job)
		}
		return err
	}
	r.setStatus(job.ID, JobComplete, "processing finished", doc.ID)
	r.Discard(job)
	r.log.Info("job complete", zap.String("job_id", job.ID), zap.String("document_id", doc.ID))
	return nil
}

// Discard removes the staged file of job.
func (r *Runner) Discard(job Job) {
	if err := os.Remove(job.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		r.log.Warn("failed to remove staged upload", zap.String("path", job.Path), zap.Error(err))
	}
}

// Fail marks job failed without running it.
func (r *Runner) Fail(job Job, reason string) {
	r.setStatus(job.ID, JobFailed, reason, "")
	r.Discard(job)
}

func (r *Runner) setStatus(id string, status JobStatus, message, documentID string) {
	if err := r.jobs.Update(id, status, message, documentID); err != nil {
		r.log.Debug("job status not recorded", zap.String("job_id", id), zap.String("status", string(status)), zap.Error(err))
	}
}

// Permanent reports whether retrying err cannot help.
func Permanent(err error) bool {
	return errors.Is(err, ErrDuplicate) ||
		errors.Is(err, ErrRejected) ||
		errors.Is(err, ErrStagedFileMissing) ||
		IsBadRequest(err) ||
		IsUnprocessable(err)
}

// sniffLen is how much of an upload http.DetectContentType looks at.
const sniffLen = 512

// Staged is an upload written to the staging directory.
type Staged struct {
	Path string
	Size int64
	// Head holds the first bytes for content type sniffing.
	Head []byte
}

// Stage streams src into dir/name. A positive limit caps the size; a larger
// upload is removed and reported as ErrTooLarge.
func Stage(dir, name string, src io.Reader, limit int64) (Staged, error) {
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return Staged{}, fmt.Errorf("create staged file: %w", err)
	}
	if limit > 0 {
		// One extra byte tells an exact fit apart from an oversized upload.
		src = io.LimitReader(src, limit+1)
	}
	head := &headBuffer{max: sniffLen}
	n, err := io.Copy(io.MultiWriter(f, head), src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return Staged{}, fmt.Errorf("write staged file: %w", err)
	}
	if limit > 0 && n > limit {
		_ = os.Remove(path)
		return Staged{}, fmt.Errorf("%w (%d bytes)", ErrTooLarge, limit)
	}
	return Staged{Path: path, Size: n, Head: head.buf}, nil
}

type headBuffer struct {
	buf []byte
	max int
}

func (h *headBuffer) Write(p []byte) (int, error) {
	if room := h.max - len(h.buf); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		h.buf = append(h.buf, p[:room]...)
	}
	return len(p), nil
}
