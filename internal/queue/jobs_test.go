package queue

import (
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/mindflow/internal/processing"
)

func TestIngestTask(t *testing.T) {
	job := processing.Job{ID: "job-1", Path: "/tmp/upload-1", FileName: "flow.pdf", ContentType: "application/pdf", Size: 42}
	task, err := NewIngestTask(job)
	require.NoError(t, err)
	assert.Equal(t, IngestDocumentTask, task.Type())

	got, err := ParseIngestTask(task)
	require.NoError(t, err)
	assert.Equal(t, job, got)
}

func TestParseIngestTask_Invalid(t *testing.T) {
	_, err := ParseIngestTask(asynq.NewTask(IngestDocumentTask, []byte("{")))
	assert.Error(t, err)

	_, err = ParseIngestTask(asynq.NewTask(IngestDocumentTask, []byte(`{"job_id":"j"}`)))
	assert.Error(t, err)
}
