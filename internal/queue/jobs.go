package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/mindflow/internal/processing"
)

const (
	// IngestDocumentTask is scheduled each time a file is uploaded.
	IngestDocumentTask = "document:ingest"

	defaultMaxRetry = 5
)

// NewIngestTask serializes job into a task so the worker knows which staged
// file to ingest.
func NewIngestTask(job processing.Job) (*asynq.Task, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(IngestDocumentTask, data), nil
}

// ParseIngestTask decodes the job carried by task.
func ParseIngestTask(task *asynq.Task) (processing.Job, error) {
	var job processing.Job
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return processing.Job{}, fmt.Errorf("decode payload: %w", err)
	}
	if job.ID == "" || job.Path == "" {
		return processing.Job{}, fmt.Errorf("decode payload: job id and path are required")
	}
	return job, nil
}

// Dispatcher enqueues ingest jobs on Redis through asynq.
type Dispatcher struct {
	client   *asynq.Client
	maxRetry int
}

// NewDispatcher wraps an asynq client.
func NewDispatcher(client *asynq.Client) *Dispatcher {
	return &Dispatcher{client: client, maxRetry: defaultMaxRetry}
}

// Submit enqueues an ingest task for job.
func (d *Dispatcher) Submit(ctx context.Context, job processing.Job) error {
	task, err := NewIngestTask(job)
	if err != nil {
		return err
	}
	if _, err := d.client.EnqueueContext(ctx, task, asynq.MaxRetry(d.maxRetry), asynq.TaskID(job.ID)); err != nil {
		return fmt.Errorf("enqueue ingest task: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (d *Dispatcher) Close() error {
	return d.client.Close()
}
