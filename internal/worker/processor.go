package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/mindflow/internal/processing"
	"github.com/dharsanguruparan/mindflow/internal/queue"
)

// Processor is plugged into the asynq worker loop.
type Processor struct {
	runner *processing.Runner
	log    *zap.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(runner *processing.Runner, log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{runner: runner, log: log.Named("worker")}
}

// Handler registers the ingest job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.IngestDocumentTask, p.handleIngest)
	return mux
}

func (p *Processor) handleIngest(ctx context.Context, task *asynq.Task) error {
	job, err := queue.ParseIngestTask(task)
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	err = p.runner.Run(ctx, job)
	if err == nil {
		return nil
	}
	if processing.Permanent(err) {
		p.log.Warn("ingest failed permanently", zap.String("job_id", job.ID), zap.Error(err))
		return fmt.Errorf("ingest %s: %w: %w", job.ID, err, asynq.SkipRetry)
	}
	if lastAttempt(ctx) {
		p.log.Error("ingest failed, no retries left", zap.String("job_id", job.ID), zap.Error(err))
		p.runner.Discard(job)
		return err
	}
	p.log.Info("ingest failed, will retry", zap.String("job_id", job.ID), zap.Error(err))
	if uerr := p.runner.Jobs().Update(job.ID, processing.JobQueued, "retrying: "+err.Error(), ""); uerr != nil {
		p.log.Debug("job status not recorded", zap.String("job_id", job.ID), zap.Error(uerr))
	}
	return err
}

// lastAttempt reports whether asynq will not run the task again. Outside an
// asynq handler there is no retry at all.
func lastAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}
