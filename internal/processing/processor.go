package processing

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Pool runs jobs on a fixed set of goroutines fed by a buffered channel.
type Pool struct {
	runner  *Runner
	queue   chan Job
	workers int
	log     *zap.Logger
	wg      sync.WaitGroup
}

// NewPool builds a Pool with queue capacity tied to worker count.
func NewPool(runner *Runner, workers int, log *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{
		runner: runner,
		// make(chan T, N) creates a buffered channel that can hold N messages
		// without blocking producers, keeping uploads responsive.
		queue:   make(chan Job, workers*4),
		workers: workers,
		log:     log.Named("pool"),
	}
}

// Start launches worker goroutines. They exit when ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Submit queues a job. A full queue fails the job immediately.
func (p *Pool) Submit(_ context.Context, job Job) error {
	select {
	case p.queue <- job:
		return nil
	default:
		p.log.Warn("processor queue full, dropping job", zap.String("job_id", job.ID), zap.String("file_name", job.FileName))
		p.runner.Fail(job, ErrQueueFull.Error())
		return ErrQueueFull
	}
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.queue:
			if err := p.runner.Run(ctx, job); err != nil && !Permanent(err) {
				// No retries in-process; drop the staged file.
				p.runner.Discard(job)
			}
		}
	}
}
