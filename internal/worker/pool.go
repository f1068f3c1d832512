package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// WorkerPool runs jobs on a fixed number of goroutines
type WorkerPool struct {
	name    string
	workers int
	jobs    chan Job
	busy    atomic.Int32
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(name string, workers int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		name:    name,
		workers: workers,
		jobs:    make(chan Job),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start starts the worker pool
func (wp *WorkerPool) Start() {
	slog.Info("Starting worker pool", "pool", wp.name, "workers", wp.workers)

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop stops accepting jobs and waits for in-flight ones
func (wp *WorkerPool) Stop() {
	wp.once.Do(func() {
		slog.Info("Stopping worker pool", "pool", wp.name)
		wp.cancel()
		wp.wg.Wait()
		slog.Info("Worker pool stopped", "pool", wp.name)
	})
}

// Submit blocks until a worker takes the job or ctx ends
func (wp *WorkerPool) Submit(ctx context.Context, job Job) error {
	if job.Context == nil {
		job.Context = ctx
	}
	select {
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool %s stopped", wp.name)
	default:
	}
	select {
	case wp.jobs <- job:
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool %s stopped", wp.name)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Available returns how many workers are idle
func (wp *WorkerPool) Available() int {
	n := wp.workers - int(wp.busy.Load())
	if n < 0 {
		return 0
	}
	return n
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	slog.Debug("Worker started", "pool", wp.name, "worker_id", id)

	for {
		select {
		case job := <-wp.jobs:
			wp.busy.Add(1)
			err := wp.run(job)
			wp.busy.Add(-1)
			if job.OnDone != nil {
				job.OnDone(err)
			}
			continue
		case <-wp.ctx.Done():
		}
		break
	}

	slog.Debug("Worker stopped", "pool", wp.name, "worker_id", id)
}

// run executes one job, converting a panic into an error
func (wp *WorkerPool) run(job Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Worker recovered from panic",
				"pool", wp.name,
				"job_id", job.ID,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("panic in job %s: %v", job.ID, rec)
		}
	}()
	return job.Run(job.Context)
}
