// Package worker runs one harvest per subscribed account on a fixed pool of
// goroutines.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wxharvest/pkg/harvest"
	"wxharvest/pkg/logger"
)

// Job is a single account to harvest
type Job struct {
	AccountID string
	FakeID    string
	Name      string
}

// Result is the outcome of a job
type Result struct {
	Job      Job
	Summary  harvest.Summary
	Error    error
	Duration time.Duration
}

// Success reports whether the job finished without error
func (r Result) Success() bool {
	return r.Error == nil
}

// Runner harvests one account
type Runner interface {
	Run(ctx context.Context, job Job) (harvest.Summary, error)
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context, job Job) (harvest.Summary, error)

func (f RunnerFunc) Run(ctx context.Context, job Job) (harvest.Summary, error) {
	return f(ctx, job)
}

// Pool manages concurrent harvest workers
type Pool struct {
	numWorkers  int
	jobQueue    chan Job
	resultQueue chan Result
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	runner      Runner
	logger      logger.Logger
	stopOnce    sync.Once
}

// NewPool creates a pool whose jobs run under ctx
func NewPool(ctx context.Context, numWorkers int, runner Runner, log logger.Logger) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}
	ctx, cancel := context.WithCancel(ctx)

	return &Pool{
		numWorkers:  numWorkers,
		jobQueue:    make(chan Job, numWorkers*2),
		resultQueue: make(chan Result, numWorkers),
		ctx:         ctx,
		cancel:      cancel,
		runner:      runner,
		logger:      log.WithField("component", "worker_pool"),
	}
}

// Start launches the workers
func (p *Pool) Start() {
	p.logger.InfoWithFields("Starting worker pool", map[string]interface{}{
		"num_workers": p.numWorkers,
	})

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop closes the queue, waits for queued jobs and closes Results. Results
// must be drained concurrently or Stop blocks.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.jobQueue)
		p.wg.Wait()
		close(p.resultQueue)
		p.cancel()
		p.logger.Info("Worker pool stopped")
	})
}

// Cancel aborts running jobs; queued jobs are reported as cancelled
func (p *Pool) Cancel() {
	p.cancel()
}

// Submit queues a job
func (p *Pool) Submit(job Job) error {
	select {
	case <-p.ctx.Done():
		return fmt.Errorf("worker pool is shutting down")
	default:
	}

	select {
	case p.jobQueue <- job:
		p.logger.DebugWithFields("Job submitted to queue", map[string]interface{}{
			"account_id": job.AccountID,
		})
		return nil
	case <-p.ctx.Done():
		return fmt.Errorf("worker pool is shutting down")
	}
}

// Results returns the result channel
func (p *Pool) Results() <-chan Result {
	return p.resultQueue
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for job := range p.jobQueue {
		var result Result
		if err := p.ctx.Err(); err != nil {
			result = Result{Job: job, Error: err}
		} else {
			result = p.processJob(job, id)
		}
		p.resultQueue <- result
	}
}

func (p *Pool) processJob(job Job, workerID int) (result Result) {
	start := time.Now()
	result.Job = job

	defer func() {
		if r := recover(); r != nil {
			result.Error = fmt.Errorf("harvest of %s panicked: %v", job.AccountID, r)
		}
		result.Duration = time.Since(start)
		fields := map[string]interface{}{
			"worker_id":  workerID,
			"account_id": job.AccountID,
			"records":    result.Summary.Records,
			"changed":    result.Summary.Changed,
			"duration":   result.Duration,
		}
		if result.Error != nil {
			fields["error"] = result.Error.Error()
			p.logger.ErrorWithFields("Harvest job failed", fields)
			return
		}
		p.logger.DebugWithFields("Harvest job completed", fields)
	}()

	result.Summary, result.Error = p.runner.Run(p.ctx, job)
	return result
}

// QueueSize returns the number of queued jobs
func (p *Pool) QueueSize() int {
	return len(p.jobQueue)
}

// Workers returns the pool size
func (p *Pool) Workers() int {
	return p.numWorkers
}

// RunAll harvests every job on a fresh pool and returns results in
// completion order.
func RunAll(ctx context.Context, numWorkers int, runner Runner, jobs []Job, log logger.Logger) []Result {
	pool := NewPool(ctx, numWorkers, runner, log)
	pool.Start()

	go func() {
		for _, job := range jobs {
			if err := pool.Submit(job); err != nil {
				break
			}
		}
		pool.Stop()
	}()

	results := make([]Result, 0, len(jobs))
	for r := range pool.Results() {
		results = append(results, r)
	}
	return results
}
