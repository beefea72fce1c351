package worker

import (
	"context"
	"sync"
)

// Job represents a unit of work to be executed
type Job interface {
	Execute(ctx context.Context) Result
}

// Result represents the result of a job execution
type Result interface {
	GetError() error
}

type queued struct {
	index int
	job   Job
}

// Pool runs jobs on a fixed number of workers
// Wait returns results in submission order.
type Pool struct {
	workers    int
	jobQueue   chan queued
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
	startOnce  sync.Once

	mu      sync.Mutex
	results []Result

	// sendMu orders sends on jobQueue before its close
	sendMu sync.RWMutex
	closed bool
}

// NewPool creates a pool bound to parent; cancelling parent stops the workers
func NewPool(parent context.Context, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(parent)

	return &Pool{
		workers:    workers,
		jobQueue:   make(chan queued, workers*2),
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// Start launches the workers; later calls are no-ops
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker()
		}
	})
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case q, ok := <-p.jobQueue:
			if !ok {
				return
			}
			result := q.job.Execute(p.ctx)
			p.mu.Lock()
			p.results[q.index] = result
			p.mu.Unlock()
		}
	}
}

// Submit queues a job and reports whether it was accepted
// Jobs submitted after Wait or Shutdown are dropped.
func (p *Pool) Submit(job Job) bool {
	p.sendMu.RLock()
	defer p.sendMu.RUnlock()
	if p.closed {
		return false
	}

	p.mu.Lock()
	index := len(p.results)
	p.results = append(p.results, nil)
	p.mu.Unlock()

	select {
	case <-p.ctx.Done():
		return false
	case p.jobQueue <- queued{index: index, job: job}:
		return true
	}
}

// Wait closes the queue, waits for the workers and returns every result
// Jobs that never ran because the pool was cancelled have no result.
func (p *Pool) Wait() []Result {
	p.close()
	p.wg.Wait()
	p.cancelFunc()

	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Result, 0, len(p.results))
	for _, r := range p.results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// Shutdown cancels running jobs and waits for the workers to exit
func (p *Pool) Shutdown() {
	p.cancelFunc()
	p.close()
	p.wg.Wait()
}

func (p *Pool) close() {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.jobQueue)
	}
}
