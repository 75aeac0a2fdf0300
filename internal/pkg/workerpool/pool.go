package workerpool

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrPoolStopped = errors.New("worker pool stopped")
	ErrQueueFull   = errors.New("worker pool queue full")
)

// Pool 通用协程池
//
// Jobs run on a fixed number of workers. A panicking job is logged and
// does not take its worker down.
type Pool struct {
	jobs    chan func()
	workers int
	logger  *zap.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

func New(workers, queueSize int, logger *zap.Logger) *Pool {
	return &Pool{
		jobs:    make(chan func(), max(queueSize, 0)),
		workers: max(workers, 1),
		logger:  logger,
	}
}

// Start 启动协程池
func (p *Pool) Start() {
	for id := range p.workers {
		p.wg.Go(func() {
			for job := range p.jobs {
				p.run(id, job)
			}
		})
	}
	p.logger.Info("worker pool started", zap.Int("workers", p.workers))
}

func (p *Pool) run(workerID int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker job panicked", zap.Int("worker", workerID), zap.Any("panic", r))
		}
	}()
	job()
}

// Submit queues job, blocking while the queue is full.
func (p *Pool) Submit(job func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}
	p.jobs <- job
	return nil
}

// TrySubmit queues job without blocking.
func (p *Pool) TrySubmit(job func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop rejects new jobs, runs the queued ones and waits for the workers.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}
