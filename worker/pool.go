// Package worker runs CPU-bound conversions on a fixed set of goroutines so a slow request
// never blocks unrelated ones.
package worker

import (
	"context"
	"errors"
	"sync"

	"AniObjCut/logger"

	"go.uber.org/zap"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("worker pool closed")

// Job is one unit of work. It owns its own cleanup; the pool only runs it.
type Job func()

type Pool struct {
	jobs chan Job
	quit chan struct{}
	wg   sync.WaitGroup
	// mu orders sends on jobs before close(quit): Submit holds it shared while sending.
	mu      sync.RWMutex
	closed  bool
	workers int
}

// NewPool starts workerNum workers sharing a queue of queueLen pending jobs.
func NewPool(workerNum, queueLen int) *Pool {
	workerNum = max(1, workerNum)
	p := &Pool{
		jobs:    make(chan Job, max(0, queueLen)),
		quit:    make(chan struct{}),
		workers: workerNum,
	}
	for i := 0; i < workerNum; i++ {
		p.wg.Add(1)
		go p.runWorker(i)
	}
	return p
}

func (p *Pool) Workers() int { return p.workers }

// Submit queues job, waiting for room until ctx is done. A nil error means the job will run.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.jobs <- job:
		return nil
	}
}

// Close stops accepting work, runs what is already queued and waits for the workers.
// It waits for Submit calls already blocked on a full queue.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.quit)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) runWorker(workerID int) {
	defer p.wg.Done()
	logger.Log().Debug("worker created", zap.Int("worker", workerID))
	for {
		select {
		case job := <-p.jobs:
			p.exec(workerID, job)
		case <-p.quit:
			// queued jobs still hold temp files; run them so their cleanup happens
			for {
				select {
				case job := <-p.jobs:
					p.exec(workerID, job)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) exec(workerID int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log().Error("worker recovered from panic", zap.Int("worker", workerID), zap.Any("panic", r))
		}
	}()
	job()
}
