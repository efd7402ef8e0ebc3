package engine

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// WorkerPool bounds how many prospect mailboxes drain at once. Distinct
// prospects run in parallel up to the pool size while each mailbox stays
// single-writer. Submit blocks for a slot when the pool is saturated, so
// intake backpressure reaches the caller instead of piling up goroutines.
type WorkerPool struct {
	sem  chan struct{}
	wg   sync.WaitGroup
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewWorkerPool creates a pool with the given max concurrency.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		sem:  make(chan struct{}, size),
		done: make(chan struct{}),
	}
}

// Submit runs fn on a pool goroutine once a slot frees up. The wait for a
// slot respects ctx cancellation. Returns ErrPoolShutdown once Shutdown
// has been called.
func (p *WorkerPool) Submit(ctx context.Context, fn func(ctx context.Context)) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolShutdown
	}

	// Shutdown may have raced the slot acquisition; wg.Add must not run
	// after Shutdown's wg.Wait has started.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer func() {
			// Contain a panic to its own job; callers recover their own
			// work, this keeps the slot accounting intact regardless.
			_ = recover()
			<-p.sem
			p.wg.Done()
		}()
		fn(ctx)
	}()
	return nil
}

// Shutdown stops accepting work and blocks until in-flight work completes.
// Safe to call more than once.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}
