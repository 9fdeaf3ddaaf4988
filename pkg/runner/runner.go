package runner

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrStopped is returned by Go after Stop has been called
var ErrStopped = fmt.Errorf("runner stopped")

// Runner executes background task runs with a bound on how many run at once.
// Runs share a base context that is cancelled by Stop.
type Runner struct {
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// New creates a runner allowing maxConcurrent simultaneous runs
func New(maxConcurrent int) *Runner {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Go schedules fn. It returns immediately; fn starts once a slot is free.
// A run still waiting for a slot when Stop is called never starts.
func (r *Runner) Go(name string, fn func(ctx context.Context)) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrStopped
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		if err := r.sem.Acquire(r.ctx, 1); err != nil {
			log.Printf("Run %s not started: %v", name, err)
			return
		}
		defer r.sem.Release(1)
		if err := r.ctx.Err(); err != nil {
			log.Printf("Run %s not started: %v", name, err)
			return
		}
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("Run %s panicked: %v\n%s", name, rec, debug.Stack())
			}
		}()
		fn(r.ctx)
	}()
	return nil
}

// Stop cancels the base context. In-flight runs observe ctx.Done().
func (r *Runner) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
	r.cancel()
}

// Wait blocks until every scheduled run has returned or ctx is done
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
