// Package background runs fire-and-forget work with a bounded lifetime.
// Callers never block on spawned tasks, but Close drains every task that
// was accepted before shutdown, so deferred work is not silently dropped.
package background

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type Runner struct {
	log *zap.Logger

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

func NewRunner(log *zap.Logger) *Runner {
	return &Runner{log: log.Named("background")}
}

// Go schedules fn on its own goroutine. Returns false when the runner is
// already closed; the work is not run in that case.
func (r *Runner) Go(name string, fn func(ctx context.Context)) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Error("background task panicked",
					zap.String("task", name),
					zap.Any("panic", rec),
				)
			}
		}()
		fn(context.Background())
	}()
	return true
}

// Close stops accepting tasks and blocks until in-flight tasks finish.
func (r *Runner) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.wg.Wait()
}
