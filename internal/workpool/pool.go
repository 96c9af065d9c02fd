// Package workpool runs a batch of tasks on a fixed number of workers.
package workpool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is used when a pool is created with a non-positive size.
const DefaultWorkers = 10

// Result is the outcome of one task.
type Result[T any] struct {
	Task T
	Err  error
}

// Pool executes fn for every task with at most Workers running at once.
type Pool[T any] struct {
	workers int
	fn      func(context.Context, T) error
}

// New creates a pool of size workers around fn.
func New[T any](workers int, fn func(context.Context, T) error) *Pool[T] {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Pool[T]{workers: workers, fn: fn}
}

// Workers returns the concurrency ceiling.
func (p *Pool[T]) Workers() int { return p.workers }

// Run queues every task and blocks until each one has resolved. onResult
// is called once per task on the caller's goroutine, in completion order.
// Tasks still queued when ctx is cancelled resolve with ctx's error.
func (p *Pool[T]) Run(ctx context.Context, tasks []T, onResult func(Result[T])) error {
	if len(tasks) == 0 {
		return ctx.Err()
	}

	queue := make(chan T, len(tasks))
	for _, t := range tasks {
		queue <- t
	}
	close(queue)

	results := make(chan Result[T])
	var g errgroup.Group
	n := min(p.workers, len(tasks))
	for range n {
		g.Go(func() error {
			for t := range queue {
				err := ctx.Err()
				if err == nil {
					err = p.fn(ctx, t)
				}
				results <- Result[T]{Task: t, Err: err}
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()

	for r := range results {
		if onResult != nil {
			onResult(r)
		}
	}
	return ctx.Err()
}
