// Package workerpool provides a fixed-size goroutine pool with a bounded
// input queue.
package workerpool

import (
	"context"
	"sync"
)

// Result is the outcome of one job.
type Result[T, R any] struct {
	Input T
	Value R
	Err   error
}

type job[T, R any] struct {
	payload T
	result  chan<- Result[T, R]
}

// Pool runs fn over submitted payloads with n goroutines. Every accepted
// job is processed, even after ctx is cancelled, so each one reports a
// result; fn is expected to return promptly on a done context.
type Pool[T, R any] struct {
	ctx     context.Context
	queue   chan job[T, R]
	process func(ctx context.Context, t T) (R, error)
	wg      sync.WaitGroup
}

// New creates and starts a pool with n goroutines and queue capacity capacity.
func New[T, R any](ctx context.Context, n, capacity int, fn func(context.Context, T) (R, error)) *Pool[T, R] {
	if n <= 0 {
		n = 1
	}
	if capacity < 0 {
		capacity = 0
	}
	p := &Pool[T, R]{
		ctx:     ctx,
		queue:   make(chan job[T, R], capacity),
		process: fn,
	}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run()
		}()
	}
	return p
}

func (p *Pool[T, R]) run() {
	for j := range p.queue {
		v, err := p.process(p.ctx, j.payload)
		if j.result != nil {
			j.result <- Result[T, R]{Input: j.payload, Value: v, Err: err}
		}
	}
}

// Submit enqueues t, blocking while the queue is full. The result, if
// wanted, is sent on result.
func (p *Pool[T, R]) Submit(ctx context.Context, t T, result chan<- Result[T, R]) error {
	select {
	case p.queue <- job[T, R]{payload: t, result: result}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain closes the queue and waits for all workers to finish.
func (p *Pool[T, R]) Drain() {
	close(p.queue)
	p.wg.Wait()
}

// Utilization is queued jobs over queue capacity, or 0 for an unbuffered queue.
func (p *Pool[T, R]) Utilization() float64 {
	if cap(p.queue) == 0 {
		return 0
	}
	return float64(len(p.queue)) / float64(cap(p.queue))
}

type indexed[T any] struct {
	i int
	v T
}

// Map runs fn over items with n workers and returns results in input
// order. Items not yet submitted when ctx is done get ctx.Err().
// onSubmit, when non-nil, receives the queue utilization after each
// submission.
func Map[T, R any](ctx context.Context, n int, items []T, fn func(context.Context, T) (R, error), onSubmit func(utilization float64)) []Result[T, R] {
	out := make([]Result[T, R], len(items))
	if len(items) == 0 {
		return out
	}
	pool := New(ctx, n, n*4, func(ctx context.Context, it indexed[T]) (R, error) {
		return fn(ctx, it.v)
	})
	results := make(chan Result[indexed[T], R], len(items))

	for i, item := range items {
		if err := pool.Submit(ctx, indexed[T]{i: i, v: item}, results); err != nil {
			for j := i; j < len(items); j++ {
				out[j] = Result[T, R]{Input: items[j], Err: err}
			}
			break
		}
		if onSubmit != nil {
			onSubmit(pool.Utilization())
		}
	}
	pool.Drain()
	close(results)

	for r := range results {
		out[r.Input.i] = Result[T, R]{Input: r.Input.v, Value: r.Value, Err: r.Err}
	}
	return out
}
