// internal/app/system/workers/pool.go
package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// DefaultSize is the number of units a pool runs at once when no size is
// configured.
const DefaultSize = 8

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("workers: pool closed")

// Result is the completion record of one unit of work.
type Result[T any] struct {
	Name     string
	Value    T
	Err      error
	Panicked bool
}

// Pool runs units of work with bounded concurrency and reports each
// completion on Results. Units do not share state; a panic in one is
// recovered and reported as that unit's error.
//
// Usage:
//
//	pool := workers.NewPool[Outcome](8, log)
//	go func() {
//		for _, id := range ids {
//			pool.Submit(ctx, id, work)
//		}
//		pool.Close()
//	}()
//	for r := range pool.Results() { ... }
type Pool[T any] struct {
	sem     *semaphore.Weighted
	results chan Result[T]
	log     *zap.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
}

// NewPool creates a pool running at most size units at once. A size below 1
// means DefaultSize.
func NewPool[T any](size int, logger *zap.Logger) *Pool[T] {
	if size < 1 {
		size = DefaultSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool[T]{
		sem:     semaphore.NewWeighted(int64(size)),
		results: make(chan Result[T], size),
		log:     logger,
	}
}

// Submit waits for a free slot, then runs fn on its own goroutine. It
// returns ctx.Err() if the context ends while waiting, and ErrClosed after
// Close.
func (p *Pool[T]) Submit(ctx context.Context, name string, fn func(ctx context.Context) (T, error)) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.wg.Done()
		return err
	}
	p.submitted.Add(1)

	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		p.results <- p.run(ctx, name, fn)
		p.completed.Add(1)
	}()
	return nil
}

func (p *Pool[T]) run(ctx context.Context, name string, fn func(ctx context.Context) (T, error)) (res Result[T]) {
	res.Name = name
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("worker panic recovered",
				zap.String("unit", name),
				zap.Any("panic", r),
				zap.Stack("stack"))
			res.Err = fmt.Errorf("panic: %v", r)
			res.Panicked = true
		}
	}()
	res.Value, res.Err = fn(ctx)
	return res
}

// Close stops accepting work. Results is closed once every submitted unit
// has reported. Close may be called more than once.
func (p *Pool[T]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	go func() {
		p.wg.Wait()
		close(p.results)
	}()
}

// Results delivers one Result per submitted unit. The caller must drain it,
// since a full channel holds up the workers.
func (p *Pool[T]) Results() <-chan Result[T] {
	return p.results
}

// Submitted returns the number of units started.
func (p *Pool[T]) Submitted() int64 { return p.submitted.Load() }

// Completed returns the number of units that have reported.
func (p *Pool[T]) Completed() int64 { return p.completed.Load() }
