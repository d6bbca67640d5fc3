// Package workerpool runs CPU-bound jobs such as proof-of-work searches and
// key generation on a bounded set of background goroutines.
package workerpool

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned by futures submitted after [Pool.Close].
var ErrClosed = errors.New("worker pool closed")

// Pool bounds how many submitted tasks run at once.
type Pool struct {
	sem    *semaphore.Weighted
	size   int
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New creates a pool running at most size tasks concurrently.
// A size of zero or less uses GOMAXPROCS.
func New(size int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:    semaphore.NewWeighted(int64(size)),
		size:   size,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Size returns the concurrency limit.
func (p *Pool) Size() int {
	return p.size
}

// Close cancels running tasks and waits for them to return.
// Close is idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

// Future is the pending result of a submitted task.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the task finishes or ctx is done. Abandoning a Future
// does not stop the task; cancel the context passed to [Submit] for that.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (f *Future[T]) resolve(val T, err error) {
	f.val, f.err = val, err
	close(f.done)
}

// Submit schedules task on p. The context handed to task is cancelled when
// either ctx is done or the pool is closed.
func Submit[T any](ctx context.Context, p *Pool, task func(context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		var zero T
		f.resolve(zero, ErrClosed)
		return f
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()

		taskCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(p.ctx, cancel)
		defer stop()

		var zero T
		if err := p.sem.Acquire(taskCtx, 1); err != nil {
			if p.ctx.Err() != nil {
				err = ErrClosed
			}
			f.resolve(zero, err)
			return
		}
		defer p.sem.Release(1)

		val, err := task(taskCtx)
		f.resolve(val, err)
	}()

	return f
}

// Run submits task and waits for its result.
func Run[T any](ctx context.Context, p *Pool, task func(context.Context) (T, error)) (T, error) {
	return Submit(ctx, p, task).Wait(ctx)
}
