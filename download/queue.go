package download

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// WorkFunc is one unit of queued work, typically a whole transfer from
// Open through Close.
type WorkFunc func(ctx context.Context) error

// Queue runs a batch of transfers concurrently and collects their errors.
// It does not bound concurrency itself; give the Files a shared gate.Gate
// for that.
type Queue struct {
	wg       sync.WaitGroup
	mu       sync.Mutex
	shutdown atomic.Bool
	errs     []error
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Start runs fn in a new goroutine tracked by the queue and returns a
// Result for that one piece of work.
func (q *Queue) Start(ctx context.Context, fn WorkFunc) *Result {
	ctx, cancel := context.WithCancel(ctx)
	r := &Result{
		done:   make(chan struct{}),
		cancel: cancel,
		queue:  q,
	}

	q.wg.Add(1)
	go func() {
		defer func() {
			cancel()
			close(r.done)
			q.wg.Done()
		}()

		if q.shutdown.Load() {
			r.err = ErrGroupShutdown
			q.recordErr(r.err)
			return
		}

		if err := ctx.Err(); err != nil {
			r.err = err
			q.recordErr(r.err)
			return
		}

		r.err = fn(ctx)
		if r.err != nil {
			q.recordErr(r.err)
		}
	}()

	return r
}

// Wait blocks until every started transfer completes and returns their
// errors joined.
func (q *Queue) Wait() error {
	q.wg.Wait()

	q.mu.Lock()
	defer q.mu.Unlock()

	return errors.Join(q.errs...)
}

// Shutdown makes transfers that have not begun yet fail with
// ErrGroupShutdown.
func (q *Queue) Shutdown() {
	q.shutdown.Store(true)
}

func (q *Queue) recordErr(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.errs = append(q.errs, err)
}
