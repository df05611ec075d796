package download

import (
	"context"
)

// Result represents an in-flight or completed queued transfer.
type Result struct {
	done   chan struct{}
	err    error
	cancel context.CancelFunc
	queue  *Queue
}

// Done returns a channel that is closed when this transfer completes.
func (r *Result) Done() <-chan struct{} { return r.done }

// Err blocks until this transfer completes and returns its error.
func (r *Result) Err() error {
	<-r.done
	return r.err
}

// Wait blocks until every transfer in the queue completes.
func (r *Result) Wait() error {
	return r.queue.Wait()
}

// Cancel cancels this transfer's context.
func (r *Result) Cancel() {
	r.cancel()
}
