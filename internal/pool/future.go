package pool

import (
	"context"
	"sync"
)

// Future is the handle returned by Submit. It resolves once a worker
// completes the job, or fails with the job's execution error.
type Future struct {
	done   chan struct{}
	once   sync.Once
	result interface{}
	err    error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Wait blocks until the job completes or ctx is done. Request-level
// deadlines belong to the caller; the pool itself never times a job out.
func (f *Future) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.done:
		return f.result, f.err
	}
}

// Done exposes completion for select-based callers.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

func (f *Future) complete(result interface{}, err error) {
	f.once.Do(func() {
		f.result = result
		f.err = err
		close(f.done)
	})
}
