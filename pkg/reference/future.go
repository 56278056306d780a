package reference

import (
	"context"
	"sync"
)

// Future is the pending result of an asynchronous load.
type Future interface {
	// Done is closed once the result is available.
	Done() <-chan struct{}
	// Wait blocks until the result is available or ctx is cancelled.
	Wait(ctx context.Context) (any, error)
}

type future struct {
	done   chan struct{}
	once   sync.Once
	handle any
	err    error
}

// NewFuture runs fn on a new goroutine and returns a Future for its result.
func NewFuture(fn func() (any, error)) Future {
	f := &future{done: make(chan struct{})}
	go func() {
		handle, err := fn()
		f.complete(handle, err)
	}()
	return f
}

// Resolved returns an already completed Future.
func Resolved(handle any, err error) Future {
	f := &future{done: make(chan struct{})}
	f.complete(handle, err)
	return f
}

// Promise returns a Future together with the function that completes it.
// Only the first call to complete has any effect.
func Promise() (Future, func(any, error)) {
	f := &future{done: make(chan struct{})}
	return f, f.complete
}

func (f *future) complete(handle any, err error) {
	f.once.Do(func() {
		f.handle = handle
		f.err = err
		close(f.done)
	})
}

func (f *future) Done() <-chan struct{} {
	return f.done
}

func (f *future) Wait(ctx context.Context) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-f.done:
		return f.handle, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
