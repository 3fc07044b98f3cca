package testsupport

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// CountingFetcher records how many times the remote was called and can hold
// calls open until released.
type CountingFetcher[T any] struct {
	mu     sync.Mutex
	calls  atomic.Int64
	result T
	err    error
	gate   chan struct{}
}

// NewCountingFetcher returns a fetcher that resolves immediately with result.
func NewCountingFetcher[T any](result T) *CountingFetcher[T] {
	return &CountingFetcher[T]{result: result}
}

// Hold makes subsequent calls block until Release is called.
func (f *CountingFetcher[T]) Hold() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
}

// Release unblocks every held call.
func (f *CountingFetcher[T]) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gate != nil {
		close(f.gate)
		f.gate = nil
	}
}

// Set changes the value returned by later calls.
func (f *CountingFetcher[T]) Set(result T, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.result = result
	f.err = err
}

// Calls returns the number of invocations so far.
func (f *CountingFetcher[T]) Calls() int {
	return int(f.calls.Load())
}

// Fetch matches the func(context.Context) (T, error) fetch signature.
func (f *CountingFetcher[T]) Fetch(ctx context.Context) (T, error) {
	f.calls.Add(1)

	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.err
}

// Eventually polls cond until it returns true or the timeout elapses.
func Eventually(t testing.TB, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %v: %s", timeout, msg)
	}
}
