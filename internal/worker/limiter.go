package worker

import (
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrLimiterConcurrency = errors.New("error running entry, reached concurrency limit")
	ErrLimiterDrain       = errors.New("draining entries")
)

// requirements
// - limit queuing more items based on concurrency value
// - wait blocks until all running items are complete, further items may be added after
// - drain blocks adding more items to be run, waits until all items are complete
// - accepts func() - all error handling must be wrapped in a closure by the caller
// - supports returning number of running items

// Limiter runs go routines limiting them by the defined concurrency.
type Limiter struct {
	// waitgroup for running routines.
	wg *sync.WaitGroup
	// concurrency is the maximum number of goroutines that can be running.
	concurrency int
	// mu is the guard for dispatched, drain.
	mu sync.Mutex
	// dispatched indicates the number of routines running under this limiter.
	dispatched int
	// drain is the flag set when StopWait() invoked, with drain=true, no further routines are accepted.
	drain bool
}

// NewLimiter returns a new limiting go routine runner.
// To ensure the routines spawned by Limiter are stopped, the StopWait() method should be invoked.
//
// concurrency is the limit on the number of running go routines
// this limiter is to ensure, a value below one is treated as one.
func NewLimiter(concurrency int) *Limiter {
	if concurrency < 1 {
		concurrency = 1
	}

	return &Limiter{
		concurrency: concurrency,
		wg:          &sync.WaitGroup{},
	}
}

// Dispatch dispatches the given routine for execution
//
// The routine to be executed should be wrapped in a closure.
// ErrLimiterConcurrency is returned when the concurrency limit is reached,
// the caller may retry once a running routine returns.
func (l *Limiter) Dispatch(f func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.drain {
		return ErrLimiterDrain
	}

	if l.dispatched >= l.concurrency {
		return ErrLimiterConcurrency
	}

	l.dispatched++
	l.wg.Add(1)

	go func() {
		defer l.done()
		f()
	}()

	return nil
}

func (l *Limiter) done() {
	l.mu.Lock()
	l.dispatched--
	l.mu.Unlock()

	l.wg.Done()
}

// ActiveCount returns the count of running routines
func (l *Limiter) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.dispatched
}

// Wait blocks until all the dispatched routines complete,
// the limiter accepts further routines after.
func (l *Limiter) Wait() {
	l.wg.Wait()
}

// StopWait prevents any further routines from being added
// and waits until all the routines complete.
func (l *Limiter) StopWait() {
	l.mu.Lock()

	l.drain = true
	l.mu.Unlock()

	l.wg.Wait()
}
