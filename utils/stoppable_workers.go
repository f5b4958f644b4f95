package utils

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
)

// StoppableWorkers is a group of named loops sharing one cancellation. The first loop to return
// an error, or to panic, cancels the rest.
type StoppableWorkers struct {
	mu         sync.Mutex
	cancelCtx  context.Context
	cancelFunc func()
	active     sync.WaitGroup
	errs       error
}

// NewStoppableWorkers returns an empty group whose context is derived from parent.
func NewStoppableWorkers(parent context.Context) *StoppableWorkers {
	cancelCtx, cancelFunc := context.WithCancel(parent)
	return &StoppableWorkers{cancelCtx: cancelCtx, cancelFunc: cancelFunc}
}

// Add starts f in its own goroutine. If you call this after the group has been stopped, it
// returns immediately without starting anything.
func (sw *StoppableWorkers) Add(name string, f func(context.Context) error) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.cancelCtx.Err() != nil {
		return
	}

	sw.active.Add(1)
	// Done is not deferred: a panicking worker is released by the callback, after its error is
	// recorded.
	goutils.PanicCapturingGoWithCallback(func() {
		if err := f(sw.cancelCtx); err != nil && !errors.Is(err, context.Canceled) {
			sw.fail(errors.Wrap(err, name))
		}
		sw.active.Done()
	}, func(err interface{}) {
		sw.fail(errors.Errorf("%s panicked: %v", name, err))
		sw.active.Done()
	})
}

func (sw *StoppableWorkers) fail(err error) {
	sw.mu.Lock()
	sw.errs = multierr.Append(sw.errs, err)
	sw.mu.Unlock()
	sw.cancelFunc()
}

// Cancel asks every worker to return without waiting. It is safe to call from a worker.
func (sw *StoppableWorkers) Cancel() {
	sw.cancelFunc()
}

// Stop cancels every worker and waits for them to return.
func (sw *StoppableWorkers) Stop() error {
	sw.cancelFunc()
	return sw.Wait()
}

// Wait blocks until every worker has returned and reports the errors they failed with.
func (sw *StoppableWorkers) Wait() error {
	sw.active.Wait()
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.errs
}

// Context is the context the workers are checking on.
func (sw *StoppableWorkers) Context() context.Context {
	return sw.cancelCtx
}
