// Package testutils runs main entry points under test.
package testutils

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap/zaptest/observer"
	"go.viam.com/test"
	"go.viam.com/utils"

	"github.com/imhunterand/iDA-projectile/logging"
)

// MainFunc is the signature of a main entry point run through utils.ContextualMain.
type MainFunc func(ctx context.Context, args []string, logger logging.Logger) error

// ContextualMainExecution reflects the execution of a main function whose lifecycle is partially
// controlled by the test.
type ContextualMainExecution struct {
	Ready      <-chan struct{}
	Done       <-chan error
	Stop       func()
	QuitSignal func(t *testing.T) // reflects syscall.SIGQUIT
}

// ContextualMain runs main in its own goroutine with a cancellable context. args exclude the
// program name.
func ContextualMain(main MainFunc, args []string, logger logging.Logger) ContextualMainExecution {
	ctx, stop := context.WithCancel(context.Background())
	quitC := make(chan os.Signal)
	ctx = utils.ContextWithQuitSignal(ctx, quitC)
	readyC := make(chan struct{}, 1)
	ctx = utils.ContextWithReadyFunc(ctx, readyC)
	readyF := utils.ContextMainReadyFunc(ctx)
	doneC := make(chan error, 1)

	mainDone := make(chan struct{})
	var err error
	go func() {
		// a main that returns without signaling is ready once it is done
		defer readyF()
		defer close(mainDone)
		err = main(ctx, append([]string{"main"}, args...), logger)
		doneC <- err
	}()
	return ContextualMainExecution{
		Ready: readyC,
		Done:  doneC,
		Stop:  stop,
		QuitSignal: func(t *testing.T) {
			t.Helper()
			select {
			case <-mainDone:
				// err is safe to read after mainDone
				t.Fatalf("main function completed while waiting to send quit signal: %v", err)
			case quitC <- syscall.SIGQUIT:
			}
		},
	}
}

// MainTestCase describes how to execute a main function and what to expect from it.
type MainTestCase struct {
	Name   string
	Args   []string
	Err    string
	During func(ctx context.Context, t *testing.T, exec *ContextualMainExecution)
	After  func(t *testing.T, logs *observer.ObservedLogs)
}

// TestMain runs each case against main in turn. The main function is stopped after During
// returns and must then exit cleanly unless Err is set.
func TestMain(t *testing.T, main MainFunc, tcs []MainTestCase) {
	t.Helper()
	for i, tc := range tcs {
		name := tc.Name
		if name == "" {
			name = fmt.Sprintf("%d", i)
		}
		t.Run(name, func(t *testing.T) {
			logger, logs := logging.NewObservedTestLogger(t)
			exec := ContextualMain(main, tc.Args, logger)

			var doneErr error
			finished := false
			select {
			case <-exec.Ready:
			case doneErr = <-exec.Done:
				finished = true
			case <-time.After(10 * time.Second):
				exec.Stop()
				t.Fatal("main function never became ready")
			}

			if tc.During != nil && !finished {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				tc.During(ctx, t, &exec)
				cancel()
			}
			exec.Stop()
			if !finished {
				doneErr = <-exec.Done
			}
			doneErr = utils.FilterOutError(doneErr, context.Canceled)

			if tc.Err == "" {
				test.That(t, doneErr, test.ShouldBeNil)
			} else {
				test.That(t, doneErr, test.ShouldNotBeNil)
				test.That(t, doneErr.Error(), test.ShouldContainSubstring, tc.Err)
			}
			if tc.After != nil {
				tc.After(t, logs)
			}
		})
	}
}

// WaitOrFail waits for dur to pass, failing if ctx ends first.
func WaitOrFail(ctx context.Context, t *testing.T, dur time.Duration) {
	t.Helper()
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		t.Fatal(ctx.Err())
	}
}
