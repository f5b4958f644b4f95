package utils

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"github.com/imhunterand/iDA-projectile/logging"
)

func TestStoppableWorkersStop(t *testing.T) {
	sw := NewStoppableWorkers(context.Background())
	var stopped atomic.Int32
	for _, name := range []string{"vision", "control"} {
		sw.Add(name, func(ctx context.Context) error {
			<-ctx.Done()
			stopped.Add(1)
			return ctx.Err()
		})
	}
	test.That(t, sw.Stop(), test.ShouldBeNil)
	test.That(t, stopped.Load(), test.ShouldEqual, 2)

	// adding after stop is a no-op
	sw.Add("late", func(ctx context.Context) error { return errors.New("should not run") })
	test.That(t, sw.Wait(), test.ShouldBeNil)
}

func TestStoppableWorkersFailureCancelsOthers(t *testing.T) {
	sw := NewStoppableWorkers(context.Background())
	boom := errors.New("boom")
	sw.Add("waiter", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	sw.Add("failer", func(ctx context.Context) error { return boom })

	err := sw.Wait()
	test.That(t, err, test.ShouldWrap, boom)
	test.That(t, err.Error(), test.ShouldContainSubstring, "failer")
	test.That(t, sw.Context().Err(), test.ShouldNotBeNil)
}

func TestStoppableWorkersParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	sw := NewStoppableWorkers(parent)
	sw.Add("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	cancel()
	test.That(t, sw.Wait(), test.ShouldBeNil)
}

func TestRollingWindow(t *testing.T) {
	rw := NewRollingWindow(3)
	test.That(t, rw.Summary(), test.ShouldResemble, WindowSummary{})

	rw.Add(1)
	rw.Add(2)
	test.That(t, rw.Samples(), test.ShouldResemble, []float64{1, 2})
	rw.Add(3)
	rw.Add(10)
	test.That(t, rw.Len(), test.ShouldEqual, 3)
	test.That(t, rw.NumSamples(), test.ShouldEqual, 3)
	test.That(t, rw.Samples(), test.ShouldResemble, []float64{2, 3, 10})

	summary := rw.Summary()
	test.That(t, summary.Count, test.ShouldEqual, 3)
	test.That(t, summary.Mean, test.ShouldAlmostEqual, 5)
	test.That(t, summary.Max, test.ShouldEqual, 10.0)
}

func TestSlowLogger(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	clk := clock.NewMock()
	stop := SlowLogger(context.Background(), clk, "actuator unavailable", "failures", 3, logger)

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		clk.Add(time.Second)
		test.That(tb, logs.FilterMessage("actuator unavailable").Len(), test.ShouldBeGreaterThanOrEqualTo, 1)
	})
	stop()
	entry := logs.FilterMessage("actuator unavailable").All()[0]
	test.That(t, entry.ContextMap()["failures"], test.ShouldEqual, int64(3))
}
