package vision

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"github.com/imhunterand/iDA-projectile/logging"
	"github.com/imhunterand/iDA-projectile/projectile"
)

func TestQueueDropsOldest(t *testing.T) {
	q := NewQueue(2)
	test.That(t, q.Push(Measurement{ID: 1}), test.ShouldBeFalse)
	test.That(t, q.Push(Measurement{ID: 2}), test.ShouldBeFalse)
	test.That(t, q.Push(Measurement{ID: 3}), test.ShouldBeTrue)
	test.That(t, q.Dropped(), test.ShouldEqual, 1)

	got := q.Drain()
	test.That(t, got, test.ShouldHaveLength, 2)
	test.That(t, got[0].ID, test.ShouldEqual, 2)
	test.That(t, got[1].ID, test.ShouldEqual, 3)
	test.That(t, q.Drain(), test.ShouldBeEmpty)
}

func TestParseCSV(t *testing.T) {
	m, stamped, err := ParseCSV("7, 0.5, 1, 2, 3\n")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stamped, test.ShouldBeTrue)
	test.That(t, m, test.ShouldResemble, Measurement{ID: 7, T: 0.5, P: r3.Vector{X: 1, Y: 2, Z: 3}})

	m, stamped, err = ParseCSV("7,1,2,3")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stamped, test.ShouldBeFalse)
	test.That(t, m.P, test.ShouldResemble, r3.Vector{X: 1, Y: 2, Z: 3})

	for _, bad := range []string{"", "1,2,3", "x,1,2,3", "1,2,3,four", "1,2,3,4,5,6"} {
		_, _, err := ParseCSV(bad)
		test.That(t, err, test.ShouldNotBeNil)
	}
}

func TestDetectionMeasurement(t *testing.T) {
	ts := 1.25
	d := Detection{ID: 3, T: &ts, X: 1, Y: 2, Z: 3}
	test.That(t, d.Measurement(9).T, test.ShouldEqual, 1.25)
	d.T = nil
	test.That(t, d.Measurement(9).T, test.ShouldEqual, 9.0)
}

func TestConfigValidate(t *testing.T) {
	test.That(t, Config{Kind: KindSim, RateHz: 100, QueueSize: 64}.Validate(), test.ShouldBeNil)
	test.That(t, Config{Kind: KindSim, QueueSize: 64}.Validate(), test.ShouldNotBeNil)
	test.That(t, Config{Kind: KindUDP, QueueSize: 64}.Validate(), test.ShouldNotBeNil)
	test.That(t, Config{Kind: KindNATS, Address: "nats://localhost:4222", QueueSize: 64}.Validate(), test.ShouldNotBeNil)
	test.That(t, Config{Kind: "radar", QueueSize: 64}.Validate(), test.ShouldNotBeNil)
	test.That(t, Config{Kind: KindUDP, Address: ":0"}.Validate(), test.ShouldNotBeNil)
}

func TestSimSourceObservesLaunches(t *testing.T) {
	clk := clock.NewMock()
	cfg := projectile.DefaultGeneratorConfig()
	cfg.NoiseStdDev = 0
	gen, err := projectile.NewGenerator(cfg, clk)
	test.That(t, err, test.ShouldBeNil)
	src, err := NewSimSource(gen, 100, clk, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	var got []Measurement
	emit := func(m Measurement) { got = append(got, m) }

	src.Observe(emit)
	test.That(t, got, test.ShouldBeEmpty)

	next := gen.NextProjectile()
	clk.Add(time.Duration((next.T0 + 0.01) * float64(time.Second)))
	src.Observe(emit)
	test.That(t, len(got), test.ShouldBeGreaterThanOrEqualTo, 1)
	test.That(t, got[0].ID, test.ShouldEqual, next.ID)
	test.That(t, got[0].T, test.ShouldAlmostEqual, gen.Now())
	test.That(t, got[0].P.Sub(next.PositionAt(got[0].T)).Norm(), test.ShouldBeLessThan, 1e-9)
}

func TestSimSourceRun(t *testing.T) {
	clk := clock.NewMock()
	gen, err := projectile.NewGenerator(projectile.DefaultGeneratorConfig(), clk)
	test.That(t, err, test.ShouldBeNil)
	src, err := NewSimSource(gen, 100, clk, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	clk.Add(time.Duration(gen.NextProjectile().T0 * float64(time.Second)))
	ctx, cancel := context.WithCancel(context.Background())
	q := NewQueue(1024)
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, func(m Measurement) { q.Push(m) }) }()

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		clk.Add(50 * time.Millisecond)
		test.That(tb, len(q.C()), test.ShouldBeGreaterThan, 0)
	})
	cancel()
	test.That(t, <-done, test.ShouldEqual, context.Canceled)
}

func TestUDPSource(t *testing.T) {
	var (
		mu  sync.Mutex
		got []Measurement
	)
	src := NewUDPSource("127.0.0.1:0", func() float64 { return 42 }, false, logging.NewTestLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- src.Run(ctx, func(m Measurement) {
			mu.Lock()
			got = append(got, m)
			mu.Unlock()
		})
	}()

	addr := (<-src.Ready()).(*net.UDPAddr)
	conn, err := net.DialUDP("udp", nil, addr)
	test.That(t, err, test.ShouldBeNil)
	defer conn.Close()

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		_, err := conn.Write([]byte("not,a,measurement"))
		test.That(tb, err, test.ShouldBeNil)
		_, err = conn.Write([]byte("5,1,2,3"))
		test.That(tb, err, test.ShouldBeNil)
		mu.Lock()
		defer mu.Unlock()
		test.That(tb, len(got), test.ShouldBeGreaterThan, 0)
	})
	cancel()
	test.That(t, <-done, test.ShouldEqual, context.Canceled)

	mu.Lock()
	defer mu.Unlock()
	for _, m := range got {
		test.That(t, m, test.ShouldResemble, Measurement{ID: 5, T: 42, P: r3.Vector{X: 1, Y: 2, Z: 3}})
	}
}
