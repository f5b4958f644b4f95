package actuation

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/imhunterand/iDA-projectile/logging"
	"github.com/imhunterand/iDA-projectile/utils"
)

type fakePort struct {
	mu       sync.Mutex
	written  bytes.Buffer
	incoming bytes.Buffer
	writeErr error
	closed   bool
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.incoming.Len() == 0 {
		// a serial read timeout returns no bytes and no error
		return 0, nil
	}
	return p.incoming.Read(b)
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.written.Write(b)
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func TestSimActuator(t *testing.T) {
	ctx := context.Background()
	sim := NewSimActuator(2)

	err := sim.Send(ctx, Command{Torque: []float64{1}})
	test.That(t, err, test.ShouldWrap, utils.ErrDimensionMismatch)

	test.That(t, sim.Send(ctx, Command{Torque: []float64{1, 2}}), test.ShouldBeNil)
	last, n := sim.Last()
	test.That(t, n, test.ShouldEqual, 1)
	test.That(t, last.Torque, test.ShouldResemble, []float64{1, 2})

	test.That(t, sim.Send(ctx, Command{Positions: []float64{0.5, -0.5}}), test.ShouldBeNil)
	sensed, err := sim.Read(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sensed.Q, test.ShouldResemble, []float64{0.5, -0.5})

	sim.SetSensed([]float64{1, 1}, []float64{0, 2}, 3)
	sensed, err = sim.Read(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sensed.DQ, test.ShouldResemble, []float64{0, 2})
	test.That(t, sensed.Time, test.ShouldEqual, 3.0)

	boom := errors.New("unplugged")
	sim.SetFailure(boom)
	test.That(t, sim.Send(ctx, ZeroTorque(2)), test.ShouldEqual, boom)
	sim.SetFailure(nil)

	test.That(t, sim.Close(), test.ShouldBeNil)
	_, err = sim.Read(ctx)
	test.That(t, err, test.ShouldEqual, ErrClosed)
}

func TestSerialConfig(t *testing.T) {
	_, err := SerialConfig{}.Normalize()
	test.That(t, err, test.ShouldNotBeNil)

	cfg, err := SerialConfig{Port: "/dev/ttyUSB0", Parity: "even"}.Normalize()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.BaudRate, test.ShouldEqual, 115200)
	test.That(t, cfg.DataBits, test.ShouldEqual, 8)
	test.That(t, cfg.Parity, test.ShouldEqual, "E")

	_, err = SerialConfig{Port: "/dev/ttyUSB0", StopBits: 3}.Normalize()
	test.That(t, err, test.ShouldNotBeNil)
	_, err = SerialConfig{Port: "/dev/ttyUSB0", Parity: "mark"}.Normalize()
	test.That(t, err, test.ShouldNotBeNil)

	mode, err := SerialConfig{Port: "/dev/ttyUSB0", BaudRate: 9600, StopBits: 2}.Mode()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mode.BaudRate, test.ShouldEqual, 9600)
}

func TestLineProtocol(t *testing.T) {
	line, err := EncodeCommand(Command{Torque: []float64{1.5, -2}}, 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(line), test.ShouldEqual, "T,1.500000,-2.000000\n")

	line, err = EncodeCommand(Command{Positions: []float64{0.25}}, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(line), test.ShouldEqual, "P,0.250000\n")

	_, err = EncodeCommand(Command{Torque: []float64{1}}, 2)
	test.That(t, err, test.ShouldWrap, utils.ErrDimensionMismatch)

	sensed, err := DecodeSensed("Q,0.1,0.2\r\n", 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sensed.Q, test.ShouldResemble, []float64{0.1, 0.2})
	test.That(t, sensed.DQ, test.ShouldResemble, []float64{0, 0})

	sensed, err = DecodeSensed("Q,0.1,0.2,1,2", 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sensed.DQ, test.ShouldResemble, []float64{1, 2})

	_, err = DecodeSensed("Q,0.1,0.2,1", 2)
	test.That(t, err, test.ShouldWrap, utils.ErrDimensionMismatch)
	_, err = DecodeSensed("X,1,2", 2)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = DecodeSensed("Q,1,abc", 2)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSerialActuatorReconnects(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	var (
		ports    []*fakePort
		openErr  error
		attempts int
	)
	open := func() (io.ReadWriteCloser, error) {
		attempts++
		if openErr != nil {
			return nil, openErr
		}
		p := &fakePort{}
		ports = append(ports, p)
		return p, nil
	}
	act := NewSerialActuator(2, open, 500*time.Millisecond, clk, logging.NewTestLogger(t))

	test.That(t, act.Send(ctx, Command{Torque: []float64{1, 2}}), test.ShouldBeNil)
	test.That(t, ports, test.ShouldHaveLength, 1)
	test.That(t, ports[0].written.String(), test.ShouldEqual, "T,1.000000,2.000000\n")

	_, err := act.Read(ctx)
	test.That(t, err, test.ShouldEqual, ErrNoData)

	// partial lines are kept until completed; the newest complete line wins
	ports[0].incoming.WriteString("Q,0,0\nQ,1,")
	sensed, err := act.Read(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sensed.Q, test.ShouldResemble, []float64{0, 0})
	ports[0].incoming.WriteString("1\ngarbage\n")
	sensed, err = act.Read(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sensed.Q, test.ShouldResemble, []float64{1, 1})

	ports[0].writeErr = errors.New("unplugged")
	test.That(t, act.Send(ctx, Command{Torque: []float64{0, 0}}), test.ShouldNotBeNil)
	test.That(t, ports[0].closed, test.ShouldBeTrue)

	// within the backoff window no reconnect is attempted
	openErr = errors.New("no such device")
	test.That(t, act.Send(ctx, Command{Torque: []float64{0, 0}}), test.ShouldEqual, ErrNotConnected)
	test.That(t, attempts, test.ShouldEqual, 1)

	clk.Add(time.Second)
	err = act.Send(ctx, Command{Torque: []float64{0, 0}})
	test.That(t, err, test.ShouldWrap, openErr)
	test.That(t, attempts, test.ShouldEqual, 2)

	openErr = nil
	clk.Add(time.Second)
	test.That(t, act.Send(ctx, Command{Positions: []float64{0.5, 0.5}}), test.ShouldBeNil)
	test.That(t, ports, test.ShouldHaveLength, 2)
	test.That(t, ports[1].written.String(), test.ShouldEqual, "P,0.500000,0.500000\n")

	test.That(t, act.Close(), test.ShouldBeNil)
	test.That(t, ports[1].closed, test.ShouldBeTrue)
	test.That(t, act.Send(ctx, ZeroTorque(2)), test.ShouldEqual, ErrClosed)
}

func TestFailsafe(t *testing.T) {
	ctx := context.Background()
	sim := NewSimActuator(2)
	fs := NewFailsafe(sim, 2, FailsafeConfig{MaxFailures: 2}, logging.NewTestLogger(t))

	good := Command{Torque: []float64{3, 4}}
	sent, err := fs.Send(ctx, good)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sent.Torque, test.ShouldResemble, []float64{3, 4})

	boom := errors.New("link down")
	sim.SetFailure(boom)
	sent, err = fs.Send(ctx, Command{Torque: []float64{9, 9}})
	test.That(t, err, test.ShouldEqual, boom)
	test.That(t, sent.Torque, test.ShouldResemble, []float64{3, 4})
	test.That(t, sent.Hold, test.ShouldBeTrue)
	test.That(t, fs.Tripped(), test.ShouldBeFalse)

	_, err = fs.Send(ctx, Command{Torque: []float64{9, 9}})
	test.That(t, err, test.ShouldEqual, boom)
	test.That(t, fs.Tripped(), test.ShouldBeTrue)
	test.That(t, fs.Failures(), test.ShouldEqual, 2)

	// first delivery after tripping is zero torque, then normal commands resume
	sim.SetFailure(nil)
	sent, err = fs.Send(ctx, Command{Torque: []float64{9, 9}})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sent.Torque, test.ShouldResemble, []float64{0, 0})
	last, _ := sim.Last()
	test.That(t, last.Torque, test.ShouldResemble, []float64{0, 0})
	test.That(t, fs.Tripped(), test.ShouldBeFalse)

	sent, err = fs.Send(ctx, Command{Torque: []float64{5, 6}})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sent.Torque, test.ShouldResemble, []float64{5, 6})

	final, err := fs.Shutdown(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, final.Hold, test.ShouldBeTrue)
	test.That(t, final.Torque, test.ShouldResemble, []float64{5, 6})
}

func TestFailsafeLostFeedback(t *testing.T) {
	ctx := context.Background()
	sim := NewSimActuator(2)
	fs := NewFailsafe(sim, 2, FailsafeConfig{MaxFailures: 2, ZeroOnShutdown: true}, logging.NewTestLogger(t))

	sim.SetSensed([]float64{1}, []float64{0}, 0)
	_, err := fs.Read(ctx)
	test.That(t, err, test.ShouldWrap, utils.ErrDimensionMismatch)

	sim.SetFailure(errors.New("no feedback"))
	for i := 0; i < 2; i++ {
		_, err = fs.Read(ctx)
		test.That(t, err, test.ShouldNotBeNil)
	}
	sim.SetFailure(nil)
	sim.SetSensed([]float64{1, 1}, []float64{0, 0}, 0)

	sent, err := fs.Send(ctx, Command{Torque: []float64{7, 7}})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sent.Torque, test.ShouldResemble, []float64{0, 0})

	sensed, err := fs.Read(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sensed.Q, test.ShouldResemble, []float64{1, 1})

	final, err := fs.Shutdown(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, final.Torque, test.ShouldResemble, []float64{0, 0})
	test.That(t, fs.Close(), test.ShouldBeNil)
}
