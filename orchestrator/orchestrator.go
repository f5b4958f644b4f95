// Package orchestrator runs the interceptor: a vision loop feeding the estimator, a control loop
// running the state machine and control law, a robot loop talking to the actuator, a graphics
// loop and the operator shell, all sharing one arena.
package orchestrator

import (
	"context"
	"io"
	"math"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/imhunterand/iDA-projectile/actuation"
	"github.com/imhunterand/iDA-projectile/arena"
	"github.com/imhunterand/iDA-projectile/config"
	"github.com/imhunterand/iDA-projectile/control"
	"github.com/imhunterand/iDA-projectile/dynamics"
	"github.com/imhunterand/iDA-projectile/interception"
	"github.com/imhunterand/iDA-projectile/logging"
	"github.com/imhunterand/iDA-projectile/metrics"
	"github.com/imhunterand/iDA-projectile/projectile"
	"github.com/imhunterand/iDA-projectile/render"
	"github.com/imhunterand/iDA-projectile/shell"
	"github.com/imhunterand/iDA-projectile/targeting"
	"github.com/imhunterand/iDA-projectile/utils"
	"github.com/imhunterand/iDA-projectile/vision"
)

// Loop names, used for worker names, timing and metrics labels.
const (
	LoopVision   = "vision"
	LoopControl  = "control"
	LoopRobot    = "robot"
	LoopGraphics = "graphics"
)

const (
	// expiryPeriod bounds how long an expired projectile can stay in the snapshot when no
	// measurements arrive.
	expiryPeriod   = 10 * time.Millisecond
	sourceBackoff  = time.Second
	timingSamples  = 1000
	shutdownBudget = time.Second
)

// Deps are the collaborators of an Orchestrator. Every field is optional: missing ones are built
// from the config, except Renderer (nil disables rendering) and ShellIn (nil disables the shell).
type Deps struct {
	Provider dynamics.Provider
	Source   vision.Source
	Actuator actuation.Actuator
	Renderer render.Renderer
	Metrics  *metrics.Metrics
	Clock    clock.Clock
	ShellIn  io.Reader
	ShellOut io.Writer
	// GainsFile is watched for gain changes when set.
	GainsFile string
}

// loopback is implemented by actuators that report back the simulated plant.
type loopback interface {
	SetSensed(q, dq []float64, t float64)
}

// Orchestrator owns the loops and everything they share.
type Orchestrator struct {
	cfg    *config.Config
	clock  clock.Clock
	start  time.Time
	logger logging.Logger

	arena     *arena.Arena
	provider  dynamics.Provider
	damping   float64
	engine    *control.Engine
	estimator *projectile.Estimator
	machine   *interception.Machine
	source    vision.Source
	queue     *vision.Queue
	actuator  actuation.Actuator
	failsafe  *actuation.Failsafe
	renderer  render.Renderer
	shell     *shell.Shell
	shellIn   io.Reader
	gainsFile string
	metrics   *metrics.Metrics
	timing    map[string]*utils.RollingWindow

	workers   *utils.StoppableWorkers
	closeOnce sync.Once

	// control loop only
	lastState     interception.State
	controlFailed bool
	// vision loop only
	lastDropped uint64
	// robot loop only
	stopSlow func()
}

// New builds an Orchestrator. The robot starts at the ready configuration.
func New(cfg *config.Config, deps Deps, logger logging.Logger) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	provider := deps.Provider
	if provider == nil {
		chain, err := dynamics.NewChain(cfg.Robot)
		if err != nil {
			return nil, err
		}
		provider = chain
	}
	if provider.DoF() != cfg.DoF {
		return nil, utils.NewDimensionMismatchError("robot joints", cfg.DoF, provider.DoF())
	}

	engine, err := control.NewEngine(cfg.DoF)
	if err != nil {
		return nil, err
	}
	selector, err := targeting.NewSelector(cfg.Targeting)
	if err != nil {
		return nil, err
	}
	machine, err := interception.NewMachine(cfg.Interception, selector, provider, logger.Sublogger("interception"))
	if err != nil {
		return nil, err
	}
	robot, err := dynamics.NewRobotState(provider, cfg.Interception.ReadyJoints)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:       cfg,
		clock:     clk,
		start:     clk.Now(),
		logger:    logger,
		provider:  provider,
		damping:   cfg.Robot.Damping,
		engine:    engine,
		estimator: projectile.NewEstimator(cfg.Estimator, logger.Sublogger("estimator")),
		machine:   machine,
		queue:     vision.NewQueue(cfg.Vision.QueueSize),
		renderer:  deps.Renderer,
		shellIn:   deps.ShellIn,
		gainsFile: deps.GainsFile,
		metrics:   deps.Metrics,
		timing:    map[string]*utils.RollingWindow{},
		lastState: machine.State(),
	}
	for _, name := range []string{LoopVision, LoopControl, LoopRobot, LoopGraphics} {
		o.timing[name] = utils.NewRollingWindow(timingSamples)
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}

	o.source = deps.Source
	if o.source == nil {
		if o.source, err = NewSource(cfg, clk, o.Now, logger.Sublogger("vision")); err != nil {
			return nil, err
		}
	}
	o.actuator = deps.Actuator
	if o.actuator == nil {
		if o.actuator, err = NewActuator(cfg, clk, logger.Sublogger("actuator")); err != nil {
			return nil, err
		}
	}
	o.failsafe = actuation.NewFailsafe(o.actuator, cfg.DoF, cfg.Actuator.Failsafe, logger.Sublogger("failsafe"))

	gains := cfg.Gains.Copy()
	o.arena = arena.New(arena.Block{
		Robot:        robot,
		RobotValid:   cfg.Simulation,
		Setpoint:     machine.ReadySetpoint(),
		Interception: machine.State(),
		Gains:        gains,
		Strategy:     cfg.Strategy,
	})

	out := deps.ShellOut
	if out == nil {
		out = os.Stdout
	}
	o.shell = shell.New(o.arena, out, logger.Sublogger("shell"))
	return o, nil
}

// Arena returns the shared state.
func (o *Orchestrator) Arena() *arena.Arena {
	return o.arena
}

// Shell returns the operator shell.
func (o *Orchestrator) Shell() *shell.Shell {
	return o.shell
}

// Metrics returns the collectors updated by the loops.
func (o *Orchestrator) Metrics() *metrics.Metrics {
	return o.metrics
}

// Now returns the controller time in seconds.
func (o *Orchestrator) Now() float64 {
	return o.clock.Since(o.start).Seconds()
}

// Start launches every loop. They run until ctx is done, Stop is called, the shell quits or a
// loop fails.
func (o *Orchestrator) Start(ctx context.Context) {
	o.workers = utils.NewStoppableWorkers(ctx)
	o.workers.Add("transport", o.transportLoop)
	o.workers.Add(LoopVision, o.visionLoop)
	o.workers.Add(LoopControl, func(ctx context.Context) error {
		return o.runLoop(ctx, LoopControl, o.cfg.ControlHz, o.controlStep)
	})
	o.workers.Add(LoopRobot, func(ctx context.Context) error {
		defer o.finalCommand()
		return o.runLoop(ctx, LoopRobot, o.cfg.RobotHz, o.robotStep)
	})
	o.workers.Add(LoopGraphics, func(ctx context.Context) error {
		return o.runLoop(ctx, LoopGraphics, o.cfg.GraphicsHz, o.graphicsStep)
	})
	if o.shellIn != nil {
		o.workers.Add("shell", o.shellLoop)
	}
	if o.gainsFile != "" {
		o.workers.Add("gains", func(ctx context.Context) error {
			return config.WatchGains(ctx, o.gainsFile, o.logger.Sublogger("config"), o.ApplyGains)
		})
	}
	o.logger.Infow("started",
		"simulation", o.cfg.Simulation,
		"control_hz", o.cfg.ControlHz,
		"robot_hz", o.cfg.RobotHz,
		"vision", o.cfg.Vision.Kind,
		"actuator", o.cfg.Actuator.Kind,
	)
}

// Stop cancels every loop, waits for them and closes the actuator.
func (o *Orchestrator) Stop() error {
	if o.workers == nil {
		return o.close()
	}
	return multierr.Combine(o.workers.Stop(), o.close())
}

// Wait blocks until every loop has returned, then closes the actuator.
func (o *Orchestrator) Wait() error {
	if o.workers == nil {
		return o.close()
	}
	return multierr.Combine(o.workers.Wait(), o.close())
}

func (o *Orchestrator) close() error {
	var err error
	o.closeOnce.Do(func() {
		err = o.failsafe.Close()
	})
	return err
}

// ApplyGains installs gains through the same validation as the shell's gain commands.
func (o *Orchestrator) ApplyGains(g control.Gains) error {
	var err error
	o.arena.Update(func(b *arena.Block) { err = shell.SetGains(g).Apply(b) })
	if err == nil {
		o.logger.Infow("gains updated")
	}
	return err
}

// runLoop calls step once per period until ctx is done or the arena is finished.
func (o *Orchestrator) runLoop(ctx context.Context, name string, hz float64, step func(context.Context) error) error {
	period := time.Duration(float64(time.Second) / hz)
	ticker := o.clock.Ticker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if o.arena.Finished() {
			o.workers.Cancel()
			return nil
		}
		start := o.clock.Now()
		if err := step(ctx); err != nil {
			return err
		}
		o.record(name, o.clock.Since(start), period)
	}
}

func (o *Orchestrator) record(name string, elapsed, period time.Duration) {
	o.timing[name].Add(elapsed.Seconds())
	o.metrics.LoopDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	if period > 0 && elapsed > period {
		o.metrics.LoopOverruns.WithLabelValues(name).Inc()
		o.arena.Update(func(b *arena.Block) { b.Counters.Overruns++ })
	}
}

// transportLoop runs the vision source, restarting it after failures.
func (o *Orchestrator) transportLoop(ctx context.Context) error {
	for {
		err := o.source.Run(ctx, o.emit)
		if ctx.Err() != nil {
			return nil
		}
		o.logger.Warnw("vision source stopped, restarting", "error", err, "backoff", sourceBackoff)
		select {
		case <-ctx.Done():
			return nil
		case <-o.clock.After(sourceBackoff):
		}
	}
}

func (o *Orchestrator) emit(m vision.Measurement) {
	o.queue.Push(m)
}

func (o *Orchestrator) visionLoop(ctx context.Context) error {
	ticker := o.clock.Ticker(expiryPeriod)
	defer ticker.Stop()
	for {
		var batch []vision.Measurement
		select {
		case <-ctx.Done():
			return nil
		case m := <-o.queue.C():
			batch = append([]vision.Measurement{m}, o.queue.Drain()...)
		case <-ticker.C:
		}
		start := o.clock.Now()
		o.ingest(batch)
		o.record(LoopVision, o.clock.Since(start), 0)
	}
}

// ingest feeds batch to the estimator, expires old projectiles and publishes the new snapshot.
func (o *Orchestrator) ingest(batch []vision.Measurement) {
	var ingested, rejected uint64
	for _, m := range batch {
		if _, err := o.estimator.Ingest(m.ID, m.T, m.P); err != nil {
			rejected++
			o.logger.Debugw("measurement rejected", "id", m.ID, "error", err)
			continue
		}
		ingested++
	}
	expired := o.estimator.Tick(o.Now())
	dropped := o.queue.Dropped()
	newDrops := dropped - o.lastDropped
	o.lastDropped = dropped
	if len(batch) == 0 && len(expired) == 0 && newDrops == 0 {
		return
	}
	if newDrops > 0 {
		o.logger.Warnw("vision queue overflowed", "dropped", newDrops)
	}

	snap := o.estimator.Snapshot()
	o.arena.Update(func(b *arena.Block) {
		b.Projectiles = snap
		b.Counters.Ingested += ingested
		b.Counters.Rejected += rejected
		b.Counters.Dropped += newDrops
	})
	o.metrics.Measurements.Add(float64(ingested))
	o.metrics.Rejected.Add(float64(rejected))
	o.metrics.Dropped.Add(float64(newDrops))
	o.metrics.Tracked.Set(float64(snap.Len()))
}

// controlStep is one control cycle: copy in, state machine, control law, integrate when
// simulating, copy out.
func (o *Orchestrator) controlStep(ctx context.Context) error {
	now := o.Now()
	var (
		in     arena.Block
		robot  *dynamics.RobotState
		valid  bool
		snap   *projectile.Snapshot
		gains  *control.Gains
		paused bool
		reset  bool
	)
	o.arena.Update(func(b *arena.Block) {
		robot = b.Robot.Copy()
		valid = b.RobotValid
		snap = b.Projectiles
		if b.Gains != nil {
			gains = b.Gains.Copy()
		}
		paused = b.Paused
		reset = b.ResetRequested
		b.ResetRequested = false
		in.Override = b.Override.Copy()
		in.Strategy = b.Strategy
	})

	if reset {
		o.machine.Reset()
		o.logger.Info("state machine reset")
	}
	if paused != o.machine.Paused() {
		if paused {
			o.machine.Pause()
		} else {
			o.machine.Resume()
		}
	}
	if paused || !valid {
		state := o.machine.State()
		o.lastState = state
		o.arena.Update(func(b *arena.Block) {
			b.Time = now
			b.Interception = state
		})
		return nil
	}

	sp, state := o.machine.Step(now, snap, robot)
	completed := o.lastState.Mode == interception.Intercepting &&
		state.Mode == interception.Recovering &&
		now >= o.lastState.InterceptTime
	if completed {
		o.logger.Infow("intercept complete", "id", o.lastState.Target.ID, "engagement", o.lastState.EngagementID)
		o.metrics.Intercepts.Inc()
	}
	o.lastState = state
	o.metrics.Mode.Set(float64(state.Mode))

	active := in.ActiveSetpoint(sp)
	cmd, err := o.command(robot, active, gains, now)
	if err != nil {
		if !o.controlFailed {
			o.logger.Errorw("control cycle failed, robot holds last command", "error", err)
		}
		o.controlFailed = true
		o.metrics.ControlErrors.Inc()
	} else if o.controlFailed {
		o.logger.Info("control recovered")
		o.controlFailed = false
	}

	o.arena.Update(func(b *arena.Block) {
		b.Time = now
		b.Setpoint = active
		b.Interception = state
		if completed {
			b.Counters.CompletedIntercepts++
		}
		if err != nil {
			b.Counters.ControlErrors++
			return
		}
		if o.cfg.Simulation {
			b.Robot = robot
		}
		b.Pending = cmd
	})
	return nil
}

// command runs the control law and, when simulating or commanding positions, integrates robot
// forward by one control period.
func (o *Orchestrator) command(
	robot *dynamics.RobotState, sp *control.Setpoint, gains *control.Gains, now float64,
) (actuation.Command, error) {
	if gains == nil {
		return actuation.Command{}, errors.New("no gains installed")
	}
	tau, err := o.engine.ComputeTorque(robot, sp, gains, sp.Strategy)
	if err != nil {
		return actuation.Command{}, err
	}
	for i, t := range tau {
		if i < len(gains.TorqueLimits) && gains.TorqueLimits[i] > 0 && utils.Float64AlmostEqual(math.Abs(t), gains.TorqueLimits[i], 1e-9) {
			o.metrics.TorqueSaturations.WithLabelValues(strconv.Itoa(i)).Inc()
		}
	}

	positionControl := o.cfg.Actuator.PositionControl && !o.cfg.Simulation
	if o.cfg.Simulation || positionControl {
		if err := dynamics.Integrate(o.provider, robot, tau, o.damping, 1/o.cfg.ControlHz); err != nil {
			return actuation.Command{}, errors.Wrap(err, "integrating dynamics")
		}
		robot.Time = now
	}
	if positionControl {
		return actuation.Command{Positions: utils.CopyFloats(robot.Q)}, nil
	}
	return actuation.Command{Torque: tau}, nil
}

// robotStep is one robot I/O cycle: read the sensed state, then send the pending command.
func (o *Orchestrator) robotStep(ctx context.Context) error {
	var (
		cmd   actuation.Command
		plant actuation.Sensed
	)
	o.arena.View(func(b *arena.Block) {
		cmd = b.Pending.Copy()
		if o.cfg.Simulation && b.Robot != nil {
			plant = actuation.Sensed{Q: utils.CopyFloats(b.Robot.Q), DQ: utils.CopyFloats(b.Robot.DQ), Time: b.Robot.Time}
		}
	})

	var failures uint64
	if o.cfg.Simulation {
		if lb, ok := o.actuator.(loopback); ok {
			lb.SetSensed(plant.Q, plant.DQ, plant.Time)
		}
	} else {
		sensed, err := o.failsafe.Read(ctx)
		switch {
		case err == nil:
			robot, serr := dynamics.NewRobotState(o.provider, sensed.Q)
			if serr == nil {
				serr = robot.SetJoints(o.provider, sensed.Q, sensed.DQ, o.Now())
			}
			if serr != nil {
				o.logger.Warnw("discarding sensed state", "error", serr)
				break
			}
			o.arena.Update(func(b *arena.Block) {
				b.Robot = robot
				b.RobotValid = true
			})
		case errors.Is(err, actuation.ErrNoData):
		default:
			failures++
		}
	}

	if cmd.IsZero() {
		o.countActuatorFailures(failures)
		return nil
	}
	sent, err := o.failsafe.Send(ctx, cmd)
	if err != nil {
		failures++
	}
	o.countActuatorFailures(failures)
	o.arena.Update(func(b *arena.Block) { b.Command = sent })

	healthy := o.failsafe.Failures() == 0 && !o.failsafe.Tripped()
	switch {
	case !healthy && o.stopSlow == nil:
		o.stopSlow = utils.SlowLogger(ctx, o.clock, "robot link unhealthy", "actuator", o.cfg.Actuator.Kind, o.logger)
	case healthy && o.stopSlow != nil:
		o.stopSlow()
		o.stopSlow = nil
	}
	return nil
}

func (o *Orchestrator) countActuatorFailures(n uint64) {
	if n == 0 {
		return
	}
	o.metrics.ActuatorFailures.Add(float64(n))
	o.arena.Update(func(b *arena.Block) { b.Counters.ActuatorFailures += n })
}

// finalCommand leaves the robot with the shutdown command once the robot loop is done.
func (o *Orchestrator) finalCommand() {
	if o.stopSlow != nil {
		o.stopSlow()
		o.stopSlow = nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownBudget)
	defer cancel()
	final, err := o.failsafe.Shutdown(ctx)
	if err != nil {
		o.logger.Errorw("final command not delivered", "error", err)
		return
	}
	o.arena.Update(func(b *arena.Block) { b.Command = final })
	o.logger.Infow("sent final command", "torque", final.Torque, "positions", final.Positions)
}

// graphicsStep publishes loop timing and renders one frame.
func (o *Orchestrator) graphicsStep(ctx context.Context) error {
	timing := make(map[string]utils.WindowSummary, len(o.timing))
	for name, w := range o.timing {
		timing[name] = w.Summary()
	}
	var snap arena.Block
	o.arena.Update(func(b *arena.Block) {
		b.Timing = timing
		snap = b.Copy()
	})
	if o.renderer == nil {
		return nil
	}
	if err := o.renderer.Render(ctx, render.NewFrame(snap)); err != nil {
		o.logger.Debugw("render failed", "error", err)
	}
	return nil
}

func (o *Orchestrator) shellLoop(ctx context.Context) error {
	err := o.shell.Run(ctx, o.shellIn)
	switch {
	case errors.Is(err, shell.ErrQuit):
		o.logger.Info("quit requested")
		o.workers.Cancel()
		return nil
	case err == nil:
		o.logger.Debug("shell input closed")
		return nil
	case ctx.Err() != nil:
		return nil
	}
	return err
}
