package interception

import (
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/imhunterand/iDA-projectile/control"
	"github.com/imhunterand/iDA-projectile/dynamics"
	"github.com/imhunterand/iDA-projectile/logging"
	"github.com/imhunterand/iDA-projectile/projectile"
	"github.com/imhunterand/iDA-projectile/spatialmath"
	"github.com/imhunterand/iDA-projectile/targeting"
	"github.com/imhunterand/iDA-projectile/utils"
)

// Config configures a Machine.
type Config struct {
	// InterceptThresholdSec switches Tracking to Intercepting once the predicted time to intercept
	// drops below it.
	InterceptThresholdSec float64 `json:"intercept_threshold_sec"`
	// RecoverTolerance is the joint space distance (rad) to the ready configuration at which
	// Recovering ends.
	RecoverTolerance  float64          `json:"recover_tolerance"`
	TrackingStrategy  control.Strategy `json:"tracking_strategy"`
	InterceptStrategy control.Strategy `json:"intercept_strategy"`
	ReadyJoints       []float64        `json:"ready_joints"`
}

// Validate ensures all parts of the config are valid for dof joints.
func (cfg Config) Validate(dof int) error {
	var err error
	if cfg.InterceptThresholdSec <= 0 {
		err = multierr.Append(err, errors.Errorf("intercept threshold must be positive, got %v", cfg.InterceptThresholdSec))
	}
	if cfg.RecoverTolerance <= 0 {
		err = multierr.Append(err, errors.Errorf("recover tolerance must be positive, got %v", cfg.RecoverTolerance))
	}
	for _, s := range []control.Strategy{cfg.TrackingStrategy, cfg.InterceptStrategy} {
		if _, perr := control.ParseStrategy(string(s)); perr != nil {
			err = multierr.Append(err, perr)
		}
	}
	return multierr.Append(err, utils.CheckLen("ready joints", cfg.ReadyJoints, dof))
}

// Machine is the interception state machine. Each Step consumes an estimator snapshot and the
// robot state and produces the setpoint for the control law.
type Machine struct {
	cfg      Config
	selector *targeting.Selector
	ready    *control.Setpoint
	logger   logging.Logger

	mu        sync.Mutex
	state     State
	setpoint  *control.Setpoint
	// completed holds the targets of finished intercepts until the estimator drops them.
	completed map[int]struct{}
}

// NewMachine returns a Machine in Ready. The provider is used once to find the ready pose.
func NewMachine(
	cfg Config, selector *targeting.Selector, provider dynamics.Provider, logger logging.Logger,
) (*Machine, error) {
	if err := cfg.Validate(provider.DoF()); err != nil {
		return nil, errors.Wrap(err, "invalid interception config")
	}
	quant, err := provider.Update(cfg.ReadyJoints, make([]float64, provider.DoF()))
	if err != nil {
		return nil, errors.Wrap(err, "computing ready pose")
	}
	ready := &control.Setpoint{
		Position: quant.EEPosition,
		Rotation: quant.EERotation,
		Joints:   utils.CopyFloats(cfg.ReadyJoints),
		Strategy: control.JointSpace,
	}
	return &Machine{
		cfg:       cfg,
		selector:  selector,
		ready:     ready,
		logger:    logger,
		setpoint:  ready,
		completed: map[int]struct{}{},
	}, nil
}

// ReadySetpoint returns the setpoint of the ready configuration.
func (m *Machine) ReadySetpoint() *control.Setpoint {
	return m.ready.Copy()
}

// State returns a copy of the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Copy()
}

// Pause freezes the machine without changing its mode.
func (m *Machine) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Paused = true
}

// Resume undoes Pause.
func (m *Machine) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Paused = false
}

// Paused reports whether the machine is paused.
func (m *Machine) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Paused
}

// Reset returns to Ready, dropping any target. The pause flag is kept, and projectiles already
// intercepted become eligible again.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transition(Ready, nil)
	m.setpoint = m.ready
	m.completed = map[int]struct{}{}
}

// Step advances the machine to time now and returns the setpoint to track. While paused the
// previous setpoint is returned and nothing changes.
func (m *Machine) Step(now float64, snap *projectile.Snapshot, robot *dynamics.RobotState) (*control.Setpoint, State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Paused {
		return m.setpoint, m.state.Copy()
	}
	for id := range m.completed {
		if _, ok := snap.Get(id); !ok {
			delete(m.completed, id)
		}
	}

	switch m.state.Mode {
	case Ready:
		if d := m.selector.Select(snap, robot, nil, now, m.completed); d.Found() {
			m.transition(Tracking, &d)
			m.setpoint = m.interceptSetpoint(d, m.cfg.TrackingStrategy)
		} else {
			m.setpoint = m.ready
		}

	case Tracking:
		d := m.selector.Select(snap, robot, nil, now, m.completed)
		switch {
		case !d.Found():
			m.transition(Ready, nil)
			m.setpoint = m.ready
		case d.InterceptTime-now < m.cfg.InterceptThresholdSec:
			m.retarget(d)
			m.transition(Intercepting, &d)
			m.setpoint = m.interceptSetpoint(d, m.cfg.InterceptStrategy)
		default:
			m.retarget(d)
			m.setpoint = m.interceptSetpoint(d, m.cfg.TrackingStrategy)
		}

	case Intercepting:
		if now >= m.state.InterceptTime {
			m.completed[m.state.Target.ID] = struct{}{}
			m.transition(Recovering, nil)
			m.setpoint = m.ready
			break
		}
		d := m.selector.Select(snap, robot, m.state.Target, now, m.completed)
		if !d.Found() || d.Target.ID != m.state.Target.ID {
			m.logger.Infow("intercept target lost", "id", m.state.Target.ID, "engagement", m.state.EngagementID)
			m.transition(Recovering, nil)
			m.setpoint = m.ready
			break
		}
		// the pose stays locked, only the displayed estimate moves
		m.state.Target = d.Target

	case Recovering:
		m.setpoint = m.ready
		if robot != nil && jointDistance(robot.Q, m.cfg.ReadyJoints) <= m.cfg.RecoverTolerance {
			m.transition(Ready, nil)
		}
	}
	return m.setpoint, m.state.Copy()
}

// retarget adopts d while Tracking, starting a new engagement when the target changes.
func (m *Machine) retarget(d targeting.Decision) {
	if m.state.Target == nil || m.state.Target.ID != d.Target.ID {
		m.state.EngagementID = uuid.NewString()
		m.logger.Infow("retargeted", "id", d.Target.ID, "engagement", m.state.EngagementID)
	}
	m.state.Target = d.Target
	m.state.InterceptTime = d.InterceptTime
	m.state.InterceptPoint = d.InterceptPoint
}

func (m *Machine) transition(to Mode, d *targeting.Decision) {
	from := m.state.Mode
	if d == nil {
		m.state.Target = nil
		m.state.InterceptTime = 0
		m.state.InterceptPoint = m.ready.Position
	} else {
		if from == Ready {
			m.state.EngagementID = uuid.NewString()
		}
		m.state.Target = d.Target
		m.state.InterceptTime = d.InterceptTime
		m.state.InterceptPoint = d.InterceptPoint
	}
	m.state.Mode = to
	if to == Ready {
		m.state.EngagementID = ""
	}
	if from != to {
		fields := []interface{}{"from", from.String(), "to", to.String(), "engagement", m.state.EngagementID}
		if d != nil {
			fields = append(fields, "id", d.Target.ID, "intercept_time", d.InterceptTime, "intercept_point", d.InterceptPoint)
		}
		m.logger.Infow("mode change", fields...)
	}
}

// interceptSetpoint places the end effector at the intercept point with its z axis facing the
// incoming projectile.
func (m *Machine) interceptSetpoint(d targeting.Decision, strategy control.Strategy) *control.Setpoint {
	return &control.Setpoint{
		Position: d.InterceptPoint,
		Rotation: spatialmath.FacingRotation(d.InterceptVelocity.Mul(-1)),
		Joints:   utils.CopyFloats(m.cfg.ReadyJoints),
		Strategy: strategy,
	}
}

func jointDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		if i < len(b) {
			sum += (a[i] - b[i]) * (a[i] - b[i])
		}
	}
	return math.Sqrt(sum)
}
