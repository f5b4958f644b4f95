package control

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/imhunterand/iDA-projectile/dynamics"
	"github.com/imhunterand/iDA-projectile/utils"
)

// Engine evaluates a base law followed by the compensation and limiting stages.
// ComputeTorque is a pure function of its arguments, so an Engine may be shared.
type Engine struct {
	dof    int
	laws   map[Strategy]BaseLaw
	stages []Stage
}

// NewEngine returns an Engine for a robot with dof joints.
func NewEngine(dof int) (*Engine, error) {
	if dof <= 0 {
		return nil, errors.Errorf("degrees of freedom must be positive, got %d", dof)
	}
	e := &Engine{
		dof:    dof,
		laws:   make(map[Strategy]BaseLaw, len(Strategies)),
		stages: DefaultStages(),
	}
	for _, s := range Strategies {
		law, err := newBaseLaw(s)
		if err != nil {
			return nil, err
		}
		e.laws[s] = law
	}
	return e, nil
}

// DoF returns the number of joints.
func (e *Engine) DoF() int {
	return e.dof
}

// Stages returns the names of the stages in the order they run.
func (e *Engine) Stages() []string {
	names := make([]string, 0, len(e.stages))
	for _, s := range e.stages {
		names = append(names, s.Name())
	}
	return names
}

// Validate checks that every input has the engine's dimensions. Mismatches wrap
// utils.ErrDimensionMismatch.
func (e *Engine) Validate(state *dynamics.RobotState, sp *Setpoint, gains *Gains, strategy Strategy) error {
	if state == nil || sp == nil || gains == nil {
		return errors.New("robot state, setpoint and gains are required")
	}
	if _, ok := e.laws[strategy]; !ok {
		return errors.Errorf("unknown control strategy %q", strategy)
	}
	err := multierr.Combine(
		utils.CheckLen("joint positions", state.Q, e.dof),
		utils.CheckLen("joint velocities", state.DQ, e.dof),
		utils.CheckLen("gravity vector", state.Gravity, e.dof),
		gains.Validate(e.dof),
	)
	if strategy == JointSpace {
		err = multierr.Append(err, utils.CheckLen("desired joints", sp.Joints, e.dof))
	}
	if strategy != JointSpace {
		if state.Jacobian == nil {
			err = multierr.Append(err, errors.New("task space control needs a Jacobian"))
		} else {
			r, c := state.Jacobian.Dims()
			if r != 6 {
				err = multierr.Append(err, utils.NewDimensionMismatchError("jacobian rows", 6, r))
			}
			if c != e.dof {
				err = multierr.Append(err, utils.NewDimensionMismatchError("jacobian columns", e.dof, c))
			}
		}
	}
	return err
}

// ComputeTorque returns the torque for one control cycle: the strategy's base law, then gravity
// compensation, friction damping, joint limit avoidance and per joint torque limits, in that order.
// Every returned entry lies within its torque limit. Inputs are not modified.
func (e *Engine) ComputeTorque(
	state *dynamics.RobotState, sp *Setpoint, gains *Gains, strategy Strategy,
) ([]float64, error) {
	if err := e.Validate(state, sp, gains, strategy); err != nil {
		return nil, err
	}
	tau := e.laws[strategy].BaseTorque(state, sp, gains)
	for _, stage := range e.stages {
		stage.Apply(state, gains, tau)
	}
	return tau, nil
}
