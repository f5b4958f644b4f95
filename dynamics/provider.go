// Package dynamics defines the dynamics provider consumed by the controller and a closed form
// serial chain model used for simulation and tests.
package dynamics

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/imhunterand/iDA-projectile/spatialmath"
	"github.com/imhunterand/iDA-projectile/utils"
)

// Limit is the allowed travel of one joint in radians.
type Limit struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Span returns Max - Min.
func (l Limit) Span() float64 {
	return l.Max - l.Min
}

// Quantities are the kinematic and dynamic terms for one joint configuration.
type Quantities struct {
	EEPosition      r3.Vector
	EERotation      *spatialmath.RotationMatrix
	LinearVelocity  r3.Vector
	AngularVelocity r3.Vector
	// Jacobian is 6×dof, linear rows first.
	Jacobian    *mat.Dense
	Mass        *mat.Dense
	MassInverse *mat.Dense
	// Gravity is the joint torque that holds the robot still against gravity.
	Gravity []float64
}

// Provider computes Quantities for a joint state. Calls are pure and synchronous.
type Provider interface {
	DoF() int
	JointLimits() []Limit
	Update(q, dq []float64) (*Quantities, error)
}

// RobotState is the full state of the manipulator as seen by the controller.
type RobotState struct {
	// Time is the simulated or sensed time of the joint values, in seconds.
	Time float64 `json:"time"`
	Q    []float64 `json:"q"`
	DQ   []float64 `json:"dq"`
	DDQ  []float64 `json:"ddq"`

	EEPosition      r3.Vector                   `json:"ee_position"`
	EERotation      *spatialmath.RotationMatrix `json:"ee_rotation"`
	LinearVelocity  r3.Vector                   `json:"linear_velocity"`
	AngularVelocity r3.Vector                   `json:"angular_velocity"`

	Jacobian    *mat.Dense `json:"-"`
	Mass        *mat.Dense `json:"-"`
	MassInverse *mat.Dense `json:"-"`
	Gravity     []float64  `json:"-"`

	// Torque is the last commanded torque.
	Torque []float64 `json:"torque"`
}

// NewRobotState returns a state at q with zero velocity, refreshed from p.
func NewRobotState(p Provider, q []float64) (*RobotState, error) {
	dof := p.DoF()
	if err := utils.CheckLen("initial joints", q, dof); err != nil {
		return nil, err
	}
	s := &RobotState{
		Q:      utils.CopyFloats(q),
		DQ:     make([]float64, dof),
		DDQ:    make([]float64, dof),
		Torque: make([]float64, dof),
	}
	if err := s.Refresh(p); err != nil {
		return nil, err
	}
	return s, nil
}

// DoF returns the number of joints.
func (s *RobotState) DoF() int {
	return len(s.Q)
}

// Refresh recomputes every derived term from Q and DQ.
func (s *RobotState) Refresh(p Provider) error {
	quant, err := p.Update(s.Q, s.DQ)
	if err != nil {
		return errors.Wrap(err, "refreshing robot state")
	}
	s.EEPosition = quant.EEPosition
	s.EERotation = quant.EERotation
	s.LinearVelocity = quant.LinearVelocity
	s.AngularVelocity = quant.AngularVelocity
	s.Jacobian = quant.Jacobian
	s.Mass = quant.Mass
	s.MassInverse = quant.MassInverse
	s.Gravity = quant.Gravity
	return nil
}

// SetJoints replaces the joint positions and velocities with sensed values and refreshes.
func (s *RobotState) SetJoints(p Provider, q, dq []float64, now float64) error {
	dof := s.DoF()
	if err := utils.CheckLen("sensed joints", q, dof); err != nil {
		return err
	}
	if dq == nil {
		dq = make([]float64, dof)
	}
	if err := utils.CheckLen("sensed joint velocities", dq, dof); err != nil {
		return err
	}
	s.Q = utils.CopyFloats(q)
	s.DQ = utils.CopyFloats(dq)
	s.Time = now
	return s.Refresh(p)
}

// Copy returns a deep copy. Rotation matrices are immutable and shared.
func (s *RobotState) Copy() *RobotState {
	if s == nil {
		return nil
	}
	out := *s
	out.Q = utils.CopyFloats(s.Q)
	out.DQ = utils.CopyFloats(s.DQ)
	out.DDQ = utils.CopyFloats(s.DDQ)
	out.Gravity = utils.CopyFloats(s.Gravity)
	out.Torque = utils.CopyFloats(s.Torque)
	out.Jacobian = copyDense(s.Jacobian)
	out.Mass = copyDense(s.Mass)
	out.MassInverse = copyDense(s.MassInverse)
	return &out
}

func copyDense(m *mat.Dense) *mat.Dense {
	if m == nil {
		return nil
	}
	return mat.DenseCopyOf(m)
}
