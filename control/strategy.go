// Package control computes joint torques from the robot state and a desired setpoint using one of
// several interchangeable control strategies followed by a fixed compensation and limiting pipeline.
package control

import (
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/imhunterand/iDA-projectile/dynamics"
	"github.com/imhunterand/iDA-projectile/spatialmath"
)

// Strategy selects the base control law.
type Strategy string

const (
	// FullTaskSpace drives the task space error through Jᵀ in one step.
	FullTaskSpace Strategy = "full_task_space"
	// IncrementalTaskSpace clamps the task space error to a maximum step before converting it to force.
	IncrementalTaskSpace Strategy = "incremental_task_space"
	// ResolvedMotionRate maps the task space error into joint space with Jᵀ and applies joint PD.
	ResolvedMotionRate Strategy = "resolved_motion_rate"
	// JointSpace applies joint PD towards the desired joint vector.
	JointSpace Strategy = "joint_space"
)

// Strategies lists every strategy in a fixed order.
var Strategies = []Strategy{FullTaskSpace, IncrementalTaskSpace, ResolvedMotionRate, JointSpace}

// ParseStrategy accepts a strategy name, or the short names "full", "incremental", "rmrc" and "joint".
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(FullTaskSpace), "full", "task":
		return FullTaskSpace, nil
	case string(IncrementalTaskSpace), "incremental", "inc":
		return IncrementalTaskSpace, nil
	case string(ResolvedMotionRate), "rmrc", "resolved":
		return ResolvedMotionRate, nil
	case string(JointSpace), "joint", "joints":
		return JointSpace, nil
	}
	return "", errors.Errorf("unknown control strategy %q", s)
}

// Setpoint is the desired state produced by the interception state machine each cycle.
// Setpoints are replaced whole, never modified after being handed to the control loop.
type Setpoint struct {
	Position r3.Vector                   `json:"position"`
	Rotation *spatialmath.RotationMatrix `json:"rotation"`
	Joints   []float64                   `json:"joints"`
	Strategy Strategy                    `json:"strategy"`
}

// Copy returns a deep copy.
func (sp *Setpoint) Copy() *Setpoint {
	if sp == nil {
		return nil
	}
	out := *sp
	out.Joints = append([]float64(nil), sp.Joints...)
	return &out
}

// BaseLaw computes the torque of one strategy before compensation and limiting.
// Implementations must not modify their inputs.
type BaseLaw interface {
	BaseTorque(state *dynamics.RobotState, sp *Setpoint, gains *Gains) []float64
}

func newBaseLaw(s Strategy) (BaseLaw, error) {
	switch s {
	case FullTaskSpace:
		return fullTaskSpace{}, nil
	case IncrementalTaskSpace:
		return incrementalTaskSpace{}, nil
	case ResolvedMotionRate:
		return resolvedMotionRate{}, nil
	case JointSpace:
		return jointSpace{}, nil
	}
	return nil, errors.Errorf("unknown control strategy %q", s)
}
