package control

import (
	"math"

	"github.com/imhunterand/iDA-projectile/dynamics"
	"github.com/imhunterand/iDA-projectile/utils"
)

// Stage adjusts the torque in place after the base law. Stages run in a fixed order.
type Stage interface {
	Name() string
	Apply(state *dynamics.RobotState, gains *Gains, tau []float64)
}

// GravityCompensation adds the torque that holds the robot against gravity.
type GravityCompensation struct{}

// Name implements Stage.
func (GravityCompensation) Name() string { return "gravity" }

// Apply implements Stage.
func (GravityCompensation) Apply(state *dynamics.RobotState, _ *Gains, tau []float64) {
	for i := range tau {
		tau[i] += state.Gravity[i]
	}
}

// FrictionDamping subtracts kv_friction·dq.
type FrictionDamping struct{}

// Name implements Stage.
func (FrictionDamping) Name() string { return "friction" }

// Apply implements Stage.
func (FrictionDamping) Apply(state *dynamics.RobotState, gains *Gains, tau []float64) {
	for i := range tau {
		tau[i] -= gains.KvFriction * state.DQ[i]
	}
}

// JointLimitAvoidance adds the restoring torque of the joint limit potential.
type JointLimitAvoidance struct{}

// Name implements Stage.
func (JointLimitAvoidance) Name() string { return "joint_limits" }

// Apply implements Stage.
func (JointLimitAvoidance) Apply(state *dynamics.RobotState, gains *Gains, tau []float64) {
	for i := range tau {
		tau[i] += gains.JointLimits.Torque(i, state.Q[i])
	}
}

// Torque returns the restoring torque for joint i at position q. It is zero farther than Activation
// from both bounds, positive near the lower bound and negative near the upper bound.
func (p JointLimitPotential) Torque(i int, q float64) float64 {
	lim := p.Limits[i]
	var tau float64
	tau += p.repulsion(q - lim.Min)
	tau -= p.repulsion(lim.Max - q)
	return utils.Clamp(tau, -p.Saturation, p.Saturation)
}

func (p JointLimitPotential) repulsion(d float64) float64 {
	if d >= p.Activation {
		return 0
	}
	if d <= 0 {
		return p.Saturation
	}
	return math.Min(p.Gain*(1/d-1/p.Activation)/(d*d), p.Saturation)
}

// TorqueLimit clamps every joint independently to its limit. A NaN torque becomes zero.
type TorqueLimit struct{}

// Name implements Stage.
func (TorqueLimit) Name() string { return "torque_limit" }

// Apply implements Stage.
func (TorqueLimit) Apply(_ *dynamics.RobotState, gains *Gains, tau []float64) {
	for i := range tau {
		if math.IsNaN(tau[i]) {
			tau[i] = 0
		}
		tau[i] = utils.Clamp(tau[i], -gains.TorqueLimits[i], gains.TorqueLimits[i])
	}
}

// DefaultStages returns gravity, friction, joint limit and torque limit stages in that order.
func DefaultStages() []Stage {
	return []Stage{GravityCompensation{}, FrictionDamping{}, JointLimitAvoidance{}, TorqueLimit{}}
}
