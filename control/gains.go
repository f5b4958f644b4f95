package control

import (
	"math"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/imhunterand/iDA-projectile/dynamics"
	"github.com/imhunterand/iDA-projectile/utils"
)

// Gains holds every tunable parameter of the control laws and stages.
type Gains struct {
	KpPosition float64 `json:"kp_p"`
	KvPosition float64 `json:"kv_p"`
	KpRotation float64 `json:"kp_r"`
	KvRotation float64 `json:"kv_r"`

	KpJoint []float64 `json:"kp_q"`
	KvJoint []float64 `json:"kv_q"`

	KvFriction   float64   `json:"kv_friction"`
	TorqueLimits []float64 `json:"torque_limits"`

	// MaxStepPosition (m) and MaxStepRotation (rad) bound the error used by IncrementalTaskSpace.
	MaxStepPosition float64 `json:"max_step_p"`
	MaxStepRotation float64 `json:"max_step_r"`

	JointLimits JointLimitPotential `json:"joint_limit_potential"`
}

// JointLimitPotential is a repulsive potential near each joint bound. Inside Activation of a bound
// the restoring torque is Gain·(1/d − 1/Activation)/d², with d the distance to the bound, and its
// magnitude is saturated at Saturation.
type JointLimitPotential struct {
	Limits     []dynamics.Limit `json:"limits"`
	Activation float64          `json:"activation"`
	Gain       float64          `json:"gain"`
	Saturation float64          `json:"q_sat"`
}

// DefaultGains returns gains that are stable for the default simulated chain.
func DefaultGains(limits []dynamics.Limit) Gains {
	dof := len(limits)
	fill := func(v float64) []float64 {
		out := make([]float64, dof)
		for i := range out {
			out[i] = v
		}
		return out
	}
	lims := make([]dynamics.Limit, dof)
	copy(lims, limits)
	return Gains{
		KpPosition:      400,
		KvPosition:      40,
		KpRotation:      10,
		KvRotation:      2,
		KpJoint:         fill(150),
		KvJoint:         fill(20),
		KvFriction:      1,
		TorqueLimits:    fill(150),
		MaxStepPosition: 0.2,
		MaxStepRotation: 0.3,
		JointLimits: JointLimitPotential{
			Limits:     lims,
			Activation: 0.2,
			Gain:       0.05,
			Saturation: 50,
		},
	}
}

// Validate ensures all parts of the gains are valid for dof joints.
func (g *Gains) Validate(dof int) error {
	var err error
	for _, vec := range []struct {
		what   string
		values []float64
	}{
		{"kp_q", g.KpJoint},
		{"kv_q", g.KvJoint},
		{"torque_limits", g.TorqueLimits},
	} {
		err = multierr.Append(err, utils.CheckLen("gains "+vec.what, vec.values, dof))
		for i, v := range vec.values {
			if !finite(v) {
				err = multierr.Append(err, errors.Errorf("%s of joint %d must be finite, got %v", vec.what, i, v))
			}
		}
	}
	if len(g.JointLimits.Limits) != dof {
		err = multierr.Append(err, utils.NewDimensionMismatchError("gains joint limits", dof, len(g.JointLimits.Limits)))
	}
	for i, lim := range g.JointLimits.Limits {
		if !finite(lim.Min) || !finite(lim.Max) {
			err = multierr.Append(err, errors.Errorf("limits of joint %d must be finite, got %v", i, lim))
		}
	}
	for i, l := range g.TorqueLimits {
		if finite(l) && l <= 0 {
			err = multierr.Append(err, errors.Errorf("torque limit of joint %d must be positive, got %v", i, l))
		}
	}
	for _, v := range []struct {
		what  string
		value float64
	}{
		{"kp_p", g.KpPosition},
		{"kv_p", g.KvPosition},
		{"kp_r", g.KpRotation},
		{"kv_r", g.KvRotation},
		{"kv_friction", g.KvFriction},
		{"joint limit gain", g.JointLimits.Gain},
		{"q_sat", g.JointLimits.Saturation},
	} {
		if !finite(v.value) {
			err = multierr.Append(err, errors.Errorf("%s must be finite, got %v", v.what, v.value))
		} else if v.value < 0 {
			err = multierr.Append(err, errors.Errorf("%s must not be negative, got %v", v.what, v.value))
		}
	}
	if !positive(g.MaxStepPosition) || !positive(g.MaxStepRotation) {
		err = multierr.Append(err, errors.New("incremental max steps must be positive and finite"))
	}
	if !positive(g.JointLimits.Activation) {
		err = multierr.Append(err, errors.New("joint limit activation distance must be positive and finite"))
	}
	return err
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func positive(v float64) bool {
	return finite(v) && v > 0
}

// Copy returns a deep copy.
func (g *Gains) Copy() *Gains {
	out := *g
	out.KpJoint = utils.CopyFloats(g.KpJoint)
	out.KvJoint = utils.CopyFloats(g.KvJoint)
	out.TorqueLimits = utils.CopyFloats(g.TorqueLimits)
	out.JointLimits.Limits = append([]dynamics.Limit(nil), g.JointLimits.Limits...)
	return &out
}
