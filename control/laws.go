package control

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/imhunterand/iDA-projectile/dynamics"
	"github.com/imhunterand/iDA-projectile/spatialmath"
)

// TaskError returns the position error x − x_d and the orientation error log(R·R_dᵀ), the rotation
// that takes the desired orientation to the current one. A nil rotation on either side means the
// orientation is unconstrained and yields a zero orientation error.
func TaskError(state *dynamics.RobotState, sp *Setpoint) (dx, dphi r3.Vector) {
	dx = state.EEPosition.Sub(sp.Position)
	if state.EERotation != nil && sp.Rotation != nil {
		dphi = spatialmath.RotationBetween(sp.Rotation, state.EERotation)
	}
	return dx, dphi
}

// ClampTaskError limits the position and orientation errors to the incremental maximum steps,
// preserving their directions.
func ClampTaskError(dx, dphi r3.Vector, gains *Gains) (r3.Vector, r3.Vector) {
	return spatialmath.ClampNorm(dx, gains.MaxStepPosition), spatialmath.ClampNorm(dphi, gains.MaxStepRotation)
}

// wrench returns [F_p; F_r] = [−kp_p·dx − kv_p·v; −kp_r·dphi − kv_r·ω].
func wrench(state *dynamics.RobotState, dx, dphi r3.Vector, gains *Gains) *mat.VecDense {
	fp := dx.Mul(-gains.KpPosition).Sub(state.LinearVelocity.Mul(gains.KvPosition))
	fr := dphi.Mul(-gains.KpRotation).Sub(state.AngularVelocity.Mul(gains.KvRotation))
	return mat.NewVecDense(6, []float64{fp.X, fp.Y, fp.Z, fr.X, fr.Y, fr.Z})
}

// jacobianTranspose returns Jᵀ·w as a slice.
func jacobianTranspose(state *dynamics.RobotState, w *mat.VecDense) []float64 {
	var tau mat.VecDense
	tau.MulVec(state.Jacobian.T(), w)
	out := make([]float64, tau.Len())
	for i := range out {
		out[i] = tau.AtVec(i)
	}
	return out
}

type fullTaskSpace struct{}

func (fullTaskSpace) BaseTorque(state *dynamics.RobotState, sp *Setpoint, gains *Gains) []float64 {
	dx, dphi := TaskError(state, sp)
	return jacobianTranspose(state, wrench(state, dx, dphi, gains))
}

type incrementalTaskSpace struct{}

func (incrementalTaskSpace) BaseTorque(state *dynamics.RobotState, sp *Setpoint, gains *Gains) []float64 {
	dx, dphi := TaskError(state, sp)
	dx, dphi = ClampTaskError(dx, dphi, gains)
	return jacobianTranspose(state, wrench(state, dx, dphi, gains))
}

type resolvedMotionRate struct{}

// BaseTorque maps the task error e = [dx; dphi] to the joint error Jᵀ·e, then applies joint PD.
func (resolvedMotionRate) BaseTorque(state *dynamics.RobotState, sp *Setpoint, gains *Gains) []float64 {
	dx, dphi := TaskError(state, sp)
	qErr := jacobianTranspose(state, mat.NewVecDense(6, []float64{dx.X, dx.Y, dx.Z, dphi.X, dphi.Y, dphi.Z}))
	tau := make([]float64, len(qErr))
	for i := range tau {
		tau[i] = -gains.KpJoint[i]*qErr[i] - gains.KvJoint[i]*state.DQ[i]
	}
	return tau
}

type jointSpace struct{}

func (jointSpace) BaseTorque(state *dynamics.RobotState, sp *Setpoint, gains *Gains) []float64 {
	tau := make([]float64, len(state.Q))
	for i := range tau {
		tau[i] = gains.KpJoint[i]*(sp.Joints[i]-state.Q[i]) - gains.KvJoint[i]*state.DQ[i]
	}
	return tau
}
