package dynamics

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/imhunterand/iDA-projectile/utils"
)

// Integrate advances s by dt under torque tau with semi-implicit Euler:
// ddq = M⁻¹(τ − g − b·dq), dq += ddq·dt, q += dq·dt.
// Joints that reach a limit stop there with zero velocity. Derived terms are refreshed afterwards,
// which also renormalizes the end effector rotation.
func Integrate(p Provider, s *RobotState, tau []float64, damping, dt float64) error {
	dof := p.DoF()
	if err := utils.CheckLen("torque", tau, dof); err != nil {
		return err
	}
	if s.MassInverse == nil || len(s.Gravity) != dof {
		if err := s.Refresh(p); err != nil {
			return err
		}
	}
	if r, c := s.MassInverse.Dims(); r != dof || c != dof {
		return utils.NewDimensionMismatchError("inverse mass matrix", dof, r)
	}

	net := make([]float64, dof)
	for i := range net {
		net[i] = tau[i] - s.Gravity[i] - damping*s.DQ[i]
	}
	var ddq mat.VecDense
	ddq.MulVec(s.MassInverse, mat.NewVecDense(dof, net))

	limits := p.JointLimits()
	for i := 0; i < dof; i++ {
		s.DDQ[i] = ddq.AtVec(i)
		s.DQ[i] += s.DDQ[i] * dt
		s.Q[i] += s.DQ[i] * dt
		if i < len(limits) {
			if s.Q[i] < limits[i].Min {
				s.Q[i] = limits[i].Min
				s.DQ[i] = 0
			} else if s.Q[i] > limits[i].Max {
				s.Q[i] = limits[i].Max
				s.DQ[i] = 0
			}
		}
	}
	s.Time += dt
	s.Torque = utils.CopyFloats(tau)

	if err := s.Refresh(p); err != nil {
		return errors.Wrap(err, "integrating dynamics")
	}
	s.EERotation = s.EERotation.Orthonormalize()
	return nil
}
