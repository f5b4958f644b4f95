package dynamics

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"

	"github.com/imhunterand/iDA-projectile/spatialmath"
	"github.com/imhunterand/iDA-projectile/utils"
)

// ChainConfig describes a serial manipulator with a base yaw joint followed by pitch joints.
// Link i (i >= 1) follows pitch joint i and carries a point mass at its end.
type ChainConfig struct {
	BaseHeight  float64   `json:"base_height"`
	LinkLengths []float64 `json:"link_lengths"`
	LinkMasses  []float64 `json:"link_masses"`
	// Armature is added to every diagonal entry of the mass matrix (rotor inertia).
	Armature float64 `json:"armature"`
	// Damping is viscous joint friction of the simulated plant.
	Damping float64   `json:"damping"`
	Limits  []Limit   `json:"joint_limits"`
	Gravity r3.Vector `json:"gravity"`
}

// DefaultChainConfig returns a 4 joint arm roughly one and a half meters long.
func DefaultChainConfig() ChainConfig {
	return ChainConfig{
		BaseHeight:  0.5,
		LinkLengths: []float64{0.7, 0.6, 0.3},
		LinkMasses:  []float64{3, 2, 1},
		Armature:    0.1,
		Damping:     0.5,
		Limits: []Limit{
			{Min: -math.Pi, Max: math.Pi},
			{Min: -math.Pi / 2, Max: math.Pi / 2},
			{Min: -2.5, Max: 2.5},
			{Min: -2.5, Max: 2.5},
		},
		Gravity: r3.Vector{Z: -9.81},
	}
}

// DoF returns the number of joints the config describes.
func (cfg ChainConfig) DoF() int {
	return len(cfg.LinkLengths) + 1
}

// Validate ensures all parts of the config are valid.
func (cfg ChainConfig) Validate() error {
	var err error
	if len(cfg.LinkLengths) == 0 {
		err = multierr.Append(err, errors.New("chain needs at least one link"))
	}
	if len(cfg.LinkMasses) != len(cfg.LinkLengths) {
		err = multierr.Append(err, utils.NewDimensionMismatchError("link masses", len(cfg.LinkLengths), len(cfg.LinkMasses)))
	}
	if len(cfg.Limits) != cfg.DoF() {
		err = multierr.Append(err, utils.NewDimensionMismatchError("joint limits", cfg.DoF(), len(cfg.Limits)))
	}
	for i, l := range cfg.LinkLengths {
		if l <= 0 {
			err = multierr.Append(err, errors.Errorf("link %d length must be positive, got %v", i+1, l))
		}
	}
	for i, m := range cfg.LinkMasses {
		if m < 0 {
			err = multierr.Append(err, errors.Errorf("link %d mass must not be negative, got %v", i+1, m))
		}
	}
	for i, lim := range cfg.Limits {
		if lim.Min >= lim.Max {
			err = multierr.Append(err, errors.Errorf("joint %d limit min %v must be below max %v", i, lim.Min, lim.Max))
		}
	}
	if cfg.Armature <= 0 {
		err = multierr.Append(err, errors.New("armature must be positive so the mass matrix stays invertible"))
	}
	return err
}

// Chain is a closed form Provider for the arm described by a ChainConfig.
type Chain struct {
	cfg ChainConfig
	dof int
}

// NewChain validates cfg and returns a Chain.
func NewChain(cfg ChainConfig) (*Chain, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid chain config")
	}
	return &Chain{cfg: cfg, dof: cfg.DoF()}, nil
}

// DoF returns the number of joints.
func (c *Chain) DoF() int {
	return c.dof
}

// JointLimits returns a copy of the joint limits.
func (c *Chain) JointLimits() []Limit {
	out := make([]Limit, len(c.cfg.Limits))
	copy(out, c.cfg.Limits)
	return out
}

// Reach returns the distance from the shoulder to the end effector when fully stretched.
func (c *Chain) Reach() float64 {
	var sum float64
	for _, l := range c.cfg.LinkLengths {
		sum += l
	}
	return sum
}

// Shoulder returns the position of the first pitch joint.
func (c *Chain) Shoulder() r3.Vector {
	return r3.Vector{Z: c.cfg.BaseHeight}
}

// Damping returns the plant's viscous joint friction.
func (c *Chain) Damping() float64 {
	return c.cfg.Damping
}

// linkJacobian returns the 3×dof linear Jacobian of the end of link k (1 based) and that point.
// In the arm plane, pitch joint j moves the point by (dr, dz) = (-Σ L sinφ, Σ L cosφ) over links j..k.
func (c *Chain) linkJacobian(q []float64, k int) (*mat.Dense, r3.Vector) {
	yaw := q[0]
	u := r3.Vector{X: math.Cos(yaw), Y: math.Sin(yaw)}

	phi := make([]float64, k+1)
	var r, z float64
	for i := 1; i <= k; i++ {
		phi[i] = phi[i-1] + q[i]
		r += c.cfg.LinkLengths[i-1] * math.Cos(phi[i])
		z += c.cfg.LinkLengths[i-1] * math.Sin(phi[i])
	}
	point := u.Mul(r).Add(r3.Vector{Z: c.cfg.BaseHeight + z})

	jac := mat.NewDense(3, c.dof, nil)
	jac.Set(0, 0, -r*u.Y)
	jac.Set(1, 0, r*u.X)
	for j := 1; j <= k; j++ {
		var dr, dz float64
		for i := j; i <= k; i++ {
			dr -= c.cfg.LinkLengths[i-1] * math.Sin(phi[i])
			dz += c.cfg.LinkLengths[i-1] * math.Cos(phi[i])
		}
		jac.Set(0, j, dr*u.X)
		jac.Set(1, j, dr*u.Y)
		jac.Set(2, j, dz)
	}
	return jac, point
}

// Update implements Provider.
func (c *Chain) Update(q, dq []float64) (*Quantities, error) {
	if err := utils.CheckLen("joint positions", q, c.dof); err != nil {
		return nil, err
	}
	if err := utils.CheckLen("joint velocities", dq, c.dof); err != nil {
		return nil, err
	}

	n := c.dof - 1
	eeLinear, eePos := c.linkJacobian(q, n)

	// yaw turns about world z, every pitch joint about the horizontal axis normal to the arm plane
	yaw := q[0]
	pitchAxis := r3.Vector{X: math.Sin(yaw), Y: -math.Cos(yaw)}
	jac := mat.NewDense(6, c.dof, nil)
	jac.Slice(0, 3, 0, c.dof).(*mat.Dense).Copy(eeLinear)
	jac.Set(5, 0, 1)
	for j := 1; j < c.dof; j++ {
		jac.Set(3, j, pitchAxis.X)
		jac.Set(4, j, pitchAxis.Y)
	}

	mass := mat.NewDense(c.dof, c.dof, nil)
	gravity := make([]float64, c.dof)
	gWorld := mat.NewVecDense(3, []float64{c.cfg.Gravity.X, c.cfg.Gravity.Y, c.cfg.Gravity.Z})
	for k := 1; k <= n; k++ {
		m := c.cfg.LinkMasses[k-1]
		jk, _ := c.linkJacobian(q, k)
		var jtj mat.Dense
		jtj.Mul(jk.T(), jk)
		jtj.Scale(m, &jtj)
		mass.Add(mass, &jtj)

		var jtg mat.VecDense
		jtg.MulVec(jk.T(), gWorld)
		for i := range gravity {
			gravity[i] -= m * jtg.AtVec(i)
		}
	}
	for i := 0; i < c.dof; i++ {
		mass.Set(i, i, mass.At(i, i)+c.cfg.Armature)
	}

	var massInv mat.Dense
	if err := massInv.Inverse(mass); err != nil {
		return nil, errors.Wrap(err, "mass matrix is singular")
	}

	var twist mat.VecDense
	twist.MulVec(jac, mat.NewVecDense(c.dof, utils.CopyFloats(dq)))

	var pitch float64
	for _, v := range q[1:] {
		pitch += v
	}
	rot := (&spatialmath.EulerAngles{Pitch: -pitch, Yaw: yaw}).RotationMatrix()

	return &Quantities{
		EEPosition:      eePos,
		EERotation:      rot,
		LinearVelocity:  r3.Vector{X: twist.AtVec(0), Y: twist.AtVec(1), Z: twist.AtVec(2)},
		AngularVelocity: r3.Vector{X: twist.AtVec(3), Y: twist.AtVec(4), Z: twist.AtVec(5)},
		Jacobian:        jac,
		Mass:            mass,
		MassInverse:     &massInv,
		Gravity:         gravity,
	}, nil
}

// ForwardKinematics returns the end effector position for q.
func (c *Chain) ForwardKinematics(q []float64) (r3.Vector, error) {
	if err := utils.CheckLen("joint positions", q, c.dof); err != nil {
		return r3.Vector{}, err
	}
	_, p := c.linkJacobian(q, c.dof-1)
	return p, nil
}
