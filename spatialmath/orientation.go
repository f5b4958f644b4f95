package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
)

// EulerAngles are intrinsic roll (x), pitch (y), yaw (z) angles in radians, composed as
// R = Rz(yaw)·Ry(pitch)·Rx(roll).
type EulerAngles struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// NewEulerAngles creates an empty EulerAngles struct.
func NewEulerAngles() *EulerAngles {
	return &EulerAngles{}
}

// RotationMatrix returns the orientation in rotation matrix representation.
func (ea *EulerAngles) RotationMatrix() *RotationMatrix {
	cr, sr := math.Cos(ea.Roll), math.Sin(ea.Roll)
	cp, sp := math.Cos(ea.Pitch), math.Sin(ea.Pitch)
	cy, sy := math.Cos(ea.Yaw), math.Sin(ea.Yaw)
	return &RotationMatrix{mat: [9]float64{
		cy * cp, cy*sp*sr - sy*cr, cy*sp*cr + sy*sr,
		sy * cp, sy*sp*sr + cy*cr, sy*sp*cr - cy*sr,
		-sp, cp * sr, cp * cr,
	}}
}

// EulerAngles returns the roll, pitch, yaw decomposition of rm. At pitch ±π/2 roll is reported as zero.
func (rm *RotationMatrix) EulerAngles() *EulerAngles {
	m := rm.mat
	sp := math.Max(-1, math.Min(1, -m[6]))
	pitch := math.Asin(sp)
	if math.Abs(sp) > 1-1e-9 {
		return &EulerAngles{Pitch: pitch, Yaw: math.Atan2(-m[1], m[4])}
	}
	return &EulerAngles{
		Roll:  math.Atan2(m[7], m[8]),
		Pitch: pitch,
		Yaw:   math.Atan2(m[3], m[0]),
	}
}

// RotationBetween returns the R3 axis angle of the rotation that takes desired to current,
// i.e. log(current·desiredᵀ). This is the orientation error of task space control.
func RotationBetween(desired, current *RotationMatrix) r3.Vector {
	return LogMap(current.Mul(desired.Transpose()))
}

// FacingRotation returns a rotation whose z axis points along dir. The x axis is chosen
// perpendicular to the world z axis unless dir is nearly vertical, in which case world x is used.
func FacingRotation(dir r3.Vector) *RotationMatrix {
	if dir.Norm() == 0 {
		return Identity()
	}
	z := dir.Normalize()
	ref := r3.Vector{Z: 1}
	if math.Abs(z.Dot(ref)) > 0.99 {
		ref = r3.Vector{X: 1}
	}
	x := ref.Cross(z).Normalize()
	y := z.Cross(x)
	return RotationMatrixFromColumns(x, y, z)
}

// ClampNorm returns v scaled down to magnitude max when it is longer, otherwise v unchanged.
func ClampNorm(v r3.Vector, max float64) r3.Vector {
	n := v.Norm()
	if n <= max || n == 0 {
		return v
	}
	return v.Mul(max / n)
}
