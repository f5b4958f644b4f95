package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// See here for a thorough explanation: https://en.wikipedia.org/wiki/Axis%E2%80%93angle_representation
// An orientation can be expressed by an axis on the unit sphere, (rx, ry, rz), and a rotation theta around it.
// These four numbers can be used as-is (R4), or converted to R3, where theta is multiplied by each of
// the unit sphere components to give a vector whose length is theta and whose direction is the axis.
// The R3 form is what LogMap and ExpMap exchange, and is the orientation error used by task space control.

// R4AA represents an R4 axis angle.
type R4AA struct {
	Theta float64 `json:"th"`
	RX    float64 `json:"x"`
	RY    float64 `json:"y"`
	RZ    float64 `json:"z"`
}

// NewR4AA creates a zero rotation about the z axis.
func NewR4AA() *R4AA {
	return &R4AA{Theta: 0, RX: 0, RY: 0, RZ: 1}
}

// ToR3 converts an R4 angle axis to R3.
func (r4 *R4AA) ToR3() r3.Vector {
	return r3.Vector{X: r4.RX * r4.Theta, Y: r4.RY * r4.Theta, Z: r4.RZ * r4.Theta}
}

// Quaternion converts an R4 axis angle to a unit quaternion.
// See: https://www.euclideanspace.com/maths/geometry/rotations/conversions/angleToQuaternion/index.htm
func (r4 *R4AA) Quaternion() quat.Number {
	axis := r4.axis()
	sinA := math.Sin(r4.Theta / 2)
	return quat.Number{Real: math.Cos(r4.Theta / 2), Imag: axis.X * sinA, Jmag: axis.Y * sinA, Kmag: axis.Z * sinA}
}

// RotationMatrix returns the orientation in rotation matrix representation.
func (r4 *R4AA) RotationMatrix() *RotationMatrix {
	return ExpMap(r4.ToR3())
}

func (r4 *R4AA) axis() r3.Vector {
	axis := r3.Vector{X: r4.RX, Y: r4.RY, Z: r4.RZ}
	if axis.Norm() == 0 {
		return r3.Vector{Z: 1}
	}
	return axis.Normalize()
}

// R3ToR4 converts an R3 angle axis to R4.
func R3ToR4(aa r3.Vector) *R4AA {
	theta := aa.Norm()
	if theta == 0 {
		return NewR4AA()
	}
	return &R4AA{Theta: theta, RX: aa.X / theta, RY: aa.Y / theta, RZ: aa.Z / theta}
}

const (
	smallAngle  = 1e-9
	nearPiAngle = 1e-6
)

// ExpMap returns the rotation of |w| radians about w (Rodrigues' formula).
func ExpMap(w r3.Vector) *RotationMatrix {
	theta := w.Norm()
	if theta < smallAngle {
		return Identity()
	}
	k := w.Mul(1 / theta)
	s, c := math.Sin(theta), 1-math.Cos(theta)
	return &RotationMatrix{mat: [9]float64{
		1 - c*(k.Y*k.Y+k.Z*k.Z), -s*k.Z + c*k.X*k.Y, s*k.Y + c*k.X*k.Z,
		s*k.Z + c*k.X*k.Y, 1 - c*(k.X*k.X+k.Z*k.Z), -s*k.X + c*k.Y*k.Z,
		-s*k.Y + c*k.X*k.Z, s*k.X + c*k.Y*k.Z, 1 - c*(k.X*k.X+k.Y*k.Y),
	}}
}

// LogMap returns the R3 axis angle of rm, with angle in [0, π].
func LogMap(rm *RotationMatrix) r3.Vector {
	m := rm.mat
	cosTheta := math.Max(-1, math.Min(1, (m[0]+m[4]+m[8]-1)/2))
	theta := math.Acos(cosTheta)
	// vee of the skew symmetric part, equal to sin(θ)·axis
	skew := r3.Vector{X: (m[7] - m[5]) / 2, Y: (m[2] - m[6]) / 2, Z: (m[3] - m[1]) / 2}

	if theta < smallAngle {
		return skew
	}
	if math.Pi-theta > nearPiAngle {
		return skew.Mul(theta / math.Sin(theta))
	}

	// near π the skew part vanishes; recover the axis from the symmetric part (R+I)/2 = k·kᵀ
	i := 0
	if m[4] > m[3*i+i] {
		i = 1
	}
	if m[8] > m[3*i+i] {
		i = 2
	}
	var k [3]float64
	k[i] = math.Sqrt(math.Max(0, (m[3*i+i]+1)/2))
	for j := 0; j < 3; j++ {
		if j != i {
			k[j] = (m[3*i+j] + m[3*j+i]) / (4 * k[i])
		}
	}
	axis := r3.Vector{X: k[0], Y: k[1], Z: k[2]}.Normalize()
	if axis.Dot(skew) < 0 {
		axis = axis.Mul(-1)
	}
	return axis.Mul(theta)
}
