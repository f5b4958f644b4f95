package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"

	"github.com/imhunterand/iDA-projectile/utils"
)

var q45x = quat.Number{Real: math.Cos(math.Pi / 8), Imag: math.Sin(math.Pi / 8)}

func vectorAlmostEqual(t *testing.T, got, want r3.Vector, tol float64) {
	t.Helper()
	test.That(t, got.X, test.ShouldAlmostEqual, want.X, tol)
	test.That(t, got.Y, test.ShouldAlmostEqual, want.Y, tol)
	test.That(t, got.Z, test.ShouldAlmostEqual, want.Z, tol)
}

func TestNewRotationMatrix(t *testing.T) {
	_, err := NewRotationMatrix([]float64{1, 0, 0})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err, test.ShouldWrap, utils.ErrDimensionMismatch)

	rm, err := NewRotationMatrix([]float64{0, -1, 0, 1, 0, 0, 0, 0, 1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rm.At(1, 0), test.ShouldEqual, 1.)
	vectorAlmostEqual(t, rm.MulVec(r3.Vector{X: 1}), r3.Vector{Y: 1}, 1e-12)
	test.That(t, rm.IsOrthonormal(1e-12), test.ShouldBeTrue)
	vectorAlmostEqual(t, rm.Mul(rm.Transpose()).Col(0), r3.Vector{X: 1}, 1e-12)
}

func TestQuaternionConversion(t *testing.T) {
	rm := QuatToRotationMatrix(q45x)
	ea := rm.EulerAngles()
	test.That(t, ea.Roll, test.ShouldAlmostEqual, math.Pi/4)
	test.That(t, ea.Pitch, test.ShouldAlmostEqual, 0)
	test.That(t, ea.Yaw, test.ShouldAlmostEqual, 0)

	back := rm.Quaternion()
	test.That(t, back.Real, test.ShouldAlmostEqual, q45x.Real)
	test.That(t, back.Imag, test.ShouldAlmostEqual, q45x.Imag)
	test.That(t, back.Jmag, test.ShouldAlmostEqual, 0)
	test.That(t, back.Kmag, test.ShouldAlmostEqual, 0)

	// a half turn exercises the non-trace branches
	for _, axis := range []r3.Vector{{X: 1}, {Y: 1}, {Z: 1}} {
		r4 := R3ToR4(axis.Mul(math.Pi))
		q := r4.RotationMatrix().Quaternion()
		test.That(t, math.Abs(q.Real), test.ShouldBeLessThan, 1e-9)
		test.That(t, quat.Abs(q), test.ShouldAlmostEqual, 1)
		vectorAlmostEqual(t, QuatToRotationMatrix(q).Col(0), r4.RotationMatrix().Col(0), 1e-9)
	}
}

func TestExpLogMap(t *testing.T) {
	for _, w := range []r3.Vector{
		{},
		{X: 1e-12},
		{X: 0.3},
		{X: 0.1, Y: -0.4, Z: 0.7},
		{X: -1, Y: 2, Z: 0.5},
		r3.Vector{X: 1, Y: 1, Z: 0}.Normalize().Mul(math.Pi - 1e-3),
	} {
		rm := ExpMap(w)
		test.That(t, rm.IsOrthonormal(1e-9), test.ShouldBeTrue)
		vectorAlmostEqual(t, LogMap(rm), w, 1e-6)
	}

	// exactly π about y: the sign of the axis is arbitrary but the magnitude and line are not
	half := LogMap(ExpMap(r3.Vector{Y: math.Pi}))
	test.That(t, half.Norm(), test.ShouldAlmostEqual, math.Pi)
	test.That(t, math.Abs(half.Y), test.ShouldAlmostEqual, math.Pi)

	r4 := &R4AA{Theta: math.Pi / 4, RX: 2}
	q := r4.Quaternion()
	test.That(t, q.Real, test.ShouldAlmostEqual, q45x.Real)
	test.That(t, q.Imag, test.ShouldAlmostEqual, q45x.Imag)
	vectorAlmostEqual(t, R3ToR4(r3.Vector{}).ToR3(), r3.Vector{}, 0)
}

func TestOrthonormalize(t *testing.T) {
	base := (&EulerAngles{Roll: 0.2, Pitch: -0.5, Yaw: 1.1}).RotationMatrix()
	noisy := base.Data()
	for i := range noisy {
		noisy[i] += 1e-3 * float64(i%3-1)
	}
	drifted, err := NewRotationMatrix(noisy)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, drifted.IsOrthonormal(1e-6), test.ShouldBeFalse)

	fixed := drifted.Orthonormalize()
	test.That(t, fixed.IsOrthonormal(1e-9), test.ShouldBeTrue)
	test.That(t, fixed.Det(), test.ShouldAlmostEqual, 1)
	test.That(t, RotationBetween(base, fixed).Norm(), test.ShouldBeLessThan, 1e-2)

	// a reflection is mapped to a proper rotation
	reflect, err := NewRotationMatrix([]float64{1, 0, 0, 0, 1, 0, 0, 0, -1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, reflect.Orthonormalize().Det(), test.ShouldAlmostEqual, 1)
}

func TestEulerAngles(t *testing.T) {
	ea := &EulerAngles{Roll: 0.3, Pitch: -0.2, Yaw: 2.0}
	got := ea.RotationMatrix().EulerAngles()
	test.That(t, got.Roll, test.ShouldAlmostEqual, ea.Roll)
	test.That(t, got.Pitch, test.ShouldAlmostEqual, ea.Pitch)
	test.That(t, got.Yaw, test.ShouldAlmostEqual, ea.Yaw)

	lock := (&EulerAngles{Pitch: math.Pi / 2, Yaw: 0.4}).RotationMatrix().EulerAngles()
	test.That(t, lock.Roll, test.ShouldEqual, 0.)
	test.That(t, lock.Pitch, test.ShouldAlmostEqual, math.Pi/2)
	test.That(t, lock.Yaw, test.ShouldAlmostEqual, 0.4)
}

func TestRotationBetween(t *testing.T) {
	desired := Identity()
	current := ExpMap(r3.Vector{Z: 0.3})
	vectorAlmostEqual(t, RotationBetween(desired, current), r3.Vector{Z: 0.3}, 1e-9)
	vectorAlmostEqual(t, RotationBetween(current, desired), r3.Vector{Z: -0.3}, 1e-9)
	vectorAlmostEqual(t, RotationBetween(current, current), r3.Vector{}, 1e-9)
}

func TestFacingRotation(t *testing.T) {
	for _, dir := range []r3.Vector{{X: -5, Z: 3}, {Z: -1}, {Y: 2}} {
		rm := FacingRotation(dir)
		test.That(t, rm.IsOrthonormal(1e-9), test.ShouldBeTrue)
		vectorAlmostEqual(t, rm.Col(2), dir.Normalize(), 1e-9)
	}
	test.That(t, FacingRotation(r3.Vector{}).IsOrthonormal(0), test.ShouldBeTrue)
}

func TestClampNorm(t *testing.T) {
	v := r3.Vector{X: 3, Y: 4}
	clamped := ClampNorm(v, 0.5)
	test.That(t, clamped.Norm(), test.ShouldAlmostEqual, 0.5)
	vectorAlmostEqual(t, clamped.Normalize(), v.Normalize(), 1e-12)
	test.That(t, ClampNorm(v, 10), test.ShouldResemble, v)
	test.That(t, ClampNorm(r3.Vector{}, 0.5), test.ShouldResemble, r3.Vector{})
}

func TestRotationMatrixJSON(t *testing.T) {
	rm := ExpMap(r3.Vector{X: 0.1})
	data, err := rm.MarshalJSON()
	test.That(t, err, test.ShouldBeNil)
	var back RotationMatrix
	test.That(t, back.UnmarshalJSON(data), test.ShouldBeNil)
	test.That(t, back.Data(), test.ShouldResemble, rm.Data())
}
