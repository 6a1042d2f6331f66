package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Skew returns the cross product matrix of v, so Skew(v).Mul3x1(w) == v.Cross(w).
func Skew(v mgl64.Vec3) mgl64.Mat3 {
	return mgl64.Mat3FromCols(
		mgl64.Vec3{0, v[2], -v[1]},
		mgl64.Vec3{-v[2], 0, v[0]},
		mgl64.Vec3{v[1], -v[0], 0},
	)
}

// Outer returns a * b^T.
func Outer(a, b mgl64.Vec3) mgl64.Mat3 {
	return mgl64.Mat3FromCols(a.Mul(b[0]), a.Mul(b[1]), a.Mul(b[2]))
}

// ParallelAxis moves an inertia tensor taken about a body's center of mass
// to a point offset from it.
func ParallelAxis(inertia mgl64.Mat3, mass float64, offset mgl64.Vec3) mgl64.Mat3 {
	shift := mgl64.Ident3().Mul(offset.LenSqr()).Sub(Outer(offset, offset))
	return inertia.Add(shift.Mul(mass))
}

// RotateTensor expresses a tensor given in rotated axes in the parent axes: R*I*R^T.
func RotateTensor(rotation, tensor mgl64.Mat3) mgl64.Mat3 {
	return rotation.Mul3(tensor).Mul3(rotation.Transpose())
}

// InverseOrZero inverts m, or returns the zero matrix when m is (nearly) singular.
func InverseOrZero(m mgl64.Mat3) (mgl64.Mat3, bool) {
	det := m.Det()
	scale := 0.0
	for _, f := range m {
		scale = math.Max(scale, math.Abs(f))
	}
	if scale == 0 || math.Abs(det) <= 1e-12*scale*scale*scale || !isFinite(det) {
		return mgl64.Mat3{}, false
	}
	return m.Inv(), true
}

// RotationFromVector turns a rotation vector (axis * angle) into a quaternion.
// Vectors too short to define an axis yield the identity and false.
func RotationFromVector(rv mgl64.Vec3) (mgl64.Quat, bool) {
	angle := rv.Len()
	if angle < 1e-12 || !isFinite(angle) {
		return mgl64.QuatIdent(), false
	}
	return mgl64.QuatRotate(angle, rv.Mul(1/angle)), true
}

func IsFiniteMat(m mgl64.Mat3) bool {
	for _, f := range m {
		if !isFinite(f) {
			return false
		}
	}
	return true
}
