package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// CFrame is a rigid placement: a position and an orientation.
// Points are mapped local -> global as Position + Rotation*local.
type CFrame struct {
	Position mgl64.Vec3
	Rotation mgl64.Quat
}

func IdentityCFrame() CFrame {
	return CFrame{Rotation: mgl64.QuatIdent()}
}

func NewCFrame(position mgl64.Vec3, rotation mgl64.Quat) CFrame {
	return CFrame{Position: position, Rotation: rotation.Normalize()}
}

func CFrameAt(x, y, z float64) CFrame {
	return CFrame{Position: mgl64.Vec3{x, y, z}, Rotation: mgl64.QuatIdent()}
}

func (c CFrame) LocalToGlobal(v mgl64.Vec3) mgl64.Vec3 {
	return c.Position.Add(c.Rotation.Rotate(v))
}

func (c CFrame) GlobalToLocal(v mgl64.Vec3) mgl64.Vec3 {
	return c.Rotation.Conjugate().Rotate(v.Sub(c.Position))
}

// LocalToRelative rotates a direction from local axes into global axes.
func (c CFrame) LocalToRelative(v mgl64.Vec3) mgl64.Vec3 {
	return c.Rotation.Rotate(v)
}

func (c CFrame) RelativeToLocal(v mgl64.Vec3) mgl64.Vec3 {
	return c.Rotation.Conjugate().Rotate(v)
}

// Mul composes c with a frame expressed in c's local space.
func (c CFrame) Mul(local CFrame) CFrame {
	return CFrame{
		Position: c.LocalToGlobal(local.Position),
		Rotation: c.Rotation.Mul(local.Rotation).Normalize(),
	}
}

func (c CFrame) Inverse() CFrame {
	inv := c.Rotation.Conjugate()
	return CFrame{
		Position: inv.Rotate(c.Position.Mul(-1)),
		Rotation: inv,
	}
}

// GlobalToLocalFrame expresses the global frame g in c's local space,
// so that c.Mul(c.GlobalToLocalFrame(g)) == g.
func (c CFrame) GlobalToLocalFrame(g CFrame) CFrame {
	return c.Inverse().Mul(g)
}

func (c CFrame) Translated(d mgl64.Vec3) CFrame {
	return CFrame{Position: c.Position.Add(d), Rotation: c.Rotation}
}

// Rotated applies a global rotation to the orientation, keeping the position.
func (c CFrame) Rotated(q mgl64.Quat) CFrame {
	return CFrame{Position: c.Position, Rotation: q.Mul(c.Rotation).Normalize()}
}

// RotatedAround rotates the whole frame around a global pivot point.
func (c CFrame) RotatedAround(pivot mgl64.Vec3, q mgl64.Quat) CFrame {
	return CFrame{
		Position: pivot.Add(q.Rotate(c.Position.Sub(pivot))),
		Rotation: q.Mul(c.Rotation).Normalize(),
	}
}

func (c CFrame) RotationMatrix() mgl64.Mat3 {
	return c.Rotation.Normalize().Mat4().Mat3()
}

func (c CFrame) IsFinite() bool {
	return IsFiniteVec(c.Position) && IsFiniteVec(c.Rotation.V) && isFinite(c.Rotation.W) && c.Rotation.Len() > 1e-12
}

// ApproxEqual compares two frames component-wise within eps, treating q and
// -q as the same rotation.
func (c CFrame) ApproxEqual(o CFrame, eps float64) bool {
	if !ApproxEqualVec(c.Position, o.Position, eps) {
		return false
	}
	a := c.Rotation.Normalize()
	b := o.Rotation.Normalize()
	return ApproxEqualQuat(a, b, eps) || ApproxEqualQuat(a, b.Scale(-1), eps)
}

// ApproxEqualVec reports whether every component of a and b differs by at
// most eps. Unlike mgl64's relative comparison it behaves the same near zero.
func ApproxEqualVec(a, b mgl64.Vec3, eps float64) bool {
	return math.Abs(a[0]-b[0]) <= eps && math.Abs(a[1]-b[1]) <= eps && math.Abs(a[2]-b[2]) <= eps
}

func ApproxEqualQuat(a, b mgl64.Quat, eps float64) bool {
	return math.Abs(a.W-b.W) <= eps && ApproxEqualVec(a.V, b.V, eps)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func IsFiniteVec(v mgl64.Vec3) bool {
	return isFinite(v[0]) && isFinite(v[1]) && isFinite(v[2])
}
