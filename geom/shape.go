package geom

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Shape is a solid's boundary representation in its own local space.
// Mass properties are given for unit density; callers scale by density.
type Shape interface {
	Volume() float64
	CenterOfMass() mgl64.Vec3
	// Inertia is the unit density inertia tensor about CenterOfMass, in shape axes.
	Inertia() mgl64.Mat3
	LocalBounds() Bounds
	// MaxRadius is the largest distance from the local origin to the surface.
	MaxRadius() float64
	// Bounds returns the global axis aligned bounds of the shape placed at cf.
	Bounds(cf CFrame) Bounds
	Scaled(x, y, z float64) Shape
	// IntersectsRay intersects a ray given in local space.
	IntersectsRay(local Ray) (float64, bool)
}

type ShapeKind int

const (
	ShapeBox ShapeKind = iota
	ShapeSphere
)

func (k ShapeKind) String() string {
	switch k {
	case ShapeBox:
		return "box"
	case ShapeSphere:
		return "sphere"
	}
	return fmt.Sprintf("ShapeKind(%d)", int(k))
}

// Box is centered on its local origin.
type Box struct {
	HalfExtents mgl64.Vec3
}

// NewBox takes full width, height and depth.
func NewBox(width, height, depth float64) Box {
	return Box{HalfExtents: mgl64.Vec3{width / 2, height / 2, depth / 2}}
}

func (b Box) Volume() float64 {
	return 8 * b.HalfExtents[0] * b.HalfExtents[1] * b.HalfExtents[2]
}

func (b Box) CenterOfMass() mgl64.Vec3 { return mgl64.Vec3{} }

func (b Box) Inertia() mgl64.Mat3 {
	h := b.HalfExtents
	m := b.Volume()
	return mgl64.Diag3(mgl64.Vec3{
		m / 3 * (h[1]*h[1] + h[2]*h[2]),
		m / 3 * (h[0]*h[0] + h[2]*h[2]),
		m / 3 * (h[0]*h[0] + h[1]*h[1]),
	})
}

func (b Box) LocalBounds() Bounds {
	return BoundsAround(mgl64.Vec3{}, b.HalfExtents)
}

func (b Box) MaxRadius() float64 { return b.HalfExtents.Len() }

func (b Box) Bounds(cf CFrame) Bounds {
	rot := cf.RotationMatrix()
	var extent mgl64.Vec3
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			extent[row] += math.Abs(rot.At(row, col)) * b.HalfExtents[col]
		}
	}
	return BoundsAround(cf.Position, extent)
}

func (b Box) Scaled(x, y, z float64) Shape {
	return Box{HalfExtents: mgl64.Vec3{b.HalfExtents[0] * x, b.HalfExtents[1] * y, b.HalfExtents[2] * z}}
}

func (b Box) IntersectsRay(local Ray) (float64, bool) {
	return b.LocalBounds().IntersectsRay(local)
}

// Sphere is centered on its local origin.
type Sphere struct {
	Radius float64
}

func NewSphere(radius float64) Sphere {
	return Sphere{Radius: radius}
}

func (s Sphere) Volume() float64 {
	return 4.0 / 3.0 * math.Pi * s.Radius * s.Radius * s.Radius
}

func (s Sphere) CenterOfMass() mgl64.Vec3 { return mgl64.Vec3{} }

func (s Sphere) Inertia() mgl64.Mat3 {
	i := 0.4 * s.Volume() * s.Radius * s.Radius
	return mgl64.Diag3(mgl64.Vec3{i, i, i})
}

func (s Sphere) LocalBounds() Bounds {
	return BoundsAround(mgl64.Vec3{}, mgl64.Vec3{s.Radius, s.Radius, s.Radius})
}

func (s Sphere) MaxRadius() float64 { return s.Radius }

func (s Sphere) Bounds(cf CFrame) Bounds {
	return BoundsAround(cf.Position, mgl64.Vec3{s.Radius, s.Radius, s.Radius})
}

// Scaled keeps the sphere round: the radius grows with the cube root of the
// volume change.
func (s Sphere) Scaled(x, y, z float64) Shape {
	return Sphere{Radius: s.Radius * math.Cbrt(x*y*z)}
}

func (s Sphere) IntersectsRay(local Ray) (float64, bool) {
	a := local.Direction.LenSqr()
	if a == 0 {
		return 0, false
	}
	b := 2 * local.Start.Dot(local.Direction)
	c := local.Start.LenSqr() - s.Radius*s.Radius
	disc := b*b - 4*a*c
	if disc < 0 {
		return 0, false
	}
	sq := math.Sqrt(disc)
	t := (-b - sq) / (2 * a)
	if t < 0 {
		if c <= 0 {
			return 0, true
		}
		return 0, false
	}
	return t, true
}

// KindOf reports the concrete shape family of s.
func KindOf(s Shape) (ShapeKind, bool) {
	switch s.(type) {
	case Box:
		return ShapeBox, true
	case Sphere:
		return ShapeSphere, true
	}
	return 0, false
}
