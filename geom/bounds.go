package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Bounds is an axis aligned box. A Bounds with Min > Max on any axis is empty.
type Bounds struct {
	Min mgl64.Vec3
	Max mgl64.Vec3
}

// NewBounds builds the bounds spanned by two corners in any order.
func NewBounds(a, b mgl64.Vec3) Bounds {
	return Bounds{
		Min: mgl64.Vec3{math.Min(a[0], b[0]), math.Min(a[1], b[1]), math.Min(a[2], b[2])},
		Max: mgl64.Vec3{math.Max(a[0], b[0]), math.Max(a[1], b[1]), math.Max(a[2], b[2])},
	}
}

func BoundsAround(center, halfExtents mgl64.Vec3) Bounds {
	return Bounds{Min: center.Sub(halfExtents), Max: center.Add(halfExtents)}
}

func (b Bounds) Diagonal() mgl64.Vec3 { return b.Max.Sub(b.Min) }
func (b Bounds) Center() mgl64.Vec3   { return b.Min.Add(b.Max).Mul(0.5) }
func (b Bounds) Width() float64       { return b.Max[0] - b.Min[0] }
func (b Bounds) Height() float64      { return b.Max[1] - b.Min[1] }
func (b Bounds) Depth() float64       { return b.Max[2] - b.Min[2] }

func (b Bounds) Contains(p mgl64.Vec3) bool {
	return p[0] >= b.Min[0] && p[1] >= b.Min[1] && p[2] >= b.Min[2] &&
		p[0] <= b.Max[0] && p[1] <= b.Max[1] && p[2] <= b.Max[2]
}

func (b Bounds) ContainsBounds(o Bounds) bool {
	return b.Contains(o.Min) && b.Contains(o.Max)
}

// Intersects reports whether the two boxes overlap. Touching boxes intersect.
func (b Bounds) Intersects(o Bounds) bool {
	return b.Max[0] >= o.Min[0] && b.Min[0] <= o.Max[0] &&
		b.Max[1] >= o.Min[1] && b.Min[1] <= o.Max[1] &&
		b.Max[2] >= o.Min[2] && b.Min[2] <= o.Max[2]
}

func (b Bounds) Union(o Bounds) Bounds {
	return Bounds{
		Min: mgl64.Vec3{math.Min(b.Min[0], o.Min[0]), math.Min(b.Min[1], o.Min[1]), math.Min(b.Min[2], o.Min[2])},
		Max: mgl64.Vec3{math.Max(b.Max[0], o.Max[0]), math.Max(b.Max[1], o.Max[1]), math.Max(b.Max[2], o.Max[2])},
	}
}

func (b Bounds) Expanded(amount float64) Bounds {
	d := mgl64.Vec3{amount, amount, amount}
	return Bounds{Min: b.Min.Sub(d), Max: b.Max.Add(d)}
}

func (b Bounds) Translated(d mgl64.Vec3) Bounds {
	return Bounds{Min: b.Min.Add(d), Max: b.Max.Add(d)}
}

// SurfaceArea is the cost metric used when growing a bounding volume hierarchy.
func (b Bounds) SurfaceArea() float64 {
	d := b.Diagonal()
	return 2 * (d[0]*d[1] + d[1]*d[2] + d[2]*d[0])
}

// Corners returns the 8 corners of the box.
func (b Bounds) Corners() [8]mgl64.Vec3 {
	var corners [8]mgl64.Vec3
	for i := 0; i < 8; i++ {
		c := b.Min
		if i&1 != 0 {
			c[0] = b.Max[0]
		}
		if i&2 != 0 {
			c[1] = b.Max[1]
		}
		if i&4 != 0 {
			c[2] = b.Max[2]
		}
		corners[i] = c
	}
	return corners
}

// Transformed returns the global bounds of this local box placed at cf.
func (b Bounds) Transformed(cf CFrame) Bounds {
	corners := b.Corners()
	out := Bounds{Min: cf.LocalToGlobal(corners[0]), Max: cf.LocalToGlobal(corners[0])}
	for _, c := range corners[1:] {
		g := cf.LocalToGlobal(c)
		out = out.Union(Bounds{Min: g, Max: g})
	}
	return out
}

// IntersectsRay runs a slab test and returns the entry distance along the ray
// (in units of ray.Direction). A ray starting inside returns 0.
func (b Bounds) IntersectsRay(ray Ray) (float64, bool) {
	tMin := 0.0
	tMax := math.Inf(1)
	for axis := 0; axis < 3; axis++ {
		o := ray.Start[axis]
		d := ray.Direction[axis]
		if math.Abs(d) < 1e-15 {
			if o < b.Min[axis] || o > b.Max[axis] {
				return 0, false
			}
			continue
		}
		t1 := (b.Min[axis] - o) / d
		t2 := (b.Max[axis] - o) / d
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tMin = math.Max(tMin, t1)
		tMax = math.Min(tMax, t2)
		if tMin > tMax {
			return 0, false
		}
	}
	return tMin, true
}

type Ray struct {
	Start     mgl64.Vec3
	Direction mgl64.Vec3
}

func (r Ray) PointAt(t float64) mgl64.Vec3 {
	return r.Start.Add(r.Direction.Mul(t))
}

// ToLocal expresses the ray in the local space of cf. Distances are preserved.
func (r Ray) ToLocal(cf CFrame) Ray {
	return Ray{Start: cf.GlobalToLocal(r.Start), Direction: cf.RelativeToLocal(r.Direction)}
}
