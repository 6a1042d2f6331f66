package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Contact describes an overlap between two placed shapes A and B.
// ExitVector is the smallest translation of A that separates it from B,
// so it points from B towards A and its length is the penetration depth.
type Contact struct {
	Point      mgl64.Vec3
	ExitVector mgl64.Vec3
}

func (c Contact) Depth() float64 { return c.ExitVector.Len() }

// Normal is the unit exit direction, or +Y when the exit vector is degenerate.
func (c Contact) Normal() mgl64.Vec3 {
	l := c.ExitVector.Len()
	if l < 1e-12 {
		return mgl64.Vec3{0, 1, 0}
	}
	return c.ExitVector.Mul(1 / l)
}

// Intersect performs the exact overlap test between a placed at af and b placed at bf.
// Shapes without a dedicated routine are approximated by their bounding spheres.
func Intersect(a Shape, af CFrame, b Shape, bf CFrame) (Contact, bool) {
	switch sa := a.(type) {
	case Box:
		switch sb := b.(type) {
		case Box:
			return boxBox(sa, af, sb, bf)
		case Sphere:
			c, ok := sphereBox(sb, bf, sa, af)
			c.ExitVector = c.ExitVector.Mul(-1)
			return c, ok
		}
	case Sphere:
		switch sb := b.(type) {
		case Sphere:
			return sphereSphere(af.Position, sa.Radius, bf.Position, sb.Radius)
		case Box:
			return sphereBox(sa, af, sb, bf)
		}
	}
	return sphereSphere(
		af.LocalToGlobal(a.CenterOfMass()), a.MaxRadius(),
		bf.LocalToGlobal(b.CenterOfMass()), b.MaxRadius(),
	)
}

func sphereSphere(ca mgl64.Vec3, ra float64, cb mgl64.Vec3, rb float64) (Contact, bool) {
	d := ca.Sub(cb)
	dist := d.Len()
	depth := ra + rb - dist
	if depth <= 0 {
		return Contact{}, false
	}
	n := mgl64.Vec3{0, 1, 0}
	if dist > 1e-12 {
		n = d.Mul(1 / dist)
	}
	return Contact{
		Point:      cb.Add(n.Mul(rb - depth/2)),
		ExitVector: n.Mul(depth),
	}, true
}

func sphereBox(s Sphere, sf CFrame, b Box, bf CFrame) (Contact, bool) {
	h := b.HalfExtents
	local := bf.GlobalToLocal(sf.Position)
	closest := mgl64.Vec3{
		mgl64.Clamp(local[0], -h[0], h[0]),
		mgl64.Clamp(local[1], -h[1], h[1]),
		mgl64.Clamp(local[2], -h[2], h[2]),
	}
	diff := local.Sub(closest)
	d2 := diff.LenSqr()
	if d2 >= s.Radius*s.Radius {
		return Contact{}, false
	}

	var nLocal mgl64.Vec3
	var depth float64
	if d2 > 1e-24 {
		dist := math.Sqrt(d2)
		nLocal = diff.Mul(1 / dist)
		depth = s.Radius - dist
	} else {
		// center inside the box: leave through the nearest face
		axis := 0
		best := math.Inf(1)
		for i := 0; i < 3; i++ {
			if gap := h[i] - math.Abs(local[i]); gap < best {
				best = gap
				axis = i
			}
		}
		sign := 1.0
		if local[axis] < 0 {
			sign = -1
		}
		nLocal[axis] = sign
		closest[axis] = sign * h[axis]
		depth = s.Radius + best
	}

	n := bf.LocalToRelative(nLocal)
	return Contact{
		Point:      bf.LocalToGlobal(closest),
		ExitVector: n.Mul(depth),
	}, true
}

func boxAxes(cf CFrame) [3]mgl64.Vec3 {
	rot := cf.RotationMatrix()
	return [3]mgl64.Vec3{rot.Col(0), rot.Col(1), rot.Col(2)}
}

// boxBox is a separating axis test over the 15 candidate axes of two boxes.
func boxBox(a Box, af CFrame, b Box, bf CFrame) (Contact, bool) {
	axesA := boxAxes(af)
	axesB := boxAxes(bf)
	L := bf.Position.Sub(af.Position)

	testAxes := make([]mgl64.Vec3, 0, 15)
	for i := 0; i < 3; i++ {
		testAxes = append(testAxes, axesA[i], axesB[i])
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			cross := axesA[i].Cross(axesB[j])
			if cross.LenSqr() > 1e-10 {
				testAxes = append(testAxes, cross.Normalize())
			}
		}
	}

	minOverlap := math.Inf(1)
	var normal mgl64.Vec3
	for _, axis := range testAxes {
		overlap := projectedOverlap(a.HalfExtents, axesA, b.HalfExtents, axesB, axis, L)
		if overlap <= 0 {
			return Contact{}, false
		}
		if overlap < minOverlap {
			minOverlap = overlap
			normal = axis
		}
	}

	// point the normal from B to A
	if L.Dot(normal) > 0 {
		normal = normal.Mul(-1)
	}

	return Contact{
		Point:      boxContactPoint(a, af, axesA, b, bf, axesB),
		ExitVector: normal.Mul(minOverlap),
	}, true
}

func projectedOverlap(ha mgl64.Vec3, axesA [3]mgl64.Vec3, hb mgl64.Vec3, axesB [3]mgl64.Vec3, axis, L mgl64.Vec3) float64 {
	projA := 0.0
	projB := 0.0
	for i := 0; i < 3; i++ {
		projA += math.Abs(axesA[i].Dot(axis)) * ha[i]
		projB += math.Abs(axesB[i].Dot(axis)) * hb[i]
	}
	return projA + projB - math.Abs(L.Dot(axis))
}

// boxContactPoint averages the corners of each box found inside the other.
func boxContactPoint(a Box, af CFrame, axesA [3]mgl64.Vec3, b Box, bf CFrame, axesB [3]mgl64.Vec3) mgl64.Vec3 {
	var sum mgl64.Vec3
	count := 0
	for _, p := range boxCorners(af, a.HalfExtents) {
		if pointInBox(p, bf.Position, axesB, b.HalfExtents) {
			sum = sum.Add(p)
			count++
		}
	}
	for _, p := range boxCorners(bf, b.HalfExtents) {
		if pointInBox(p, af.Position, axesA, a.HalfExtents) {
			sum = sum.Add(p)
			count++
		}
	}
	if count == 0 {
		// edge-edge contact
		return af.Position.Add(bf.Position).Mul(0.5)
	}
	return sum.Mul(1 / float64(count))
}

func boxCorners(cf CFrame, h mgl64.Vec3) [8]mgl64.Vec3 {
	corners := BoundsAround(mgl64.Vec3{}, h).Corners()
	for i := range corners {
		corners[i] = cf.LocalToGlobal(corners[i])
	}
	return corners
}

func pointInBox(p, center mgl64.Vec3, axes [3]mgl64.Vec3, h mgl64.Vec3) bool {
	d := p.Sub(center)
	for i := 0; i < 3; i++ {
		if math.Abs(d.Dot(axes[i])) > h[i]+1e-9 {
			return false
		}
	}
	return true
}
