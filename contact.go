package rigid

import (
	"math"

	"github.com/gekko3d/rigid/geom"
	"github.com/go-gl/mathgl/mgl64"
)

type contact struct {
	a, b   *Part
	ta, tb *MotorizedPhysical
	geom.Contact
}

// CombineCoefficients blends two parts' friction or bounciness values with
// their geometric mean.
func CombineCoefficients(a, b float64) float64 {
	return math.Sqrt(max(a, 0) * max(b, 0))
}

// findContacts runs the exact test on every broad phase candidate. Parts of
// one tree never collide with each other, neither do two anchored trees.
func (w *World) findContacts() []contact {
	var out []contact
	pairs := 0
	for a, b := range w.bounds.CandidateOverlaps() {
		pairs++
		ta, tb := a.owner.tree, b.owner.tree
		invariant(a.owner.Valid() && b.owner.Valid(), "broad phase holds a detached part")
		if ta == tb || (ta.anchored && tb.anchored) {
			continue
		}
		c, ok := a.Intersects(b)
		if !ok {
			continue
		}
		out = append(out, contact{a: a, b: b, ta: ta, tb: tb, Contact: c})
	}
	w.stats.CandidatePairs = pairs
	w.stats.Contacts = len(out)
	return out
}

// surfaceVelocity is the velocity of part's material at point, including the
// conveyor effect of anchored parts.
func surfaceVelocity(t *MotorizedPhysical, part *Part, point mgl64.Vec3) mgl64.Vec3 {
	v := t.PointVelocity(point)
	if t.anchored {
		v = v.Add(part.cframe.LocalToRelative(part.properties.ConveyorEffect))
	}
	return v
}

// resolveContact applies a normal impulse that removes the approaching
// velocity (scaled by bounciness), a Coulomb friction impulse, and pushes the
// trees apart by a share of the penetration.
func (w *World) resolveContact(c contact) {
	n := c.Normal()
	p := c.Point
	rA := p.Sub(c.ta.CenterOfMass())
	rB := p.Sub(c.tb.CenterOfMass())
	k := c.ta.ResponseMatrix(rA).Add(c.tb.ResponseMatrix(rB))

	relative := func() mgl64.Vec3 {
		return surfaceVelocity(c.ta, c.a, p).Sub(surfaceVelocity(c.tb, c.b, p))
	}

	if vn := relative().Dot(n); vn < 0 {
		if denom := n.Dot(k.Mul3x1(n)); denom > 1e-12 {
			e := CombineCoefficients(c.a.properties.Bounciness, c.b.properties.Bounciness)
			j := -(1 + e) * vn / denom
			impulse := n.Mul(j)
			c.ta.applyImpulse(rA, impulse)
			c.tb.applyImpulse(rB, impulse.Mul(-1))

			mu := CombineCoefficients(c.a.properties.Friction, c.b.properties.Friction)
			applyFriction(c, relative(), n, rA, rB, k, mu*j)
		}
	}
	w.separate(c, n)
}

func applyFriction(c contact, relative, n, rA, rB mgl64.Vec3, k mgl64.Mat3, limit float64) {
	if limit <= 0 {
		return
	}
	tangential := relative.Sub(n.Mul(relative.Dot(n)))
	speed := tangential.Len()
	if speed < 1e-9 {
		return
	}
	t := tangential.Mul(1 / speed)
	kt := t.Dot(k.Mul3x1(t))
	if kt <= 1e-12 {
		return
	}
	jt := min(speed/kt, limit)
	impulse := t.Mul(-jt)
	c.ta.applyImpulse(rA, impulse)
	c.tb.applyImpulse(rB, impulse.Mul(-1))
}

// separate splits a share of the penetration between the two trees by their
// inverse masses.
func (w *World) separate(c contact, n mgl64.Vec3) {
	invA, invB := inverseMass(c.ta), inverseMass(c.tb)
	sum := invA + invB
	if sum == 0 {
		return
	}
	push := c.Depth() * w.cfg.ContactCorrection / sum
	if invA > 0 {
		c.ta.translate(n.Mul(push * invA))
	}
	if invB > 0 {
		c.tb.translate(n.Mul(-push * invB))
	}
}

func inverseMass(t *MotorizedPhysical) float64 {
	if t.anchored || t.totalMass <= 0 {
		return 0
	}
	return 1 / t.totalMass
}
