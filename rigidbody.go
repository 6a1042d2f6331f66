package rigid

import (
	"iter"
	"slices"

	"github.com/gekko3d/rigid/geom"
	"github.com/go-gl/mathgl/mgl64"
)

// AttachedPart is a part welded to a rigid body's main part.
type AttachedPart struct {
	Part *Part
	// Attachment is the part's placement in the main part's local space.
	Attachment geom.CFrame
}

// RigidBody is a set of parts that never move relative to each other. The main
// part's placement is the body's placement.
type RigidBody struct {
	mainPart *Part
	parts    []AttachedPart

	mass              float64
	localCenterOfMass mgl64.Vec3
	inertia           mgl64.Mat3
}

func newRigidBody(main *Part) RigidBody {
	b := RigidBody{mainPart: main}
	b.refresh()
	return b
}

func (b *RigidBody) MainPart() *Part     { return b.mainPart }
func (b *RigidBody) CFrame() geom.CFrame { return b.mainPart.cframe }
func (b *RigidBody) PartCount() int      { return len(b.parts) + 1 }
func (b *RigidBody) Mass() float64       { return b.mass }

// LocalCenterOfMass is given in the main part's local space.
func (b *RigidBody) LocalCenterOfMass() mgl64.Vec3 { return b.localCenterOfMass }

func (b *RigidBody) CenterOfMass() mgl64.Vec3 {
	return b.CFrame().LocalToGlobal(b.localCenterOfMass)
}

// Inertia is taken about the body's center of mass, in main part axes.
func (b *RigidBody) Inertia() mgl64.Mat3 { return b.inertia }

// AttachedParts returns every part except the main part, in attach order.
func (b *RigidBody) AttachedParts() []AttachedPart {
	return slices.Clone(b.parts)
}

// Parts yields the main part first, then the attached parts in attach order.
func (b *RigidBody) Parts() iter.Seq[*Part] {
	return func(yield func(*Part) bool) {
		if !yield(b.mainPart) {
			return
		}
		for _, ap := range b.parts {
			if !yield(ap.Part) {
				return
			}
		}
	}
}

func (b *RigidBody) Bounds() geom.Bounds {
	out := b.mainPart.Bounds()
	for _, ap := range b.parts {
		out = out.Union(ap.Part.Bounds())
	}
	return out
}

func (b *RigidBody) contains(p *Part) bool {
	_, ok := b.attachmentOf(p)
	return ok
}

func (b *RigidBody) attachmentOf(p *Part) (geom.CFrame, bool) {
	if p == b.mainPart {
		return geom.IdentityCFrame(), true
	}
	for _, ap := range b.parts {
		if ap.Part == p {
			return ap.Attachment, true
		}
	}
	return geom.IdentityCFrame(), false
}

func (b *RigidBody) setCFrame(cf geom.CFrame) {
	b.mainPart.cframe = cf
	for _, ap := range b.parts {
		ap.Part.cframe = cf.Mul(ap.Attachment)
	}
}

func (b *RigidBody) attach(p *Part, attachment geom.CFrame) {
	b.parts = append(b.parts, AttachedPart{Part: p, Attachment: attachment})
	p.cframe = b.CFrame().Mul(attachment)
	b.refresh()
}

// detach removes p, promoting the first attached part when p is the main part.
// The last part cannot be detached.
func (b *RigidBody) detach(p *Part) bool {
	if len(b.parts) == 0 {
		return false
	}
	if p == b.mainPart {
		b.makeMainPart(b.parts[0].Part)
	}
	i := slices.IndexFunc(b.parts, func(ap AttachedPart) bool { return ap.Part == p })
	if i < 0 {
		return false
	}
	b.parts = slices.Delete(b.parts, i, i+1)
	b.refresh()
	return true
}

// makeMainPart rebases every attachment on p. Global placements are unchanged.
func (b *RigidBody) makeMainPart(p *Part) bool {
	if p == b.mainPart {
		return true
	}
	i := slices.IndexFunc(b.parts, func(ap AttachedPart) bool { return ap.Part == p })
	if i < 0 {
		return false
	}
	inv := b.parts[i].Attachment.Inverse()
	old := b.mainPart
	for j := range b.parts {
		if j == i {
			b.parts[j] = AttachedPart{Part: old, Attachment: inv}
			continue
		}
		b.parts[j].Attachment = inv.Mul(b.parts[j].Attachment)
	}
	b.mainPart = p
	b.refresh()
	return true
}

func (b *RigidBody) refresh() {
	type massPoint struct {
		mass    float64
		com     mgl64.Vec3
		inertia mgl64.Mat3
	}
	points := make([]massPoint, 0, b.PartCount())
	add := func(p *Part, att geom.CFrame) {
		points = append(points, massPoint{
			mass:    p.Mass(),
			com:     att.LocalToGlobal(p.LocalCenterOfMass()),
			inertia: geom.RotateTensor(att.RotationMatrix(), p.Inertia()),
		})
	}
	add(b.mainPart, geom.IdentityCFrame())
	for _, ap := range b.parts {
		add(ap.Part, ap.Attachment)
	}

	var total float64
	var weighted, plain mgl64.Vec3
	for _, mp := range points {
		total += mp.mass
		weighted = weighted.Add(mp.com.Mul(mp.mass))
		plain = plain.Add(mp.com)
	}
	com := plain.Mul(1 / float64(len(points)))
	if total > 0 {
		com = weighted.Mul(1 / total)
	}

	var inertia mgl64.Mat3
	for _, mp := range points {
		inertia = inertia.Add(geom.ParallelAxis(mp.inertia, mp.mass, mp.com.Sub(com)))
	}
	b.mass = total
	b.localCenterOfMass = com
	b.inertia = inertia
}
