package rigid

import (
	"math"
	"sync/atomic"

	"github.com/gekko3d/rigid/geom"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

// PartProperties are the material properties of a part.
type PartProperties struct {
	Density    float64
	Friction   float64
	Bounciness float64
	// ConveyorEffect is a surface velocity in the part's local axes. It only
	// acts on parts touching this one while this part's tree is anchored.
	ConveyorEffect mgl64.Vec3
}

func DefaultPartProperties() PartProperties {
	return PartProperties{Density: 1, Friction: 0.5, Bounciness: 0.3}
}

// Part is one undecomposable solid. Once attached, its placement is owned by
// its rigid body and changes only through the owning tree.
type Part struct {
	ID   uuid.UUID
	Name string

	shape      geom.Shape
	cframe     geom.CFrame
	properties PartProperties

	owner Physical
	// world is set while the part sits in a world's broad phase.
	world atomic.Pointer[World]
}

func NewPart(shape geom.Shape, cframe geom.CFrame, properties PartProperties) *Part {
	return &Part{
		ID:         uuid.New(),
		shape:      shape,
		cframe:     cframe,
		properties: properties,
	}
}

func (p *Part) Shape() geom.Shape             { return p.shape }
func (p *Part) CFrame() geom.CFrame           { return p.cframe }
func (p *Part) Position() mgl64.Vec3          { return p.cframe.Position }
func (p *Part) Properties() PartProperties    { return p.properties }
func (p *Part) LocalBounds() geom.Bounds      { return p.shape.LocalBounds() }
func (p *Part) MaxRadius() float64            { return p.shape.MaxRadius() }
func (p *Part) LocalCenterOfMass() mgl64.Vec3 { return p.shape.CenterOfMass() }
func (p *Part) CenterOfMass() mgl64.Vec3      { return p.cframe.LocalToGlobal(p.shape.CenterOfMass()) }
func (p *Part) Bounds() geom.Bounds           { return p.shape.Bounds(p.cframe) }
func (p *Part) Mass() float64                 { return p.shape.Volume() * p.properties.Density }

// Inertia is the inertia tensor about the part's center of mass, in part axes.
func (p *Part) Inertia() mgl64.Mat3 {
	return p.shape.Inertia().Mul(p.properties.Density)
}

// Physical returns the node owning this part.
func (p *Part) Physical() (Physical, bool) {
	if !p.owner.Valid() {
		return Physical{}, false
	}
	return p.owner, true
}

func (p *Part) Anchored() bool {
	ph, ok := p.Physical()
	return ok && ph.tree.Anchored()
}

// Intersects runs the exact overlap test against other. The returned exit
// vector moves p out of other.
func (p *Part) Intersects(other *Part) (geom.Contact, bool) {
	return geom.Intersect(p.shape, p.cframe, other.shape, other.cframe)
}

// IntersectsRay returns the distance along the ray to the part's surface.
func (p *Part) IntersectsRay(ray geom.Ray) (float64, bool) {
	if _, hit := p.Bounds().IntersectsRay(ray); !hit {
		return 0, false
	}
	return p.shape.IntersectsRay(ray.ToLocal(p.cframe))
}

func (p *Part) lock() (unlock func()) {
	return lockWorld(p.world.Load)
}

// SetCFrame places the part. An attached part drags its whole tree along.
func (p *Part) SetCFrame(cf geom.CFrame) error {
	if !cf.IsFinite() {
		return structureErr("set part cframe", ErrInvalidCFrame)
	}
	cf = geom.NewCFrame(cf.Position, cf.Rotation)
	defer p.lock()()
	ph, ok := p.Physical()
	if !ok {
		p.cframe = cf
		return nil
	}
	if err := ph.tree.checkAccess(); err != nil {
		return structureErr("set part cframe", err)
	}
	att, _ := ph.node().body.attachmentOf(p)
	ph.tree.setNodeCFrame(ph.index, cf.Mul(att.Inverse()))
	return nil
}

// SetProperties changes the part's material. Mass properties of the owning
// tree are refreshed.
func (p *Part) SetProperties(props PartProperties) error {
	if props.Density < 0 || math.IsNaN(props.Density) || math.IsInf(props.Density, 0) {
		return structureErr("set part properties", ErrInvalidProperties)
	}
	defer p.lock()()
	ph, ok := p.Physical()
	if ok {
		if err := ph.tree.checkAccess(); err != nil {
			return structureErr("set part properties", err)
		}
	}
	p.properties = props
	if ok {
		ph.notifyPartPropertiesChanged()
	}
	return nil
}

// Scale stretches the part's shape along its local axes.
func (p *Part) Scale(x, y, z float64) error {
	for _, f := range [3]float64{x, y, z} {
		if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
			return structureErr("scale part", ErrInvalidScale)
		}
	}
	defer p.lock()()
	ph, ok := p.Physical()
	if ok {
		if err := ph.tree.checkAccess(); err != nil {
			return structureErr("scale part", err)
		}
	}
	p.shape = p.shape.Scaled(x, y, z)
	if ok {
		ph.notifyPartPropertiesChanged()
	}
	return nil
}
