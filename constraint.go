package rigid

import (
	"fmt"
	"math"

	"github.com/gekko3d/rigid/geom"
	"github.com/go-gl/mathgl/mgl64"
)

// HardConstraint is a joint whose state fully determines the placement of the
// child attachment frame relative to the parent attachment frame.
type HardConstraint interface {
	RelativeCFrame() geom.CFrame
	// Update advances the joint's internal state by dt seconds.
	Update(dt float64)
	Validate() error
}

// FixedConstraint welds the two attachment frames together.
type FixedConstraint struct{}

func (*FixedConstraint) RelativeCFrame() geom.CFrame { return geom.IdentityCFrame() }
func (*FixedConstraint) Update(dt float64)           {}
func (*FixedConstraint) Validate() error             { return nil }

// MotorConstraint spins the child around the parent attachment's Z axis at a
// constant angular speed.
type MotorConstraint struct {
	Speed float64 // rad/s
	Angle float64
}

func (c *MotorConstraint) RelativeCFrame() geom.CFrame {
	return geom.CFrame{Rotation: mgl64.QuatRotate(c.Angle, mgl64.Vec3{0, 0, 1})}
}

func (c *MotorConstraint) Update(dt float64) {
	c.Angle = math.Mod(c.Angle+c.Speed*dt, 2*math.Pi)
}

func (c *MotorConstraint) Validate() error {
	if !finite(c.Speed) || !finite(c.Angle) {
		return fmt.Errorf("%w: motor speed %v angle %v", ErrInvalidConstraint, c.Speed, c.Angle)
	}
	return nil
}

// PistonConstraint slides the child back and forth along the parent
// attachment's Z axis between Min and Max.
type PistonConstraint struct {
	Min, Max float64
	Speed    float64 // cycles per second
	phase    float64
}

func (c *PistonConstraint) Extension() float64 {
	mid := (c.Min + c.Max) / 2
	amp := (c.Max - c.Min) / 2
	return mid + amp*math.Sin(c.phase)
}

func (c *PistonConstraint) RelativeCFrame() geom.CFrame {
	return geom.CFrame{Position: mgl64.Vec3{0, 0, c.Extension()}, Rotation: mgl64.QuatIdent()}
}

func (c *PistonConstraint) Update(dt float64) {
	c.phase = math.Mod(c.phase+2*math.Pi*c.Speed*dt, 2*math.Pi)
}

func (c *PistonConstraint) Validate() error {
	if !finite(c.Min) || !finite(c.Max) || !finite(c.Speed) || c.Min > c.Max {
		return fmt.Errorf("%w: piston range [%v, %v] speed %v", ErrInvalidConstraint, c.Min, c.Max, c.Speed)
	}
	return nil
}

// HardPhysicalConnection joins a child physical to its parent.
// The child's placement is parent.CFrame().Mul(RelativeCFrameToParent()).
type HardPhysicalConnection struct {
	Constraint HardConstraint
	// AttachOnChild and AttachOnParent are the joint frames in the child's and
	// the parent's main part space.
	AttachOnChild  geom.CFrame
	AttachOnParent geom.CFrame
	inverted       bool
}

func NewHardPhysicalConnection(constraint HardConstraint, attachOnChild, attachOnParent geom.CFrame) HardPhysicalConnection {
	return HardPhysicalConnection{
		Constraint:     constraint,
		AttachOnChild:  attachOnChild,
		AttachOnParent: attachOnParent,
	}
}

// IsInverted reports whether the constraint is applied from child to parent.
func (c HardPhysicalConnection) IsInverted() bool { return c.inverted }

func (c HardPhysicalConnection) RelativeCFrameToParent() geom.CFrame {
	rel := c.Constraint.RelativeCFrame()
	if c.inverted {
		rel = rel.Inverse()
	}
	return c.AttachOnParent.Mul(rel).Mul(c.AttachOnChild.Inverse())
}

// Inverted describes the same joint seen from the other side: the parent
// becomes the child.
func (c HardPhysicalConnection) Inverted() HardPhysicalConnection {
	return HardPhysicalConnection{
		Constraint:     c.Constraint,
		AttachOnChild:  c.AttachOnParent,
		AttachOnParent: c.AttachOnChild,
		inverted:       !c.inverted,
	}
}

func validateConnection(c HardPhysicalConnection) error {
	if c.Constraint == nil {
		return fmt.Errorf("%w: nil constraint", ErrInvalidConstraint)
	}
	if err := c.Constraint.Validate(); err != nil {
		return err
	}
	if !c.AttachOnChild.IsFinite() || !c.AttachOnParent.IsFinite() {
		return fmt.Errorf("%w: attachment", ErrInvalidCFrame)
	}
	if !c.RelativeCFrameToParent().IsFinite() {
		return fmt.Errorf("%w: degenerate relative cframe", ErrInvalidConstraint)
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
