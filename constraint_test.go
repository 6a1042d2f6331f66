package rigid

import (
	"math"
	"testing"

	"github.com/gekko3d/rigid/geom"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionInversion(t *testing.T) {
	conn := NewHardPhysicalConnection(
		&MotorConstraint{Angle: 0.4},
		geom.NewCFrame(mgl64.Vec3{0, 1, 0}, mgl64.QuatRotate(0.3, mgl64.Vec3{1, 0, 0})),
		geom.CFrameAt(2, 0, 0),
	)
	require.NoError(t, validateConnection(conn))

	inv := conn.Inverted()
	assert.True(t, inv.IsInverted())
	assert.Equal(t, conn.AttachOnChild, inv.AttachOnParent)
	assert.Equal(t, conn.AttachOnParent, inv.AttachOnChild)

	want := conn.RelativeCFrameToParent().Inverse()
	assert.True(t, want.ApproxEqual(inv.RelativeCFrameToParent(), 1e-12))

	back := inv.Inverted()
	assert.False(t, back.IsInverted())
	assert.True(t, conn.RelativeCFrameToParent().ApproxEqual(back.RelativeCFrameToParent(), 1e-12))
}

func TestMotorConstraint(t *testing.T) {
	motor := &MotorConstraint{Speed: math.Pi}
	motor.Update(0.5)
	assert.InDelta(t, math.Pi/2, motor.Angle, 1e-12)

	x := motor.RelativeCFrame().LocalToRelative(mgl64.Vec3{1, 0, 0})
	assertVec(t, mgl64.Vec3{0, 1, 0}, x)

	motor.Update(4)
	assert.Less(t, motor.Angle, 2*math.Pi)
	assert.InDelta(t, math.Pi/2, motor.Angle, 1e-9)

	assert.ErrorIs(t, (&MotorConstraint{Speed: math.Inf(1)}).Validate(), ErrInvalidConstraint)
}

func TestPistonConstraint(t *testing.T) {
	piston := &PistonConstraint{Min: -1, Max: 1, Speed: 1}
	for i := 0; i < 100; i++ {
		piston.Update(0.013)
		ext := piston.Extension()
		assert.GreaterOrEqual(t, ext, -1.0)
		assert.LessOrEqual(t, ext, 1.0)
		assertVec(t, mgl64.Vec3{0, 0, ext}, piston.RelativeCFrame().Position)
	}

	require.NoError(t, (&PistonConstraint{Min: 1, Max: 1}).Validate())
	assert.ErrorIs(t, (&PistonConstraint{Min: 2, Max: 1}).Validate(), ErrInvalidConstraint)
}

func TestFixedConstraintIsIdentity(t *testing.T) {
	c := &FixedConstraint{}
	c.Update(1)
	assert.Equal(t, geom.IdentityCFrame(), c.RelativeCFrame())
	require.NoError(t, c.Validate())
}
