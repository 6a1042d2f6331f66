package rigid

import (
	"math"
	"testing"

	"github.com/gekko3d/rigid/geom"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoBoxTree is a unit box at the origin with a second unit box welded one
// unit along +X: mass 2, center of mass (0.5, 0, 0).
func twoBoxTree(t *testing.T) (*MotorizedPhysical, *Part) {
	t.Helper()
	root := newBoxPart(0, 0, 0)
	m := newTree(t, root)
	weld(t, m.Main(), newBoxPart(0, 0, 0), geom.CFrameAt(1, 0, 0))
	return m, root
}

func TestAggregates(t *testing.T) {
	m, _ := twoBoxTree(t)

	assert.InDelta(t, 2.0, m.TotalMass(), 1e-12)
	assertVec(t, mgl64.Vec3{0.5, 0, 0}, m.TotalCenterOfMass())
	assert.InDelta(t, 0.5, m.ForceResponse().At(0, 0), 1e-12)

	// two unit cubes: 2 * (1/6) + 2 * 0.25 about Y and Z, 2 * (1/6) about X
	inertia := m.Inertia()
	assert.InDelta(t, 1.0/3, inertia.At(0, 0), 1e-9)
	assert.InDelta(t, 1.0/3+0.5, inertia.At(1, 1), 1e-9)
	assert.InDelta(t, 1.0/3+0.5, inertia.At(2, 2), 1e-9)
	assert.InDelta(t, 2.0, m.InertiaOfPointInDirection(mgl64.Vec3{}, mgl64.Vec3{0, 3, 0}), 1e-9)
}

func TestInertiaOfPointInDegenerateDirection(t *testing.T) {
	m, _ := twoBoxTree(t)
	assert.True(t, math.IsInf(m.InertiaOfPointInDirection(mgl64.Vec3{}, mgl64.Vec3{}), 1))
	assert.True(t, math.IsInf(m.InertiaOfPointInDirection(mgl64.Vec3{}, mgl64.Vec3{math.NaN(), 0, 0}), 1))

	require.NoError(t, m.SetAnchored(true))
	assert.True(t, math.IsInf(m.InertiaOfPointInDirection(mgl64.Vec3{}, mgl64.Vec3{0, 1, 0}), 1))
}

func TestRefreshIsIdempotent(t *testing.T) {
	m, _ := twoBoxTree(t)
	m.Refresh()
	mass, com, inertia := m.TotalMass(), m.TotalCenterOfMass(), m.Inertia()
	placements := map[*Part]geom.CFrame{}
	for part := range m.Parts() {
		placements[part] = part.CFrame()
	}

	m.Refresh()
	assert.Equal(t, mass, m.TotalMass())
	assert.Equal(t, com, m.TotalCenterOfMass())
	assert.Equal(t, inertia, m.Inertia())
	for part := range m.Parts() {
		assert.Equal(t, placements[part], part.CFrame())
	}
}

func TestForceAtCenterOfMass(t *testing.T) {
	m, _ := twoBoxTree(t)
	force := mgl64.Vec3{0, 10, 0}

	m.ApplyForceAtCenterOfMass(force)
	m.update(0.1)

	assertVec(t, mgl64.Vec3{0, 0.5, 0}, m.Motion().Velocity)
	assertVec(t, mgl64.Vec3{}, m.Motion().AngularVelocity)
	assertVec(t, mgl64.Vec3{}, m.TotalForce())
	assertVec(t, mgl64.Vec3{0.5, 0.05, 0}, m.CenterOfMass())
	require.NoError(t, m.Validate())
}

func TestForceOffCenterProducesTorque(t *testing.T) {
	m, root := twoBoxTree(t)
	force := mgl64.Vec3{0, 10, 0}

	m.Main().ApplyForce(root.CenterOfMass(), force)
	assertVec(t, force, m.TotalForce())
	assertVec(t, mgl64.Vec3{0, 0, -5}, m.TotalMoment())

	m.update(0.1)
	assertVec(t, mgl64.Vec3{0, 0.5, 0}, m.Motion().Velocity)
	assert.Less(t, m.Motion().AngularVelocity.Z(), 0.0)
	assert.InDelta(t, 0, m.Motion().AngularVelocity.X(), 1e-12)
}

func TestImpulsesActImmediately(t *testing.T) {
	m, _ := twoBoxTree(t)

	m.ApplyImpulseAtCenterOfMass(mgl64.Vec3{4, 0, 0})
	assertVec(t, mgl64.Vec3{2, 0, 0}, m.Motion().Velocity)
	assert.InDelta(t, 4.0, m.VelocityKineticEnergy(), 1e-12)

	m.ApplyAngularImpulse(mgl64.Vec3{1.0 / 3, 0, 0})
	assertVec(t, mgl64.Vec3{1, 0, 0}, m.Motion().AngularVelocity)
	assert.InDelta(t, 1.0/6, m.AngularKineticEnergy(), 1e-9)
	assert.InDelta(t, 4+1.0/6, m.KineticEnergy(), 1e-9)

	v := m.PointVelocity(mgl64.Vec3{0.5, 1, 0})
	assertVec(t, mgl64.Vec3{2, 0, 1}, v)
}

func TestDragMovesDirectly(t *testing.T) {
	m, root := twoBoxTree(t)

	m.ApplyDragAtCenterOfMass(mgl64.Vec3{0, 2, 0})
	assertVec(t, mgl64.Vec3{0, 1, 0}, root.Position())
	assertVec(t, mgl64.Vec3{}, m.Motion().Velocity)

	m.Translate(mgl64.Vec3{0, -1, 0})
	m.RotateAroundCenterOfMass(mgl64.QuatRotate(math.Pi, mgl64.Vec3{0, 1, 0}))
	assertVec(t, mgl64.Vec3{1, 0, 0}, root.Position())
	assertVec(t, mgl64.Vec3{0.5, 0, 0}, m.CenterOfMass())
	require.NoError(t, m.Validate())
}

func TestMovingJointKeepsCenterOfMass(t *testing.T) {
	m := newTree(t, newBoxPart(0, 0, 0))
	armPart := newBoxPart(0, 0, 0)
	_, err := m.Main().AttachPhysical(newTree(t, armPart).Main(), &MotorConstraint{Speed: 2},
		geom.CFrameAt(2, 0, 0), geom.CFrameAt(-1, 0, 0))
	require.NoError(t, err)
	assertVec(t, mgl64.Vec3{3, 0, 0}, armPart.Position())

	com := m.CenterOfMass()
	start := armPart.Position()
	for i := 0; i < 20; i++ {
		m.update(0.05)
		require.NoError(t, m.Validate())
	}

	assert.True(t, geom.ApproxEqualVec(com, m.CenterOfMass(), 1e-9), "center of mass drifted to %v", m.CenterOfMass())
	assert.Greater(t, armPart.Position().Sub(start).Len(), 0.1)
}

func TestPistonExtends(t *testing.T) {
	m := newTree(t, newBoxPart(0, 0, 0))
	piston := &PistonConstraint{Min: 1, Max: 3, Speed: 0.25}
	rod := newBoxPart(0, 0, 0)
	_, err := m.Main().AttachPhysical(newTree(t, rod).Main(), piston, geom.IdentityCFrame(), geom.IdentityCFrame())
	require.NoError(t, err)

	gap := func() float64 { return rod.Position().Sub(m.Main().CFrame().Position).Len() }
	assert.InDelta(t, 2.0, gap(), 1e-9)

	// a quarter cycle reaches full extension
	m.update(1)
	assert.InDelta(t, 3.0, piston.Extension(), 1e-9)
	assert.InDelta(t, 3.0, gap(), 1e-9)
	require.NoError(t, m.Validate())
}

func TestAnchoredTreeIgnoresMotion(t *testing.T) {
	m, root := twoBoxTree(t)
	require.NoError(t, m.SetAnchored(true))

	m.ApplyForceAtCenterOfMass(mgl64.Vec3{0, 100, 0})
	m.ApplyImpulse(mgl64.Vec3{1, 0, 0}, mgl64.Vec3{0, 100, 0})
	m.SetMotion(Motion{Velocity: mgl64.Vec3{1, 0, 0}})
	m.update(0.1)

	assertVec(t, mgl64.Vec3{}, root.Position())
	assert.Equal(t, Motion{}, m.Motion())
	assert.Equal(t, mgl64.Mat3{}, m.ResponseMatrix(mgl64.Vec3{1, 0, 0}))
	assert.True(t, root.Anchored())
}

func TestNonFiniteInputsAreDropped(t *testing.T) {
	m, root := twoBoxTree(t)
	m.SetMotion(Motion{Velocity: mgl64.Vec3{math.NaN(), 0, 0}})
	assert.Equal(t, Motion{}, m.Motion())

	m.Translate(mgl64.Vec3{math.Inf(1), 0, 0})
	assertVec(t, mgl64.Vec3{}, root.Position())

	m.ApplyForceAtCenterOfMass(mgl64.Vec3{math.Inf(1), 0, 0})
	m.update(0.1)
	assert.Equal(t, Motion{}, m.Motion())
	assertVec(t, mgl64.Vec3{}, root.Position())
	require.NoError(t, m.Validate())
}

func TestZeroMassTree(t *testing.T) {
	props := DefaultPartProperties()
	props.Density = 0
	ghost := NewPart(geom.NewSphere(1), geom.CFrameAt(0, 0, 0), props)
	m := newTree(t, ghost)

	assert.Equal(t, 0.0, m.TotalMass())
	assert.Equal(t, mgl64.Mat3{}, m.ForceResponse())
	assert.Equal(t, mgl64.Mat3{}, m.MomentResponse())

	m.ApplyForceAtCenterOfMass(mgl64.Vec3{0, 10, 0})
	m.update(0.1)
	assertVec(t, mgl64.Vec3{}, ghost.Position())
	require.NoError(t, m.Validate())
}

func TestPartChangesRefreshTree(t *testing.T) {
	m, root := twoBoxTree(t)

	require.NoError(t, root.Scale(2, 1, 1))
	assert.InDelta(t, 3.0, m.TotalMass(), 1e-12)
	assert.ErrorIs(t, root.Scale(0, 1, 1), ErrInvalidScale)

	props := root.Properties()
	props.Density = 2
	require.NoError(t, root.SetProperties(props))
	assert.InDelta(t, 5.0, m.TotalMass(), 1e-12)

	props.Density = -1
	assert.ErrorIs(t, root.SetProperties(props), ErrInvalidProperties)
	assert.InDelta(t, 5.0, m.TotalMass(), 1e-12)
	require.NoError(t, m.Validate())
}

func TestSetCFrameOfAttachedPartMovesTree(t *testing.T) {
	main := newBoxPart(0, 0, 0)
	m := newTree(t, main)
	side := newBoxPart(0, 0, 0)
	require.NoError(t, m.Main().AttachPart(side, geom.CFrameAt(1, 0, 0)))
	childPart := newBoxPart(0, 0, 0)
	weld(t, m.Main(), childPart, geom.CFrameAt(0, 2, 0))

	require.NoError(t, side.SetCFrame(geom.CFrameAt(5, 5, 5)))
	assertVec(t, mgl64.Vec3{5, 5, 5}, side.Position())
	assertVec(t, mgl64.Vec3{4, 5, 5}, main.Position())
	assertVec(t, mgl64.Vec3{4, 7, 5}, childPart.Position())

	require.NoError(t, childPart.SetCFrame(geom.CFrameAt(0, 0, 0)))
	assertVec(t, mgl64.Vec3{0, -2, 0}, main.Position())

	assert.ErrorIs(t, main.SetCFrame(geom.CFrame{}), ErrInvalidCFrame)
	require.NoError(t, m.Validate())
}
