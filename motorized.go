package rigid

import (
	"fmt"
	"iter"
	"math"
	"sync/atomic"

	"github.com/gekko3d/rigid/geom"
	"github.com/go-gl/mathgl/mgl64"
)

// Motion is the velocity of a tree's center of mass, in global axes.
type Motion struct {
	Velocity        mgl64.Vec3
	AngularVelocity mgl64.Vec3
}

// at returns the motion of the same rigid velocity field seen from point,
// given that m was measured at origin.
func (m Motion) at(origin, point mgl64.Vec3) Motion {
	return Motion{
		Velocity:        m.Velocity.Add(m.AngularVelocity.Cross(point.Sub(origin))),
		AngularVelocity: m.AngularVelocity,
	}
}

// MotorizedPhysical is a tree of physicals joined by hard constraints. It owns
// every node of the tree and the state of its main physical: the tree's
// aggregated mass, inertia and motion, and the forces gathered for the next
// tick.
//
// Aggregates are kept in the main physical's local space and refreshed after
// every structural change.
type MotorizedPhysical struct {
	nodes []*physicalNode
	free  []int32
	root  int32
	dead  bool
	world atomic.Pointer[World]

	anchored bool
	motion   Motion

	totalForce  mgl64.Vec3
	totalMoment mgl64.Vec3

	totalMass         float64
	totalCenterOfMass mgl64.Vec3
	totalInertia      mgl64.Mat3
	forceResponse     mgl64.Mat3
	momentResponse    mgl64.Mat3
}

// NewMotorizedPhysical makes a single node tree around main.
func NewMotorizedPhysical(main *Part) (*MotorizedPhysical, error) {
	if main == nil {
		return nil, structureErr("new physical", ErrPartNotFound)
	}
	if main.owner.Valid() {
		return nil, structureErr("new physical", ErrPartAlreadyOwned)
	}
	m := &MotorizedPhysical{root: noNode}
	m.root = m.allocNode(newRigidBody(main))
	m.refresh()
	return m, nil
}

func (m *MotorizedPhysical) logger() Logger {
	if m == nil {
		return NewNopLogger()
	}
	return m.world.Load().Logger()
}

// lock takes the lock of the world holding m, if any.
func (m *MotorizedPhysical) lock() (unlock func()) {
	return lockWorld(m.currentWorld)
}

func (m *MotorizedPhysical) currentWorld() *World {
	if m == nil {
		return nil
	}
	return m.world.Load()
}

// lockPair locks the world of whichever of a and b is in one. Trees of two
// different worlds are rejected by the caller.
func lockPair(a, b *MotorizedPhysical) (unlock func()) {
	return lockWorld(func() *World {
		if w := a.currentWorld(); w != nil {
			return w
		}
		return b.currentWorld()
	})
}

func (m *MotorizedPhysical) checkAccess() error {
	if m == nil || m.dead {
		return ErrInvalidPhysical
	}
	if w := m.world.Load(); w != nil {
		return w.checkAccess()
	}
	return nil
}

// writable reports whether motion may be changed right now.
func (m *MotorizedPhysical) writable() bool {
	if err := m.checkAccess(); err != nil {
		m.logger().Warnf("ignored motion change: %v", err)
		return false
	}
	return !m.anchored
}

func (m *MotorizedPhysical) rootNode() *physicalNode { return m.nodes[m.root] }

// Valid reports whether the tree still exists. Trees die when absorbed by
// AttachPhysical or when their last part is detached.
func (m *MotorizedPhysical) Valid() bool { return m != nil && !m.dead }

func (m *MotorizedPhysical) Main() Physical {
	if !m.Valid() {
		return Physical{}
	}
	return m.handle(m.root)
}

func (m *MotorizedPhysical) World() *World { return m.currentWorld() }

func (m *MotorizedPhysical) Anchored() bool { return m.anchored }

// SetAnchored pins the tree in place. Anchored trees are not integrated and
// act as infinitely heavy in contacts.
func (m *MotorizedPhysical) SetAnchored(anchored bool) error {
	defer m.lock()()
	if err := m.checkAccess(); err != nil {
		return structureErr("set anchored", err)
	}
	m.anchored = anchored
	if anchored {
		m.motion = Motion{}
		m.totalForce = mgl64.Vec3{}
		m.totalMoment = mgl64.Vec3{}
	}
	return nil
}

func (m *MotorizedPhysical) Motion() Motion { return m.motion }

func (m *MotorizedPhysical) SetMotion(motion Motion) {
	if !geom.IsFiniteVec(motion.Velocity) || !geom.IsFiniteVec(motion.AngularVelocity) {
		m.logger().Warnf("ignored non-finite motion %v", motion)
		return
	}
	defer m.lock()()
	if m.writable() {
		m.motion = motion
	}
}

func (m *MotorizedPhysical) CFrame() geom.CFrame {
	if !m.Valid() {
		return geom.IdentityCFrame()
	}
	return m.rootNode().body.CFrame()
}

func (m *MotorizedPhysical) TotalMass() float64 { return m.totalMass }

// TotalCenterOfMass is the tree's center of mass in the main physical's space.
func (m *MotorizedPhysical) TotalCenterOfMass() mgl64.Vec3 { return m.totalCenterOfMass }

// CenterOfMass is the tree's center of mass in global space.
func (m *MotorizedPhysical) CenterOfMass() mgl64.Vec3 {
	return m.CFrame().LocalToGlobal(m.totalCenterOfMass)
}

func (m *MotorizedPhysical) TotalForce() mgl64.Vec3  { return m.totalForce }
func (m *MotorizedPhysical) TotalMoment() mgl64.Vec3 { return m.totalMoment }

// ForceResponse maps a force at the center of mass to linear acceleration.
func (m *MotorizedPhysical) ForceResponse() mgl64.Mat3 { return m.forceResponse }

// MomentResponse maps a moment, in the main physical's axes, to angular
// acceleration in the same axes. It is zero when the inertia is singular.
func (m *MotorizedPhysical) MomentResponse() mgl64.Mat3 { return m.momentResponse }

// Inertia is the tree's inertia tensor about its center of mass, in global axes.
func (m *MotorizedPhysical) Inertia() mgl64.Mat3 {
	return geom.RotateTensor(m.CFrame().RotationMatrix(), m.totalInertia)
}

func (m *MotorizedPhysical) globalMomentResponse() mgl64.Mat3 {
	return geom.RotateTensor(m.CFrame().RotationMatrix(), m.momentResponse)
}

// Physicals yields every node, parents before children.
func (m *MotorizedPhysical) Physicals() iter.Seq[Physical] {
	return func(yield func(Physical) bool) {
		if !m.Valid() {
			return
		}
		var visit func(int32) bool
		visit = func(idx int32) bool {
			if !yield(m.handle(idx)) {
				return false
			}
			for _, c := range m.nodes[idx].children {
				if !visit(c) {
					return false
				}
			}
			return true
		}
		visit(m.root)
	}
}

// Parts yields every part of the tree.
func (m *MotorizedPhysical) Parts() iter.Seq[*Part] {
	return func(yield func(*Part) bool) {
		for ph := range m.Physicals() {
			for part := range ph.node().body.Parts() {
				if !yield(part) {
					return
				}
			}
		}
	}
}

func (m *MotorizedPhysical) PartCount() int {
	return m.Main().PartCount()
}

func (m *MotorizedPhysical) Bounds() geom.Bounds {
	var out geom.Bounds
	first := true
	for part := range m.Parts() {
		if first {
			out = part.Bounds()
			first = false
			continue
		}
		out = out.Union(part.Bounds())
	}
	return out
}

type aggregates struct {
	mass    float64
	com     mgl64.Vec3
	inertia mgl64.Mat3
}

// aggregate sums the mass distribution of every node in the main physical's space.
func (m *MotorizedPhysical) aggregate() aggregates {
	rootCF := m.CFrame()
	type entry struct {
		mass    float64
		com     mgl64.Vec3
		inertia mgl64.Mat3
	}
	var entries []entry
	m.walk(m.root, func(idx int32) {
		body := &m.nodes[idx].body
		rel := rootCF.GlobalToLocalFrame(body.CFrame())
		entries = append(entries, entry{
			mass:    body.Mass(),
			com:     rel.LocalToGlobal(body.LocalCenterOfMass()),
			inertia: geom.RotateTensor(rel.RotationMatrix(), body.Inertia()),
		})
	})

	var out aggregates
	var weighted, plain mgl64.Vec3
	for _, e := range entries {
		out.mass += e.mass
		weighted = weighted.Add(e.com.Mul(e.mass))
		plain = plain.Add(e.com)
	}
	out.com = plain.Mul(1 / float64(len(entries)))
	if out.mass > 0 {
		out.com = weighted.Mul(1 / out.mass)
	}
	for _, e := range entries {
		out.inertia = out.inertia.Add(geom.ParallelAxis(e.inertia, e.mass, e.com.Sub(out.com)))
	}
	return out
}

// Refresh re-derives every placement from the main physical and recomputes
// the aggregated mass properties. Calling it twice in a row changes nothing.
func (m *MotorizedPhysical) Refresh() {
	defer m.lock()()
	if m.Valid() {
		m.refresh()
	}
}

func (m *MotorizedPhysical) refresh() {
	m.propagate(m.root)
	agg := m.aggregate()
	m.totalMass = agg.mass
	m.totalCenterOfMass = agg.com
	m.totalInertia = agg.inertia
	m.forceResponse = mgl64.Mat3{}
	if agg.mass > 0 {
		m.forceResponse = mgl64.Ident3().Mul(1 / agg.mass)
	}
	var ok bool
	m.momentResponse, ok = geom.InverseOrZero(agg.inertia)
	if !ok {
		m.logger().Debugf("singular inertia (mass %v), moment response zeroed", agg.mass)
	}
	m.syncBounds()
}

// propagate places every descendant of idx from its parent and its connection.
func (m *MotorizedPhysical) propagate(idx int32) {
	nd := m.nodes[idx]
	cf := nd.body.CFrame()
	for _, c := range nd.children {
		child := m.nodes[c]
		child.body.setCFrame(cf.Mul(child.conn.RelativeCFrameToParent()))
		m.propagate(c)
	}
}

func (m *MotorizedPhysical) syncBounds() {
	w := m.world.Load()
	if w == nil {
		return
	}
	for part := range m.Parts() {
		w.updatePartBounds(part)
	}
}

// placementChanged re-derives placements after the main physical moved.
// Aggregates live in the main physical's space and stay valid.
func (m *MotorizedPhysical) placementChanged() {
	m.propagate(m.root)
	m.syncBounds()
}

func (m *MotorizedPhysical) setNodeCFrame(idx int32, cf geom.CFrame) {
	rel := m.nodes[idx].body.CFrame().GlobalToLocalFrame(m.CFrame())
	m.rootNode().body.setCFrame(cf.Mul(rel))
	m.placementChanged()
}

// ApplyForceAtCenterOfMass gathers a force for the next tick.
func (m *MotorizedPhysical) ApplyForceAtCenterOfMass(force mgl64.Vec3) {
	defer m.lock()()
	if m.writable() {
		m.applyForce(mgl64.Vec3{}, force)
	}
}

// ApplyForce gathers a force acting at origin, an offset from the center of mass.
func (m *MotorizedPhysical) ApplyForce(origin, force mgl64.Vec3) {
	defer m.lock()()
	if m.writable() {
		m.applyForce(origin, force)
	}
}

func (m *MotorizedPhysical) ApplyMoment(moment mgl64.Vec3) {
	defer m.lock()()
	if m.writable() {
		m.totalMoment = m.totalMoment.Add(moment)
	}
}

// ApplyImpulseAtCenterOfMass changes the velocity immediately.
func (m *MotorizedPhysical) ApplyImpulseAtCenterOfMass(impulse mgl64.Vec3) {
	defer m.lock()()
	if m.writable() {
		m.applyImpulse(mgl64.Vec3{}, impulse)
	}
}

// ApplyImpulse changes the motion immediately as if impulse hit at origin, an
// offset from the center of mass.
func (m *MotorizedPhysical) ApplyImpulse(origin, impulse mgl64.Vec3) {
	defer m.lock()()
	if m.writable() {
		m.applyImpulse(origin, impulse)
	}
}

func (m *MotorizedPhysical) ApplyAngularImpulse(angularImpulse mgl64.Vec3) {
	defer m.lock()()
	if m.writable() {
		m.motion.AngularVelocity = m.motion.AngularVelocity.Add(m.globalMomentResponse().Mul3x1(angularImpulse))
	}
}

// ApplyDragAtCenterOfMass moves the tree directly, by the displacement the
// same impulse would cause over one second.
func (m *MotorizedPhysical) ApplyDragAtCenterOfMass(drag mgl64.Vec3) {
	defer m.lock()()
	if m.writable() {
		m.translate(m.forceResponse.Mul3x1(drag))
	}
}

func (m *MotorizedPhysical) ApplyDrag(origin, drag mgl64.Vec3) {
	defer m.lock()()
	if m.writable() {
		m.applyDrag(origin, drag)
	}
}

func (m *MotorizedPhysical) ApplyAngularDrag(angularDrag mgl64.Vec3) {
	defer m.lock()()
	if m.writable() {
		m.applyAngularDrag(angularDrag)
	}
}

func (m *MotorizedPhysical) Translate(d mgl64.Vec3) {
	defer m.lock()()
	if m.checkAccess() == nil {
		m.translate(d)
	}
}

func (m *MotorizedPhysical) RotateAroundCenterOfMass(q mgl64.Quat) {
	defer m.lock()()
	if m.checkAccess() == nil {
		m.rotateAroundCenterOfMass(q)
	}
}

// The lower case variants below run with the world's lock already held, from
// a tick or from a public mutator.

func (m *MotorizedPhysical) applyForce(origin, force mgl64.Vec3) {
	m.totalForce = m.totalForce.Add(force)
	m.totalMoment = m.totalMoment.Add(origin.Cross(force))
}

// applyImpulse leaves anchored trees alone.
func (m *MotorizedPhysical) applyImpulse(origin, impulse mgl64.Vec3) {
	if m.anchored {
		return
	}
	m.motion.Velocity = m.motion.Velocity.Add(m.forceResponse.Mul3x1(impulse))
	m.motion.AngularVelocity = m.motion.AngularVelocity.Add(m.globalMomentResponse().Mul3x1(origin.Cross(impulse)))
}

func (m *MotorizedPhysical) applyDrag(origin, drag mgl64.Vec3) {
	m.applyAngularDrag(origin.Cross(drag))
	m.translate(m.forceResponse.Mul3x1(drag))
}

func (m *MotorizedPhysical) applyAngularDrag(angularDrag mgl64.Vec3) {
	if q, ok := geom.RotationFromVector(m.globalMomentResponse().Mul3x1(angularDrag)); ok {
		m.rotateAroundCenterOfMass(q)
	}
}

func (m *MotorizedPhysical) translate(d mgl64.Vec3) {
	if !geom.IsFiniteVec(d) {
		return
	}
	root := &m.rootNode().body
	root.setCFrame(root.CFrame().Translated(d))
	m.placementChanged()
}

func (m *MotorizedPhysical) rotateAroundCenterOfMass(q mgl64.Quat) {
	root := &m.rootNode().body
	cf := root.CFrame().RotatedAround(m.CenterOfMass(), q)
	if !cf.IsFinite() {
		return
	}
	root.setCFrame(cf)
	m.placementChanged()
}

// PointVelocity is the velocity of the tree's material at a global point.
func (m *MotorizedPhysical) PointVelocity(point mgl64.Vec3) mgl64.Vec3 {
	return m.motion.at(m.CenterOfMass(), point).Velocity
}

// ResponseMatrix maps an impulse at origin, an offset from the center of mass,
// to the velocity change of the material at that point.
func (m *MotorizedPhysical) ResponseMatrix(origin mgl64.Vec3) mgl64.Mat3 {
	if m.anchored {
		return mgl64.Mat3{}
	}
	skew := geom.Skew(origin)
	return m.forceResponse.Sub(skew.Mul3(m.globalMomentResponse()).Mul3(skew))
}

// InertiaOfPointInDirection is the effective mass felt when pushing the point
// at origin along direction. It is +Inf when the point does not respond at
// all, as for anchored trees, and for a zero or non-finite direction.
func (m *MotorizedPhysical) InertiaOfPointInDirection(origin, direction mgl64.Vec3) float64 {
	l := direction.Len()
	if !(l > 0) || math.IsInf(l, 0) {
		return math.Inf(1)
	}
	d := direction.Mul(1 / l)
	response := d.Dot(m.ResponseMatrix(origin).Mul3x1(d))
	if !(response > 0) {
		return math.Inf(1)
	}
	return 1 / response
}

func (m *MotorizedPhysical) VelocityKineticEnergy() float64 {
	return 0.5 * m.totalMass * m.motion.Velocity.LenSqr()
}

func (m *MotorizedPhysical) AngularKineticEnergy() float64 {
	w := m.motion.AngularVelocity
	return 0.5 * w.Dot(m.Inertia().Mul3x1(w))
}

func (m *MotorizedPhysical) KineticEnergy() float64 {
	return m.VelocityKineticEnergy() + m.AngularKineticEnergy()
}

// update advances the tree by dt: integrates gathered forces, steps every
// joint and re-derives placements. Non-finite results are dropped for the tick.
func (m *MotorizedPhysical) update(dt float64) {
	if !m.anchored {
		linear := m.forceResponse.Mul3x1(m.totalForce)
		angular := m.globalMomentResponse().Mul3x1(m.totalMoment)
		next := Motion{
			Velocity:        m.motion.Velocity.Add(linear.Mul(dt)),
			AngularVelocity: m.motion.AngularVelocity.Add(angular.Mul(dt)),
		}
		if geom.IsFiniteVec(next.Velocity) && geom.IsFiniteVec(next.AngularVelocity) {
			m.motion = next
		} else {
			m.logger().Debugf("non-finite acceleration, motion kept")
		}

		root := &m.rootNode().body
		cf := root.CFrame()
		if q, ok := geom.RotationFromVector(m.motion.AngularVelocity.Mul(dt)); ok {
			cf = cf.RotatedAround(m.CenterOfMass(), q)
		}
		cf = cf.Translated(m.motion.Velocity.Mul(dt))
		if cf.IsFinite() {
			root.setCFrame(cf)
		} else {
			m.logger().Debugf("non-finite placement, step skipped")
		}
	}
	m.totalForce = mgl64.Vec3{}
	m.totalMoment = mgl64.Vec3{}

	if !m.hasMovingJoints() {
		m.placementChanged()
		return
	}
	com := m.CenterOfMass()
	m.walk(m.root, func(idx int32) {
		if idx != m.root {
			m.nodes[idx].conn.Constraint.Update(dt)
		}
	})
	m.refresh()
	if !m.anchored {
		// joints move parts around, never the tree as a whole
		if shift := com.Sub(m.CenterOfMass()); shift.LenSqr() > 0 {
			root := &m.rootNode().body
			root.setCFrame(root.CFrame().Translated(shift))
			m.placementChanged()
		}
	}
}

func (m *MotorizedPhysical) hasMovingJoints() bool {
	for _, nd := range m.nodes {
		if !nd.live || nd.parent == noNode {
			continue
		}
		if _, fixed := nd.conn.Constraint.(*FixedConstraint); !fixed {
			return true
		}
	}
	return false
}

// Validate checks the tree's structure, placements and aggregates.
func (m *MotorizedPhysical) Validate() error {
	defer m.lock()()
	return m.validate()
}

func (m *MotorizedPhysical) validate() error {
	if !m.Valid() {
		return ErrInvalidPhysical
	}
	if m.root < 0 || int(m.root) >= len(m.nodes) || !m.nodes[m.root].live {
		return fmt.Errorf("rigid: main physical %d is not live", m.root)
	}
	if m.rootNode().parent != noNode {
		return fmt.Errorf("rigid: main physical %d has a parent", m.root)
	}

	reached := map[int32]bool{}
	var check func(idx int32) error
	check = func(idx int32) error {
		if reached[idx] {
			return fmt.Errorf("rigid: node %d reached twice", idx)
		}
		reached[idx] = true
		nd := m.nodes[idx]
		if !nd.live {
			return fmt.Errorf("rigid: node %d is linked but free", idx)
		}
		h := m.handle(idx)
		for part := range nd.body.Parts() {
			if part.owner != h {
				return fmt.Errorf("rigid: part %s of node %d has a stale owner", part.ID, idx)
			}
		}
		cf := nd.body.CFrame()
		for _, c := range nd.children {
			child := m.nodes[c]
			if child.parent != idx {
				return fmt.Errorf("rigid: node %d lists child %d whose parent is %d", idx, c, child.parent)
			}
			want := cf.Mul(child.conn.RelativeCFrameToParent())
			if !child.body.CFrame().ApproxEqual(want, 1e-6) {
				return fmt.Errorf("rigid: node %d is out of sync with its connection", c)
			}
			if err := check(c); err != nil {
				return err
			}
		}
		return nil
	}
	if err := check(m.root); err != nil {
		return err
	}
	live := 0
	for _, nd := range m.nodes {
		if nd.live {
			live++
		}
	}
	if live != len(reached) {
		return fmt.Errorf("rigid: %d live nodes but %d reachable", live, len(reached))
	}

	agg := m.aggregate()
	if !approx(agg.mass, m.totalMass, 1e-9) || !geom.ApproxEqualVec(agg.com, m.totalCenterOfMass, 1e-6) {
		return fmt.Errorf("rigid: stale aggregates: mass %v vs %v", m.totalMass, agg.mass)
	}
	return nil
}

func approx(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps*max(1, math.Abs(a), math.Abs(b))
}
