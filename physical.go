package rigid

import (
	"fmt"
	"iter"
	"slices"

	"github.com/gekko3d/rigid/geom"
	"github.com/go-gl/mathgl/mgl64"
)

type Role uint8

const (
	// RoleMotorized marks the main physical of a tree. It carries the tree's
	// aggregated mass and motion.
	RoleMotorized Role = iota
	// RoleConnected marks every other node. It has exactly one parent.
	RoleConnected
)

func (r Role) String() string {
	switch r {
	case RoleMotorized:
		return "motorized"
	case RoleConnected:
		return "connected"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

const noNode int32 = -1

type physicalNode struct {
	gen  uint32
	live bool

	body     RigidBody
	parent   int32
	children []int32
	// conn joins this node to parent; unused on the main physical.
	conn HardPhysicalConnection
}

// Physical is a handle to one node of a physical tree. Handles are checked
// against the node's generation, so a handle kept across a structural change
// that moved or removed its node reports Valid() == false.
type Physical struct {
	tree  *MotorizedPhysical
	index int32
	gen   uint32
}

func (p Physical) Valid() bool {
	if p.tree == nil || p.tree.dead || p.index < 0 || int(p.index) >= len(p.tree.nodes) {
		return false
	}
	n := p.tree.nodes[p.index]
	return n.live && n.gen == p.gen
}

func (p Physical) node() *physicalNode { return p.tree.nodes[p.index] }

func (p Physical) check() error {
	if !p.Valid() {
		return ErrInvalidPhysical
	}
	return p.tree.checkAccess()
}

func (p Physical) reject(op string, err error) error {
	p.tree.logger().Warnf("%s rejected: %v", op, err)
	return structureErr(op, err)
}

// Tree returns the tree this node belongs to, or nil for an invalid handle.
func (p Physical) Tree() *MotorizedPhysical {
	if !p.Valid() {
		return nil
	}
	return p.tree
}

func (p Physical) Role() Role {
	if p.Valid() && p.node().parent != noNode {
		return RoleConnected
	}
	return RoleMotorized
}

func (p Physical) IsMainPhysical() bool {
	return p.Valid() && p.index == p.tree.root
}

func (p Physical) Parent() (Physical, bool) {
	if !p.Valid() || p.node().parent == noNode {
		return Physical{}, false
	}
	return p.tree.handle(p.node().parent), true
}

func (p Physical) Children() []Physical {
	if !p.Valid() {
		return nil
	}
	out := make([]Physical, 0, len(p.node().children))
	for _, c := range p.node().children {
		out = append(out, p.tree.handle(c))
	}
	return out
}

// Body returns the node's rigid body. The pointer must not be kept across a
// structural change.
func (p Physical) Body() *RigidBody {
	if !p.Valid() {
		return nil
	}
	return &p.node().body
}

// Connection returns the joint to the parent, if this is a connected physical.
func (p Physical) Connection() (HardPhysicalConnection, bool) {
	if !p.Valid() || p.node().parent == noNode {
		return HardPhysicalConnection{}, false
	}
	return p.node().conn, true
}

func (p Physical) CFrame() geom.CFrame {
	if !p.Valid() {
		return geom.IdentityCFrame()
	}
	return p.node().body.CFrame()
}

// RelativeCFrameToMain is this node's placement in the main physical's space.
func (p Physical) RelativeCFrameToMain() geom.CFrame {
	if !p.Valid() {
		return geom.IdentityCFrame()
	}
	return p.tree.CFrame().GlobalToLocalFrame(p.CFrame())
}

// Parts yields the parts of this node's rigid body.
func (p Physical) Parts() iter.Seq[*Part] {
	if !p.Valid() {
		return func(func(*Part) bool) {}
	}
	return p.node().body.Parts()
}

// PartCount counts the parts of this node and all of its descendants.
func (p Physical) PartCount() int {
	if !p.Valid() {
		return 0
	}
	count := 0
	p.tree.walk(p.index, func(i int32) {
		count += p.tree.nodes[i].body.PartCount()
	})
	return count
}

// SetCFrame moves the whole tree so that this node ends up at cf.
func (p Physical) SetCFrame(cf geom.CFrame) error {
	const op = "set cframe"
	defer p.tree.lock()()
	if err := p.check(); err != nil {
		return p.reject(op, err)
	}
	if !cf.IsFinite() {
		return p.reject(op, ErrInvalidCFrame)
	}
	p.tree.setNodeCFrame(p.index, geom.NewCFrame(cf.Position, cf.Rotation))
	return nil
}

// AttachPart welds part to this node's rigid body at attachment, given in the
// main part's space.
func (p Physical) AttachPart(part *Part, attachment geom.CFrame) error {
	const op = "attach part"
	defer p.tree.lock()()
	if err := p.check(); err != nil {
		return p.reject(op, err)
	}
	if part == nil {
		return p.reject(op, ErrPartNotFound)
	}
	if part.owner.Valid() {
		return p.reject(op, ErrPartAlreadyOwned)
	}
	if !attachment.IsFinite() {
		return p.reject(op, ErrInvalidCFrame)
	}

	m := p.tree
	p.node().body.attach(part, geom.NewCFrame(attachment.Position, attachment.Rotation))
	part.owner = p
	if w := m.world.Load(); w != nil {
		w.trackPart(part)
	}
	m.refresh()
	m.logger().Debugf("attached part %s to physical %d", part.ID, p.index)
	return nil
}

// DetachPart removes part from this node. If it was the node's last part the
// node leaves the tree and its children become trees of their own. With
// keepInWorld the part comes back as a new single part tree carrying the
// velocity it had, which is returned.
func (p Physical) DetachPart(part *Part, keepInWorld bool) (*MotorizedPhysical, error) {
	const op = "detach part"
	defer p.tree.lock()()
	if err := p.check(); err != nil {
		return nil, p.reject(op, err)
	}
	nd := p.node()
	if part == nil || !nd.body.contains(part) {
		return nil, p.reject(op, ErrPartNotFound)
	}

	m := p.tree
	world := m.world.Load()
	motion := Motion{
		Velocity:        m.PointVelocity(part.CenterOfMass()),
		AngularVelocity: m.motion.AngularVelocity,
	}
	if m.anchored {
		motion = Motion{}
	}

	if nd.body.PartCount() > 1 {
		if part == nd.body.mainPart {
			m.rebaseNode(p.index, nd.body.parts[0].Attachment.Inverse())
		}
		nd.body.detach(part)
		m.refresh()
	} else {
		m.removeNode(p.index)
	}
	part.owner = Physical{}
	if world != nil {
		world.untrackPart(part)
	}
	world.Logger().Debugf("detached part %s (keep in world: %v)", part.ID, keepInWorld)

	if !keepInWorld {
		return nil, nil
	}
	nt, err := NewMotorizedPhysical(part)
	invariant(err == nil, "detached part still owned: %v", err)
	nt.motion = motion
	if world != nil {
		world.registerTree(nt)
	}
	return nt, nil
}

// AttachPhysical joins other's whole tree below this node through constraint.
// attachThis and attachOther are the joint frames in this node's and in
// other's main part space. The source tree is consumed: every handle into it,
// other included, becomes invalid and the returned handle refers to other's
// node in its new tree.
func (p Physical) AttachPhysical(other Physical, constraint HardConstraint, attachThis, attachOther geom.CFrame) (Physical, error) {
	const op = "attach physical"
	defer lockPair(p.tree, other.tree)()
	if err := p.check(); err != nil {
		return Physical{}, p.reject(op, err)
	}
	if !other.Valid() {
		return Physical{}, p.reject(op, ErrInvalidPhysical)
	}
	if other.tree == p.tree {
		return Physical{}, p.reject(op, ErrSameTree)
	}
	if err := other.tree.checkAccess(); err != nil {
		return Physical{}, p.reject(op, err)
	}
	if wo, wp := other.tree.world.Load(), p.tree.world.Load(); wo != nil && wp != nil && wo != wp {
		return Physical{}, p.reject(op, ErrForeignWorld)
	}
	conn := NewHardPhysicalConnection(constraint, attachOther, attachThis)
	if err := validateConnection(conn); err != nil {
		return Physical{}, p.reject(op, err)
	}

	m, src := p.tree, other.tree
	src.reroot(other.index)
	before := [2]momentum{m.currentMomentum().placed(m.CFrame()), src.currentMomentum()}

	ni := src.moveSubtree(src.root, m, p.index)
	m.nodes[ni].conn = conn
	pn := p.node()
	pn.children = append(pn.children, ni)

	srcWorld := src.world.Load()
	src.dead = true
	src.root = noNode
	if srcWorld != nil {
		srcWorld.forgetTree(src)
		if m.world.Load() == nil {
			srcWorld.registerTree(m)
		}
	}
	if w := m.world.Load(); w != nil {
		w.trackTree(m)
	}

	m.anchored = m.anchored || src.anchored
	m.refresh()
	if m.anchored {
		m.motion = Motion{}
	} else {
		// the source moved to the joint, its momentum moves along
		before[1] = before[1].placed(m.nodes[ni].body.CFrame())
		m.motion = m.mergedMotion(before[:])
	}
	m.logger().Debugf("attached physical tree (%d parts) below node %d", m.nodes[ni].body.PartCount(), p.index)
	return m.handle(ni), nil
}

// AttachPartWithConstraint puts part in a tree of its own and joins that tree
// below this node, as AttachPhysical does. The handle of part's new node is
// returned.
func (p Physical) AttachPartWithConstraint(part *Part, constraint HardConstraint, attachThis, attachOther geom.CFrame) (Physical, error) {
	single, err := NewMotorizedPhysical(part)
	if err != nil {
		return Physical{}, err
	}
	h, err := p.AttachPhysical(single.Main(), constraint, attachThis, attachOther)
	if err != nil {
		part.owner = Physical{}
		single.dead = true
		return Physical{}, err
	}
	return h, nil
}

// momentum is a tree's mass distribution and motion, with the center of mass
// and inertia in the main physical's space.
type momentum struct {
	mass    float64
	com     mgl64.Vec3
	inertia mgl64.Mat3
	motion  Motion
}

func (m *MotorizedPhysical) currentMomentum() momentum {
	return momentum{mass: m.totalMass, com: m.totalCenterOfMass, inertia: m.totalInertia, motion: m.motion}
}

// placed expresses the center of mass and inertia in global space for a main
// physical placed at cf.
func (b momentum) placed(cf geom.CFrame) momentum {
	b.com = cf.LocalToGlobal(b.com)
	b.inertia = geom.RotateTensor(cf.RotationMatrix(), b.inertia)
	return b
}

// mergedMotion is the motion of the merged tree that keeps the summed linear
// momentum and the summed angular momentum about the new center of mass. m's
// aggregates must already include every part.
func (m *MotorizedPhysical) mergedMotion(parts []momentum) Motion {
	if !(m.totalMass > 0) {
		return Motion{}
	}
	com := m.CenterOfMass()
	var linear, angular mgl64.Vec3
	for _, b := range parts {
		linear = linear.Add(b.motion.Velocity.Mul(b.mass))
	}
	v := linear.Mul(1 / m.totalMass)
	for _, b := range parts {
		angular = angular.Add(b.inertia.Mul3x1(b.motion.AngularVelocity))
		angular = angular.Add(b.com.Sub(com).Cross(b.motion.Velocity.Sub(v).Mul(b.mass)))
	}
	return Motion{Velocity: v, AngularVelocity: m.globalMomentResponse().Mul3x1(angular)}
}

// MakeMainPhysical re-roots the tree at this node. Every former ancestor
// becomes a descendant joined through the inverted connection. Placements and
// motion are unchanged.
func (p Physical) MakeMainPhysical() error {
	const op = "make main physical"
	defer p.tree.lock()()
	if err := p.check(); err != nil {
		return p.reject(op, err)
	}
	p.tree.reroot(p.index)
	return nil
}

// MakeMainPart makes part the reference part of this node's rigid body. Joint
// frames are rebased so that nothing moves.
func (p Physical) MakeMainPart(part *Part) error {
	const op = "make main part"
	defer p.tree.lock()()
	if err := p.check(); err != nil {
		return p.reject(op, err)
	}
	nd := p.node()
	attachment, ok := nd.body.attachmentOf(part)
	if part == nil || !ok {
		return p.reject(op, ErrPartNotFound)
	}
	if part == nd.body.mainPart {
		return nil
	}
	p.tree.rebaseNode(p.index, attachment.Inverse())
	ok = nd.body.makeMainPart(part)
	invariant(ok, "part %s vanished from its body", part.ID)
	p.tree.refresh()
	return nil
}

// Detach splits this node and its descendants off into a new tree, which
// keeps the velocity the subtree had.
func (p Physical) Detach() (*MotorizedPhysical, error) {
	const op = "detach physical"
	defer p.tree.lock()()
	if err := p.check(); err != nil {
		return nil, p.reject(op, err)
	}
	if p.node().parent == noNode {
		return nil, p.reject(op, ErrNotConnected)
	}
	return p.tree.split(p.index), nil
}

// NotifyPartPropertiesChanged recomputes mass properties after a part's shape
// or material changed.
func (p Physical) NotifyPartPropertiesChanged() {
	defer p.tree.lock()()
	if p.check() == nil {
		p.notifyPartPropertiesChanged()
	}
}

func (p Physical) notifyPartPropertiesChanged() {
	p.node().body.refresh()
	p.tree.refresh()
}

// ApplyForce applies force at a global point for the next tick.
func (p Physical) ApplyForce(point, force mgl64.Vec3) {
	defer p.tree.lock()()
	if p.Valid() && p.tree.writable() {
		p.tree.applyForce(point.Sub(p.tree.CenterOfMass()), force)
	}
}

// ApplyImpulse applies impulse at a global point immediately.
func (p Physical) ApplyImpulse(point, impulse mgl64.Vec3) {
	defer p.tree.lock()()
	if p.Valid() && p.tree.writable() {
		p.tree.applyImpulse(point.Sub(p.tree.CenterOfMass()), impulse)
	}
}

// ApplyDrag displaces the tree as if drag were an impulse acting over one
// second, applied at a global point.
func (p Physical) ApplyDrag(point, drag mgl64.Vec3) {
	defer p.tree.lock()()
	if p.Valid() && p.tree.writable() {
		p.tree.applyDrag(point.Sub(p.tree.CenterOfMass()), drag)
	}
}

func (m *MotorizedPhysical) handle(idx int32) Physical {
	return Physical{tree: m, index: idx, gen: m.nodes[idx].gen}
}

func (m *MotorizedPhysical) allocNode(body RigidBody) int32 {
	var idx int32
	if n := len(m.free); n > 0 {
		idx = m.free[n-1]
		m.free = m.free[:n-1]
	} else {
		idx = int32(len(m.nodes))
		m.nodes = append(m.nodes, &physicalNode{})
	}
	nd := m.nodes[idx]
	invariant(!nd.live, "allocating live node %d", idx)
	nd.live = true
	nd.body = body
	nd.parent = noNode
	nd.children = nil
	nd.conn = HardPhysicalConnection{}

	h := m.handle(idx)
	for part := range body.Parts() {
		part.owner = h
	}
	return idx
}

func (m *MotorizedPhysical) freeNode(idx int32) {
	nd := m.nodes[idx]
	nd.live = false
	nd.gen++
	nd.body = RigidBody{}
	nd.children = nil
	nd.parent = noNode
	nd.conn = HardPhysicalConnection{}
	m.free = append(m.free, idx)
}

// walk visits idx and its descendants, parents before children.
func (m *MotorizedPhysical) walk(idx int32, fn func(int32)) {
	fn(idx)
	for _, c := range m.nodes[idx].children {
		m.walk(c, fn)
	}
}

// moveSubtree moves idx and its descendants into dst below dstParent and
// returns the new index of idx. Connections move along; part owners are
// updated.
func (m *MotorizedPhysical) moveSubtree(idx int32, dst *MotorizedPhysical, dstParent int32) int32 {
	nd := m.nodes[idx]
	ni := dst.allocNode(nd.body)
	dn := dst.nodes[ni]
	dn.parent = dstParent
	dn.conn = nd.conn

	children := nd.children
	m.freeNode(idx)
	for _, c := range children {
		dn.children = append(dn.children, m.moveSubtree(c, dst, ni))
	}
	return ni
}

func (m *MotorizedPhysical) reroot(idx int32) {
	if idx == m.root {
		return
	}
	path := []int32{idx}
	for n := m.nodes[idx].parent; n != noNode; n = m.nodes[n].parent {
		path = append(path, n)
	}
	invariant(path[len(path)-1] == m.root, "node %d does not lead to the main physical", idx)

	conns := make([]HardPhysicalConnection, len(path)-1)
	for i := range conns {
		conns[i] = m.nodes[path[i]].conn
	}
	for i := range conns {
		c, q := path[i], path[i+1]
		cn, qn := m.nodes[c], m.nodes[q]
		qn.children = slices.DeleteFunc(qn.children, func(x int32) bool { return x == c })
		cn.children = append(cn.children, q)
		qn.parent = c
		qn.conn = conns[i].Inverted()
	}
	first := m.nodes[idx]
	first.parent = noNode
	first.conn = HardPhysicalConnection{}
	m.root = idx
	m.refresh()
	m.logger().Debugf("re-rooted tree at node %d", idx)
}

// split moves the subtree at idx into a new tree. Both trees keep the rigid
// velocity field they shared.
func (m *MotorizedPhysical) split(idx int32) *MotorizedPhysical {
	nd := m.nodes[idx]
	invariant(nd.parent != noNode, "splitting the main physical")
	before := m.motion
	com := m.CenterOfMass()

	parent := m.nodes[nd.parent]
	parent.children = slices.DeleteFunc(parent.children, func(x int32) bool { return x == idx })

	nt := &MotorizedPhysical{root: noNode}
	nt.root = m.moveSubtree(idx, nt, noNode)
	nt.nodes[nt.root].conn = HardPhysicalConnection{}
	nt.refresh()
	m.refresh()

	if !m.anchored {
		nt.motion = before.at(com, nt.CenterOfMass())
		m.motion = before.at(com, m.CenterOfMass())
	}
	if w := m.world.Load(); w != nil {
		w.registerTree(nt)
	}
	m.logger().Debugf("split %d parts into a new tree", nt.PartCount())
	return nt
}

// removeNode drops a node whose rigid body is being emptied. Its children
// become trees of their own.
func (m *MotorizedPhysical) removeNode(idx int32) {
	for _, c := range slices.Clone(m.nodes[idx].children) {
		m.split(c)
	}
	nd := m.nodes[idx]
	if nd.parent == noNode {
		m.freeNode(idx)
		m.root = noNode
		m.dead = true
		if w := m.world.Load(); w != nil {
			w.forgetTree(m)
		}
		return
	}
	parent := m.nodes[nd.parent]
	parent.children = slices.DeleteFunc(parent.children, func(x int32) bool { return x == idx })
	m.freeNode(idx)
	m.refresh()
}

// rebaseNode re-expresses the joint frames stored in idx's space after its
// main part changes. shift maps old main part space into the new one.
func (m *MotorizedPhysical) rebaseNode(idx int32, shift geom.CFrame) {
	nd := m.nodes[idx]
	if nd.parent != noNode {
		nd.conn.AttachOnChild = shift.Mul(nd.conn.AttachOnChild)
	}
	for _, c := range nd.children {
		cn := m.nodes[c]
		cn.conn.AttachOnParent = shift.Mul(cn.conn.AttachOnParent)
	}
}
