// Package boundstree implements a dynamic bounding volume hierarchy used as the
// broad phase of the simulation.
//
// Leaves hold the exact bounds of one tracked object. Internal nodes hold the
// exact union of their two children. Nodes are pooled in a slice and linked by
// index, so the pool can grow without invalidating links.
package boundstree

import (
	"errors"
	"fmt"
	"iter"

	"github.com/gekko3d/rigid/geom"
)

var (
	ErrAlreadyPresent = errors.New("boundstree: object already present")
	ErrNotPresent     = errors.New("boundstree: object not present")
)

const nullNode int32 = -1

type node[T comparable] struct {
	bounds geom.Bounds
	object T

	parent int32
	child1 int32
	child2 int32

	// leaf = 0, free node = -1
	height int32
	next   int32
}

func (n *node[T]) isLeaf() bool { return n.child1 == nullNode }

// Tree is not safe for concurrent use. It must not be mutated while one of
// its iterators is running.
type Tree[T comparable] struct {
	root   int32
	nodes  []node[T]
	free   int32
	leaves map[T]int32
}

func New[T comparable]() *Tree[T] {
	return &Tree[T]{
		root:   nullNode,
		free:   nullNode,
		leaves: make(map[T]int32),
	}
}

func (t *Tree[T]) Len() int      { return len(t.leaves) }
func (t *Tree[T]) IsEmpty() bool { return len(t.leaves) == 0 }

func (t *Tree[T]) Contains(obj T) bool {
	_, ok := t.leaves[obj]
	return ok
}

// Bounds returns the bounds currently stored for obj.
func (t *Tree[T]) Bounds(obj T) (geom.Bounds, bool) {
	leaf, ok := t.leaves[obj]
	if !ok {
		return geom.Bounds{}, false
	}
	return t.nodes[leaf].bounds, true
}

func (t *Tree[T]) RootBounds() (geom.Bounds, bool) {
	if t.root == nullNode {
		return geom.Bounds{}, false
	}
	return t.nodes[t.root].bounds, true
}

// Height is the number of edges on the longest root to leaf path, or -1 when empty.
func (t *Tree[T]) Height() int {
	if t.root == nullNode {
		return -1
	}
	return int(t.nodes[t.root].height)
}

func (t *Tree[T]) Clear() {
	t.root = nullNode
	t.free = nullNode
	t.nodes = t.nodes[:0]
	clear(t.leaves)
}

func (t *Tree[T]) Add(obj T, b geom.Bounds) error {
	if _, ok := t.leaves[obj]; ok {
		return ErrAlreadyPresent
	}
	leaf := t.allocateNode()
	t.nodes[leaf].bounds = b
	t.nodes[leaf].object = obj
	t.insertLeaf(leaf)
	t.leaves[obj] = leaf
	return nil
}

func (t *Tree[T]) Remove(obj T) error {
	leaf, ok := t.leaves[obj]
	if !ok {
		return ErrNotPresent
	}
	t.removeLeaf(leaf)
	t.freeNode(leaf)
	delete(t.leaves, obj)
	return nil
}

// UpdateBounds replaces the stored bounds of obj. When the new bounds still
// fit inside the parent node the leaf stays where it is and only the ancestor
// unions are refit; otherwise the leaf is reinserted.
func (t *Tree[T]) UpdateBounds(obj T, b geom.Bounds) error {
	leaf, ok := t.leaves[obj]
	if !ok {
		return ErrNotPresent
	}
	parent := t.nodes[leaf].parent
	if parent == nullNode || t.nodes[parent].bounds.ContainsBounds(b) {
		t.nodes[leaf].bounds = b
		t.refit(parent)
		return nil
	}
	t.removeLeaf(leaf)
	t.nodes[leaf].bounds = b
	t.insertLeaf(leaf)
	return nil
}

func (t *Tree[T]) allocateNode() int32 {
	var id int32
	if t.free != nullNode {
		id = t.free
		t.free = t.nodes[id].next
	} else {
		t.nodes = append(t.nodes, node[T]{})
		id = int32(len(t.nodes) - 1)
	}
	var zero T
	t.nodes[id] = node[T]{
		object: zero,
		parent: nullNode,
		child1: nullNode,
		child2: nullNode,
		next:   nullNode,
	}
	return id
}

func (t *Tree[T]) freeNode(id int32) {
	var zero T
	t.nodes[id].object = zero
	t.nodes[id].height = -1
	t.nodes[id].next = t.free
	t.free = id
}

func (t *Tree[T]) insertLeaf(leaf int32) {
	if t.root == nullNode {
		t.root = leaf
		t.nodes[leaf].parent = nullNode
		return
	}

	// Find the best sibling for this node
	leafBounds := t.nodes[leaf].bounds
	index := t.root
	for !t.nodes[index].isLeaf() {
		child1 := t.nodes[index].child1
		child2 := t.nodes[index].child2

		area := t.nodes[index].bounds.SurfaceArea()
		combinedArea := t.nodes[index].bounds.Union(leafBounds).SurfaceArea()

		// Cost of creating a new parent for this node and the new leaf
		cost := 2 * combinedArea
		// Minimum cost of pushing the leaf further down the tree
		inheritanceCost := 2 * (combinedArea - area)

		cost1 := t.descendCost(child1, leafBounds) + inheritanceCost
		cost2 := t.descendCost(child2, leafBounds) + inheritanceCost

		if cost < cost1 && cost < cost2 {
			break
		}
		if cost1 < cost2 {
			index = child1
		} else {
			index = child2
		}
	}

	sibling := index
	oldParent := t.nodes[sibling].parent
	newParent := t.allocateNode()
	t.nodes[newParent].parent = oldParent
	t.nodes[newParent].bounds = leafBounds.Union(t.nodes[sibling].bounds)
	t.nodes[newParent].height = t.nodes[sibling].height + 1
	t.nodes[newParent].child1 = sibling
	t.nodes[newParent].child2 = leaf
	t.nodes[sibling].parent = newParent
	t.nodes[leaf].parent = newParent

	if oldParent != nullNode {
		if t.nodes[oldParent].child1 == sibling {
			t.nodes[oldParent].child1 = newParent
		} else {
			t.nodes[oldParent].child2 = newParent
		}
	} else {
		t.root = newParent
	}

	t.rebalance(t.nodes[leaf].parent)
}

func (t *Tree[T]) descendCost(child int32, leafBounds geom.Bounds) float64 {
	combined := leafBounds.Union(t.nodes[child].bounds).SurfaceArea()
	if t.nodes[child].isLeaf() {
		return combined
	}
	return combined - t.nodes[child].bounds.SurfaceArea()
}

func (t *Tree[T]) removeLeaf(leaf int32) {
	if leaf == t.root {
		t.root = nullNode
		return
	}

	parent := t.nodes[leaf].parent
	grandParent := t.nodes[parent].parent
	sibling := t.nodes[parent].child1
	if sibling == leaf {
		sibling = t.nodes[parent].child2
	}

	if grandParent != nullNode {
		// Destroy parent and connect sibling to grandParent.
		if t.nodes[grandParent].child1 == parent {
			t.nodes[grandParent].child1 = sibling
		} else {
			t.nodes[grandParent].child2 = sibling
		}
		t.nodes[sibling].parent = grandParent
		t.freeNode(parent)
		t.rebalance(grandParent)
	} else {
		t.root = sibling
		t.nodes[sibling].parent = nullNode
		t.freeNode(parent)
	}
	t.nodes[leaf].parent = nullNode
}

// rebalance walks from index to the root, rotating imbalanced nodes and
// recomputing unions and heights.
func (t *Tree[T]) rebalance(index int32) {
	for index != nullNode {
		index = t.balance(index)
		t.fixNode(index)
		index = t.nodes[index].parent
	}
}

// refit recomputes unions from index to the root without restructuring.
func (t *Tree[T]) refit(index int32) {
	for index != nullNode {
		t.fixNode(index)
		index = t.nodes[index].parent
	}
}

func (t *Tree[T]) fixNode(index int32) {
	n := &t.nodes[index]
	c1 := &t.nodes[n.child1]
	c2 := &t.nodes[n.child2]
	n.bounds = c1.bounds.Union(c2.bounds)
	n.height = 1 + max(c1.height, c2.height)
}

// balance performs a left or right rotation if node iA is imbalanced and
// returns the index of the node now standing in its place.
func (t *Tree[T]) balance(iA int32) int32 {
	A := &t.nodes[iA]
	if A.isLeaf() || A.height < 2 {
		return iA
	}

	iB := A.child1
	iC := A.child2
	B := &t.nodes[iB]
	C := &t.nodes[iC]

	balance := C.height - B.height

	// Rotate C up
	if balance > 1 {
		iF := C.child1
		iG := C.child2
		F := &t.nodes[iF]
		G := &t.nodes[iG]

		C.child1 = iA
		C.parent = A.parent
		A.parent = iC
		t.replaceChild(C.parent, iA, iC)

		if F.height > G.height {
			C.child2 = iF
			A.child2 = iG
			G.parent = iA
			A.bounds = B.bounds.Union(G.bounds)
			C.bounds = A.bounds.Union(F.bounds)
			A.height = 1 + max(B.height, G.height)
			C.height = 1 + max(A.height, F.height)
		} else {
			C.child2 = iG
			A.child2 = iF
			F.parent = iA
			A.bounds = B.bounds.Union(F.bounds)
			C.bounds = A.bounds.Union(G.bounds)
			A.height = 1 + max(B.height, F.height)
			C.height = 1 + max(A.height, G.height)
		}
		return iC
	}

	// Rotate B up
	if balance < -1 {
		iD := B.child1
		iE := B.child2
		D := &t.nodes[iD]
		E := &t.nodes[iE]

		B.child1 = iA
		B.parent = A.parent
		A.parent = iB
		t.replaceChild(B.parent, iA, iB)

		if D.height > E.height {
			B.child2 = iD
			A.child1 = iE
			E.parent = iA
			A.bounds = C.bounds.Union(E.bounds)
			B.bounds = A.bounds.Union(D.bounds)
			A.height = 1 + max(C.height, E.height)
			B.height = 1 + max(A.height, D.height)
		} else {
			B.child2 = iE
			A.child1 = iD
			D.parent = iA
			A.bounds = C.bounds.Union(D.bounds)
			B.bounds = A.bounds.Union(E.bounds)
			A.height = 1 + max(C.height, D.height)
			B.height = 1 + max(A.height, E.height)
		}
		return iB
	}

	return iA
}

func (t *Tree[T]) replaceChild(parent, oldChild, newChild int32) {
	if parent == nullNode {
		t.root = newChild
		return
	}
	if t.nodes[parent].child1 == oldChild {
		t.nodes[parent].child1 = newChild
	} else {
		t.nodes[parent].child2 = newChild
	}
}

// Validate checks the structural invariants: parent links, heights, exact
// unions on every internal node, and that the leaves reachable from the root
// are exactly the tracked objects.
func (t *Tree[T]) Validate() error {
	if t.root == nullNode {
		if len(t.leaves) != 0 {
			return fmt.Errorf("boundstree: empty tree tracks %d objects", len(t.leaves))
		}
		return nil
	}
	if t.nodes[t.root].parent != nullNode {
		return fmt.Errorf("boundstree: root %d has parent %d", t.root, t.nodes[t.root].parent)
	}
	seen := 0
	if err := t.validateNode(t.root, &seen); err != nil {
		return err
	}
	if seen != len(t.leaves) {
		return fmt.Errorf("boundstree: %d reachable leaves, %d tracked objects", seen, len(t.leaves))
	}
	return nil
}

func (t *Tree[T]) validateNode(index int32, seen *int) error {
	n := &t.nodes[index]
	if n.height < 0 {
		return fmt.Errorf("boundstree: free node %d is reachable", index)
	}
	if n.isLeaf() {
		if n.child2 != nullNode || n.height != 0 {
			return fmt.Errorf("boundstree: malformed leaf %d", index)
		}
		if leaf, ok := t.leaves[n.object]; !ok || leaf != index {
			return fmt.Errorf("boundstree: leaf %d holds an untracked object", index)
		}
		*seen++
		return nil
	}
	c1, c2 := n.child1, n.child2
	if c2 == nullNode {
		return fmt.Errorf("boundstree: internal node %d has one child", index)
	}
	if t.nodes[c1].parent != index || t.nodes[c2].parent != index {
		return fmt.Errorf("boundstree: children of %d do not point back to it", index)
	}
	if n.bounds != t.nodes[c1].bounds.Union(t.nodes[c2].bounds) {
		return fmt.Errorf("boundstree: node %d bounds %v is not the union of its children", index, n.bounds)
	}
	if n.height != 1+max(t.nodes[c1].height, t.nodes[c2].height) {
		return fmt.Errorf("boundstree: node %d has height %d", index, n.height)
	}
	if err := t.validateNode(c1, seen); err != nil {
		return err
	}
	return t.validateNode(c2, seen)
}

// All yields every tracked object.
func (t *Tree[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for obj := range t.leaves {
			if !yield(obj) {
				return
			}
		}
	}
}
