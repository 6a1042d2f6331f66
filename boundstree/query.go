package boundstree

import (
	"iter"

	"github.com/gekko3d/rigid/geom"
)

// Query yields every object whose bounds intersect b.
func (t *Tree[T]) Query(b geom.Bounds) iter.Seq[T] {
	return func(yield func(T) bool) {
		if t.root == nullNode {
			return
		}
		stack := []int32{t.root}
		for len(stack) > 0 {
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			n := &t.nodes[id]
			if !n.bounds.Intersects(b) {
				continue
			}
			if n.isLeaf() {
				if !yield(n.object) {
					return
				}
				continue
			}
			stack = append(stack, n.child1, n.child2)
		}
	}
}

// RayCast yields every object whose bounds are hit by the ray, together with
// the distance at which the ray enters those bounds. Order is unspecified.
func (t *Tree[T]) RayCast(ray geom.Ray) iter.Seq2[T, float64] {
	return func(yield func(T, float64) bool) {
		if t.root == nullNode {
			return
		}
		stack := []int32{t.root}
		for len(stack) > 0 {
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			n := &t.nodes[id]
			dist, hit := n.bounds.IntersectsRay(ray)
			if !hit {
				continue
			}
			if n.isLeaf() {
				if !yield(n.object, dist) {
					return
				}
				continue
			}
			stack = append(stack, n.child1, n.child2)
		}
	}
}

// CandidateOverlaps yields each unordered pair of objects whose bounds
// intersect exactly once. The sequence is finite and can be ranged over again
// to restart it.
func (t *Tree[T]) CandidateOverlaps() iter.Seq2[T, T] {
	return func(yield func(T, T) bool) {
		if t.root == nullNode {
			return
		}
		t.selfPairs(t.root, yield)
	}
}

func (t *Tree[T]) selfPairs(id int32, yield func(T, T) bool) bool {
	n := &t.nodes[id]
	if n.isLeaf() {
		return true
	}
	c1, c2 := n.child1, n.child2
	return t.selfPairs(c1, yield) &&
		t.selfPairs(c2, yield) &&
		t.crossPairs(c1, c2, yield)
}

func (t *Tree[T]) crossPairs(a, b int32, yield func(T, T) bool) bool {
	na := &t.nodes[a]
	nb := &t.nodes[b]
	if !na.bounds.Intersects(nb.bounds) {
		return true
	}
	switch {
	case na.isLeaf() && nb.isLeaf():
		return yield(na.object, nb.object)
	case na.isLeaf():
		return t.crossPairs(a, nb.child1, yield) && t.crossPairs(a, nb.child2, yield)
	case nb.isLeaf():
		return t.crossPairs(na.child1, b, yield) && t.crossPairs(na.child2, b, yield)
	case na.bounds.SurfaceArea() >= nb.bounds.SurfaceArea():
		return t.crossPairs(na.child1, b, yield) && t.crossPairs(na.child2, b, yield)
	default:
		return t.crossPairs(a, nb.child1, yield) && t.crossPairs(a, nb.child2, yield)
	}
}
