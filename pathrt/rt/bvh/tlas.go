package bvh

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// TLAS is a BVH over instance bounds. Every leaf holds exactly one instance
// and LeafFirst is that instance's position in the list it was built from.
type TLAS struct {
	Nodes []BVHNode
	Count int
}

func BuildTLAS(aabbs [][2]mgl32.Vec3) *TLAS {
	t := &TLAS{Count: len(aabbs)}
	if len(aabbs) == 0 {
		return t
	}

	items := make([]AABBItem, len(aabbs))
	for i, bounds := range aabbs {
		items[i] = NewAABBItem(i, bounds[0], bounds[1])
	}

	b := &builder{
		maxLeaf: 1,
		leaf: func(n *BVHNode, items []AABBItem) {
			n.LeafFirst = int32(items[0].Index)
			n.LeafCount = 1
		},
	}
	b.recursiveBuild(items)
	t.Nodes = b.nodes
	return t
}

// Refit recomputes node bounds for new instance bounds without changing the
// tree topology. The instance count must match the one the tree was built with.
func (t *TLAS) Refit(aabbs [][2]mgl32.Vec3) error {
	if len(aabbs) != t.Count {
		return fmt.Errorf("refit with %d instances, tree was built with %d", len(aabbs), t.Count)
	}
	for i := len(t.Nodes) - 1; i >= 0; i-- {
		n := &t.Nodes[i]
		if n.IsLeaf() {
			bounds := aabbs[n.LeafFirst]
			n.Min, n.Max = bounds[0], bounds[1]
			continue
		}
		l, r := t.Nodes[n.Left], t.Nodes[n.Right]
		n.Min, n.Max = grow(l.Min, l.Max, r.Min, r.Max)
	}
	return nil
}

func (t *TLAS) Bytes() []byte {
	return NodesToBytes(t.Nodes)
}
