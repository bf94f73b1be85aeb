package bvh

import (
	"encoding/binary"

	"github.com/go-gl/mathgl/mgl32"
)

// MaxLeafTriangles bounds the triangle count of a BLAS leaf.
const MaxLeafTriangles = 4

// BLAS is a BVH over one mesh's triangles in object space. Leaves address the
// range [LeafFirst, LeafFirst+LeafCount) of Triangles, which lists source
// triangle ids in leaf order.
type BLAS struct {
	Nodes     []BVHNode
	Triangles []uint32
	Min       mgl32.Vec3
	Max       mgl32.Vec3
}

func BuildBLAS(positions []mgl32.Vec3, indices []uint32) *BLAS {
	numTris := len(indices) / 3
	blas := &BLAS{}
	if numTris == 0 {
		return blas
	}

	items := make([]AABBItem, numTris)
	for t := 0; t < numTris; t++ {
		minB, maxB := emptyBounds()
		for k := 0; k < 3; k++ {
			p := positions[indices[3*t+k]]
			minB, maxB = grow(minB, maxB, p, p)
		}
		items[t] = NewAABBItem(t, minB, maxB)
	}

	b := &builder{
		maxLeaf: MaxLeafTriangles,
		leaf: func(n *BVHNode, items []AABBItem) {
			n.LeafFirst = int32(len(blas.Triangles))
			n.LeafCount = int32(len(items))
			for _, it := range items {
				blas.Triangles = append(blas.Triangles, uint32(it.Index))
			}
		},
	}
	b.recursiveBuild(items)

	blas.Nodes = b.nodes
	blas.Min, blas.Max = blas.Nodes[0].Min, blas.Nodes[0].Max
	return blas
}

// TriangleBytes serializes the leaf-ordered triangle ids as u32s.
func (b *BLAS) TriangleBytes() []byte {
	if len(b.Triangles) == 0 {
		return make([]byte, 4)
	}
	out := make([]byte, 4*len(b.Triangles))
	for i, t := range b.Triangles {
		binary.LittleEndian.PutUint32(out[4*i:], t)
	}
	return out
}

func (b *BLAS) Bytes() []byte {
	return NodesToBytes(b.Nodes)
}
