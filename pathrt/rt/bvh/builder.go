package bvh

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// Matches WGSL BVHNode
// struct BVHNode {
//    aabb_min : vec4<f32>; (16)
//    aabb_max : vec4<f32>; (16)
//    left : i32; (4)
//    right : i32; (4)
//    leaf_first : i32; (4)
//    leaf_count : i32; (4)
//    padding : i32[4]; (16)
// }; -> 64 bytes

const NodeSize = 64

type BVHNode struct {
	Min       mgl32.Vec3
	Max       mgl32.Vec3
	Left      int32
	Right     int32
	LeafFirst int32
	LeafCount int32
}

func (n *BVHNode) IsLeaf() bool {
	return n.Left < 0
}

func (n *BVHNode) PutBytes(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(n.Min.X()))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(n.Min.Y()))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(n.Min.Z()))
	binary.LittleEndian.PutUint32(buf[12:16], 0)

	binary.LittleEndian.PutUint32(buf[16:20], math.Float32bits(n.Max.X()))
	binary.LittleEndian.PutUint32(buf[20:24], math.Float32bits(n.Max.Y()))
	binary.LittleEndian.PutUint32(buf[24:28], math.Float32bits(n.Max.Z()))
	binary.LittleEndian.PutUint32(buf[28:32], 0)

	binary.LittleEndian.PutUint32(buf[32:36], uint32(n.Left))
	binary.LittleEndian.PutUint32(buf[36:40], uint32(n.Right))
	binary.LittleEndian.PutUint32(buf[40:44], uint32(n.LeafFirst))
	binary.LittleEndian.PutUint32(buf[44:48], uint32(n.LeafCount))
}

// NodesToBytes serializes nodes back to back. An empty list yields one zeroed
// node so the result can always back a storage binding.
func NodesToBytes(nodes []BVHNode) []byte {
	if len(nodes) == 0 {
		return make([]byte, NodeSize)
	}
	out := make([]byte, len(nodes)*NodeSize)
	for i := range nodes {
		nodes[i].PutBytes(out[i*NodeSize:])
	}
	return out
}

type AABBItem struct {
	Min      mgl32.Vec3
	Max      mgl32.Vec3
	Centroid mgl32.Vec3
	Index    int
}

func NewAABBItem(index int, minB, maxB mgl32.Vec3) AABBItem {
	return AABBItem{
		Min:      minB,
		Max:      maxB,
		Centroid: minB.Add(maxB).Mul(0.5),
		Index:    index,
	}
}

func emptyBounds() (mgl32.Vec3, mgl32.Vec3) {
	inf := math32.Inf(1)
	return mgl32.Vec3{inf, inf, inf}, mgl32.Vec3{-inf, -inf, -inf}
}

func grow(minB, maxB, itMin, itMax mgl32.Vec3) (mgl32.Vec3, mgl32.Vec3) {
	for i := 0; i < 3; i++ {
		minB[i] = math32.Min(minB[i], itMin[i])
		maxB[i] = math32.Max(maxB[i], itMax[i])
	}
	return minB, maxB
}

// builder does a median split on the longest axis until at most maxLeaf items
// remain. Children are always appended after their parent, so iterating the
// node list backwards visits children before parents.
type builder struct {
	maxLeaf int
	nodes   []BVHNode
	leaf    func(n *BVHNode, items []AABBItem)
}

func (b *builder) recursiveBuild(items []AABBItem) int32 {
	idx := int32(len(b.nodes))
	b.nodes = append(b.nodes, BVHNode{Left: -1, Right: -1, LeafFirst: -1, LeafCount: 0})

	minB, maxB := emptyBounds()
	for _, it := range items {
		minB, maxB = grow(minB, maxB, it.Min, it.Max)
	}

	b.nodes[idx].Min = minB
	b.nodes[idx].Max = maxB

	if len(items) <= b.maxLeaf {
		b.leaf(&b.nodes[idx], items)
		return idx
	}

	extent := maxB.Sub(minB)
	axis := 0
	if extent.Y() > extent.X() {
		axis = 1
	}
	if extent.Z() > extent[axis] {
		axis = 2
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Centroid[axis] < items[j].Centroid[axis]
	})

	mid := len(items) / 2
	left := b.recursiveBuild(items[:mid])
	right := b.recursiveBuild(items[mid:])
	b.nodes[idx].Left = left
	b.nodes[idx].Right = right

	return idx
}

type TLASBuilder struct{}

// Build returns the serialized TLAS over the given instance bounds.
// Leaves reference the instance index directly.
func (b *TLASBuilder) Build(aabbs [][2]mgl32.Vec3) []byte {
	return NodesToBytes(BuildTLAS(aabbs).Nodes)
}
