package bvh

import (
	"encoding/binary"
	"math"
	"sort"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func TestTwoObjectsSplit(t *testing.T) {
	aabbs := [][2]mgl32.Vec3{
		{{-100, -1, -1}, {-98, 1, 1}},
		{{100, -1, -1}, {102, 1, 1}},
	}

	builder := &TLASBuilder{}
	data := builder.Build(aabbs)

	// Root, Left, Right
	if len(data) != NodeSize*3 {
		t.Fatalf("Expected 192 bytes (3 nodes), got %d", len(data))
	}

	rootMin := make([]float32, 3)
	rootMax := make([]float32, 3)
	for i := 0; i < 3; i++ {
		rootMin[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4 : i*4+4]))
		rootMax[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[16+i*4 : 16+i*4+4]))
	}

	if rootMin[0] > -100 {
		t.Errorf("Root min X should be <= -100, got %f", rootMin[0])
	}
	if rootMax[0] < 100 {
		t.Errorf("Root max X should be >= 100, got %f", rootMax[0])
	}

	leftIdx := int32(binary.LittleEndian.Uint32(data[32:36]))
	rightIdx := int32(binary.LittleEndian.Uint32(data[36:40]))

	if leftIdx == -1 || rightIdx == -1 {
		t.Fatalf("Root should have two children, got left=%d right=%d", leftIdx, rightIdx)
	}
	if leftIdx == rightIdx {
		t.Error("Left and right indices should be different")
	}

	for _, child := range []int32{leftIdx, rightIdx} {
		off := child * NodeSize
		if l := int32(binary.LittleEndian.Uint32(data[off+32 : off+36])); l != -1 {
			t.Errorf("Child %d should be a leaf (left=-1), got %d", child, l)
		}
	}
}

func TestSingleObject(t *testing.T) {
	tlas := BuildTLAS([][2]mgl32.Vec3{{{0, 0, 0}, {1, 1, 1}}})

	if len(tlas.Nodes) != 1 {
		t.Fatalf("Expected 1 node, got %d", len(tlas.Nodes))
	}
	root := tlas.Nodes[0]
	if !root.IsLeaf() || root.Right != -1 {
		t.Error("Root should be a leaf (left and right = -1)")
	}
	if root.LeafFirst != 0 || root.LeafCount != 1 {
		t.Errorf("Leaf should reference instance 0, got first=%d count=%d", root.LeafFirst, root.LeafCount)
	}
}

func TestEmptyBVH(t *testing.T) {
	builder := &TLASBuilder{}
	data := builder.Build(nil)

	if len(data) != NodeSize {
		t.Fatalf("Expected one placeholder node, got %d bytes", len(data))
	}
}

func TestTLASLeavesCoverEveryInstance(t *testing.T) {
	var aabbs [][2]mgl32.Vec3
	for i := 0; i < 9; i++ {
		x := float32(i * 3)
		aabbs = append(aabbs, [2]mgl32.Vec3{{x, 0, 0}, {x + 1, 1, 1}})
	}
	tlas := BuildTLAS(aabbs)

	var seen []int
	for _, n := range tlas.Nodes {
		if n.IsLeaf() {
			seen = append(seen, int(n.LeafFirst))
			b := aabbs[n.LeafFirst]
			if n.Min != b[0] || n.Max != b[1] {
				t.Errorf("Leaf %d bounds %v-%v do not match instance %v", n.LeafFirst, n.Min, n.Max, b)
			}
		}
	}
	sort.Ints(seen)
	for i, idx := range seen {
		if idx != i {
			t.Fatalf("Leaves should reference instances 0..8 once each, got %v", seen)
		}
	}
	if len(seen) != len(aabbs) {
		t.Fatalf("Expected %d leaves, got %d", len(aabbs), len(seen))
	}
}

func TestTLASRefit(t *testing.T) {
	aabbs := [][2]mgl32.Vec3{
		{{0, 0, 0}, {1, 1, 1}},
		{{10, 0, 0}, {11, 1, 1}},
		{{20, 0, 0}, {21, 1, 1}},
	}
	tlas := BuildTLAS(aabbs)
	nodeCount := len(tlas.Nodes)

	moved := [][2]mgl32.Vec3{
		{{0, 0, 0}, {1, 1, 1}},
		{{10, 50, 0}, {11, 51, 1}},
		{{-30, 0, 0}, {-29, 1, 1}},
	}
	if err := tlas.Refit(moved); err != nil {
		t.Fatalf("Refit failed: %v", err)
	}

	if len(tlas.Nodes) != nodeCount {
		t.Errorf("Refit should keep topology, node count %d -> %d", nodeCount, len(tlas.Nodes))
	}
	root := tlas.Nodes[0]
	if root.Min != (mgl32.Vec3{-30, 0, 0}) || root.Max != (mgl32.Vec3{11, 51, 1}) {
		t.Errorf("Root bounds not refit: %v -> %v", root.Min, root.Max)
	}

	if err := tlas.Refit(moved[:2]); err == nil {
		t.Error("Refit with a different instance count should fail")
	}
}

func TestBLASCoversAllTriangles(t *testing.T) {
	var positions []mgl32.Vec3
	var indices []uint32
	for i := 0; i < 10; i++ {
		x := float32(i)
		base := uint32(len(positions))
		positions = append(positions, mgl32.Vec3{x, 0, 0}, mgl32.Vec3{x + 1, 0, 0}, mgl32.Vec3{x, 1, 0})
		indices = append(indices, base, base+1, base+2)
	}

	blas := BuildBLAS(positions, indices)

	if len(blas.Triangles) != 10 {
		t.Fatalf("Expected 10 leaf triangles, got %d", len(blas.Triangles))
	}
	if blas.Min != (mgl32.Vec3{0, 0, 0}) || blas.Max != (mgl32.Vec3{10, 1, 0}) {
		t.Errorf("Unexpected BLAS bounds %v -> %v", blas.Min, blas.Max)
	}

	covered := make(map[uint32]bool)
	for _, n := range blas.Nodes {
		if !n.IsLeaf() {
			continue
		}
		if n.LeafCount < 1 || n.LeafCount > MaxLeafTriangles {
			t.Errorf("Leaf has %d triangles", n.LeafCount)
		}
		for _, tri := range blas.Triangles[n.LeafFirst : n.LeafFirst+n.LeafCount] {
			covered[tri] = true
		}
	}
	if len(covered) != 10 {
		t.Errorf("Expected every triangle in exactly one leaf, covered %d", len(covered))
	}
	if len(blas.TriangleBytes()) != 40 {
		t.Errorf("Expected 40 bytes of triangle ids, got %d", len(blas.TriangleBytes()))
	}
}

func TestBLASEmpty(t *testing.T) {
	blas := BuildBLAS(nil, nil)
	if len(blas.Nodes) != 0 {
		t.Errorf("Expected no nodes, got %d", len(blas.Nodes))
	}
	if len(blas.Bytes()) != NodeSize {
		t.Errorf("Empty BLAS should serialize to one placeholder node")
	}
}
