package scene

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gekko3d/pathtrace/pathrt/rt/core"
	"github.com/gekko3d/pathtrace/pathrt/rt/gpu"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quad(name string) *core.Entity {
	mesh := core.Mesh{
		Positions: []mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0}},
		Normals:   []mgl32.Vec3{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}, {0, 0, 1}},
		Indices:   []uint32{0, 1, 2, 0, 2, 3},
	}
	return core.NewEntity(name, mesh, core.DefaultMaterial())
}

func emissiveQuad(name string, emission mgl32.Vec3) *core.Entity {
	e := quad(name)
	e.Material.EmissiveFactor = emission
	return e
}

func newTestScene(t *testing.T) (*Scene, *gpu.MemoryBackend) {
	t.Helper()
	backend := gpu.NewMemoryBackend()
	return NewScene(backend, nil), backend
}

func memBytes(t *testing.T, b gpu.Buffer) []byte {
	t.Helper()
	require.NotNil(t, b)
	return append([]byte(nil), b.(*gpu.MemoryBuffer).Bytes()...)
}

func TestAddEntityAssignsSequentialIndices(t *testing.T) {
	s, backend := newTestScene(t)

	for i := 0; i < 3; i++ {
		idx, err := s.AddEntity(quad("q"))
		require.NoError(t, err)
		assert.Equal(t, i, idx)
	}
	assert.Equal(t, 3, s.EntityCount())
	assert.Equal(t, 3, backend.Stats.BLASBuilds)
	assert.Len(t, s.VertexBuffers(), 3)
	assert.Len(t, s.IndexBuffers(), 3)

	attrs, ok := s.Attributes(0)
	require.True(t, ok)
	assert.NotNil(t, attrs.Normals)
	assert.Nil(t, attrs.TexCoords)
	assert.Nil(t, attrs.Tangents)
	assert.Equal(t, uint64(4*16), attrs.Positions.Size())
	assert.Equal(t, uint64(6*4), attrs.Indices.Size())
}

func TestAddEntityRejectsInvalid(t *testing.T) {
	s, backend := newTestScene(t)

	idx, err := s.AddEntity(nil)
	assert.Equal(t, -1, idx)
	assert.ErrorIs(t, err, ErrInvalidEntity)

	bad := quad("bad")
	bad.Mesh.Indices = []uint32{0, 1, 9}
	idx, err = s.AddEntity(bad)
	assert.Equal(t, -1, idx)
	assert.ErrorIs(t, err, ErrInvalidEntity)

	noIndices := quad("empty")
	noIndices.Mesh.Indices = nil
	_, err = s.AddEntity(noIndices)
	assert.ErrorIs(t, err, ErrInvalidEntity)

	assert.Equal(t, 0, s.EntityCount())
	assert.Equal(t, 0, backend.Stats.BuffersCreated)
}

func TestAddEntityBackendFailureLeavesRegistryUnchanged(t *testing.T) {
	s, backend := newTestScene(t)
	_, err := s.AddEntity(quad("ok"))
	require.NoError(t, err)

	backend.FailCreate = errors.New("device lost")
	idx, err := s.AddEntity(quad("fails"))
	assert.Equal(t, -1, idx)
	assert.ErrorIs(t, err, backend.FailCreate)
	assert.Equal(t, 1, s.EntityCount())
}

func TestBuildInstancesMatchRegistry(t *testing.T) {
	s, backend := newTestScene(t)
	for i := 0; i < 5; i++ {
		e := quad("q")
		e.Transform = mgl32.Translate3D(float32(i)*3, 0, 0)
		_, err := s.AddEntity(e)
		require.NoError(t, err)
	}

	require.NoError(t, s.BuildAccelerationStructures())

	instances := s.Instances()
	require.Len(t, instances, 5)
	for i, in := range instances {
		assert.Equal(t, uint32(i), in.CustomIndex)
		assert.Equal(t, gpu.InstanceMaskAll, in.Mask)
		assert.Equal(t, uint32(0), in.SBTOffset)
		assert.Same(t, s.BLAS(i), in.BLAS)
		assert.Equal(t, core.Affine3x4(s.Entity(i).Transform), in.Transform)
	}

	tlas := s.TLAS().(*gpu.MemoryAS)
	assert.Len(t, tlas.Instances, 5)
	assert.Equal(t, 1, backend.Stats.TLASBuilds)
}

func TestBuildReplacesPreviousTLAS(t *testing.T) {
	s, _ := newTestScene(t)
	_, err := s.AddEntity(quad("a"))
	require.NoError(t, err)
	require.NoError(t, s.BuildAccelerationStructures())
	first := s.TLAS().(*gpu.MemoryAS)

	_, err = s.AddEntity(quad("b"))
	require.NoError(t, err)
	require.NoError(t, s.BuildAccelerationStructures())

	assert.True(t, first.Released)
	assert.Len(t, s.Instances(), 2)
	assert.Equal(t, uint64(2*core.MaterialRecordSize), s.MaterialsBuffer().Size())
}

func TestBuildOnEmptySceneIsNoop(t *testing.T) {
	s, backend := newTestScene(t)
	require.NoError(t, s.BuildAccelerationStructures())
	assert.Nil(t, s.TLAS())
	assert.Nil(t, s.MaterialsBuffer())
	assert.Equal(t, 0, backend.Stats.TLASBuilds)
}

func TestUpdateInstancesWithoutTLASIsNoop(t *testing.T) {
	s, backend := newTestScene(t)
	_, err := s.AddEntity(quad("a"))
	require.NoError(t, err)

	require.NoError(t, s.UpdateInstances())
	assert.Nil(t, s.TLAS())
	assert.Equal(t, 0, backend.Stats.InstanceUpdates)
}

func TestUpdateInstancesKeepsOrderAndBuffers(t *testing.T) {
	s, backend := newTestScene(t)
	_, err := s.AddEntity(quad("plain"))
	require.NoError(t, err)
	_, err = s.AddEntity(emissiveQuad("lamp", mgl32.Vec3{4, 4, 4}))
	require.NoError(t, err)
	require.NoError(t, s.BuildAccelerationStructures())

	tlas := s.TLAS()
	materials := memBytes(t, s.MaterialsBuffer())
	emissive := memBytes(t, s.EmissiveTriangleBuffer())
	uploads := backend.Stats.Uploads

	require.NoError(t, s.SetTransform(1, mgl32.Translate3D(0, 10, 0)))
	require.NoError(t, s.UpdateInstances())

	assert.Same(t, tlas, s.TLAS())
	assert.Equal(t, 1, backend.Stats.TLASBuilds)
	assert.Equal(t, 1, backend.Stats.InstanceUpdates)
	assert.Equal(t, uploads, backend.Stats.Uploads)

	instances := s.Instances()
	require.Len(t, instances, 2)
	assert.Equal(t, uint32(0), instances[0].CustomIndex)
	assert.Equal(t, uint32(1), instances[1].CustomIndex)
	assert.Equal(t, float32(10), instances[1].Transform[7])

	assert.True(t, bytes.Equal(materials, memBytes(t, s.MaterialsBuffer())))
	assert.True(t, bytes.Equal(emissive, memBytes(t, s.EmissiveTriangleBuffer())))

	_, maxB := s.TLAS().Bounds()
	assert.Equal(t, float32(11), maxB.Y())
}

func TestMaterialsBufferRecords(t *testing.T) {
	s, _ := newTestScene(t)
	colors := []mgl32.Vec4{{1, 0, 0, 1}, {0, 1, 0, 1}, {0, 0, 1, 1}}
	for _, c := range colors {
		e := quad("q")
		e.Material = core.NewMaterial(c)
		_, err := s.AddEntity(e)
		require.NoError(t, err)
	}

	require.NoError(t, s.UpdateMaterialsBuffer())
	data := memBytes(t, s.MaterialsBuffer())
	require.Len(t, data, len(colors)*core.MaterialRecordSize)

	for i := range colors {
		m := s.Entity(i).Material
		want := m.ToBytes()
		got := data[i*core.MaterialRecordSize : (i+1)*core.MaterialRecordSize]
		assert.Equal(t, want, got, "record %d", i)
	}
}

func TestMaterialsBufferEmptyIsNoop(t *testing.T) {
	s, backend := newTestScene(t)
	require.NoError(t, s.UpdateMaterialsBuffer())
	assert.Nil(t, s.MaterialsBuffer())
	assert.Equal(t, 0, backend.Stats.BuffersCreated)
}

func TestMaterialsBufferReusedAndGrown(t *testing.T) {
	s, _ := newTestScene(t)
	_, err := s.AddEntity(quad("a"))
	require.NoError(t, err)
	require.NoError(t, s.UpdateMaterialsBuffer())
	first := s.MaterialsBuffer()

	s.Entity(0).Material.BaseColorFactor = mgl32.Vec4{0.2, 0.2, 0.2, 1}
	require.NoError(t, s.UpdateMaterialsBuffer())
	assert.Same(t, first, s.MaterialsBuffer())
	assert.Equal(t, float32(0.2), core.Float32At(memBytes(t, first), 0))

	_, err = s.AddEntity(quad("b"))
	require.NoError(t, err)
	require.NoError(t, s.UpdateMaterialsBuffer())
	assert.NotSame(t, first, s.MaterialsBuffer())
	assert.True(t, first.(*gpu.MemoryBuffer).Released)
	assert.Equal(t, uint64(2*core.MaterialRecordSize), s.MaterialsBuffer().Size())
}

func TestEmissivePlaceholderWhenNoEmitters(t *testing.T) {
	s, _ := newTestScene(t)
	_, err := s.AddEntity(quad("plain"))
	require.NoError(t, err)

	require.NoError(t, s.UpdateEmissiveTriangleBuffer())
	data := memBytes(t, s.EmissiveTriangleBuffer())
	assert.Equal(t, make([]byte, core.LightTriangleSize), data)
	assert.Equal(t, 0, s.EmissiveTriangleCount())
}

func TestEmissiveTrianglesInWorldSpace(t *testing.T) {
	s, _ := newTestScene(t)
	_, err := s.AddEntity(quad("plain"))
	require.NoError(t, err)

	lamp := emissiveQuad("lamp", mgl32.Vec3{5, 4, 3})
	lamp.Transform = mgl32.Translate3D(0, 2, 0).Mul4(mgl32.Scale3D(2, 2, 2))
	_, err = s.AddEntity(lamp)
	require.NoError(t, err)

	require.NoError(t, s.UpdateEmissiveTriangleBuffer())
	require.Equal(t, 2, s.EmissiveTriangleCount())

	data := memBytes(t, s.EmissiveTriangleBuffer())
	require.Len(t, data, 2*core.LightTriangleSize)

	for tri := 0; tri < 2; tri++ {
		a, b, c := lamp.Mesh.Triangle(tri)
		off := tri * core.LightTriangleSize
		assert.Equal(t, core.TransformPoint(lamp.Transform, a), core.Vec3At(data, off))
		assert.Equal(t, core.TransformPoint(lamp.Transform, b), core.Vec3At(data, off+16))
		assert.Equal(t, core.TransformPoint(lamp.Transform, c), core.Vec3At(data, off+32))
		assert.Equal(t, mgl32.Vec3{5, 4, 3}, core.Vec3At(data, off+48))
	}
	assert.Equal(t, mgl32.Vec3{2, 4, 0}, s.EmissiveTriangles()[0].V2)
}

func TestEmissiveBufferNeverShrinks(t *testing.T) {
	s, _ := newTestScene(t)
	lamp := emissiveQuad("lamp", mgl32.Vec3{1, 1, 1})
	_, err := s.AddEntity(lamp)
	require.NoError(t, err)
	require.NoError(t, s.UpdateEmissiveTriangleBuffer())
	buf := s.EmissiveTriangleBuffer()
	assert.Equal(t, uint64(2*core.LightTriangleSize), buf.Size())

	lamp.Material.EmissiveFactor = mgl32.Vec3{}
	require.NoError(t, s.UpdateEmissiveTriangleBuffer())
	assert.Same(t, buf, s.EmissiveTriangleBuffer())
	assert.Equal(t, uint64(2*core.LightTriangleSize), buf.Size())
	assert.Equal(t, 0, s.EmissiveTriangleCount())

	lamp.Material.EmissiveFactor = mgl32.Vec3{1, 0, 0}
	_, err = s.AddEntity(emissiveQuad("second", mgl32.Vec3{0, 1, 0}))
	require.NoError(t, err)
	require.NoError(t, s.UpdateEmissiveTriangleBuffer())
	assert.NotSame(t, buf, s.EmissiveTriangleBuffer())
	assert.Equal(t, uint64(4*core.LightTriangleSize), s.EmissiveTriangleBuffer().Size())
}

func TestEmissionTestIsExactZero(t *testing.T) {
	s, _ := newTestScene(t)
	_, err := s.AddEntity(emissiveQuad("faint", mgl32.Vec3{1e-9, 0, 0}))
	require.NoError(t, err)
	require.NoError(t, s.UpdateEmissiveTriangleBuffer())
	assert.Equal(t, 2, s.EmissiveTriangleCount())
}

func TestLightsBuffer(t *testing.T) {
	s, _ := newTestScene(t)
	require.NoError(t, s.UpdateLightsBuffer())
	assert.Equal(t, uint64(core.LightRecordSize), s.LightsBuffer().Size())

	sun := core.Light{Type: core.LightTypeSun, Color: mgl32.Vec3{1, 1, 1}, Intensity: 3, Direction: mgl32.Vec3{0, -1, 0}}
	lamp := core.Light{Type: core.LightTypePoint, Color: mgl32.Vec3{1, 0.5, 0}, Intensity: 10, Position: mgl32.Vec3{0, 2, 0}}
	s.SetLights([]core.Light{sun, lamp})
	require.NoError(t, s.UpdateLightsBuffer())

	data := memBytes(t, s.LightsBuffer())
	require.Len(t, data, 2*core.LightRecordSize)
	assert.Equal(t, sun.ToBytes(), data[:core.LightRecordSize])
	assert.Equal(t, lamp.ToBytes(), data[core.LightRecordSize:])
}

func TestClearReleasesEverything(t *testing.T) {
	s, _ := newTestScene(t)
	_, err := s.AddEntity(emissiveQuad("lamp", mgl32.Vec3{1, 1, 1}))
	require.NoError(t, err)
	require.NoError(t, s.BuildAccelerationStructures())

	attrs, _ := s.Attributes(0)
	blas := s.BLAS(0).(*gpu.MemoryAS)
	tlas := s.TLAS().(*gpu.MemoryAS)
	materials := s.MaterialsBuffer().(*gpu.MemoryBuffer)
	emissive := s.EmissiveTriangleBuffer().(*gpu.MemoryBuffer)
	lights := s.LightsBuffer().(*gpu.MemoryBuffer)

	s.Clear()

	assert.Equal(t, 0, s.EntityCount())
	assert.Nil(t, s.TLAS())
	assert.Nil(t, s.MaterialsBuffer())
	assert.Nil(t, s.EmissiveTriangleBuffer())
	assert.Empty(t, s.Instances())
	assert.True(t, attrs.Positions.(*gpu.MemoryBuffer).Released)
	assert.True(t, attrs.Indices.(*gpu.MemoryBuffer).Released)
	assert.True(t, attrs.Normals.(*gpu.MemoryBuffer).Released)
	assert.True(t, blas.Released)
	assert.True(t, tlas.Released)
	assert.True(t, materials.Released)
	assert.True(t, emissive.Released)
	assert.True(t, lights.Released)

	idx, err := s.AddEntity(quad("again"))
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}

func TestFindEntity(t *testing.T) {
	s, _ := newTestScene(t)
	_, err := s.AddEntity(quad("floor"))
	require.NoError(t, err)
	_, err = s.AddEntity(quad("lamp"))
	require.NoError(t, err)

	assert.Equal(t, 1, s.FindEntity("lamp"))
	assert.Equal(t, -1, s.FindEntity("missing"))
	assert.Nil(t, s.Entity(5))
	assert.ErrorIs(t, s.SetTransform(5, mgl32.Ident4()), ErrIndexRange)
	assert.Len(t, s.Entities(), 2)
}
