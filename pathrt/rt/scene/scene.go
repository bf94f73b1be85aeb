package scene

import (
	"errors"
	"fmt"

	"github.com/gekko3d/pathtrace/pathrt/rt/core"
	"github.com/gekko3d/pathtrace/pathrt/rt/gpu"

	"github.com/go-gl/mathgl/mgl32"
)

var (
	ErrInvalidEntity = errors.New("scene: entity has no valid geometry")
	ErrIndexRange    = errors.New("scene: entity index out of range")
)

// entityRecord is one row of the entity table. Row i is material record i
// and TLAS instance custom index i.
type entityRecord struct {
	entity *core.Entity

	positions gpu.Buffer
	indices   gpu.Buffer
	normals   gpu.Buffer // nil when the mesh has no normals
	texcoords gpu.Buffer // nil when the mesh has no texcoords
	tangents  gpu.Buffer // nil when the mesh has no tangents

	blas gpu.AccelerationStructure
}

func (r *entityRecord) release() {
	for _, b := range []gpu.Buffer{r.positions, r.indices, r.normals, r.texcoords, r.tangents} {
		if b != nil {
			b.Release()
		}
	}
	if r.blas != nil {
		r.blas.Release()
	}
}

// Scene is the entity registry and the GPU state derived from it. It is not
// safe for concurrent use; callers serialize every mutation.
type Scene struct {
	backend gpu.Backend
	log     core.Logger

	records []entityRecord

	tlas      gpu.AccelerationStructure
	instances []gpu.Instance

	materialsBuf gpu.Buffer

	emissiveBuf   gpu.Buffer
	emissiveCount int
	emissiveTris  []core.LightTriangle

	lights    []core.Light
	lightsBuf gpu.Buffer
}

func NewScene(backend gpu.Backend, log core.Logger) *Scene {
	return &Scene{
		backend: backend,
		log:     core.OrNop(log),
	}
}

// AddEntity uploads the entity's attribute buffers, builds its BLAS and
// appends it. It returns the entity's registry index. On any failure the
// registry is unchanged.
func (s *Scene) AddEntity(e *core.Entity) (int, error) {
	if !e.IsValid() {
		name := "<nil>"
		if e != nil {
			name = e.Name
		}
		s.log.Errorf("Rejecting entity %q: no valid geometry", name)
		return -1, ErrInvalidEntity
	}

	rec := entityRecord{entity: e}
	if err := s.uploadAttributes(&rec); err != nil {
		rec.release()
		return -1, fmt.Errorf("scene: entity %q: %w", e.Name, err)
	}

	blas, err := s.backend.CreateBottomLevelAccelerationStructure(gpu.Geometry{
		Positions:    e.Mesh.Positions,
		Indices:      e.Mesh.Indices,
		VertexBuffer: rec.positions,
		IndexBuffer:  rec.indices,
	})
	if err != nil {
		rec.release()
		return -1, fmt.Errorf("scene: entity %q: build BLAS: %w", e.Name, err)
	}
	rec.blas = blas

	s.records = append(s.records, rec)
	idx := len(s.records) - 1
	s.log.Debugf("Entity %d %q: %d vertices, %d triangles", idx, e.Name, len(e.Mesh.Positions), e.Mesh.NumTriangles())
	return idx, nil
}

func (s *Scene) uploadAttributes(rec *entityRecord) error {
	mesh := &rec.entity.Mesh
	var err error

	rec.positions, err = gpu.CreateBufferWithData(s.backend, "PositionsBuf", core.Vec3sToBytes(mesh.Positions, 1), gpu.BufferUsageVertex)
	if err != nil {
		return err
	}
	rec.indices, err = gpu.CreateBufferWithData(s.backend, "IndicesBuf", core.Uint32sToBytes(mesh.Indices), gpu.BufferUsageIndex)
	if err != nil {
		return err
	}
	if len(mesh.Normals) > 0 {
		rec.normals, err = gpu.CreateBufferWithData(s.backend, "NormalsBuf", core.Vec3sToBytes(mesh.Normals, 0), gpu.BufferUsageVertex)
		if err != nil {
			return err
		}
	}
	if len(mesh.TexCoords) > 0 {
		rec.texcoords, err = gpu.CreateBufferWithData(s.backend, "TexCoordsBuf", core.Vec2sToBytes(mesh.TexCoords), gpu.BufferUsageVertex)
		if err != nil {
			return err
		}
	}
	if len(mesh.Tangents) > 0 {
		rec.tangents, err = gpu.CreateBufferWithData(s.backend, "TangentsBuf", core.Vec4sToBytes(mesh.Tangents), gpu.BufferUsageVertex)
		if err != nil {
			return err
		}
	}
	return nil
}

// Clear releases every GPU resource the scene owns and empties the registry.
func (s *Scene) Clear() {
	for i := range s.records {
		s.records[i].release()
	}
	s.records = nil

	if s.tlas != nil {
		s.tlas.Release()
		s.tlas = nil
	}
	s.instances = nil

	for _, b := range []gpu.Buffer{s.materialsBuf, s.emissiveBuf, s.lightsBuf} {
		if b != nil {
			b.Release()
		}
	}
	s.materialsBuf = nil
	s.emissiveBuf = nil
	s.emissiveCount = 0
	s.emissiveTris = nil
	s.lightsBuf = nil
	s.lights = nil
}

func (s *Scene) EntityCount() int {
	return len(s.records)
}

func (s *Scene) Entity(i int) *core.Entity {
	if i < 0 || i >= len(s.records) {
		return nil
	}
	return s.records[i].entity
}

// Entities returns the entities in registry order.
func (s *Scene) Entities() []*core.Entity {
	out := make([]*core.Entity, len(s.records))
	for i := range s.records {
		out[i] = s.records[i].entity
	}
	return out
}

// FindEntity returns the index of the first entity called name, or -1.
func (s *Scene) FindEntity(name string) int {
	for i := range s.records {
		if s.records[i].entity.Name == name {
			return i
		}
	}
	return -1
}

// SetTransform replaces entity i's world transform. The TLAS sees the change
// after UpdateInstances or BuildAccelerationStructures.
func (s *Scene) SetTransform(i int, m mgl32.Mat4) error {
	if i < 0 || i >= len(s.records) {
		return ErrIndexRange
	}
	s.records[i].entity.Transform = m
	return nil
}

// AttributeBuffers holds one entity's uploaded vertex data. Optional
// attributes are nil when the mesh lacks them.
type AttributeBuffers struct {
	Positions gpu.Buffer
	Indices   gpu.Buffer
	Normals   gpu.Buffer
	TexCoords gpu.Buffer
	Tangents  gpu.Buffer
}

func (s *Scene) Attributes(i int) (AttributeBuffers, bool) {
	if i < 0 || i >= len(s.records) {
		return AttributeBuffers{}, false
	}
	r := &s.records[i]
	return AttributeBuffers{
		Positions: r.positions,
		Indices:   r.indices,
		Normals:   r.normals,
		TexCoords: r.texcoords,
		Tangents:  r.tangents,
	}, true
}

// VertexBuffers returns the position buffers in registry order.
func (s *Scene) VertexBuffers() []gpu.Buffer {
	out := make([]gpu.Buffer, len(s.records))
	for i := range s.records {
		out[i] = s.records[i].positions
	}
	return out
}

// IndexBuffers returns the index buffers in registry order.
func (s *Scene) IndexBuffers() []gpu.Buffer {
	out := make([]gpu.Buffer, len(s.records))
	for i := range s.records {
		out[i] = s.records[i].indices
	}
	return out
}

// BLAS returns entity i's bottom-level structure.
func (s *Scene) BLAS(i int) gpu.AccelerationStructure {
	if i < 0 || i >= len(s.records) {
		return nil
	}
	return s.records[i].blas
}

func (s *Scene) TLAS() gpu.AccelerationStructure {
	return s.tlas
}

// Instances returns the instance list last submitted to the TLAS.
func (s *Scene) Instances() []gpu.Instance {
	return s.instances
}

func (s *Scene) MaterialsBuffer() gpu.Buffer {
	return s.materialsBuf
}

func (s *Scene) EmissiveTriangleBuffer() gpu.Buffer {
	return s.emissiveBuf
}

// EmissiveTriangleCount is the number of real records in the emissive
// buffer; the placeholder is not counted.
func (s *Scene) EmissiveTriangleCount() int {
	return s.emissiveCount
}

// EmissiveTriangles returns the CPU copy of the last uploaded list.
func (s *Scene) EmissiveTriangles() []core.LightTriangle {
	return s.emissiveTris
}

func (s *Scene) LightsBuffer() gpu.Buffer {
	return s.lightsBuf
}

func (s *Scene) Lights() []core.Light {
	return s.lights
}
