package core

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// Mesh is indexed triangle geometry in object space. Normals, Tangents and
// TexCoords are optional; when present they run parallel to Positions.
type Mesh struct {
	Positions []mgl32.Vec3
	Normals   []mgl32.Vec3
	Tangents  []mgl32.Vec4 // w = handedness
	TexCoords []mgl32.Vec2
	Indices   []uint32
}

func (m *Mesh) NumTriangles() int {
	return len(m.Indices) / 3
}

// Triangle returns the object-space corners of triangle i.
func (m *Mesh) Triangle(i int) (mgl32.Vec3, mgl32.Vec3, mgl32.Vec3) {
	return m.Positions[m.Indices[3*i]], m.Positions[m.Indices[3*i+1]], m.Positions[m.Indices[3*i+2]]
}

// Valid reports whether the mesh has usable triangle geometry.
func (m *Mesh) Valid() bool {
	n := len(m.Positions)
	if n == 0 || len(m.Indices) == 0 || len(m.Indices)%3 != 0 {
		return false
	}
	for _, idx := range m.Indices {
		if int(idx) >= n {
			return false
		}
	}
	if len(m.Normals) != 0 && len(m.Normals) != n {
		return false
	}
	if len(m.Tangents) != 0 && len(m.Tangents) != n {
		return false
	}
	if len(m.TexCoords) != 0 && len(m.TexCoords) != n {
		return false
	}
	return true
}

// Bounds returns the object-space AABB of the referenced vertices.
func (m *Mesh) Bounds() (mgl32.Vec3, mgl32.Vec3) {
	if len(m.Positions) == 0 {
		return mgl32.Vec3{}, mgl32.Vec3{}
	}
	minB, maxB := m.Positions[0], m.Positions[0]
	for _, p := range m.Positions[1:] {
		for i := 0; i < 3; i++ {
			minB[i] = min(minB[i], p[i])
			maxB[i] = max(maxB[i], p[i])
		}
	}
	return minB, maxB
}

// Entity is one renderable: a mesh, its material and a world transform.
type Entity struct {
	ID        uuid.UUID
	Name      string
	Mesh      Mesh
	Material  Material
	Transform mgl32.Mat4
}

func NewEntity(name string, mesh Mesh, material Material) *Entity {
	return &Entity{
		ID:        uuid.New(),
		Name:      name,
		Mesh:      mesh,
		Material:  material,
		Transform: mgl32.Ident4(),
	}
}

func (e *Entity) IsValid() bool {
	return e != nil && e.Mesh.Valid()
}

// WorldTriangle returns triangle i transformed by the entity's transform.
func (e *Entity) WorldTriangle(i int) (mgl32.Vec3, mgl32.Vec3, mgl32.Vec3) {
	a, b, c := e.Mesh.Triangle(i)
	return TransformPoint(e.Transform, a), TransformPoint(e.Transform, b), TransformPoint(e.Transform, c)
}
