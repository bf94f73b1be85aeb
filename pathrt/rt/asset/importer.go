package asset

import (
	"errors"
	"fmt"

	"github.com/gekko3d/pathtrace/pathrt/rt/core"
	"github.com/gekko3d/pathtrace/pathrt/rt/scene"
	"github.com/gekko3d/pathtrace/pathrt/rt/texture"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

var ErrNotTriangles = errors.New("asset: primitive is not a triangle list")

// EntitySink receives imported entities; *scene.Scene implements it.
type EntitySink interface {
	AddEntity(e *core.Entity) (int, error)
}

// TextureSink receives decoded textures; *texture.Store implements it.
type TextureSink interface {
	AddTexture(img *texture.Image) (int, error)
}

// Importer turns a scene file into entities, textures and lights.
type Importer struct {
	Scene    EntitySink
	Textures TextureSink // nil drops every texture reference
	Log      core.Logger
}

func NewImporter(sceneSink EntitySink, textures TextureSink, log core.Logger) *Importer {
	return &Importer{Scene: sceneSink, Textures: textures, Log: core.OrNop(log)}
}

// Result summarizes one import.
type Result struct {
	Entities int
	Skipped  int // primitives dropped with a warning
	Textures int
	Lights   []core.Light
}

// Import reads a .gltf or .glb file. An unreadable or unparseable file fails
// the whole import; problems with single primitives are logged and skipped.
func (im *Importer) Import(path string) (*Result, error) {
	im.Log = core.OrNop(im.Log)
	src, err := OpenGLTF(path, im.Log)
	if err != nil {
		return nil, fmt.Errorf("asset: import %s: %w", path, err)
	}
	im.Log.Infof("Importing %s: %d nodes, %d meshes, %d materials, %d images",
		path, len(src.Nodes), len(src.Meshes), len(src.Materials), len(src.Images))
	return im.ImportSource(src)
}

type importState struct {
	src       *Source
	res       *Result
	textures  []int32 // source texture index -> store id
	materials []core.Material
	visited   []bool
}

// ImportSource imports an already decoded scene description.
func (im *Importer) ImportSource(src *Source) (*Result, error) {
	im.Log = core.OrNop(im.Log)
	st := &importState{
		src:     src,
		res:     &Result{},
		visited: make([]bool, len(src.Nodes)),
	}

	if err := im.importTextures(st); err != nil {
		return nil, err
	}
	st.materials = make([]core.Material, len(src.Materials))
	for i := range src.Materials {
		st.materials[i] = im.convertMaterial(&src.Materials[i], st.textures)
	}

	for _, root := range src.Roots {
		if err := im.visitNode(st, root, mgl32.Ident4()); err != nil {
			return st.res, err
		}
	}

	im.Log.Infof("Imported %d entities (%d primitives skipped), %d textures, %d lights",
		st.res.Entities, st.res.Skipped, st.res.Textures, len(st.res.Lights))
	return st.res, nil
}

func (im *Importer) importTextures(st *importState) error {
	images := make([]int32, len(st.src.Images))
	for i := range images {
		images[i] = core.NoTexture
	}

	if im.Textures != nil {
		for i := range st.src.Images {
			desc := &st.src.Images[i]
			img, err := texture.DecodeBytes(desc.Data)
			if err != nil {
				im.Log.Warnf("Image %d (%s): %v", i, desc.Name, err)
				continue
			}
			id, err := im.Textures.AddTexture(img)
			if errors.Is(err, texture.ErrInvalidImage) {
				im.Log.Warnf("Image %d (%s): %v", i, desc.Name, err)
				continue
			}
			if err != nil {
				return fmt.Errorf("asset: image %d: %w", i, err)
			}
			images[i] = int32(id)
			st.res.Textures++
		}
	}

	st.textures = make([]int32, len(st.src.Textures))
	for i, tex := range st.src.Textures {
		st.textures[i] = core.NoTexture
		if tex.Image >= 0 && tex.Image < len(images) {
			st.textures[i] = images[tex.Image]
		}
	}
	return nil
}

// LocalMatrix returns the node's explicit matrix if it has one, otherwise
// T * R * S with missing fields at their defaults.
func LocalMatrix(n *Node) mgl32.Mat4 {
	if n.Matrix != nil {
		return *n.Matrix
	}
	t := core.NewTransform()
	if n.Translation != nil {
		t.Translation = *n.Translation
	}
	if n.Rotation != nil && quatLen(*n.Rotation) > 1e-8 {
		t.Rotation = *n.Rotation
	}
	if n.Scale != nil && *n.Scale != (mgl32.Vec3{}) {
		t.Scale = *n.Scale
	}
	return t.Matrix()
}

func quatLen(q mgl32.Quat) float32 {
	return math32.Sqrt(q.W*q.W + q.V.Dot(q.V))
}

func (im *Importer) visitNode(st *importState, idx int, parent mgl32.Mat4) error {
	if idx < 0 || idx >= len(st.src.Nodes) {
		im.Log.Warnf("Node index %d out of range", idx)
		return nil
	}
	if st.visited[idx] {
		im.Log.Warnf("Node %d visited twice, hierarchy is not a tree", idx)
		return nil
	}
	st.visited[idx] = true

	node := &st.src.Nodes[idx]
	world := parent.Mul4(LocalMatrix(node))

	if node.Mesh >= 0 {
		if node.Mesh >= len(st.src.Meshes) {
			im.Log.Warnf("Node %q references missing mesh %d", node.Name, node.Mesh)
		} else if err := im.importMesh(st, node, world); err != nil {
			return err
		}
	}
	if node.Light >= 0 {
		im.importLight(st, node, world)
	}

	for _, child := range node.Children {
		if err := im.visitNode(st, child, world); err != nil {
			return err
		}
	}
	return nil
}

func (im *Importer) importMesh(st *importState, node *Node, world mgl32.Mat4) error {
	mesh := &st.src.Meshes[node.Mesh]
	for p := range mesh.Primitives {
		prim := &mesh.Primitives[p]
		name := fmt.Sprintf("%s/%s#%d", node.Name, mesh.Name, p)

		geom, err := im.buildMesh(prim, name)
		if err != nil {
			im.Log.Warnf("Skipping primitive %s: %v", name, err)
			st.res.Skipped++
			continue
		}

		material := core.DefaultMaterial()
		if prim.Material >= 0 && prim.Material < len(st.materials) {
			material = st.materials[prim.Material]
		} else if prim.Material >= 0 {
			im.Log.Warnf("Primitive %s references missing material %d, using default", name, prim.Material)
		}

		e := core.NewEntity(name, geom, material)
		e.Transform = world
		if _, err := im.Scene.AddEntity(e); err != nil {
			if errors.Is(err, scene.ErrInvalidEntity) {
				im.Log.Warnf("Skipping primitive %s: %v", name, err)
				st.res.Skipped++
				continue
			}
			return fmt.Errorf("asset: add %s: %w", name, err)
		}
		st.res.Entities++
	}
	return nil
}

// buildMesh reads one primitive. Returned errors mean the primitive is
// skipped; problems with optional attributes only drop that attribute.
func (im *Importer) buildMesh(prim *Primitive, name string) (core.Mesh, error) {
	var mesh core.Mesh
	if prim.Mode != ModeTriangles {
		return mesh, fmt.Errorf("%w (mode %d)", ErrNotTriangles, prim.Mode)
	}
	posAcc := prim.Attributes[AttrPosition]
	if posAcc == nil {
		return mesh, fmt.Errorf("%w: %s", ErrMissingAttribute, AttrPosition)
	}
	if prim.Indices == nil {
		return mesh, fmt.Errorf("%w: indices", ErrMissingAttribute)
	}

	var err error
	if mesh.Positions, err = ReadVec3s(posAcc, im.Log); err != nil {
		return mesh, fmt.Errorf("positions: %w", err)
	}
	if mesh.Indices, err = ReadIndices(prim.Indices, im.Log); err != nil {
		return mesh, fmt.Errorf("indices: %w", err)
	}
	if len(mesh.Indices)%3 != 0 {
		return mesh, fmt.Errorf("%d indices do not form triangles", len(mesh.Indices))
	}
	for _, idx := range mesh.Indices {
		if int(idx) >= len(mesh.Positions) {
			return mesh, fmt.Errorf("index %d out of range for %d vertices", idx, len(mesh.Positions))
		}
	}

	n := len(mesh.Positions)
	if acc := prim.Attributes[AttrTexCoord0]; acc != nil {
		uvs, err := ReadVec2s(acc, im.Log)
		if err == nil && len(uvs) != n {
			err = fmt.Errorf("%d texcoords for %d vertices", len(uvs), n)
		}
		if err != nil {
			im.Log.Warnf("Primitive %s: dropping %s: %v", name, AttrTexCoord0, err)
		} else {
			mesh.TexCoords = uvs
		}
	}
	if acc := prim.Attributes[AttrNormal]; acc != nil {
		normals, err := ReadVec3s(acc, im.Log)
		if err == nil && len(normals) != n {
			err = fmt.Errorf("%d normals for %d vertices", len(normals), n)
		}
		if err != nil {
			im.Log.Warnf("Primitive %s: dropping %s: %v", name, AttrNormal, err)
		} else {
			mesh.Normals = normals
		}
	}
	if acc := prim.Attributes[AttrTangent]; acc != nil {
		tangents, err := ReadVec4s(acc, im.Log)
		if err == nil && len(tangents) != n {
			err = fmt.Errorf("%d tangents for %d vertices", len(tangents), n)
		}
		if err != nil {
			im.Log.Warnf("Primitive %s: dropping %s: %v", name, AttrTangent, err)
		} else {
			for _, t := range tangents {
				if t.W() != 1 {
					im.Log.Warnf("Primitive %s: tangent handedness %v is not 1", name, t.W())
					break
				}
			}
			mesh.Tangents = tangents
		}
	}
	return mesh, nil
}

// ParseAlphaMode maps OPAQUE, MASK and BLEND to their record values.
func ParseAlphaMode(s string) (core.AlphaMode, bool) {
	switch s {
	case "OPAQUE", "":
		return core.AlphaOpaque, true
	case "MASK":
		return core.AlphaMask, true
	case "BLEND":
		return core.AlphaBlend, true
	}
	return core.AlphaOpaque, false
}

func (im *Importer) convertMaterial(d *MaterialDesc, textures []int32) core.Material {
	texID := func(i int) int32 {
		if i < 0 || i >= len(textures) {
			return core.NoTexture
		}
		return textures[i]
	}

	m := core.DefaultMaterial()
	m.BaseColorFactor = d.BaseColorFactor
	m.BaseColorTexture = texID(d.BaseColorTexture)
	m.MetallicFactor = d.MetallicFactor
	m.RoughnessFactor = d.RoughnessFactor
	m.MetallicRoughnessTexture = texID(d.MetallicRoughnessTexture)
	m.EmissiveFactor = d.EmissiveFactor.Mul(d.EmissiveStrength)
	m.EmissiveTexture = texID(d.EmissiveTexture)
	m.OcclusionStrength = d.OcclusionStrength
	m.OcclusionTexture = texID(d.OcclusionTexture)
	m.NormalScale = d.NormalScale
	m.NormalTexture = texID(d.NormalTexture)
	m.Transmission = d.Transmission
	m.IOR = d.IOR
	m.ClearcoatFactor = d.ClearcoatFactor
	m.ClearcoatRoughness = d.ClearcoatRoughness
	m.Dispersion = d.Dispersion

	mode, ok := ParseAlphaMode(d.AlphaMode)
	if !ok {
		im.Log.Warnf("Material %q: unknown alpha mode %q, using OPAQUE", d.Name, d.AlphaMode)
	}
	m.AlphaMode = mode
	return m
}

func (im *Importer) importLight(st *importState, node *Node, world mgl32.Mat4) {
	if node.Light >= len(st.src.Lights) {
		im.Log.Warnf("Node %q references missing light %d", node.Name, node.Light)
		return
	}
	d := &st.src.Lights[node.Light]
	light := core.Light{
		Color:     d.Color,
		Intensity: d.Intensity,
		Position:  world.Col(3).Vec3(),
		Direction: world.Mul4x1(mgl32.Vec4{0, 0, -1, 0}).Vec3(),
	}
	if light.Direction.Len() > 0 {
		light.Direction = light.Direction.Normalize()
	}

	switch d.Type {
	case "point":
		light.Type = core.LightTypePoint
	case "directional":
		light.Type = core.LightTypeSun
	case "spot":
		im.Log.Warnf("Light %q: spot lights are imported as point lights", d.Name)
		light.Type = core.LightTypePoint
	default:
		im.Log.Warnf("Light %q: unknown type %q", d.Name, d.Type)
		return
	}
	st.res.Lights = append(st.res.Lights, light)
}
