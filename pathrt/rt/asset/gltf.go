package asset

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gekko3d/pathtrace/pathrt/rt/core"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
)

const (
	extLightsPunctual   = "KHR_lights_punctual"
	extTransmission     = "KHR_materials_transmission"
	extIOR              = "KHR_materials_ior"
	extClearcoat        = "KHR_materials_clearcoat"
	extEmissiveStrength = "KHR_materials_emissive_strength"
	extDispersion       = "KHR_materials_dispersion"
)

// OpenGLTF reads a .gltf or .glb file, with its external or embedded
// buffers and images, into a Source.
func OpenGLTF(path string, log core.Logger) (*Source, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, err
	}
	return convertDocument(doc, filepath.Dir(path), core.OrNop(log))
}

func convertDocument(doc *gltf.Document, dir string, log core.Logger) (*Source, error) {
	src := &Source{}

	accessors := make([]*Accessor, len(doc.Accessors))
	for i, acc := range doc.Accessors {
		a, err := convertAccessor(doc, acc)
		if err != nil {
			// Primitives using it see the attribute as missing and are skipped.
			log.Warnf("Accessor %d unreadable: %v", i, err)
			continue
		}
		accessors[i] = a
	}
	accessorAt := func(idx int) *Accessor {
		if idx < 0 || idx >= len(accessors) {
			return nil
		}
		return accessors[idx]
	}

	for _, m := range doc.Meshes {
		mesh := Mesh{Name: m.Name}
		for _, p := range m.Primitives {
			prim := Primitive{
				Attributes: make(map[string]*Accessor, len(p.Attributes)),
				Material:   -1,
				Mode:       convertMode(p.Mode),
			}
			for name, idx := range p.Attributes {
				if a := accessorAt(int(idx)); a != nil {
					prim.Attributes[name] = a
				}
			}
			if p.Indices != nil {
				prim.Indices = accessorAt(int(*p.Indices))
			}
			if p.Material != nil {
				prim.Material = int(*p.Material)
			}
			mesh.Primitives = append(mesh.Primitives, prim)
		}
		src.Meshes = append(src.Meshes, mesh)
	}

	for _, n := range doc.Nodes {
		src.Nodes = append(src.Nodes, convertNode(n))
	}
	src.Roots = sceneRoots(doc, len(src.Nodes))

	for _, m := range doc.Materials {
		src.Materials = append(src.Materials, convertMaterial(m))
	}

	for _, t := range doc.Textures {
		desc := TextureDesc{Image: -1}
		if t.Source != nil {
			desc.Image = int(*t.Source)
		}
		src.Textures = append(src.Textures, desc)
	}

	for i, img := range doc.Images {
		data, err := imageBytes(doc, img, dir)
		if err != nil {
			log.Warnf("Image %d (%s): %v", i, img.Name, err)
		}
		src.Images = append(src.Images, ImageDesc{Name: img.Name, MimeType: img.MimeType, Data: data})
	}

	if raw, ok := doc.Extensions[extLightsPunctual]; ok {
		var ext struct {
			Lights []struct {
				Name      string      `json:"name"`
				Type      string      `json:"type"`
				Color     *[3]float32 `json:"color"`
				Intensity *float32    `json:"intensity"`
			} `json:"lights"`
		}
		if err := decodeExtension(raw, &ext); err != nil {
			return nil, fmt.Errorf("%s: %w", extLightsPunctual, err)
		}
		for _, l := range ext.Lights {
			d := LightDesc{Name: l.Name, Type: l.Type, Color: mgl32.Vec3{1, 1, 1}, Intensity: 1}
			if l.Color != nil {
				d.Color = mgl32.Vec3(*l.Color)
			}
			if l.Intensity != nil {
				d.Intensity = *l.Intensity
			}
			src.Lights = append(src.Lights, d)
		}
	}
	return src, nil
}

func convertComponentType(c gltf.ComponentType) ComponentType {
	switch c {
	case gltf.ComponentByte:
		return ComponentByte
	case gltf.ComponentUbyte:
		return ComponentUnsignedByte
	case gltf.ComponentShort:
		return ComponentShort
	case gltf.ComponentUshort:
		return ComponentUnsignedShort
	case gltf.ComponentUint:
		return ComponentUnsignedInt
	case gltf.ComponentFloat:
		return ComponentFloat
	}
	return 0
}

func components(t gltf.AccessorType) int {
	switch t {
	case gltf.AccessorScalar:
		return 1
	case gltf.AccessorVec2:
		return 2
	case gltf.AccessorVec3:
		return 3
	case gltf.AccessorVec4, gltf.AccessorMat2:
		return 4
	case gltf.AccessorMat3:
		return 9
	case gltf.AccessorMat4:
		return 16
	}
	return 0
}

func convertMode(m gltf.PrimitiveMode) PrimitiveMode {
	switch m {
	case gltf.PrimitivePoints:
		return ModePoints
	case gltf.PrimitiveLines:
		return ModeLines
	case gltf.PrimitiveLineLoop:
		return ModeLineLoop
	case gltf.PrimitiveLineStrip:
		return ModeLineStrip
	case gltf.PrimitiveTriangleStrip:
		return ModeTriangleStrip
	case gltf.PrimitiveTriangleFan:
		return ModeTriangleFan
	}
	return ModeTriangles
}

func convertAccessor(doc *gltf.Document, acc *gltf.Accessor) (*Accessor, error) {
	a := &Accessor{
		ComponentType: convertComponentType(acc.ComponentType),
		Components:    components(acc.Type),
		Count:         int(acc.Count),
		Normalized:    acc.Normalized,
		Sparse:        acc.Sparse != nil,
	}
	if acc.BufferView == nil {
		// No view: every element is zero.
		a.Data = make([]byte, a.Count*a.elementSize())
		return a, nil
	}

	viewIdx := int(*acc.BufferView)
	if viewIdx < 0 || viewIdx >= len(doc.BufferViews) {
		return nil, fmt.Errorf("buffer view %d out of range", viewIdx)
	}
	view := doc.BufferViews[viewIdx]
	data, err := viewBytes(doc, view)
	if err != nil {
		return nil, fmt.Errorf("buffer view %d: %w", viewIdx, err)
	}
	off := int(acc.ByteOffset)
	if off > len(data) {
		return nil, fmt.Errorf("byte offset %d past buffer view of %d bytes", off, len(data))
	}
	a.Data = data[off:]
	a.ByteStride = int(view.ByteStride)
	return a, nil
}

func viewBytes(doc *gltf.Document, view *gltf.BufferView) ([]byte, error) {
	bufIdx := int(view.Buffer)
	if bufIdx < 0 || bufIdx >= len(doc.Buffers) {
		return nil, fmt.Errorf("buffer %d out of range", bufIdx)
	}
	data := doc.Buffers[bufIdx].Data
	start := int(view.ByteOffset)
	end := start + int(view.ByteLength)
	if start < 0 || end > len(data) {
		return nil, fmt.Errorf("range %d..%d outside buffer of %d bytes", start, end, len(data))
	}
	return data[start:end], nil
}

var identityMatrix = [16]float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}

func convertNode(n *gltf.Node) Node {
	node := Node{Name: n.Name, Mesh: -1, Light: -1}
	for _, c := range n.Children {
		node.Children = append(node.Children, int(c))
	}
	if n.Mesh != nil {
		node.Mesh = int(*n.Mesh)
	}

	// The decoder fills absent fields with identity values, so only a
	// non-identity matrix is treated as explicit.
	if n.Matrix != identityMatrix && n.Matrix != ([16]float64{}) {
		var m mgl32.Mat4
		for i, v := range n.Matrix {
			m[i] = float32(v)
		}
		node.Matrix = &m
	} else {
		t := mgl32.Vec3{float32(n.Translation[0]), float32(n.Translation[1]), float32(n.Translation[2])}
		node.Translation = &t
		if n.Rotation != ([4]float64{}) {
			q := mgl32.Quat{
				W: float32(n.Rotation[3]),
				V: mgl32.Vec3{float32(n.Rotation[0]), float32(n.Rotation[1]), float32(n.Rotation[2])},
			}
			node.Rotation = &q
		}
		if n.Scale != ([3]float64{}) {
			s := mgl32.Vec3{float32(n.Scale[0]), float32(n.Scale[1]), float32(n.Scale[2])}
			node.Scale = &s
		}
	}

	if raw, ok := n.Extensions[extLightsPunctual]; ok {
		var ext struct {
			Light *int `json:"light"`
		}
		if err := decodeExtension(raw, &ext); err == nil && ext.Light != nil {
			node.Light = *ext.Light
		}
	}
	return node
}

// sceneRoots returns the default scene's root nodes, or every parentless
// node when the file declares no scene.
func sceneRoots(doc *gltf.Document, nodeCount int) []int {
	if len(doc.Scenes) > 0 {
		idx := 0
		if doc.Scene != nil && int(*doc.Scene) < len(doc.Scenes) {
			idx = int(*doc.Scene)
		}
		roots := make([]int, 0, len(doc.Scenes[idx].Nodes))
		for _, n := range doc.Scenes[idx].Nodes {
			roots = append(roots, int(n))
		}
		return roots
	}

	isChild := make([]bool, nodeCount)
	for _, n := range doc.Nodes {
		for _, c := range n.Children {
			if int(c) < nodeCount {
				isChild[int(c)] = true
			}
		}
	}
	var roots []int
	for i, child := range isChild {
		if !child {
			roots = append(roots, i)
		}
	}
	return roots
}

func convertMaterial(m *gltf.Material) MaterialDesc {
	d := NewMaterialDesc(m.Name)

	if pbr := m.PBRMetallicRoughness; pbr != nil {
		if pbr.BaseColorFactor != nil {
			c := *pbr.BaseColorFactor
			d.BaseColorFactor = mgl32.Vec4{float32(c[0]), float32(c[1]), float32(c[2]), float32(c[3])}
		}
		if pbr.MetallicFactor != nil {
			d.MetallicFactor = float32(*pbr.MetallicFactor)
		}
		if pbr.RoughnessFactor != nil {
			d.RoughnessFactor = float32(*pbr.RoughnessFactor)
		}
		if pbr.BaseColorTexture != nil {
			d.BaseColorTexture = int(pbr.BaseColorTexture.Index)
		}
		if pbr.MetallicRoughnessTexture != nil {
			d.MetallicRoughnessTexture = int(pbr.MetallicRoughnessTexture.Index)
		}
	}

	d.EmissiveFactor = mgl32.Vec3{float32(m.EmissiveFactor[0]), float32(m.EmissiveFactor[1]), float32(m.EmissiveFactor[2])}
	if m.EmissiveTexture != nil {
		d.EmissiveTexture = int(m.EmissiveTexture.Index)
	}
	if nt := m.NormalTexture; nt != nil {
		if nt.Index != nil {
			d.NormalTexture = int(*nt.Index)
		}
		if nt.Scale != nil {
			d.NormalScale = float32(*nt.Scale)
		}
	}
	if ot := m.OcclusionTexture; ot != nil {
		if ot.Index != nil {
			d.OcclusionTexture = int(*ot.Index)
		}
		if ot.Strength != nil {
			d.OcclusionStrength = float32(*ot.Strength)
		}
	}

	switch m.AlphaMode {
	case gltf.AlphaMask:
		d.AlphaMode = "MASK"
	case gltf.AlphaBlend:
		d.AlphaMode = "BLEND"
	default:
		d.AlphaMode = "OPAQUE"
	}

	applyMaterialExtensions(&d, m.Extensions)
	return d
}

func applyMaterialExtensions(d *MaterialDesc, exts gltf.Extensions) {
	if raw, ok := exts[extTransmission]; ok {
		var ext struct {
			TransmissionFactor float32 `json:"transmissionFactor"`
		}
		if decodeExtension(raw, &ext) == nil {
			d.Transmission = ext.TransmissionFactor
		}
	}
	if raw, ok := exts[extIOR]; ok {
		ext := struct {
			IOR float32 `json:"ior"`
		}{IOR: 1.5}
		if decodeExtension(raw, &ext) == nil {
			d.IOR = ext.IOR
		}
	}
	if raw, ok := exts[extClearcoat]; ok {
		var ext struct {
			ClearcoatFactor          float32 `json:"clearcoatFactor"`
			ClearcoatRoughnessFactor float32 `json:"clearcoatRoughnessFactor"`
		}
		if decodeExtension(raw, &ext) == nil {
			d.ClearcoatFactor = ext.ClearcoatFactor
			d.ClearcoatRoughness = ext.ClearcoatRoughnessFactor
		}
	}
	if raw, ok := exts[extEmissiveStrength]; ok {
		ext := struct {
			EmissiveStrength float32 `json:"emissiveStrength"`
		}{EmissiveStrength: 1}
		if decodeExtension(raw, &ext) == nil {
			d.EmissiveStrength = ext.EmissiveStrength
		}
	}
	if raw, ok := exts[extDispersion]; ok {
		var ext struct {
			Dispersion float32 `json:"dispersion"`
		}
		if decodeExtension(raw, &ext) == nil {
			d.Dispersion = ext.Dispersion
		}
	}
}

// decodeExtension unmarshals an extension the decoder left undecoded.
func decodeExtension(v any, out any) error {
	switch raw := v.(type) {
	case json.RawMessage:
		return json.Unmarshal(raw, out)
	case []byte:
		return json.Unmarshal(raw, out)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func imageBytes(doc *gltf.Document, img *gltf.Image, dir string) ([]byte, error) {
	if img.BufferView != nil {
		idx := int(*img.BufferView)
		if idx < 0 || idx >= len(doc.BufferViews) {
			return nil, fmt.Errorf("buffer view %d out of range", idx)
		}
		return viewBytes(doc, doc.BufferViews[idx])
	}
	if img.URI == "" {
		return nil, fmt.Errorf("image has neither buffer view nor URI")
	}
	if strings.HasPrefix(img.URI, "data:") {
		comma := strings.IndexByte(img.URI, ',')
		if comma < 0 || !strings.Contains(img.URI[:comma], ";base64") {
			return nil, fmt.Errorf("unsupported data URI")
		}
		return base64.StdEncoding.DecodeString(img.URI[comma+1:])
	}
	name, err := url.PathUnescape(img.URI)
	if err != nil {
		name = img.URI
	}
	return os.ReadFile(filepath.Join(dir, filepath.FromSlash(name)))
}
