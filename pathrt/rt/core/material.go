package core

import (
	"github.com/go-gl/mathgl/mgl32"
)

// NoTexture marks an unused texture slot. Texture slots hold TextureStore ids.
const NoTexture int32 = -1

type AlphaMode int32

const (
	AlphaOpaque AlphaMode = 0
	AlphaMask   AlphaMode = 1
	AlphaBlend  AlphaMode = 2
)

// MaterialLayer is one set of surface parameters.
//
// GPU layout (std430, 96 bytes):
//
//	base_color_factor : vec4<f32>                                     0
//	base_color_tex : i32, roughness : f32, metallic : f32, mr_tex : i32 16
//	emissive_factor : vec3<f32>, emissive_tex : i32                   32
//	ao_strength : f32, ao_tex : i32, normal_scale : f32, normal_tex : i32 48
//	clearcoat : f32, clearcoat_roughness : f32, alpha_mode : i32, transmission : f32 64
//	ior : f32, dispersion : f32, pad : vec2<f32>                      80
type MaterialLayer struct {
	BaseColorFactor  mgl32.Vec4
	BaseColorTexture int32

	RoughnessFactor          float32
	MetallicFactor           float32
	MetallicRoughnessTexture int32

	EmissiveFactor  mgl32.Vec3
	EmissiveTexture int32

	OcclusionStrength float32
	OcclusionTexture  int32

	NormalScale   float32
	NormalTexture int32

	ClearcoatFactor    float32
	ClearcoatRoughness float32

	AlphaMode AlphaMode

	Transmission float32
	IOR          float32
	Dispersion   float32
}

const materialLayerSize = 96

// MaterialRecordSize is the byte size of one record in the materials buffer.
const MaterialRecordSize = 2*materialLayerSize + 16

// Material is the per-entity shading record. Layer2 is the optional outer
// layer; it only contributes when BlendFactor > 0.
type Material struct {
	MaterialLayer
	Layer2 MaterialLayer

	Thin           float32 // 0 = thick opaque layer, 1 = thin transparent layer
	BlendFactor    float32
	LayerThickness float32
}

func DefaultMaterialLayer() MaterialLayer {
	return MaterialLayer{
		BaseColorFactor:          mgl32.Vec4{1, 1, 1, 1},
		BaseColorTexture:         NoTexture,
		RoughnessFactor:          0.5,
		MetallicFactor:           0.0,
		MetallicRoughnessTexture: NoTexture,
		EmissiveTexture:          NoTexture,
		OcclusionStrength:        1.0,
		OcclusionTexture:         NoTexture,
		NormalScale:              1.0,
		NormalTexture:            NoTexture,
		AlphaMode:                AlphaOpaque,
		IOR:                      1.45,
	}
}

// DefaultMaterial is assigned to primitives that carry no material.
func DefaultMaterial() Material {
	return Material{
		MaterialLayer: DefaultMaterialLayer(),
		Layer2:        DefaultMaterialLayer(),
	}
}

// NewMaterial returns the default material with the given base color.
func NewMaterial(baseColor mgl32.Vec4) Material {
	m := DefaultMaterial()
	m.BaseColorFactor = baseColor
	return m
}

// IsEmissive reports whether the material's emission is anything other than
// exactly zero.
func (m *Material) IsEmissive() bool {
	return m.EmissiveFactor != (mgl32.Vec3{})
}

func (l *MaterialLayer) put(buf []byte, off int) int {
	off = putVec4(buf, off, l.BaseColorFactor)

	off = putI32(buf, off, l.BaseColorTexture)
	off = putF32(buf, off, l.RoughnessFactor)
	off = putF32(buf, off, l.MetallicFactor)
	off = putI32(buf, off, l.MetallicRoughnessTexture)

	off = putF32(buf, off, l.EmissiveFactor[0])
	off = putF32(buf, off, l.EmissiveFactor[1])
	off = putF32(buf, off, l.EmissiveFactor[2])
	off = putI32(buf, off, l.EmissiveTexture)

	off = putF32(buf, off, l.OcclusionStrength)
	off = putI32(buf, off, l.OcclusionTexture)
	off = putF32(buf, off, l.NormalScale)
	off = putI32(buf, off, l.NormalTexture)

	off = putF32(buf, off, l.ClearcoatFactor)
	off = putF32(buf, off, l.ClearcoatRoughness)
	off = putI32(buf, off, int32(l.AlphaMode))
	off = putF32(buf, off, l.Transmission)

	off = putF32(buf, off, l.IOR)
	off = putF32(buf, off, l.Dispersion)
	return off + 8
}

// ToBytes packs the material into a MaterialRecordSize record.
func (m *Material) ToBytes() []byte {
	buf := make([]byte, MaterialRecordSize)
	m.PutBytes(buf)
	return buf
}

// PutBytes writes the record into buf, which must hold MaterialRecordSize bytes.
func (m *Material) PutBytes(buf []byte) {
	off := m.MaterialLayer.put(buf, 0)
	off = m.Layer2.put(buf, off)
	off = putF32(buf, off, m.Thin)
	off = putF32(buf, off, m.BlendFactor)
	putF32(buf, off, m.LayerThickness)
}
