package asset

import (
	"github.com/go-gl/mathgl/mgl32"
)

// ComponentType values are the GL enums used by glTF accessors.
type ComponentType uint32

const (
	ComponentByte          ComponentType = 5120
	ComponentUnsignedByte  ComponentType = 5121
	ComponentShort         ComponentType = 5122
	ComponentUnsignedShort ComponentType = 5123
	ComponentUnsignedInt   ComponentType = 5125
	ComponentFloat         ComponentType = 5126
)

// Size is the byte size of one component, 0 for unknown types.
func (c ComponentType) Size() int {
	switch c {
	case ComponentByte, ComponentUnsignedByte:
		return 1
	case ComponentShort, ComponentUnsignedShort:
		return 2
	case ComponentUnsignedInt, ComponentFloat:
		return 4
	}
	return 0
}

// Accessor is a typed, strided view into attribute data. Data starts at the
// first element. ByteStride 0 means tightly packed.
type Accessor struct {
	ComponentType ComponentType
	Components    int // 1 for SCALAR through 4 for VEC4
	Count         int
	ByteStride    int
	Normalized    bool
	Sparse        bool
	Data          []byte
}

// Attribute names read from primitives.
const (
	AttrPosition  = "POSITION"
	AttrNormal    = "NORMAL"
	AttrTangent   = "TANGENT"
	AttrTexCoord0 = "TEXCOORD_0"
)

type PrimitiveMode uint8

const (
	ModePoints PrimitiveMode = iota
	ModeLines
	ModeLineLoop
	ModeLineStrip
	ModeTriangles
	ModeTriangleStrip
	ModeTriangleFan
)

type Primitive struct {
	Attributes map[string]*Accessor
	Indices    *Accessor
	Material   int // -1 when unassigned
	Mode       PrimitiveMode
}

type Mesh struct {
	Name       string
	Primitives []Primitive
}

// Node is one element of the scene hierarchy. A nil Matrix means the local
// transform comes from the TRS fields; nil TRS fields take their defaults.
type Node struct {
	Name     string
	Mesh     int // -1 when none
	Light    int // -1 when none
	Children []int

	Matrix      *mgl32.Mat4
	Translation *mgl32.Vec3
	Rotation    *mgl32.Quat
	Scale       *mgl32.Vec3
}

// MaterialDesc is a material block as written in the file. Texture fields
// are indices into Source.Textures, -1 for none.
type MaterialDesc struct {
	Name string

	BaseColorFactor          mgl32.Vec4
	BaseColorTexture         int
	MetallicFactor           float32
	RoughnessFactor          float32
	MetallicRoughnessTexture int
	EmissiveFactor           mgl32.Vec3
	EmissiveTexture          int
	EmissiveStrength         float32
	OcclusionStrength        float32
	OcclusionTexture         int
	NormalScale              float32
	NormalTexture            int
	AlphaMode                string

	Transmission       float32
	IOR                float32
	ClearcoatFactor    float32
	ClearcoatRoughness float32
	Dispersion         float32
}

// NewMaterialDesc returns a block holding the glTF defaults.
func NewMaterialDesc(name string) MaterialDesc {
	return MaterialDesc{
		Name:                     name,
		BaseColorFactor:          mgl32.Vec4{1, 1, 1, 1},
		BaseColorTexture:         -1,
		MetallicFactor:           1,
		RoughnessFactor:          1,
		MetallicRoughnessTexture: -1,
		EmissiveTexture:          -1,
		EmissiveStrength:         1,
		OcclusionStrength:        1,
		OcclusionTexture:         -1,
		NormalScale:              1,
		NormalTexture:            -1,
		AlphaMode:                "OPAQUE",
		IOR:                      1.5,
	}
}

// TextureDesc points at the image a texture samples, -1 for none.
type TextureDesc struct {
	Image int
}

// ImageDesc holds encoded image bytes (PNG, JPEG, ...).
type ImageDesc struct {
	Name     string
	MimeType string
	Data     []byte
}

// LightDesc is a KHR_lights_punctual light. Type is "point", "spot" or
// "directional".
type LightDesc struct {
	Name      string
	Type      string
	Color     mgl32.Vec3
	Intensity float32
}

// Source is a decoded scene description, independent of the container
// format.
type Source struct {
	Roots     []int
	Nodes     []Node
	Meshes    []Mesh
	Materials []MaterialDesc
	Textures  []TextureDesc
	Images    []ImageDesc
	Lights    []LightDesc
}
