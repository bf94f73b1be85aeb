package core

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

type LightType uint32

const (
	LightTypePoint LightType = 0
	LightTypeArea  LightType = 1
	LightTypeSun   LightType = 2
)

func (t LightType) String() string {
	switch t {
	case LightTypePoint:
		return "point"
	case LightTypeArea:
		return "area"
	case LightTypeSun:
		return "sun"
	}
	return fmt.Sprintf("LightType(%d)", uint32(t))
}

// ParseLightType maps a config or file name to a LightType.
func ParseLightType(name string) (LightType, error) {
	switch name {
	case "point":
		return LightTypePoint, nil
	case "area":
		return LightTypeArea, nil
	case "sun", "directional":
		return LightTypeSun, nil
	}
	return 0, fmt.Errorf("unknown light type %q", name)
}

// Light is an explicitly authored light, separate from emissive geometry.
//
// GPU layout (64 bytes):
//
//	position : vec4<f32>   xyz, w = type
//	direction : vec4<f32>  xyz, w = intensity
//	color : vec4<f32>      rgb, w = 0
//	extent : vec4<f32>     xyz, w = 0
type Light struct {
	Type      LightType
	Color     mgl32.Vec3
	Intensity float32
	Position  mgl32.Vec3
	Direction mgl32.Vec3
	Extent    mgl32.Vec3 // area lights: half sizes along the light's local axes
}

const LightRecordSize = 64

func (l *Light) PutBytes(buf []byte) {
	off := putVec3Padded(buf, 0, l.Position, float32(l.Type))
	off = putVec3Padded(buf, off, l.Direction, l.Intensity)
	off = putVec3Padded(buf, off, l.Color, 0)
	putVec3Padded(buf, off, l.Extent, 0)
}

func (l *Light) ToBytes() []byte {
	buf := make([]byte, LightRecordSize)
	l.PutBytes(buf)
	return buf
}

// LightTriangle is one world-space emissive triangle used for light sampling.
// Every vec3 is padded to 16 bytes.
type LightTriangle struct {
	V0, V1, V2 mgl32.Vec3
	Emission   mgl32.Vec3
}

const LightTriangleSize = 64

func (t *LightTriangle) PutBytes(buf []byte) {
	off := putVec3Padded(buf, 0, t.V0, 0)
	off = putVec3Padded(buf, off, t.V1, 0)
	off = putVec3Padded(buf, off, t.V2, 0)
	putVec3Padded(buf, off, t.Emission, 0)
}
