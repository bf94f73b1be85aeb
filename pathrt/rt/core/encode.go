package core

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Little-endian writers used by the fixed-layout GPU records. Each one writes
// at buf[off:] and returns the offset just past what it wrote.

func putF32(buf []byte, off int, v float32) int {
	binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
	return off + 4
}

func putI32(buf []byte, off int, v int32) int {
	binary.LittleEndian.PutUint32(buf[off:], uint32(v))
	return off + 4
}

func putVec3Padded(buf []byte, off int, v mgl32.Vec3, w float32) int {
	off = putF32(buf, off, v[0])
	off = putF32(buf, off, v[1])
	off = putF32(buf, off, v[2])
	return putF32(buf, off, w)
}

func putVec4(buf []byte, off int, v mgl32.Vec4) int {
	for i := 0; i < 4; i++ {
		off = putF32(buf, off, v[i])
	}
	return off
}

// PutFloat32 writes v at buf[off:].
func PutFloat32(buf []byte, off int, v float32) {
	putF32(buf, off, v)
}

// Float32At decodes the float stored at buf[off:].
func Float32At(buf []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
}

// Int32At decodes the int32 stored at buf[off:].
func Int32At(buf []byte, off int) int32 {
	return int32(binary.LittleEndian.Uint32(buf[off:]))
}

// Vec3At decodes three consecutive floats starting at buf[off:].
func Vec3At(buf []byte, off int) mgl32.Vec3 {
	return mgl32.Vec3{Float32At(buf, off), Float32At(buf, off+4), Float32At(buf, off+8)}
}

// Vec3sToBytes packs each vector as a vec4 with the given w, the std430
// stride of vec3 arrays.
func Vec3sToBytes(vs []mgl32.Vec3, w float32) []byte {
	out := make([]byte, len(vs)*16)
	for i, v := range vs {
		putVec3Padded(out, i*16, v, w)
	}
	return out
}

func Vec4sToBytes(vs []mgl32.Vec4) []byte {
	out := make([]byte, len(vs)*16)
	for i, v := range vs {
		putVec4(out, i*16, v)
	}
	return out
}

func Vec2sToBytes(vs []mgl32.Vec2) []byte {
	out := make([]byte, len(vs)*8)
	for i, v := range vs {
		off := putF32(out, i*8, v[0])
		putF32(out, off, v[1])
	}
	return out
}

func Uint32sToBytes(vs []uint32) []byte {
	out := make([]byte, len(vs)*4)
	for i, v := range vs {
		binary.LittleEndian.PutUint32(out[i*4:], v)
	}
	return out
}
