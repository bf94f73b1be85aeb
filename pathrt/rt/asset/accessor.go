package asset

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/gekko3d/pathtrace/pathrt/rt/core"

	"github.com/go-gl/mathgl/mgl32"
)

var (
	ErrMissingAttribute     = errors.New("asset: missing required attribute")
	ErrUnsupportedIndexType = errors.New("asset: unsupported index component type")
	ErrUnsupportedComponent = errors.New("asset: unsupported component type")
	ErrAccessorRange        = errors.New("asset: accessor reads past its data")
	ErrSparseAccessor       = errors.New("asset: sparse accessors are not supported")
)

func (a *Accessor) elementSize() int {
	return a.Components * a.ComponentType.Size()
}

// stride returns the byte distance between elements. A zero stride means
// tight packing; a stride smaller than one element is replaced by tight
// packing with a warning.
func (a *Accessor) stride(log core.Logger) int {
	elem := a.elementSize()
	if a.ByteStride == 0 {
		return elem
	}
	if a.ByteStride < elem {
		log.Warnf("Accessor stride %d is smaller than its %d-byte element, using tight packing", a.ByteStride, elem)
		return elem
	}
	return a.ByteStride
}

func (a *Accessor) check(log core.Logger) (int, error) {
	if a.Sparse {
		return 0, ErrSparseAccessor
	}
	if a.ComponentType.Size() == 0 {
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedComponent, a.ComponentType)
	}
	stride := a.stride(log)
	if a.Count > 0 {
		end := (a.Count-1)*stride + a.elementSize()
		if end > len(a.Data) {
			return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrAccessorRange, end, len(a.Data))
		}
	}
	return stride, nil
}

// component reads one component as float, applying integer normalization
// when the accessor is normalized.
func (a *Accessor) component(off int) float32 {
	d := a.Data[off:]
	switch a.ComponentType {
	case ComponentFloat:
		return math.Float32frombits(binary.LittleEndian.Uint32(d))
	case ComponentByte:
		v := float32(int8(d[0]))
		if a.Normalized {
			return max(v/127, -1)
		}
		return v
	case ComponentUnsignedByte:
		v := float32(d[0])
		if a.Normalized {
			return v / 255
		}
		return v
	case ComponentShort:
		v := float32(int16(binary.LittleEndian.Uint16(d)))
		if a.Normalized {
			return max(v/32767, -1)
		}
		return v
	case ComponentUnsignedShort:
		v := float32(binary.LittleEndian.Uint16(d))
		if a.Normalized {
			return v / 65535
		}
		return v
	case ComponentUnsignedInt:
		return float32(binary.LittleEndian.Uint32(d))
	}
	return 0
}

// readFloats returns Count elements of n components each. Components the
// accessor lacks are zero.
func (a *Accessor) readFloats(n int, log core.Logger) ([][4]float32, error) {
	stride, err := a.check(log)
	if err != nil {
		return nil, err
	}
	size := a.ComponentType.Size()
	out := make([][4]float32, a.Count)
	for i := 0; i < a.Count; i++ {
		base := i * stride
		for c := 0; c < n && c < a.Components; c++ {
			out[i][c] = a.component(base + c*size)
		}
	}
	return out, nil
}

func ReadVec3s(a *Accessor, log core.Logger) ([]mgl32.Vec3, error) {
	raw, err := a.readFloats(3, core.OrNop(log))
	if err != nil {
		return nil, err
	}
	out := make([]mgl32.Vec3, len(raw))
	for i, v := range raw {
		out[i] = mgl32.Vec3{v[0], v[1], v[2]}
	}
	return out, nil
}

func ReadVec2s(a *Accessor, log core.Logger) ([]mgl32.Vec2, error) {
	raw, err := a.readFloats(2, core.OrNop(log))
	if err != nil {
		return nil, err
	}
	out := make([]mgl32.Vec2, len(raw))
	for i, v := range raw {
		out[i] = mgl32.Vec2{v[0], v[1]}
	}
	return out, nil
}

func ReadVec4s(a *Accessor, log core.Logger) ([]mgl32.Vec4, error) {
	raw, err := a.readFloats(4, core.OrNop(log))
	if err != nil {
		return nil, err
	}
	out := make([]mgl32.Vec4, len(raw))
	for i, v := range raw {
		out[i] = mgl32.Vec4(v)
	}
	return out, nil
}

// ReadIndices normalizes an 8, 16 or 32-bit unsigned index accessor to
// uint32.
func ReadIndices(a *Accessor, log core.Logger) ([]uint32, error) {
	switch a.ComponentType {
	case ComponentUnsignedByte, ComponentUnsignedShort, ComponentUnsignedInt:
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedIndexType, a.ComponentType)
	}
	if a.Components != 1 {
		return nil, fmt.Errorf("%w: index accessor has %d components", ErrUnsupportedIndexType, a.Components)
	}
	stride, err := a.check(core.OrNop(log))
	if err != nil {
		return nil, err
	}

	out := make([]uint32, a.Count)
	for i := range out {
		d := a.Data[i*stride:]
		switch a.ComponentType {
		case ComponentUnsignedByte:
			out[i] = uint32(d[0])
		case ComponentUnsignedShort:
			out[i] = uint32(binary.LittleEndian.Uint16(d))
		case ComponentUnsignedInt:
			out[i] = binary.LittleEndian.Uint32(d)
		}
	}
	return out, nil
}
